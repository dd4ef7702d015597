package crawlers

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
)

// DefaultBlockedKeywords 界面素材关键字: 命中的URL不是内容照片
var DefaultBlockedKeywords = []string{"logo", "icon", "marker", "branding", "/maps/vt/"}

// HostRule 允许的内容分发域名规则
type HostRule struct {
	HostSuffix   string // 主机名后缀匹配
	HostContains string // 主机名包含匹配
	PathPrefix   string // 可选的路径前缀
	Kind         models.ImageKind
}

func (r HostRule) match(host, path string) bool {
	switch {
	case r.HostSuffix != "":
		if host != r.HostSuffix && !strings.HasSuffix(host, "."+r.HostSuffix) {
			return false
		}
	case r.HostContains != "":
		if !strings.Contains(host, r.HostContains) {
			return false
		}
	default:
		return false
	}
	return r.PathPrefix == "" || strings.HasPrefix(path, r.PathPrefix)
}

// DefaultHostRules 用户照片CDN、静态内容CDN、街景CDN与缩略图接口
var DefaultHostRules = []HostRule{
	{HostContains: "streetviewpixels", Kind: models.KindStreetView},
	{HostSuffix: "googleapis.com", PathPrefix: "/v1/thumbnail", Kind: models.KindStreetView},
	{HostSuffix: "googleusercontent.com", Kind: models.KindPhoto},
	{HostSuffix: "ggpht.com", Kind: models.KindPhoto},
}

const (
	// LargeSizeToken 照片升级后的尺寸参数
	LargeSizeToken = "w2048-h2048"
	// streetViewLarge 街景升级后的宽高
	streetViewLargeW = "1200"
	streetViewLargeH = "600"
)

var (
	// smallSizeToken 紧跟 = 的 s0 / w48 / h48 (图标级渲染)
	smallSizeToken = regexp.MustCompile(`=(s0|w48|h48)(?:[^0-9]|$)`)

	// streetViewSmallTokens 街景缩略图的小尺寸片段
	streetViewSmallTokens = []string{"w203-h100", "w408-h200"}
	streetViewSmallPairs  = [][2]string{{"203", "100"}, {"408", "200"}}
)

// Candidate 通过分类并升级后的图片URL
type Candidate struct {
	URL      string
	Original string
	Kind     models.ImageKind
}

// Classifier 判断候选URL是否为内容照片并改写为高分辨率版本
type Classifier struct {
	BlockedKeywords []string
	HostRules       []HostRule
}

// NewClassifier 使用默认规则创建分类器
func NewClassifier() *Classifier {
	return &Classifier{
		BlockedKeywords: DefaultBlockedKeywords,
		HostRules:       DefaultHostRules,
	}
}

// Classify 返回升级后的候选; 第二个返回值为 false 表示拒绝
func (c *Classifier) Classify(raw string) (Candidate, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Candidate{}, false
	}

	host := strings.ToLower(u.Hostname())
	rest := strings.ToLower(u.EscapedPath())
	if u.RawQuery != "" {
		rest += "?" + strings.ToLower(u.RawQuery)
	}

	for _, kw := range c.BlockedKeywords {
		if strings.Contains(rest, kw) {
			return Candidate{}, false
		}
	}

	kind, ok := c.matchHost(host, u.Path)
	if !ok {
		return Candidate{}, false
	}

	if i := strings.Index(rest, "="); i >= 0 && smallSizeToken.MatchString(rest[i:]) {
		return Candidate{}, false
	}

	return Candidate{URL: Upgrade(raw, kind), Original: raw, Kind: kind}, true
}

func (c *Classifier) matchHost(host, path string) (models.ImageKind, bool) {
	for _, rule := range c.HostRules {
		if rule.match(host, path) {
			return rule.Kind, true
		}
	}
	return "", false
}

// Upgrade 将URL改写为更大的渲染尺寸; 无法识别尺寸参数时原样返回
//
//	https://lh5.googleusercontent.com/p/AF1Q=w408-h306-k-no -> https://lh5.googleusercontent.com/p/AF1Q=w2048-h2048
//	...thumbnail?panoid=x&w=203&h=100 -> ...thumbnail?panoid=x&w=1200&h=600
func Upgrade(raw string, kind models.ImageKind) string {
	if kind == models.KindStreetView {
		return upgradeStreetView(raw)
	}

	eq := strings.Index(raw, "=")
	if eq <= 0 {
		return raw
	}
	if q := strings.Index(raw, "?"); q >= 0 && q < eq {
		// 等号只出现在查询串中,不是尺寸后缀
		return raw
	}
	return raw[:eq] + "=" + LargeSizeToken
}

func upgradeStreetView(raw string) string {
	for _, token := range streetViewSmallTokens {
		if strings.Contains(raw, token) {
			return strings.ReplaceAll(raw, token, "w"+streetViewLargeW+"-h"+streetViewLargeH)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, pair := range streetViewSmallPairs {
		if q.Get("w") == pair[0] && q.Get("h") == pair[1] {
			q.Set("w", streetViewLargeW)
			q.Set("h", streetViewLargeH)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return raw
}
