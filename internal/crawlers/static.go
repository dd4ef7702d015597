package crawlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// ErrFetchFailed 搜索结果页无法获取
var ErrFetchFailed = errors.New("获取搜索页面失败")

var (
	// embeddedImagePattern 内联脚本与JSON中出现的图片CDN地址
	embeddedImagePattern = regexp.MustCompile(`https?://[a-zA-Z0-9.-]*(?:googleusercontent\.com|ggpht\.com|googleapis\.com)/[^"'\s<>\\\])]*`)

	jsonEscapes = strings.NewReplacer(`\u003d`, "=", `\u0026`, "&", `\/`, "/", `\u002f`, "/")
)

// StaticDiscoverer 不启动浏览器,抓取搜索结果页的HTML并提取其中的图片URL
// 适用于无法运行 Chromium 的环境; 只能看到首屏内嵌的图片
type StaticDiscoverer struct {
	cfg        models.CrawlConfig
	classifier *Classifier
	headers    models.HeaderProvider
	transport  http.RoundTripper
}

// NewStaticDiscoverer 创建静态发现器; headers 可以为 nil
func NewStaticDiscoverer(cfg models.CrawlConfig, classifier *Classifier, headers models.HeaderProvider) *StaticDiscoverer {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &StaticDiscoverer{cfg: cfg, classifier: classifier, headers: headers}
}

// WithTransport 替换底层 HTTP Transport
func (s *StaticDiscoverer) WithTransport(rt http.RoundTripper) *StaticDiscoverer {
	s.transport = rt
	return s
}

// SearchURL 地点搜索页地址
func SearchURL(baseURL, location string) string {
	return strings.TrimRight(baseURL, "/") + "/search/" + url.PathEscape(strings.TrimSpace(location))
}

// Discover 获取 location 的搜索页并返回最多 maxImages 个图片URL
func (s *StaticDiscoverer) Discover(ctx context.Context, location string, maxImages int) (*DiscoveryResult, error) {
	if maxImages <= 0 {
		maxImages = s.cfg.MaxImages
	}
	target := SearchURL(s.cfg.BaseURL, location)
	utils.Infof("🌐 [%s] 静态抓取: %s", StateSearching, target)

	acc := NewAccumulator(maxImages)
	result := &DiscoveryResult{State: StateSearching}

	c := colly.NewCollector(colly.StdlibContext(ctx))
	if s.cfg.PageTimeout > 0 {
		c.SetRequestTimeout(s.cfg.PageTimeout)
	}
	if s.transport != nil {
		c.WithTransport(s.transport)
	}

	c.OnRequest(func(r *colly.Request) {
		s.applyHeaders(r)
		utils.Debugf("访问: %s", r.URL.String())
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("%w: HTTP %d: %w", ErrFetchFailed, r.StatusCode, err)
	})

	c.OnResponse(func(r *colly.Response) {
		start := time.Now()
		for _, raw := range ExtractImageURLs(r.Body) {
			if acc.Full() {
				break
			}
			if cand, ok := s.classifier.Classify(raw); ok {
				acc.Add(cand)
			}
		}
		utils.Debugf("解析 %d 字节用时 %v", len(r.Body), time.Since(start))
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		fetchErr = fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if fetchErr != nil {
		return result, fetchErr
	}

	result.Iterations = 1
	result.URLs = acc.URLs()
	result.Candidates = acc.Candidates()
	result.State = StateScrollBudgetExhausted
	if acc.Full() {
		result.State = StateCapReached
	}
	for _, c := range result.Candidates {
		metrics.DiscoveredURLs.WithLabelValues(string(c.Kind)).Inc()
	}

	utils.Infof("📄 [%s] 静态页面中发现 %d 张", result.State, len(result.URLs))
	return result, nil
}

// applyHeaders 写入合并后的头部
// Accept-Encoding 交给 Transport 协商,这样响应体到达回调时已经解压
func (s *StaticDiscoverer) applyHeaders(r *colly.Request) {
	if s.headers == nil {
		return
	}
	headers, err := s.headers.GetHeaders()
	if err != nil {
		utils.Warnf("获取HTTP头部失败: %v", err)
		return
	}
	for name, values := range headers {
		if len(values) == 0 || http.CanonicalHeaderKey(name) == "Accept-Encoding" {
			continue
		}
		r.Headers.Set(name, values[0])
	}
}

// ExtractImageURLs 按出现顺序返回页面中的候选图片地址(未分类,可能重复)
// 先扫描 <img> 与 og:image,再扫描内联脚本中的转义地址
func ExtractImageURLs(body []byte) []string {
	var urls []string

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, hasAttr := z.TagName()
		if !hasAttr {
			continue
		}
		attrs := make(map[string]string)
		for {
			key, val, more := z.TagAttr()
			attrs[string(key)] = string(val)
			if !more {
				break
			}
		}

		switch string(name) {
		case "img":
			for _, key := range []string{"src", "data-src"} {
				if v := attrs[key]; v != "" {
					urls = append(urls, v)
				}
			}
		case "meta":
			if attrs["property"] == "og:image" || attrs["itemprop"] == "image" {
				if v := attrs["content"]; v != "" {
					urls = append(urls, v)
				}
			}
		}
	}

	unescaped := jsonEscapes.Replace(string(body))
	urls = append(urls, embeddedImagePattern.FindAllString(unescaped, -1)...)
	return urls
}
