package crawlers

import (
	"context"
	"strings"
	"time"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
)

// 页面上的固定选择器
const (
	SearchInputSelector      = `input#searchboxinput`
	ResultIndicatorSelector  = `[role="main"]`
	ResultLinkSelector       = `a[href*="/maps/place/"]`
	ImageSelector            = `img`
	NextButtonSelector       = `button[aria-label*="Next"], button[aria-label*="next"]`
	GalleryContainerSelector = `[role="dialog"], .gallery, [class*="photo"]`
)

// Locator 元素定位策略: CSS 选择器,可选按文本过滤
type Locator struct {
	Name     string
	Selector string
	Text     string // 非空时要求元素文本或 aria-label 包含该值(不区分大小写)
}

// ThumbnailLocators 照片缩略图定位策略,按优先级排列
var ThumbnailLocators = []Locator{
	{Name: "照片按钮(jsaction)", Selector: `button[jsaction*="photo"]`},
	{Name: "照片按钮(Photo)", Selector: `button[aria-label*="Photo"]`},
	{Name: "照片按钮(photo)", Selector: `button[aria-label*="photo"]`},
	{Name: "照片按钮(Ảnh)", Selector: `button[aria-label*="Ảnh"]`},
	{Name: "照片链接", Selector: `a[href*="photo"]`},
	{Name: "图片角色", Selector: `[role="img"]`},
	{Name: "用户照片", Selector: `img[src*="googleusercontent"]`},
}

// PhotosTabLocators 缩略图都不可点击时尝试的"照片"标签页
var PhotosTabLocators = []Locator{
	{Name: "Photos按钮", Selector: `button[aria-label*="Photo"]`},
	{Name: "Ảnh按钮", Selector: `button[aria-label*="Ảnh"]`},
	{Name: "Photos标签", Selector: `[role="tab"]`, Text: "Photos"},
	{Name: "Ảnh标签", Selector: `[role="tab"]`, Text: "Ảnh"},
}

// ThumbnailSkipKeywords 缩略图 src 含有这些词时跳过
var ThumbnailSkipKeywords = []string{"logo", "icon", "marker", "streetview"}

// GalleryScrollJS 在图库或对话框容器内滚动; 找不到容器返回 false
const GalleryScrollJS = `(selector, dy) => {
	const el = document.querySelector(selector);
	if (!el) return false;
	el.scrollBy(0, dy);
	return true;
}`

// thumbnailOutcome 单个缩略图的处理结果,元素错误一律视为未匹配
type thumbnailOutcome int

const (
	outcomeNoMatch thumbnailOutcome = iota
	outcomeSkipped
	outcomeClicked
)

func (o thumbnailOutcome) String() string {
	switch o {
	case outcomeClicked:
		return "clicked"
	case outcomeSkipped:
		return "skipped"
	}
	return "no-match"
}

// resolve 返回 loc 在当前页面上的第一个匹配元素; 任何错误都视为没有匹配
func (loc Locator) resolve(ctx context.Context, page browser.Page, timeout time.Duration) (browser.Element, bool) {
	first, err := page.WaitElement(ctx, loc.Selector, timeout)
	if err != nil {
		return nil, false
	}
	if loc.Text == "" {
		return first, true
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	els, err := page.QueryAll(qctx, loc.Selector)
	if err != nil {
		return nil, false
	}
	want := strings.ToLower(loc.Text)
	for _, el := range els {
		if text, err := el.Text(qctx); err == nil && strings.Contains(strings.ToLower(text), want) {
			return el, true
		}
		if label, ok, err := el.Attribute(qctx, "aria-label"); err == nil && ok && strings.Contains(strings.ToLower(label), want) {
			return el, true
		}
	}
	return nil, false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
