// Package browsertest 提供脚本化的 browser.Page 实现,用于在没有真实浏览器时测试发现流程
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
)

// Element 脚本化元素
type Element struct {
	Attrs    map[string]string
	Label    string
	AttrErr  error
	ClickErr error
	OnClick  func()

	mu     sync.Mutex
	clicks int
}

// Image 创建带 src 的图片元素
func Image(src string) *Element {
	return &Element{Attrs: map[string]string{"src": src}}
}

// Button 创建带文本的按钮元素
func Button(label string) *Element {
	return &Element{Attrs: map[string]string{}, Label: label}
}

// Clicks 被点击的次数
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if e.AttrErr != nil {
		return "", false, e.AttrErr
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.Label, nil
}

func (e *Element) Click(ctx context.Context) error {
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	if e.OnClick != nil {
		e.OnClick()
	}
	return nil
}

// Page 脚本化页面
//
// Selectors 中的元素对 WaitElement 与 QueryAll 立即可见;
// ImageBatches[0] 初始可见,之后每次 ScrollBy 额外显露一批图片;
// Hangs 中的 selector 在 QueryAll 时一直阻塞到 ctx 结束
type Page struct {
	Selectors    map[string][]*Element
	ImageBatches [][]string

	NavigateErr error
	ScrollErr   error
	QueryErrs   map[string]error
	Hangs       map[string]bool

	mu          sync.Mutex
	scrolls     int
	navigations []string
	submitted   map[string]string
	scripts     []string
	closes      int
}

// NewPage 创建空页面
func NewPage() *Page {
	return &Page{
		Selectors: make(map[string][]*Element),
		QueryErrs: make(map[string]error),
		Hangs:     make(map[string]bool),
		submitted: make(map[string]string),
	}
}

// With 为 selector 添加元素
func (p *Page) With(selector string, els ...*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Selectors[selector] = append(p.Selectors[selector], els...)
	return p
}

// Set 替换 selector 的全部元素 (模拟面板内容切换)
func (p *Page) Set(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Selectors[selector] = els
}

// WithImages 追加一批滚动后出现的图片
func (p *Page) WithImages(srcs ...string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ImageBatches = append(p.ImageBatches, srcs)
	return p
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if p.NavigateErr != nil {
		return fmt.Errorf("%w: %w", browser.ErrSessionFailure, p.NavigateErr)
	}
	return nil
}

func (p *Page) WaitElement(ctx context.Context, selector string, timeout time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.QueryErrs[selector]; err != nil {
		return nil, err
	}
	if els := p.Selectors[selector]; len(els) > 0 {
		return els[0], nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
}

func (p *Page) FillAndSubmit(ctx context.Context, selector, text string) error {
	if _, err := p.WaitElement(ctx, selector, 0); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted[selector] = text
	return nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	hang := p.Hangs[selector]
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.QueryErrs[selector]; err != nil {
		return nil, err
	}

	var result []browser.Element
	for _, el := range p.Selectors[selector] {
		result = append(result, el)
	}
	if selector == "img" {
		for i, batch := range p.ImageBatches {
			if i > p.scrolls {
				break
			}
			for _, src := range batch {
				result = append(result, Image(src))
			}
		}
	}
	return result, nil
}

func (p *Page) ScrollBy(ctx context.Context, dy int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScrollErr != nil {
		return p.ScrollErr
	}
	p.scrolls++
	return nil
}

func (p *Page) Evaluate(ctx context.Context, js string, args ...interface{}) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, js)
	return "true", nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Scrolls 主视口滚动次数
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

// Navigations 已导航的URL
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Submitted 在 selector 提交的文本
func (p *Page) Submitted(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted[selector]
}

// Closes Close 被调用的次数
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Provider 总是返回同一个页面的 Provider
type Provider struct {
	Page       *Page
	AcquireErr error

	mu       sync.Mutex
	acquires int
}

func (p *Provider) Acquire(ctx context.Context) (browser.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	p.acquires++
	return p.Page, nil
}

func (p *Provider) Close() error { return nil }

// Acquires Acquire 成功的次数
func (p *Provider) Acquires() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}
