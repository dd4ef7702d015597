// Package browser 封装可控页面能力: 导航、等待元素、填写提交、查询、点击、滚动与执行脚本
//
// 发现逻辑只依赖 Page / Element 接口,go-rod 实现位于 rod.go,
// 测试使用 browsertest 包中的脚本化页面
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrElementNotFound 在超时时间内未出现目标元素
	ErrElementNotFound = errors.New("元素未找到")

	// ErrSessionFailure 浏览器启动、导航或页面通信失败,会话不可继续
	ErrSessionFailure = errors.New("浏览器会话失败")

	// ErrProviderClosed 提供者已关闭
	ErrProviderClosed = errors.New("浏览器已关闭")
)

// Element 页面上的单个元素
type Element interface {
	// Attribute 读取属性; 属性不存在时 ok 为 false
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
}

// Page 单个浏览器上下文中的可控页面
type Page interface {
	// Navigate 打开 url 并等待 DOMContentLoaded
	Navigate(ctx context.Context, url string) error
	// WaitElement 等待 selector 出现,超时返回 ErrElementNotFound
	WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// FillAndSubmit 在 selector 输入 text 并按下回车
	FillAndSubmit(ctx context.Context, selector, text string) error
	// QueryAll 立即返回当前 DOM 中所有匹配元素
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// ScrollBy 垂直滚动主视口
	ScrollBy(ctx context.Context, dy int) error
	// Evaluate 执行函数形式的脚本,返回值的 JSON 表示
	Evaluate(ctx context.Context, js string, args ...interface{}) (string, error)
	// Close 释放页面及其拥有的全部资源,可重复调用
	Close() error
}

// Provider 为每个会话提供独立的页面
type Provider interface {
	Acquire(ctx context.Context) (Page, error)
	Close() error
}

// Options 浏览器启动与页面配置
type Options struct {
	Headless       bool
	Bin            string
	NoSandbox      bool
	UserAgent      string
	AcceptLanguage string
	ViewportWidth  int
	ViewportHeight int
	PageTimeout    time.Duration // 导航与元素操作的上限
}

func (o Options) withDefaults() Options {
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1920
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 1080
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 60 * time.Second
	}
	return o
}
