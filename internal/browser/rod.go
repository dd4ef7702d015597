package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// hideWebdriverJS 在每个新文档执行,隐藏 navigator.webdriver
// 必须是语句而不是函数表达式: 新文档脚本只会被求值,不会被调用
const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

func sessionErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSessionFailure, op, err)
}

// rodPage 基于 go-rod 的 Page 实现
type rodPage struct {
	page    *rod.Page
	timeout time.Duration

	// release 在页面关闭后释放其上层资源 (上下文 → 浏览器 → 启动器)
	release   func() error
	closeOnce sync.Once
	closeErr  error
}

func newRodPage(page *rod.Page, timeout time.Duration, release func() error) *rodPage {
	return &rodPage{page: page, timeout: timeout, release: release}
}

// preparePage 在 b 中创建页面并设置 UA、视口与反自动化脚本
func preparePage(b *rod.Browser, opts Options) (*rod.Page, error) {
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	if opts.UserAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: opts.AcceptLanguage,
		})
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("设置User-Agent失败: %w", err)
		}
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.ViewportWidth,
		Height:            opts.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("设置视口失败: %w", err)
	}

	if _, err := page.EvalOnNewDocument(hideWebdriverJS); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("注入页面脚本失败: %w", err)
	}

	return page, nil
}

// bounded 返回受 p.timeout 限制的页面句柄
func (p *rodPage) bounded(ctx context.Context) (*rod.Page, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	return p.page.Context(tctx), cancel
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pg := p.page.Context(tctx)
	wait := pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := pg.Navigate(url); err != nil {
		return sessionErr("导航到 "+url+" 失败", err)
	}
	wait()

	if err := tctx.Err(); err != nil {
		return sessionErr("等待页面加载超时", err)
	}
	return nil
}

func (p *rodPage) WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.page.Context(tctx).Element(selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}
		return nil, err
	}
	return &rodElement{el: el, timeout: p.timeout}, nil
}

func (p *rodPage) FillAndSubmit(ctx context.Context, selector, text string) error {
	found, err := p.WaitElement(ctx, selector, p.timeout)
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	el := found.(*rodElement).el.Context(tctx)

	if err := el.Input(text); err != nil {
		return fmt.Errorf("输入文本失败: %w", err)
	}
	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("提交失败: %w", err)
	}
	return nil
}

func (p *rodPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	pg, cancel := p.bounded(ctx)
	defer cancel()

	els, err := pg.Elements(selector)
	if err != nil {
		return nil, err
	}
	result := make([]Element, 0, len(els))
	for _, el := range els {
		result = append(result, &rodElement{el: el, timeout: p.timeout})
	}
	return result, nil
}

func (p *rodPage) ScrollBy(ctx context.Context, dy int) error {
	pg, cancel := p.bounded(ctx)
	defer cancel()

	_, err := pg.Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

func (p *rodPage) Evaluate(ctx context.Context, js string, args ...interface{}) (string, error) {
	pg, cancel := p.bounded(ctx)
	defer cancel()

	res, err := pg.Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.JSON("", ""), nil
}

// Close 先关闭页面,再按获取的逆序释放上层资源; 任一步失败都不影响后续释放
func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭页面失败: %w", err))
		}
		if p.release != nil {
			if err := p.release(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// rodElement 基于 go-rod 的 Element 实现,每个操作都受 timeout 限制
type rodElement struct {
	el      *rod.Element
	timeout time.Duration
}

func (e *rodElement) bounded(ctx context.Context) (*rod.Element, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	return e.el.Context(tctx), cancel
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	el, cancel := e.bounded(ctx)
	defer cancel()

	v, err := el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	el, cancel := e.bounded(ctx)
	defer cancel()
	return el.Text()
}

func (e *rodElement) Click(ctx context.Context) error {
	el, cancel := e.bounded(ctx)
	defer cancel()
	return el.Click(proto.InputMouseButtonLeft, 1)
}
