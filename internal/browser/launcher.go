package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// newLauncher 构建启动器: 关闭 AutomationControlled 特征,固定窗口大小
func newLauncher(opts Options) *launcher.Launcher {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight)).
		Delete("enable-automation")

	if lang := primaryLanguage(opts.AcceptLanguage); lang != "" {
		l = l.Set("lang", lang)
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	return l
}

// primaryLanguage 取 Accept-Language 的第一项: "vi-VN,vi;q=0.9" -> "vi-VN"
func primaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}

// launchBrowser 启动并连接浏览器; 失败时清理已启动的进程
func launchBrowser(ctx context.Context, opts Options) (*rod.Browser, *launcher.Launcher, error) {
	l := newLauncher(opts).Context(ctx)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, sessionErr("启动浏览器失败", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, nil, sessionErr("连接浏览器失败", err)
	}

	utils.Debugf("浏览器已启动: %s", controlURL)
	return b, l, nil
}

// Launcher 每个会话启动独立浏览器的 Provider
// 页面关闭时依次释放: 页面 → 隐身上下文 → 浏览器 → 启动器进程
type Launcher struct {
	opts Options

	mu     sync.Mutex
	closed bool
}

// NewLauncher 创建单会话 Provider
func NewLauncher(opts Options) *Launcher {
	return &Launcher{opts: opts.withDefaults()}
}

// Acquire 启动浏览器并返回一个已配置的页面
func (l *Launcher) Acquire(ctx context.Context) (Page, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrProviderClosed
	}

	b, lc, err := launchBrowser(ctx, l.opts)
	if err != nil {
		return nil, err
	}

	shutdown := func() error {
		var errs []error
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭浏览器失败: %w", err))
		}
		lc.Kill()
		lc.Cleanup()
		utils.Debugf("浏览器已关闭")
		return errors.Join(errs...)
	}

	incognito, err := b.Incognito()
	if err != nil {
		_ = shutdown()
		return nil, sessionErr("创建隐身上下文失败", err)
	}

	page, err := preparePage(incognito, l.opts)
	if err != nil {
		_ = incognito.Close()
		_ = shutdown()
		return nil, sessionErr("准备页面失败", err)
	}

	release := func() error {
		var errs []error
		if err := incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭隐身上下文失败: %w", err))
		}
		if err := shutdown(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	return newRodPage(page, l.opts.PageTimeout, release), nil
}

// Close 阻止后续 Acquire; 已发放的页面由各自的 Close 释放
func (l *Launcher) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
