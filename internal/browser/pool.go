package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// resourceWaitInterval 资源不足时重新检查的间隔
const resourceWaitInterval = 2 * time.Second

// Pool 共享一个浏览器进程,为每个会话租出独立的隐身上下文
// 同时在用的上下文数量受 size 与资源监控器限制
type Pool struct {
	opts    Options
	monitor *ResourceMonitor
	slots   chan struct{}

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	active   int
	closed   bool
}

// NewPool 创建会话池; size <= 0 时由 monitor 计算
func NewPool(opts Options, size int, monitor *ResourceMonitor) *Pool {
	if size <= 0 {
		size = 1
		if monitor != nil {
			size = monitor.CalculateMaxSessions()
		}
	}
	utils.Infof("🧭 浏览器会话池大小: %d", size)
	return &Pool{
		opts:    opts.withDefaults(),
		monitor: monitor,
		slots:   make(chan struct{}, size),
	}
}

// Size 会话池容量
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Active 当前租出的会话数
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Acquire 等待空闲名额与足够资源,返回新的隐身页面
func (p *Pool) Acquire(ctx context.Context) (Page, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := p.waitForResources(ctx); err != nil {
		<-p.slots
		return nil, err
	}

	page, incognito, err := p.newSessionPage()
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	release := func() error {
		err := incognito.Close()
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		<-p.slots
		if err != nil {
			return fmt.Errorf("关闭隐身上下文失败: %w", err)
		}
		return nil
	}
	return newRodPage(page, p.opts.PageTimeout, release), nil
}

// waitForResources 资源不足时等待; 池中没有其他会话时仍然放行,避免永久阻塞
func (p *Pool) waitForResources(ctx context.Context) error {
	if p.monitor == nil {
		return nil
	}
	for {
		ok, reason := p.monitor.CheckResourceAvailability()
		if ok || p.Active() == 0 {
			if !ok {
				utils.Warnf("⚠️  %s,仍启动唯一会话", reason)
			}
			return nil
		}
		utils.Warnf("⏳ %s,等待其他会话释放", reason)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resourceWaitInterval):
			p.monitor.Refresh()
		}
	}
}

// newSessionPage 在共享浏览器中创建隐身上下文与页面; 浏览器失联时重新启动一次
func (p *Pool) newSessionPage() (*rod.Page, *rod.Browser, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		b, err := p.ensureBrowser()
		if err != nil {
			return nil, nil, err
		}

		incognito, err := b.Incognito()
		if err != nil {
			lastErr = err
			utils.Warnf("⚠️  创建隐身上下文失败,浏览器可能已崩溃,重新启动: %v", err)
			p.resetBrowser()
			continue
		}

		page, err := preparePage(incognito, p.opts)
		if err != nil {
			_ = incognito.Close()
			return nil, nil, sessionErr("准备页面失败", err)
		}
		return page, incognito, nil
	}
	return nil, nil, sessionErr("创建隐身上下文失败", lastErr)
}

func (p *Pool) ensureBrowser() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.browser != nil {
		return p.browser, nil
	}

	b, l, err := launchBrowser(context.Background(), p.opts)
	if err != nil {
		return nil, err
	}
	p.browser, p.launcher = b, l
	return b, nil
}

func (p *Pool) resetBrowser() {
	p.mu.Lock()
	b, l := p.browser, p.launcher
	p.browser, p.launcher = nil, nil
	p.mu.Unlock()

	if b != nil {
		_ = b.Close()
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
}

// Close 关闭共享浏览器; 之后的 Acquire 返回 ErrProviderClosed
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	b, l := p.browser, p.launcher
	p.browser, p.launcher = nil, nil
	p.mu.Unlock()

	var errs []error
	if b != nil {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭浏览器失败: %w", err))
		}
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
	utils.Info("浏览器会话池已关闭")
	return errors.Join(errs...)
}
