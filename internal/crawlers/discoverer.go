package crawlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// State 发现流程所处的阶段
type State string

const (
	StateSearching             State = "SEARCHING"
	StateFound                 State = "FOUND"
	StateNotFound              State = "NOT_FOUND"
	StateGalleryOpening        State = "GALLERY_OPENING"
	StateGalleryOpen           State = "GALLERY_OPEN"
	StateGalleryUnavailable    State = "GALLERY_UNAVAILABLE"
	StateScanning              State = "SCANNING"
	StateCapReached            State = "CAP_REACHED"
	StateScrollBudgetExhausted State = "SCROLL_BUDGET_EXHAUSTED"
)

// defaultElementTimeout 单个元素读取或点击的上限
const defaultElementTimeout = 5 * time.Second

// DiscoveryResult 一次发现的结果
type DiscoveryResult struct {
	URLs          []string
	Candidates    []Candidate
	State         State
	GalleryOpened bool
	Iterations    int
}

// Discoverer 在单个页面上搜索地点、打开图库并滚动收集图片URL
// 页面操作严格串行; 单个元素读取或点击失败不会中断流程
type Discoverer struct {
	cfg          models.CrawlConfig
	classifier   *Classifier
	elementTimeout time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewDiscoverer 创建发现器
func NewDiscoverer(cfg models.CrawlConfig, classifier *Classifier) *Discoverer {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Discoverer{
		cfg:          cfg,
		classifier:   classifier,
		elementTimeout: defaultElementTimeout,
		sleep:        Sleep,
	}
}

// WithSleep 替换等待函数 (测试中跳过真实等待)
func (d *Discoverer) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Discoverer {
	d.sleep = fn
	return d
}

// Sleep 可被 ctx 取消的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sessionFailure 把页面错误包装为会话失败; ctx 本身结束时原样返回 ctx.Err()
// 单个页面操作超时 (ctx 仍有效) 同样算会话失败
func sessionFailure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, browser.ErrSessionFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", browser.ErrSessionFailure, op, err)
}

// bounded 为单个页面操作加上 PageTimeout 上限
func (d *Discoverer) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.PageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.PageTimeout)
}

func (d *Discoverer) queryAll(ctx context.Context, page browser.Page, selector string) ([]browser.Element, error) {
	qctx, cancel := d.bounded(ctx)
	defer cancel()
	return page.QueryAll(qctx, selector)
}

// Search 打开地图首页并搜索 location
// 返回 false, nil 表示地点未找到; 只有导航或页面通信失败才返回错误
func (d *Discoverer) Search(ctx context.Context, page browser.Page, location string) (bool, error) {
	utils.Infof("🔍 [%s] 搜索地点: %s", StateSearching, location)

	if err := page.Navigate(ctx, d.cfg.BaseURL); err != nil {
		return false, sessionFailure(ctx, "打开地图首页失败", err)
	}
	if err := d.sleep(ctx, d.cfg.InitialWait); err != nil {
		return false, err
	}

	if err := page.FillAndSubmit(ctx, SearchInputSelector, location); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			utils.Warnf("⚠️  [%s] 页面上没有搜索框", StateNotFound)
			return false, nil
		}
		return false, sessionFailure(ctx, "提交搜索失败", err)
	}
	if err := d.sleep(ctx, d.cfg.PostSearchWait); err != nil {
		return false, err
	}

	if _, err := page.WaitElement(ctx, ResultIndicatorSelector, d.cfg.ResultTimeout); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			utils.Warnf("❌ [%s] %v 内未出现搜索结果: %s", StateNotFound, d.cfg.ResultTimeout, location)
			return false, nil
		}
		return false, sessionFailure(ctx, "等待搜索结果失败", err)
	}

	if d.cfg.OpenFirstResult && d.cfg.MaxResults <= 1 {
		if err := d.openFirstResult(ctx, page); err != nil {
			return false, err
		}
	}

	utils.Infof("✅ [%s] 已找到地点: %s", StateFound, location)
	return true, nil
}

// openFirstResult 搜索返回结果列表时点击第一个地点
func (d *Discoverer) openFirstResult(ctx context.Context, page browser.Page) error {
	links, err := d.queryAll(ctx, page, ResultLinkSelector)
	if err != nil || len(links) < 2 {
		return ctx.Err()
	}

	utils.Infof("📋 搜索返回 %d 个结果,打开第一个", len(links))
	if d.click(ctx, links[0]) {
		return d.sleep(ctx, d.cfg.InitialWait)
	}
	return ctx.Err()
}

// Discover 打开图库并扫描,返回最多 maxImages 个去重后的URL
func (d *Discoverer) Discover(ctx context.Context, page browser.Page, maxImages int) (*DiscoveryResult, error) {
	if maxImages <= 0 {
		maxImages = d.cfg.MaxImages
	}
	result := &DiscoveryResult{State: StateGalleryOpening}

	opened, err := d.OpenGallery(ctx, page)
	if err != nil {
		return result, err
	}
	result.GalleryOpened = opened

	acc := NewAccumulator(maxImages)
	state, iterations, err := d.Scan(ctx, page, acc, opened)
	result.State = state
	result.Iterations = iterations
	result.URLs = acc.URLs()
	result.Candidates = acc.Candidates()

	for _, c := range result.Candidates {
		metrics.DiscoveredURLs.WithLabelValues(string(c.Kind)).Inc()
	}
	return result, err
}

// DiscoverResults 搜索返回多个结果时依次打开前 MaxResults 个,每个结果分得 maxImages 的均分配额
// 只有一个结果或 MaxResults 为 1 时等同于 Discover
func (d *Discoverer) DiscoverResults(ctx context.Context, page browser.Page, maxImages int) (*DiscoveryResult, error) {
	if maxImages <= 0 {
		maxImages = d.cfg.MaxImages
	}
	if d.cfg.MaxResults <= 1 {
		return d.Discover(ctx, page, maxImages)
	}

	links, err := d.queryAll(ctx, page, ResultLinkSelector)
	if err != nil || len(links) < 2 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &DiscoveryResult{State: StateGalleryOpening}, ctxErr
		}
		return d.Discover(ctx, page, maxImages)
	}

	n := min(len(links), d.cfg.MaxResults)
	quota := (maxImages + n - 1) / n
	utils.Infof("📋 搜索返回 %d 个结果,依次处理前 %d 个 (每个最多 %d 张)", len(links), n, quota)

	acc := NewAccumulator(maxImages)
	result := &DiscoveryResult{State: StateScrollBudgetExhausted}
	for i := 0; i < n && !acc.Full(); i++ {
		// 打开图库后列表元素可能已失效,每次重新查询
		links, err := d.queryAll(ctx, page, ResultLinkSelector)
		if err != nil || i >= len(links) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.merged(result, acc), ctxErr
			}
			utils.Warnf("⚠️  第 %d 个结果已不在页面上,停止", i+1)
			break
		}
		if !d.click(ctx, links[i]) {
			utils.Warnf("⚠️  无法打开第 %d 个结果", i+1)
			continue
		}
		if err := d.sleep(ctx, d.cfg.InitialWait); err != nil {
			return d.merged(result, acc), err
		}

		utils.Infof("📍 处理第 %d/%d 个结果", i+1, n)
		sub, err := d.Discover(ctx, page, min(quota, maxImages-acc.Len()))
		if sub != nil {
			result.GalleryOpened = result.GalleryOpened || sub.GalleryOpened
			result.Iterations += sub.Iterations
			for _, c := range sub.Candidates {
				acc.Add(c)
			}
		}
		if err != nil {
			return d.merged(result, acc), err
		}
	}
	return d.merged(result, acc), nil
}

func (d *Discoverer) merged(result *DiscoveryResult, acc *Accumulator) *DiscoveryResult {
	result.URLs = acc.URLs()
	result.Candidates = acc.Candidates()
	if acc.Full() {
		result.State = StateCapReached
	}
	return result
}

// OpenGallery 依次尝试缩略图策略与"照片"标签页策略
// 返回 false 表示没有图库入口,后续直接扫描主页面
func (d *Discoverer) OpenGallery(ctx context.Context, page browser.Page) (bool, error) {
	utils.Infof("🖼️  [%s] 寻找照片图库", StateGalleryOpening)
	if err := d.sleep(ctx, d.cfg.PreGalleryWait); err != nil {
		return false, err
	}

	for _, loc := range ThumbnailLocators {
		els, err := d.queryAll(ctx, page, loc.Selector)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			utils.Debugf("策略 %s 查询失败: %v", loc.Name, err)
			continue
		}

		limit := min(len(els), d.cfg.ThumbnailsPerStrategy)
		for i, el := range els[:limit] {
			outcome := d.tryThumbnail(ctx, el)
			utils.Debugf("策略 %s 第 %d 个元素: %s", loc.Name, i+1, outcome)
			if outcome == outcomeClicked {
				utils.Infof("📸 [%s] 通过%s打开图库", StateGalleryOpen, loc.Name)
				return true, d.sleep(ctx, d.cfg.GalleryClickWait)
			}
		}
	}

	for _, loc := range PhotosTabLocators {
		el, ok := loc.resolve(ctx, page, d.cfg.TabTimeout)
		if !ok {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if d.click(ctx, el) {
			utils.Infof("📸 [%s] 通过%s打开图库", StateGalleryOpen, loc.Name)
			return true, d.sleep(ctx, d.cfg.TabClickWait)
		}
	}

	utils.Warnf("⚠️  [%s] 未找到图库入口,直接扫描主页面", StateGalleryUnavailable)
	return false, ctx.Err()
}

// tryThumbnail 检查缩略图的 src 并尝试点击
func (d *Discoverer) tryThumbnail(ctx context.Context, el browser.Element) thumbnailOutcome {
	pctx, cancel := context.WithTimeout(ctx, d.elementTimeout)
	defer cancel()

	src, _, err := el.Attribute(pctx, "src")
	if err != nil {
		return outcomeNoMatch
	}
	if containsAny(strings.ToLower(src), ThumbnailSkipKeywords) {
		return outcomeSkipped
	}
	if err := el.Click(pctx); err != nil {
		return outcomeNoMatch
	}
	return outcomeClicked
}

func (d *Discoverer) click(ctx context.Context, el browser.Element) bool {
	pctx, cancel := context.WithTimeout(ctx, d.elementTimeout)
	defer cancel()
	return el.Click(pctx) == nil
}

// Scan 枚举图片、分类并加入 acc,然后滚动; 直到达到上限或用完滚动次数
// 返回结束状态与实际执行的轮数
func (d *Discoverer) Scan(ctx context.Context, page browser.Page, acc *Accumulator, galleryOpen bool) (State, int, error) {
	utils.Infof("🔄 [%s] 开始扫描图片 (最多 %d 轮)", StateScanning, d.cfg.ScrollIterations)

	for i := 0; i < d.cfg.ScrollIterations; i++ {
		if err := ctx.Err(); err != nil {
			return StateScanning, i, err
		}

		imgs, err := d.queryAll(ctx, page, ImageSelector)
		if err != nil {
			return StateScanning, i, sessionFailure(ctx, "枚举图片元素失败", err)
		}
		if i == 0 {
			utils.Infof("🔎 页面上共有 %d 个图片元素", len(imgs))
		}

		for _, img := range imgs {
			if acc.Full() {
				break
			}
			d.collect(ctx, img, acc)
		}
		if acc.Full() {
			utils.Infof("🎯 [%s] 已收集 %d 张", StateCapReached, acc.Len())
			return StateCapReached, i + 1, nil
		}

		if err := d.scroll(ctx, page); err != nil {
			return StateScanning, i + 1, sessionFailure(ctx, "滚动页面失败", err)
		}
		if err := d.sleep(ctx, d.cfg.ActionDelay); err != nil {
			return StateScanning, i + 1, err
		}

		if err := d.scrollGallery(ctx, page); err != nil {
			if ctx.Err() != nil {
				return StateScanning, i + 1, ctx.Err()
			}
			utils.Debugf("图库容器滚动失败: %v", err)
		}

		if galleryOpen {
			if err := d.clickNext(ctx, page); err != nil {
				return StateScanning, i + 1, err
			}
		}
	}

	utils.Infof("📜 [%s] 共发现 %d 张", StateScrollBudgetExhausted, acc.Len())
	return StateScrollBudgetExhausted, d.cfg.ScrollIterations, nil
}

func (d *Discoverer) scroll(ctx context.Context, page browser.Page) error {
	sctx, cancel := d.bounded(ctx)
	defer cancel()
	return page.ScrollBy(sctx, d.cfg.ScrollOffset)
}

func (d *Discoverer) scrollGallery(ctx context.Context, page browser.Page) error {
	ectx, cancel := d.bounded(ctx)
	defer cancel()
	_, err := page.Evaluate(ectx, GalleryScrollJS, GalleryContainerSelector, d.cfg.GalleryScrollOffset)
	return err
}

// collect 读取单个图片的 src 并分类; 读取失败视为未匹配
func (d *Discoverer) collect(ctx context.Context, img browser.Element, acc *Accumulator) {
	pctx, cancel := context.WithTimeout(ctx, d.elementTimeout)
	defer cancel()

	src, ok, err := img.Attribute(pctx, "src")
	if err != nil || !ok || src == "" {
		return
	}
	c, ok := d.classifier.Classify(src)
	if !ok {
		return
	}
	if acc.Add(c) {
		utils.Debugf("  ✓ [%s] %s", c.Kind.Label(), truncate(c.URL, 80))
	}
}

// clickNext 图库打开时点击"下一张"
func (d *Discoverer) clickNext(ctx context.Context, page browser.Page) error {
	buttons, err := d.queryAll(ctx, page, NextButtonSelector)
	if err != nil || len(buttons) == 0 {
		return ctx.Err()
	}
	if d.click(ctx, buttons[0]) {
		return d.sleep(ctx, d.cfg.NextClickWait)
	}
	return ctx.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
