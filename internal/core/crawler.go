package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/crawlers"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/downloader"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/providers/apify"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/providers/outscraper"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/providers/serpapi"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/storage"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// MetadataFile 接口模式写入报告目录的地点信息
const MetadataFile = "metadata.json"

// PlaceInfo 接口返回的地点
type PlaceInfo struct {
	Provider string `json:"provider"`
	Title    string `json:"title"`
	ID       string `json:"id,omitempty"`
	Address  string `json:"address,omitempty"`
}

// PlaceMetadata 接口模式的 metadata.json
type PlaceMetadata struct {
	Place       *PlaceInfo `json:"place"`
	TotalPhotos int        `json:"total_photos"`
	Downloaded  int        `json:"downloaded"`
}

// discovery 一次发现的内部结果; found 为 false 表示地点不存在
type discovery struct {
	found  bool
	result *crawlers.DiscoveryResult
	place  *PlaceInfo
	total  int
}

// Crawler 单个地点的爬取协调器: 发现 → 下载 → 记录
// 同一个 Crawler 可以被多个 goroutine 同时调用 Crawl
type Crawler struct {
	crawl    models.CrawlConfig
	download models.DownloadConfig
	output   OutputConfig
	exif     bool

	provider   browser.Provider
	discoverer *crawlers.Discoverer
	static     *crawlers.StaticDiscoverer
	serp       *serpapi.Client
	apify      *apify.Client
	outscraper *outscraper.Client
	downloader *downloader.Downloader
	manifest   *storage.Manifest
	reporter   *utils.Reporter

	names *sessionNames
}

// sessionNames 记录本进程已使用的安全名称
// 不同地点清理后同名时追加 _2、_3,避免在同一输出目录中互相覆盖
type sessionNames struct {
	mu    sync.Mutex
	taken map[string]bool
}

func newSessionNames() *sessionNames {
	return &sessionNames{taken: make(map[string]bool)}
}

func (n *sessionNames) claim(safe string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	name := safe
	for i := 2; n.taken[name]; i++ {
		name = fmt.Sprintf("%s_%d", safe, i)
	}
	n.taken[name] = true
	return name
}

// NewCrawler 创建协调器
// provider 只在 dynamic 模式下使用,可以为 nil; headers 用于下载与静态抓取
func NewCrawler(cfg *Config, provider browser.Provider, headers models.HeaderProvider) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dl, err := downloader.New(cfg.Download, headers)
	if err != nil {
		return nil, err
	}

	classifier := crawlers.NewClassifier()
	c := &Crawler{
		crawl:      cfg.Crawl,
		download:   cfg.Download,
		output:     cfg.Output,
		exif:       cfg.Storage.Exif,
		provider:   provider,
		discoverer: crawlers.NewDiscoverer(cfg.Crawl, classifier),
		static:     crawlers.NewStaticDiscoverer(cfg.Crawl, classifier, headers),
		downloader: dl,
		names:      newSessionNames(),
	}
	if cfg.Output.WriteReport {
		c.reporter = utils.NewReporter(cfg.Output.ReportsDir)
	}
	switch {
	case cfg.Crawl.Mode == models.ModeSerpAPI && cfg.SerpAPI.APIKey != "":
		if c.serp, err = serpapi.NewClient(cfg.SerpAPI); err != nil {
			return nil, err
		}
	case cfg.Crawl.Mode == models.ModeApify && cfg.Apify.APIToken != "":
		if c.apify, err = apify.NewClient(cfg.Apify); err != nil {
			return nil, err
		}
	case cfg.Crawl.Mode == models.ModeOutscraper && cfg.Outscraper.APIKey != "":
		if c.outscraper, err = outscraper.NewClient(cfg.Outscraper); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithDiscoverer 替换页面发现器
func (c *Crawler) WithDiscoverer(d *crawlers.Discoverer) *Crawler {
	c.discoverer = d
	return c
}

// WithStaticDiscoverer 替换静态发现器
func (c *Crawler) WithStaticDiscoverer(s *crawlers.StaticDiscoverer) *Crawler {
	c.static = s
	return c
}

// WithDownloader 替换下载器
func (c *Crawler) WithDownloader(d *downloader.Downloader) *Crawler {
	c.downloader = d
	return c
}

// WithSerpAPI 使用已创建的 SerpAPI 客户端
func (c *Crawler) WithSerpAPI(client *serpapi.Client) *Crawler {
	c.serp = client
	return c
}

// WithApify 使用已创建的 Apify 客户端
func (c *Crawler) WithApify(client *apify.Client) *Crawler {
	c.apify = client
	return c
}

// WithOutscraper 使用已创建的 Outscraper 客户端
func (c *Crawler) WithOutscraper(client *outscraper.Client) *Crawler {
	c.outscraper = client
	return c
}

// WithManifest 将会话与图片记录到清单
func (c *Crawler) WithManifest(m *storage.Manifest) *Crawler {
	c.manifest = m
	return c
}

// Crawl 爬取一个地点并把图片保存到 output_dir
//
// 地点不存在时返回 Saved == 0 且 error 为 nil; 部分下载失败只体现在 Saved 与 Failed 中。
// 浏览器会话失败时,页面释放后返回包装了 browser.ErrSessionFailure 的错误
func (c *Crawler) Crawl(ctx context.Context, location string) (*models.CrawlResult, error) {
	session, err := models.NewCrawlSession(location, c.crawl.Mode)
	if err != nil {
		return nil, err
	}
	session.SafeName = c.names.claim(utils.SanitizeFilename(session.Location, utils.DefaultMaxNameLength))
	result := models.NewCrawlResult(session, c.crawl.OutputDir)

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	session.Start()
	c.record(ctx, result)
	utils.Infof("🚀 开始爬取: %s (模式: %s)", session.Location, session.Mode)

	found, err := c.discover(ctx, session.Location)
	if err != nil {
		status := models.SessionStatusFailed
		if ctx.Err() != nil {
			status = models.SessionStatusCancelled
		}
		c.finish(ctx, result, status, err)
		return result, err
	}
	if !found.found {
		utils.Warnf("⚠️  未找到地点: %s", session.Location)
		c.finish(ctx, result, models.SessionStatusNotFound, nil)
		return result, nil
	}

	result.Found = true
	result.GalleryOpened = found.result.GalleryOpened
	result.DiscoveryState = string(found.result.State)
	result.Discovered = len(found.result.Candidates)
	utils.Infof("🔍 发现 %d 个图片URL (%s)", result.Discovered, found.result.State)

	if result.Discovered > 0 {
		if err := utils.EnsureDir(result.OutputDir); err != nil {
			c.finish(ctx, result, models.SessionStatusFailed, err)
			return result, err
		}
		c.downloadAll(ctx, result, found.result.Candidates)
	}

	if found.place != nil {
		c.writeMetadata(result, &PlaceMetadata{Place: found.place, TotalPhotos: found.total, Downloaded: result.Saved})
	}

	if err := ctx.Err(); err != nil {
		c.finish(ctx, result, models.SessionStatusCancelled, err)
		return result, err
	}
	c.finish(ctx, result, models.SessionStatusCompleted, nil)
	utils.Infof("✅ %s: 保存 %d/%d 张图片到 %s", session.Location, result.Saved, result.Discovered, result.OutputDir)
	return result, nil
}

// discover 按模式发现图片URL
func (c *Crawler) discover(ctx context.Context, location string) (*discovery, error) {
	switch c.crawl.Mode {
	case models.ModeStatic:
		res, err := c.static.Discover(ctx, location, c.crawl.MaxImages)
		if err != nil {
			return nil, err
		}
		return &discovery{found: true, result: res}, nil
	case models.ModeSerpAPI:
		return c.discoverSerpAPI(ctx, location)
	case models.ModeApify:
		return c.discoverApify(ctx, location)
	case models.ModeOutscraper:
		return c.discoverOutscraper(ctx, location)
	default:
		return c.discoverDynamic(ctx, location)
	}
}

// discoverDynamic 租用页面完成搜索与扫描,返回前释放页面
func (c *Crawler) discoverDynamic(ctx context.Context, location string) (*discovery, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("%w: 未配置浏览器", browser.ErrSessionFailure)
	}

	page, err := c.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			utils.Warnf("⚠️  释放页面失败: %v", err)
		}
	}()

	found, err := c.discoverer.Search(ctx, page, location)
	if err != nil || !found {
		return &discovery{}, err
	}

	res, err := c.discoverer.DiscoverResults(ctx, page, c.crawl.MaxImages)
	if err != nil {
		return nil, err
	}
	return &discovery{found: true, result: res}, nil
}

// discoverSerpAPI 通过 SerpAPI 查找地点与照片,照片同样经过分类与去重
func (c *Crawler) discoverSerpAPI(ctx context.Context, location string) (*discovery, error) {
	if c.serp == nil {
		return nil, serpapi.ErrMissingAPIKey
	}

	place, err := c.serp.FindPlace(ctx, location)
	if errors.Is(err, serpapi.ErrPlaceNotFound) {
		return &discovery{}, nil
	}
	if err != nil {
		return nil, err
	}

	photos, err := c.serp.Photos(ctx, place.DataID, c.crawl.MaxImages)
	if err != nil && len(photos) == 0 {
		return nil, err
	}
	if err != nil {
		utils.Warnf("⚠️  获取照片未完成,使用已获得的 %d 张: %v", len(photos), err)
	}

	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.Image)
	}
	info := &PlaceInfo{Provider: string(models.ModeSerpAPI), Title: place.Title, ID: place.DataID, Address: place.Address}
	return &discovery{found: true, result: c.classifyURLs(urls), place: info, total: len(photos)}, nil
}

// discoverApify 运行 Apify Actor,使用第一个带照片的地点
func (c *Crawler) discoverApify(ctx context.Context, location string) (*discovery, error) {
	if c.apify == nil {
		return nil, apify.ErrMissingToken
	}

	places, err := c.apify.SearchPlaces(ctx, location, c.crawl.MaxImages)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return &discovery{}, nil
	}

	place := places[0]
	for _, p := range places {
		if len(p.ImageURLs) > 0 {
			place = p
			break
		}
	}
	utils.Infof("📍 Apify 地点: %s (%s), %d 张照片", place.Title, place.Address, len(place.ImageURLs))

	info := &PlaceInfo{Provider: string(models.ModeApify), Title: place.Title, ID: place.PlaceID, Address: place.Address}
	return &discovery{found: true, result: c.classifyURLs(place.ImageURLs), place: info, total: len(place.ImageURLs)}, nil
}

// discoverOutscraper 通过 Outscraper 获取照片; 没有照片视为未找到
func (c *Crawler) discoverOutscraper(ctx context.Context, location string) (*discovery, error) {
	if c.outscraper == nil {
		return nil, outscraper.ErrMissingAPIKey
	}

	place, photos, err := c.outscraper.Photos(ctx, location, c.crawl.MaxImages)
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return &discovery{}, nil
	}

	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.URL())
	}
	info := &PlaceInfo{Provider: string(models.ModeOutscraper), Title: location}
	if place != nil {
		info.Title, info.ID, info.Address = place.Name, place.PlaceID, place.Address
	}
	return &discovery{found: true, result: c.classifyURLs(urls), place: info, total: len(photos)}, nil
}

// classifyURLs 接口返回的地址同样经过分类、升级与去重
func (c *Crawler) classifyURLs(urls []string) *crawlers.DiscoveryResult {
	classifier := crawlers.NewClassifier()
	acc := crawlers.NewAccumulator(c.crawl.MaxImages)
	for _, u := range urls {
		if cand, ok := classifier.Classify(u); ok {
			acc.Add(cand)
		}
		if acc.Full() {
			break
		}
	}

	state := crawlers.StateScrollBudgetExhausted
	if acc.Full() {
		state = crawlers.StateCapReached
	}
	res := &crawlers.DiscoveryResult{
		URLs:       acc.URLs(),
		Candidates: acc.Candidates(),
		State:      state,
		Iterations: 1,
	}
	for _, cand := range res.Candidates {
		metrics.DiscoveredURLs.WithLabelValues(string(cand.Kind)).Inc()
	}
	return res
}

// downloadAll 按发现顺序下载,序号从1开始
func (c *Crawler) downloadAll(ctx context.Context, result *models.CrawlResult, candidates []crawlers.Candidate) {
	safe := result.Session.SafeName
	jobs := make([]downloader.Job, len(candidates))
	for i, cand := range candidates {
		name := downloader.FileName(safe, i+1, downloader.ExtensionFor(cand.URL))
		jobs[i] = downloader.Job{URL: cand.URL, Path: filepath.Join(result.OutputDir, name)}
	}

	for i, res := range c.downloader.DownloadAll(ctx, jobs) {
		index := i + 1
		if !res.Success {
			result.Failed = append(result.Failed, models.FailedPhoto{
				URL:       res.URL,
				Index:     index,
				ErrorType: downloader.ErrorType(res.Err),
				ErrorMsg:  errString(res.Err),
				Retries:   res.Attempts,
			})
			continue
		}

		f := models.NewPhotoFile(res.URL, res.Path, index, candidates[i].Kind)
		f.Hash = res.SHA256
		f.Size = res.Size
		f.Extension = filepath.Ext(res.Path)
		f.ContentType = res.ContentType
		f.Attempts = res.Attempts
		if c.exif {
			tags, err := storage.ReadExif(res.Path)
			if err != nil {
				utils.Debugf("读取EXIF失败 %s: %v", filepath.Base(res.Path), err)
			}
			f.Exif = tags
		}
		c.checkDuplicate(ctx, f)
		result.Files = append(result.Files, *f)
	}
	result.Saved = len(result.Files)
}

// checkDuplicate 清单中已有相同内容时记录日志,文件仍然保留
func (c *Crawler) checkDuplicate(ctx context.Context, f *models.PhotoFile) {
	if c.manifest == nil {
		return
	}
	existing, err := c.manifest.FindByHash(ctx, f.Hash)
	if err != nil {
		utils.Debugf("查询重复图片失败: %v", err)
		return
	}
	if existing != "" && existing != f.FilePath {
		utils.Infof("🔁 %s 与已保存的 %s 内容相同", filepath.Base(f.FilePath), existing)
	}
}

// finish 结束会话,更新清单、报告与指标
func (c *Crawler) finish(ctx context.Context, result *models.CrawlResult, status models.SessionStatus, err error) {
	result.Session.Finish(status, err)
	metrics.SessionsTotal.WithLabelValues(string(result.Session.Mode), string(status)).Inc()

	// 取消后仍需写入最终状态
	recordCtx := context.WithoutCancel(ctx)
	c.record(recordCtx, result)
	if c.manifest != nil {
		for i := range result.Files {
			if err := c.manifest.RecordPhoto(recordCtx, result.Session.ID, &result.Files[i]); err != nil {
				utils.Warnf("⚠️  写入清单失败: %v", err)
			}
		}
	}

	if c.reporter != nil {
		report := models.NewCrawlReport(result, c.crawl, c.download)
		if _, err := c.reporter.GenerateReport(report); err != nil {
			utils.Warnf("⚠️  生成报告失败: %v", err)
		}
	}
}

func (c *Crawler) record(ctx context.Context, result *models.CrawlResult) {
	if c.manifest == nil {
		return
	}
	if err := c.manifest.RecordSession(ctx, result); err != nil {
		utils.Warnf("⚠️  写入清单失败: %v", err)
	}
}

// writeMetadata 写入 {reports_dir}/{safe}/metadata.json,图片目录只保留图片
func (c *Crawler) writeMetadata(result *models.CrawlResult, meta *PlaceMetadata) {
	dir := filepath.Join(c.output.ReportsDir, result.Session.SafeName)
	if err := utils.EnsureDir(dir); err != nil {
		utils.Warnf("⚠️  %v", err)
		return
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		utils.Warnf("⚠️  序列化地点信息失败: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), data, 0644); err != nil {
		utils.Warnf("⚠️  写入地点信息失败: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
