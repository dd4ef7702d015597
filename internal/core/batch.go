package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/crawlers"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// BatchCrawler 批量爬取器
// 每个地点是一个独立会话; 并发时页面由共享的 browser.Pool 租出
type BatchCrawler struct {
	crawler  *Crawler
	config   BatchConfig
	reporter *utils.Reporter
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewBatchCrawler 创建批量爬取器; reporter 为 nil 时不写汇总
func NewBatchCrawler(crawler *Crawler, config BatchConfig, reporter *utils.Reporter) *BatchCrawler {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &BatchCrawler{
		crawler:  crawler,
		config:   config,
		reporter: reporter,
		sleep:    crawlers.Sleep,
	}
}

// WithSleep 替换会话间隔的等待函数
func (bc *BatchCrawler) WithSleep(fn func(ctx context.Context, d time.Duration) error) *BatchCrawler {
	bc.sleep = fn
	return bc
}

// CrawlBatch 批量爬取地点列表,结果顺序与 locations 一致
// ContinueOnError 为 false 时,第一个失败的会话之后不再启动新会话,并返回该错误
func (bc *BatchCrawler) CrawlBatch(ctx context.Context, locations []string) (*models.BatchSummary, error) {
	utils.Infof("🚀 开始批量爬取: %d个地点 (并发 %d)", len(locations), bc.config.Concurrency)

	start := time.Now()
	var (
		results  []*models.CrawlResult
		firstErr error
	)
	if bc.config.Concurrency == 1 {
		results, firstErr = bc.runSequential(ctx, locations)
	} else {
		results, firstErr = bc.runConcurrent(ctx, locations)
	}

	summary := &models.BatchSummary{Total: len(locations)}
	for _, r := range results {
		if r != nil {
			summary.Add(r)
		}
	}
	summary.Duration = time.Since(start).Seconds()

	bc.printSummary(summary)
	if bc.reporter != nil {
		if err := bc.reporter.GenerateBatchSummary(summary); err != nil {
			utils.Warnf("⚠️  写入批量汇总失败: %v", err)
		}
	}
	return summary, firstErr
}

func (bc *BatchCrawler) runSequential(ctx context.Context, locations []string) ([]*models.CrawlResult, error) {
	results := make([]*models.CrawlResult, 0, len(locations))
	for i, location := range locations {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		utils.Infof("==================== [%d/%d] %s ====================", i+1, len(locations), location)

		r, err := bc.crawlOne(ctx, location)
		results = append(results, r)
		if err != nil && !bc.config.ContinueOnError {
			utils.Warn("批量爬取中止 (continue_on_error=false)")
			return results, err
		}

		if i < len(locations)-1 && bc.config.Delay > 0 {
			utils.Debugf("等待 %v 后处理下一个地点...", bc.config.Delay)
			if err := bc.sleep(ctx, bc.config.Delay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (bc *BatchCrawler) runConcurrent(ctx context.Context, locations []string) ([]*models.CrawlResult, error) {
	results := make([]*models.CrawlResult, len(locations))
	var (
		stopped  atomic.Bool
		firstErr atomic.Value
	)

	var g errgroup.Group
	g.SetLimit(bc.config.Concurrency)
	for i, location := range locations {
		if stopped.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			utils.Infof("[%d/%d] %s", i+1, len(locations), location)
			r, err := bc.crawlOne(ctx, location)
			results[i] = r
			if err != nil && !bc.config.ContinueOnError {
				if stopped.CompareAndSwap(false, true) {
					firstErr.Store(err)
					utils.Warn("批量爬取中止 (continue_on_error=false)")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err, ok := firstErr.Load().(error); ok {
		return results, err
	}
	return results, ctx.Err()
}

// crawlOne 执行单个会话; 会话无法创建时也返回一条失败结果
func (bc *BatchCrawler) crawlOne(ctx context.Context, location string) (*models.CrawlResult, error) {
	r, err := bc.crawler.Crawl(ctx, location)
	if err != nil {
		utils.Errorf("❌ %s 爬取失败: %v", location, err)
	}
	if r == nil {
		session := &models.CrawlSession{Location: location, CreatedAt: time.Now()}
		session.Finish(models.SessionStatusFailed, fmt.Errorf("创建会话失败: %w", err))
		r = models.NewCrawlResult(session, "")
	}
	return r, err
}

// printSummary 打印批量爬取摘要
func (bc *BatchCrawler) printSummary(summary *models.BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量爬取摘要")
	utils.Info("==================================================")
	utils.Infof("总地点数: %d", summary.Total)
	utils.Infof("✅ 完成: %d", summary.Completed)
	utils.Infof("🔍 未找到: %d", summary.NotFound)
	utils.Infof("❌ 失败: %d", summary.Failed)
	utils.Infof("📦 已保存图片: %d", summary.TotalSaved)
	utils.Infof("📦 总大小: %.2f MB", float64(summary.TotalSize)/(1024*1024))
	utils.Infof("⏱️  总耗时: %.2f秒", summary.Duration)
	utils.Info("==================================================")

	for _, r := range summary.Results {
		if r.Session.Status == models.SessionStatusFailed || r.Session.Status == models.SessionStatusCancelled {
			utils.Warnf("  - %s: %s", r.Session.Location, r.Session.ErrorMessage)
		}
	}
}
