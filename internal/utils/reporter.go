package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/schollz/progressbar/v3"
)

// 报告文件名
const (
	CrawlReportFile  = "crawl_report.json"
	FailedPhotosFile = "failed_photos.json"
	BatchSummaryFile = "batch_summary.json"
)

// Reporter 报告生成器
type Reporter struct {
	reportsDir string
}

// NewReporter 创建报告生成器
func NewReporter(reportsDir string) *Reporter {
	return &Reporter{reportsDir: reportsDir}
}

// GenerateReport 生成会话报告,返回报告目录
func (r *Reporter) GenerateReport(report *models.CrawlReport) (string, error) {
	name := report.Session.SafeName
	if name == "" {
		name = SanitizeFilename(report.Session.Location, DefaultMaxNameLength)
	}
	dir := filepath.Join(r.reportsDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	if err := r.saveJSONReport(dir, CrawlReportFile, report); err != nil {
		return "", err
	}
	if len(report.Failed) > 0 {
		if err := r.saveJSONReport(dir, FailedPhotosFile, report.Failed); err != nil {
			return "", err
		}
	}

	Infof("✅ 报告已生成: %s", dir)
	return dir, nil
}

// GenerateBatchSummary 生成批量汇总
func (r *Reporter) GenerateBatchSummary(summary *models.BatchSummary) error {
	if err := os.MkdirAll(r.reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}
	return r.saveJSONReport(r.reportsDir, BatchSummaryFile, summary)
}

func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条; visible 为 false 时输出被丢弃
func NewProgressBar(max int, description string, visible bool) *progressbar.ProgressBar {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	}
	if !visible {
		opts = append(opts, progressbar.OptionSetWriter(io.Discard))
	}
	return progressbar.NewOptions(max, opts...)
}
