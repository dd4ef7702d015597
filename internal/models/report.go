package models

import (
	"encoding/json"
)

// CrawlResult 单次会话的结果
type CrawlResult struct {
	Session *CrawlSession `json:"session"`

	Found          bool   `json:"found"`
	GalleryOpened  bool   `json:"gallery_opened"`
	DiscoveryState string `json:"discovery_state,omitempty"`
	Discovered     int    `json:"discovered"`
	Saved          int    `json:"saved"`

	Files  []PhotoFile   `json:"files"`
	Failed []FailedPhoto `json:"failed"`

	OutputDir string `json:"output_dir"`
}

// NewCrawlResult 为会话创建空结果
func NewCrawlResult(session *CrawlSession, outputDir string) *CrawlResult {
	return &CrawlResult{
		Session:   session,
		Files:     make([]PhotoFile, 0),
		Failed:    make([]FailedPhoto, 0),
		OutputDir: outputDir,
	}
}

// TotalSize 已保存文件总大小
func (r *CrawlResult) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// CrawlReport 写入磁盘的会话报告
type CrawlReport struct {
	*CrawlResult

	Duration float64        `json:"duration"` // 秒
	Config   CrawlConfig    `json:"config"`
	Download DownloadConfig `json:"download"`
}

// NewCrawlReport 由结果和配置快照生成报告
func NewCrawlReport(result *CrawlResult, crawl CrawlConfig, download DownloadConfig) *CrawlReport {
	return &CrawlReport{
		CrawlResult: result,
		Duration:    result.Session.Duration(),
		Config:      crawl,
		Download:    download,
	}
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	if r.CrawlResult == nil {
		r.CrawlResult = &CrawlResult{}
	}
	return json.Unmarshal(data, r)
}
