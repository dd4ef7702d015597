package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingLocation 地点为空
var ErrMissingLocation = errors.New("地点不能为空")

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"   // 待执行
	SessionStatusRunning   SessionStatus = "running"   // 执行中
	SessionStatusCompleted SessionStatus = "completed" // 已完成
	SessionStatusNotFound  SessionStatus = "not_found" // 地点未找到
	SessionStatusFailed    SessionStatus = "failed"    // 失败
	SessionStatusCancelled SessionStatus = "cancelled" // 已取消
)

// CrawlMode 发现模式
type CrawlMode string

const (
	ModeDynamic    CrawlMode = "dynamic"    // 浏览器驱动
	ModeStatic     CrawlMode = "static"     // 仅抓取HTML
	ModeSerpAPI    CrawlMode = "serpapi"    // SerpAPI 接口
	ModeApify      CrawlMode = "apify"      // Apify Google Places Actor
	ModeOutscraper CrawlMode = "outscraper" // Outscraper 照片接口
)

// ParseCrawlMode 解析模式字符串
func ParseCrawlMode(s string) (CrawlMode, error) {
	switch CrawlMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDynamic, "":
		return ModeDynamic, nil
	case ModeStatic:
		return ModeStatic, nil
	case ModeSerpAPI:
		return ModeSerpAPI, nil
	case ModeApify:
		return ModeApify, nil
	case ModeOutscraper:
		return ModeOutscraper, nil
	}
	return "", fmt.Errorf("未知的模式 %q (可选: dynamic, static, serpapi, apify, outscraper)", s)
}

// CrawlConfig 单次会话的发现配置
type CrawlConfig struct {
	MaxImages int       `mapstructure:"max_images" json:"max_images"`
	OutputDir string    `mapstructure:"output_dir" json:"output_dir"`
	Mode      CrawlMode `mapstructure:"mode" json:"mode"`
	BaseURL   string    `mapstructure:"base_url" json:"base_url"`

	ScrollIterations      int `mapstructure:"scroll_iterations" json:"scroll_iterations"`
	ThumbnailsPerStrategy int `mapstructure:"thumbnails_per_strategy" json:"thumbnails_per_strategy"`
	ScrollOffset          int `mapstructure:"scroll_offset" json:"scroll_offset"`
	GalleryScrollOffset   int `mapstructure:"gallery_scroll_offset" json:"gallery_scroll_offset"`

	InitialWait      time.Duration `mapstructure:"initial_wait" json:"initial_wait"`
	PostSearchWait   time.Duration `mapstructure:"post_search_wait" json:"post_search_wait"`
	ResultTimeout    time.Duration `mapstructure:"result_timeout" json:"result_timeout"`
	PreGalleryWait   time.Duration `mapstructure:"pre_gallery_wait" json:"pre_gallery_wait"`
	GalleryClickWait time.Duration `mapstructure:"gallery_click_wait" json:"gallery_click_wait"`
	TabTimeout       time.Duration `mapstructure:"tab_timeout" json:"tab_timeout"`
	TabClickWait     time.Duration `mapstructure:"tab_click_wait" json:"tab_click_wait"`
	ActionDelay      time.Duration `mapstructure:"action_delay" json:"action_delay"`
	NextClickWait    time.Duration `mapstructure:"next_click_wait" json:"next_click_wait"`
	PageTimeout      time.Duration `mapstructure:"page_timeout" json:"page_timeout"`

	OpenFirstResult bool `mapstructure:"open_first_result" json:"open_first_result"`
	// MaxResults 搜索返回列表时依次打开的结果数; 1 表示只处理第一个
	MaxResults int `mapstructure:"max_results" json:"max_results"`
}

// DefaultCrawlConfig 默认发现配置
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxImages:             20,
		OutputDir:             "images",
		Mode:                  ModeDynamic,
		BaseURL:               "https://www.google.com/maps",
		ScrollIterations:      15,
		ThumbnailsPerStrategy: 5,
		ScrollOffset:          800,
		GalleryScrollOffset:   500,
		InitialWait:           3 * time.Second,
		PostSearchWait:        5 * time.Second,
		ResultTimeout:         10 * time.Second,
		PreGalleryWait:        3 * time.Second,
		GalleryClickWait:      2 * time.Second,
		TabTimeout:            3 * time.Second,
		TabClickWait:          3 * time.Second,
		ActionDelay:           time.Second,
		NextClickWait:         1500 * time.Millisecond,
		PageTimeout:           60 * time.Second,
		OpenFirstResult:       true,
		MaxResults:            1,
	}
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.MaxImages < 1 || c.MaxImages > 1000 {
		return fmt.Errorf("最大图片数必须在1-1000之间")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("输出目录不能为空")
	}
	if _, err := ParseCrawlMode(string(c.Mode)); err != nil {
		return err
	}
	if err := ValidateURL(c.BaseURL); err != nil {
		return err
	}
	if c.ScrollIterations < 1 || c.ScrollIterations > 200 {
		return fmt.Errorf("滚动次数必须在1-200之间")
	}
	if c.ThumbnailsPerStrategy < 1 || c.ThumbnailsPerStrategy > 50 {
		return fmt.Errorf("每个策略尝试的缩略图数必须在1-50之间")
	}
	if c.ResultTimeout <= 0 || c.PageTimeout <= 0 {
		return fmt.Errorf("超时时间必须大于0")
	}
	if c.MaxResults < 1 || c.MaxResults > 10 {
		return fmt.Errorf("搜索结果数必须在1-10之间")
	}
	return nil
}

// DownloadConfig 下载配置
type DownloadConfig struct {
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	BaseDelay    time.Duration `mapstructure:"base_delay" json:"base_delay"`
	Workers      int           `mapstructure:"workers" json:"workers"`
	ShowProgress bool          `mapstructure:"show_progress" json:"show_progress"`
}

// DefaultDownloadConfig 默认下载配置
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		MaxRetries:   3,
		Timeout:      10 * time.Second,
		BaseDelay:    time.Second,
		Workers:      1,
		ShowProgress: true,
	}
}

// Validate 验证配置
func (c *DownloadConfig) Validate() error {
	if c.MaxRetries < 1 || c.MaxRetries > 20 {
		return fmt.Errorf("重试次数必须在1-20之间")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("下载超时必须大于0")
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("下载并发数必须在1-32之间")
	}
	return nil
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless" json:"headless"`
	Bin            string `mapstructure:"bin" json:"bin,omitempty"`
	NoSandbox      bool   `mapstructure:"no_sandbox" json:"no_sandbox"`
	ViewportWidth  int    `mapstructure:"viewport_width" json:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height" json:"viewport_height"`
	MaxSessions    int    `mapstructure:"max_sessions" json:"max_sessions"` // 0 表示根据系统资源自动计算
}

// CrawlSession 单个地点的爬取会话
type CrawlSession struct {
	ID          string        `json:"id"`
	Location    string        `json:"location"`
	SafeName    string        `json:"safe_name"`
	Mode        CrawlMode     `json:"mode"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlSession 创建新会话
func NewCrawlSession(location string, mode CrawlMode) (*CrawlSession, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrMissingLocation
	}
	return &CrawlSession{
		ID:        generateID(),
		Location:  location,
		Mode:      mode,
		Status:    SessionStatusPending,
		CreatedAt: time.Now(),
	}, nil
}

// Start 标记会话开始
func (s *CrawlSession) Start() {
	now := time.Now()
	s.StartedAt = &now
	s.Status = SessionStatusRunning
}

// Finish 标记会话结束
func (s *CrawlSession) Finish(status SessionStatus, err error) {
	now := time.Now()
	s.CompletedAt = &now
	s.Status = status
	if err != nil {
		s.ErrorMessage = err.Error()
	}
}

// Duration 会话耗时(秒)
func (s *CrawlSession) Duration() float64 {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt).Seconds()
}

// ToJSON 序列化为JSON
func (s *CrawlSession) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON 从JSON反序列化
func (s *CrawlSession) FromJSON(data []byte) error {
	return json.Unmarshal(data, s)
}

// BatchSummary 批量爬取汇总
type BatchSummary struct {
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	NotFound   int            `json:"not_found"`
	Failed     int            `json:"failed"`
	TotalSaved int            `json:"total_saved"`
	TotalSize  int64          `json:"total_size"`
	Duration   float64        `json:"duration"`
	Results    []*CrawlResult `json:"results"`
}

// Add 累计单个会话结果
func (b *BatchSummary) Add(r *CrawlResult) {
	b.Results = append(b.Results, r)
	switch r.Session.Status {
	case SessionStatusCompleted:
		b.Completed++
	case SessionStatusNotFound:
		b.NotFound++
	default:
		b.Failed++
	}
	b.TotalSaved += r.Saved
	b.TotalSize += r.TotalSize()
}
