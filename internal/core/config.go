package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/config"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/providers/apify"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/providers/outscraper"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/providers/serpapi"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/route"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// EnvPrefix 环境变量前缀,例如 MAPSPHOTOCRAWL_CRAWL_MAX_IMAGES
const EnvPrefix = "MAPSPHOTOCRAWL"

// Config 应用程序配置
type Config struct {
	Crawl      models.CrawlConfig    `mapstructure:"crawl"`
	Download   models.DownloadConfig `mapstructure:"download"`
	Browser    models.BrowserConfig  `mapstructure:"browser"`
	Batch      BatchConfig           `mapstructure:"batch"`
	Headers    map[string]string     `mapstructure:"headers"`
	Storage    StorageConfig         `mapstructure:"storage"`
	Output     OutputConfig          `mapstructure:"output"`
	SerpAPI    serpapi.Config        `mapstructure:"serpapi"`
	Apify      apify.Config          `mapstructure:"apify"`
	Outscraper outscraper.Config     `mapstructure:"outscraper"`
	Goong      route.Config          `mapstructure:"goong"`
	Server     route.ServerConfig    `mapstructure:"server"`
	Logging    LoggingConfig         `mapstructure:"logging"`
}

// BatchConfig 批量爬取配置
type BatchConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	Delay           time.Duration `mapstructure:"delay"` // 顺序执行时会话之间的间隔
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

// StorageConfig 清单配置
type StorageConfig struct {
	DB   string `mapstructure:"db"` // 为空则不记录
	Exif bool   `mapstructure:"exif"`
}

// OutputConfig 报告输出配置
type OutputConfig struct {
	ReportsDir  string `mapstructure:"reports_dir"`
	WriteReport bool   `mapstructure:"write_report"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// LogConfig 转换为 utils.LogConfig
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      l.Level,
		LogDir:     l.LogDir,
		MaxSize:    l.Rotation.MaxSize,
		MaxBackups: l.Rotation.MaxBackups,
		MaxAge:     l.Rotation.MaxAge,
		Compress:   l.Rotation.Compress,
	}
}

// LoadConfig 加载配置文件; configPath 为空时在默认位置搜索,找不到文件则使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		if err := config.ValidateFileSize(configPath); err != nil {
			return nil, err
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mapsphotocrawl"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 沿用脚本时代的变量名
	_ = v.BindEnv("serpapi.api_key", EnvPrefix+"_SERPAPI_API_KEY", "SERPAPI_API_KEY")
	_ = v.BindEnv("apify.api_token", EnvPrefix+"_APIFY_API_TOKEN", "APIFY_API_TOKEN", "APIFY_TOKEN")
	_ = v.BindEnv("outscraper.api_key", EnvPrefix+"_OUTSCRAPER_API_KEY", "OUTSCRAPER_API_KEY")
	_ = v.BindEnv("goong.api_key", EnvPrefix+"_GOONG_API_KEY", "GOONG_API_KEY")
	_ = v.BindEnv("goong.max_scale", EnvPrefix+"_GOONG_MAX_SCALE", "MAX_SCALE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	crawl := models.DefaultCrawlConfig()
	v.SetDefault("crawl.max_images", crawl.MaxImages)
	v.SetDefault("crawl.output_dir", crawl.OutputDir)
	v.SetDefault("crawl.mode", string(crawl.Mode))
	v.SetDefault("crawl.base_url", crawl.BaseURL)
	v.SetDefault("crawl.scroll_iterations", crawl.ScrollIterations)
	v.SetDefault("crawl.thumbnails_per_strategy", crawl.ThumbnailsPerStrategy)
	v.SetDefault("crawl.scroll_offset", crawl.ScrollOffset)
	v.SetDefault("crawl.gallery_scroll_offset", crawl.GalleryScrollOffset)
	v.SetDefault("crawl.initial_wait", crawl.InitialWait)
	v.SetDefault("crawl.post_search_wait", crawl.PostSearchWait)
	v.SetDefault("crawl.result_timeout", crawl.ResultTimeout)
	v.SetDefault("crawl.pre_gallery_wait", crawl.PreGalleryWait)
	v.SetDefault("crawl.gallery_click_wait", crawl.GalleryClickWait)
	v.SetDefault("crawl.tab_timeout", crawl.TabTimeout)
	v.SetDefault("crawl.tab_click_wait", crawl.TabClickWait)
	v.SetDefault("crawl.action_delay", crawl.ActionDelay)
	v.SetDefault("crawl.next_click_wait", crawl.NextClickWait)
	v.SetDefault("crawl.page_timeout", crawl.PageTimeout)
	v.SetDefault("crawl.open_first_result", crawl.OpenFirstResult)
	v.SetDefault("crawl.max_results", crawl.MaxResults)

	download := models.DefaultDownloadConfig()
	v.SetDefault("download.max_retries", download.MaxRetries)
	v.SetDefault("download.timeout", download.Timeout)
	v.SetDefault("download.base_delay", download.BaseDelay)
	v.SetDefault("download.workers", download.Workers)
	v.SetDefault("download.show_progress", download.ShowProgress)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.max_sessions", 0)

	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("batch.delay", time.Second)
	v.SetDefault("batch.continue_on_error", true)

	v.SetDefault("storage.db", "")
	v.SetDefault("storage.exif", true)

	v.SetDefault("output.reports_dir", "reports")
	v.SetDefault("output.write_report", true)

	serp := serpapi.DefaultConfig()
	v.SetDefault("serpapi.api_key", "")
	v.SetDefault("serpapi.base_url", serp.BaseURL)
	v.SetDefault("serpapi.language", serp.Language)
	v.SetDefault("serpapi.category_id", "")
	v.SetDefault("serpapi.timeout", serp.Timeout)
	v.SetDefault("serpapi.requests_per_second", serp.RequestsPerSecond)

	apifyCfg := apify.DefaultConfig()
	v.SetDefault("apify.api_token", "")
	v.SetDefault("apify.base_url", apifyCfg.BaseURL)
	v.SetDefault("apify.actor", apifyCfg.Actor)
	v.SetDefault("apify.language", apifyCfg.Language)
	v.SetDefault("apify.max_places", apifyCfg.MaxPlaces)
	v.SetDefault("apify.timeout", apifyCfg.Timeout)
	v.SetDefault("apify.run_timeout", apifyCfg.RunTimeout)
	v.SetDefault("apify.requests_per_second", apifyCfg.RequestsPerSecond)

	out := outscraper.DefaultConfig()
	v.SetDefault("outscraper.api_key", "")
	v.SetDefault("outscraper.base_url", out.BaseURL)
	v.SetDefault("outscraper.language", out.Language)
	v.SetDefault("outscraper.timeout", out.Timeout)
	v.SetDefault("outscraper.poll_interval", out.PollInterval)
	v.SetDefault("outscraper.max_polls", out.MaxPolls)
	v.SetDefault("outscraper.requests_per_second", out.RequestsPerSecond)

	goong := route.DefaultConfig()
	v.SetDefault("goong.api_key", "")
	v.SetDefault("goong.base_url", goong.BaseURL)
	v.SetDefault("goong.vehicle", goong.Vehicle)
	v.SetDefault("goong.max_scale", goong.MaxScale)
	v.SetDefault("goong.timeout", goong.Timeout)
	v.SetDefault("goong.requests_per_second", goong.RequestsPerSecond)

	server := route.DefaultServerConfig()
	v.SetDefault("server.addr", server.Addr)
	v.SetDefault("server.requests_per_second", server.RequestsPerSecond)
	v.SetDefault("server.burst", server.Burst)

	logCfg := utils.DefaultLogConfig()
	v.SetDefault("logging.level", logCfg.Level)
	v.SetDefault("logging.log_dir", logCfg.LogDir)
	v.SetDefault("logging.rotation.max_size", logCfg.MaxSize)
	v.SetDefault("logging.rotation.max_backups", logCfg.MaxBackups)
	v.SetDefault("logging.rotation.max_age", logCfg.MaxAge)
	v.SetDefault("logging.rotation.compress", logCfg.Compress)
}

// BrowserOptions 由配置与合并后的头部生成浏览器选项
func (c *Config) BrowserOptions(headers *HeaderManager) browser.Options {
	opts := browser.Options{
		Headless:       c.Browser.Headless,
		Bin:            c.Browser.Bin,
		NoSandbox:      c.Browser.NoSandbox,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		PageTimeout:    c.Crawl.PageTimeout,
	}
	if headers != nil {
		opts.UserAgent = headers.UserAgent()
		opts.AcceptLanguage = headers.AcceptLanguage()
	}
	return opts
}

// CLIOverrides 命令行参数; 零值表示未指定
type CLIOverrides struct {
	MaxImages   int
	OutputDir   string
	Mode        string
	Headless    *bool
	Retries     int
	Timeout     time.Duration
	Workers     int
	Concurrency int
	DB          string
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) error {
	if o.MaxImages > 0 {
		c.Crawl.MaxImages = o.MaxImages
	}
	if o.OutputDir != "" {
		c.Crawl.OutputDir = o.OutputDir
	}
	if o.Mode != "" {
		mode, err := models.ParseCrawlMode(o.Mode)
		if err != nil {
			return err
		}
		c.Crawl.Mode = mode
	}
	if o.Headless != nil {
		c.Browser.Headless = *o.Headless
	}
	if o.Retries > 0 {
		c.Download.MaxRetries = o.Retries
	}
	if o.Timeout > 0 {
		c.Download.Timeout = o.Timeout
	}
	if o.Workers > 0 {
		c.Download.Workers = o.Workers
	}
	if o.Concurrency > 0 {
		c.Batch.Concurrency = o.Concurrency
	}
	if o.DB != "" {
		c.Storage.DB = o.DB
	}
	return nil
}

// Validate 验证合并后的配置
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return &models.ConfigError{FilePath: "crawl", Cause: err}
	}
	if err := c.Download.Validate(); err != nil {
		return &models.ConfigError{FilePath: "download", Cause: err}
	}
	if c.Batch.Concurrency < 1 {
		return &models.ConfigError{FilePath: "batch", Cause: fmt.Errorf("并发数必须大于0")}
	}
	return nil
}
