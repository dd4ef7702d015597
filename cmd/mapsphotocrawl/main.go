package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/config"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/core"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/route"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/storage"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	envFile    string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string
	validateConfig bool

	// 爬取参数
	location     string
	locationFile string
	maxImages    int
	outputDir    string
	headless     bool
	mode         string
	retries      int
	timeout      time.Duration
	workers      int
	concurrency  int
	dbPath       string

	// route 子命令
	workAddress string
	homeAddress string
	gymAddress  string
	goongKey    string
	vehicle     string

	// serve 子命令
	serveAddr string

	// init-config 子命令
	forceInit bool

	// appConfig 在 PersistentPreRunE 中加载
	appConfig *core.Config
)

var rootCmd = &cobra.Command{
	Use:   "mapsphotocrawl",
	Short: "Google Maps 地点照片爬取工具",
	Long: `mapsphotocrawl - 按地点名称批量下载 Google Maps 照片

支持:
  • dynamic: 浏览器搜索地点、打开图库并滚动收集图片
  • static:  直接抓取搜索页 HTML 中的图片地址
  • serpapi: 通过 SerpAPI 获取地点照片
  • apify:   运行 Apify Google Places Actor 获取照片
  • outscraper: 通过 Outscraper 照片接口获取照片
  • 带重试的下载、SQLite 清单与 EXIF 记录
  • 住址路线评估 (route / serve)

示例:
  mapsphotocrawl -l "Hồ Gươm, Hà Nội" -n 30
  mapsphotocrawl -f locations.txt -c 2 --db manifest.db
  mapsphotocrawl -l "Phở Bát Đàn" -m serpapi -H "Accept-Language: vi-VN"
  APIFY_API_TOKEN=... mapsphotocrawl -l "213/12 Nguyễn Gia Trí, Bình Thạnh" -m apify

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}

		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig = cfg

		logConfig := cfg.Logging.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		return nil
	},
	RunE: runCrawl,
}

// loadEnvFile 加载 .env; 默认文件不存在时忽略
func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (errors.Is(err, fs.ErrNotExist) && envFile == "") {
		return nil
	}
	return fmt.Errorf("加载环境变量文件失败: %w", err)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	headerManager, err := core.NewHeaderManager(appConfig.Headers, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	if validateConfig {
		utils.Info("🔍 验证配置...")
		if err := headerManager.Validate(); err != nil {
			return fmt.Errorf("HTTP头部验证失败: %w", err)
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}
		safeHeaders := headerManager.GetSafeHeaders()
		utils.Info("✅ 配置验证通过!")
		utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
		for name, value := range safeHeaders {
			utils.Infof("  %s: %s", name, value)
		}
		return nil
	}

	if location == "" && locationFile == "" {
		return cmd.Help()
	}

	if err := ValidateFlags(location, locationFile, maxImages, retries, workers, concurrency, timeout, mode); err != nil {
		return err
	}

	overrides := core.CLIOverrides{
		MaxImages:   maxImages,
		OutputDir:   outputDir,
		Mode:        mode,
		Retries:     retries,
		Timeout:     timeout,
		Workers:     workers,
		Concurrency: concurrency,
		DB:          dbPath,
	}
	if cmd.Flags().Changed("headless") {
		overrides.Headless = &headless
	}
	if err := appConfig.MergeCLIFlags(overrides); err != nil {
		return err
	}
	if err := appConfig.Validate(); err != nil {
		return err
	}

	var locations []string
	if locationFile != "" {
		if locations, err = utils.ReadLocationsFromFile(locationFile); err != nil {
			return err
		}
	}

	provider, cleanup := newProvider(appConfig, headerManager, len(locations) > 0)
	defer cleanup()

	crawler, err := core.NewCrawler(appConfig, provider, headerManager)
	if err != nil {
		return fmt.Errorf("创建爬取器失败: %w", err)
	}

	if appConfig.Storage.DB != "" {
		manifest, err := storage.OpenManifest(appConfig.Storage.DB)
		if err != nil {
			return err
		}
		defer manifest.Close()
		crawler.WithManifest(manifest)
		utils.Infof("🗂️  清单: %s", manifest.Path())
	}

	if len(locations) > 0 {
		var reporter *utils.Reporter
		if appConfig.Output.WriteReport {
			reporter = utils.NewReporter(appConfig.Output.ReportsDir)
		}
		summary, err := core.NewBatchCrawler(crawler, appConfig.Batch, reporter).CrawlBatch(ctx, locations)
		if err != nil {
			return fmt.Errorf("批量爬取失败: %w", err)
		}
		fmt.Printf("✅ 共保存 %d 张图片 (%d/%d 个地点完成)\n", summary.TotalSaved, summary.Completed, summary.Total)
		return nil
	}

	result, err := crawler.Crawl(ctx, location)
	if err != nil {
		return fmt.Errorf("爬取失败: %w", err)
	}
	printResult(result)
	return nil
}

// newProvider 单个地点使用独立浏览器; 批量时共享会话池并按系统资源限流
func newProvider(cfg *core.Config, headers *core.HeaderManager, batch bool) (browser.Provider, func()) {
	if cfg.Crawl.Mode != models.ModeDynamic {
		return nil, func() {}
	}

	opts := cfg.BrowserOptions(headers)
	if !batch {
		l := browser.NewLauncher(opts)
		return l, func() { _ = l.Close() }
	}

	monitor := browser.NewResourceMonitor(browser.DefaultResourceMonitorConfig())
	monitor.StartMonitoring(5 * time.Second)
	pool := browser.NewPool(opts, cfg.Browser.MaxSessions, monitor)
	return pool, func() {
		if err := pool.Close(); err != nil {
			utils.Warnf("⚠️  关闭浏览器池失败: %v", err)
		}
		monitor.StopMonitoring()
	}
}

func printResult(result *models.CrawlResult) {
	fmt.Println("==================================================")
	fmt.Println("📊 爬取统计")
	fmt.Println("==================================================")
	fmt.Printf("📍 地点: %s\n", result.Session.Location)
	if !result.Found {
		fmt.Println("🔍 未找到该地点")
		fmt.Println("==================================================")
		return
	}
	fmt.Printf("🖼️  图库已打开: %v\n", result.GalleryOpened)
	fmt.Printf("🔍 发现图片: %d (%s)\n", result.Discovered, result.DiscoveryState)
	fmt.Printf("✅ 已保存: %d\n", result.Saved)
	fmt.Printf("❌ 失败: %d\n", len(result.Failed))
	fmt.Printf("📦 总大小: %.2f MB\n", float64(result.TotalSize())/(1024*1024))
	fmt.Printf("📁 输出目录: %s\n", result.OutputDir)
	fmt.Printf("⏱️  总耗时: %.2f秒\n", result.Session.Duration())
	fmt.Println("==================================================")
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "根据到公司与健身房的路程评估住址",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateRouteFlags(workAddress, homeAddress, gymAddress); err != nil {
			return err
		}

		cfg := appConfig.Goong
		if goongKey != "" {
			cfg.APIKey = goongKey
		}
		if vehicle != "" {
			cfg.Vehicle = vehicle
		}
		client, err := route.NewClient(cfg)
		if err != nil {
			return err
		}

		e, err := client.Evaluate(cmd.Context(), workAddress, homeAddress, gymAddress)
		if err != nil {
			return fmt.Errorf("评估失败: %w", err)
		}

		out, err := json.MarshalIndent(e.Rounded(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动路线评估 REST 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverCfg := appConfig.Server
		if serveAddr != "" {
			serverCfg.Addr = serveAddr
		}
		if appConfig.Goong.APIKey == "" {
			utils.Warn("⚠️  未配置 GOONG_API_KEY,请求需自带 api_key")
		}
		return route.NewServer(appConfig.Goong, serverCfg, Version).ListenAndServe(cmd.Context())
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "生成配置文件模板",
	Args:  cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteTemplate(path, forceInit); err != nil {
			return err
		}
		fmt.Printf("✅ 配置文件已生成: %s\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mapsphotocrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "环境变量文件 (默认 .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// 爬取参数
	rootCmd.Flags().StringVarP(&location, "location", "l", "", "地点名称 (必需,除非使用 --location-file)")
	rootCmd.Flags().StringVarP(&locationFile, "location-file", "f", "", "地点列表文件,每行一个")
	rootCmd.Flags().IntVarP(&maxImages, "max-images", "n", 0, "每个地点最多下载的图片数 (默认 20)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "图片输出目录 (默认 images)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "发现模式 (dynamic|static|serpapi|apify|outscraper)")
	rootCmd.Flags().IntVar(&retries, "retries", 0, "每张图片最多尝试次数 (默认 3)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "单次下载超时 (默认 10s)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "单个地点的下载并发数 (默认 1)")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "批量模式同时运行的地点数 (默认 1)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite 清单路径")
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置与HTTP头部")

	// route 子命令
	routeCmd.Flags().StringVar(&workAddress, "work", "", "公司地址")
	routeCmd.Flags().StringVar(&homeAddress, "home", "", "住址")
	routeCmd.Flags().StringVar(&gymAddress, "gym", "", "健身房地址")
	routeCmd.Flags().StringVar(&goongKey, "api-key", "", "Goong API key (默认读取 GOONG_API_KEY)")
	routeCmd.Flags().StringVar(&vehicle, "vehicle", "", "交通方式 (car|bike|taxi|truck|hd)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址 (默认 :8000)")
	initConfigCmd.Flags().BoolVar(&forceInit, "force", false, "覆盖已存在的文件")

	rootCmd.AddCommand(routeCmd, serveCmd, initConfigCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			utils.Warn("收到中断信号,已停止")
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		stop()
		os.Exit(1)
	}
}
