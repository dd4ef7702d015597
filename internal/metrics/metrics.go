// Package metrics 汇总爬取、下载与路线服务的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mapsphotocrawl"

var (
	// Registry 进程内唯一的指标注册表
	Registry = prometheus.NewRegistry()

	// SessionsTotal 按模式与结束状态统计的会话数
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Crawl sessions by mode and final status.",
	}, []string{"mode", "status"})

	// ActiveSessions 正在运行的会话数
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Crawl sessions currently holding a page.",
	})

	// DiscoveredURLs 通过分类的图片URL数
	DiscoveredURLs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovered_urls_total",
		Help:      "Accepted image URLs by kind.",
	}, []string{"kind"})

	// DownloadsTotal 按结果统计的下载数
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Image downloads by result.",
	}, []string{"result"})

	// DownloadAttempts 下载尝试次数(含重试)
	DownloadAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_attempts_total",
		Help:      "HTTP attempts made by the downloader, retries included.",
	})

	// DownloadBytes 已保存的字节数
	DownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_bytes_total",
		Help:      "Bytes written to saved images.",
	})

	// DownloadDuration 单个URL的下载耗时
	DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Time spent per URL including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// APIRequests 第三方接口调用, provider 为 serpapi、apify、outscraper 或 goong
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Outbound API calls by service and outcome.",
	}, []string{"service", "outcome"})

	// HTTPRequests 路线服务收到的请求
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Requests served by the route API.",
	}, []string{"path", "code"})
)

func init() {
	Registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		SessionsTotal,
		ActiveSessions,
		DiscoveredURLs,
		DownloadsTotal,
		DownloadAttempts,
		DownloadBytes,
		DownloadDuration,
		APIRequests,
		HTTPRequests,
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome 将错误转换为指标标签
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
