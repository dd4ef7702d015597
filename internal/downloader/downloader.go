// Package downloader 带重试的图片下载器
//
// 每次尝试都先写入目标目录下的临时文件,只有拿到非空响应体才重命名到最终路径,
// 因此最终路径上不会出现空文件或被截断的文件。
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

var (
	// ErrBadStatus 服务器返回非2xx状态码
	ErrBadStatus = errors.New("非成功状态码")
	// ErrEmptyBody 响应体为空
	ErrEmptyBody = errors.New("响应体为空")
	// ErrTooLarge 响应体超过 models.MaxPhotoSize
	ErrTooLarge = errors.New("文件过大")
)

// Result 单个URL的下载结果
type Result struct {
	URL         string
	Path        string
	Success     bool
	Attempts    int
	Size        int64
	SHA256      string
	ContentType string
	Duration    time.Duration
	Err         error // 最后一次失败的原因; 成功时为 nil
}

// Job 一个下载任务
type Job struct {
	URL  string
	Path string
}

// Downloader 按配置重试下载
type Downloader struct {
	cfg     models.DownloadConfig
	client  *http.Client
	headers models.HeaderProvider
	sleep   func(ctx context.Context, d time.Duration) error
}

// New 创建下载器; headers 可以为 nil
func New(cfg models.DownloadConfig, headers models.HeaderProvider) (*Downloader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("下载配置无效: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建cookie jar失败: %w", err)
	}

	return &Downloader{
		cfg:     cfg,
		client:  &http.Client{Jar: jar},
		headers: headers,
		sleep:   sleepCtx,
	}, nil
}

// WithClient 替换 HTTP 客户端
func (d *Downloader) WithClient(c *http.Client) *Downloader {
	d.client = c
	return d
}

// WithSleep 替换重试间隔的等待函数
func (d *Downloader) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Downloader {
	d.sleep = fn
	return d
}

// Config 当前配置
func (d *Downloader) Config() models.DownloadConfig {
	return d.cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Download 下载 rawURL 到 dest,最多尝试 MaxRetries 次
// 第 n 次失败后等待 n*BaseDelay; ctx 取消时立即停止
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) Result {
	start := time.Now()
	res := Result{URL: rawURL, Path: dest}
	safeURL := utils.RedactURL(rawURL)

	defer func() {
		res.Duration = time.Since(start)
		metrics.DownloadDuration.Observe(res.Duration.Seconds())
		if res.Success {
			metrics.DownloadsTotal.WithLabelValues("success").Inc()
			metrics.DownloadBytes.Add(float64(res.Size))
		} else {
			metrics.DownloadsTotal.WithLabelValues("failed").Inc()
		}
	}()

	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts = attempt
		metrics.DownloadAttempts.Inc()

		size, sum, ctype, err := d.fetch(ctx, rawURL, dest)
		if err == nil {
			res.Success = true
			res.Size = size
			res.SHA256 = sum
			res.ContentType = ctype
			res.Err = nil
			utils.Debugf("⬇️  已保存 %s (%d 字节, 第%d次尝试)", filepath.Base(dest), size, attempt)
			return res
		}
		res.Err = err

		if attempt == d.cfg.MaxRetries {
			break
		}
		wait := time.Duration(attempt) * d.cfg.BaseDelay
		utils.Warnf("⚠️  下载失败 (第%d/%d次) %s: %v,%v 后重试", attempt, d.cfg.MaxRetries, safeURL, err, wait)
		if err := d.sleep(ctx, wait); err != nil {
			res.Err = err
			return res
		}
	}

	utils.Warnf("❌ 下载失败,已尝试%d次: %s: %v", res.Attempts, safeURL, res.Err)
	return res
}

// fetch 执行一次尝试; 成功时文件已位于 dest
func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) (int64, string, string, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", "", fmt.Errorf("创建请求失败: %w", err)
	}
	if d.headers != nil {
		headers, err := d.headers.GetHeaders()
		if err != nil {
			return 0, "", "", fmt.Errorf("获取HTTP头部失败: %w", err)
		}
		for name, values := range headers {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, "", "", fmt.Errorf("%w: HTTP %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return 0, "", "", err
	}
	defer body.Close()

	size, sum, err := writeAtomically(dest, body)
	if err != nil {
		return 0, "", "", err
	}
	return size, sum, resp.Header.Get("Content-Type"), nil
}

// writeAtomically 流式写入临时文件并计算 SHA-256,非空时重命名到 dest
func writeAtomically(dest string, r io.Reader) (int64, string, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(r, models.MaxPhotoSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	switch {
	case err != nil:
		return 0, "", fmt.Errorf("读取响应失败: %w", err)
	case n == 0:
		return 0, "", ErrEmptyBody
	case n > models.MaxPhotoSize:
		return 0, "", fmt.Errorf("%w: 超过 %d 字节", ErrTooLarge, models.MaxPhotoSize)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, "", fmt.Errorf("重命名文件失败: %w", err)
	}
	committed = true
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// DownloadAll 以 Workers 为并发上限下载所有任务,结果与 jobs 一一对应
// 单个任务失败不影响其他任务; 只有 ctx 取消会让未开始的任务直接失败
func (d *Downloader) DownloadAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	bar := utils.NewProgressBar(len(jobs), "⬇️  下载图片", d.cfg.ShowProgress)
	defer func() { _ = bar.Finish() }()

	var saved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for i, job := range jobs {
		g.Go(func() error {
			results[i] = d.Download(gctx, job.URL, job.Path)
			if results[i].Success {
				saved.Add(1)
			}
			_ = bar.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	utils.Infof("📦 下载完成: 成功 %d / %d", saved.Load(), len(jobs))
	return results
}

// ErrorType 将下载错误归类,用于失败清单
func ErrorType(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, ErrBadStatus):
		return "bad_status"
	case errors.Is(err, ErrEmptyBody):
		return "empty_body"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	}
	return "network_error"
}
