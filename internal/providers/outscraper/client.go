// Package outscraper 通过 Outscraper 的 maps/photos 接口获取地点照片地址
package outscraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

var (
	// ErrMissingAPIKey 未配置 API key
	ErrMissingAPIKey = errors.New("未配置 Outscraper API key")
	// ErrAPI 接口返回错误信息
	ErrAPI = errors.New("Outscraper 返回错误")
)

const (
	DefaultBaseURL = "https://api.app.outscraper.com"

	photosPath = "/maps/photos-v3"

	statusSuccess = "Success"
	statusPending = "Pending"
)

// Config Outscraper 配置
type Config struct {
	APIKey            string        `mapstructure:"api_key" json:"-"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Language          string        `mapstructure:"language" json:"language"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	MaxPolls          int           `mapstructure:"max_polls" json:"max_polls"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Language:          "vi",
		Timeout:           60 * time.Second,
		PollInterval:      3 * time.Second,
		MaxPolls:          60,
		RequestsPerSecond: 2,
	}
}

// Photo 一张照片
type Photo struct {
	PhotoID     string `json:"photo_id"`
	PhotoURL    string `json:"photo_url"`
	PhotoURLBig string `json:"photo_url_big"`
}

// URL 优先使用 photo_url,缺失时用大图地址
func (p Photo) URL() string {
	if p.PhotoURL != "" {
		return p.PhotoURL
	}
	return p.PhotoURLBig
}

// Place 照片所属的地点
type Place struct {
	Name    string `json:"name"`
	PlaceID string `json:"place_id"`
	Address string `json:"full_address"`
}

// entry data 中的元素: 可能是照片本身,也可能是带 photos_data 的地点
type entry struct {
	Photo
	Place
	PhotosData []Photo `json:"photos_data"`
}

type response struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	ResultsLocation string    `json:"results_location"`
	ErrorMessage    string    `json:"errorMessage"`
	Data            [][]entry `json:"data"`
}

// Client Outscraper 客户端
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient 创建客户端; 没有 API key 时返回 ErrMissingAPIKey
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = defaults.Language
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaults.MaxPolls
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleep,
	}, nil
}

// WithHTTPClient 替换 HTTP 客户端
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// WithSleep 替换轮询间隔的等待函数
func (c *Client) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = fn
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Photos 查询 query 的照片,limit > 0 时最多返回 limit 张
// 返回的 Place 为第一个地点; 没有结果时为 nil
func (c *Client) Photos(ctx context.Context, query string, limit int) (*Place, []Photo, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("language", c.cfg.Language)
	params.Set("async", "false")
	if limit > 0 {
		params.Set("photosLimit", fmt.Sprint(limit))
	}

	resp, err := c.get(ctx, c.cfg.BaseURL+photosPath+"?"+params.Encode())
	if err != nil {
		return nil, nil, err
	}

	for polls := 0; resp.Status == statusPending; polls++ {
		if polls >= c.cfg.MaxPolls || resp.ResultsLocation == "" {
			return nil, nil, fmt.Errorf("%w: 请求 %s 未在 %d 次轮询内完成", ErrAPI, resp.ID, polls)
		}
		utils.Debugf("Outscraper 请求 %s 处理中,等待 %v", resp.ID, c.cfg.PollInterval)
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, nil, err
		}
		if resp, err = c.get(ctx, resp.ResultsLocation); err != nil {
			return nil, nil, err
		}
	}
	if resp.Status != "" && resp.Status != statusSuccess {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = resp.Status
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrAPI, msg)
	}

	place, photos := flatten(resp.Data)
	if limit > 0 && len(photos) > limit {
		photos = photos[:limit]
	}
	utils.Infof("🖼️  Outscraper 返回 %d 张照片", len(photos))
	return place, photos, nil
}

// flatten 只取第一个查询的结果,展开地点中的 photos_data
func flatten(data [][]entry) (*Place, []Photo) {
	if len(data) == 0 {
		return nil, nil
	}

	var place *Place
	var photos []Photo
	for _, e := range data[0] {
		if place == nil && (e.Name != "" || e.PlaceID != "") {
			p := e.Place
			place = &p
		}
		if e.URL() != "" {
			photos = append(photos, e.Photo)
		}
		for _, p := range e.PhotosData {
			if p.URL() != "" {
				photos = append(photos, p)
			}
		}
	}
	return place, photos
}

// get 请求 endpoint 并解码; API key 只放在 X-API-KEY 头中
func (c *Client) get(ctx context.Context, endpoint string) (resp *response, err error) {
	defer func() {
		metrics.APIRequests.WithLabelValues("outscraper", metrics.Outcome(err)).Inc()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	utils.Debugf("Outscraper 请求: %s", endpoint)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Outscraper 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	// 202 表示异步处理中,响应体带有 results_location
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		var apiErr response
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: HTTP %d: %s", ErrAPI, httpResp.StatusCode, apiErr.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: HTTP %d", ErrAPI, httpResp.StatusCode)
	}

	resp = &response{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return resp, nil
}
