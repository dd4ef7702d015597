// Package apify 通过 Apify 的 Google Places 爬虫 Actor 获取地点与照片地址
//
// 一次查询分三步: 启动 Actor 运行 → 等待运行结束 → 读取默认数据集中的条目
package apify

import (
	"bytes"
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
	// ErrMissingToken 未配置 API token
	ErrMissingToken = errors.New("未配置 Apify API token")
	// ErrRunFailed Actor 运行没有成功结束
	ErrRunFailed = errors.New("Apify Actor 运行失败")
	// ErrAPI 接口返回错误信息
	ErrAPI = errors.New("Apify 返回错误")
)

const (
	DefaultBaseURL = "https://api.apify.com/v2"
	DefaultActor   = "compass~crawler-google-places"

	// waitSeconds 单次请求让服务端等待运行结束的秒数 (接口上限 60)
	waitSeconds = 60
)

// 运行状态
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// Config Apify 配置
type Config struct {
	APIToken          string        `mapstructure:"api_token" json:"-"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Actor             string        `mapstructure:"actor" json:"actor"`
	Language          string        `mapstructure:"language" json:"language"`
	MaxPlaces         int           `mapstructure:"max_places" json:"max_places"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" json:"run_timeout"` // 等待 Actor 结束的总时长
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Actor:             DefaultActor,
		Language:          "vi",
		MaxPlaces:         1,
		Timeout:           90 * time.Second,
		RunTimeout:        10 * time.Minute,
		RequestsPerSecond: 1,
	}
}

// Place 数据集中的一个地点条目
type Place struct {
	Title     string   `json:"title"`
	PlaceID   string   `json:"placeId"`
	Address   string   `json:"address"`
	ImageURLs []string `json:"imageUrls"`
}

// Run Actor 运行
type Run struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

// Finished 运行已进入终止状态
func (r Run) Finished() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

type runInput struct {
	SearchStringsArray []string `json:"searchStringsArray"`
	MaxCrawledPlaces   int      `json:"maxCrawledPlaces"`
	Language           string   `json:"language"`
	IncludeImages      bool     `json:"includeImages"`
	MaxImages          int      `json:"maxImages,omitempty"`
}

type runEnvelope struct {
	Data  Run `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client Apify 客户端
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient 创建客户端; 没有 token 时返回 ErrMissingToken
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, ErrMissingToken
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Actor == "" {
		cfg.Actor = defaults.Actor
	}
	// 接口路径中用 ~ 分隔用户名与 Actor 名
	cfg.Actor = strings.Replace(cfg.Actor, "/", "~", 1)
	if cfg.Language == "" {
		cfg.Language = defaults.Language
	}
	if cfg.MaxPlaces <= 0 {
		cfg.MaxPlaces = defaults.MaxPlaces
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaults.RunTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// WithHTTPClient 替换 HTTP 客户端
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// SearchPlaces 运行 Actor 搜索 query,返回数据集中的地点
// maxImages > 0 时限制每个地点的照片数
func (c *Client) SearchPlaces(ctx context.Context, query string, maxImages int) ([]Place, error) {
	run, err := c.StartRun(ctx, query, maxImages)
	if err != nil {
		return nil, err
	}
	utils.Infof("🚀 Apify 已启动运行 %s (%s)", run.ID, c.cfg.Actor)

	run, err = c.WaitRun(ctx, run)
	if err != nil {
		return nil, err
	}
	return c.DatasetItems(ctx, run.DefaultDatasetID)
}

// StartRun 以 query 启动一次 Actor 运行
func (c *Client) StartRun(ctx context.Context, query string, maxImages int) (*Run, error) {
	input := runInput{
		SearchStringsArray: []string{query},
		MaxCrawledPlaces:   c.cfg.MaxPlaces,
		Language:           c.cfg.Language,
		IncludeImages:      true,
	}
	if maxImages > 0 {
		input.MaxImages = maxImages
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("编码运行参数失败: %w", err)
	}

	params := url.Values{}
	params.Set("waitForFinish", fmt.Sprint(waitSeconds))

	var env runEnvelope
	if err := c.do(ctx, http.MethodPost, "/acts/"+c.cfg.Actor+"/runs", params, body, &env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrAPI, env.Error.Message)
	}
	if env.Data.ID == "" {
		return nil, fmt.Errorf("%w: 响应中没有运行ID", ErrAPI)
	}
	return &env.Data, nil
}

// WaitRun 轮询直到运行结束; 只有 SUCCEEDED 视为成功
func (c *Client) WaitRun(ctx context.Context, run *Run) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("waitForFinish", fmt.Sprint(waitSeconds))

	for !run.Finished() {
		utils.Debugf("Apify 运行 %s 状态: %s", run.ID, run.Status)

		var env runEnvelope
		if err := c.do(ctx, http.MethodGet, "/actor-runs/"+run.ID, params, nil, &env); err != nil {
			return nil, err
		}
		if env.Error != nil {
			return nil, fmt.Errorf("%w: %s", ErrAPI, env.Error.Message)
		}
		run = &env.Data
	}

	if run.Status != StatusSucceeded {
		return run, fmt.Errorf("%w: %s 状态为 %s", ErrRunFailed, run.ID, run.Status)
	}
	return run, nil
}

// DatasetItems 读取数据集中的全部条目
func (c *Client) DatasetItems(ctx context.Context, datasetID string) ([]Place, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("%w: 运行没有默认数据集", ErrAPI)
	}
	params := url.Values{}
	params.Set("clean", "true")
	params.Set("format", "json")

	var places []Place
	if err := c.do(ctx, http.MethodGet, "/datasets/"+datasetID+"/items", params, nil, &places); err != nil {
		return nil, err
	}
	utils.Infof("📍 Apify 数据集 %s 返回 %d 个地点", datasetID, len(places))
	return places, nil
}

// do 发送请求并解码 JSON; token 只放在 Authorization 头中
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, out interface{}) (err error) {
	defer func() {
		metrics.APIRequests.WithLabelValues("apify", metrics.Outcome(err)).Inc()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	utils.Debugf("Apify 请求: %s %s", method, endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Apify 请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env runEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error != nil && env.Error.Message != "" {
			return fmt.Errorf("%w: HTTP %d: %s", ErrAPI, resp.StatusCode, env.Error.Message)
		}
		return fmt.Errorf("%w: HTTP %d", ErrAPI, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
