// Package serpapi 通过 SerpAPI 的 google_maps 与 google_maps_photos 引擎查找地点照片
package serpapi

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
	ErrMissingAPIKey = errors.New("未配置 SerpAPI API key")
	// ErrPlaceNotFound 搜索没有返回地点
	ErrPlaceNotFound = errors.New("未找到地点")
	// ErrAPI 接口返回错误信息
	ErrAPI = errors.New("SerpAPI 返回错误")
)

const (
	DefaultBaseURL = "https://serpapi.com/search.json"

	engineMaps   = "google_maps"
	enginePhotos = "google_maps_photos"

	// maxPages 翻页上限,防止 next 链接循环
	maxPages = 50
)

// Config SerpAPI 配置
type Config struct {
	APIKey            string        `mapstructure:"api_key" json:"-"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Language          string        `mapstructure:"language" json:"language"`
	CategoryID        string        `mapstructure:"category_id" json:"category_id,omitempty"` // 例如 CgIgARICCAI 为街景与360°
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Language:          "vi",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2,
	}
}

// Place 搜索到的地点
type Place struct {
	Title   string `json:"title"`
	DataID  string `json:"data_id"`
	Address string `json:"address"`
}

// Photo 地点照片
type Photo struct {
	Image     string `json:"image"`
	Thumbnail string `json:"thumbnail"`
	User      struct {
		Name string `json:"name"`
	} `json:"user"`
}

// UserName 上传者名称,缺失时为 Unknown
func (p Photo) UserName() string {
	if p.User.Name == "" {
		return "Unknown"
	}
	return p.User.Name
}

type searchResponse struct {
	Error        string  `json:"error"`
	LocalResults []Place `json:"local_results"`
	PlaceResults *Place  `json:"place_results"`
}

type photosResponse struct {
	Error      string  `json:"error"`
	Photos     []Photo `json:"photos"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"serpapi_pagination"`
}

// Client SerpAPI 客户端
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
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
	if cfg.Language == "" {
		cfg.Language = defaults.Language
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
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

// FindPlace 搜索 query 并返回第一个地点
func (c *Client) FindPlace(ctx context.Context, query string) (*Place, error) {
	params := url.Values{}
	params.Set("engine", engineMaps)
	params.Set("q", query)
	params.Set("type", "search")
	params.Set("hl", c.cfg.Language)

	var resp searchResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrAPI, resp.Error)
	}

	var place *Place
	switch {
	case len(resp.LocalResults) > 0:
		place = &resp.LocalResults[0]
	case resp.PlaceResults != nil && resp.PlaceResults.DataID != "":
		place = resp.PlaceResults
	}
	if place == nil || place.DataID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPlaceNotFound, query)
	}

	utils.Infof("📍 SerpAPI 找到地点: %s (%s)", place.Title, place.Address)
	return place, nil
}

// Photos 返回地点的照片,按 serpapi_pagination.next 翻页直到 limit (<=0 表示全部)
func (c *Client) Photos(ctx context.Context, dataID string, limit int) ([]Photo, error) {
	params := url.Values{}
	params.Set("engine", enginePhotos)
	params.Set("data_id", dataID)
	params.Set("hl", c.cfg.Language)
	if c.cfg.CategoryID != "" {
		params.Set("category_id", c.cfg.CategoryID)
	}

	var photos []Photo
	for page := 1; page <= maxPages; page++ {
		var resp photosResponse
		if err := c.get(ctx, params, &resp); err != nil {
			return photos, err
		}
		if resp.Error != "" {
			// 已有结果时最后一页的错误不影响前面的照片
			if len(photos) > 0 {
				utils.Warnf("⚠️  SerpAPI 第%d页返回错误: %s", page, resp.Error)
				break
			}
			return nil, fmt.Errorf("%w: %s", ErrAPI, resp.Error)
		}

		photos = append(photos, resp.Photos...)
		utils.Infof("🖼️  SerpAPI 第%d页 %d 张,累计 %d 张", page, len(resp.Photos), len(photos))

		if limit > 0 && len(photos) >= limit {
			return photos[:limit], nil
		}
		if resp.Pagination.Next == "" || len(resp.Photos) == 0 {
			break
		}

		next, err := url.Parse(resp.Pagination.Next)
		if err != nil {
			return photos, fmt.Errorf("解析翻页链接失败: %w", err)
		}
		for key, values := range next.Query() {
			if key == "api_key" || len(values) == 0 {
				continue
			}
			params.Set(key, values[0])
		}
	}
	return photos, nil
}

// get 发送请求并解码 JSON; api_key 只在发送时加入,日志中不会出现
func (c *Client) get(ctx context.Context, params url.Values, out interface{}) (err error) {
	defer func() {
		metrics.APIRequests.WithLabelValues("serpapi", metrics.Outcome(err)).Inc()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.cfg.APIKey)
	endpoint := c.cfg.BaseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	utils.Debugf("SerpAPI 请求: %s", utils.RedactURL(endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("SerpAPI 请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: HTTP %d: %s", ErrAPI, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%w: HTTP %d", ErrAPI, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
