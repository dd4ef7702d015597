// Package route 使用 Goong Maps 计算公司、住址、健身房三点之间的路程并给住址打分
package route

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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

var (
	// ErrMissingAPIKey 未配置 Goong API key
	ErrMissingAPIKey = errors.New("未配置 Goong API key")
	// ErrGeocodeFailed 地址无法解析为坐标
	ErrGeocodeFailed = errors.New("地址解析失败")
	// ErrRouteFailed 两点之间没有可用路线
	ErrRouteFailed = errors.New("路线计算失败")
)

const DefaultBaseURL = "https://rsapi.goong.io"

// Config Goong 配置
type Config struct {
	APIKey            string        `mapstructure:"api_key" json:"-"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Vehicle           string        `mapstructure:"vehicle" json:"vehicle"` // car, bike, taxi, truck, hd
	MaxScale          float64       `mapstructure:"max_scale" json:"max_scale"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Vehicle:           "bike",
		MaxScale:          DefaultMaxScale,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
	}
}

// Location 地理编码结果
type Location struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (l Location) coord() string {
	return fmt.Sprintf("%v,%v", l.Lat, l.Lng)
}

// Route 单条路线
type Route struct {
	DistanceKm      float64 `json:"distance"` // 保留2位小数
	DistanceText    string  `json:"distance_text"`
	DurationMinutes float64 `json:"duration_minutes"` // 保留1位小数
	DurationText    string  `json:"duration"`
	DurationSeconds int     `json:"duration_seconds"`
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

type matrixValue struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

type matrixResponse struct {
	Rows []struct {
		Elements []struct {
			Status   string      `json:"status"`
			Distance matrixValue `json:"distance"`
			Duration matrixValue `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// Client Goong 客户端
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
	if cfg.Vehicle == "" {
		cfg.Vehicle = defaults.Vehicle
	}
	if cfg.MaxScale <= 0 {
		cfg.MaxScale = defaults.MaxScale
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
		limiter: rate.NewLimiter(limit, 3),
	}, nil
}

// WithHTTPClient 替换 HTTP 客户端
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Geocode 将文字地址转换为坐标
func (c *Client) Geocode(ctx context.Context, address string) (*Location, error) {
	params := url.Values{}
	params.Set("address", address)

	var resp geocodeResponse
	if err := c.get(ctx, "/geocode", params, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGeocodeFailed, address, err)
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: %s (status=%s)", ErrGeocodeFailed, address, resp.Status)
	}

	first := resp.Results[0]
	loc := &Location{
		Address: first.FormattedAddress,
		Lat:     first.Geometry.Location.Lat,
		Lng:     first.Geometry.Location.Lng,
	}
	if loc.Address == "" {
		loc.Address = address
	}
	return loc, nil
}

// Distance 计算 origin 到 dest 的路程; vehicle 为空时使用配置
func (c *Client) Distance(ctx context.Context, origin, dest Location, vehicle string) (*Route, error) {
	if vehicle == "" {
		vehicle = c.cfg.Vehicle
	}
	params := url.Values{}
	params.Set("origins", origin.coord())
	params.Set("destinations", dest.coord())
	params.Set("vehicle", vehicle)

	var resp matrixResponse
	if err := c.get(ctx, "/DistanceMatrix", params, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRouteFailed, err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return nil, fmt.Errorf("%w: 响应中没有路线", ErrRouteFailed)
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return nil, fmt.Errorf("%w: status=%s", ErrRouteFailed, el.Status)
	}

	return &Route{
		DistanceKm:      round(float64(el.Distance.Value)/1000, 2),
		DistanceText:    el.Distance.Text,
		DurationMinutes: round(float64(el.Duration.Value)/60, 1),
		DurationText:    el.Duration.Text,
		DurationSeconds: el.Duration.Value,
	}, nil
}

// Evaluate 解析三个地址,计算三段路程并打分
func (c *Client) Evaluate(ctx context.Context, work, home, gym string) (*Evaluation, error) {
	addresses := []string{work, home, gym}
	locations := make([]*Location, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addresses {
		g.Go(func() error {
			loc, err := c.Geocode(gctx, addr)
			locations[i] = loc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	work0, home0, gym0 := *locations[0], *locations[1], *locations[2]
	pairs := [][2]Location{{work0, home0}, {home0, gym0}, {work0, gym0}}
	routes := make([]*Route, len(pairs))

	g, gctx = errgroup.WithContext(ctx)
	for i, p := range pairs {
		g.Go(func() error {
			r, err := c.Distance(gctx, p[0], p[1], "")
			routes[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	distances := Legs{WorkHome: routes[0].DistanceKm, HomeGym: routes[1].DistanceKm, WorkGym: routes[2].DistanceKm}
	times := Legs{WorkHome: routes[0].DurationMinutes, HomeGym: routes[1].DurationMinutes, WorkGym: routes[2].DurationMinutes}

	e, err := Score(distances, times, c.cfg.MaxScale)
	if err != nil {
		return nil, err
	}
	utils.Infof("🏠 评分 %.2f (G=%.2f, T=%.2f)", e.Evaluation, e.G, e.T)
	return e, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) (err error) {
	defer func() {
		metrics.APIRequests.WithLabelValues("goong", metrics.Outcome(err)).Inc()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("api_key", c.cfg.APIKey)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	utils.Debugf("Goong 请求: %s", utils.RedactURL(endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
