package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/metrics"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

const (
	detailMissingKey = "API key is required. Provide it in request body or set GOONG_API_KEY environment variable."
	detailGeocode    = "Failed to geocode one or more addresses. Please check the addresses."

	maxRequestBody  = 64 << 10
	shutdownTimeout = 10 * time.Second
)

// ServerConfig 路线服务配置
type ServerConfig struct {
	Addr              string  `mapstructure:"addr" json:"addr"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst"`
}

// DefaultServerConfig 默认服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Addr: ":8000", RequestsPerSecond: 5, Burst: 10}
}

// Evaluator 评估三个地址
type Evaluator interface {
	Evaluate(ctx context.Context, work, home, gym string) (*Evaluation, error)
}

// EvaluatorFactory 按请求中的 API key 创建 Evaluator
type EvaluatorFactory func(apiKey string) (Evaluator, error)

// EvaluateRequest POST /evaluate 请求体
type EvaluateRequest struct {
	WorkAddress string `json:"work_address"`
	HomeAddress string `json:"home_address"`
	GymAddress  string `json:"gym_address"`
	APIKey      string `json:"api_key,omitempty"` // 为空时使用配置或环境变量
}

// Server 路线评估 REST 服务
type Server struct {
	goong        Config
	cfg          ServerConfig
	version      string
	newEvaluator EvaluatorFactory
}

// NewServer 创建服务; goong.APIKey 作为请求未携带 key 时的默认值
func NewServer(goong Config, cfg ServerConfig, version string) *Server {
	s := &Server{goong: goong, cfg: cfg, version: version}
	s.newEvaluator = func(apiKey string) (Evaluator, error) {
		c := goong
		c.APIKey = apiKey
		return NewClient(c)
	}
	return s
}

// WithEvaluatorFactory 替换 Evaluator 的创建方式
func (s *Server) WithEvaluatorFactory(f EvaluatorFactory) *Server {
	s.newEvaluator = f
	return s
}

// Handler 组装路由与中间件
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.Handle("GET /metrics", metrics.Handler())

	var evaluate http.Handler = http.HandlerFunc(s.handleEvaluate)
	if s.cfg.RequestsPerSecond > 0 {
		evaluate = newIPRateLimiter(s.cfg.RequestsPerSecond, s.cfg.Burst).middleware(evaluate)
	}
	mux.Handle("POST /evaluate", evaluate)

	return RequestIDMiddleware(LoggingMiddleware(mux))
}

// ListenAndServe 监听直到 ctx 取消,然后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Infof("🚀 路线评估服务已启动: %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("服务异常退出: %w", err)
	case <-ctx.Done():
	}

	utils.Info("正在关闭路线评估服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭服务失败: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	WriteHealthy(w, r, s.version)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, r, "Invalid JSON body: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if missing := req.missingFields(); len(missing) > 0 {
		WriteError(w, r, "Missing required fields: "+strings.Join(missing, ", "), http.StatusUnprocessableEntity)
		return
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = s.goong.APIKey
	}
	if apiKey == "" {
		WriteError(w, r, detailMissingKey, http.StatusBadRequest)
		return
	}

	evaluator, err := s.newEvaluator(apiKey)
	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			WriteError(w, r, detailMissingKey, http.StatusBadRequest)
			return
		}
		WriteError(w, r, "Internal server error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	e, err := evaluator.Evaluate(r.Context(), req.WorkAddress, req.HomeAddress, req.GymAddress)
	switch {
	case errors.Is(err, ErrGeocodeFailed):
		logger(r).Warn().Err(err).Msg("地址解析失败")
		WriteError(w, r, detailGeocode, http.StatusBadRequest)
		return
	case err != nil:
		logger(r).Error().Err(err).Msg("评估失败")
		WriteError(w, r, "Internal server error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	WriteJSON(w, r, e.Rounded(), http.StatusOK)
}

func (req EvaluateRequest) missingFields() []string {
	var missing []string
	for name, v := range map[string]string{
		"work_address": req.WorkAddress,
		"home_address": req.HomeAddress,
		"gym_address":  req.GymAddress,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
