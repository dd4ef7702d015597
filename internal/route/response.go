package route

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse 与 FastAPI 一致的错误体
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse GET / 的响应
type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Endpoints map[string]string `json:"endpoints"`
}

// WriteJSON 以 status 写出 JSON
func WriteJSON(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger(r).Error().Err(err).Msg("写出JSON响应失败")
	}
}

// WriteError 写出 {"detail": ...}
func WriteError(w http.ResponseWriter, r *http.Request, detail string, status int) {
	WriteJSON(w, r, ErrorResponse{Detail: detail}, status)
}

// WriteHealthy 写出服务状态
func WriteHealthy(w http.ResponseWriter, r *http.Request, version string) {
	WriteJSON(w, r, HealthResponse{
		Status:    "running",
		Message:   "Route Evaluation API is running",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   version,
		Endpoints: map[string]string{
			"POST /evaluate": "根据到公司与健身房的路程评估住址",
			"GET /metrics":   "Prometheus 指标",
		},
	}, http.StatusOK)
}
