package core

import (
	"net/http"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent,同时用于浏览器会话
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"

	// DefaultAcceptLanguage 默认语言,地图界面按越南语/英语渲染
	DefaultAcceptLanguage = "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7"
)

// HeaderManager 合并默认、配置文件与命令行头部
// 实现 models.HeaderProvider 接口
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header

	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor
}

// NewHeaderManager 创建头部管理器
// configHeaders 来自配置文件的 headers 段; cliHeaders 为 "Name: Value" 列表
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:  getDefaultHeaders(),
		config:    make(http.Header),
		cli:       make(http.Header),
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
	}

	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	return hm, nil
}

// getDefaultHeaders 图片下载的默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"image/avif,image/webp,image/apng,image/*,*/*;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
		"Accept-Language": []string{DefaultAcceptLanguage},
		"Referer":         []string{"https://www.google.com/"},
	}
}

// Validate 依次验证 默认 → 配置 → 命令行 头部
func (hm *HeaderManager) Validate() error {
	for _, layer := range []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"配置文件", hm.config},
		{"命令行", hm.cli},
	} {
		if err := hm.validator.Validate(layer.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.name, err)
			return err
		}
	}
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.GetMergedHeaders(), nil
}

// UserAgent 合并后的 User-Agent
func (hm *HeaderManager) UserAgent() string {
	if ua := hm.GetMergedHeaders().Get("User-Agent"); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

// AcceptLanguage 合并后的 Accept-Language
func (hm *HeaderManager) AcceptLanguage() string {
	return hm.GetMergedHeaders().Get("Accept-Language")
}
