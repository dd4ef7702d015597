package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxPhotoSize 单张图片最大 50MB
	MaxPhotoSize = 50 * 1024 * 1024
)

// ImageKind 图片类别,仅用于展示
type ImageKind string

const (
	KindPhoto      ImageKind = "photo"
	KindStreetView ImageKind = "streetview"
)

// Label 日志中使用的类别名称
func (k ImageKind) Label() string {
	if k == KindStreetView {
		return "Street View"
	}
	return "Photo"
}

// PhotoExtensions 支持的图片扩展名
var PhotoExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// PhotoFile 已保存的图片
type PhotoFile struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	FilePath string    `json:"file_path"`
	Index    int       `json:"index"` // 从1开始,与文件名中的序号一致
	Kind     ImageKind `json:"kind"`

	Hash        string `json:"hash"` // SHA-256
	Size        int64  `json:"size"`
	Extension   string `json:"extension"`
	ContentType string `json:"content_type,omitempty"`
	Attempts    int    `json:"attempts"`

	Exif map[string]string `json:"exif,omitempty"`

	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewPhotoFile 创建图片记录
func NewPhotoFile(url, path string, index int, kind ImageKind) *PhotoFile {
	return &PhotoFile{
		ID:           generateID(),
		URL:          url,
		FilePath:     path,
		Index:        index,
		Kind:         kind,
		DownloadedAt: time.Now(),
	}
}

// IsValidExtension 检查扩展名是否有效
func (f *PhotoFile) IsValidExtension() bool {
	for _, ext := range PhotoExtensions {
		if f.Extension == ext {
			return true
		}
	}
	return false
}

// ValidateSize 验证文件大小
func (f *PhotoFile) ValidateSize() error {
	if f.Size <= 0 {
		return fmt.Errorf("文件大小必须大于0")
	}
	if f.Size > MaxPhotoSize {
		return fmt.Errorf("文件大小超过限制: %d > %d", f.Size, MaxPhotoSize)
	}
	return nil
}

// ToJSON 序列化为JSON
func (f *PhotoFile) ToJSON() ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// FailedPhoto 下载失败的图片
type FailedPhoto struct {
	URL       string `json:"url"`
	Index     int    `json:"index"`
	ErrorType string `json:"error_type"` // timeout, bad_status, empty_body, network_error, cancelled
	ErrorMsg  string `json:"error_msg"`
	Retries   int    `json:"retries"`
}
