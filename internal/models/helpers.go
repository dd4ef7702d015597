package models

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// ValidateURL 检查地图入口或API基地址是否为可请求的 http(s) 地址
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return fmt.Errorf("无效的URL %q: %w", raw, err)
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("URL %q 必须使用 http 或 https", raw)
	case u.Host == "":
		return fmt.Errorf("URL %q 缺少主机名", raw)
	}
	return nil
}

// generateID 会话与照片记录的ID
func generateID() string {
	return uuid.NewString()
}
