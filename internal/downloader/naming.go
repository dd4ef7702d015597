package downloader

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultExtension URL中没有可识别扩展名时使用
const DefaultExtension = ".jpg"

var extensionPattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp)`)

// ExtensionFor 返回URL中第一个图片扩展名(小写,带点),找不到时返回 .jpg
//
// CDN 地址通常没有扩展名,所以大多数文件会落到默认值
func ExtensionFor(rawURL string) string {
	m := extensionPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return DefaultExtension
	}
	return "." + strings.ToLower(m[1])
}

// FileName 生成 {safe}_{index:03d}{ext}
func FileName(safeName string, index int, ext string) string {
	return fmt.Sprintf("%s_%03d%s", safeName, index, ext)
}
