package storage

import (
	"errors"
	"fmt"
	"os"

	exif "github.com/dsoprea/go-exif/v3"
)

// ExifTags 写入清单的 EXIF 标签
var ExifTags = map[string]bool{
	"Make":             true,
	"Model":            true,
	"LensModel":        true,
	"Software":         true,
	"DateTime":         true,
	"DateTimeOriginal": true,
	"GPSLatitude":      true,
	"GPSLatitudeRef":   true,
	"GPSLongitude":     true,
	"GPSLongitudeRef":  true,
	"GPSAltitude":      true,
}

// ReadExif 读取图片中的相机与位置标签; 没有 EXIF 时返回 nil, nil
// CDN 通常会去掉 EXIF,所以空结果是常态
func ReadExif(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取图片失败: %w", err)
	}
	return ParseExif(data)
}

// ParseExif 从图片字节中提取 ExifTags 列出的标签
func ParseExif(data []byte) (map[string]string, error) {
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, nil
		}
		return nil, fmt.Errorf("查找EXIF失败: %w", err)
	}

	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("解析EXIF失败: %w", err)
	}

	tags := make(map[string]string)
	for _, entry := range entries {
		if ExifTags[entry.TagName] && entry.Formatted != "" {
			tags[entry.TagName] = entry.Formatted
		}
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}
