package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
)

// ValidateFlags 验证爬取命令的标志; 0 或空值表示使用配置文件中的值
func ValidateFlags(
	location string,
	locationFile string,
	maxImages int,
	retries int,
	workers int,
	concurrency int,
	timeout time.Duration,
	mode string,
) error {
	if location != "" && locationFile != "" {
		return fmt.Errorf("--location 与 --location-file 不能同时使用")
	}
	if location != "" && strings.TrimSpace(location) == "" {
		return models.ErrMissingLocation
	}

	if maxImages < 0 || maxImages > 1000 {
		return fmt.Errorf("最大图片数必须在1-1000之间,当前值: %d", maxImages)
	}
	if retries < 0 || retries > 20 {
		return fmt.Errorf("重试次数必须在1-20之间,当前值: %d", retries)
	}
	if workers < 0 || workers > 32 {
		return fmt.Errorf("下载并发数必须在1-32之间,当前值: %d", workers)
	}
	if concurrency < 0 || concurrency > 16 {
		return fmt.Errorf("地点并发数必须在1-16之间,当前值: %d", concurrency)
	}
	if timeout < 0 {
		return fmt.Errorf("超时时间不能为负数: %v", timeout)
	}

	if mode != "" {
		if _, err := models.ParseCrawlMode(mode); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRouteFlags 验证 route 子命令的三个地址
func ValidateRouteFlags(work, home, gym string) error {
	var missing []string
	for name, v := range map[string]string{"--work": work, "--home": home, "--gym": gym} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少地址参数: %s", strings.Join(missing, ", "))
	}
	return nil
}
