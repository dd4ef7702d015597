package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadLocationsFromFile 从文件中读取地点列表,每行一个,跳过空行和 # 注释
func ReadLocationsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开地点文件失败: %w", err)
	}
	defer file.Close()

	locations := make([]string, 0)
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			Warnf("跳过重复地点 (行 %d): %s", lineNum, line)
			continue
		}
		seen[line] = true
		locations = append(locations, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取地点文件失败: %w", err)
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("地点文件中没有有效的地点")
	}

	Infof("从文件加载了 %d 个地点", len(locations))
	return locations, nil
}

// EnsureDir 确保目录存在
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败 %s: %w", dir, err)
	}
	return nil
}
