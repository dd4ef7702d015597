package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func initTestLogger(t *testing.T, level string) string {
	t.Helper()
	dir := t.TempDir()
	err := InitLogger(LogConfig{
		Level:      level,
		LogDir:     dir,
		MaxSize:    10,
		MaxBackups: 1,
		MaxAge:     1,
		NoConsole:  true,
	})
	if err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	t.Cleanup(func() { Logger = zerolog.Nop() })
	return dir
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	return string(content)
}

func TestInitLogger(t *testing.T) {
	dir := initTestLogger(t, "debug")

	Info("测试信息日志")
	Debugf("调试: %d", 42)

	content := readLog(t, filepath.Join(dir, MainLogFile))
	if !strings.Contains(content, "测试信息日志") {
		t.Errorf("主日志缺少信息日志: %s", content)
	}
	if !strings.Contains(content, "调试: 42") {
		t.Errorf("debug 级别下应写入调试日志: %s", content)
	}
}

func TestLogLevelFilter(t *testing.T) {
	dir := initTestLogger(t, "info")

	Debug("不应出现的调试日志")
	Warnf("警告 %s", "出现")

	content := readLog(t, filepath.Join(dir, MainLogFile))
	if strings.Contains(content, "不应出现的调试日志") {
		t.Error("info 级别下不应写入调试日志")
	}
	if !strings.Contains(content, "警告 出现") {
		t.Error("缺少警告日志")
	}
}

func TestErrorLogOnlyHoldsErrors(t *testing.T) {
	dir := initTestLogger(t, "info")

	Warn("只是警告")
	Error(errors.New("磁盘已满"), "下载失败")

	content := readLog(t, filepath.Join(dir, ErrorLogFile))
	if strings.Contains(content, "只是警告") {
		t.Error("错误日志中不应包含警告")
	}
	if !strings.Contains(content, "磁盘已满") {
		t.Errorf("错误日志缺少错误内容: %s", content)
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 100 || config.MaxBackups != 3 || config.MaxAge != 7 {
		t.Errorf("默认轮转配置错误: %+v", config)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
}
