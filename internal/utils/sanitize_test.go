package utils

import (
	"regexp"
	"strings"
	"testing"
)

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"普通地址", "213/12 Nguyen Gia Tri, Binh Thanh", 100, "21312_Nguyen_Gia_Tri_Binh_Thanh"},
		{"越南语变音符号", "Hồ Gươm, Hà Nội", 100, "Ho_Guom_Ha_Noi"},
		{"đ 转换为 d", "Đà Lạt đẹp", 100, "Da_Lat_dep"},
		{"连字符视为分隔符", "Ba Na - Hills", 100, "Ba_Na_Hills"},
		{"下划线合并", "a__b___c", 100, "a_b_c"},
		{"首尾下划线去除", "__abc__", 100, "abc"},
		{"多余空白", "  Sài   Gòn\t\n", 100, "Sai_Gon"},
		{"空字符串", "", 100, FallbackName},
		{"仅标点", "!!!,,,???", 100, FallbackName},
		{"非拉丁字符", "東京タワー", 100, FallbackName},
		{"截断", "abcdefghij", 5, "abcde"},
		{"截断后去除尾部下划线", "abcd efgh", 5, "abcd"},
		{"非正长度使用默认", strings.Repeat("a", 150), 0, strings.Repeat("a", DefaultMaxNameLength)},
		{"回退名称也受长度限制", "", 8, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input, tt.max); got != tt.want {
				t.Errorf("SanitizeFilename(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameProperties(t *testing.T) {
	inputs := []string{
		"",
		"_",
		"-_-",
		"Phở 24 - Lý Tự Trọng, Quận 1, TP. Hồ Chí Minh",
		"Bến Thành Market 🛒",
		"../../etc/passwd",
		"C:\\Windows\\System32",
		"a  b\t c\n\nd",
		strings.Repeat("Đường ", 40),
		"___x___",
		"x-y-z",
	}
	lengths := []int{1, 5, 16, 17, 100}

	for _, in := range inputs {
		for _, max := range lengths {
			got := SanitizeFilename(in, max)

			if !safeNamePattern.MatchString(got) {
				t.Errorf("SanitizeFilename(%q, %d) = %q 包含非法字符", in, max, got)
			}
			if len(got) > max {
				t.Errorf("SanitizeFilename(%q, %d) = %q 超过长度限制", in, max, got)
			}
			if strings.HasPrefix(got, "_") || strings.HasSuffix(got, "_") {
				t.Errorf("SanitizeFilename(%q, %d) = %q 以下划线开头或结尾", in, max, got)
			}
			if again := SanitizeFilename(got, max); again != got {
				t.Errorf("结果不幂等: %q -> %q", got, again)
			}
		}
	}
}
