package utils

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxNameLength 文件名默认最大长度
	DefaultMaxNameLength = 100
	// FallbackName 清理后为空时使用的名称
	FallbackName = "unknown_location"
)

var (
	separatorRun  = regexp.MustCompile(`[\s-]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// SanitizeFilename 将任意地点文本转换为安全的文件名
// 结果只包含 [A-Za-z0-9_],不以下划线开头或结尾,长度不超过 maxLength
func SanitizeFilename(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxNameLength
	}

	var b strings.Builder
	for _, r := range foldDiacritics(text) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '_' || r == '-' || unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}

	name := separatorRun.ReplaceAllString(b.String(), "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > maxLength {
		name = strings.TrimRight(name[:maxLength], "_")
	}

	if name == "" {
		name = FallbackName
		if len(name) > maxLength {
			name = strings.TrimRight(name[:maxLength], "_")
		}
	}
	return name
}

// foldDiacritics 去除变音符号: "Nguyễn Huệ" -> "Nguyen Hue"
func foldDiacritics(text string) string {
	t := transform.Chain(
		runes.Map(func(r rune) rune {
			switch r {
			case 'đ':
				return 'd'
			case 'Đ':
				return 'D'
			}
			return r
		}),
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}
