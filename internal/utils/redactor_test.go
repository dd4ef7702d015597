package utils

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderRedactor(t *testing.T) {
	r := NewHeaderRedactor()
	headers := http.Header{
		"Authorization": []string{"Bearer abc.def"},
		"X-Api-Key":     []string{"1234567890abcdef"},
		"User-Agent":    []string{"Mozilla/5.0"},
	}

	safe := r.Redact(headers)
	if safe["Authorization"] != "Bearer ***" {
		t.Errorf("Authorization = %q", safe["Authorization"])
	}
	if safe["X-Api-Key"] != "1234***cdef" {
		t.Errorf("X-Api-Key = %q", safe["X-Api-Key"])
	}
	if safe["User-Agent"] != "Mozilla/5.0" {
		t.Errorf("非敏感头部不应脱敏: %q", safe["User-Agent"])
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		hidden string
	}{
		{"SerpAPI", "https://serpapi.com/search.json?engine=google_maps&api_key=SECRET123&q=hue", "SECRET123"},
		{"Goong", "https://rsapi.goong.io/geocode?address=Hue&api_key=GOONGKEY", "GOONGKEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactURL(tt.in)
			if strings.Contains(got, tt.hidden) {
				t.Errorf("RedactURL() = %q 仍包含密钥", got)
			}
			if !strings.Contains(got, "api_key=%2A%2A%2A") {
				t.Errorf("RedactURL() = %q 缺少脱敏占位", got)
			}
		})
	}

	plain := "https://lh5.googleusercontent.com/p/abc=w2048-h2048"
	if got := RedactURL(plain); got != plain {
		t.Errorf("无密钥的URL不应修改: %q", got)
	}
}
