package downloader

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// decodeBody 根据 Content-Encoding 包装响应体
// 请求头显式携带 Accept-Encoding 时 Transport 不会自动解压,需要在这里处理
func decodeBody(contentEncoding string, body io.Reader) (io.ReadCloser, error) {
	switch encoding := strings.ToLower(strings.TrimSpace(contentEncoding)); encoding {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		return r, nil
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil
	default:
		utils.Warnf("未知的Content-Encoding: %s,按原始内容保存", contentEncoding)
		return io.NopCloser(body), nil
	}
}
