package crawlers

import (
	"testing"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name     string
		raw      string
		accepted bool
		kind     models.ImageKind
		want     string
	}{
		{
			name:     "用户照片升级尺寸",
			raw:      "https://lh5.googleusercontent.com/p/AF1QipN=w408-h306-k-no",
			accepted: true,
			kind:     models.KindPhoto,
			want:     "https://lh5.googleusercontent.com/p/AF1QipN=w2048-h2048",
		},
		{
			name:     "静态内容CDN",
			raw:      "https://lh3.ggpht.com/abc=w300",
			accepted: true,
			kind:     models.KindPhoto,
			want:     "https://lh3.ggpht.com/abc=w2048-h2048",
		},
		{
			name:     "街景查询参数升级",
			raw:      "https://streetviewpixels-pa.googleapis.com/v1/thumbnail?panoid=x&cb_client=maps&w=203&h=100&yaw=1",
			accepted: true,
			kind:     models.KindStreetView,
			want:     "https://streetviewpixels-pa.googleapis.com/v1/thumbnail?cb_client=maps&h=600&panoid=x&w=1200&yaw=1",
		},
		{
			name:     "等号仅在查询串中时保持原样",
			raw:      "https://lh5.googleusercontent.com/p/AF1Q?authuser=0",
			accepted: true,
			kind:     models.KindPhoto,
			want:     "https://lh5.googleusercontent.com/p/AF1Q?authuser=0",
		},
		{
			name:     "主机名大小写不敏感",
			raw:      "https://LH5.GoogleUserContent.com/p/X=w100",
			accepted: true,
			kind:     models.KindPhoto,
			want:     "https://LH5.GoogleUserContent.com/p/X=w2048-h2048",
		},
		{
			name:     "w480 不是小尺寸",
			raw:      "https://lh5.googleusercontent.com/p/AF1Q=w480-h320-k-no",
			accepted: true,
			kind:     models.KindPhoto,
			want:     "https://lh5.googleusercontent.com/p/AF1Q=w2048-h2048",
		},
		{
			name:     "只有等号后的 h48 算小尺寸",
			raw:      "https://lh5.googleusercontent.com/p/AF1Q=w480-h48",
			accepted: true,
			kind:     models.KindPhoto,
			want:     "https://lh5.googleusercontent.com/p/AF1Q=w2048-h2048",
		},
		{name: "logo 关键字", raw: "https://lh5.googleusercontent.com/p/logo123=w400"},
		{name: "地图瓦片", raw: "https://www.google.com/maps/vt/icon/name=x"},
		{name: "s0 原图标记", raw: "https://lh5.googleusercontent.com/a/ACg8=s0"},
		{name: "头像尺寸", raw: "https://lh5.googleusercontent.com/a/ACg8=w48-h48-p"},
		{name: "未知域名", raw: "https://maps.gstatic.com/mapfiles/x.png"},
		{name: "伪造后缀", raw: "https://googleusercontent.com.evil.com/p/x=w100"},
		{name: "googleapis 非缩略图接口", raw: "https://maps.googleapis.com/maps/api/js"},
		{name: "data URI", raw: "data:image/png;base64,iVBORw0KGgo="},
		{name: "空字符串", raw: ""},
		{name: "普通站点", raw: "https://example.com/photo.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.raw)
			if ok != tt.accepted {
				t.Fatalf("Classify(%q) accepted = %v, want %v", tt.raw, ok, tt.accepted)
			}
			if !ok {
				return
			}
			if got.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.kind)
			}
			if got.URL != tt.want {
				t.Errorf("URL = %q, want %q", got.URL, tt.want)
			}
			if got.Original != tt.raw {
				t.Errorf("Original = %q, want %q", got.Original, tt.raw)
			}
		})
	}
}

func TestUpgradeStreetViewToken(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "w203-h100",
			raw:  "https://streetviewpixels-pa.googleapis.com/v1/p/x=w203-h100-k-no",
			want: "https://streetviewpixels-pa.googleapis.com/v1/p/x=w1200-h600-k-no",
		},
		{
			name: "w408-h200",
			raw:  "https://streetviewpixels-pa.googleapis.com/v1/p/x=w408-h200",
			want: "https://streetviewpixels-pa.googleapis.com/v1/p/x=w1200-h600",
		},
		{
			name: "其他尺寸保持原样",
			raw:  "https://streetviewpixels-pa.googleapis.com/v1/thumbnail?panoid=x&w=640&h=320",
			want: "https://streetviewpixels-pa.googleapis.com/v1/thumbnail?panoid=x&w=640&h=320",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Upgrade(tt.raw, models.KindStreetView); got != tt.want {
				t.Errorf("Upgrade() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpgradeIsStable(t *testing.T) {
	c := NewClassifier()
	raw := "https://lh5.googleusercontent.com/p/AF1QipN=w408-h306-k-no"

	first, ok := c.Classify(raw)
	if !ok {
		t.Fatal("首次分类被拒绝")
	}
	second, ok := c.Classify(first.URL)
	if !ok {
		t.Fatal("升级后的URL被拒绝")
	}
	if second.URL != first.URL {
		t.Errorf("再次升级改变了URL: %q -> %q", first.URL, second.URL)
	}
}
