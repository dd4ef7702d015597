package crawlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/browser/browsertest"
	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
)

func newTestDiscoverer(iterations int) *Discoverer {
	cfg := models.DefaultCrawlConfig()
	cfg.ScrollIterations = iterations
	return NewDiscoverer(cfg, nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})
}

func photo(id string) string {
	return fmt.Sprintf("https://lh5.googleusercontent.com/p/%s=w408-h306-k-no", id)
}

func large(id string) string {
	return fmt.Sprintf("https://lh5.googleusercontent.com/p/%s=w2048-h2048", id)
}

func searchablePage() *browsertest.Page {
	return browsertest.NewPage().
		With(SearchInputSelector, browsertest.Button("")).
		With(ResultIndicatorSelector, browsertest.Button(""))
}

func TestSearchFound(t *testing.T) {
	d := newTestDiscoverer(3)
	page := searchablePage()

	found, err := d.Search(context.Background(), page, "Hồ Gươm")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !found {
		t.Fatal("Search() = false, want true")
	}
	if got := page.Navigations(); len(got) != 1 || got[0] != d.cfg.BaseURL {
		t.Errorf("Navigations() = %v", got)
	}
	if got := page.Submitted(SearchInputSelector); got != "Hồ Gươm" {
		t.Errorf("提交的文本 = %q", got)
	}
}

func TestSearchNotFound(t *testing.T) {
	tests := []struct {
		name string
		page *browsertest.Page
	}{
		{"没有搜索框", browsertest.NewPage()},
		{"没有搜索结果", browsertest.NewPage().With(SearchInputSelector, browsertest.Button(""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := newTestDiscoverer(3).Search(context.Background(), tt.page, "nowhere")
			if err != nil {
				t.Fatalf("未找到不应返回错误: %v", err)
			}
			if found {
				t.Error("Search() = true, want false")
			}
		})
	}
}

func TestSearchNavigateFailure(t *testing.T) {
	page := searchablePage()
	page.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err := newTestDiscoverer(3).Search(context.Background(), page, "x")
	if !errors.Is(err, browser.ErrSessionFailure) {
		t.Fatalf("err = %v, want ErrSessionFailure", err)
	}
}

func TestSearchOpensFirstResult(t *testing.T) {
	first, second := browsertest.Button("A"), browsertest.Button("B")
	page := searchablePage().With(ResultLinkSelector, first, second)

	found, err := newTestDiscoverer(3).Search(context.Background(), page, "cafe")
	if err != nil || !found {
		t.Fatalf("Search() = %v, %v", found, err)
	}
	if first.Clicks() != 1 || second.Clicks() != 0 {
		t.Errorf("点击次数 first=%d second=%d", first.Clicks(), second.Clicks())
	}
}

func TestDiscoverResults(t *testing.T) {
	// 点击结果时用该结果的图片替换面板中的图片
	result := func(page *browsertest.Page, ids ...string) *browsertest.Element {
		link := browsertest.Button("")
		link.OnClick = func() {
			var imgs []*browsertest.Element
			for _, id := range ids {
				imgs = append(imgs, browsertest.Image(photo(id)))
			}
			page.Set(ImageSelector, imgs...)
		}
		return link
	}

	t.Run("依次处理多个结果", func(t *testing.T) {
		d := newTestDiscoverer(3)
		d.cfg.MaxResults = 3
		page := searchablePage()
		a := result(page, "a1", "a2", "a3")
		b := result(page, "b1", "b2")
		c := result(page, "c1")
		page.With(ResultLinkSelector, a, b, c)

		found, err := d.Search(context.Background(), page, "cafe")
		if err != nil || !found {
			t.Fatalf("Search() = %v, %v", found, err)
		}
		if a.Clicks() != 0 {
			t.Fatal("处理多个结果时 Search 不应打开第一个结果")
		}

		res, err := d.DiscoverResults(context.Background(), page, 4)
		if err != nil {
			t.Fatalf("DiscoverResults() error = %v", err)
		}
		want := []string{large("a1"), large("a2"), large("b1"), large("b2")}
		if !reflect.DeepEqual(res.URLs, want) {
			t.Errorf("URLs = %v, want %v", res.URLs, want)
		}
		if res.State != StateCapReached {
			t.Errorf("State = %s, want %s", res.State, StateCapReached)
		}
		if a.Clicks() != 1 || b.Clicks() != 1 || c.Clicks() != 0 {
			t.Errorf("点击次数 a=%d b=%d c=%d", a.Clicks(), b.Clicks(), c.Clicks())
		}
	})

	t.Run("结果不足时用完全部", func(t *testing.T) {
		d := newTestDiscoverer(2)
		d.cfg.MaxResults = 3
		page := searchablePage()
		a := result(page, "a1")
		b := result(page, "a1", "b1")
		page.With(ResultLinkSelector, a, b)

		res, err := d.DiscoverResults(context.Background(), page, 10)
		if err != nil {
			t.Fatalf("DiscoverResults() error = %v", err)
		}
		if want := []string{large("a1"), large("b1")}; !reflect.DeepEqual(res.URLs, want) {
			t.Errorf("URLs = %v, want %v", res.URLs, want)
		}
		if res.State != StateScrollBudgetExhausted {
			t.Errorf("State = %s", res.State)
		}
	})

	t.Run("只有一个结果", func(t *testing.T) {
		d := newTestDiscoverer(2)
		d.cfg.MaxResults = 3
		page := searchablePage().WithImages(photo("x"))
		only := browsertest.Button("")
		page.With(ResultLinkSelector, only)

		res, err := d.DiscoverResults(context.Background(), page, 5)
		if err != nil {
			t.Fatalf("DiscoverResults() error = %v", err)
		}
		if len(res.URLs) != 1 || only.Clicks() != 0 {
			t.Errorf("URLs = %v, clicks = %d", res.URLs, only.Clicks())
		}
	})
}

func TestOpenGallery(t *testing.T) {
	t.Run("点击缩略图", func(t *testing.T) {
		logo := browsertest.Image("https://lh5.googleusercontent.com/logo.png")
		thumb := browsertest.Image(photo("a"))
		page := browsertest.NewPage().With(ThumbnailLocators[0].Selector, logo, thumb)

		opened, err := newTestDiscoverer(3).OpenGallery(context.Background(), page)
		if err != nil || !opened {
			t.Fatalf("OpenGallery() = %v, %v", opened, err)
		}
		if logo.Clicks() != 0 {
			t.Error("logo 缩略图不应被点击")
		}
		if thumb.Clicks() != 1 {
			t.Errorf("缩略图点击次数 = %d, want 1", thumb.Clicks())
		}
	})

	t.Run("照片标签页", func(t *testing.T) {
		overview, photos := browsertest.Button("Overview"), browsertest.Button("Photos")
		page := browsertest.NewPage().With(`[role="tab"]`, overview, photos)

		opened, err := newTestDiscoverer(3).OpenGallery(context.Background(), page)
		if err != nil || !opened {
			t.Fatalf("OpenGallery() = %v, %v", opened, err)
		}
		if overview.Clicks() != 0 || photos.Clicks() != 1 {
			t.Errorf("点击次数 overview=%d photos=%d", overview.Clicks(), photos.Clicks())
		}
	})

	t.Run("没有入口", func(t *testing.T) {
		opened, err := newTestDiscoverer(3).OpenGallery(context.Background(), browsertest.NewPage())
		if err != nil {
			t.Fatalf("没有图库不应返回错误: %v", err)
		}
		if opened {
			t.Error("OpenGallery() = true, want false")
		}
	})

	t.Run("只尝试前N个缩略图", func(t *testing.T) {
		d := newTestDiscoverer(3)
		var els []*browsertest.Element
		for i := 0; i < d.cfg.ThumbnailsPerStrategy; i++ {
			els = append(els, browsertest.Image(fmt.Sprintf("https://maps.gstatic.com/mapfiles/icon_%d.png", i)))
		}
		late := browsertest.Image(photo("late"))
		page := browsertest.NewPage().With(ThumbnailLocators[0].Selector, append(els, late)...)

		opened, err := d.OpenGallery(context.Background(), page)
		if err != nil {
			t.Fatalf("OpenGallery() error = %v", err)
		}
		if opened {
			t.Error("OpenGallery() = true, want false")
		}
		if late.Clicks() != 0 {
			t.Errorf("超出每策略上限的缩略图不应被点击, clicks = %d", late.Clicks())
		}
		for i, el := range els {
			if el.Clicks() != 0 {
				t.Errorf("第 %d 个图标缩略图不应被点击", i+1)
			}
		}
	})

	t.Run("跳过街景缩略图", func(t *testing.T) {
		street := browsertest.Image("https://streetviewpixels-pa.googleapis.com/v1/thumbnail?panoid=abc&w=203&h=100")
		thumb := browsertest.Image(photo("c"))
		page := browsertest.NewPage().With(ThumbnailLocators[0].Selector, street, thumb)

		opened, err := newTestDiscoverer(3).OpenGallery(context.Background(), page)
		if err != nil || !opened {
			t.Fatalf("OpenGallery() = %v, %v", opened, err)
		}
		if street.Clicks() != 0 {
			t.Error("街景缩略图不应被点击")
		}
		if thumb.Clicks() != 1 {
			t.Errorf("缩略图点击次数 = %d, want 1", thumb.Clicks())
		}
	})

	t.Run("元素错误被忽略", func(t *testing.T) {
		broken := &browsertest.Element{AttrErr: errors.New("node detached"), ClickErr: errors.New("node detached")}
		unclickable := browsertest.Image(photo("b"))
		unclickable.ClickErr = errors.New("element is covered")
		page := browsertest.NewPage().With(ThumbnailLocators[1].Selector, broken, unclickable)
		page.QueryErrs[ThumbnailLocators[0].Selector] = errors.New("invalid selector")

		opened, err := newTestDiscoverer(3).OpenGallery(context.Background(), page)
		if err != nil {
			t.Fatalf("元素错误不应传播: %v", err)
		}
		if opened {
			t.Error("OpenGallery() = true, want false")
		}
	})
}

func TestDiscoverCapReached(t *testing.T) {
	page := browsertest.NewPage().
		WithImages(photo("1"), "https://lh5.googleusercontent.com/logo.png", photo("2")).
		WithImages(photo("2"), photo("3"), photo("4"))

	result, err := newTestDiscoverer(10).Discover(context.Background(), page, 3)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if result.State != StateCapReached {
		t.Errorf("State = %s, want %s", result.State, StateCapReached)
	}
	if want := []string{large("1"), large("2"), large("3")}; !reflect.DeepEqual(result.URLs, want) {
		t.Errorf("URLs = %v, want %v", result.URLs, want)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
}

func TestDiscoverScrollBudgetExhausted(t *testing.T) {
	page := browsertest.NewPage().
		WithImages(photo("1"), photo("1")).
		WithImages(photo("2"))
	page.With(ImageSelector, &browsertest.Element{AttrErr: errors.New("stale element")})

	result, err := newTestDiscoverer(4).Discover(context.Background(), page, 20)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if result.State != StateScrollBudgetExhausted {
		t.Errorf("State = %s, want %s", result.State, StateScrollBudgetExhausted)
	}
	if len(result.URLs) != 2 {
		t.Errorf("URLs = %v, want 2 个", result.URLs)
	}
	if page.Scrolls() != 4 {
		t.Errorf("Scrolls() = %d, want 4", page.Scrolls())
	}
	if result.GalleryOpened {
		t.Error("没有图库入口时 GalleryOpened 应为 false")
	}
}

func TestDiscoverClicksNextInGallery(t *testing.T) {
	next := browsertest.Button("Next")
	page := browsertest.NewPage().
		With(ThumbnailLocators[0].Selector, browsertest.Image(photo("t"))).
		With(NextButtonSelector, next).
		WithImages(photo("1"))

	result, err := newTestDiscoverer(3).Discover(context.Background(), page, 20)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if !result.GalleryOpened {
		t.Error("GalleryOpened = false")
	}
	if next.Clicks() != 3 {
		t.Errorf("下一张点击次数 = %d, want 3", next.Clicks())
	}
}

func TestDiscoverSessionFailure(t *testing.T) {
	t.Run("枚举图片失败", func(t *testing.T) {
		page := browsertest.NewPage()
		page.QueryErrs[ImageSelector] = errors.New("target closed")

		_, err := newTestDiscoverer(3).Discover(context.Background(), page, 5)
		if !errors.Is(err, browser.ErrSessionFailure) {
			t.Fatalf("err = %v, want ErrSessionFailure", err)
		}
	})

	t.Run("滚动失败", func(t *testing.T) {
		page := browsertest.NewPage().WithImages(photo("1"))
		page.ScrollErr = errors.New("websocket closed")

		result, err := newTestDiscoverer(3).Discover(context.Background(), page, 5)
		if !errors.Is(err, browser.ErrSessionFailure) {
			t.Fatalf("err = %v, want ErrSessionFailure", err)
		}
		if len(result.URLs) != 1 {
			t.Errorf("失败前收集的URL应保留, got %v", result.URLs)
		}
	})

	t.Run("枚举图片卡住", func(t *testing.T) {
		d := newTestDiscoverer(3)
		d.cfg.PageTimeout = 20 * time.Millisecond
		page := browsertest.NewPage()
		page.Hangs[ImageSelector] = true

		done := make(chan error, 1)
		go func() {
			_, err := d.Discover(context.Background(), page, 5)
			done <- err
		}()

		select {
		case err := <-done:
			if !errors.Is(err, browser.ErrSessionFailure) {
				t.Fatalf("err = %v, want ErrSessionFailure", err)
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("err = %v, 应包含 DeadlineExceeded", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("页面操作卡住时扫描没有返回")
		}
	})

	t.Run("ctx 取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestDiscoverer(3).Discover(ctx, browsertest.NewPage().WithImages(photo("1")), 5)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}
