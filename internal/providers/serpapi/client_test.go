package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	queries []map[string]string
}

func (r *recorder) add(req *http.Request) map[string]string {
	q := map[string]string{}
	for k, v := range req.URL.Query() {
		q[k] = v[0]
	}
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
	return q
}

func newTestClient(t *testing.T, handler func(q map[string]string, w http.ResponseWriter)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(rec.add(r), w)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "secret"
	cfg.BaseURL = srv.URL + "/search.json"
	cfg.RequestsPerSecond = 0
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, rec
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestFindPlace(t *testing.T) {
	c, rec := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		writeJSON(w, map[string]interface{}{
			"local_results": []map[string]string{
				{"title": "Hồ Gươm", "data_id": "0x123:0x456", "address": "Hoàn Kiếm, Hà Nội"},
				{"title": "Other", "data_id": "0x9"},
			},
		})
	})

	place, err := c.FindPlace(context.Background(), "Hồ Gươm")
	require.NoError(t, err)
	assert.Equal(t, "0x123:0x456", place.DataID)
	assert.Equal(t, "Hồ Gươm", place.Title)

	require.Len(t, rec.queries, 1)
	q := rec.queries[0]
	assert.Equal(t, "google_maps", q["engine"])
	assert.Equal(t, "search", q["type"])
	assert.Equal(t, "vi", q["hl"])
	assert.Equal(t, "secret", q["api_key"])
}

func TestFindPlaceFallsBackToPlaceResults(t *testing.T) {
	c, _ := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		writeJSON(w, map[string]interface{}{
			"place_results": map[string]string{"title": "Chợ Bến Thành", "data_id": "0xabc"},
		})
	})

	place, err := c.FindPlace(context.Background(), "Chợ Bến Thành")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", place.DataID)
}

func TestFindPlaceNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		writeJSON(w, map[string]interface{}{"local_results": []interface{}{}})
	})

	_, err := c.FindPlace(context.Background(), "nowhere")
	assert.True(t, errors.Is(err, ErrPlaceNotFound), "err = %v", err)
}

func TestFindPlaceAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"error": "Invalid API key."})
	})

	_, err := c.FindPlace(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPI))
	assert.Contains(t, err.Error(), "Invalid API key.")
}

func photoPage(prefix string, n int, next string) map[string]interface{} {
	photos := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		photos = append(photos, map[string]interface{}{
			"image":     fmt.Sprintf("https://lh5.googleusercontent.com/p/%s%d=w4000", prefix, i),
			"thumbnail": fmt.Sprintf("https://lh5.googleusercontent.com/p/%s%d=w200", prefix, i),
			"user":      map[string]string{"name": "user" + prefix},
		})
	}
	page := map[string]interface{}{"photos": photos}
	if next != "" {
		page["serpapi_pagination"] = map[string]string{"next": next}
	}
	return page
}

func TestPhotosPagination(t *testing.T) {
	c, rec := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		switch q["next_page_token"] {
		case "":
			writeJSON(w, photoPage("a", 3, "https://serpapi.com/search.json?engine=google_maps_photos&data_id=0x1&next_page_token=T2&api_key=leaked"))
		case "T2":
			writeJSON(w, photoPage("b", 2, ""))
		}
	})

	photos, err := c.Photos(context.Background(), "0x1", 0)
	require.NoError(t, err)
	assert.Len(t, photos, 5)
	assert.Equal(t, "usera", photos[0].UserName())
	assert.Equal(t, "https://lh5.googleusercontent.com/p/b1=w4000", photos[4].Image)

	require.Len(t, rec.queries, 2)
	assert.Equal(t, "T2", rec.queries[1]["next_page_token"])
	assert.Equal(t, "secret", rec.queries[1]["api_key"], "翻页链接中的 api_key 不应覆盖配置")
}

func TestPhotosLimit(t *testing.T) {
	c, rec := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		writeJSON(w, photoPage("a", 4, "https://serpapi.com/search.json?next_page_token=T2"))
	})

	photos, err := c.Photos(context.Background(), "0x1", 3)
	require.NoError(t, err)
	assert.Len(t, photos, 3)
	assert.Len(t, rec.queries, 1, "达到上限后不应继续翻页")
}

func TestPhotosCategory(t *testing.T) {
	c, rec := newTestClient(t, func(q map[string]string, w http.ResponseWriter) {
		writeJSON(w, photoPage("a", 1, ""))
	})
	c.cfg.CategoryID = "CgIgARICCAI"

	_, err := c.Photos(context.Background(), "0x1", 0)
	require.NoError(t, err)
	assert.Equal(t, "CgIgARICCAI", rec.queries[0]["category_id"])
}

func TestPhotoUserNameFallback(t *testing.T) {
	assert.Equal(t, "Unknown", Photo{}.UserName())
}
