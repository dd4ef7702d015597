package outscraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type recorder struct {
	mu      sync.Mutex
	paths   []string
	queries []map[string]string
	keys    []string
}

func newTestClient(t *testing.T, handler func(r *http.Request, w http.ResponseWriter, base string)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.queries = append(rec.queries, q)
		rec.keys = append(rec.keys, r.Header.Get("X-API-KEY"))
		rec.mu.Unlock()
		handler(r, w, srv.URL)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "secret"
	cfg.BaseURL = srv.URL
	cfg.RequestsPerSecond = 0
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c.WithSleep(noSleep), rec
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestPhotos(t *testing.T) {
	tests := []struct {
		name      string
		data      interface{}
		limit     int
		wantURLs  []string
		wantPlace string
	}{
		{
			name: "照片列表",
			data: [][]map[string]string{{
				{"photo_id": "p1", "photo_url": "https://lh5.googleusercontent.com/p/a1=w2048-h2048"},
				{"photo_id": "p2", "photo_url_big": "https://lh5.googleusercontent.com/p/a2=w4096"},
				{"photo_id": "p3"},
			}},
			wantURLs: []string{
				"https://lh5.googleusercontent.com/p/a1=w2048-h2048",
				"https://lh5.googleusercontent.com/p/a2=w4096",
			},
		},
		{
			name: "地点带照片数据",
			data: [][]map[string]interface{}{{
				{
					"name":         "Hồ Gươm",
					"place_id":     "ChIJ1",
					"full_address": "Hoàn Kiếm, Hà Nội",
					"photos_data": []map[string]string{
						{"photo_url": "https://lh5.googleusercontent.com/p/b1=w800"},
						{"photo_url": "https://lh5.googleusercontent.com/p/b2=w800"},
						{"photo_url": "https://lh5.googleusercontent.com/p/b3=w800"},
					},
				},
			}},
			limit: 2,
			wantURLs: []string{
				"https://lh5.googleusercontent.com/p/b1=w800",
				"https://lh5.googleusercontent.com/p/b2=w800",
			},
			wantPlace: "Hồ Gươm",
		},
		{
			name: "没有结果",
			data: [][]map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestClient(t, func(r *http.Request, w http.ResponseWriter, base string) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"id": "req1", "status": "Success", "data": tt.data})
			})

			place, photos, err := c.Photos(context.Background(), "213/12 Nguyễn Gia Trí", tt.limit)
			require.NoError(t, err)

			var urls []string
			for _, p := range photos {
				urls = append(urls, p.URL())
			}
			assert.Equal(t, tt.wantURLs, urls)
			if tt.wantPlace == "" {
				assert.Nil(t, place)
			} else {
				require.NotNil(t, place)
				assert.Equal(t, tt.wantPlace, place.Name)
			}

			require.Len(t, rec.queries, 1)
			q := rec.queries[0]
			assert.Equal(t, "/maps/photos-v3", rec.paths[0])
			assert.Equal(t, "213/12 Nguyễn Gia Trí", q["query"])
			assert.Equal(t, "vi", q["language"])
			assert.Equal(t, "false", q["async"])
			assert.Equal(t, "secret", rec.keys[0])
			assert.Empty(t, q["api_key"], "API key 不应出现在URL中")
		})
	}
}

func TestPhotosPollsPendingRequest(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	c, rec := newTestClient(t, func(r *http.Request, w http.ResponseWriter, base string) {
		if r.URL.Path == "/maps/photos-v3" {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"id": "req1", "status": "Pending", "results_location": base + "/requests/req1",
			})
			return
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n < 2 {
			writeJSON(w, http.StatusOK, map[string]string{"id": "req1", "status": "Pending", "results_location": base + "/requests/req1"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "req1", "status": "Success",
			"data": [][]map[string]string{{{"photo_url": "https://lh5.googleusercontent.com/p/c1=w800"}}},
		})
	})

	_, photos, err := c.Photos(context.Background(), "Hồ Gươm", 0)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, []string{"/maps/photos-v3", "/requests/req1", "/requests/req1"}, rec.paths)
	for _, k := range rec.keys {
		assert.Equal(t, "secret", k)
	}
}

func TestPhotosPollLimit(t *testing.T) {
	c, _ := newTestClient(t, func(r *http.Request, w http.ResponseWriter, base string) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "req1", "status": "Pending", "results_location": base + "/requests/req1"})
	})
	c.cfg.MaxPolls = 3

	_, _, err := c.Photos(context.Background(), "Hồ Gươm", 0)
	assert.True(t, errors.Is(err, ErrAPI))
}

func TestPhotosErrors(t *testing.T) {
	t.Run("HTTP 401", func(t *testing.T) {
		c, _ := newTestClient(t, func(r *http.Request, w http.ResponseWriter, base string) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errorMessage": "Invalid API key"})
		})
		_, _, err := c.Photos(context.Background(), "Hồ Gươm", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAPI))
		assert.Contains(t, err.Error(), "Invalid API key")
	})

	t.Run("请求失败状态", func(t *testing.T) {
		c, _ := newTestClient(t, func(r *http.Request, w http.ResponseWriter, base string) {
			writeJSON(w, http.StatusOK, map[string]string{"id": "req1", "status": "Error", "errorMessage": "quota exceeded"})
		})
		_, _, err := c.Photos(context.Background(), "Hồ Gươm", 0)
		assert.True(t, errors.Is(err, ErrAPI))
	})
}
