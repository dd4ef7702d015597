package route

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct{ lat, lng float64 }

// fakeGoong 按地址返回固定坐标,按坐标对返回固定路程
type fakeGoong struct {
	places  map[string]point
	routes  map[string][2]int // "origin|dest" -> {米, 秒}
	keys    atomic.Value
	geocode atomic.Int32
	matrix  atomic.Int32
}

func newFakeGoong() *fakeGoong {
	return &fakeGoong{
		places: map[string]point{
			"work": {1, 1},
			"home": {2, 2},
			"gym":  {3, 3},
		},
		routes: map[string][2]int{
			"1,1|2,2": {10000, 1200},
			"2,2|3,3": {4000, 600},
			"1,1|3,3": {6000, 1800},
		},
	}
}

func (f *fakeGoong) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.keys.Store(q.Get("api_key"))
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/geocode":
		f.geocode.Add(1)
		p, ok := f.places[q.Get("address")]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ZERO_RESULTS", "results": []interface{}{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"results": []interface{}{map[string]interface{}{
				"formatted_address": q.Get("address") + ", Hà Nội",
				"geometry": map[string]interface{}{
					"location": map[string]float64{"lat": p.lat, "lng": p.lng},
				},
			}},
		})
	case "/DistanceMatrix":
		f.matrix.Add(1)
		rt, ok := f.routes[q.Get("origins")+"|"+q.Get("destinations")]
		status := "OK"
		if !ok {
			status = "ZERO_RESULTS"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"rows": []interface{}{map[string]interface{}{
				"elements": []interface{}{map[string]interface{}{
					"status":   status,
					"distance": map[string]interface{}{"text": "x km", "value": rt[0]},
					"duration": map[string]interface{}{"text": "x mins", "value": rt[1]},
				}},
			}},
		})
	default:
		http.NotFound(w, r)
	}
}

func newGoongClient(t *testing.T, fake http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "goong-key"
	cfg.BaseURL = srv.URL
	cfg.RequestsPerSecond = 0
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestGeocode(t *testing.T) {
	fake := newFakeGoong()
	c := newGoongClient(t, fake)

	loc, err := c.Geocode(context.Background(), "home")
	require.NoError(t, err)
	assert.Equal(t, 2.0, loc.Lat)
	assert.Equal(t, 2.0, loc.Lng)
	assert.Equal(t, "home, Hà Nội", loc.Address)
	assert.Equal(t, "goong-key", fake.keys.Load())

	_, err = c.Geocode(context.Background(), "nowhere")
	assert.True(t, errors.Is(err, ErrGeocodeFailed))
}

func TestDistance(t *testing.T) {
	c := newGoongClient(t, newFakeGoong())

	r, err := c.Distance(context.Background(), Location{Lat: 1, Lng: 1}, Location{Lat: 2, Lng: 2}, "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.DistanceKm)
	assert.Equal(t, 20.0, r.DurationMinutes)
	assert.Equal(t, 1200, r.DurationSeconds)

	_, err = c.Distance(context.Background(), Location{Lat: 9, Lng: 9}, Location{Lat: 2, Lng: 2}, "car")
	assert.True(t, errors.Is(err, ErrRouteFailed))
}

func TestEvaluate(t *testing.T) {
	fake := newFakeGoong()
	c := newGoongClient(t, fake)

	e, err := c.Evaluate(context.Background(), "work", "home", "gym")
	require.NoError(t, err)

	assert.Equal(t, Legs{WorkHome: 10, HomeGym: 4, WorkGym: 6}, e.Distances)
	assert.Equal(t, Legs{WorkHome: 20, HomeGym: 10, WorkGym: 30}, e.Times)
	assert.InDelta(t, 4.125, e.Evaluation, 1e-9)
	assert.Equal(t, int32(3), fake.geocode.Load())
	assert.Equal(t, int32(3), fake.matrix.Load())
}

func TestEvaluateGeocodeFailure(t *testing.T) {
	fake := newFakeGoong()
	c := newGoongClient(t, fake)

	_, err := c.Evaluate(context.Background(), "work", "nowhere", "gym")
	assert.True(t, errors.Is(err, ErrGeocodeFailed))
	assert.Equal(t, int32(0), fake.matrix.Load(), "地址解析失败时不应请求路线")
}
