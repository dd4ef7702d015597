package browser

import (
	"context"
	"errors"
	"runtime"
	"testing"
)

const mb = 1024 * 1024

func newTestMonitor(available uint64, usage float64, err error) *ResourceMonitor {
	rm := &ResourceMonitor{
		config: ResourceMonitorConfig{
			SafetyReserveMemory: 512 * mb,
			SessionMemoryUsage:  256 * mb,
			CPULoadThreshold:    90,
			MaxSessionsLimit:    64,
		},
		sample: func() (uint64, float64, error) { return available, usage, err },
	}
	rm.Refresh()
	return rm
}

func TestCalculateMaxSessions(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		want      int
	}{
		{"内存低于保留值时至少1个", 100 * mb, 1},
		{"刚好一个会话", 512*mb + 256*mb, 1},
		{"四个会话", 512*mb + 4*256*mb, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newTestMonitor(tt.available, 10, nil)
			want := min(tt.want, runtime.NumCPU())
			if got := rm.CalculateMaxSessions(); got != want {
				t.Errorf("CalculateMaxSessions() = %d, want %d", got, want)
			}
		})
	}
}

func TestCheckResourceAvailability(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		usage     float64
		want      bool
	}{
		{"资源充足", 4096 * mb, 20, true},
		{"内存不足", 600 * mb, 20, false},
		{"CPU过载", 4096 * mb, 95, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := newTestMonitor(tt.available, tt.usage, nil).CheckResourceAvailability()
			if ok != tt.want {
				t.Errorf("CheckResourceAvailability() = %v (%s), want %v", ok, reason, tt.want)
			}
			if !ok && reason == "" {
				t.Error("不可用时应给出原因")
			}
		})
	}
}

func TestRefreshFallsBackOnSampleError(t *testing.T) {
	rm := newTestMonitor(0, 0, errors.New("不支持的平台"))
	if ok, reason := rm.CheckResourceAvailability(); !ok {
		t.Errorf("采样失败时应按默认内存估算, got reason %q", reason)
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	pool := NewPool(Options{}, 1, nil)
	pool.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("名额已满且ctx取消时应返回 context.Canceled, got %v", err)
	}
	if pool.Size() != 1 {
		t.Errorf("Size() = %d, want 1", pool.Size())
	}
}

func TestPoolClosedRejectsAcquire(t *testing.T) {
	pool := NewPool(Options{}, 2, nil)
	if err := pool.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Errorf("关闭后 Acquire 应返回 ErrProviderClosed, got %v", err)
	}
	if pool.Active() != 0 {
		t.Errorf("失败的 Acquire 不应占用名额, active=%d", pool.Active())
	}
}
