package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/utils"
)

// ResourceMonitor 系统资源监控器
// 根据可用内存与CPU负载计算可同时运行的浏览器会话数
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// sample 返回可用内存(字节)与CPU使用率(%)
	sample func() (uint64, float64, error)

	mu        sync.RWMutex
	available uint64
	cpuUsage  float64
	sampledAt time.Time

	cancel context.CancelFunc
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory uint64  // 为系统保留的内存(字节)
	SessionMemoryUsage  uint64  // 单个会话(隐身上下文 + 地图页面)平均内存(字节)
	CPULoadThreshold    float64 // CPU负载阈值(%), >= 100 表示不检查
	MaxSessionsLimit    int     // 绝对上限
}

// DefaultResourceMonitorConfig 默认配置
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		SafetyReserveMemory: 512 * 1024 * 1024,
		SessionMemoryUsage:  350 * 1024 * 1024,
		CPULoadThreshold:    90,
		MaxSessionsLimit:    8,
	}
}

// NewResourceMonitor 创建资源监控器并立即采样一次
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.SessionMemoryUsage == 0 {
		config.SessionMemoryUsage = 350 * 1024 * 1024
	}
	if config.MaxSessionsLimit <= 0 {
		config.MaxSessionsLimit = 8
	}
	rm := &ResourceMonitor{config: config, sample: systemSample}
	rm.Refresh()
	return rm
}

func systemSample() (uint64, float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("获取系统内存失败: %w", err)
	}
	usage := 0.0
	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		usage = percentages[0]
	}
	return vm.Available, usage, nil
}

// Refresh 立即重新采样
func (rm *ResourceMonitor) Refresh() {
	available, usage, err := rm.sample()
	if err != nil {
		utils.Warnf("⚠️  资源采样失败,按4GB可用内存估算: %v", err)
		available = 4 * 1024 * 1024 * 1024
	}

	rm.mu.Lock()
	rm.available = available
	rm.cpuUsage = usage
	rm.sampledAt = time.Now()
	rm.mu.Unlock()
}

// StartMonitoring 启动后台周期采样,重复调用无副作用
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancel = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.Refresh()
			}
		}
	}()
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

// CalculateMaxSessions 基于可用内存与CPU核数计算会话上限,至少为1
func (rm *ResourceMonitor) CalculateMaxSessions() int {
	rm.mu.RLock()
	available := rm.available
	rm.mu.RUnlock()

	byMemory := 1
	if available > rm.config.SafetyReserveMemory {
		byMemory = int((available - rm.config.SafetyReserveMemory) / rm.config.SessionMemoryUsage)
	}

	result := min(byMemory, runtime.NumCPU(), rm.config.MaxSessionsLimit)
	return max(result, 1)
}

// CheckResourceAvailability 检查当前资源是否允许再开启一个会话
func (rm *ResourceMonitor) CheckResourceAvailability() (ok bool, reason string) {
	rm.mu.RLock()
	available := rm.available
	usage := rm.cpuUsage
	rm.mu.RUnlock()

	if available < rm.config.SafetyReserveMemory+rm.config.SessionMemoryUsage {
		return false, fmt.Sprintf("内存不足(可用%dMB)", available/(1024*1024))
	}
	if rm.config.CPULoadThreshold < 100 && usage > rm.config.CPULoadThreshold {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", usage)
	}
	return true, ""
}
