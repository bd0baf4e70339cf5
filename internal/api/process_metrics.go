package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics отдаёт сведения о процессе для /api/stats
type ProcessMetrics struct {
	startTime time.Time
}

// ProcessReport - снимок метрик процесса
type ProcessReport struct {
	Uptime      string  `json:"uptime"`
	HeapMB      float64 `json:"heap_mb"`
	SysMB       float64 `json:"sys_mb"`
	NumGC       uint32  `json:"num_gc"`
	Goroutines  int     `json:"goroutines"`
	CPUPercent  float64 `json:"cpu_percent"`
	ServerTime  int64   `json:"server_time"`
	CPUErrorMsg string  `json:"cpu_error,omitempty"`
}

func NewProcessMetrics() *ProcessMetrics {
	return &ProcessMetrics{startTime: time.Now()}
}

// FormatUptime форматирует длительность как "1д 2ч 3м 4с", опуская нулевые старшие части
func FormatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// CPUPercent возвращает загрузку CPU процессом, при ошибке - системную
func (pm *ProcessMetrics) CPUPercent() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			return pct, nil
		}
	}

	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu: no samples")
	}
	return percents[0], nil
}

// Report собирает снимок метрик процесса
func (pm *ProcessMetrics) Report() ProcessReport {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r := ProcessReport{
		Uptime:     FormatUptime(time.Since(pm.startTime)),
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
		SysMB:      float64(m.Sys) / 1024 / 1024,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
		ServerTime: time.Now().Unix(),
	}
	if pct, err := pm.CPUPercent(); err != nil {
		r.CPUErrorMsg = err.Error()
	} else {
		r.CPUPercent = pct
	}
	return r
}
