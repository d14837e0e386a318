package media

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage of a monitored FFmpeg process.
type ProcessStats struct {
	PID            int32         `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	PeakRSSBytes   uint64        `json:"peak_rss_bytes"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// ProcessMonitor samples resource usage of one FFmpeg process. Stats
// feed stage timing metadata so long trims and transcriptions can be
// diagnosed after the fact.
type ProcessMonitor struct {
	pid       int32
	interval  time.Duration
	startedAt time.Time

	mu    sync.RWMutex
	stats ProcessStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid, sampling every second.
func NewProcessMonitor(pid int32) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:       pid,
		interval:  time.Second,
		startedAt: time.Now(),
		stats:     ProcessStats{PID: pid, StartedAt: time.Now()},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithInterval sets the sampling interval.
func (pm *ProcessMonitor) WithInterval(interval time.Duration) *ProcessMonitor {
	pm.interval = interval
	return pm
}

// Start begins sampling in the background.
func (pm *ProcessMonitor) Start() {
	pm.wg.Add(1)
	go pm.loop()
}

// Stop halts sampling and returns the final stats.
func (pm *ProcessMonitor) Stop() ProcessStats {
	pm.cancel()
	pm.wg.Wait()
	return pm.Stats()
}

// Stats returns the latest sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	stats := pm.stats
	stats.Duration = time.Since(pm.startedAt)
	return stats
}

func (pm *ProcessMonitor) loop() {
	defer pm.wg.Done()

	proc, err := process.NewProcess(pm.pid)
	if err != nil {
		// Process already gone; nothing to sample.
		return
	}

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample(proc)
		}
	}
}

func (pm *ProcessMonitor) sample(proc *process.Process) {
	cpuPercent, err := proc.CPUPercentWithContext(pm.ctx)
	if err != nil {
		// Process exited between ticks; keep the last sample.
		return
	}
	memInfo, err := proc.MemoryInfoWithContext(pm.ctx)
	if err != nil {
		return
	}

	pm.mu.Lock()
	pm.stats.CPUPercent = cpuPercent
	pm.stats.MemoryRSSBytes = memInfo.RSS
	if memInfo.RSS > pm.stats.PeakRSSBytes {
		pm.stats.PeakRSSBytes = memInfo.RSS
	}
	pm.stats.LastUpdated = time.Now()
	pm.mu.Unlock()
}
