// Package sensor polls disk usage under the data directory and heap usage,
// logging when either crosses its high-water mark and again on recovery.
package sensor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"charhub/pkg/logger"
	"charhub/pkg/timeutil"
)

type MonitorConfig struct {
	// Path is the filesystem whose usage is measured, normally the data dir.
	Path           string
	PollInterval   time.Duration
	DiskHighPct    int
	DiskLowPct     int
	MemHighPct     int
	RecoveryWindow time.Duration
}

// Reading is the last measurement taken.
type Reading struct {
	DiskUsedPct float64   `json:"diskUsedPct"`
	MemUsedPct  float64   `json:"memUsedPct"`
	DiskAlert   bool      `json:"diskAlert"`
	MemAlert    bool      `json:"memAlert"`
	At          time.Time `json:"at"`
}

type Sensor struct {
	config   MonitorConfig
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	mu            sync.Mutex
	last          Reading
	lastDiskAlert time.Time
	lastMemAlert  time.Time

	// swapped in tests
	diskUsage func(path string) (float64, error)
	memUsage  func() float64
}

func NewSensor(config MonitorConfig) *Sensor {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.Path == "" {
		config.Path = "/"
	}
	return &Sensor{
		config:    config,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		diskUsage: statfsUsage,
		memUsage:  heapUsage,
	}
}

func (s *Sensor) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
}

// Stop ends polling and waits for the loop to exit. Safe to call twice, or
// without Start.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Sensor) Last() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sensor) run() {
	defer close(s.done)
	s.check()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sensor) check() {
	now := timeutil.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last.At = now

	if usedPct, err := s.diskUsage(s.config.Path); err != nil {
		logger.Warn("sensor_disk_stat_failed", "path", s.config.Path, "error", err)
	} else {
		s.last.DiskUsedPct = usedPct
		switch {
		case usedPct > float64(s.config.DiskHighPct):
			if !s.last.DiskAlert {
				logger.Warn("sensor_disk_high", "used_pct", usedPct, "threshold", s.config.DiskHighPct, "path", s.config.Path)
				s.last.DiskAlert = true
			}
			s.lastDiskAlert = now
		case usedPct < float64(s.config.DiskLowPct) && s.last.DiskAlert:
			// must stay low for the whole recovery window
			if now.Sub(s.lastDiskAlert) >= s.config.RecoveryWindow {
				logger.Info("sensor_disk_recovered", "used_pct", usedPct, "threshold", s.config.DiskLowPct)
				s.last.DiskAlert = false
			}
		}
	}

	memUsedPct := s.memUsage()
	s.last.MemUsedPct = memUsedPct
	if memUsedPct > float64(s.config.MemHighPct) {
		if !s.last.MemAlert {
			logger.Warn("sensor_mem_high", "used_pct", memUsedPct, "threshold", s.config.MemHighPct)
			s.last.MemAlert = true
		}
		s.lastMemAlert = now
	} else if s.last.MemAlert && now.Sub(s.lastMemAlert) >= s.config.RecoveryWindow {
		logger.Info("sensor_mem_recovered", "used_pct", memUsedPct, "threshold", s.config.MemHighPct)
		s.last.MemAlert = false
	}
}

func statfsUsage(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	available := stat.Bavail * uint64(stat.Bsize)
	return float64(total-available) / float64(total) * 100, nil
}

func heapUsage() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapInuse) / float64(m.HeapSys) * 100
}
