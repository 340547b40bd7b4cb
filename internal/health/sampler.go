// Package health samples the steamwatch process's own resource usage.
package health

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/steamwatch/steamwatch/internal/events"
	"github.com/steamwatch/steamwatch/internal/metrics"
)

// DefaultSampleInterval is the default interval between resource samples.
const DefaultSampleInterval = 30 * time.Second

// Sampler periodically reads the process's CPU and memory usage, logs a
// health_snapshot event and updates the process gauges.
type Sampler struct {
	proc     *process.Process
	metrics  *metrics.Metrics
	interval time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewSampler creates a Sampler for the current process.
// If interval is zero, DefaultSampleInterval is used. metrics may be nil.
func NewSampler(m *metrics.Metrics, interval time.Duration) (*Sampler, error) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Sampler{
		proc:      proc,
		metrics:   m,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start begins the sampling loop in a background goroutine.
// It is safe to call Start multiple times; subsequent calls are no-ops.
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the sampling loop.
// It blocks until the sampling goroutine has exited.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stoppedCh := s.stoppedCh
	s.mu.Unlock()

	<-stoppedCh
}

// IsRunning returns true if the sampler is currently running.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the configured sample interval.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

func (s *Sampler) run() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sampler) sample() {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		log.Printf("health sampler: failed to read cpu: %v", err)
		return
	}

	var rss uint64
	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil {
		rss = memInfo.RSS
	}

	events.GetGlobalEventLogger().LogHealthSnapshot(cpuPct, rss)

	if s.metrics != nil {
		s.metrics.SetProcessStats(cpuPct, rss)
	}
}
