// Package perfmon tracks resolution latency and failure kinds over a
// rolling window and classifies overall health.
package perfmon

import (
	"sort"
	"sync"
	"time"
)

// Health summarizes whether the resolution pipeline needs operator
// attention.
type Health string

const (
	HealthHealthy        Health = "healthy"
	HealthNeedsAttention Health = "needs_attention"
)

// Sample is one observed resolution.
type Sample struct {
	Tier     string
	Duration time.Duration

	// ErrKind is empty for clean resolutions. Degraded resolutions carry
	// the failure kind (embedder_unavailable, tier_exhausted, ...).
	ErrKind string
}

// Config holds monitor tuning.
type Config struct {
	// WindowSize is how many recent samples the rolling window retains.
	// Default: 1000
	WindowSize int

	// MaxErrorRate is the degraded-resolution rate above which health
	// degrades. Default: 0.2
	MaxErrorRate float64

	// MaxP95 is the p95 latency above which health degrades.
	// Default: 5s
	MaxP95 time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 1000
	}
	if c.MaxErrorRate == 0 {
		c.MaxErrorRate = 0.2
	}
	if c.MaxP95 == 0 {
		c.MaxP95 = 5 * time.Second
	}
}

// Snapshot is a point-in-time view of the rolling window.
type Snapshot struct {
	Samples   int            `json:"samples"`
	ErrorRate float64        `json:"error_rate"`
	P50       time.Duration  `json:"p50"`
	P95       time.Duration  `json:"p95"`
	P99       time.Duration  `json:"p99"`
	ByTier    map[string]int `json:"by_tier"`
	ByErrKind map[string]int `json:"by_err_kind"`
	Health    Health         `json:"health"`
}

// Monitor keeps a fixed-size ring of recent samples. Observe and Snapshot
// are safe for concurrent use.
type Monitor struct {
	config Config

	mu      sync.RWMutex
	samples []Sample
	next    int
	filled  bool
}

// New creates a monitor.
func New(config Config) *Monitor {
	config.ApplyDefaults()
	return &Monitor{
		config:  config,
		samples: make([]Sample, config.WindowSize),
	}
}

// Observe records one resolution. The oldest sample falls out of the
// window once it is full.
func (m *Monitor) Observe(sample Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = sample
	m.next++
	if m.next == len(m.samples) {
		m.next = 0
		m.filled = true
	}
}

// Snapshot computes window statistics. An empty window is healthy.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	window := m.window()
	m.mu.RUnlock()

	snap := Snapshot{
		Samples:   len(window),
		ByTier:    make(map[string]int),
		ByErrKind: make(map[string]int),
		Health:    HealthHealthy,
	}
	if len(window) == 0 {
		return snap
	}

	durations := make([]time.Duration, 0, len(window))
	errored := 0
	for _, s := range window {
		durations = append(durations, s.Duration)
		snap.ByTier[s.Tier]++
		if s.ErrKind != "" {
			errored++
			snap.ByErrKind[s.ErrKind]++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	snap.ErrorRate = float64(errored) / float64(len(window))
	snap.P50 = percentile(durations, 0.50)
	snap.P95 = percentile(durations, 0.95)
	snap.P99 = percentile(durations, 0.99)

	if snap.ErrorRate > m.config.MaxErrorRate || snap.P95 > m.config.MaxP95 {
		snap.Health = HealthNeedsAttention
	}
	return snap
}

// window copies the populated part of the ring. Callers must hold mu.
func (m *Monitor) window() []Sample {
	if m.filled {
		out := make([]Sample, len(m.samples))
		copy(out, m.samples)
		return out
	}
	out := make([]Sample, m.next)
	copy(out, m.samples[:m.next])
	return out
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
