// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Items handled per call (documents fetched, texts transformed).
	TotalItems int64
	MinItems   int64
	MaxItems   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Item stats (nil if the operation reports none)
	TotalItems *int64   `json:"total_items,omitempty"`
	AvgItems   *float64 `json:"avg_items,omitempty"`
	MinItems   *int64   `json:"min_items,omitempty"`
	MaxItems   *int64   `json:"max_items,omitempty"`
}

// JobCounts tallies job outcomes since start.
type JobCounts struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Jobs          JobCounts          `json:"jobs"`
	Load          *OperationSnapshot `json:"load,omitempty"`
	Fetch         *OperationSnapshot `json:"fetch,omitempty"`
	Transform     *OperationSnapshot `json:"transform,omitempty"`
	Persist       *OperationSnapshot `json:"persist,omitempty"`
}

// Operation names for the collector.
const (
	OpLoad      = "load"
	OpFetch     = "fetch"
	OpTransform = "transform"
	OpPersist   = "persist"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	jobs      JobCounts
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:  time.Duration(math.MaxInt64),
			MinItems: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) addTiming(d time.Duration) {
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).addTiming(duration)
}

// RecordItems records timing and the number of items an operation handled.
func (c *Collector) RecordItems(op string, duration time.Duration, items int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.addTiming(duration)
	m.TotalItems += items
	if items < m.MinItems {
		m.MinItems = items
	}
	if items > m.MaxItems {
		m.MaxItems = items
	}
}

// JobSubmitted counts an accepted job.
func (c *Collector) JobSubmitted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobs.Submitted++
	c.mu.Unlock()
}

// JobFinished counts a job reaching a terminal state.
func (c *Collector) JobFinished(failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if failed {
		c.jobs.Failed++
	} else {
		c.jobs.Completed++
	}
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if m.TotalItems > 0 {
		total := m.TotalItems
		avg := float64(m.TotalItems) / float64(m.Count)
		minItems := m.MinItems
		maxItems := m.MaxItems

		// Timing-only records leave the sentinel in place.
		if minItems == math.MaxInt64 {
			minItems = 0
		}

		snap.TotalItems = &total
		snap.AvgItems = &avg
		snap.MinItems = &minItems
		snap.MaxItems = &maxItems
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Jobs:          c.jobs,
		Load:          snapshotOp(c.ops[OpLoad]),
		Fetch:         snapshotOp(c.ops[OpFetch]),
		Transform:     snapshotOp(c.ops[OpTransform]),
		Persist:       snapshotOp(c.ops[OpPersist]),
	}
}
