// Package logsink provides a bounded, in-memory buffer of diagnostic lines.
package logsink

import (
	"sync"
)

// DefaultCapacity is the number of lines retained when no capacity is given.
const DefaultCapacity = 300

// Sink is a fixed-capacity ring buffer of log lines. When full, the oldest
// line is evicted. All methods are safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	lines   []string
	start   int // index of the oldest line
	count   int
	dropped int64
}

// New creates a sink retaining at most capacity lines.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest one when the sink is full.
// It never waits on readers beyond the short critical section.
func (s *Sink) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := len(s.lines)
	if s.count < capacity {
		s.lines[(s.start+s.count)%capacity] = line
		s.count++
		return
	}

	s.lines[s.start] = line
	s.start = (s.start + 1) % capacity
	s.dropped++
}

// Recent returns up to n of the most recent lines, oldest first.
// A negative n returns everything retained.
func (s *Sink) Recent(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || n > s.count {
		n = s.count
	}
	out := make([]string, n)
	capacity := len(s.lines)
	first := s.start + s.count - n
	for i := range n {
		out[i] = s.lines[(first+i)%capacity]
	}
	return out
}

// All returns every retained line, oldest first.
func (s *Sink) All() []string {
	return s.Recent(-1)
}

// Len returns the number of retained lines.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Capacity returns the maximum number of retained lines.
func (s *Sink) Capacity() int {
	return len(s.lines)
}

// Dropped returns how many lines have been evicted so far.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
