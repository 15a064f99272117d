// Package logstore keeps the most recent output lines of each project in a
// bounded ring.
package logstore

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of lines retained per project.
const DefaultCapacity = 500

// Stream identifies which output stream a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Tag is the short marker used in run log files.
func (s Stream) Tag() string {
	if s == Stderr {
		return "ERR"
	}
	return "OUT"
}

// Line is one decoded output line. Lines are never mutated after creation.
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    Stream    `json:"stream"`
	Text      string    `json:"text"`
}

// Ring is a fixed capacity FIFO of lines. Appends evict the oldest line once
// the ring is full. It is safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []Line
	start int
	n     int
	total uint64
}

// New returns an empty ring. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Line, capacity)}
}

// Append adds a line, evicting the oldest one when full.
func (r *Ring) Append(l Line) {
	r.mu.Lock()
	idx := (r.start + r.n) % len(r.buf)
	r.buf[idx] = l
	if r.n < len(r.buf) {
		r.n++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
	r.total++
	r.mu.Unlock()
}

// Snapshot returns a copy of the retained lines, oldest first.
func (r *Ring) Snapshot() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(r.n)
}

// Tail returns a copy of at most n newest lines, oldest first.
func (r *Ring) Tail(n int) []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.n || n < 0 {
		n = r.n
	}
	return r.lastLocked(n)
}

func (r *Ring) lastLocked(n int) []Line {
	out := make([]Line, n)
	first := r.start + r.n - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(first+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of retained lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Ring) Cap() int { return len(r.buf) }

// Total returns how many lines were ever appended, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Since returns the retained lines whose sequence number is at least seq,
// oldest first. The first line ever appended has sequence number 0, so
// Since(Total()) taken before a run yields that run's retained output.
func (r *Ring) Since(seq uint64) []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq >= r.total {
		return []Line{}
	}
	n := r.total - seq
	if n > uint64(r.n) {
		n = uint64(r.n)
	}
	return r.lastLocked(int(n))
}
