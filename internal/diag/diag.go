// Package diag is the engine's Diagnostics Log (§4.8): a timestamped,
// append-only, per-run event list with a read accessor. It deliberately
// has no logging-library dependency — see DESIGN.md for why that's a
// presentation decision left to callers (cmd/worker mirrors entries
// through zerolog in debug mode).
package diag

import (
	"fmt"
	"sync"
	"time"
)

// Sink receives each entry as it's appended, in addition to it being
// stored. cmd/worker plugs in a zerolog-backed Sink when Debug is set;
// nil is the default (no mirroring).
type Sink func(entry string)

// Log is a single run's diagnostics. Zero value is ready to use.
type Log struct {
	mu      sync.Mutex
	entries []string
	sink    Sink
}

// New returns an empty Log. sink may be nil.
func New(sink Sink) *Log {
	return &Log{sink: sink}
}

// Reset clears the log. Called at the start of each run (§4.8: "cleared at
// the start of each run").
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Logf appends a timestamped entry. Timestamp format is RFC3339 with
// microsecond precision, per §4.8.
func (l *Log) Logf(format string, args ...interface{}) {
	entry := fmt.Sprintf("[%s] %s", timestamp(), fmt.Sprintf(format, args...))
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(entry)
	}
}

// Entries returns a snapshot of the log in append order.
func (l *Log) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func timestamp() string {
	return time.Now().Format("2006-01-02T15:04:05.000000Z07:00")
}
