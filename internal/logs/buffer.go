package logs

import (
	"sync"
	"time"
)

type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

// levelPriority defines the priority of each log level
// higher value = more severe
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return levelPriority[l] >= levelPriority[min]
}

type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer keeps the most recent log entries in memory for /admin/logs and
// the health analyzer.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int  // slot the next entry is written to
	full    bool // true once the ring wrapped at least once
	level   Level
}

// NewBuffer creates a ring of maxSize entries. Entries below level are
// dropped.
func NewBuffer(maxSize int, level Level) *Buffer {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Buffer{
		entries: make([]Entry, maxSize),
		level:   level,
	}
}

// Append records e, overwriting the oldest entry when the ring is full.
func (b *Buffer) Append(e Entry) {
	if !e.Level.AtLeast(b.level) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns how many entries are currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

func (b *Buffer) lenLocked() int {
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// GetLast returns up to n of the newest entries, oldest first.
// The result is a copy.
func (b *Buffer) GetLast(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.lenLocked()
	if n > size {
		n = size
	}
	if n <= 0 {
		return []Entry{}
	}

	out := make([]Entry, n)
	start := b.next - n
	if start < 0 {
		start += len(b.entries)
	}
	for i := 0; i < n; i++ {
		e := b.entries[(start+i)%len(b.entries)]
		if e.Fields != nil {
			fields := make(map[string]any, len(e.Fields))
			for k, v := range e.Fields {
				fields[k] = v
			}
			e.Fields = fields
		}
		out[i] = e
	}
	return out
}
