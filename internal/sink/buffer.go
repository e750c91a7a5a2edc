package sink

import (
	"strings"
	"sync"

	"github.com/getsentry/calltracer/internal/errorutil"
)

// Buffer keeps every line in memory.
type Buffer struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) WriteLines(lines ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errorutil.ErrSinkClosed
	}
	b.lines = append(b.lines, lines...)
	return nil
}

func (b *Buffer) Flush() error {
	return nil
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Lines returns a copy of the lines written so far.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]string, len(b.lines))
	copy(lines, b.lines)
	return lines
}

func (b *Buffer) String() string {
	lines := b.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
