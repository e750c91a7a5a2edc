// Package sink provides the line-oriented destinations the collector writes
// trace and symbol logs to.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/getsentry/calltracer/internal/errorutil"
)

// Sink receives log lines. Lines passed to a single WriteLines call are
// written contiguously, even when several goroutines write at once.
type Sink interface {
	WriteLines(lines ...string) error
	Flush() error
	Close() error
}

// Stream writes lines to an io.Writer through a buffer.
type Stream struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	closed bool
}

// NewStream wraps w. Closing the stream flushes it but leaves w open, which
// is what we want for stdout and stderr.
func NewStream(w io.Writer) *Stream {
	return &Stream{w: bufio.NewWriter(w)}
}

// Open creates or truncates the file at path. It fails right away when the
// file can't be created so a bad path is reported before tracing starts.
func Open(path string) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errorutil.ErrSinkUnavailable, path, err)
	}
	return &Stream{w: bufio.NewWriter(f), closer: f}, nil
}

// Resolve opens path, or falls back to a stream on fallback when path is empty.
func Resolve(path string, fallback io.Writer) (*Stream, error) {
	if path == "" {
		return NewStream(fallback), nil
	}
	return Open(path)
}

func (s *Stream) WriteLines(lines ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorutil.ErrSinkClosed
	}
	for _, l := range lines {
		if _, err := s.w.WriteString(l); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.w.Flush()
}

// Close flushes buffered lines and closes the underlying file, if any. It is
// safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
