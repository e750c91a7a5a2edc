package sink

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/getsentry/calltracer/internal/errorutil"
)

type request struct {
	lines []string
	flush chan error
}

// Async moves writes to a background goroutine so callers never wait on the
// underlying sink's I/O. Records are queued in order; WriteLines only blocks
// when the queue is full.
type Async struct {
	next     Sink
	requests chan request
	done     chan struct{}
	logger   zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	closeErr error
	once     sync.Once
}

// NewAsync starts the writer goroutine. queueSize is the number of records
// that can be pending before WriteLines blocks.
func NewAsync(next Sink, queueSize int, logger zerolog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 1
	}
	a := &Async{
		next:     next,
		requests: make(chan request, queueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for r := range a.requests {
		if r.flush != nil {
			r.flush <- a.next.Flush()
			continue
		}
		if err := a.next.WriteLines(r.lines...); err != nil {
			a.logger.Error().Err(err).Int("lines", len(r.lines)).Msg("can't write to sink")
		}
	}
}

func (a *Async) WriteLines(lines ...string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errorutil.ErrSinkClosed
	}
	a.requests <- request{lines: lines}
	return nil
}

// Flush waits until every record queued before the call reached the
// underlying sink, then flushes it.
func (a *Async) Flush() error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil
	}
	ch := make(chan error, 1)
	a.requests <- request{flush: ch}
	a.mu.RUnlock()
	return <-ch
}

// Close drains the queue and closes the underlying sink. It is safe to call
// more than once.
func (a *Async) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.requests)
		a.mu.Unlock()
		<-a.done
		a.closeErr = a.next.Close()
	})
	return a.closeErr
}
