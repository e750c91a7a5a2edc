package export

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/errorutil"
	"github.com/getsentry/calltracer/internal/tracestore"
)

type item struct {
	thread  *tracestore.Snapshot
	summary *collector.Summary
}

// Queue hands traces to an exporter from a background goroutine. When the
// queue is full, thread traces are dropped and counted rather than blocking
// the observed program. Summaries are never dropped.
type Queue struct {
	next    collector.Exporter
	items   chan item
	done    chan struct{}
	logger  zerolog.Logger
	dropped atomic.Int64

	mu       sync.RWMutex
	closed   bool
	once     sync.Once
	closeErr error
}

func NewQueue(next collector.Exporter, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		next:   next,
		items:  make(chan item, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for it := range q.items {
		var err error
		switch {
		case it.thread != nil:
			err = q.next.ExportThread(*it.thread)
		case it.summary != nil:
			err = q.next.ExportSummary(*it.summary)
		}
		if err != nil {
			q.logger.Error().Err(err).Msg("export failed")
		}
	}
}

func (q *Queue) ExportThread(s tracestore.Snapshot) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errorutil.ErrSinkClosed
	}
	select {
	case q.items <- item{thread: &s}:
	default:
		q.dropped.Add(1)
	}
	return nil
}

func (q *Queue) ExportSummary(s collector.Summary) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errorutil.ErrSinkClosed
	}
	q.items <- item{summary: &s}
	return nil
}

// Dropped returns the number of thread traces dropped because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close drains pending items and closes the wrapped exporter.
func (q *Queue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.items)
		q.mu.Unlock()
		<-q.done
		if dropped := q.dropped.Load(); dropped > 0 {
			q.logger.Warn().Int64("dropped", dropped).Msg("thread traces dropped by export queue")
		}
		q.closeErr = q.next.Close()
	})
	return q.closeErr
}
