package event

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/getsentry/calltracer/internal/tracestore"
)

// maxLineSize bounds a single JSON event. Image loads listing every routine
// of a large library can get big.
const maxLineSize = 64 * 1024 * 1024

type (
	// Dispatcher is anything able to deliver an event to its handlers.
	Dispatcher interface {
		Dispatch(e Event) error
	}

	ReplayOptions struct {
		// Concurrent delivers each thread's events from its own goroutine,
		// the way a host calls back from the observed program's threads.
		Concurrent bool
		Logger     zerolog.Logger
	}

	ReplayStats struct {
		Dispatched int `json:"dispatched"`
		Skipped    int `json:"skipped"`
	}
)

// Replay reads JSON-lines events from r and dispatches them to d. Malformed or
// unknown events are logged and skipped. When opts.Concurrent is set, events
// of a given thread keep their order while different threads interleave; a
// process exit waits for every thread's events to be delivered first.
func Replay(ctx context.Context, r io.Reader, d Dispatcher, opts ReplayOptions) (ReplayStats, error) {
	var (
		stats   ReplayStats
		statsMu sync.Mutex
	)
	count := func(err error, e Event) {
		statsMu.Lock()
		defer statsMu.Unlock()
		if err != nil {
			stats.Skipped++
			opts.Logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("event skipped")
			return
		}
		stats.Dispatched++
		opts.Logger.Debug().Str("kind", string(e.Kind)).Uint32("thread_id", uint32(e.ThreadID)).Msg("event dispatched")
	}

	var workers *threadWorkers
	if opts.Concurrent {
		workers = newThreadWorkers(d, count)
	}

	err := replayLines(ctx, r, d, workers, count)
	if workers != nil {
		workers.wait()
	}
	statsMu.Lock()
	defer statsMu.Unlock()
	return stats, err
}

func replayLines(ctx context.Context, r io.Reader, d Dispatcher, workers *threadWorkers, count func(error, Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var e Event
		if err := gojson.Unmarshal(b, &e); err != nil {
			count(fmt.Errorf("line %d: %w", line, err), e)
			continue
		}
		switch {
		case workers != nil && e.ThreadScoped():
			workers.send(e)
		case workers != nil && e.Kind == ProcessExitKind:
			workers.wait()
			count(d.Dispatch(e), e)
		default:
			count(d.Dispatch(e), e)
		}
	}
	return scanner.Err()
}

// threadWorkers runs one goroutine per thread id.
type threadWorkers struct {
	d      Dispatcher
	count  func(error, Event)
	queues map[tracestore.ThreadID]chan Event
	wg     sync.WaitGroup
}

func newThreadWorkers(d Dispatcher, count func(error, Event)) *threadWorkers {
	return &threadWorkers{
		d:      d,
		count:  count,
		queues: make(map[tracestore.ThreadID]chan Event),
	}
}

func (w *threadWorkers) send(e Event) {
	q, ok := w.queues[e.ThreadID]
	if !ok {
		q = make(chan Event, 256)
		w.queues[e.ThreadID] = q
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for e := range q {
				w.count(w.d.Dispatch(e), e)
			}
		}()
	}
	q <- e
}

// wait closes every queue and waits for the workers to drain them. New events
// start new workers.
func (w *threadWorkers) wait() {
	for tid, q := range w.queues {
		close(q)
		delete(w.queues, tid)
	}
	w.wg.Wait()
}
