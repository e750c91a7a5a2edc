// Package collector accumulates per-thread call traces from the events of an
// instrumentation host and writes them out when threads and the process end.
//
// Handlers are called inline with the observed program, from its own threads.
// They only take locks around constant time work; everything that reaches a
// file, a broker or a bucket is expected to go through an asynchronous sink or
// exporter.
package collector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/getsentry/calltracer/internal/demangle"
	"github.com/getsentry/calltracer/internal/event"
	"github.com/getsentry/calltracer/internal/sink"
	"github.com/getsentry/calltracer/internal/symtab"
	"github.com/getsentry/calltracer/internal/tracestore"
)

const (
	threadSeparator  = "====================================="
	summarySeparator = "==============================================="
)

type (
	// Exporter receives finished traces in addition to the output sink.
	// Implementations must not block.
	Exporter interface {
		ExportThread(s tracestore.Snapshot) error
		ExportSummary(s Summary) error
		Close() error
	}

	Options struct {
		// Output receives the call traces and the final summary.
		Output sink.Sink
		// SymbolLog receives image load and unload markers and, when
		// RecordSymbolTable is set, every routine of loaded images.
		SymbolLog         sink.Sink
		RecordSymbolTable bool
		Exporters         []Exporter
		Logger            zerolog.Logger
		// Hub reports sink and exporter errors to Sentry when set.
		Hub *sentry.Hub
	}

	Stats struct {
		Routines      uint64 `json:"routines"`
		Instructions  uint64 `json:"instructions"`
		BasicBlocks   uint64 `json:"basic_blocks"`
		OrphanEntries uint64 `json:"orphan_entries"`
		FlushedTraces uint64 `json:"flushed_traces"`
		LiveThreads   int    `json:"live_threads"`
		Symbols       int    `json:"symbols"`
		Exited        bool   `json:"exited"`
	}

	Summary struct {
		ExitCode      int32  `json:"exit_code"`
		Routines      uint64 `json:"routines"`
		Instructions  uint64 `json:"instructions"`
		BasicBlocks   uint64 `json:"basic_blocks"`
		FlushedTraces uint64 `json:"flushed_traces"`
	}

	Collector struct {
		store         *tracestore.Store
		symbols       *symtab.Table
		out           sink.Sink
		symbolLog     sink.Sink
		recordSymbols bool
		exporters     []Exporter
		logger        zerolog.Logger
		hub           *sentry.Hub

		routines      atomic.Uint64
		instructions  atomic.Uint64
		basicBlocks   atomic.Uint64
		orphanEntries atomic.Uint64
		flushed       atomic.Uint64
		exited        atomic.Bool

		closeOnce sync.Once
		closeErr  error
		done      chan struct{}
	}
)

// New returns a collector recording traces into store and symbols. A nil
// SymbolLog means the symbol log shares the output sink.
func New(store *tracestore.Store, symbols *symtab.Table, opts Options) *Collector {
	if opts.SymbolLog == nil {
		opts.SymbolLog = opts.Output
	}
	return &Collector{
		store:         store,
		symbols:       symbols,
		out:           opts.Output,
		symbolLog:     opts.SymbolLog,
		recordSymbols: opts.RecordSymbolTable,
		exporters:     opts.Exporters,
		logger:        opts.Logger,
		hub:           opts.Hub,
		done:          make(chan struct{}),
	}
}

// Register installs the collector's handlers on every extension point of reg.
func (c *Collector) Register(reg *event.Registry) {
	reg.AddThreadStartFunction(c.OnThreadStart)
	reg.AddRoutineEntryFunction(c.OnRoutineEntry)
	reg.AddBasicBlockFunction(c.OnBasicBlock)
	reg.AddThreadFinishFunction(c.OnThreadFinish)
	reg.AddImageLoadFunction(c.OnImageLoad)
	reg.AddImageUnloadFunction(c.OnImageUnload)
	reg.AddProcessExitFunction(c.OnProcessExit)
}

// OnThreadStart opens an empty trace for tid, dropping anything left by a
// previous thread with the same id.
func (c *Collector) OnThreadStart(tid tracestore.ThreadID) {
	if c.exited.Load() {
		return
	}
	c.store.Start(tid)
}

// OnRoutineEntry appends the undecorated name of the entered routine to tid's
// trace. A thread we never saw start, or that already finished, gets a new
// trace so the call isn't lost.
func (c *Collector) OnRoutineEntry(tid tracestore.ThreadID, rawSymbol string) {
	if c.exited.Load() {
		return
	}
	c.routines.Add(1)
	if c.store.Append(tid, demangle.Undecorate(rawSymbol)) {
		c.orphanEntries.Add(1)
		c.logger.Debug().Uint32("thread_id", uint32(tid)).Msg("routine entry for unknown thread")
	}
}

// OnBasicBlock counts an executed basic block of the given size.
func (c *Collector) OnBasicBlock(_ tracestore.ThreadID, instructions uint32) {
	c.basicBlocks.Add(1)
	c.instructions.Add(uint64(instructions))
}

// OnThreadFinish retires tid's trace and writes it out.
func (c *Collector) OnThreadFinish(tid tracestore.ThreadID) {
	if c.exited.Load() {
		return
	}
	snapshot, found := c.store.Finish(tid)
	if !found {
		c.logger.Warn().Uint32("thread_id", uint32(tid)).Msg("thread finished without a trace")
	}
	c.flush(snapshot)
}

func (c *Collector) flush(s tracestore.Snapshot) {
	lines := make([]string, 0, len(s.Routines)+3)
	lines = append(lines, threadSeparator, fmt.Sprintf("Thread Function Trace: %d", s.ThreadID))
	for _, name := range s.Routines {
		lines = append(lines, "\t"+name)
	}
	lines = append(lines, threadSeparator)
	if err := c.out.WriteLines(lines...); err != nil {
		c.report(err, "can't write thread trace")
	}
	c.flushed.Add(1)
	for _, e := range c.exporters {
		if err := e.ExportThread(s); err != nil {
			c.report(err, "can't export thread trace")
		}
	}
}

// OnImageLoad writes a load marker and, when the symbol table is recorded,
// every routine of every section of img.
func (c *Collector) OnImageLoad(img event.Image) {
	lines := []string{"Loaded image: " + img.Path}
	if c.recordSymbols {
		var routines []symtab.Routine
		for _, sec := range img.Sections {
			routines = append(routines, sec.Routines...)
		}
		overwritten := c.symbols.Record(img.Path, routines)
		if loads := c.symbols.Loads(img.Path); loads > 1 || overwritten > 0 {
			c.logger.Debug().
				Str("image", img.Path).
				Int("loads", loads).
				Int("overwritten", overwritten).
				Msg("image reloaded")
		}
		for _, r := range routines {
			lines = append(lines, "\t"+r.String())
		}
	}
	if err := c.symbolLog.WriteLines(lines...); err != nil {
		c.report(err, "can't write image load")
	}
}

func (c *Collector) OnImageUnload(img event.Image) {
	if err := c.symbolLog.WriteLines("Unloaded image: " + img.Path); err != nil {
		c.report(err, "can't write image unload")
	}
}

// OnProcessExit writes the traces of threads that never finished, the final
// summary, and closes every sink and exporter. Events received afterwards are
// ignored.
func (c *Collector) OnProcessExit(code int32) {
	if !c.exited.CompareAndSwap(false, true) {
		return
	}
	for _, s := range c.store.FinishAll() {
		c.flush(s)
	}
	summary := Summary{
		ExitCode:      code,
		Routines:      c.routines.Load(),
		Instructions:  c.instructions.Load(),
		BasicBlocks:   c.basicBlocks.Load(),
		FlushedTraces: c.flushed.Load(),
	}
	err := c.out.WriteLines(
		summarySeparator,
		fmt.Sprintf("finished tracing %d routines", summary.Routines),
		summarySeparator,
	)
	if err != nil {
		c.report(err, "can't write summary")
	}
	for _, e := range c.exporters {
		if err := e.ExportSummary(summary); err != nil {
			c.report(err, "can't export summary")
		}
	}
	c.logger.Info().
		Int32("exit_code", code).
		Uint64("routines", summary.Routines).
		Uint64("traces", summary.FlushedTraces).
		Msg("process exited")
	if err := c.Close(); err != nil {
		c.report(err, "can't close sinks")
	}
	close(c.done)
}

// Done is closed once the process exit has been handled and the sinks closed.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Close flushes and closes the sinks and exporters. Only the first call does
// anything.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, e := range c.exporters {
			if err := e.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.out.Close(); err != nil {
			errs = append(errs, err)
		}
		if c.symbolLog != c.out {
			if err := c.symbolLog.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Collector) report(err error, msg string) {
	c.logger.Error().Err(err).Msg(msg)
	if c.hub != nil {
		c.hub.CaptureException(err)
	}
}

func (c *Collector) Stats() Stats {
	return Stats{
		Routines:      c.routines.Load(),
		Instructions:  c.instructions.Load(),
		BasicBlocks:   c.basicBlocks.Load(),
		OrphanEntries: c.orphanEntries.Load(),
		FlushedTraces: c.flushed.Load(),
		LiveThreads:   c.store.Len(),
		Symbols:       c.symbols.Len(),
		Exited:        c.exited.Load(),
	}
}

// Threads returns the number of routines recorded so far for each live thread.
func (c *Collector) Threads() map[tracestore.ThreadID]int {
	return c.store.Lengths()
}

// Trace returns the routines recorded so far for a live thread.
func (c *Collector) Trace(tid tracestore.ThreadID) (tracestore.Snapshot, bool) {
	return c.store.Get(tid)
}

// Symbols returns the whole symbol table ordered by address.
func (c *Collector) Symbols() []symtab.Routine {
	return c.symbols.Routines()
}

// Lookup returns the routine name recorded at address.
func (c *Collector) Lookup(address uint64) (string, bool) {
	return c.symbols.Lookup(address)
}
