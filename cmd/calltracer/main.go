package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tebeka/atexit"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/event"
	"github.com/getsentry/calltracer/internal/export"
	"github.com/getsentry/calltracer/internal/logutil"
	"github.com/getsentry/calltracer/internal/sink"
	"github.com/getsentry/calltracer/internal/storageprovider"
	"github.com/getsentry/calltracer/internal/symtab"
	"github.com/getsentry/calltracer/internal/tracelog"
	"github.com/getsentry/calltracer/internal/tracestore"
)

type environment struct {
	config    ServiceConfig
	sessionID string

	collector *collector.Collector
	registry  *event.Registry

	queues  []*export.Queue
	closers []io.Closer
	server  *http.Server
}

var release string

// newEnvironment opens every sink and exporter. Any destination that can't be
// opened is reported here, before a single callback is registered.
func newEnvironment(ctx context.Context, cfg ServiceConfig, stdout io.Writer) (*environment, error) {
	e := environment{
		config:    cfg,
		sessionID: uuid.New().String(),
		registry:  event.NewRegistry(),
	}
	sinkLogger := logutil.Component("sink")

	out, err := sink.Resolve(cfg.OutputFile, stdout)
	if err != nil {
		return nil, err
	}
	output := sink.NewAsync(out, cfg.SinkQueueSize, sinkLogger)
	symbolLog := output
	if cfg.SymbolLogFile != "" && cfg.SymbolLogFile != cfg.OutputFile {
		s, err := sink.Open(cfg.SymbolLogFile)
		if err != nil {
			_ = output.Close()
			return nil, err
		}
		symbolLog = sink.NewAsync(s, cfg.SinkQueueSize, sinkLogger)
	}

	exporters, err := e.newExporters(ctx)
	if err != nil {
		_ = output.Close()
		_ = symbolLog.Close()
		e.closeStorage()
		return nil, err
	}

	e.collector = collector.New(tracestore.New(), symtab.New(), collector.Options{
		Output:            output,
		SymbolLog:         symbolLog,
		RecordSymbolTable: cfg.RecordSymbolTable,
		Exporters:         exporters,
		Logger:            logutil.Component("collector").With().Str("session_id", e.sessionID).Logger(),
		Hub:               sentry.CurrentHub(),
	})
	if cfg.EnableTracing {
		e.collector.Register(e.registry)
	}
	return &e, nil
}

func (e *environment) newExporters(ctx context.Context) ([]collector.Exporter, error) {
	var exporters []collector.Exporter
	queueLogger := logutil.Component("export")
	if e.config.ArchiveURL != "" {
		h, closer, err := storageprovider.Open(ctx, e.config.ArchiveURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, closer)
		a, err := export.NewArchive(ctx, h, export.ObjectName(e.sessionID))
		if err != nil {
			return nil, err
		}
		e.queues = append(e.queues, export.NewQueue(a, e.config.ExportQueueSize, queueLogger))
	}
	if len(e.config.KafkaBrokers) > 0 {
		w := export.NewKafkaWriter(e.config.KafkaBrokers, e.config.KafkaTopic)
		k := export.NewKafka(w, e.sessionID, e.config.Environment)
		e.queues = append(e.queues, export.NewQueue(k, e.config.ExportQueueSize, queueLogger))
	}
	for _, q := range e.queues {
		exporters = append(exporters, q)
	}
	return exporters, nil
}

// exportDropped returns how many thread traces the export queues dropped.
func (e *environment) exportDropped() int64 {
	var dropped int64
	for _, q := range e.queues {
		dropped += q.Dropped()
	}
	return dropped
}

// closeStorage closes the storage the exporters write to, once they're closed.
func (e *environment) closeStorage() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error closing storage")
		}
	}
	e.closers = nil
}

// shutdown writes whatever is left and releases every resource. It runs on
// every exit path, including signals and fatal errors.
func (e *environment) shutdown() {
	if e.config.EnableTracing {
		// A no-op when the host already reported the process exit.
		e.collector.OnProcessExit(-1)
	} else if err := e.collector.Close(); err != nil {
		sentry.CaptureException(err)
	}

	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}
	}
	// Exporters are closed by the collector, the storage they write to after.
	e.closeStorage()
	sentry.Flush(5 * time.Second)
}

func (e *environment) replay(ctx context.Context, stdin io.Reader) error {
	r := stdin
	if e.config.EventsFile != "-" {
		f, err := os.Open(e.config.EventsFile)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	stats, err := event.Replay(ctx, r, e.registry, event.ReplayOptions{
		Concurrent: e.config.Concurrent,
		Logger:     e.eventLogger("replay"),
	})
	log.Info().
		Int("dispatched", stats.Dispatched).
		Int("skipped", stats.Skipped).
		Str("events", e.config.EventsFile).
		Msg("replay finished")
	return err
}

// eventLogger returns a logger for event dispatch. Per-event debug logs are
// only kept when the event log level allows them.
func (e *environment) eventLogger(component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(e.config.EventLogLevel)
	if err != nil || e.config.EventLogLevel == "" {
		lvl = zerolog.InfoLevel
	}
	return logutil.Component(component).Sample(logutil.LevelSampler{Level: lvl})
}

// writeReport parses a trace log and writes, for every thread, the distinct
// routines it went through as JSON lines.
func writeReport(path string, stdin io.Reader, w io.Writer) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	l, err := tracelog.Parse(r)
	if err != nil {
		return err
	}
	enc := gojson.NewEncoder(w)
	for _, report := range l.Reports() {
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	log.Info().
		Int("traces", len(l.Traces)).
		Bool("finished", l.Finished).
		Uint64("routines", l.Routines).
		Str("trace_log", path).
		Msg("report written")
	return nil
}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logutil.ConfigureLogger(cfg.LogLevel)

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     release,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	if cfg.ReportFile != "" {
		if err := writeReport(cfg.ReportFile, os.Stdin, os.Stdout); err != nil {
			sentry.CaptureException(err)
			sentry.Flush(5 * time.Second)
			log.Fatal().Err(err).Msg("can't write report")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage is committed during shutdown, after a signal cancels ctx.
	env, err := newEnvironment(context.Background(), cfg, os.Stdout)
	if err != nil {
		sentry.CaptureException(err)
		sentry.Flush(5 * time.Second)
		log.Fatal().Err(err).Msg("error setting up environment")
	}
	atexit.Register(env.shutdown)

	if !cfg.EnableTracing {
		log.Info().Msg("tracing disabled, no callbacks registered")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Warn().Str("signal", sig.String()).Msg("interrupted, flushing traces")
		cancel()
		atexit.Exit(1)
	}()

	if cfg.HTTPAddr != "" {
		router, err := env.newRouter()
		if err != nil {
			sentry.CaptureException(err)
			atexit.Fatalf("error setting up the router: %v", err)
		}
		env.server = &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
		}
		go func() {
			err := env.server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				sentry.CaptureException(err)
				log.Err(err).Msg("server failed")
			}
		}()
		log.Info().Str("addr", cfg.HTTPAddr).Str("session_id", env.sessionID).Msg("server started")
	}

	if cfg.EventsFile != "" {
		if err := env.replay(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			sentry.CaptureException(err)
			log.Err(err).Msg("replay failed")
		}
	}

	if cfg.HTTPAddr != "" {
		if cfg.EnableTracing {
			// Keep ingesting until the host reports the process exit.
			<-env.collector.Done()
		} else {
			<-ctx.Done()
		}
	}

	atexit.Exit(0)
}
