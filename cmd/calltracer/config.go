package main

import (
	"flag"
	"io"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"development"`
		SentryDSN   string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
		LogLevel    string `yaml:"log_level" env:"CALLTRACER_LOG_LEVEL" env-default:"info"`

		// EventLogLevel gates the per-event dispatch logs, debug to see them.
		EventLogLevel string `yaml:"event_log_level" env:"CALLTRACER_EVENT_LOG_LEVEL" env-default:"info"`

		OutputFile        string `yaml:"output" env:"CALLTRACER_OUTPUT" env-description:"file name for call tracer output, stdout when empty"`
		SymbolLogFile     string `yaml:"symbol_log" env:"CALLTRACER_SYMBOL_LOG" env-description:"file name for image and symbol table output, shares the trace output when empty"`
		RecordSymbolTable bool   `yaml:"record_symbol_table" env:"CALLTRACER_RECORD_SYMBOLS" env-default:"false" env-description:"write the symbol table of every loaded image"`
		EnableTracing     bool   `yaml:"enable_tracing" env:"CALLTRACER_ENABLED" env-default:"true" env-description:"register the tracing callbacks"`

		EventsFile string `yaml:"events" env:"CALLTRACER_EVENTS" env-description:"JSON lines host events to replay, - for stdin"`
		Concurrent bool   `yaml:"concurrent" env:"CALLTRACER_CONCURRENT" env-default:"false" env-description:"deliver each thread's events from its own goroutine"`
		HTTPAddr   string `yaml:"http_addr" env:"CALLTRACER_HTTP_ADDR" env-description:"address of the debug and ingest server"`
		ReportFile string `yaml:"report" env:"CALLTRACER_REPORT" env-description:"trace log to summarize per thread instead of tracing, - for stdin"`

		ArchiveURL   string   `yaml:"archive_url" env:"CALLTRACER_ARCHIVE_URL" env-description:"gs://, badger://, file:// or mem:// destination of the session archive"`
		KafkaBrokers []string `yaml:"kafka_brokers" env:"CALLTRACER_KAFKA_BROKERS" env-separator:","`
		KafkaTopic   string   `yaml:"kafka_topic" env:"CALLTRACER_KAFKA_TOPIC" env-default:"call-traces"`

		SinkQueueSize   int `yaml:"sink_queue_size" env:"CALLTRACER_SINK_QUEUE_SIZE" env-default:"4096"`
		ExportQueueSize int `yaml:"export_queue_size" env:"CALLTRACER_EXPORT_QUEUE_SIZE" env-default:"1024"`
	}
)

// loadConfig reads the configuration from the YAML file given with -config,
// then the environment. Flags named after the original tool's knobs win over
// both.
func loadConfig(args []string, output io.Writer) (ServiceConfig, error) {
	var cfg ServiceConfig

	fs := flag.NewFlagSet("calltracer", flag.ContinueOnError)
	fs.SetOutput(output)
	configPath := fs.String("config", "", "Path to a YAML configuration file.")
	outputFile := fs.String("o", "", "Specify file name for call tracer output.")
	symbolLog := fs.String("s", "", "Specify file name for symbol table tracer output.")
	recordSymbols := fs.Bool("sy", false, "Specify if you want image load tracer to write out symbol table as well.")
	enabled := fs.Bool("count", true, "Trace routines, basic blocks and threads in the application.")
	events := fs.String("events", "", "Host events to replay, - for stdin.")
	concurrent := fs.Bool("concurrent", false, "Deliver each thread's events from its own goroutine.")
	httpAddr := fs.String("http", "", "Address of the debug and ingest server.")
	archive := fs.String("archive", "", "Destination of the session archive.")
	report := fs.String("report", "", "Trace log to summarize per thread, - for stdin.")
	fs.Usage = cleanenv.FUsage(fs.Output(), &cfg, nil, fs.PrintDefaults)

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	var err error
	if *configPath != "" {
		err = cleanenv.ReadConfig(*configPath, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.OutputFile = *outputFile
		case "s":
			cfg.SymbolLogFile = *symbolLog
		case "sy":
			cfg.RecordSymbolTable = *recordSymbols
		case "count":
			cfg.EnableTracing = *enabled
		case "events":
			cfg.EventsFile = *events
		case "concurrent":
			cfg.Concurrent = *concurrent
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "archive":
			cfg.ArchiveURL = *archive
		case "report":
			cfg.ReportFile = *report
		}
	})
	if cfg.EventsFile == "" && cfg.HTTPAddr == "" && cfg.ReportFile == "" {
		cfg.EventsFile = "-"
	}
	return cfg, nil
}
