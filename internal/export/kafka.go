package export

import (
	"context"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/tracestore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// ThreadTraceKafkaMessage is the message published for every finished thread.
	ThreadTraceKafkaMessage struct {
		Environment string   `json:"environment,omitempty"`
		Routines    []string `json:"routines"`
		SessionID   string   `json:"session_id"`
		ThreadID    uint32   `json:"thread_id"`
		Timestamp   int64    `json:"timestamp"`
	}

	// SummaryKafkaMessage is published once, when the observed process exits.
	SummaryKafkaMessage struct {
		BasicBlocks   uint64 `json:"basic_blocks"`
		Environment   string `json:"environment,omitempty"`
		ExitCode      int32  `json:"exit_code"`
		FlushedTraces uint64 `json:"flushed_traces"`
		Instructions  uint64 `json:"instructions"`
		Routines      uint64 `json:"routines"`
		SessionID     string `json:"session_id"`
		Timestamp     int64  `json:"timestamp"`
	}

	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Kafka publishes traces to a topic. Messages are keyed by session and
	// thread so a thread's traces land in the same partition.
	Kafka struct {
		w           messageWriter
		sessionID   string
		environment string
		now         func() time.Time
	}
)

// NewKafkaWriter returns an asynchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Async:        true,
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    100,
		Compression:  kafka.Lz4,
		ReadTimeout:  3 * time.Second,
		Topic:        topic,
		WriteTimeout: 3 * time.Second,
	}
}

func NewKafka(w messageWriter, sessionID, environment string) *Kafka {
	return &Kafka{
		w:           w,
		sessionID:   sessionID,
		environment: environment,
		now:         time.Now,
	}
}

func (k *Kafka) ExportThread(s tracestore.Snapshot) error {
	b, err := json.Marshal(ThreadTraceKafkaMessage{
		Environment: k.environment,
		Routines:    s.Routines,
		SessionID:   k.sessionID,
		ThreadID:    uint32(s.ThreadID),
		Timestamp:   k.now().Unix(),
	})
	if err != nil {
		return err
	}
	return k.w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(k.sessionID + "/" + strconv.FormatUint(uint64(s.ThreadID), 10)),
		Value: b,
	})
}

func (k *Kafka) ExportSummary(s collector.Summary) error {
	b, err := json.Marshal(SummaryKafkaMessage{
		BasicBlocks:   s.BasicBlocks,
		Environment:   k.environment,
		ExitCode:      s.ExitCode,
		FlushedTraces: s.FlushedTraces,
		Instructions:  s.Instructions,
		Routines:      s.Routines,
		SessionID:     k.sessionID,
		Timestamp:     k.now().Unix(),
	})
	if err != nil {
		return err
	}
	return k.w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(k.sessionID),
		Value: b,
	})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
