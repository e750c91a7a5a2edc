package export

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob/memblob"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/storageprovider"
	"github.com/getsentry/calltracer/internal/testutil"
	"github.com/getsentry/calltracer/internal/tracestore"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestKafkaMessages(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafka(w, "session", "test")
	k.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := k.ExportThread(tracestore.Snapshot{ThreadID: 3, Routines: []string{"foo", "bar"}}); err != nil {
		t.Fatal(err)
	}
	if err := k.ExportSummary(collector.Summary{ExitCode: 1, Routines: 2, FlushedTraces: 1}); err != nil {
		t.Fatal(err)
	}
	if err := k.Close(); err != nil {
		t.Fatal(err)
	}

	if len(w.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.messages))
	}
	if string(w.messages[0].Key) != "session/3" {
		t.Fatalf("unexpected key %q", string(w.messages[0].Key))
	}
	var thread ThreadTraceKafkaMessage
	if err := json.Unmarshal(w.messages[0].Value, &thread); err != nil {
		t.Fatal(err)
	}
	wantThread := ThreadTraceKafkaMessage{
		Environment: "test",
		Routines:    []string{"foo", "bar"},
		SessionID:   "session",
		ThreadID:    3,
		Timestamp:   1700000000,
	}
	if diff := testutil.Diff(thread, wantThread); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	var summary SummaryKafkaMessage
	if err := json.Unmarshal(w.messages[1].Value, &summary); err != nil {
		t.Fatal(err)
	}
	wantSummary := SummaryKafkaMessage{
		Environment:   "test",
		ExitCode:      1,
		FlushedTraces: 1,
		Routines:      2,
		SessionID:     "session",
		Timestamp:     1700000000,
	}
	if diff := testutil.Diff(summary, wantSummary); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if !w.closed {
		t.Fatal("writer should be closed")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	h := &storageprovider.Blob{Bucket: bucket}

	objectName := ObjectName("session")
	a, err := NewArchive(ctx, h, objectName)
	if err != nil {
		t.Fatal(err)
	}
	_ = a.ExportThread(tracestore.Snapshot{ThreadID: 1, Routines: []string{"main", "foo"}})
	_ = a.ExportThread(tracestore.Snapshot{ThreadID: 2, Routines: []string{}})
	_ = a.ExportSummary(collector.Summary{Routines: 2, FlushedTraces: 2})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadArchive(ctx, h, objectName)
	if err != nil {
		t.Fatal(err)
	}
	want := []ArchiveRecord{
		{Type: threadRecord, ThreadID: 1, Routines: []string{"main", "foo"}},
		{Type: threadRecord, ThreadID: 2},
		{Type: summaryRecord, Summary: &collector.Summary{Routines: 2, FlushedTraces: 2}},
	}
	if diff := testutil.Diff(records, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestArchiveCommittedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	h := &storageprovider.Blob{Bucket: bucket}

	objectName := ObjectName("interrupted")
	a, err := NewArchive(ctx, h, objectName)
	if err != nil {
		t.Fatal(err)
	}
	_ = a.ExportThread(tracestore.Snapshot{ThreadID: 1, Routines: []string{"main"}})
	cancel()
	_ = a.ExportSummary(collector.Summary{ExitCode: -1, Routines: 1, FlushedTraces: 1})
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error closing archive: %v", err)
	}

	records, err := ReadArchive(context.Background(), h, objectName)
	if err != nil {
		t.Fatal(err)
	}
	want := []ArchiveRecord{
		{Type: threadRecord, ThreadID: 1, Routines: []string{"main"}},
		{Type: summaryRecord, Summary: &collector.Summary{ExitCode: -1, Routines: 1, FlushedTraces: 1}},
	}
	if diff := testutil.Diff(records, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

type blockingExporter struct {
	release chan struct{}
	mu      sync.Mutex
	threads []tracestore.ThreadID
	summary bool
	closed  bool
}

func (b *blockingExporter) ExportThread(s tracestore.Snapshot) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads = append(b.threads, s.ThreadID)
	return nil
}

func (b *blockingExporter) ExportSummary(collector.Summary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary = true
	return nil
}

func (b *blockingExporter) Close() error {
	b.closed = true
	return nil
}

func TestQueueDropsWhenFull(t *testing.T) {
	next := &blockingExporter{release: make(chan struct{})}
	q := NewQueue(next, 2, zerolog.Nop())

	// The worker picks the first item and blocks on it, the next two fill the
	// queue, the remaining ones are dropped.
	_ = q.ExportThread(tracestore.Snapshot{ThreadID: 1})
	deadline := time.Now().Add(time.Second)
	for len(q.items) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for tid := tracestore.ThreadID(2); tid <= 6; tid++ {
		_ = q.ExportThread(tracestore.Snapshot{ThreadID: tid})
	}
	if q.Dropped() != 3 {
		t.Fatalf("expected 3 dropped traces, got %d", q.Dropped())
	}

	close(next.release)
	_ = q.ExportSummary(collector.Summary{})
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if diff := testutil.Diff(next.threads, []tracestore.ThreadID{1, 2, 3}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if !next.summary || !next.closed {
		t.Fatal("summary should be exported and exporter closed")
	}
	if err := q.ExportThread(tracestore.Snapshot{ThreadID: 9}); err == nil {
		t.Fatal("expected an error after close")
	}
}
