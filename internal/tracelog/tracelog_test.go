package tracelog

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/errorutil"
	"github.com/getsentry/calltracer/internal/event"
	"github.com/getsentry/calltracer/internal/sink"
	"github.com/getsentry/calltracer/internal/symtab"
	"github.com/getsentry/calltracer/internal/testutil"
	"github.com/getsentry/calltracer/internal/tracestore"
)

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"Loaded image: /bin/app",
		"\t0x1000: main",
		"=====================================",
		"Thread Function Trace: 1",
		"\tmain",
		"\tfoo",
		"\tfoo",
		"=====================================",
		"=====================================",
		"Thread Function Trace: 2",
		"=====================================",
		"Unloaded image: /bin/app",
		"===============================================",
		"finished tracing 3 routines",
		"===============================================",
	}, "\r\n")

	l, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := Log{
		Traces: []tracestore.Snapshot{
			{ThreadID: 1, Routines: []string{"main", "foo", "foo"}},
			{ThreadID: 2, Routines: []string{}},
		},
		Finished: true,
		Routines: 3,
	}
	if diff := testutil.Diff(l, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	wantReports := []ThreadReport{
		{ThreadID: 1, Calls: 3, Routines: []string{"main", "foo"}},
		{ThreadID: 2, Calls: 0, Routines: []string{}},
	}
	if diff := testutil.Diff(l.Reports(), wantReports); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestParseTruncatedLog(t *testing.T) {
	input := "=====================================\nThread Function Trace: 7\n\tmain\n\tloop\n"
	l, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if l.Finished {
		t.Fatal("a log without summary should not be finished")
	}
	want := []tracestore.Snapshot{{ThreadID: 7, Routines: []string{"main", "loop"}}}
	if diff := testutil.Diff(l.Traces, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "invalid thread id", input: "Thread Function Trace: main\n"},
		{name: "stray line in trace", input: "Thread Function Trace: 1\n\tmain\nLoaded image: /bin/app\n"},
		{name: "invalid summary", input: "finished tracing many routines\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(test.input))
			if !errors.Is(err, errorutil.ErrDataIntegrity) {
				t.Fatalf("expected a data integrity error, got %v", err)
			}
		})
	}
}

func TestDistinct(t *testing.T) {
	got := Distinct([]string{"main", "foo", "bar", "foo", "main", "baz"})
	if diff := testutil.Diff(got, []string{"main", "foo", "bar", "baz"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

// TestCollectorOutputRoundTrip checks that every routine entry written by the
// collector is read back, per thread and in call order.
func TestCollectorOutputRoundTrip(t *testing.T) {
	const (
		numThreads = 6
		numCalls   = 300
	)
	out := sink.NewBuffer()
	c := collector.New(tracestore.New(), symtab.New(), collector.Options{
		Output:            out,
		RecordSymbolTable: true,
		Logger:            zerolog.Nop(),
	})

	c.OnImageLoad(event.Image{
		Path: "/bin/app",
		Sections: []event.Section{
			{Name: ".text", Routines: []symtab.Routine{{Address: 0x1000, Name: "main"}}},
		},
	})
	want := make(map[tracestore.ThreadID][]string, numThreads)
	var wg sync.WaitGroup
	for i := 1; i <= numThreads; i++ {
		tid := tracestore.ThreadID(i)
		routines := make([]string, numCalls)
		for j := range routines {
			routines[j] = fmt.Sprintf("t%d_f%d", i, j)
		}
		want[tid] = routines
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.OnThreadStart(tid)
			for _, name := range routines {
				c.OnRoutineEntry(tid, name)
			}
			// Odd threads never finish and are written at process exit.
			if tid%2 == 0 {
				c.OnThreadFinish(tid)
			}
		}()
	}
	wg.Wait()
	c.OnRoutineEntry(2, "_Z4latev")
	want[2] = append(want[2], "late")
	c.OnImageUnload(event.Image{Path: "/bin/app"})
	c.OnProcessExit(0)

	l, err := Parse(strings.NewReader(out.String()))
	if err != nil {
		t.Fatal(err)
	}
	if diff := testutil.Diff(l.ByThread(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if !l.Finished || l.Routines != numThreads*numCalls+1 {
		t.Fatalf("unexpected summary: finished=%v routines=%d", l.Finished, l.Routines)
	}
}
