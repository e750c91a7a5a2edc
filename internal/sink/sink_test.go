package sink

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/getsentry/calltracer/internal/errorutil"
	"github.com/getsentry/calltracer/internal/testutil"
)

func TestStreamWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)
	if err := s.WriteLines("a", "\tb"); err != nil {
		t.Fatalf("we should be able to write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("lines should be buffered until flushed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("we should be able to close: %v", err)
	}
	if buf.String() != "a\n\tb\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if err := s.WriteLines("c"); !errors.Is(err, errorutil.ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestOpenFailsOnUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "trace.out")
	_, err := Open(path)
	if !errors.Is(err, errorutil.ErrSinkUnavailable) {
		t.Fatalf("expected ErrSinkUnavailable, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	var fallback bytes.Buffer
	s, err := Resolve("", &fallback)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.WriteLines("to fallback")
	_ = s.Close()
	if fallback.String() != "to fallback\n" {
		t.Fatalf("unexpected fallback output %q", fallback.String())
	}

	path := filepath.Join(t.TempDir(), "trace.out")
	s, err = Resolve(path, &fallback)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.WriteLines("to file")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "to file\n" {
		t.Fatalf("unexpected file content %q", string(b))
	}
}

func TestAsyncKeepsRecordsContiguous(t *testing.T) {
	buffer := NewBuffer()
	a := NewAsync(buffer, 4, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = a.WriteLines(fmt.Sprintf("begin %d", i), fmt.Sprintf("end %d", i))
		}(i)
	}
	wg.Wait()
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := buffer.Lines()
	if len(lines) != 40 {
		t.Fatalf("expected 40 lines, got %d", len(lines))
	}
	for i := 0; i < len(lines); i += 2 {
		id := strings.TrimPrefix(lines[i], "begin ")
		if lines[i+1] != "end "+id {
			t.Fatalf("record %s was split: %q", id, lines[i:i+2])
		}
	}
}

func TestAsyncClose(t *testing.T) {
	buffer := NewBuffer()
	a := NewAsync(buffer, 1, zerolog.Nop())
	_ = a.WriteLines("one")
	_ = a.WriteLines("two")
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if !buffer.Closed() {
		t.Fatal("underlying sink should be closed")
	}
	if diff := testutil.Diff(buffer.Lines(), []string{"one", "two"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if err := a.WriteLines("three"); !errors.Is(err, errorutil.ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}
