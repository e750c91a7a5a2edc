package tracelog

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/getsentry/calltracer/internal/errorutil"
	"github.com/getsentry/calltracer/internal/tracestore"
)

const (
	traceHeader   = "Thread Function Trace: "
	summaryFormat = "finished tracing %d routines"

	maxLineSize = 1024 * 1024
)

type (
	// Log is a parsed trace log. Lines that belong to neither a thread block
	// nor the summary, like image markers of a shared symbol log, are ignored.
	Log struct {
		// Traces holds every thread block in the order it was written. A
		// thread id appears more than once when a thread was traced again
		// after it finished.
		Traces []tracestore.Snapshot
		// Finished is set when the log ends with the process exit summary.
		Finished bool
		Routines uint64
	}

	// ThreadReport lists the routines a thread went through.
	ThreadReport struct {
		ThreadID tracestore.ThreadID `json:"thread_id"`
		Calls    int                 `json:"calls"`
		Routines []string            `json:"routines"`
	}
)

func isSeparator(line string) bool {
	return line != "" && strings.Trim(line, "=") == ""
}

// Parse reads a trace log. A block cut short at the end of the input, as left
// by a killed process, is kept.
func Parse(r io.Reader) (Log, error) {
	var (
		l       Log
		current *tracestore.Snapshot
		lineNo  int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if current != nil {
			switch {
			case strings.HasPrefix(line, "\t"):
				current.Routines = append(current.Routines, line[1:])
			case isSeparator(line):
				l.Traces = append(l.Traces, *current)
				current = nil
			default:
				return l, fmt.Errorf("line %d: unexpected %q in thread %d trace: %w", lineNo, line, current.ThreadID, errorutil.ErrDataIntegrity)
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, traceHeader):
			tid, err := strconv.ParseUint(strings.TrimPrefix(line, traceHeader), 10, 32)
			if err != nil {
				return l, fmt.Errorf("line %d: invalid thread id: %w", lineNo, errorutil.ErrDataIntegrity)
			}
			current = &tracestore.Snapshot{ThreadID: tracestore.ThreadID(tid), Routines: []string{}}
		case strings.HasPrefix(line, "finished tracing "):
			if _, err := fmt.Sscanf(line, summaryFormat, &l.Routines); err != nil {
				return l, fmt.Errorf("line %d: invalid summary: %w", lineNo, errorutil.ErrDataIntegrity)
			}
			l.Finished = true
		}
	}
	if current != nil {
		l.Traces = append(l.Traces, *current)
	}
	return l, scanner.Err()
}

// ByThread joins the blocks of each thread, in the order they were written.
func (l Log) ByThread() map[tracestore.ThreadID][]string {
	threads := make(map[tracestore.ThreadID][]string)
	for _, t := range l.Traces {
		threads[t.ThreadID] = append(threads[t.ThreadID], t.Routines...)
	}
	return threads
}

// Reports returns the distinct routines of every thread, ordered by thread id.
func (l Log) Reports() []ThreadReport {
	threads := l.ByThread()
	reports := make([]ThreadReport, 0, len(threads))
	for tid, routines := range threads {
		reports = append(reports, ThreadReport{
			ThreadID: tid,
			Calls:    len(routines),
			Routines: Distinct(routines),
		})
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ThreadID < reports[j].ThreadID
	})
	return reports
}

// Distinct drops repeated names, keeping the first occurrence of each.
func Distinct(routines []string) []string {
	seen := make(map[string]struct{}, len(routines))
	distinct := make([]string, 0, len(routines))
	for _, name := range routines {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		distinct = append(distinct, name)
	}
	return distinct
}
