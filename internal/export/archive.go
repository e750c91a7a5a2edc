package export

import (
	"context"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/getsentry/calltracer/internal/collector"
	"github.com/getsentry/calltracer/internal/storageutil"
	"github.com/getsentry/calltracer/internal/tracestore"
)

type (
	// ArchiveRecord is one line of an archived session.
	ArchiveRecord struct {
		Type     string             `json:"type"`
		ThreadID uint32             `json:"thread_id,omitempty"`
		Routines []string           `json:"routines,omitempty"`
		Summary  *collector.Summary `json:"summary,omitempty"`
	}

	// Archive streams a session's traces as lz4 compressed JSON lines into an
	// object. The object is committed on Close.
	Archive struct {
		w   io.WriteCloser
		enc *gojson.Encoder
	}
)

const (
	threadRecord  = "thread"
	summaryRecord = "summary"
)

// ObjectName returns the name of the archive object of a session.
func ObjectName(sessionID string) string {
	return sessionID + ".jsonl.lz4"
}

// NewArchive opens the archive object. The object is only committed on Close,
// which usually runs during shutdown, after ctx is canceled: the writer keeps
// ctx values but not its cancellation.
func NewArchive(ctx context.Context, h storageutil.ObjectHandler, objectName string) (*Archive, error) {
	w, err := storageutil.NewCompressedWriter(context.WithoutCancel(ctx), h, objectName)
	if err != nil {
		return nil, err
	}
	return &Archive{w: w, enc: gojson.NewEncoder(w)}, nil
}

func (a *Archive) ExportThread(s tracestore.Snapshot) error {
	return a.enc.Encode(ArchiveRecord{
		Type:     threadRecord,
		ThreadID: uint32(s.ThreadID),
		Routines: s.Routines,
	})
}

func (a *Archive) ExportSummary(s collector.Summary) error {
	return a.enc.Encode(ArchiveRecord{
		Type:    summaryRecord,
		Summary: &s,
	})
}

func (a *Archive) Close() error {
	return a.w.Close()
}

// ReadArchive decodes every record of an archived session.
func ReadArchive(ctx context.Context, h storageutil.ObjectHandler, objectName string) ([]ArchiveRecord, error) {
	r, err := storageutil.NewCompressedReader(ctx, h, objectName)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var records []ArchiveRecord
	dec := gojson.NewDecoder(r)
	for {
		var rec ArchiveRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
