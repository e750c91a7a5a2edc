package event

import (
	"fmt"

	"github.com/getsentry/calltracer/internal/errorutil"
	"github.com/getsentry/calltracer/internal/symtab"
	"github.com/getsentry/calltracer/internal/tracestore"
)

type Kind string

const (
	ThreadStartKind  Kind = "thread_start"
	ThreadFinishKind Kind = "thread_finish"
	RoutineEntryKind Kind = "routine_entry"
	BasicBlockKind   Kind = "basic_block"
	ImageLoadKind    Kind = "image_load"
	ImageUnloadKind  Kind = "image_unload"
	ProcessExitKind  Kind = "process_exit"
)

type (
	// Section is a section of a loaded image and the routines it contains.
	Section struct {
		Name     string           `json:"name,omitempty"`
		Routines []symtab.Routine `json:"routines,omitempty"`
	}

	// Image is an executable or shared library mapped into the observed process.
	Image struct {
		Path     string    `json:"path"`
		Sections []Section `json:"sections,omitempty"`
	}

	// Event is one notification sent by the instrumentation host.
	Event struct {
		Kind         Kind                `json:"kind"`
		ThreadID     tracestore.ThreadID `json:"thread_id,omitempty"`
		Symbol       string              `json:"symbol,omitempty"`
		Instructions uint32              `json:"instructions,omitempty"`
		Image        Image               `json:"image,omitempty"`
		ExitCode     int32               `json:"exit_code,omitempty"`
	}
)

// ThreadScoped reports whether the event belongs to a single thread's stream.
func (e Event) ThreadScoped() bool {
	switch e.Kind {
	case ThreadStartKind, ThreadFinishKind, RoutineEntryKind, BasicBlockKind:
		return true
	}
	return false
}

func (e Event) Validate() error {
	switch e.Kind {
	case ThreadStartKind, ThreadFinishKind, BasicBlockKind, ProcessExitKind:
		return nil
	case RoutineEntryKind:
		if e.Symbol == "" {
			return fmt.Errorf("event: %w: routine entry without a symbol", errorutil.ErrDataIntegrity)
		}
		return nil
	case ImageLoadKind, ImageUnloadKind:
		if e.Image.Path == "" {
			return fmt.Errorf("event: %w: %s without an image path", errorutil.ErrDataIntegrity, e.Kind)
		}
		return nil
	}
	return fmt.Errorf("event: %w: %q", errorutil.ErrUnknownEvent, e.Kind)
}
