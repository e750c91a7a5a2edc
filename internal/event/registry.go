package event

import (
	"sync"

	"github.com/getsentry/calltracer/internal/tracestore"
)

type (
	ThreadStartFunc  func(tid tracestore.ThreadID)
	ThreadFinishFunc func(tid tracestore.ThreadID)
	RoutineEntryFunc func(tid tracestore.ThreadID, symbol string)
	BasicBlockFunc   func(tid tracestore.ThreadID, instructions uint32)
	ImageLoadFunc    func(img Image)
	ImageUnloadFunc  func(img Image)
	ProcessExitFunc  func(code int32)
)

// Registry holds the callbacks registered for each extension point of the
// host and dispatches events to them in registration order.
type Registry struct {
	mu           sync.RWMutex
	threadStarts []ThreadStartFunc
	threadFinish []ThreadFinishFunc
	routineEntry []RoutineEntryFunc
	basicBlocks  []BasicBlockFunc
	imageLoads   []ImageLoadFunc
	imageUnloads []ImageUnloadFunc
	processExits []ProcessExitFunc
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) AddThreadStartFunction(fn ThreadStartFunc) {
	r.mu.Lock()
	r.threadStarts = append(r.threadStarts, fn)
	r.mu.Unlock()
}

func (r *Registry) AddThreadFinishFunction(fn ThreadFinishFunc) {
	r.mu.Lock()
	r.threadFinish = append(r.threadFinish, fn)
	r.mu.Unlock()
}

func (r *Registry) AddRoutineEntryFunction(fn RoutineEntryFunc) {
	r.mu.Lock()
	r.routineEntry = append(r.routineEntry, fn)
	r.mu.Unlock()
}

func (r *Registry) AddBasicBlockFunction(fn BasicBlockFunc) {
	r.mu.Lock()
	r.basicBlocks = append(r.basicBlocks, fn)
	r.mu.Unlock()
}

func (r *Registry) AddImageLoadFunction(fn ImageLoadFunc) {
	r.mu.Lock()
	r.imageLoads = append(r.imageLoads, fn)
	r.mu.Unlock()
}

func (r *Registry) AddImageUnloadFunction(fn ImageUnloadFunc) {
	r.mu.Lock()
	r.imageUnloads = append(r.imageUnloads, fn)
	r.mu.Unlock()
}

func (r *Registry) AddProcessExitFunction(fn ProcessExitFunc) {
	r.mu.Lock()
	r.processExits = append(r.processExits, fn)
	r.mu.Unlock()
}

// Registered returns the total number of registered callbacks.
func (r *Registry) Registered() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threadStarts) + len(r.threadFinish) + len(r.routineEntry) +
		len(r.basicBlocks) + len(r.imageLoads) + len(r.imageUnloads) + len(r.processExits)
}

// Dispatch invokes every callback registered for e's kind. Events without a
// registered callback are ignored.
func (r *Registry) Dispatch(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch e.Kind {
	case ThreadStartKind:
		for _, fn := range r.threadStarts {
			fn(e.ThreadID)
		}
	case ThreadFinishKind:
		for _, fn := range r.threadFinish {
			fn(e.ThreadID)
		}
	case RoutineEntryKind:
		for _, fn := range r.routineEntry {
			fn(e.ThreadID, e.Symbol)
		}
	case BasicBlockKind:
		for _, fn := range r.basicBlocks {
			fn(e.ThreadID, e.Instructions)
		}
	case ImageLoadKind:
		for _, fn := range r.imageLoads {
			fn(e.Image)
		}
	case ImageUnloadKind:
		for _, fn := range r.imageUnloads {
			fn(e.Image)
		}
	case ProcessExitKind:
		for _, fn := range r.processExits {
			fn(e.ExitCode)
		}
	}
	return nil
}
