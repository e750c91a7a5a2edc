package tracestore

import (
	"sort"
	"sync"
)

type (
	// ThreadID identifies a thread of the observed program. Ids are unique
	// among live threads and may be reused after a thread finishes.
	ThreadID uint32

	// Trace is the ordered list of routine names observed entering on one thread.
	Trace struct {
		mu    sync.Mutex
		names []string
	}

	// Snapshot is a copy of a thread's trace, safe to use after the trace was retired.
	Snapshot struct {
		ThreadID ThreadID `json:"thread_id"`
		Routines []string `json:"routines"`
	}

	// Store maps thread ids to their trace. The map itself is shared between
	// all threads while each trace is only appended to by its own thread.
	Store struct {
		mu     sync.RWMutex
		traces map[ThreadID]*Trace
	}
)

func New() *Store {
	return &Store{
		traces: make(map[ThreadID]*Trace),
	}
}

func (t *Trace) append(name string) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
}

func (t *Trace) copy() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, len(t.names))
	copy(names, t.names)
	return names
}

// Len returns the number of routines recorded so far.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.names)
}

// Start creates an empty trace for tid, replacing a stale one left by a
// previous thread with the same id.
func (s *Store) Start(tid ThreadID) {
	s.mu.Lock()
	s.traces[tid] = &Trace{}
	s.mu.Unlock()
}

// Append adds name at the end of tid's trace. If tid has no trace, one is
// created and created is true.
func (s *Store) Append(tid ThreadID, name string) (created bool) {
	t, created := s.getOrCreate(tid)
	t.append(name)
	return created
}

func (s *Store) getOrCreate(tid ThreadID) (*Trace, bool) {
	s.mu.RLock()
	t, ok := s.traces[tid]
	s.mu.RUnlock()
	if ok {
		return t, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Another goroutine may have created it between the two locks.
	if t, ok = s.traces[tid]; ok {
		return t, false
	}
	t = &Trace{}
	s.traces[tid] = t
	return t, true
}

// Finish removes tid's trace from the store and returns its content. found is
// false when no trace existed, in which case an empty snapshot is returned.
func (s *Store) Finish(tid ThreadID) (snapshot Snapshot, found bool) {
	s.mu.Lock()
	t, found := s.traces[tid]
	delete(s.traces, tid)
	s.mu.Unlock()

	snapshot.ThreadID = tid
	if !found {
		snapshot.Routines = []string{}
		return snapshot, false
	}
	snapshot.Routines = t.copy()
	return snapshot, true
}

// FinishAll retires every remaining trace and returns them ordered by thread id.
func (s *Store) FinishAll() []Snapshot {
	s.mu.Lock()
	traces := s.traces
	s.traces = make(map[ThreadID]*Trace)
	s.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(traces))
	for tid, t := range traces {
		snapshots = append(snapshots, Snapshot{ThreadID: tid, Routines: t.copy()})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ThreadID < snapshots[j].ThreadID
	})
	return snapshots
}

// Get returns a copy of tid's trace without retiring it.
func (s *Store) Get(tid ThreadID) (Snapshot, bool) {
	s.mu.RLock()
	t, ok := s.traces[tid]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{ThreadID: tid}, false
	}
	return Snapshot{ThreadID: tid, Routines: t.copy()}, true
}

// Lengths returns the number of routines recorded per live thread.
func (s *Store) Lengths() map[ThreadID]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lengths := make(map[ThreadID]int, len(s.traces))
	for tid, t := range s.traces {
		lengths[tid] = t.Len()
	}
	return lengths
}

// Len returns the number of live traces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traces)
}
