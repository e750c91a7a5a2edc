package symtab

import (
	"fmt"
	"sort"
	"sync"
)

type (
	// Routine is a function of a loaded image.
	Routine struct {
		Address uint64 `json:"address"`
		Name    string `json:"name"`
	}

	// Table maps routine load addresses to their names. A later image load
	// overwrites the names of addresses it reuses.
	Table struct {
		mu     sync.RWMutex
		names  map[uint64]string
		images map[string]int
	}
)

func New() *Table {
	return &Table{
		names:  make(map[uint64]string),
		images: make(map[string]int),
	}
}

// String formats the routine the way it's written in the symbol log.
func (r Routine) String() string {
	return fmt.Sprintf("0x%x: %s", r.Address, r.Name)
}

// Record stores the routines of image. It returns how many addresses were
// already known and got overwritten.
func (t *Table) Record(image string, routines []Routine) (overwritten int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range routines {
		if _, exists := t.names[r.Address]; exists {
			overwritten++
		}
		t.names[r.Address] = r.Name
	}
	t.images[image]++
	return overwritten
}

// Lookup returns the name recorded for address.
func (t *Table) Lookup(address uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.names[address]
	return name, ok
}

// Loads returns how many times image was recorded.
func (t *Table) Loads(image string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.images[image]
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// Routines returns every recorded routine ordered by address.
func (t *Table) Routines() []Routine {
	t.mu.RLock()
	routines := make([]Routine, 0, len(t.names))
	for addr, name := range t.names {
		routines = append(routines, Routine{Address: addr, Name: name})
	}
	t.mu.RUnlock()
	sort.Slice(routines, func(i, j int) bool {
		return routines[i].Address < routines[j].Address
	})
	return routines
}
