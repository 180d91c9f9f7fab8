package supervisor

import (
	"fmt"
	"sync"
)

// DefaultMaxInstances is the per-type cap when none is configured.
const DefaultMaxInstances = 5

// Registry holds the live handles of every process type.
//
// Instance ids are positional: the id of a handle is its 1-based index in
// its type's list, so removing instance 2 of 3 renumbers the former
// instance 3 as 2. Callers that need a stable reference use Handle.UID.
//
// Capacity is checked and claimed atomically through Reserve, so concurrent
// starts can never push a type past its cap. Clear starts a new generation:
// reservations taken before it can no longer be committed.
//
// All public methods are thread-safe.
type Registry struct {
	max int

	mu       sync.Mutex
	handles  map[string][]*Handle
	reserved map[string]int
	gen      uint64
}

// Reservation is a claimed slot for one instance of a type.
// Exactly one of Commit or Cancel must be called.
type Reservation struct {
	r        *Registry
	typeName string
	gen      uint64
	done     bool
}

// NewRegistry creates a registry with the given per-type cap.
func NewRegistry(maxPerType int) *Registry {
	if maxPerType <= 0 {
		maxPerType = DefaultMaxInstances
	}
	return &Registry{
		max:      maxPerType,
		handles:  make(map[string][]*Handle),
		reserved: make(map[string]int),
	}
}

// Max returns the per-type cap.
func (r *Registry) Max() int { return r.max }

// Reserve claims a slot for typeName.
// Returns ErrCapacityExceeded if live plus reserved instances are at the cap.
func (r *Registry) Reserve(typeName string) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.handles[typeName])+r.reserved[typeName] >= r.max {
		return nil, fmt.Errorf("%w: %s already has %d instances", ErrCapacityExceeded, typeName, r.max)
	}
	r.reserved[typeName]++
	return &Reservation{r: r, typeName: typeName, gen: r.gen}, nil
}

// Commit appends h to the type's list and returns its positional id.
// Returns ErrCancelled if the registry was cleared since Reserve.
func (res *Reservation) Commit(h *Handle) (int, error) {
	r := res.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.gen != r.gen {
		res.done = true
		return 0, fmt.Errorf("%w: registry cleared while %s was starting", ErrCancelled, res.typeName)
	}
	if res.done {
		return r.indexOfLocked(res.typeName, h) + 1, nil
	}
	res.done = true
	r.release(res.typeName)
	r.handles[res.typeName] = append(r.handles[res.typeName], h)
	return len(r.handles[res.typeName]), nil
}

// Cancel gives the slot back. It is a no-op after Commit.
func (res *Reservation) Cancel() {
	r := res.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.done {
		return
	}
	res.done = true
	if res.gen == r.gen {
		r.release(res.typeName)
	}
}

func (r *Registry) release(typeName string) {
	if r.reserved[typeName] <= 1 {
		delete(r.reserved, typeName)
		return
	}
	r.reserved[typeName]--
}

// Create reserves and commits in one step.
func (r *Registry) Create(typeName string, h *Handle) (int, error) {
	res, err := r.Reserve(typeName)
	if err != nil {
		return 0, err
	}
	return res.Commit(h)
}

// Get returns the handle at the 1-based position id.
func (r *Registry) Get(typeName string, id int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handles[typeName]
	if id < 1 || id > len(list) {
		return nil, fmt.Errorf("%w: %s #%d", ErrNotFound, typeName, id)
	}
	return list[id-1], nil
}

// Remove deletes the handle at position id and returns it.
// Later instances of the type shift down by one.
func (r *Registry) Remove(typeName string, id int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handles[typeName]
	if id < 1 || id > len(list) {
		return nil, fmt.Errorf("%w: %s #%d", ErrNotFound, typeName, id)
	}
	h := list[id-1]
	r.deleteLocked(typeName, id-1)
	return h, nil
}

// RemoveHandle deletes h wherever it currently sits.
// Reports false if it was already gone.
func (r *Registry) RemoveHandle(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOfLocked(h.typeName, h)
	if idx < 0 {
		return false
	}
	r.deleteLocked(h.typeName, idx)
	return true
}

// IDOf returns the current positional id of h, or 0 if it is not registered.
func (r *Registry) IDOf(h *Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOfLocked(h.typeName, h) + 1
}

func (r *Registry) indexOfLocked(typeName string, h *Handle) int {
	for i, cur := range r.handles[typeName] {
		if cur == h {
			return i
		}
	}
	return -1
}

func (r *Registry) deleteLocked(typeName string, idx int) {
	list := r.handles[typeName]
	list = append(list[:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(r.handles, typeName)
		return
	}
	r.handles[typeName] = list
}

// List returns a copy of the type's handles in id order.
func (r *Registry) List(typeName string) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Handle(nil), r.handles[typeName]...)
}

// Count returns the number of committed handles for a type.
func (r *Registry) Count(typeName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles[typeName])
}

// All returns every handle of every type.
func (r *Registry) All() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Handle
	for _, list := range r.handles {
		out = append(out, list...)
	}
	return out
}

// Types returns the names of types with at least one handle.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}

// Clear removes every handle, voids outstanding reservations and returns
// the removed handles.
func (r *Registry) Clear() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	r.reserved = make(map[string]int)

	var out []*Handle
	for _, list := range r.handles {
		out = append(out, list...)
	}
	r.handles = make(map[string][]*Handle)
	return out
}
