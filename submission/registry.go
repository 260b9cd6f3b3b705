package submission

import (
	"errors"
	"sync"
)

// ErrDraftDiscarded reports a backend result that arrived after its draft was closed.
// The posting happened. Only the local draft state is gone.
var ErrDraftDiscarded = errors.New("draft was discarded before the submission finished")

var ErrDraftNotFound = errors.New("draft not found")

// Registry tracks the open generation of every draft key. A key reopened after Discard gets a new
// generation, so a result from the old one can be recognised as stale.
type Registry struct {
	mu   sync.Mutex
	open map[string]uint64
	next uint64
}

func NewRegistry() *Registry {
	return &Registry{open: map[string]uint64{}}
}

func (r *Registry) Open(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.open[key] = r.next
	return r.next
}

// Ensure returns the current generation, opening one for drafts restored from a store.
func (r *Registry) Ensure(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen, ok := r.open[key]; ok {
		return gen
	}
	r.next++
	r.open[key] = r.next
	return r.next
}

// Forget drops gen if it is still the open one, for a key whose draft turned out to be gone.
func (r *Registry) Forget(key string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[key] == gen {
		delete(r.open, key)
	}
}

func (r *Registry) IsCurrent(key string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.open[key]
	return ok && current == gen
}

func (r *Registry) Discard(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, key)
}
