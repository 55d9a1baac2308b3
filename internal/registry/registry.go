// Package registry provides the global name -> worker-handle mapping (C1)
// that the supervisor, dispatcher, and recent-logs lazy-start path all rely
// on. It generalizes the teacher's source.Registry RWMutex
// double-checked-locking style into a generic concurrent map keyed by any
// comparable tuple.
package registry

import (
	"errors"
	"sync"
)

// ErrAlreadyStarted is returned by Register when the name is already taken.
// Per spec §3: "repeated registration of the same name fails with
// already_started".
var ErrAlreadyStarted = errors.New("registry: already_started")

// entry pairs a worker handle with the payload dispatch callers need (e.g.
// the teacher's "(module, :ingest)" tuple, here any caller-defined value).
type entry[V any] struct {
	handle  V
	payload any
}

// Registry maps keys of type K to handles of type V. Safe for concurrent
// use. Register is optimistic: it takes a read lock first to check for a
// collision, then a write lock with a double-check, exactly like the
// teacher's source.Registry.Resolve fast/slow path.
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
}

// New creates an empty Registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]entry[V])}
}

// Register associates name with handle and an optional payload (visited by
// Dispatch). Returns ErrAlreadyStarted if name is already registered.
func (r *Registry[K, V]) Register(name K, handle V, payload any) error {
	r.mu.RLock()
	if _, ok := r.entries[name]; ok {
		r.mu.RUnlock()
		return ErrAlreadyStarted
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return ErrAlreadyStarted
	}
	r.entries[name] = entry[V]{handle: handle, payload: payload}
	return nil
}

// Lookup returns the handle registered under name, if any.
func (r *Registry[K, V]) Lookup(name K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handle, ok
}

// Unregister removes name. No-op if not registered.
func (r *Registry[K, V]) Unregister(name K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Visitor is called once per matching entry during Dispatch.
type Visitor[K comparable, V any] func(name K, handle V, payload any)

// Dispatch invokes visit once for every entry whose key matches keep. The
// snapshot is taken under a read lock at call time; entries unregistered
// during dispatch (concurrently, after the snapshot is copied) are not
// visited — matching spec §4.1's "dispatch sees a consistent snapshot".
func (r *Registry[K, V]) Dispatch(keep func(K) bool, visit Visitor[K, V]) {
	r.mu.RLock()
	snapshot := make([]struct {
		name K
		e    entry[V]
	}, 0, len(r.entries))
	for name, e := range r.entries {
		if keep(name) {
			snapshot = append(snapshot, struct {
				name K
				e    entry[V]
			}{name, e})
		}
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		visit(s.name, s.e.handle, s.e.payload)
	}
}

// Len returns the current number of registered entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
