package modal

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// snapshot is an immutable collection of stored modals indexed by record ID.
type snapshot struct {
	modals   map[string]StoredModal
	checksum string
}

// Registry is a read-optimized, thread-safe cache of the modal
// configurations loaded from the platform. It uses atomic pointer swap for
// lock-free concurrent reads; writes rebuild the snapshot.
type Registry struct {
	mu   sync.Mutex // serializes writers; readers never take it
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given stored modals.
func NewRegistry(modals []StoredModal) *Registry {
	r := &Registry{}
	r.Replace(modals)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given modals.
func (r *Registry) Replace(modals []StoredModal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceLocked(modals)
}

func (r *Registry) replaceLocked(modals []StoredModal) {
	s := &snapshot{
		modals: make(map[string]StoredModal, len(modals)),
	}

	var checksumParts []string
	for _, m := range modals {
		s.modals[m.ID] = m
		checksumParts = append(checksumParts, m.Checksum)
	}

	sort.Strings(checksumParts)
	s.checksum = Checksum([]byte(strings.Join(checksumParts, ":")))

	r.snap.Store(s)
}

// Upsert rebuilds the snapshot with the given modal added or replaced.
// Writes are expected to be rare (builder saves) relative to reads.
func (r *Registry) Upsert(m StoredModal) {
	r.mutate(func(modals map[string]StoredModal) {
		modals[m.ID] = m
	})
}

// Remove rebuilds the snapshot without the given modal.
func (r *Registry) Remove(id string) {
	r.mutate(func(modals map[string]StoredModal) {
		delete(modals, id)
	})
}

func (r *Registry) mutate(fn func(map[string]StoredModal)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	next := make(map[string]StoredModal, len(cur.modals)+1)
	for id, m := range cur.modals {
		next[id] = m
	}
	fn(next)

	all := make([]StoredModal, 0, len(next))
	for _, m := range next {
		all = append(all, m)
	}
	r.replaceLocked(all)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the stored modal with the given record ID.
func (r *Registry) Get(id string) (StoredModal, bool) {
	m, ok := r.current().modals[id]
	return m, ok
}

// All returns all stored modals, ordered by name then ID for stable listings.
func (r *Registry) All() []StoredModal {
	s := r.current()
	modals := make([]StoredModal, 0, len(s.modals))
	for _, m := range s.modals {
		modals = append(modals, m)
	}
	sort.Slice(modals, func(i, j int) bool {
		ni, nj := "", ""
		if modals[i].Config != nil {
			ni = modals[i].Config.Name
		}
		if modals[j].Config != nil {
			nj = modals[j].Config.Name
		}
		if ni != nj {
			return ni < nj
		}
		return modals[i].ID < modals[j].ID
	})
	return modals
}

// Len returns the number of stored modals.
func (r *Registry) Len() int {
	return len(r.current().modals)
}

// Checksum returns the combined checksum of all stored modals.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
