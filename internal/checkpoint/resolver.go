// Package checkpoint keeps named frame positions in one frame-sorted
// collection and answers navigation queries over it.
package checkpoint

import (
	"sort"
	"sync"
)

// SourceType tags where a checkpoint came from.
type SourceType string

const (
	// SourceMarker checkpoints are declared in template config.
	SourceMarker SourceType = "marker"
	// SourceRuntime checkpoints are discovered in rendered markup.
	SourceRuntime SourceType = "runtime"
)

// Source is the tagged origin of a checkpoint.
type Source struct {
	Type SourceType `json:"type" yaml:"type"`
}

// Checkpoint is a named, navigable frame position.
type Checkpoint struct {
	ID     string  `json:"id" yaml:"id"`
	Frame  int     `json:"frame" yaml:"frame"`
	Time   float64 `json:"time" yaml:"time"`
	Label  string  `json:"label,omitempty" yaml:"label,omitempty"`
	Source Source  `json:"source" yaml:"source"`
}

func (c Checkpoint) less(o Checkpoint) bool {
	if c.Frame != o.Frame {
		return c.Frame < o.Frame
	}
	return c.ID < o.ID
}

// Resolver holds checkpoints sorted by frame, ties broken by id. Ids are
// unique across both sources.
type Resolver struct {
	mu    sync.RWMutex
	items []Checkpoint
	byID  map[string]Checkpoint
}

// NewResolver creates a resolver seeded with cps.
func NewResolver(cps ...Checkpoint) *Resolver {
	r := &Resolver{byID: make(map[string]Checkpoint)}
	for _, cp := range cps {
		r.Add(cp)
	}
	return r
}

// Add inserts cp and reports whether the collection changed.
//
// Markers always win over runtime entries with the same id and are never
// replaced. A runtime id seen again at an earlier frame moves there; later
// sightings are ignored.
func (r *Resolver) Add(cp Checkpoint) bool {
	if cp.ID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[cp.ID]; ok {
		switch {
		case existing.Source.Type == SourceMarker:
			return false
		case cp.Source.Type == SourceMarker:
		case cp.Frame < existing.Frame:
		default:
			return false
		}
		r.remove(existing)
	}

	i := sort.Search(len(r.items), func(i int) bool { return cp.less(r.items[i]) })
	r.items = append(r.items, Checkpoint{})
	copy(r.items[i+1:], r.items[i:])
	r.items[i] = cp
	r.byID[cp.ID] = cp
	return true
}

func (r *Resolver) remove(cp Checkpoint) {
	i := sort.Search(len(r.items), func(i int) bool { return !r.items[i].less(cp) })
	if i < len(r.items) && r.items[i].ID == cp.ID {
		r.items = append(r.items[:i], r.items[i+1:]...)
	}
	delete(r.byID, cp.ID)
}

// Get returns the checkpoint with id.
func (r *Resolver) Get(id string) (Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, ok := r.byID[id]
	return cp, ok
}

// GetAt returns the last checkpoint at or before frame.
func (r *Resolver) GetAt(frame int) (Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.items), func(i int) bool { return r.items[i].Frame > frame })
	if i == 0 {
		return Checkpoint{}, false
	}
	return r.items[i-1], true
}

// GetPrevious returns the last checkpoint strictly before frame.
func (r *Resolver) GetPrevious(frame int) (Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.items), func(i int) bool { return r.items[i].Frame >= frame })
	if i == 0 {
		return Checkpoint{}, false
	}
	return r.items[i-1], true
}

// GetNext returns the first checkpoint strictly after frame.
func (r *Resolver) GetNext(frame int) (Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.items), func(i int) bool { return r.items[i].Frame > frame })
	if i == len(r.items) {
		return Checkpoint{}, false
	}
	return r.items[i], true
}

// All returns a copy of the sorted collection.
func (r *Resolver) All() []Checkpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Checkpoint, len(r.items))
	copy(out, r.items)
	return out
}

// Len is the number of checkpoints.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
