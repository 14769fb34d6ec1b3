package office

import "sort"

// IDSet is a set of actor ids
type IDSet map[string]struct{}

// Has reports whether id is in the set
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Registry owns the local actors keyed by remote agent id. Callers tear
// down an actor's animation before removing it.
type Registry struct {
	actors map[string]*Actor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{actors: make(map[string]*Actor)}
}

// Upsert stores actor under id, replacing any previous entry
func (r *Registry) Upsert(id string, actor *Actor) {
	r.actors[id] = actor
}

// Remove deletes and returns the actor for id, or nil
func (r *Registry) Remove(id string) *Actor {
	a, ok := r.actors[id]
	if !ok {
		return nil
	}
	delete(r.actors, id)
	return a
}

// Get returns the actor for id, or nil
func (r *Registry) Get(id string) *Actor {
	return r.actors[id]
}

// Contains reports whether a is the live actor registered under its id.
// A destroyed actor that was re-added under the same id is not contained.
func (r *Registry) Contains(a *Actor) bool {
	return a != nil && r.actors[a.ID] == a
}

// All returns the actors sorted by id
func (r *Registry) All() []*Actor {
	out := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the set of registered ids
func (r *Registry) IDs() IDSet {
	ids := make(IDSet, len(r.actors))
	for id := range r.actors {
		ids[id] = struct{}{}
	}
	return ids
}

// Actors exposes the backing map for read-only use by Diff
func (r *Registry) Actors() map[string]*Actor {
	return r.actors
}

// Len returns the number of actors
func (r *Registry) Len() int {
	return len(r.actors)
}

// Clear removes every actor
func (r *Registry) Clear() {
	r.actors = make(map[string]*Actor)
}
