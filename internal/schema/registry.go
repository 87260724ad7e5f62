package schema

import (
	"sync"

	"github.com/cuemby/warren/internal/log"
)

// ChangeEvent is delivered to registry subscribers whenever a schema is
// added. Subscribers receive events in the order schemas were inserted
// (spec §5 "on_schema_added events... delivered... in the order schemas
// were inserted into the registry"), so — unlike the scheduler's
// best-effort broadcast bus — delivery here must never drop an event.
type ChangeEvent struct {
	Schema *Schema
}

// Subscriber receives schema registry change events in insertion order.
type Subscriber chan ChangeEvent

// Registry holds the set of known schemas and notifies subscribers on
// change. It is read-mostly: lookups take a read lock, inserts take a
// write lock and then publish without holding it (spec §5 "Schema
// registry: shared; uses a read-mostly lock").
type Registry struct {
	mu          sync.RWMutex
	schemas     map[ID]*Schema
	subscribers []Subscriber
	subMu       sync.Mutex
}

// NewRegistry constructs a Registry pre-populated with the bootstrap
// system schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[ID]*Schema)}
	for _, s := range bootstrapSchemas() {
		r.schemas[s.ID] = s
	}
	return r
}

// Get looks up a schema by id.
func (r *Registry) Get(id ID) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}

// All returns every currently known schema.
func (r *Registry) All() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	return out
}

// Count returns the number of known schemas.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Add inserts or replaces a schema and notifies subscribers in insertion
// order. Returns false if the schema was already present with an
// identical definition (idempotent re-insertion, no event fired).
func (r *Registry) Add(s *Schema) bool {
	r.mu.Lock()
	existing, ok := r.schemas[s.ID]
	if ok && sameSchema(existing, s) {
		r.mu.Unlock()
		return false
	}
	r.schemas[s.ID] = s
	r.mu.Unlock()

	log.WithComponent("schema").Info().Str("schema_id", s.ID).Str("name", s.Name).Msg("schema registered")
	r.publish(ChangeEvent{Schema: s})
	return true
}

// Subscribe registers a new subscriber for change events.
func (r *Registry) Subscribe() Subscriber {
	sub := make(Subscriber, 64)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, sub)
	r.subMu.Unlock()
	return sub
}

// Unsubscribe removes and closes a previously registered subscriber.
func (r *Registry) Unsubscribe(sub Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for i, s := range r.subscribers {
		if s == sub {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(s)
			return
		}
	}
}

// publish delivers ev to every subscriber, in registration order, and
// blocks rather than drop — change events must never be lost or
// reordered per spec §5.
func (r *Registry) publish(ev ChangeEvent) {
	r.subMu.Lock()
	subs := make([]Subscriber, len(r.subscribers))
	copy(subs, r.subscribers)
	r.subMu.Unlock()

	for _, sub := range subs {
		sub <- ev
	}
}

func sameSchema(a, b *Schema) bool {
	if a.Name != b.Name || a.Description != b.Description || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}
