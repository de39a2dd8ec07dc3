// Package registry tracks which viewer connections watch which matches.
//
// The registry is an explicit service object injected into the dispatcher.
// All operations are in-memory, synchronous and never fail; they return an
// acknowledgement that can be confirmed to the caller.
package registry

import (
	"sort"
	"sync"
)

// Ack is the outcome of a registry mutation.
type Ack struct {
	Success bool
	Message string
	// Changed is false when the call had no effect (already subscribed,
	// or unsubscribing something that was never there).
	Changed bool
}

// Stats summarizes the registry.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
	Pairs       int `json:"pairs"`
}

// Registry is the many-to-many connection/match relation.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{} // matchID -> connIDs
	watches map[string]map[string]struct{} // connID -> matchIDs
	pairs   int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]struct{}),
		watches: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the pair if absent. Subscribing twice has no further effect.
func (r *Registry) Subscribe(connID, matchID string) Ack {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[matchID][connID]; ok {
		return Ack{Success: true, Message: "already subscribed to match " + matchID}
	}
	add(r.rooms, matchID, connID)
	add(r.watches, connID, matchID)
	r.pairs++
	return Ack{Success: true, Message: "subscribed to match " + matchID, Changed: true}
}

// Unsubscribe removes the pair if present. Removing an absent pair is a
// successful no-op.
func (r *Registry) Unsubscribe(connID, matchID string) Ack {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[matchID][connID]; !ok {
		return Ack{Success: true, Message: "not subscribed to match " + matchID}
	}
	remove(r.rooms, matchID, connID)
	remove(r.watches, connID, matchID)
	r.pairs--
	return Ack{Success: true, Message: "unsubscribed from match " + matchID, Changed: true}
}

// OnDisconnect removes every pair held by connID and returns the matches it
// was watching.
func (r *Registry) OnDisconnect(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := r.watches[connID]
	if len(matches) == 0 {
		delete(r.watches, connID)
		return nil
	}
	out := make([]string, 0, len(matches))
	for matchID := range matches {
		remove(r.rooms, matchID, connID)
		r.pairs--
		out = append(out, matchID)
	}
	delete(r.watches, connID)
	sort.Strings(out)
	return out
}

// Subscribers returns a snapshot of the connections watching matchID.
func (r *Registry) Subscribers(matchID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[matchID]
	out := make([]string, 0, len(room))
	for connID := range room {
		out = append(out, connID)
	}
	return out
}

// SubscriberCount returns the room size for matchID.
func (r *Registry) SubscriberCount(matchID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[matchID])
}

// Matches returns the matches connID is watching, sorted.
func (r *Registry) Matches(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.watches[connID]))
	for matchID := range r.watches[connID] {
		out = append(out, matchID)
	}
	sort.Strings(out)
	return out
}

// Stats returns the current sizes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Rooms: len(r.rooms), Connections: len(r.watches), Pairs: r.pairs}
}

func add(idx map[string]map[string]struct{}, key, member string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[member] = struct{}{}
}

func remove(idx map[string]map[string]struct{}, key, member string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(idx, key)
	}
}
