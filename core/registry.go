package core

import "sync"

// ListingRegistry holds at most one active listing per item key.
//
// The registry is pure data: the engine serializes all logical mutations
// per key, so the mutex here only protects map structure against
// concurrent access on different keys.
type ListingRegistry struct {
	mu       sync.RWMutex
	listings map[ItemKey]Listing
}

func NewListingRegistry() *ListingRegistry {
	return &ListingRegistry{
		listings: make(map[ItemKey]Listing),
	}
}

// Get returns the listing for an item, if one exists.
func (r *ListingRegistry) Get(item ItemKey) (Listing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[item]
	return l, ok
}

// Put inserts or replaces the listing for an item.
func (r *ListingRegistry) Put(item ItemKey, listing Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings[item] = listing
}

// Delete removes the listing for an item, if present.
func (r *ListingRegistry) Delete(item ItemKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listings, item)
}

// Len returns the number of active listings.
func (r *ListingRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listings)
}

// Snapshot returns a copy of all active listings.
func (r *ListingRegistry) Snapshot() map[ItemKey]Listing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ItemKey]Listing, len(r.listings))
	for k, l := range r.listings {
		out[k] = l
	}
	return out
}
