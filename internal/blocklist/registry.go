package blocklist

import (
	"sort"
	"sync"
	"time"

	"ddos-guard/internal/model"
)

// Registry tracks the sources currently under active enforcement.
type Registry struct {
	mu      sync.RWMutex
	entries map[model.SourceIdentifier]Entry
	now     func() time.Time
}

// Entry describes one blocked source.
type Entry struct {
	Source    model.SourceIdentifier `json:"source"`
	BlockedAt time.Time              `json:"blocked_at"`
	Reason    string                 `json:"reason,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[model.SourceIdentifier]Entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used to stamp new entries.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Add marks source as blocked. It returns false if it already was.
func (r *Registry) Add(source model.SourceIdentifier) bool {
	return r.AddWithReason(source, "")
}

func (r *Registry) AddWithReason(source model.SourceIdentifier, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[source]; exists {
		return false
	}
	r.entries[source] = Entry{
		Source:    source,
		BlockedAt: r.now(),
		Reason:    reason,
	}
	return true
}

// Remove returns true if source was present and has been removed.
func (r *Registry) Remove(source model.SourceIdentifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[source]; !exists {
		return false
	}
	delete(r.entries, source)
	return true
}

func (r *Registry) Contains(source model.SourceIdentifier) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[source]
	return exists
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns the blocked sources sorted lexicographically.
func (r *Registry) List() []model.SourceIdentifier {
	r.mu.RLock()
	result := make([]model.SourceIdentifier, 0, len(r.entries))
	for source := range r.entries {
		result = append(result, source)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Entries returns a copy of all entries, oldest block first.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	result := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockedAt.Equal(result[j].BlockedAt) {
			return result[i].Source < result[j].Source
		}
		return result[i].BlockedAt.Before(result[j].BlockedAt)
	})
	return result
}

// Expired returns the sources blocked for longer than ttl at now.
func (r *Registry) Expired(now time.Time, ttl time.Duration) []model.SourceIdentifier {
	var result []model.SourceIdentifier
	for _, e := range r.Entries() {
		if now.Sub(e.BlockedAt) >= ttl {
			result = append(result, e.Source)
		}
	}
	return result
}
