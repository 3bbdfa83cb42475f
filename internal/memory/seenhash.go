package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SeenHashCache is a bounded set of content hashes used to short-circuit
// repeated tool-observation captures before they reach the full dedup path
// (spec.md §3 "SeenHash cache", §9). It is wholesale-cleared on overflow
// rather than evicting individual entries, since a partial cache would
// silently let through hashes it used to know about.
type SeenHashCache struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, struct{}]
	capacity int
}

// NewSeenHashCache builds a cache bounded to capacity entries.
func NewSeenHashCache(capacity int) *SeenHashCache {
	if capacity <= 0 {
		capacity = 4096
	}
	c, _ := lru.New[string, struct{}](capacity)
	return &SeenHashCache{cache: c, capacity: capacity}
}

// SeenOrAdd reports whether hash was already present, adding it if not.
// When the cache is at capacity and hash is new, the whole cache is
// cleared first so membership queries never report a stale false negative
// for a hash that was evicted individually.
func (s *SeenHashCache) SeenOrAdd(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache.Get(hash); ok {
		return true
	}
	if s.cache.Len() >= s.capacity {
		s.cache.Purge()
	}
	s.cache.Add(hash, struct{}{})
	return false
}

// Len returns the current number of tracked hashes.
func (s *SeenHashCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
