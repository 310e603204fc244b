package mcp

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// defaultPromptCacheEntries bounds the cache before proactive eviction.
const defaultPromptCacheEntries = 128

type promptCacheEntry struct {
	result    *PromptGetResult
	expiresAt time.Time
	seq       int64
}

type promptCacheSlot struct {
	key string
	seq int64
}

// PromptCache memoizes prompt expansions. Entries expire lazily on lookup
// after the TTL; once the cache grows past maxEntries, the oldest-inserted
// entries are evicted first.
type PromptCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	seq        int64
	entries    map[string]promptCacheEntry
	order      []promptCacheSlot // insertion order; stale slots skipped
}

// NewPromptCache creates a cache. Non-positive ttl or maxEntries fall back
// to the environment-derived TTL and the default entry bound.
func NewPromptCache(ttl time.Duration, maxEntries int) *PromptCache {
	if ttl <= 0 {
		ttl = PromptCacheTTL()
	}
	if maxEntries <= 0 {
		maxEntries = defaultPromptCacheEntries
	}
	return &PromptCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]promptCacheEntry),
	}
}

// Get returns the cached expansion when present and fresh. An expired entry
// is removed on the way out.
func (pc *PromptCache) Get(key string) (*PromptGetResult, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	e, ok := pc.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(pc.entries, key)
		return nil, false
	}
	return e.result, true
}

// Put stores an expansion with a fresh TTL and evicts the oldest insertions
// once the cache exceeds its bound.
func (pc *PromptCache) Put(key string, result *PromptGetResult) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.seq++
	pc.entries[key] = promptCacheEntry{
		result:    result,
		expiresAt: time.Now().Add(pc.ttl),
		seq:       pc.seq,
	}
	pc.order = append(pc.order, promptCacheSlot{key: key, seq: pc.seq})

	for len(pc.entries) > pc.maxEntries && len(pc.order) > 0 {
		slot := pc.order[0]
		pc.order = pc.order[1:]
		// A slot is live only while it still names the current insertion;
		// re-inserted keys leave stale slots behind.
		if e, ok := pc.entries[slot.key]; ok && e.seq == slot.seq {
			delete(pc.entries, slot.key)
		}
	}
}

// Len returns the number of live entries, counting expired ones not yet
// swept by Get.
func (pc *PromptCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.entries)
}

// promptCacheKey canonicalizes a prompt lookup: arguments are sorted so map
// iteration order cannot split the same call across entries.
func promptCacheKey(server, name string, args map[string]string) string {
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return server + "\x00" + name + "\x00" + strings.Join(parts, "\x00")
}
