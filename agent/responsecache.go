package agent

import (
	"container/list"
	"sync"
	"time"
)

// defaultCacheSize bounds the number of fingerprints ResponseCache retains,
// per spec.md §4.4's "LRU-bounded, e.g. 32 entries".
const defaultCacheSize = 32

// defaultRecencyWindow is how long a completed reply stays eligible to be
// replayed for an identical fingerprint instead of recomputed.
const defaultRecencyWindow = 10 * time.Second

type cacheEntry struct {
	fingerprint string
	text        string
	storedAt    time.Time
}

// ResponseCache deduplicates concurrent and rapidly-repeated requests to the
// LLM node by fingerprint: one set of in-flight fingerprints, one bounded
// LRU of recently completed replies. Both are guarded by the same mutex,
// mirroring the agent.Registry's single-lock-per-table convention.
type ResponseCache struct {
	mu            sync.Mutex
	maxEntries    int
	recencyWindow time.Duration

	active map[string]string // fingerprint -> best-effort partial/placeholder reply
	order  *list.List
	lookup map[string]*list.Element
}

// NewResponseCache creates a ResponseCache. maxEntries<=0 defaults to 32;
// recencyWindow<=0 defaults to 10s.
func NewResponseCache(maxEntries int, recencyWindow time.Duration) *ResponseCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheSize
	}
	if recencyWindow <= 0 {
		recencyWindow = defaultRecencyWindow
	}
	return &ResponseCache{
		maxEntries:    maxEntries,
		recencyWindow: recencyWindow,
		active:        make(map[string]string),
		order:         list.New(),
		lookup:        make(map[string]*list.Element),
	}
}

// Begin marks fingerprint as in-flight. ok is false if it was already
// active, in which case placeholder is the best reply to show the caller
// while the original computation is still running (the most recent
// recent_responses entry for the same fingerprint, or "" if none yet).
func (c *ResponseCache) Begin(fingerprint string) (placeholder string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, inFlight := c.active[fingerprint]; inFlight {
		if el, cached := c.lookup[fingerprint]; cached {
			return el.Value.(*cacheEntry).text, false
		}
		return "", false
	}

	if el, cached := c.lookup[fingerprint]; cached {
		entry := el.Value.(*cacheEntry)
		if time.Since(entry.storedAt) < c.recencyWindow {
			return entry.text, false
		}
	}

	c.active[fingerprint] = ""
	return "", true
}

// Complete removes fingerprint from the active set and records text as its
// most recent reply, evicting the least-recently-used entry if the cache is
// full.
func (c *ResponseCache) Complete(fingerprint, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.active, fingerprint)

	if el, exists := c.lookup[fingerprint]; exists {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).text = text
		el.Value.(*cacheEntry).storedAt = time.Now()
		return
	}

	entry := &cacheEntry{fingerprint: fingerprint, text: text, storedAt: time.Now()}
	el := c.order.PushFront(entry)
	c.lookup[fingerprint] = el

	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.lookup, oldest.Value.(*cacheEntry).fingerprint)
		}
	}
}

// Abort removes fingerprint from the active set without recording a reply,
// used when the computation fails irrecoverably before producing text.
func (c *ResponseCache) Abort(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, fingerprint)
}
