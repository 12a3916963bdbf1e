package core

import (
	"container/list"
	"fmt"

	"PairLedger/internal/observability"

	"github.com/rs/zerolog"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
	log     zerolog.Logger

	tier2Errors int64
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(kind string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, log zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		log:       log,
	}
}

func compositeKey(kind, key string) string {
	return fmt.Sprintf("%s:%s", kind, key)
}

// IsDuplicate checks if a command has been applied (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(kind string, idempotencyKey string) bool {
	ck := compositeKey(kind, idempotencyKey)

	if ic.lru.Contains(ck) {
		ic.recordDuplicate(kind, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(kind, idempotencyKey)
		if err != nil {
			// Fail open; the unique index on the command log still
			// rejects the row.
			ic.tier2Errors++
			ic.log.Warn().Err(err).Str("kind", kind).Msg("idempotency tier-2 lookup failed")
			return false
		}
		if isDup {
			ic.recordDuplicate(kind, "postgres")
			ic.lru.Add(ck)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(kind string, idempotencyKey string) {
	before := ic.lru.Evictions()
	ic.lru.Add(compositeKey(kind, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if d := ic.lru.Evictions() - before; d > 0 {
			ic.metrics.DedupLRUEvictions.Add(float64(d))
		}
	}
}

// Tier2Errors counts failed Postgres lookups.
func (ic *IdempotencyChecker) Tier2Errors() int64 { return ic.tier2Errors }

func (ic *IdempotencyChecker) recordDuplicate(kind, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(kind, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe: only accessed from the engine goroutine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys, oldest first, so that the last key
// ends up most recently used.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns composite keys from least to most recently used, the order
// WarmFromKeys expects.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(*lruEntry).key)
	}
	return out
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
