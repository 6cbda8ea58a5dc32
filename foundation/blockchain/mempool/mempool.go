// Package mempool maintains the ids of announced transactions that have not
// been included in a canonical block yet.
package mempool

import (
	"sort"
	"sync"
)

// Mempool represents a bounded cache of transaction ids keyed by id with the
// order of arrival as a second key. When full, the oldest id is evicted.
type Mempool struct {
	pool map[string]uint64
	seq  uint64
	max  int
	mu   sync.RWMutex
}

// New constructs a mempool holding at most size ids.
func New(size int) *Mempool {
	return &Mempool{
		pool: make(map[string]uint64),
		max:  size,
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds a transaction id and reports whether it was new.
func (mp *Mempool) Upsert(id string) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[id]; exists {
		return false
	}

	if mp.max > 0 && len(mp.pool) >= mp.max {
		var oldest string
		var oldestSeq uint64
		for k, s := range mp.pool {
			if oldest == "" || s < oldestSeq {
				oldest, oldestSeq = k, s
			}
		}
		delete(mp.pool, oldest)
	}

	mp.seq++
	mp.pool[id] = mp.seq

	return true
}

// Delete removes the transaction ids from the pool.
func (mp *Mempool) Delete(ids ...string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, id := range ids {
		delete(mp.pool, id)
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]uint64)
}

// PickBest returns the oldest ids for the next block. Pass -1 for all the
// transactions.
func (mp *Mempool) PickBest(howMany int) []string {
	mp.mu.RLock()
	ids := make([]string, 0, len(mp.pool))
	for id := range mp.pool {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return mp.pool[ids[i]] < mp.pool[ids[j]]
	})
	mp.mu.RUnlock()

	if howMany >= 0 && howMany < len(ids) {
		ids = ids[:howMany]
	}

	return ids
}
