// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cache implements the bounded UTXO cache that fronts the
// chain-data fallback providers.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/metrics"
)

// statUpdateFrequency is how many operations pass between two pushes of
// cache gauges to the metrics registry.
const statUpdateFrequency = 1000

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Size        int
	MaxSize     int
	Utilization float64
}

// UtxoCache maps output references to resolved outputs. Eviction is FIFO by
// first insertion; reads do not refresh entries. UTXOs are referenced soon
// after they are created, so a true LRU buys nothing here.
//
// Entries are not removed when consumed as inputs of a later block: rollback
// reprocessing may need them again.
type UtxoCache struct {
	mu      sync.Mutex
	entries map[string]chain.Utxo
	// order holds keys in insertion order; head is the index of the oldest
	// live key. Compacted when the dead prefix grows past half the slice.
	order []string
	head  int

	maxSize int

	ops     uint64
	metrics *metrics.Metrics
}

// NewUtxoCache creates a cache bounded to maxSize entries. m may be nil in
// tests.
func NewUtxoCache(maxSize int, m *metrics.Metrics) *UtxoCache {
	return &UtxoCache{
		entries: make(map[string]chain.Utxo, maxSize),
		maxSize: maxSize,
		metrics: m,
	}
}

// AddOutputs inserts every output of a transaction. Keys already present
// are left untouched, so replaying a block is a no-op.
func (c *UtxoCache) AddOutputs(outputs []chain.Utxo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, out := range outputs {
		key := out.Ref.Key()
		if _, ok := c.entries[key]; ok {
			continue
		}
		for len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
		c.entries[key] = out
		c.order = append(c.order, key)
	}
	c.updateStatsIfNeeded()
}

// evictOldestLocked drops the oldest live key. Caller holds mu.
func (c *UtxoCache) evictOldestLocked() {
	for c.head < len(c.order) {
		key := c.order[c.head]
		c.head++
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			break
		}
	}
	if c.head > len(c.order)/2 && c.head > 0 {
		c.order = append([]string(nil), c.order[c.head:]...)
		c.head = 0
	}
}

// Get returns the output for a single reference.
func (c *UtxoCache) Get(ref chain.OutputRef) (chain.Utxo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.entries[ref.Key()]
	c.updateStatsIfNeeded()
	return u, ok
}

// GetMany returns the subset of refs present in the cache, keyed by the
// canonical reference key.
func (c *UtxoCache) GetMany(refs []chain.OutputRef) map[string]chain.Utxo {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := make(map[string]chain.Utxo, len(refs))
	for _, ref := range refs {
		if u, ok := c.entries[ref.Key()]; ok {
			found[ref.Key()] = u
		}
	}
	c.updateStatsIfNeeded()
	return found
}

// RemoveSpent drops a single entry. Optional; size pressure is the normal
// eviction path.
func (c *UtxoCache) RemoveSpent(ref chain.OutputRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ref.Key())
}

// Stats reports current occupancy.
func (c *UtxoCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *UtxoCache) statsLocked() Stats {
	s := Stats{Size: len(c.entries), MaxSize: c.maxSize}
	if c.maxSize > 0 {
		s.Utilization = float64(s.Size) / float64(c.maxSize) * 100
	}
	return s
}

// updateStatsIfNeeded pushes gauges once per statUpdateFrequency operations.
// Caller holds mu.
func (c *UtxoCache) updateStatsIfNeeded() {
	if c.metrics == nil {
		return
	}
	if atomic.AddUint64(&c.ops, 1)%statUpdateFrequency != 0 {
		return
	}
	s := c.statsLocked()
	c.metrics.UtxoCacheSize.Set(float64(s.Size))
	c.metrics.UtxoCacheUtilization.Set(s.Utilization)
}
