// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chaindata

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gerolabs/prise/cache"
	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/metrics"
)

// hitRateReportFrequency is how many ResolveInputs calls pass between two
// hit-rate log lines.
const hitRateReportFrequency = 100

// Hybrid composes the UTXO cache with a fallback provider. Cache hits are
// served locally; only the miss set goes to the fallback.
type Hybrid struct {
	cache    *cache.UtxoCache
	fallback Provider
	metrics  *metrics.Metrics
	logger   *zap.Logger

	calls  uint64
	hits   uint64
	misses uint64
}

// NewHybrid builds the resolver. m may be nil in tests.
func NewHybrid(c *cache.UtxoCache, fallback Provider, m *metrics.Metrics, logger *zap.Logger) *Hybrid {
	return &Hybrid{
		cache:    c,
		fallback: fallback,
		metrics:  m,
		logger:   logger.Named("hybrid"),
	}
}

// ResolveInputs resolves refs cache-first. The result walks refs in input
// order, emitting the cached or freshly fetched output for each; unresolved
// references are skipped and counted.
func (h *Hybrid) ResolveInputs(ctx context.Context, refs []chain.OutputRef) ([]chain.Utxo, error) {
	cached := h.cache.GetMany(refs)

	missRefs := make([]chain.OutputRef, 0, len(refs)-len(cached))
	for _, ref := range refs {
		if _, ok := cached[ref.Key()]; !ok {
			missRefs = append(missRefs, ref)
		}
	}

	atomic.AddUint64(&h.hits, uint64(len(cached)))
	atomic.AddUint64(&h.misses, uint64(len(missRefs)))
	if h.metrics != nil {
		h.metrics.UtxoCacheHits.Add(float64(len(cached)))
		h.metrics.UtxoCacheMisses.Add(float64(len(missRefs)))
	}

	fetched := make(map[string]chain.Utxo, len(missRefs))
	if len(missRefs) > 0 {
		outputs, err := h.fallback.ResolveInputs(ctx, missRefs)
		if err != nil {
			return nil, fmt.Errorf("%w: fallback resolve: %v", ErrChainData, err)
		}
		if len(outputs) != len(missRefs) {
			if h.metrics != nil {
				h.metrics.UtxoCountMismatch.Inc()
			}
			h.logger.Warn("fallback returned fewer outputs than requested",
				zap.Int("requested", len(missRefs)),
				zap.Int("returned", len(outputs)))
		}
		// The fallback contract is positional alignment with the miss set,
		// but every backend carries the reference on each output, so key
		// the response instead of trusting the position.
		for i, out := range outputs {
			key := out.Ref.Key()
			if out.Ref == (chain.OutputRef{}) && i < len(missRefs) {
				key = missRefs[i].Key()
			}
			fetched[key] = out
		}
	}

	resolved := make([]chain.Utxo, 0, len(refs))
	missing := 0
	for _, ref := range refs {
		if u, ok := cached[ref.Key()]; ok {
			resolved = append(resolved, u)
		} else if u, ok := fetched[ref.Key()]; ok {
			resolved = append(resolved, u)
		} else {
			missing++
		}
	}
	if missing > 0 {
		if h.metrics != nil {
			h.metrics.UtxoMissing.Inc()
		}
		h.logger.Warn("unresolved inputs after fallback merge",
			zap.Int("missing", missing), zap.Int("requested", len(refs)))
	}

	h.reportIfNeeded()
	return resolved, nil
}

// FindBlockNearest delegates to the fallback.
func (h *Hybrid) FindBlockNearest(ctx context.Context, slot uint64) (chain.Point, error) {
	return h.fallback.FindBlockNearest(ctx, slot)
}

func (h *Hybrid) reportIfNeeded() {
	calls := atomic.AddUint64(&h.calls, 1)
	if calls%hitRateReportFrequency != 0 {
		return
	}
	hits := atomic.LoadUint64(&h.hits)
	misses := atomic.LoadUint64(&h.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	stats := h.cache.Stats()
	h.logger.Info("utxo resolution stats",
		zap.Uint64("calls", calls),
		zap.Uint64("hits", hits),
		zap.Uint64("misses", misses),
		zap.Float64("hit_rate_pct", rate),
		zap.Int("cache_size", stats.Size),
		zap.Float64("cache_utilization_pct", stats.Utilization))
}
