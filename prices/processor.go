// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package prices converts swaps into price records.
package prices

import (
	"database/sql"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/model"
)

// lovelaceDecimals is the native coin precision.
const lovelaceDecimals = 6

// Processor derives a price row per swap. Known asset decimals normalize
// the ratio; unknown decimals are treated as zero.
type Processor struct {
	slotOffset int64

	mu       sync.RWMutex
	decimals map[string]int32

	logger *zap.Logger
}

// NewProcessor builds the processor. slotOffset converts a slot to unix
// seconds: time = slot - slotOffset.
func NewProcessor(slotOffset int64, logger *zap.Logger) *Processor {
	return &Processor{
		slotOffset: slotOffset,
		decimals:   map[string]int32{chain.LovelaceUnit: lovelaceDecimals},
		logger:     logger.Named("prices"),
	}
}

// SetDecimals records a known precision, typically seeded from the asset
// registry at startup and updated as metadata arrives.
func (p *Processor) SetDecimals(unit string, decimals int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decimals[unit] = decimals
}

func (p *Processor) decimalsOf(unit string) int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.decimals[unit]
}

// Time converts a slot to unix seconds.
func (p *Processor) Time(slot uint64) int64 {
	return int64(slot) - p.slotOffset
}

// Process converts every swap of a block. The swap index disambiguates
// multiple swaps within one transaction, so duplicate price keys are not
// produced by construction.
func (p *Processor) Process(swaps []model.Swap) []model.Price {
	prices := make([]model.Price, 0, len(swaps))
	perTx := make(map[string]int, len(swaps))
	for _, swap := range swaps {
		idx := perTx[swap.TxHash]
		perTx[swap.TxHash] = idx + 1

		price := model.Price{
			AssetUnit:      swap.Asset2Unit,
			QuoteAssetUnit: swap.Asset1Unit,
			Provider:       swap.Dex,
			Time:           p.Time(swap.Slot),
			TxHash:         swap.TxHash,
			SwapIdx:        idx,
			Amount1:        swap.Amount1,
			Amount2:        swap.Amount2,
			Operation:      swap.Operation,
		}
		price.Price = p.ratio(swap)
		if swap.Amount1 == 0 || swap.Amount2 == 0 || swap.SelfTrade() {
			price.Outlier = sql.NullBool{Bool: true, Valid: true}
		}
		prices = append(prices, price)
	}
	return prices
}

// ratio is amount1/amount2 adjusted for decimals: the value of one unit of
// the bought asset expressed in the quote asset.
func (p *Processor) ratio(swap model.Swap) float64 {
	if swap.Amount1 == 0 || swap.Amount2 == 0 {
		return 0
	}
	d1 := p.decimalsOf(swap.Asset1Unit)
	d2 := p.decimalsOf(swap.Asset2Unit)
	raw := float64(swap.Amount1) / float64(swap.Amount2)
	return raw * math.Pow10(int(d2)-int(d1))
}
