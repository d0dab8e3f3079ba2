// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pipeline carries blocks from the sync session through swap
// extraction and price computation to the store. A bounded bus feeds a
// single dispatcher loop; publish blocks when the buffer is full, which is
// the pipeline's back-pressure.
package pipeline

import (
	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/model"
)

// Event is the closed set of pipeline events. The dispatcher switches on
// the concrete type; isEvent keeps the set closed at compile time.
type Event interface {
	isEvent()
}

// BlockReceived carries one block delivered by the sync session.
type BlockReceived struct {
	Block chain.Block
}

// SwapsComputed carries the swaps extracted from one block.
type SwapsComputed struct {
	Slot  uint64
	Swaps []model.Swap
}

// PoolReservesComputed carries the reserve snapshots of one block. HasSwaps
// tells the dispatcher which arm will emit the block-processed signal.
type PoolReservesComputed struct {
	Slot     uint64
	Reserves []model.PoolReserve
	HasSwaps bool
}

// PricesCalculated carries the prices derived from one block's swaps.
// HasSwaps carries the provenance forward: only the arm that owns the
// block's completion signal may emit it, and for a swapless block that is
// the reserves arm, not this one.
type PricesCalculated struct {
	Slot     uint64
	Prices   []model.Price
	HasSwaps bool
}

// Rollback reports a chain reorganization to the given point.
type Rollback struct {
	Point chain.Point
}

func (BlockReceived) isEvent()        {}
func (SwapsComputed) isEvent()        {}
func (PoolReservesComputed) isEvent() {}
func (PricesCalculated) isEvent()     {}
func (Rollback) isEvent()             {}
