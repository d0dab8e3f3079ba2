// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chaindata resolves historical transaction outputs. Backends exist
// for the Blockfrost and Koios HTTP APIs and for local carp / yaci-store
// database mirrors; Hybrid fronts any of them with the UTXO cache.
package chaindata

import (
	"context"
	"errors"

	"github.com/gerolabs/prise/chain"
)

// ErrChainData wraps any backend IO failure. A failed resolution is fatal
// for the affected block's swaps; callers decide whether to retry the block.
var ErrChainData = errors.New("chain data error")

// Provider is the chain-data contract. ResolveInputs returns outputs
// positionally aligned with the iteration order of refs; references a
// backend cannot resolve are omitted.
type Provider interface {
	ResolveInputs(ctx context.Context, refs []chain.OutputRef) ([]chain.Utxo, error)
	// FindBlockNearest returns the closest block point at or before slot.
	FindBlockNearest(ctx context.Context, slot uint64) (chain.Point, error)
}
