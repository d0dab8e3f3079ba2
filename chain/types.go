// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain holds the internal block model the pipeline consumes.
// The gouroboros ledger types are converted at the sync boundary so that
// everything downstream (qualification, classification, persistence) works
// on one stable representation.
package chain

import "fmt"

// LovelaceUnit is the asset unit of the native coin.
const LovelaceUnit = "lovelace"

// OutputRef identifies a transaction output.
type OutputRef struct {
	TxHash string
	Index  uint32
}

// Key returns the canonical cache key form "txHash#index".
func (r OutputRef) Key() string {
	return fmt.Sprintf("%s#%d", r.TxHash, r.Index)
}

// AssetAmount is a quantity of a single native asset. Unit is the
// concatenation of policy id and hex-encoded asset name, or LovelaceUnit.
type AssetAmount struct {
	Unit     string
	Quantity int64
}

// Utxo is a resolved transaction output.
type Utxo struct {
	Ref         OutputRef
	Address     string
	PaymentCred string
	Lovelace    int64
	Assets      []AssetAmount
	DatumBytes  []byte
}

// AmountOf returns the quantity of unit held by the output, treating
// LovelaceUnit as the coin amount.
func (u *Utxo) AmountOf(unit string) int64 {
	if unit == LovelaceUnit {
		return u.Lovelace
	}
	for _, a := range u.Assets {
		if a.Unit == unit {
			return a.Quantity
		}
	}
	return 0
}

// Tx is one transaction body plus the outputs it created.
type Tx struct {
	Hash    string
	Inputs  []OutputRef
	Outputs []Utxo
}

// Block is the unit of chain progress delivered by the sync session.
type Block struct {
	Slot   uint64
	Hash   string
	Height uint64
	Txs    []Tx
}

// Point is a position on the chain, used to start and restart sync.
type Point struct {
	Slot uint64
	Hash string
}

// Origin reports whether the point is the chain origin.
func (p Point) Origin() bool {
	return p.Slot == 0 && p.Hash == ""
}
