// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package model holds the values exchanged between the classifiers, the
// price processor, and the persistence layer.
package model

import "database/sql"

// Swap operations: which side of the pair was bought.
const (
	OperationBuyAsset2 int16 = 0
	OperationBuyAsset1 int16 = 1
)

// Swap is one exchange event extracted from a transaction. Transient; it is
// persisted as a Price.
type Swap struct {
	TxHash     string
	Slot       uint64
	Dex        string
	Asset1Unit string
	Asset2Unit string
	Amount1    int64
	Amount2    int64
	Operation  int16
}

// SelfTrade reports a swap whose two sides are the same unit.
func (s Swap) SelfTrade() bool {
	return s.Asset1Unit == s.Asset2Unit
}

// Price is the persistent form of a swap.
type Price struct {
	AssetUnit      string
	QuoteAssetUnit string
	Provider       string
	Time           int64
	TxHash         string
	SwapIdx        int
	Price          float64
	Amount1        int64
	Amount2        int64
	Operation      int16
	Outlier        sql.NullBool
}

// PoolReserve is one observed snapshot of a pool's two reserves.
// PoolID is the synthetic key asset1Unit:asset2Unit:dexCode.
type PoolReserve struct {
	PoolID     string
	Asset1Unit string
	Asset2Unit string
	Provider   string
	Slot       uint64
	TxHash     string
	Reserve1   int64
	Reserve2   int64
}

// PoolKey builds the synthetic pool identifier.
func PoolKey(asset1Unit, asset2Unit, dexCode string) string {
	return asset1Unit + ":" + asset2Unit + ":" + dexCode
}
