// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dex extracts swaps and pool reserve snapshots from qualified
// transactions, one classifier per supported protocol.
package dex

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/model"
)

// DEX codes.
const (
	CodeMinswapV1  = "minswapv1"
	CodeMinswapV2  = "minswapv2"
	CodeSundaeswap = "sundaeswap"
	CodeWingriders = "wingriders"
)

// QualifiedTx is a transaction that pays to a known pool script, with its
// inputs resolved.
type QualifiedTx struct {
	Hash          string
	Slot          uint64
	DexCredential string
	Inputs        []chain.Utxo
	Outputs       []chain.Utxo
}

// Classifier decodes one protocol's pool interactions.
type Classifier interface {
	// Code is the short protocol identifier stored with each price.
	Code() string
	// Name is the human-readable protocol name.
	Name() string
	// PoolCredentials lists the hex payment credentials of the protocol's
	// pool scripts.
	PoolCredentials() []string
	// ComputeSwaps extracts one swap per pool the transaction touched.
	ComputeSwaps(tx *QualifiedTx) ([]model.Swap, error)
	// ComputePoolReserves reports the reserves observed in each pool
	// output of the transaction.
	ComputePoolReserves(tx *QualifiedTx) ([]model.PoolReserve, error)
}

// New maps a configured DEX code to its classifier.
func New(code string, logger *zap.Logger) (Classifier, error) {
	switch code {
	case CodeMinswapV1:
		return NewMinswapV1(logger), nil
	case CodeMinswapV2:
		return NewMinswapV2(logger), nil
	case CodeSundaeswap:
		return NewSundaeswap(logger), nil
	case CodeWingriders:
		return NewWingriders(logger), nil
	default:
		return nil, fmt.Errorf("unknown dex %q", code)
	}
}

// NewAll builds the classifiers named by codes.
func NewAll(codes []string, logger *zap.Logger) ([]Classifier, error) {
	out := make([]Classifier, 0, len(codes))
	for _, code := range codes {
		c, err := New(code, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// poolOutputs returns the transaction outputs paying to any of the given
// credentials that carry a datum.
func poolOutputs(tx *QualifiedTx, creds []string) []chain.Utxo {
	credSet := make(map[string]struct{}, len(creds))
	for _, c := range creds {
		credSet[c] = struct{}{}
	}
	var out []chain.Utxo
	for _, o := range tx.Outputs {
		if _, ok := credSet[o.PaymentCred]; !ok {
			continue
		}
		if len(o.DatumBytes) == 0 {
			continue
		}
		out = append(out, o)
	}
	return out
}

// poolInput finds the resolved input holding the previous pool state for
// the given pair, matching by credential and by presence of both assets.
func poolInput(tx *QualifiedTx, creds []string, asset1, asset2 string) (chain.Utxo, bool) {
	credSet := make(map[string]struct{}, len(creds))
	for _, c := range creds {
		credSet[c] = struct{}{}
	}
	for _, in := range tx.Inputs {
		if _, ok := credSet[in.PaymentCred]; !ok {
			continue
		}
		if holdsPair(&in, asset1, asset2) {
			return in, true
		}
	}
	return chain.Utxo{}, false
}

func holdsPair(u *chain.Utxo, asset1, asset2 string) bool {
	return u.AmountOf(asset1) > 0 && u.AmountOf(asset2) > 0
}

// orderPair puts the native coin first, otherwise orders units
// lexicographically, and reports whether the inputs were swapped.
func orderPair(a, b string) (string, string, bool) {
	if a == chain.LovelaceUnit || (b != chain.LovelaceUnit && a < b) {
		return a, b, false
	}
	return b, a, true
}

// swapFromReserveDelta derives the net swap a transaction performed against
// a pool from the reserve movement between the pool input and pool output.
// A positive asset1 delta means asset1 flowed into the pool, so asset2 was
// bought. Zero-movement interactions (deposits, fee collections) produce a
// zero-amount swap that downstream marks as an outlier.
func swapFromReserveDelta(dexCode string, tx *QualifiedTx, asset1, asset2 string, in1, in2, out1, out2 int64) model.Swap {
	delta1 := out1 - in1
	delta2 := out2 - in2
	swap := model.Swap{
		TxHash:     tx.Hash,
		Slot:       tx.Slot,
		Dex:        dexCode,
		Asset1Unit: asset1,
		Asset2Unit: asset2,
	}
	if delta1 >= 0 {
		swap.Amount1 = delta1
		swap.Amount2 = -delta2
		swap.Operation = model.OperationBuyAsset2
	} else {
		swap.Amount1 = -delta1
		swap.Amount2 = delta2
		swap.Operation = model.OperationBuyAsset1
	}
	if swap.Amount1 < 0 {
		swap.Amount1 = 0
	}
	if swap.Amount2 < 0 {
		swap.Amount2 = 0
	}
	return swap
}
