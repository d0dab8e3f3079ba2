// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"go.uber.org/zap"

	"github.com/gerolabs/prise/model"
)

// Minswap v1 pool script payment credential on mainnet.
const minswapV1PoolCred = "e1317b152faac13426e6a83e06ff88a4d62cce3c1634ab0a5ec13309"

// MinswapV1 classifies Minswap v1 pool interactions. The pool datum leads
// with the two asset classes; reserves are read from the pool output value.
type MinswapV1 struct {
	logger *zap.Logger
}

// NewMinswapV1 builds the classifier.
func NewMinswapV1(logger *zap.Logger) *MinswapV1 {
	return &MinswapV1{logger: logger.Named(CodeMinswapV1)}
}

func (m *MinswapV1) Code() string { return CodeMinswapV1 }

func (m *MinswapV1) Name() string { return "Minswap" }

func (m *MinswapV1) PoolCredentials() []string { return []string{minswapV1PoolCred} }

// pairFromDatum reads assetA and assetB from the v1 pool datum
// Constr0[assetA, assetB, totalLiquidity, rootKLast, ...].
func (m *MinswapV1) pairFromDatum(datum []byte) (string, string, error) {
	c, err := decodeDatum(datum)
	if err != nil {
		return "", "", err
	}
	aC, err := fieldConstructor(c, 0)
	if err != nil {
		return "", "", err
	}
	bC, err := fieldConstructor(c, 1)
	if err != nil {
		return "", "", err
	}
	a, err := assetClassUnit(aC)
	if err != nil {
		return "", "", err
	}
	b, err := assetClassUnit(bC)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func (m *MinswapV1) ComputeSwaps(tx *QualifiedTx) ([]model.Swap, error) {
	var swaps []model.Swap
	for _, poolOut := range poolOutputs(tx, m.PoolCredentials()) {
		a, b, err := m.pairFromDatum(poolOut.DatumBytes)
		if err != nil {
			m.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		asset1, asset2, _ := orderPair(a, b)
		poolIn, ok := poolInput(tx, m.PoolCredentials(), asset1, asset2)
		if !ok {
			// Pool creation: there is no previous state to diff against.
			continue
		}
		swaps = append(swaps, swapFromReserveDelta(m.Code(), tx, asset1, asset2,
			poolIn.AmountOf(asset1), poolIn.AmountOf(asset2),
			poolOut.AmountOf(asset1), poolOut.AmountOf(asset2)))
	}
	return swaps, nil
}

func (m *MinswapV1) ComputePoolReserves(tx *QualifiedTx) ([]model.PoolReserve, error) {
	var reserves []model.PoolReserve
	for _, poolOut := range poolOutputs(tx, m.PoolCredentials()) {
		a, b, err := m.pairFromDatum(poolOut.DatumBytes)
		if err != nil {
			m.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		asset1, asset2, _ := orderPair(a, b)
		reserves = append(reserves, model.PoolReserve{
			PoolID:     model.PoolKey(asset1, asset2, m.Code()),
			Asset1Unit: asset1,
			Asset2Unit: asset2,
			Provider:   m.Code(),
			Slot:       tx.Slot,
			TxHash:     tx.Hash,
			Reserve1:   poolOut.AmountOf(asset1),
			Reserve2:   poolOut.AmountOf(asset2),
		})
	}
	return reserves, nil
}

var _ Classifier = (*MinswapV1)(nil)
