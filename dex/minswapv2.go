// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"go.uber.org/zap"

	"github.com/gerolabs/prise/model"
)

// Minswap v2 pool script payment credential on mainnet.
const minswapV2PoolCred = "ea07b733d932129c378af627436e7cbc2ef0bf96e0036bb51b3bde6b"

// MinswapV2 classifies Minswap v2 pool interactions. Unlike v1 the pool
// datum carries the reserves directly, so both swaps and reserve snapshots
// come from datum state rather than output values.
type MinswapV2 struct {
	logger *zap.Logger
}

// NewMinswapV2 builds the classifier.
func NewMinswapV2(logger *zap.Logger) *MinswapV2 {
	return &MinswapV2{logger: logger.Named(CodeMinswapV2)}
}

func (m *MinswapV2) Code() string { return CodeMinswapV2 }

func (m *MinswapV2) Name() string { return "Minswap V2" }

func (m *MinswapV2) PoolCredentials() []string { return []string{minswapV2PoolCred} }

// v2 pool datum: Constr0[batchingStakeCred, assetA, assetB, totalLiquidity,
// reserveA, reserveB, ...].
type minswapV2State struct {
	asset1, asset2     string
	reserve1, reserve2 int64
}

func (m *MinswapV2) stateFromDatum(datum []byte) (*minswapV2State, error) {
	c, err := decodeDatum(datum)
	if err != nil {
		return nil, err
	}
	aC, err := fieldConstructor(c, 1)
	if err != nil {
		return nil, err
	}
	bC, err := fieldConstructor(c, 2)
	if err != nil {
		return nil, err
	}
	a, err := assetClassUnit(aC)
	if err != nil {
		return nil, err
	}
	b, err := assetClassUnit(bC)
	if err != nil {
		return nil, err
	}
	reserveA, err := fieldInt(c, 4)
	if err != nil {
		return nil, err
	}
	reserveB, err := fieldInt(c, 5)
	if err != nil {
		return nil, err
	}
	asset1, asset2, swapped := orderPair(a, b)
	st := &minswapV2State{asset1: asset1, asset2: asset2, reserve1: reserveA, reserve2: reserveB}
	if swapped {
		st.reserve1, st.reserve2 = reserveB, reserveA
	}
	return st, nil
}

func (m *MinswapV2) ComputeSwaps(tx *QualifiedTx) ([]model.Swap, error) {
	var swaps []model.Swap
	for _, poolOut := range poolOutputs(tx, m.PoolCredentials()) {
		after, err := m.stateFromDatum(poolOut.DatumBytes)
		if err != nil {
			m.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		poolIn, ok := poolInput(tx, m.PoolCredentials(), after.asset1, after.asset2)
		if !ok || len(poolIn.DatumBytes) == 0 {
			continue
		}
		before, err := m.stateFromDatum(poolIn.DatumBytes)
		if err != nil {
			m.logger.Warn("skipping pool input", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		swaps = append(swaps, swapFromReserveDelta(m.Code(), tx, after.asset1, after.asset2,
			before.reserve1, before.reserve2, after.reserve1, after.reserve2))
	}
	return swaps, nil
}

func (m *MinswapV2) ComputePoolReserves(tx *QualifiedTx) ([]model.PoolReserve, error) {
	var reserves []model.PoolReserve
	for _, poolOut := range poolOutputs(tx, m.PoolCredentials()) {
		st, err := m.stateFromDatum(poolOut.DatumBytes)
		if err != nil {
			m.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		reserves = append(reserves, model.PoolReserve{
			PoolID:     model.PoolKey(st.asset1, st.asset2, m.Code()),
			Asset1Unit: st.asset1,
			Asset2Unit: st.asset2,
			Provider:   m.Code(),
			Slot:       tx.Slot,
			TxHash:     tx.Hash,
			Reserve1:   st.reserve1,
			Reserve2:   st.reserve2,
		})
	}
	return reserves, nil
}

var _ Classifier = (*MinswapV2)(nil)
