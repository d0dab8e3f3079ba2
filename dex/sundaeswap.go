// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"go.uber.org/zap"

	"github.com/gerolabs/prise/model"
)

// Sundaeswap pool script payment credential on mainnet.
const sundaeswapPoolCred = "4020e7fc2de75a0729c3cc3af715b34d98381e0cdbcfa99c950bc3ac"

// Sundaeswap classifies Sundaeswap v1 pool interactions. The datum nests
// the asset pair one level deeper than Minswap: Constr0[Constr0[assetA,
// assetB], poolIdent, circulatingLP, fee]. Reserves come from the pool
// output value.
type Sundaeswap struct {
	logger *zap.Logger
}

// NewSundaeswap builds the classifier.
func NewSundaeswap(logger *zap.Logger) *Sundaeswap {
	return &Sundaeswap{logger: logger.Named(CodeSundaeswap)}
}

func (s *Sundaeswap) Code() string { return CodeSundaeswap }

func (s *Sundaeswap) Name() string { return "SundaeSwap" }

func (s *Sundaeswap) PoolCredentials() []string { return []string{sundaeswapPoolCred} }

func (s *Sundaeswap) pairFromDatum(datum []byte) (string, string, error) {
	c, err := decodeDatum(datum)
	if err != nil {
		return "", "", err
	}
	pair, err := fieldConstructor(c, 0)
	if err != nil {
		return "", "", err
	}
	aC, err := fieldConstructor(pair, 0)
	if err != nil {
		return "", "", err
	}
	bC, err := fieldConstructor(pair, 1)
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

func (s *Sundaeswap) ComputeSwaps(tx *QualifiedTx) ([]model.Swap, error) {
	var swaps []model.Swap
	for _, poolOut := range poolOutputs(tx, s.PoolCredentials()) {
		a, b, err := s.pairFromDatum(poolOut.DatumBytes)
		if err != nil {
			s.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		asset1, asset2, _ := orderPair(a, b)
		poolIn, ok := poolInput(tx, s.PoolCredentials(), asset1, asset2)
		if !ok {
			continue
		}
		swaps = append(swaps, swapFromReserveDelta(s.Code(), tx, asset1, asset2,
			poolIn.AmountOf(asset1), poolIn.AmountOf(asset2),
			poolOut.AmountOf(asset1), poolOut.AmountOf(asset2)))
	}
	return swaps, nil
}

func (s *Sundaeswap) ComputePoolReserves(tx *QualifiedTx) ([]model.PoolReserve, error) {
	var reserves []model.PoolReserve
	for _, poolOut := range poolOutputs(tx, s.PoolCredentials()) {
		a, b, err := s.pairFromDatum(poolOut.DatumBytes)
		if err != nil {
			s.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		asset1, asset2, _ := orderPair(a, b)
		reserves = append(reserves, model.PoolReserve{
			PoolID:     model.PoolKey(asset1, asset2, s.Code()),
			Asset1Unit: asset1,
			Asset2Unit: asset2,
			Provider:   s.Code(),
			Slot:       tx.Slot,
			TxHash:     tx.Hash,
			Reserve1:   poolOut.AmountOf(asset1),
			Reserve2:   poolOut.AmountOf(asset2),
		})
	}
	return reserves, nil
}

var _ Classifier = (*Sundaeswap)(nil)
