// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/model"
)

// Wingriders pool script payment credential on mainnet.
const wingridersPoolCred = "e6c90a5923713af5786963dee0fdffd830ca7e0c86a041d9e5833e91"

// Wingriders classifies Wingriders pool interactions. The pool value also
// carries the protocol treasury, so reserves are the held amounts minus the
// treasury figures recorded in the datum: Constr0[requestValidatorHash,
// Constr0[assetA, assetB], treasuryA, treasuryB, lastInteraction].
type Wingriders struct {
	logger *zap.Logger
}

// NewWingriders builds the classifier.
func NewWingriders(logger *zap.Logger) *Wingriders {
	return &Wingriders{logger: logger.Named(CodeWingriders)}
}

func (w *Wingriders) Code() string { return CodeWingriders }

func (w *Wingriders) Name() string { return "WingRiders" }

func (w *Wingriders) PoolCredentials() []string { return []string{wingridersPoolCred} }

type wingridersState struct {
	asset1, asset2       string
	treasury1, treasury2 int64
}

func (w *Wingriders) stateFromDatum(datum []byte) (*wingridersState, error) {
	c, err := decodeDatum(datum)
	if err != nil {
		return nil, err
	}
	pair, err := fieldConstructor(c, 1)
	if err != nil {
		return nil, err
	}
	aC, err := fieldConstructor(pair, 0)
	if err != nil {
		return nil, err
	}
	bC, err := fieldConstructor(pair, 1)
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
	treasuryA, err := fieldInt(c, 2)
	if err != nil {
		return nil, err
	}
	treasuryB, err := fieldInt(c, 3)
	if err != nil {
		return nil, err
	}
	asset1, asset2, swapped := orderPair(a, b)
	st := &wingridersState{asset1: asset1, asset2: asset2, treasury1: treasuryA, treasury2: treasuryB}
	if swapped {
		st.treasury1, st.treasury2 = treasuryB, treasuryA
	}
	return st, nil
}

// reserves nets the datum treasury out of the held value.
func (st *wingridersState) reserves(u *chain.Utxo) (int64, int64) {
	return u.AmountOf(st.asset1) - st.treasury1, u.AmountOf(st.asset2) - st.treasury2
}

func (w *Wingriders) ComputeSwaps(tx *QualifiedTx) ([]model.Swap, error) {
	var swaps []model.Swap
	for _, poolOut := range poolOutputs(tx, w.PoolCredentials()) {
		after, err := w.stateFromDatum(poolOut.DatumBytes)
		if err != nil {
			w.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		poolIn, ok := poolInput(tx, w.PoolCredentials(), after.asset1, after.asset2)
		if !ok || len(poolIn.DatumBytes) == 0 {
			continue
		}
		before, err := w.stateFromDatum(poolIn.DatumBytes)
		if err != nil {
			w.logger.Warn("skipping pool input", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		in1, in2 := before.reserves(&poolIn)
		out1, out2 := after.reserves(&poolOut)
		swaps = append(swaps, swapFromReserveDelta(w.Code(), tx, after.asset1, after.asset2,
			in1, in2, out1, out2))
	}
	return swaps, nil
}

func (w *Wingriders) ComputePoolReserves(tx *QualifiedTx) ([]model.PoolReserve, error) {
	var reserves []model.PoolReserve
	for _, poolOut := range poolOutputs(tx, w.PoolCredentials()) {
		st, err := w.stateFromDatum(poolOut.DatumBytes)
		if err != nil {
			w.logger.Warn("skipping pool output", zap.String("tx", tx.Hash), zap.Error(err))
			continue
		}
		r1, r2 := st.reserves(&poolOut)
		reserves = append(reserves, model.PoolReserve{
			PoolID:     model.PoolKey(st.asset1, st.asset2, w.Code()),
			Asset1Unit: st.asset1,
			Asset2Unit: st.asset2,
			Provider:   w.Code(),
			Slot:       tx.Slot,
			TxHash:     tx.Hash,
			Reserve1:   r1,
			Reserve2:   r2,
		})
	}
	return reserves, nil
}

var _ Classifier = (*Wingriders)(nil)
