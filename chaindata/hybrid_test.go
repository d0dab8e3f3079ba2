// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chaindata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/cache"
	"github.com/gerolabs/prise/chain"
)

// fakeFallback returns canned outputs for a subset of the requested refs.
type fakeFallback struct {
	outputs map[string]chain.Utxo
	err     error
	calls   [][]chain.OutputRef
}

func (f *fakeFallback) ResolveInputs(_ context.Context, refs []chain.OutputRef) ([]chain.Utxo, error) {
	f.calls = append(f.calls, refs)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]chain.Utxo, 0, len(refs))
	for _, ref := range refs {
		if u, ok := f.outputs[ref.Key()]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeFallback) FindBlockNearest(_ context.Context, slot uint64) (chain.Point, error) {
	return chain.Point{Slot: slot, Hash: "00"}, nil
}

func ref(tx string, idx uint32) chain.OutputRef {
	return chain.OutputRef{TxHash: tx, Index: idx}
}

func utxo(tx string, idx uint32, lovelace int64) chain.Utxo {
	return chain.Utxo{Ref: ref(tx, idx), Address: "addr1" + tx, Lovelace: lovelace}
}

func TestAllHitsSkipFallback(t *testing.T) {
	c := cache.NewUtxoCache(100, nil)
	c.AddOutputs([]chain.Utxo{utxo("aa", 0, 1), utxo("bb", 0, 2)})
	fb := &fakeFallback{}
	h := NewHybrid(c, fb, nil, zap.NewNop())

	got, err := h.ResolveInputs(context.Background(), []chain.OutputRef{ref("aa", 0), ref("bb", 0)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aa", got[0].Ref.TxHash)
	assert.Equal(t, "bb", got[1].Ref.TxHash)
	assert.Empty(t, fb.calls, "fallback must not be called when every ref hits")
}

func TestMissesGoToFallbackAndMergeInOrder(t *testing.T) {
	c := cache.NewUtxoCache(100, nil)
	c.AddOutputs([]chain.Utxo{utxo("aa", 0, 1), utxo("cc", 0, 3), utxo("ee", 0, 5)})
	fb := &fakeFallback{outputs: map[string]chain.Utxo{
		"bb#0": utxo("bb", 0, 2),
		"dd#0": utxo("dd", 0, 4),
	}}
	h := NewHybrid(c, fb, nil, zap.NewNop())

	refs := []chain.OutputRef{ref("aa", 0), ref("bb", 0), ref("cc", 0), ref("dd", 0), ref("ee", 0)}
	got, err := h.ResolveInputs(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range refs {
		assert.Equal(t, r, got[i].Ref, "output %d out of order", i)
	}
	require.Len(t, fb.calls, 1)
	assert.Len(t, fb.calls[0], 2, "only the miss set goes to the fallback")
}

func TestPartialFallbackResponse(t *testing.T) {
	c := cache.NewUtxoCache(100, nil)
	fb := &fakeFallback{outputs: map[string]chain.Utxo{
		"aa#0": utxo("aa", 0, 1),
		"bb#0": utxo("bb", 0, 2),
		"cc#0": utxo("cc", 0, 3),
	}}
	h := NewHybrid(c, fb, nil, zap.NewNop())

	refs := []chain.OutputRef{ref("aa", 0), ref("bb", 0), ref("cc", 0), ref("dd", 0)}
	got, err := h.ResolveInputs(context.Background(), refs)
	require.NoError(t, err)
	assert.Len(t, got, 3, "unresolved refs are omitted, not zero-filled")
}

func TestFallbackErrorIsChainDataError(t *testing.T) {
	c := cache.NewUtxoCache(100, nil)
	fb := &fakeFallback{err: errors.New("connection refused")}
	h := NewHybrid(c, fb, nil, zap.NewNop())

	_, err := h.ResolveInputs(context.Background(), []chain.OutputRef{ref("aa", 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainData)
}
