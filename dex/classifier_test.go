// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"encoding/hex"
	"testing"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/model"
)

const (
	testPolicy = "475362a850bf8d1f037794432cdea9fdbbf8d048a7c5115feeb7e91d"
	testName   = "69425443" // "iBTC"
)

var testUnit = testPolicy + testName

func adaClass() cbor.Constructor {
	return cbor.NewConstructor(0, cbor.IndefLengthList{[]byte{}, []byte{}})
}

func tokenClass(t *testing.T) cbor.Constructor {
	policy, err := hex.DecodeString(testPolicy)
	require.NoError(t, err)
	name, err := hex.DecodeString(testName)
	require.NoError(t, err)
	return cbor.NewConstructor(0, cbor.IndefLengthList{policy, name})
}

func mustEncode(t *testing.T, v interface{}) []byte {
	data, err := cbor.Encode(v)
	require.NoError(t, err)
	return data
}

func poolUtxo(cred string, lovelace, token int64, datum []byte) chain.Utxo {
	return chain.Utxo{
		Ref:         chain.OutputRef{TxHash: "pooltx", Index: 0},
		Address:     "addr1pool",
		PaymentCred: cred,
		Lovelace:    lovelace,
		Assets:      []chain.AssetAmount{{Unit: testUnit, Quantity: token}},
		DatumBytes:  datum,
	}
}

func minswapV1Datum(t *testing.T) []byte {
	return mustEncode(t, cbor.NewConstructor(0, cbor.IndefLengthList{
		adaClass(), tokenClass(t), uint64(1_000_000), uint64(0),
	}))
}

func TestMinswapV1SellAdaForToken(t *testing.T) {
	datum := minswapV1Datum(t)
	// Pool held 100 ADA / 550 iBTC; the user paid in 10 ADA and took 50.
	tx := &QualifiedTx{
		Hash:   "aa",
		Slot:   50_000_000,
		Inputs: []chain.Utxo{poolUtxo(minswapV1PoolCred, 100_000_000, 550, datum)},
		Outputs: []chain.Utxo{
			poolUtxo(minswapV1PoolCred, 110_000_000, 500, datum),
		},
	}
	c := NewMinswapV1(zap.NewNop())
	swaps, err := c.ComputeSwaps(tx)
	require.NoError(t, err)
	require.Len(t, swaps, 1)

	swap := swaps[0]
	assert.Equal(t, chain.LovelaceUnit, swap.Asset1Unit)
	assert.Equal(t, testUnit, swap.Asset2Unit)
	assert.Equal(t, int64(10_000_000), swap.Amount1)
	assert.Equal(t, int64(50), swap.Amount2)
	assert.Equal(t, model.OperationBuyAsset2, swap.Operation)
}

func TestMinswapV1BuyAdaDirection(t *testing.T) {
	datum := minswapV1Datum(t)
	tx := &QualifiedTx{
		Hash:   "bb",
		Slot:   50_000_000,
		Inputs: []chain.Utxo{poolUtxo(minswapV1PoolCred, 110_000_000, 500, datum)},
		Outputs: []chain.Utxo{
			poolUtxo(minswapV1PoolCred, 100_000_000, 550, datum),
		},
	}
	swaps, err := NewMinswapV1(zap.NewNop()).ComputeSwaps(tx)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, model.OperationBuyAsset1, swaps[0].Operation)
	assert.Equal(t, int64(10_000_000), swaps[0].Amount1)
	assert.Equal(t, int64(50), swaps[0].Amount2)
}

func TestMinswapV1MalformedDatumIsSkipped(t *testing.T) {
	tx := &QualifiedTx{
		Hash: "cc",
		Slot: 1,
		Outputs: []chain.Utxo{
			poolUtxo(minswapV1PoolCred, 100_000_000, 550, []byte{0x01, 0x02}),
		},
	}
	c := NewMinswapV1(zap.NewNop())
	swaps, err := c.ComputeSwaps(tx)
	require.NoError(t, err, "a malformed datum must not be fatal")
	assert.Empty(t, swaps)
	reserves, err := c.ComputePoolReserves(tx)
	require.NoError(t, err)
	assert.Empty(t, reserves)
}

func TestMinswapV1PoolReserves(t *testing.T) {
	datum := minswapV1Datum(t)
	tx := &QualifiedTx{
		Hash: "dd",
		Slot: 42,
		Outputs: []chain.Utxo{
			poolUtxo(minswapV1PoolCred, 90_000_000, 220, datum),
		},
	}
	reserves, err := NewMinswapV1(zap.NewNop()).ComputePoolReserves(tx)
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	r := reserves[0]
	assert.Equal(t, model.PoolKey(chain.LovelaceUnit, testUnit, CodeMinswapV1), r.PoolID)
	assert.Equal(t, int64(90_000_000), r.Reserve1)
	assert.Equal(t, int64(220), r.Reserve2)
}

func TestMinswapV2ReservesComeFromDatum(t *testing.T) {
	mkDatum := func(reserveA, reserveB uint64) []byte {
		return mustEncode(t, cbor.NewConstructor(0, cbor.IndefLengthList{
			cbor.NewConstructor(0, cbor.IndefLengthList{[]byte{0x01}}),
			adaClass(), tokenClass(t),
			uint64(1_000_000), reserveA, reserveB,
		}))
	}
	before := mkDatum(100_000_000, 550)
	after := mkDatum(110_000_000, 500)
	// Held values intentionally differ from datum reserves.
	in := poolUtxo(minswapV2PoolCred, 103_000_000, 550, before)
	out := poolUtxo(minswapV2PoolCred, 113_000_000, 500, after)
	tx := &QualifiedTx{Hash: "ee", Slot: 7, Inputs: []chain.Utxo{in}, Outputs: []chain.Utxo{out}}

	c := NewMinswapV2(zap.NewNop())
	swaps, err := c.ComputeSwaps(tx)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, int64(10_000_000), swaps[0].Amount1)
	assert.Equal(t, int64(50), swaps[0].Amount2)

	reserves, err := c.ComputePoolReserves(tx)
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	assert.Equal(t, int64(110_000_000), reserves[0].Reserve1)
	assert.Equal(t, int64(500), reserves[0].Reserve2)
}

func TestSundaeswapNestedPair(t *testing.T) {
	datum := mustEncode(t, cbor.NewConstructor(0, cbor.IndefLengthList{
		cbor.NewConstructor(0, cbor.IndefLengthList{adaClass(), tokenClass(t)}),
		[]byte{0x00}, uint64(1_000_000), uint64(3),
	}))
	tx := &QualifiedTx{
		Hash:   "ff",
		Slot:   9,
		Inputs: []chain.Utxo{poolUtxo(sundaeswapPoolCred, 100_000_000, 550, datum)},
		Outputs: []chain.Utxo{
			poolUtxo(sundaeswapPoolCred, 110_000_000, 500, datum),
		},
	}
	c := NewSundaeswap(zap.NewNop())
	swaps, err := c.ComputeSwaps(tx)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, CodeSundaeswap, swaps[0].Dex)
	assert.Equal(t, int64(10_000_000), swaps[0].Amount1)
}

func TestWingridersTreasuryIsNettedOut(t *testing.T) {
	mkDatum := func(treasuryA, treasuryB uint64) []byte {
		return mustEncode(t, cbor.NewConstructor(0, cbor.IndefLengthList{
			[]byte{0xde, 0xad},
			cbor.NewConstructor(0, cbor.IndefLengthList{adaClass(), tokenClass(t)}),
			treasuryA, treasuryB, uint64(123456),
		}))
	}
	datum := mkDatum(3_000_000, 10)
	tx := &QualifiedTx{
		Hash:   "a1",
		Slot:   11,
		Inputs: []chain.Utxo{poolUtxo(wingridersPoolCred, 103_000_000, 560, datum)},
		Outputs: []chain.Utxo{
			poolUtxo(wingridersPoolCred, 113_000_000, 510, datum),
		},
	}
	c := NewWingriders(zap.NewNop())
	reserves, err := c.ComputePoolReserves(tx)
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	assert.Equal(t, int64(110_000_000), reserves[0].Reserve1)
	assert.Equal(t, int64(500), reserves[0].Reserve2)

	swaps, err := c.ComputeSwaps(tx)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	assert.Equal(t, int64(10_000_000), swaps[0].Amount1)
	assert.Equal(t, int64(50), swaps[0].Amount2)
}

func TestMultiplePoolsOneTx(t *testing.T) {
	datum := minswapV1Datum(t)
	otherUnit := "d8beceb1ac736c92df8e1210fb39803508533ae9573cffeb2b24a839" + "6c71"
	otherDatum := mustEncode(t, cbor.NewConstructor(0, cbor.IndefLengthList{
		adaClass(),
		cbor.NewConstructor(0, cbor.IndefLengthList{
			mustDecodeHex(t, "d8beceb1ac736c92df8e1210fb39803508533ae9573cffeb2b24a839"),
			mustDecodeHex(t, "6c71"),
		}),
		uint64(1), uint64(0),
	}))
	otherPool := func(lovelace, token int64) chain.Utxo {
		return chain.Utxo{
			Ref:         chain.OutputRef{TxHash: "other", Index: 0},
			PaymentCred: minswapV1PoolCred,
			Lovelace:    lovelace,
			Assets:      []chain.AssetAmount{{Unit: otherUnit, Quantity: token}},
			DatumBytes:  otherDatum,
		}
	}
	tx := &QualifiedTx{
		Hash: "a2",
		Slot: 12,
		Inputs: []chain.Utxo{
			poolUtxo(minswapV1PoolCred, 100_000_000, 550, datum),
			otherPool(200_000_000, 9000),
		},
		Outputs: []chain.Utxo{
			poolUtxo(minswapV1PoolCred, 110_000_000, 500, datum),
			otherPool(190_000_000, 9500),
		},
	}
	swaps, err := NewMinswapV1(zap.NewNop()).ComputeSwaps(tx)
	require.NoError(t, err)
	assert.Len(t, swaps, 2, "one swap per touched pool")
}

func TestNewAllRejectsUnknownCode(t *testing.T) {
	_, err := NewAll([]string{CodeMinswapV1, "uniswap"}, zap.NewNop())
	require.Error(t, err)
}

func mustDecodeHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
