// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerolabs/prise/model"
)

func mkReserveRow(pool string, time int64, reserve1, reserve2 int64) reserveRow {
	return reserveRow{
		r: model.PoolReserve{
			PoolID:   pool,
			Reserve1: reserve1,
			Reserve2: reserve2,
		},
		time: time,
	}
}

func TestDedupeKeepsLastOccurrence(t *testing.T) {
	rows := []reserveRow{
		mkReserveRow("poolX", 100, 100, 200),
		mkReserveRow("poolY", 100, 7, 8),
		mkReserveRow("poolX", 100, 90, 220),
	}
	out := dedupeReserveRows(rows)
	require.Len(t, out, 2)

	var poolX *reserveRow
	for i := range out {
		if out[i].r.PoolID == "poolX" {
			poolX = &out[i]
		}
	}
	require.NotNil(t, poolX)
	assert.Equal(t, int64(90), poolX.r.Reserve1, "last occurrence wins")
	assert.Equal(t, int64(220), poolX.r.Reserve2)
}

func TestDedupeKeepsDistinctTimes(t *testing.T) {
	rows := []reserveRow{
		mkReserveRow("poolX", 100, 1, 2),
		mkReserveRow("poolX", 101, 3, 4),
	}
	out := dedupeReserveRows(rows)
	assert.Len(t, out, 2, "same pool at different times is not a duplicate")
}

func TestDedupePreservesRelativeOrder(t *testing.T) {
	rows := []reserveRow{
		mkReserveRow("a", 1, 0, 0),
		mkReserveRow("b", 1, 0, 0),
		mkReserveRow("c", 1, 0, 0),
	}
	out := dedupeReserveRows(rows)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].r.PoolID)
	assert.Equal(t, "b", out[1].r.PoolID)
	assert.Equal(t, "c", out[2].r.PoolID)
}

func TestDedupeEmpty(t *testing.T) {
	assert.Empty(t, dedupeReserveRows(nil))
}

func TestAssetDisplayName(t *testing.T) {
	policy := "475362a850bf8d1f037794432cdea9fdbbf8d048a7c5115feeb7e91d"

	name := assetDisplayName(policy + "69425443") // "iBTC"
	require.True(t, name.Valid)
	assert.Equal(t, "iBTC", name.String)

	assert.False(t, assetDisplayName("lovelace").Valid)
	assert.False(t, assetDisplayName(policy).Valid, "no token name part")
	assert.False(t, assetDisplayName(policy+"00ff10").Valid, "non-printable bytes")
	assert.False(t, assetDisplayName(policy+"zz").Valid, "not hex")
}

func TestUniq(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniq([]string{"a", "b", "a", "b", "a"}))
	assert.Empty(t, uniq(nil))
}
