// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerolabs/prise/chain"
)

func mkUtxo(tx string, idx uint32) chain.Utxo {
	return chain.Utxo{
		Ref:      chain.OutputRef{TxHash: tx, Index: idx},
		Address:  "addr1q" + tx,
		Lovelace: int64(idx) * 1_000_000,
	}
}

func TestAddAndGet(t *testing.T) {
	c := NewUtxoCache(10, nil)
	c.AddOutputs([]chain.Utxo{mkUtxo("aa", 0), mkUtxo("aa", 1)})

	got, ok := c.Get(chain.OutputRef{TxHash: "aa", Index: 1})
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000), got.Lovelace)

	_, ok = c.Get(chain.OutputRef{TxHash: "bb", Index: 0})
	assert.False(t, ok)
}

func TestAddIsIdempotent(t *testing.T) {
	c := NewUtxoCache(10, nil)
	u := mkUtxo("aa", 0)
	c.AddOutputs([]chain.Utxo{u})
	c.AddOutputs([]chain.Utxo{u})
	assert.Equal(t, 1, c.Stats().Size)
}

func TestEvictionIsFIFO(t *testing.T) {
	c := NewUtxoCache(3, nil)
	for i := 0; i < 3; i++ {
		c.AddOutputs([]chain.Utxo{mkUtxo(fmt.Sprintf("tx%d", i), 0)})
	}
	// Reading tx0 must not promote it.
	_, ok := c.Get(chain.OutputRef{TxHash: "tx0", Index: 0})
	require.True(t, ok)

	c.AddOutputs([]chain.Utxo{mkUtxo("tx3", 0)})
	_, ok = c.Get(chain.OutputRef{TxHash: "tx0", Index: 0})
	assert.False(t, ok, "oldest inserted key should have been evicted")
	_, ok = c.Get(chain.OutputRef{TxHash: "tx1", Index: 0})
	assert.True(t, ok)
	assert.Equal(t, 3, c.Stats().Size)
}

func TestCapacityNeverExceeded(t *testing.T) {
	const maxSize = 50
	c := NewUtxoCache(maxSize, nil)
	for i := 0; i < 500; i++ {
		c.AddOutputs([]chain.Utxo{mkUtxo(fmt.Sprintf("tx%d", i), 0), mkUtxo(fmt.Sprintf("tx%d", i), 1)})
		require.LessOrEqual(t, c.Stats().Size, maxSize)
	}
	assert.Equal(t, maxSize, c.Stats().Size)
}

func TestBulkInsertEvictsOldestN(t *testing.T) {
	c := NewUtxoCache(4, nil)
	for i := 0; i < 4; i++ {
		c.AddOutputs([]chain.Utxo{mkUtxo(fmt.Sprintf("old%d", i), 0)})
	}
	c.AddOutputs([]chain.Utxo{mkUtxo("new", 0), mkUtxo("new", 1)})

	for i := 0; i < 2; i++ {
		_, ok := c.Get(chain.OutputRef{TxHash: fmt.Sprintf("old%d", i), Index: 0})
		assert.False(t, ok)
	}
	for i := 2; i < 4; i++ {
		_, ok := c.Get(chain.OutputRef{TxHash: fmt.Sprintf("old%d", i), Index: 0})
		assert.True(t, ok)
	}
}

func TestGetMany(t *testing.T) {
	c := NewUtxoCache(10, nil)
	c.AddOutputs([]chain.Utxo{mkUtxo("aa", 0), mkUtxo("bb", 0)})

	found := c.GetMany([]chain.OutputRef{
		{TxHash: "aa", Index: 0},
		{TxHash: "bb", Index: 0},
		{TxHash: "cc", Index: 0},
	})
	require.Len(t, found, 2)
	assert.Contains(t, found, "aa#0")
	assert.Contains(t, found, "bb#0")
}

func TestRemoveSpent(t *testing.T) {
	c := NewUtxoCache(10, nil)
	c.AddOutputs([]chain.Utxo{mkUtxo("aa", 0)})
	c.RemoveSpent(chain.OutputRef{TxHash: "aa", Index: 0})
	_, ok := c.Get(chain.OutputRef{TxHash: "aa", Index: 0})
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	c := NewUtxoCache(1000, nil)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			c.AddOutputs([]chain.Utxo{mkUtxo(fmt.Sprintf("tx%d", i), 0)})
		}
	}()
	for r := 0; r < 2; r++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				c.Get(chain.OutputRef{TxHash: fmt.Sprintf("tx%d", i), Index: 0})
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Size, 1000)
}
