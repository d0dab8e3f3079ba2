// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"encoding/hex"

	"github.com/blinklabs-io/gouroboros/ledger"
)

// FromLedgerBlock converts a typed gouroboros block into the internal model.
func FromLedgerBlock(b ledger.Block) Block {
	txs := b.Transactions()
	out := Block{
		Slot:   b.SlotNumber(),
		Hash:   b.Hash(),
		Height: b.BlockNumber(),
		Txs:    make([]Tx, 0, len(txs)),
	}
	for _, tx := range txs {
		out.Txs = append(out.Txs, FromLedgerTx(tx))
	}
	return out
}

// FromLedgerTx converts one transaction body, resolving output references
// against the transaction's own hash.
func FromLedgerTx(tx ledger.Transaction) Tx {
	hash := tx.Hash()
	inputs := tx.Inputs()
	outputs := tx.Outputs()
	t := Tx{
		Hash:    hash,
		Inputs:  make([]OutputRef, 0, len(inputs)),
		Outputs: make([]Utxo, 0, len(outputs)),
	}
	for _, in := range inputs {
		t.Inputs = append(t.Inputs, OutputRef{
			TxHash: in.Id().String(),
			Index:  in.Index(),
		})
	}
	for idx, o := range outputs {
		t.Outputs = append(t.Outputs, FromLedgerOutput(OutputRef{TxHash: hash, Index: uint32(idx)}, o))
	}
	return t
}

// FromLedgerOutput converts a single transaction output.
func FromLedgerOutput(ref OutputRef, o ledger.TransactionOutput) Utxo {
	addr := o.Address()
	u := Utxo{
		Ref:      ref,
		Address:  addr.String(),
		Lovelace: int64(o.Amount()),
	}
	u.PaymentCred = hex.EncodeToString(addr.PaymentKeyHash().Bytes())
	if assets := o.Assets(); assets != nil {
		for _, policy := range assets.Policies() {
			for _, name := range assets.Assets(policy) {
				u.Assets = append(u.Assets, AssetAmount{
					Unit:     policy.String() + hex.EncodeToString(name),
					Quantity: int64(assets.Asset(policy, name)),
				})
			}
		}
	}
	if datum := o.Datum(); datum != nil {
		u.DatumBytes = datum.Cbor()
	}
	return u
}
