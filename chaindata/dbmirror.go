// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chaindata

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/blinklabs-io/gouroboros/ledger/babbage"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
)

// YaciStore resolves outputs from a local yaci-store mirror database.
type YaciStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewYaciStore wraps an open mirror connection.
func NewYaciStore(db *sql.DB, logger *zap.Logger) *YaciStore {
	return &YaciStore{db: db, logger: logger.Named("yacistore")}
}

// ResolveInputs queries address_utxo by (tx_hash, output_index) pairs in a
// single round-trip and returns rows in ref iteration order.
func (y *YaciStore) ResolveInputs(ctx context.Context, refs []chain.OutputRef) ([]chain.Utxo, error) {
	hashes := make([]string, len(refs))
	indices := make([]int64, len(refs))
	for i, ref := range refs {
		hashes[i] = ref.TxHash
		indices[i] = int64(ref.Index)
	}
	const q = `
		SELECT u.tx_hash, u.output_index, u.owner_addr,
		       COALESCE(u.owner_payment_credential, ''),
		       u.lovelace_amount, COALESCE(u.amounts::text, '[]'),
		       u.inline_datum
		FROM address_utxo u
		JOIN unnest($1::text[], $2::bigint[]) AS r(tx_hash, output_index)
		  ON u.tx_hash = r.tx_hash AND u.output_index = r.output_index`
	rows, err := y.db.QueryContext(ctx, q, pq.Array(hashes), pq.Array(indices))
	if err != nil {
		return nil, fmt.Errorf("%w: yacistore query: %v", ErrChainData, err)
	}
	defer rows.Close()

	found := make(map[string]chain.Utxo, len(refs))
	for rows.Next() {
		var (
			txHash, addr, cred, amounts string
			index                       int64
			lovelace                    int64
			datumHex                    sql.NullString
		)
		if err := rows.Scan(&txHash, &index, &addr, &cred, &lovelace, &amounts, &datumHex); err != nil {
			return nil, fmt.Errorf("%w: yacistore scan: %v", ErrChainData, err)
		}
		u := chain.Utxo{
			Ref:         chain.OutputRef{TxHash: txHash, Index: uint32(index)},
			Address:     addr,
			PaymentCred: cred,
			Lovelace:    lovelace,
		}
		if err := parseAmountsJSON(amounts, &u); err != nil {
			y.logger.Warn("skipping undecodable amounts", zap.String("ref", u.Ref.Key()), zap.Error(err))
			continue
		}
		if datumHex.Valid && datumHex.String != "" {
			datum, err := hex.DecodeString(datumHex.String)
			if err != nil {
				y.logger.Warn("skipping undecodable datum", zap.String("ref", u.Ref.Key()), zap.Error(err))
				continue
			}
			u.DatumBytes = datum
		}
		found[u.Ref.Key()] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: yacistore rows: %v", ErrChainData, err)
	}
	return orderByRefs(refs, found), nil
}

// FindBlockNearest consults the mirror's block table.
func (y *YaciStore) FindBlockNearest(ctx context.Context, slot uint64) (chain.Point, error) {
	const q = `SELECT slot, hash FROM block WHERE slot <= $1 ORDER BY slot DESC LIMIT 1`
	var p chain.Point
	err := y.db.QueryRowContext(ctx, q, int64(slot)).Scan(&p.Slot, &p.Hash)
	if err == sql.ErrNoRows {
		return chain.Point{}, fmt.Errorf("%w: no block at or before slot %d", ErrChainData, slot)
	}
	if err != nil {
		return chain.Point{}, fmt.Errorf("%w: yacistore block query: %v", ErrChainData, err)
	}
	return p, nil
}

// yaci-store serializes multi-asset amounts as a JSON array.
type yaciAmount struct {
	Unit     string `json:"unit"`
	Quantity int64  `json:"quantity"`
}

func parseAmountsJSON(raw string, u *chain.Utxo) error {
	var amounts []yaciAmount
	if err := json.Unmarshal([]byte(raw), &amounts); err != nil {
		return err
	}
	for _, a := range amounts {
		if a.Unit == chain.LovelaceUnit {
			continue
		}
		u.Assets = append(u.Assets, chain.AssetAmount{Unit: a.Unit, Quantity: a.Quantity})
	}
	return nil
}

// Carp resolves outputs from a carp mirror, which stores raw output CBOR.
type Carp struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCarp wraps an open mirror connection.
func NewCarp(db *sql.DB, logger *zap.Logger) *Carp {
	return &Carp{db: db, logger: logger.Named("carp")}
}

// ResolveInputs joins transaction_output to transaction on the binary hash
// and decodes each payload as a babbage-era output.
func (c *Carp) ResolveInputs(ctx context.Context, refs []chain.OutputRef) ([]chain.Utxo, error) {
	hashes := make([][]byte, len(refs))
	indices := make([]int64, len(refs))
	for i, ref := range refs {
		raw, err := hex.DecodeString(ref.TxHash)
		if err != nil {
			return nil, fmt.Errorf("%w: bad tx hash %q: %v", ErrChainData, ref.TxHash, err)
		}
		hashes[i] = raw
		indices[i] = int64(ref.Index)
	}
	const q = `
		SELECT encode(t.hash, 'hex'), o.output_index, o.payload
		FROM transaction_output o
		JOIN transaction t ON t.id = o.tx_id
		JOIN unnest($1::bytea[], $2::bigint[]) AS r(hash, output_index)
		  ON t.hash = r.hash AND o.output_index = r.output_index`
	rows, err := c.db.QueryContext(ctx, q, pq.Array(hashes), pq.Array(indices))
	if err != nil {
		return nil, fmt.Errorf("%w: carp query: %v", ErrChainData, err)
	}
	defer rows.Close()

	found := make(map[string]chain.Utxo, len(refs))
	for rows.Next() {
		var (
			txHash  string
			index   int64
			payload []byte
		)
		if err := rows.Scan(&txHash, &index, &payload); err != nil {
			return nil, fmt.Errorf("%w: carp scan: %v", ErrChainData, err)
		}
		ref := chain.OutputRef{TxHash: txHash, Index: uint32(index)}
		out, err := babbage.NewBabbageTransactionOutputFromCbor(payload)
		if err != nil {
			c.logger.Warn("skipping undecodable output payload",
				zap.String("ref", ref.Key()), zap.Error(err))
			continue
		}
		found[ref.Key()] = chain.FromLedgerOutput(ref, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: carp rows: %v", ErrChainData, err)
	}
	return orderByRefs(refs, found), nil
}

// FindBlockNearest consults carp's block table.
func (c *Carp) FindBlockNearest(ctx context.Context, slot uint64) (chain.Point, error) {
	const q = `SELECT slot, encode(hash, 'hex') FROM block WHERE slot <= $1 ORDER BY slot DESC LIMIT 1`
	var p chain.Point
	err := c.db.QueryRowContext(ctx, q, int64(slot)).Scan(&p.Slot, &p.Hash)
	if err == sql.ErrNoRows {
		return chain.Point{}, fmt.Errorf("%w: no block at or before slot %d", ErrChainData, slot)
	}
	if err != nil {
		return chain.Point{}, fmt.Errorf("%w: carp block query: %v", ErrChainData, err)
	}
	return p, nil
}

// orderByRefs emits found outputs in the iteration order of refs, skipping
// references the mirror could not resolve.
func orderByRefs(refs []chain.OutputRef, found map[string]chain.Utxo) []chain.Utxo {
	out := make([]chain.Utxo, 0, len(found))
	for _, ref := range refs {
		if u, ok := found[ref.Key()]; ok {
			out = append(out, u)
		}
	}
	return out
}
