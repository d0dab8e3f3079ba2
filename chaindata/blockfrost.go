// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chaindata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
)

// blockfrostMaxAttempts bounds retries of a transient Blockfrost failure.
const blockfrostMaxAttempts = 3

// Blockfrost resolves outputs through the Blockfrost HTTP API.
type Blockfrost struct {
	baseURL   string
	projectID string
	client    *http.Client
	logger    *zap.Logger
}

// NewBlockfrost builds the provider. timeout applies per attempt.
func NewBlockfrost(baseURL, projectID string, timeout time.Duration, logger *zap.Logger) *Blockfrost {
	return &Blockfrost{
		baseURL:   baseURL,
		projectID: projectID,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.Named("blockfrost"),
	}
}

type bfAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type bfOutput struct {
	Address     string     `json:"address"`
	Amount      []bfAmount `json:"amount"`
	OutputIndex uint32     `json:"output_index"`
	DataHash    string     `json:"data_hash"`
	InlineDatum string     `json:"inline_datum"`
}

type bfTxUtxos struct {
	Outputs []bfOutput `json:"outputs"`
}

type bfBlock struct {
	Slot   uint64 `json:"slot"`
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

// ResolveInputs fetches each distinct transaction's UTXO set and picks the
// requested indices, in the iteration order of refs.
func (b *Blockfrost) ResolveInputs(ctx context.Context, refs []chain.OutputRef) ([]chain.Utxo, error) {
	byTx := make(map[string]*bfTxUtxos)
	resolved := make([]chain.Utxo, 0, len(refs))
	for _, ref := range refs {
		utxos, ok := byTx[ref.TxHash]
		if !ok {
			fetched, err := b.txUtxos(ctx, ref.TxHash)
			if err != nil {
				return nil, err
			}
			byTx[ref.TxHash] = fetched
			utxos = fetched
		}
		if utxos == nil {
			continue
		}
		for _, out := range utxos.Outputs {
			if out.OutputIndex != ref.Index {
				continue
			}
			u, err := bfToUtxo(ref, out)
			if err != nil {
				b.logger.Warn("skipping undecodable output",
					zap.String("ref", ref.Key()), zap.Error(err))
				continue
			}
			resolved = append(resolved, u)
			break
		}
	}
	return resolved, nil
}

// FindBlockNearest walks back from the requested slot until Blockfrost
// reports a block. Slot gaps on Cardano are short, so the walk is bounded.
func (b *Blockfrost) FindBlockNearest(ctx context.Context, slot uint64) (chain.Point, error) {
	for probe := slot; probe > 0 && slot-probe < 1000; probe-- {
		var blk bfBlock
		found, err := b.getJSON(ctx, fmt.Sprintf("%s/blocks/slot/%d", b.baseURL, probe), &blk)
		if err != nil {
			return chain.Point{}, err
		}
		if found {
			return chain.Point{Slot: blk.Slot, Hash: blk.Hash}, nil
		}
	}
	return chain.Point{}, fmt.Errorf("%w: no block at or near slot %d", ErrChainData, slot)
}

func (b *Blockfrost) txUtxos(ctx context.Context, txHash string) (*bfTxUtxos, error) {
	var utxos bfTxUtxos
	found, err := b.getJSON(ctx, fmt.Sprintf("%s/txs/%s/utxos", b.baseURL, txHash), &utxos)
	if err != nil {
		return nil, err
	}
	if !found {
		b.logger.Warn("transaction not found upstream", zap.String("tx", txHash))
		return nil, nil
	}
	return &utxos, nil
}

// getJSON performs a GET with bounded retry on transient failures. Returns
// found=false on a 404 without error.
func (b *Blockfrost) getJSON(ctx context.Context, url string, v interface{}) (bool, error) {
	var notFound bool
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("project_id", b.projectID)
		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("blockfrost status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("blockfrost status %d", resp.StatusCode))
		}
		return json.NewDecoder(resp.Body).Decode(v)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), blockfrostMaxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return false, fmt.Errorf("%w: %v", ErrChainData, err)
	}
	return !notFound, nil
}

func bfToUtxo(ref chain.OutputRef, out bfOutput) (chain.Utxo, error) {
	u := chain.Utxo{Ref: ref, Address: out.Address}
	for _, amt := range out.Amount {
		qty, err := strconv.ParseInt(amt.Quantity, 10, 64)
		if err != nil {
			return chain.Utxo{}, fmt.Errorf("parse quantity %q: %w", amt.Quantity, err)
		}
		if amt.Unit == chain.LovelaceUnit {
			u.Lovelace = qty
			continue
		}
		u.Assets = append(u.Assets, chain.AssetAmount{Unit: amt.Unit, Quantity: qty})
	}
	if out.InlineDatum != "" {
		datum, err := decodeHex(out.InlineDatum)
		if err != nil {
			return chain.Utxo{}, fmt.Errorf("decode inline datum: %w", err)
		}
		u.DatumBytes = datum
	}
	return u, nil
}
