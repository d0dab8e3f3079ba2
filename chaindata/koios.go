// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chaindata

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
)

const koiosMaxAttempts = 3

// Koios resolves outputs through the Koios HTTP API using its batched
// tx_info endpoint.
type Koios struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewKoios builds the provider. timeout applies per attempt.
func NewKoios(baseURL string, timeout time.Duration, logger *zap.Logger) *Koios {
	return &Koios{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("koios"),
	}
}

type koiosAsset struct {
	PolicyID  string `json:"policy_id"`
	AssetName string `json:"asset_name"`
	Quantity  int64  `json:"quantity,string"`
}

type koiosOutput struct {
	TxIndex     uint32 `json:"tx_index"`
	Value       int64  `json:"value,string"`
	PaymentAddr struct {
		Bech32 string `json:"bech32"`
		Cred   string `json:"cred"`
	} `json:"payment_addr"`
	InlineDatum *struct {
		Bytes string `json:"bytes"`
	} `json:"inline_datum"`
	AssetList []koiosAsset `json:"asset_list"`
}

type koiosTxInfo struct {
	TxHash  string        `json:"tx_hash"`
	Outputs []koiosOutput `json:"outputs"`
}

type koiosBlock struct {
	Hash    string `json:"hash"`
	AbsSlot uint64 `json:"abs_slot"`
}

// ResolveInputs batches all distinct transaction hashes into one tx_info
// call and picks the requested indices in ref iteration order.
func (k *Koios) ResolveInputs(ctx context.Context, refs []chain.OutputRef) ([]chain.Utxo, error) {
	seen := make(map[string]struct{}, len(refs))
	hashes := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.TxHash]; !ok {
			seen[ref.TxHash] = struct{}{}
			hashes = append(hashes, ref.TxHash)
		}
	}

	var infos []koiosTxInfo
	body := map[string]interface{}{"_tx_hashes": hashes, "_assets": true}
	if err := k.postJSON(ctx, k.baseURL+"/tx_info", body, &infos); err != nil {
		return nil, err
	}
	byTx := make(map[string][]koiosOutput, len(infos))
	for _, info := range infos {
		byTx[info.TxHash] = info.Outputs
	}

	resolved := make([]chain.Utxo, 0, len(refs))
	for _, ref := range refs {
		outputs, ok := byTx[ref.TxHash]
		if !ok {
			k.logger.Warn("transaction not found upstream", zap.String("tx", ref.TxHash))
			continue
		}
		for _, out := range outputs {
			if out.TxIndex != ref.Index {
				continue
			}
			u, err := koiosToUtxo(ref, out)
			if err != nil {
				k.logger.Warn("skipping undecodable output",
					zap.String("ref", ref.Key()), zap.Error(err))
				continue
			}
			resolved = append(resolved, u)
			break
		}
	}
	return resolved, nil
}

// FindBlockNearest queries blocks at or before the slot, newest first.
func (k *Koios) FindBlockNearest(ctx context.Context, slot uint64) (chain.Point, error) {
	url := fmt.Sprintf("%s/blocks?abs_slot=lte.%d&order=abs_slot.desc&limit=1", k.baseURL, slot)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return chain.Point{}, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return chain.Point{}, fmt.Errorf("%w: %v", ErrChainData, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return chain.Point{}, fmt.Errorf("%w: koios status %d", ErrChainData, resp.StatusCode)
	}
	var blocks []koiosBlock
	if err := json.NewDecoder(resp.Body).Decode(&blocks); err != nil {
		return chain.Point{}, fmt.Errorf("%w: %v", ErrChainData, err)
	}
	if len(blocks) == 0 {
		return chain.Point{}, fmt.Errorf("%w: no block at or before slot %d", ErrChainData, slot)
	}
	return chain.Point{Slot: blocks[0].AbsSlot, Hash: blocks[0].Hash}, nil
}

func (k *Koios) postJSON(ctx context.Context, url string, body, v interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := k.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("koios status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("koios status %d", resp.StatusCode))
		}
		return json.NewDecoder(resp.Body).Decode(v)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), koiosMaxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrChainData, err)
	}
	return nil
}

func koiosToUtxo(ref chain.OutputRef, out koiosOutput) (chain.Utxo, error) {
	u := chain.Utxo{
		Ref:         ref,
		Address:     out.PaymentAddr.Bech32,
		PaymentCred: out.PaymentAddr.Cred,
		Lovelace:    out.Value,
	}
	for _, a := range out.AssetList {
		u.Assets = append(u.Assets, chain.AssetAmount{
			Unit:     a.PolicyID + a.AssetName,
			Quantity: a.Quantity,
		})
	}
	if out.InlineDatum != nil && out.InlineDatum.Bytes != "" {
		datum, err := hex.DecodeString(out.InlineDatum.Bytes)
		if err != nil {
			return chain.Utxo{}, fmt.Errorf("decode inline datum: %w", err)
		}
		u.DatumBytes = datum
	}
	return u, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
