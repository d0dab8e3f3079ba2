// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swaps qualifies a block's transactions against the known pool
// scripts and runs the matching classifiers.
package swaps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/chaindata"
	"github.com/gerolabs/prise/dex"
	"github.com/gerolabs/prise/model"
	"github.com/gerolabs/prise/pipeline"
)

// Processor extracts swaps and pool reserves from one block at a time.
type Processor struct {
	classifiers []dex.Classifier
	// credToDex maps a pool payment credential to its classifier.
	credToDex map[string]dex.Classifier
	provider  chaindata.Provider
	logger    *zap.Logger
}

// NewProcessor indexes the classifiers by pool credential.
func NewProcessor(classifiers []dex.Classifier, provider chaindata.Provider, logger *zap.Logger) *Processor {
	p := &Processor{
		classifiers: classifiers,
		credToDex:   make(map[string]dex.Classifier),
		provider:    provider,
		logger:      logger.Named("swaps"),
	}
	for _, c := range classifiers {
		for _, cred := range c.PoolCredentials() {
			p.credToDex[cred] = c
		}
	}
	return p
}

// ProcessBlock qualifies and classifies every transaction of the block.
// Transactions that pay to no known pool script are skipped without input
// resolution; a block with no qualifying transaction short-circuits into
// empty results.
func (p *Processor) ProcessBlock(ctx context.Context, block chain.Block) (pipeline.SwapsComputed, pipeline.PoolReservesComputed, error) {
	var (
		swaps    []model.Swap
		reserves []model.PoolReserve
	)
	for _, tx := range block.Txs {
		classifier, cred := p.qualify(&tx)
		if classifier == nil {
			continue
		}
		inputs, err := p.provider.ResolveInputs(ctx, tx.Inputs)
		if err != nil {
			return pipeline.SwapsComputed{}, pipeline.PoolReservesComputed{},
				fmt.Errorf("resolve inputs of %s: %w", tx.Hash, err)
		}
		qualified := &dex.QualifiedTx{
			Hash:          tx.Hash,
			Slot:          block.Slot,
			DexCredential: cred,
			Inputs:        inputs,
			Outputs:       tx.Outputs,
		}
		txSwaps, err := classifier.ComputeSwaps(qualified)
		if err != nil {
			p.logger.Warn("swap classification failed",
				zap.String("tx", tx.Hash), zap.String("dex", classifier.Code()), zap.Error(err))
		} else {
			swaps = append(swaps, txSwaps...)
		}
		txReserves, err := classifier.ComputePoolReserves(qualified)
		if err != nil {
			p.logger.Warn("reserve classification failed",
				zap.String("tx", tx.Hash), zap.String("dex", classifier.Code()), zap.Error(err))
		} else {
			reserves = append(reserves, txReserves...)
		}
	}
	return pipeline.SwapsComputed{Slot: block.Slot, Swaps: swaps},
		pipeline.PoolReservesComputed{Slot: block.Slot, Reserves: reserves, HasSwaps: len(swaps) > 0},
		nil
}

// qualify returns the classifier whose pool script one of the transaction
// outputs pays to, with the matched credential.
func (p *Processor) qualify(tx *chain.Tx) (dex.Classifier, string) {
	for _, out := range tx.Outputs {
		if c, ok := p.credToDex[out.PaymentCred]; ok {
			return c, out.PaymentCred
		}
	}
	return nil, ""
}
