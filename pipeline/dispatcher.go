// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/metrics"
	"github.com/gerolabs/prise/model"
)

// BlockProcessor qualifies and classifies one block.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block chain.Block) (SwapsComputed, PoolReservesComputed, error)
}

// PriceComputer converts swaps to prices and slots to seconds.
type PriceComputer interface {
	Process(swaps []model.Swap) []model.Price
	Time(slot uint64) int64
}

// Persister is the slice of the store the dispatcher drives.
type Persister interface {
	PersistPrices(ctx context.Context, prices []model.Price) error
	PersistPoolReserves(ctx context.Context, reserves []model.PoolReserve, timeOf func(slot uint64) int64) error
	RefreshViews(ctx context.Context, prices []model.Price) error
	LatestPriceTime(ctx context.Context) (int64, bool, error)
	DeleteAfter(ctx context.Context, timeSeconds int64) error
}

// ChainController is the slice of the chain service the dispatcher drives.
type ChainController interface {
	SignalBlockProcessed()
	SignalRollbackProcessed()
	RestartBlockSync(ctx context.Context, point chain.Point) error
	IsSynced() bool
	DetermineInitialisationState(ctx context.Context, timeSeconds int64) (chain.Point, error)
}

// CacheWriter receives every block output before classification runs.
type CacheWriter interface {
	AddOutputs(outputs []chain.Utxo)
}

// PricePublisher forwards prices to the external sink, best effort.
type PricePublisher interface {
	Publish(ctx context.Context, price model.Price)
}

// Dispatcher is the single consumer of the event bus. Events are handled
// strictly sequentially; for every BlockReceived exactly one
// block-processed signal is emitted, from the reserves arm when the block
// had no swaps and from the prices arm otherwise.
type Dispatcher struct {
	bus       *Bus
	cache     CacheWriter
	processor BlockProcessor
	prices    PriceComputer
	store     Persister
	chainCtl  ChainController
	publisher PricePublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDispatcher wires the pipeline. publisher may be nil when external
// publishing is disabled; m may be nil in tests.
func NewDispatcher(
	bus *Bus,
	cache CacheWriter,
	processor BlockProcessor,
	prices PriceComputer,
	store Persister,
	chainCtl ChainController,
	publisher PricePublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		bus:       bus,
		cache:     cache,
		processor: processor,
		prices:    prices,
		store:     store,
		chainCtl:  chainCtl,
		publisher: publisher,
		metrics:   m,
		logger:    logger.Named("dispatcher"),
	}
}

// Run consumes events until the context is cancelled. Handler errors are
// logged and counted; the loop continues.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.bus.Events():
			if err := d.handle(ctx, ev); err != nil {
				if d.metrics != nil {
					d.metrics.EventFailed.Inc()
				}
				d.logger.Error("event processing failed",
					zap.String("event", fmt.Sprintf("%T", ev)), zap.Error(err))
			}
		}
	}
}

// handle dispatches one event. Panics in handlers are converted to errors
// so a bad block cannot kill the loop; the recovery path still honors the
// completion contract of the individual arms.
func (d *Dispatcher) handle(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	switch e := ev.(type) {
	case BlockReceived:
		return d.onBlockReceived(ctx, e)
	case SwapsComputed:
		return d.onSwapsComputed(ctx, e)
	case PoolReservesComputed:
		return d.onPoolReservesComputed(ctx, e)
	case PricesCalculated:
		return d.onPricesCalculated(ctx, e)
	case Rollback:
		return d.onRollback(ctx, e)
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

// onBlockReceived populates the cache and runs the swap processor. On
// error no completion signal is emitted, so the sync side can retry or
// abort deterministically.
func (d *Dispatcher) onBlockReceived(ctx context.Context, ev BlockReceived) error {
	for _, tx := range ev.Block.Txs {
		d.cache.AddOutputs(tx.Outputs)
	}
	if d.metrics != nil {
		d.metrics.SyncSlot.Set(float64(ev.Block.Slot))
	}

	swapsEv, reservesEv, err := d.processor.ProcessBlock(ctx, ev.Block)
	if err != nil {
		return fmt.Errorf("process block %d: %w", ev.Block.Slot, err)
	}
	if err := d.bus.Publish(ctx, swapsEv); err != nil {
		return err
	}
	return d.bus.Publish(ctx, reservesEv)
}

// signalBlock emits the one completion signal a block gets. Exactly one of
// the two downstream arms calls it per block: the reserves arm when the
// block had no swaps, the prices arm otherwise.
func (d *Dispatcher) signalBlock() {
	d.chainCtl.SignalBlockProcessed()
	if d.metrics != nil {
		d.metrics.BlocksProcessed.Inc()
	}
}

// onSwapsComputed derives prices. Price computation is pure; only a
// cancelled publish can fail, and in that case the prices arm will never
// run, so for a block with swaps completion is signalled here to keep the
// per-block contract.
func (d *Dispatcher) onSwapsComputed(ctx context.Context, ev SwapsComputed) error {
	if d.metrics != nil {
		d.metrics.SwapsComputed.Add(float64(len(ev.Swaps)))
	}
	prices := d.prices.Process(ev.Swaps)
	hasSwaps := len(ev.Swaps) > 0
	if err := d.bus.Publish(ctx, PricesCalculated{Slot: ev.Slot, Prices: prices, HasSwaps: hasSwaps}); err != nil {
		if hasSwaps {
			d.signalBlock()
		}
		return err
	}
	return nil
}

// onPoolReservesComputed persists reserves. When the block had no swaps
// this arm owns the completion signal; it fires even when persistence
// fails, since the block was processed to the point of failure.
func (d *Dispatcher) onPoolReservesComputed(ctx context.Context, ev PoolReservesComputed) error {
	if !ev.HasSwaps {
		defer d.signalBlock()
	}
	if err := d.store.PersistPoolReserves(ctx, ev.Reserves, d.prices.Time); err != nil {
		if d.metrics != nil {
			d.metrics.PoolPersistFail.Inc()
		}
		return fmt.Errorf("persist pool reserves at slot %d: %w", ev.Slot, err)
	}
	return nil
}

// onPricesCalculated persists prices and, for blocks that had swaps,
// signals completion regardless of the persistence outcome. An empty batch
// writes nothing.
func (d *Dispatcher) onPricesCalculated(ctx context.Context, ev PricesCalculated) error {
	if ev.HasSwaps {
		defer d.signalBlock()
	}
	if len(ev.Prices) == 0 {
		return nil
	}

	if err := d.store.PersistPrices(ctx, ev.Prices); err != nil {
		return fmt.Errorf("persist prices at slot %d: %w", ev.Slot, err)
	}
	if d.chainCtl.IsSynced() {
		if err := d.store.RefreshViews(ctx, ev.Prices); err != nil {
			d.logger.Warn("view refresh failed", zap.Error(err))
		}
	}
	if d.publisher != nil {
		for _, p := range ev.Prices {
			d.publisher.Publish(ctx, p)
		}
	}
	return nil
}

// onRollback restarts the sync from min(persisted sync point, rollback
// point). The persisted point may lag the tip, so it is never rounded up
// to the rollback point.
func (d *Dispatcher) onRollback(ctx context.Context, ev Rollback) error {
	defer d.chainCtl.SignalRollbackProcessed()

	reinitTime := d.prices.Time(ev.Point.Slot)
	if persisted, ok, err := d.store.LatestPriceTime(ctx); err != nil {
		d.logger.Warn("reading persisted sync point failed", zap.Error(err))
	} else if ok && persisted < reinitTime {
		reinitTime = persisted
	}

	point, err := d.chainCtl.DetermineInitialisationState(ctx, reinitTime)
	if err != nil {
		return fmt.Errorf("determine rollback point: %w", err)
	}
	if err := d.store.DeleteAfter(ctx, reinitTime); err != nil {
		return fmt.Errorf("discard rolled-back rows: %w", err)
	}
	d.logger.Info("rolling back",
		zap.Uint64("rollback_slot", ev.Point.Slot),
		zap.Uint64("restart_slot", point.Slot))
	if err := d.chainCtl.RestartBlockSync(ctx, point); err != nil {
		return fmt.Errorf("restart sync: %w", err)
	}
	return nil
}
