// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainsync owns the upstream sync session. Blocks and rollbacks
// are published onto the pipeline bus; a one-shot barrier per block keeps
// delivery strictly in order.
package chainsync

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/blinklabs-io/gouroboros/protocol/chainsync"
	ocommon "github.com/blinklabs-io/gouroboros/protocol/common"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/chaindata"
	"github.com/gerolabs/prise/pipeline"
)

// Config selects the upstream node and the slot clock.
type Config struct {
	Address      string
	Port         int
	NetworkMagic uint32
	// SlotOffset converts a slot to unix seconds: time = slot - offset.
	SlotOffset int64
}

// Service manages the sync session against the upstream node.
type Service struct {
	cfg      Config
	bus      *pipeline.Bus
	provider chaindata.Provider
	logger   *zap.Logger

	mu   sync.Mutex
	conn *ouroboros.Connection
	// startPoint is where the current session began; the initial
	// rollback every session opens with is not a real reorg.
	startPoint chain.Point

	blockProcessed    chan struct{}
	rollbackProcessed chan struct{}
	shutdown          chan struct{}
	shutdownOnce      sync.Once

	synced atomic.Bool
}

// NewService wires the session. provider backs point determination.
func NewService(cfg Config, bus *pipeline.Bus, provider chaindata.Provider, logger *zap.Logger) *Service {
	return &Service{
		cfg:               cfg,
		bus:               bus,
		provider:          provider,
		logger:            logger.Named("chainsync"),
		blockProcessed:    make(chan struct{}, 1),
		rollbackProcessed: make(chan struct{}, 1),
		shutdown:          make(chan struct{}),
	}
}

// Start opens a sync session from the given point. Blocks arrive as
// BlockReceived events; delivery of block N+1 waits for the barrier of N.
func (s *Service) Start(ctx context.Context, from chain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, from)
}

func (s *Service) startLocked(ctx context.Context, from chain.Point) error {
	conn, err := ouroboros.NewConnection(
		ouroboros.WithNetworkMagic(s.cfg.NetworkMagic),
		ouroboros.WithNodeToNode(false),
		ouroboros.WithKeepAlive(true),
		ouroboros.WithChainSyncConfig(chainsync.NewConfig(
			chainsync.WithRollForwardFunc(s.rollForward),
			chainsync.WithRollBackwardFunc(s.rollBackward),
		)),
	)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	if err := conn.Dial("tcp", addr); err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	start := []ocommon.Point{ocommon.NewPointOrigin()}
	if !from.Origin() {
		hash, err := hex.DecodeString(from.Hash)
		if err != nil {
			conn.Close()
			return fmt.Errorf("bad start point hash %q: %w", from.Hash, err)
		}
		start = []ocommon.Point{ocommon.NewPoint(from.Slot, hash)}
	}
	if err := conn.ChainSync().Client.Sync(start); err != nil {
		conn.Close()
		return fmt.Errorf("start sync: %w", err)
	}

	s.conn = conn
	s.startPoint = from
	s.logger.Info("sync session started",
		zap.String("node", addr), zap.Uint64("slot", from.Slot))
	return nil
}

// Stop tears down the current session.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Shutdown stops the session and releases any callback blocked on a
// barrier.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	s.Stop()
}

// RestartBlockSync tears down the session and resumes from point.
func (s *Service) RestartBlockSync(ctx context.Context, point chain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.synced.Store(false)
	return s.startLocked(ctx, point)
}

// SignalBlockProcessed releases the barrier gating the next block.
func (s *Service) SignalBlockProcessed() {
	select {
	case s.blockProcessed <- struct{}{}:
	default:
	}
}

// SignalRollbackProcessed releases the barrier gating sync after a reorg.
func (s *Service) SignalRollbackProcessed() {
	select {
	case s.rollbackProcessed <- struct{}{}:
	default:
	}
}

// IsSynced reports whether the session has reached the tip.
func (s *Service) IsSynced() bool {
	return s.synced.Load()
}

// DetermineInitialisationState maps a unix time to the nearest block point
// at or before it.
func (s *Service) DetermineInitialisationState(ctx context.Context, timeSeconds int64) (chain.Point, error) {
	slot := timeSeconds + s.cfg.SlotOffset
	if slot < 0 {
		slot = 0
	}
	return s.provider.FindBlockNearest(ctx, uint64(slot))
}

// rollForward runs on the protocol goroutine: publish the block, then hold
// delivery until the pipeline signals completion.
func (s *Service) rollForward(cbCtx chainsync.CallbackContext, blockType uint, blockData interface{}, tip chainsync.Tip) error {
	lblock, ok := blockData.(ledger.Block)
	if !ok {
		return fmt.Errorf("unexpected block payload %T (type %d)", blockData, blockType)
	}
	block := chain.FromLedgerBlock(lblock)
	if block.Slot >= tip.Point.Slot {
		if s.synced.CompareAndSwap(false, true) {
			s.logger.Info("reached chain tip", zap.Uint64("slot", block.Slot))
		}
	}

	ctx := context.Background()
	if err := s.bus.Publish(ctx, pipeline.BlockReceived{Block: block}); err != nil {
		return err
	}
	select {
	case <-s.blockProcessed:
		return nil
	case <-s.shutdown:
		return fmt.Errorf("shutting down")
	}
}

// rollBackward publishes a Rollback and holds until the pipeline restarted
// the session. The rollback every new session opens with is skipped.
func (s *Service) rollBackward(cbCtx chainsync.CallbackContext, point ocommon.Point, tip chainsync.Tip) error {
	s.mu.Lock()
	startSlot := s.startPoint.Slot
	s.mu.Unlock()
	if point.Slot == startSlot || point.Slot == 0 {
		return nil
	}

	s.logger.Info("rollback received", zap.Uint64("slot", point.Slot))
	ev := pipeline.Rollback{Point: chain.Point{
		Slot: point.Slot,
		Hash: hex.EncodeToString(point.Hash),
	}}
	if err := s.bus.Publish(context.Background(), ev); err != nil {
		return err
	}
	select {
	case <-s.rollbackProcessed:
		return nil
	case <-s.shutdown:
		return fmt.Errorf("shutting down")
	}
}
