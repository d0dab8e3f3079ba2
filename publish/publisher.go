// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package publish forwards computed prices to an external HTTP sink,
// best effort.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/metrics"
	"github.com/gerolabs/prise/model"
)

const publishMaxAttempts = 3

// DefaultQueueSize bounds the prices waiting for the sink.
const DefaultQueueSize = 512

// errQueueFull marks prices dropped because the sink cannot keep up.
var errQueueFull = errors.New("publish queue full")

// priceRecord is the wire form of one published price.
type priceRecord struct {
	Asset      string  `json:"asset"`
	QuoteAsset string  `json:"quoteAsset"`
	Provider   string  `json:"provider"`
	Time       int64   `json:"time"`
	TxHash     string  `json:"txHash"`
	SwapIdx    int     `json:"swapIdx"`
	Price      float64 `json:"price"`
	Amount1    int64   `json:"amount1"`
	Amount2    int64   `json:"amount2"`
	Operation  int16   `json:"operation"`
}

// Publisher POSTs price records to the configured sink. Publish only
// enqueues; a worker loop drains the queue off the pipeline's critical
// path, so sink latency never delays the block-processed barrier. Failures
// and overflow drops are logged and counted, never surfaced: publication
// is at-least-once on a healthy sink and fire-and-forget on a broken one.
type Publisher struct {
	url     string
	client  *http.Client
	queue   chan model.Price
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds a publisher. Run must be started for the queue to drain.
// m may be nil in tests.
func New(url string, timeout time.Duration, queueSize int, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Publisher{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		queue:   make(chan model.Price, queueSize),
		metrics: m,
		logger:  logger.Named("publish"),
	}
}

// Publish enqueues one price without blocking. When the queue is full the
// price is dropped and counted.
func (p *Publisher) Publish(_ context.Context, price model.Price) {
	select {
	case p.queue <- price:
	default:
		p.fail(price, errQueueFull)
	}
}

// Run drains the queue until the context is cancelled. Queued prices still
// in flight at shutdown are dropped.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case price := <-p.queue:
			p.send(ctx, price)
		}
	}
}

// send forwards one price, retrying transient failures with backoff.
func (p *Publisher) send(ctx context.Context, price model.Price) {
	record := priceRecord{
		Asset:      price.AssetUnit,
		QuoteAsset: price.QuoteAssetUnit,
		Provider:   price.Provider,
		Time:       price.Time,
		TxHash:     price.TxHash,
		SwapIdx:    price.SwapIdx,
		Price:      price.Price,
		Amount1:    price.Amount1,
		Amount2:    price.Amount2,
		Operation:  price.Operation,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		p.fail(price, err)
		return
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("sink status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("sink status %d", resp.StatusCode))
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishMaxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		p.fail(price, err)
	}
}

func (p *Publisher) fail(price model.Price, err error) {
	if p.metrics != nil {
		p.metrics.PublishFailed.Inc()
	}
	p.logger.Warn("price publish failed",
		zap.String("asset", price.AssetUnit),
		zap.String("tx", price.TxHash),
		zap.Error(err))
}
