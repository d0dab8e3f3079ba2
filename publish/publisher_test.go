// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/metrics"
	"github.com/gerolabs/prise/model"
)

func testPrice() model.Price {
	return model.Price{
		AssetUnit:      "475362a850bf8d1f037794432cdea9fdbbf8d048a7c5115feeb7e91d69425443",
		QuoteAssetUnit: "lovelace",
		Provider:       "minswapv1",
		Time:           1_700_000_000,
		TxHash:         "aa",
		Price:          0.2,
		Amount1:        10_000_000,
		Amount2:        50,
	}
}

// runPublisher starts the drain loop and stops it when the test ends.
func runPublisher(t *testing.T, p *Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPublishPostsRecord(t *testing.T) {
	var (
		mu  sync.Mutex
		got priceRecord
		hit bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL, time.Second, 0, nil, zap.NewNop())
	runPublisher(t, p)
	p.Publish(context.Background(), testPrice())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hit
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "lovelace", got.QuoteAsset)
	assert.InDelta(t, 0.2, got.Price, 1e-12)
	assert.Equal(t, int64(10_000_000), got.Amount1)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL, time.Second, 0, nil, zap.NewNop())
	runPublisher(t, p)
	p.Publish(context.Background(), testPrice())

	require.Eventually(t, func() bool {
		return calls.Load() == 3
	}, 5*time.Second, 5*time.Millisecond)
}

func TestPublishGivesUpAndCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.New()
	p := New(srv.URL, time.Second, 0, m, zap.NewNop())
	runPublisher(t, p)
	p.Publish(context.Background(), testPrice())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.PublishFailed) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestPublishClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := metrics.New()
	p := New(srv.URL, time.Second, 0, m, zap.NewNop())
	runPublisher(t, p)
	p.Publish(context.Background(), testPrice())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.PublishFailed) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublishNeverBlocksWhenQueueIsFull(t *testing.T) {
	m := metrics.New()
	// No Run loop: the queue cannot drain.
	p := New("http://127.0.0.1:0", time.Second, 1, m, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Publish(context.Background(), testPrice())
		p.Publish(context.Background(), testPrice())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must not block on a full queue")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishFailed), "overflow is dropped and counted")
}
