// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the process-wide prometheus registry and the
// counters the pipeline reports into.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the indexer exports. A single value is
// created at startup and handed to the components that report.
type Metrics struct {
	registry *prometheus.Registry

	BlocksProcessed   prometheus.Counter
	SwapsComputed     prometheus.Counter
	PricesPersisted   prometheus.Counter
	EventFailed       prometheus.Counter
	PoolPersistFail   prometheus.Counter
	PublishFailed     prometheus.Counter
	UtxoMissing       prometheus.Counter
	UtxoCountMismatch prometheus.Counter

	UtxoCacheSize        prometheus.Gauge
	UtxoCacheUtilization prometheus.Gauge
	UtxoCacheHits        prometheus.Counter
	UtxoCacheMisses      prometheus.Counter

	SyncSlot prometheus.Gauge
}

// New builds a registry with all indexer collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blocks_processed_total",
			Help: "Blocks fully processed through the pipeline",
		}),
		SwapsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swaps_computed_total",
			Help: "Swaps extracted from qualified transactions",
		}),
		PricesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prices_persisted_total",
			Help: "Price rows written to the store",
		}),
		EventFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "event_processing_failed",
			Help: "Dispatcher events that ended in an error",
		}),
		PoolPersistFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_reserve_persist_failed",
			Help: "Pool reserve batches that failed to persist",
		}),
		PublishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "price_publish_failed",
			Help: "Prices that could not be forwarded to the external sink",
		}),
		UtxoMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utxo_resolution_missing",
			Help: "Resolver calls that ended with unresolved inputs",
		}),
		UtxoCountMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utxo_resolution_count_mismatch",
			Help: "Fallback responses whose size differed from the request",
		}),
		UtxoCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "utxo_cache_size",
			Help: "Entries currently held by the UTXO cache",
		}),
		UtxoCacheUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "utxo_cache_utilization",
			Help: "UTXO cache fill ratio in percent",
		}),
		UtxoCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utxo_cache_hits_total",
			Help: "Input references served from the cache",
		}),
		UtxoCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utxo_cache_misses_total",
			Help: "Input references that fell through to the fallback",
		}),
		SyncSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_slot",
			Help: "Slot of the last block received from the upstream node",
		}),
	}
	m.registry.MustRegister(
		m.BlocksProcessed, m.SwapsComputed, m.PricesPersisted,
		m.EventFailed, m.PoolPersistFail, m.PublishFailed,
		m.UtxoMissing, m.UtxoCountMismatch,
		m.UtxoCacheSize, m.UtxoCacheUtilization,
		m.UtxoCacheHits, m.UtxoCacheMisses,
		m.SyncSlot,
	)
	return m
}

// Serve exposes the registry and a liveness probe on the given port.
// Blocks until the server fails; run it on its own goroutine.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
