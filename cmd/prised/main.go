// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// prised is the streaming DEX indexer daemon.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gerolabs/prise/cache"
	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/chaindata"
	"github.com/gerolabs/prise/chainsync"
	"github.com/gerolabs/prise/config"
	"github.com/gerolabs/prise/database"
	"github.com/gerolabs/prise/dex"
	logpkg "github.com/gerolabs/prise/log"
	"github.com/gerolabs/prise/metrics"
	"github.com/gerolabs/prise/pipeline"
	"github.com/gerolabs/prise/prices"
	"github.com/gerolabs/prise/publish"
	"github.com/gerolabs/prise/swaps"
)

func main() {
	app := &cli.App{
		Name:  "prised",
		Usage: "stream Cardano blocks, extract DEX swaps, persist prices",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the properties file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
			&cli.IntFlag{
				Name:  "metrics-port",
				Usage: "override the configured metrics port",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("metrics-port") {
		cfg.MetricsPort = c.Int("metrics-port")
	}

	logger, err := logpkg.New(logpkg.Config{
		Level:      cfg.LogLevel,
		JSONFormat: cfg.LogJSON,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	go func() {
		if err := m.Serve(cfg.MetricsPort); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	store, err := database.Open(ctx, cfg.DatabaseDSN, cfg.DBPoolSize, m, logger)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer store.Close()

	utxoCache := cache.NewUtxoCache(cfg.UtxoCacheSize, m)
	provider, closeProvider, err := buildProvider(cfg, utxoCache, m, logger)
	if err != nil {
		return fmt.Errorf("chain data init: %w", err)
	}
	defer closeProvider()

	classifiers, err := dex.NewAll(cfg.Dexes, logger)
	if err != nil {
		return err
	}
	logger.Info("classifiers enabled", zap.Strings("dexes", cfg.Dexes))

	priceProc := prices.NewProcessor(cfg.SlotConversionOffset, logger)
	if decimals, err := store.AssetDecimals(ctx); err != nil {
		logger.Warn("loading asset decimals failed", zap.Error(err))
	} else {
		for unit, d := range decimals {
			priceProc.SetDecimals(unit, d)
		}
	}

	bus := pipeline.NewBus(cfg.EventBusBuffer)
	swapProc := swaps.NewProcessor(classifiers, provider, logger)
	service := chainsync.NewService(chainsync.Config{
		Address:      cfg.NodeAddress,
		Port:         cfg.NodePort,
		NetworkMagic: cfg.NetworkMagic,
		SlotOffset:   cfg.SlotConversionOffset,
	}, bus, provider, logger)

	var (
		pub       *publish.Publisher
		publisher pipeline.PricePublisher
	)
	if cfg.PublishEnabled {
		pub = publish.New(cfg.PublishURL, httpTimeout(cfg), publish.DefaultQueueSize, m, logger)
		publisher = pub
	}
	dispatcher := pipeline.NewDispatcher(
		bus, utxoCache, swapProc, priceProc, store, service, publisher, m, logger)

	start, err := startingPoint(ctx, cfg, store, service, logger)
	if err != nil {
		return fmt.Errorf("determine starting point: %w", err)
	}
	if err := service.Start(ctx, start); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if pub != nil {
		g.Go(func() error {
			return pub.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		service.Shutdown()
		return nil
	})

	logger.Info("indexer running",
		zap.String("mode", cfg.Mode),
		zap.String("chaindata", cfg.ChainDataService),
		zap.Uint64("start_slot", start.Slot))
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}

// buildProvider maps the configured chain-data service to its constructor.
func buildProvider(cfg *config.Config, utxoCache *cache.UtxoCache, m *metrics.Metrics, logger *zap.Logger) (chaindata.Provider, func(), error) {
	timeout := httpTimeout(cfg)
	noop := func() {}
	build := func(name string) (chaindata.Provider, func(), error) {
		switch name {
		case config.ServiceBlockfrost:
			return chaindata.NewBlockfrost(cfg.BlockfrostURL, cfg.BlockfrostProjectID, timeout, logger), noop, nil
		case config.ServiceKoios:
			return chaindata.NewKoios(cfg.KoiosURL, timeout, logger), noop, nil
		case config.ServiceYaciStore, config.ServiceCarp:
			db, err := sql.Open("postgres", cfg.MirrorDSN)
			if err != nil {
				return nil, nil, fmt.Errorf("open mirror: %w", err)
			}
			closer := func() { db.Close() }
			if name == config.ServiceCarp {
				return chaindata.NewCarp(db, logger), closer, nil
			}
			return chaindata.NewYaciStore(db, logger), closer, nil
		default:
			return nil, nil, fmt.Errorf("unknown chain data service %q", name)
		}
	}

	if cfg.ChainDataService != config.ServiceHybrid {
		return build(cfg.ChainDataService)
	}
	fallback, closer, err := build(cfg.HybridFallback)
	if err != nil {
		return nil, nil, err
	}
	return chaindata.NewHybrid(utxoCache, fallback, m, logger), closer, nil
}

// startingPoint resumes from the latest persisted price when present,
// otherwise syncs from origin.
func startingPoint(ctx context.Context, cfg *config.Config, store *database.Store, service *chainsync.Service, logger *zap.Logger) (chain.Point, error) {
	persisted, ok, err := store.LatestPriceTime(ctx)
	if err != nil {
		return chain.Point{}, err
	}
	if !ok {
		logger.Info("empty store, syncing from origin")
		return chain.Point{}, nil
	}
	point, err := service.DetermineInitialisationState(ctx, persisted)
	if err != nil {
		return chain.Point{}, err
	}
	logger.Info("resuming from persisted sync point",
		zap.Int64("time", persisted), zap.Uint64("slot", point.Slot))
	return point, nil
}

func httpTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
}
