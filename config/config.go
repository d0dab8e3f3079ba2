// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the indexer configuration. Values merge in priority
// order: environment (PRISE_ prefix) over a properties file over built-in
// defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Run modes.
const (
	ModeLiveSync   = "livesync"
	ModeHistorical = "historical"
)

// Chain-data service selections.
const (
	ServiceHybrid     = "hybrid"
	ServiceBlockfrost = "blockfrost"
	ServiceKoios      = "koios"
	ServiceYaciStore  = "yacistore"
	ServiceCarp       = "carp"
)

// Config is the merged, validated configuration.
type Config struct {
	NodeAddress  string
	NodePort     int
	NetworkMagic uint32

	// SlotConversionOffset converts a slot into unix seconds:
	// time = slot - offset. Negative for mainnet where the shelley start
	// time exceeds the slot counter.
	SlotConversionOffset int64

	ChainDataService string
	HybridFallback   string

	BlockfrostURL       string
	BlockfrostProjectID string
	KoiosURL            string
	MirrorDSN           string

	Dexes []string

	UtxoCacheSize  int
	EventBusBuffer int

	PublishEnabled bool
	PublishURL     string

	Mode string

	DatabaseDSN string
	DBPoolSize  int

	MetricsPort int

	LogLevel           string
	LogJSON            bool
	LogFile            string
	HTTPTimeoutSeconds int
}

func defaults(v *viper.Viper) {
	v.SetDefault("node.address", "localhost")
	v.SetDefault("node.port", 3001)
	v.SetDefault("network.magic", 764824073)
	v.SetDefault("slot.conversion.offset", -1591566291+4492800)
	v.SetDefault("chaindata.service", ServiceHybrid)
	v.SetDefault("chaindata.hybrid.fallback", ServiceBlockfrost)
	v.SetDefault("blockfrost.url", "https://cardano-mainnet.blockfrost.io/api/v0")
	v.SetDefault("koios.url", "https://api.koios.rest/api/v1")
	v.SetDefault("dexes", "minswapv1,minswapv2,sundaeswap,wingriders")
	v.SetDefault("utxo.cache.size", 100000)
	v.SetDefault("eventbus.buffer", 50)
	v.SetDefault("publish.enabled", false)
	v.SetDefault("mode", ModeLiveSync)
	v.SetDefault("db.pool.size", 20)
	v.SetDefault("metrics.port", 9108)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("http.timeout.seconds", 30)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("properties")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("prise")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		NodeAddress:          v.GetString("node.address"),
		NodePort:             v.GetInt("node.port"),
		NetworkMagic:         cast.ToUint32(v.Get("network.magic")),
		SlotConversionOffset: v.GetInt64("slot.conversion.offset"),
		ChainDataService:     v.GetString("chaindata.service"),
		HybridFallback:       v.GetString("chaindata.hybrid.fallback"),
		BlockfrostURL:        v.GetString("blockfrost.url"),
		BlockfrostProjectID:  v.GetString("blockfrost.projectid"),
		KoiosURL:             v.GetString("koios.url"),
		MirrorDSN:            v.GetString("mirror.dsn"),
		Dexes:                splitList(v.GetString("dexes")),
		UtxoCacheSize:        v.GetInt("utxo.cache.size"),
		EventBusBuffer:       v.GetInt("eventbus.buffer"),
		PublishEnabled:       v.GetBool("publish.enabled"),
		PublishURL:           v.GetString("publish.url"),
		Mode:                 v.GetString("mode"),
		DatabaseDSN:          v.GetString("db.dsn"),
		DBPoolSize:           v.GetInt("db.pool.size"),
		MetricsPort:          v.GetInt("metrics.port"),
		LogLevel:             v.GetString("log.level"),
		LogJSON:              v.GetBool("log.json"),
		LogFile:              v.GetString("log.file"),
		HTTPTimeoutSeconds:   v.GetInt("http.timeout.seconds"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeLiveSync, ModeHistorical:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.ChainDataService {
	case ServiceHybrid, ServiceBlockfrost, ServiceKoios, ServiceYaciStore, ServiceCarp:
	default:
		return fmt.Errorf("invalid chaindata.service %q", c.ChainDataService)
	}
	if c.ChainDataService == ServiceHybrid {
		switch c.HybridFallback {
		case ServiceBlockfrost, ServiceKoios, ServiceYaciStore, ServiceCarp:
		default:
			return fmt.Errorf("invalid chaindata.hybrid.fallback %q", c.HybridFallback)
		}
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.UtxoCacheSize <= 0 {
		return fmt.Errorf("utxo.cache.size must be positive")
	}
	if c.EventBusBuffer <= 0 {
		return fmt.Errorf("eventbus.buffer must be positive")
	}
	if c.PublishEnabled && c.PublishURL == "" {
		return fmt.Errorf("publish.url is required when publishing is enabled")
	}
	return nil
}
