// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProps(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prise.properties")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsApply(t *testing.T) {
	path := writeProps(t, "db.dsn=postgres://localhost/prise\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ServiceHybrid, cfg.ChainDataService)
	assert.Equal(t, ServiceBlockfrost, cfg.HybridFallback)
	assert.Equal(t, 100000, cfg.UtxoCacheSize)
	assert.Equal(t, 50, cfg.EventBusBuffer)
	assert.Equal(t, ModeLiveSync, cfg.Mode)
	assert.Equal(t, 20, cfg.DBPoolSize)
	assert.Equal(t, []string{"minswapv1", "minswapv2", "sundaeswap", "wingriders"}, cfg.Dexes)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeProps(t, `
db.dsn=postgres://localhost/prise
chaindata.service=koios
utxo.cache.size=5000
dexes=minswapv2, wingriders
mode=historical
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ServiceKoios, cfg.ChainDataService)
	assert.Equal(t, 5000, cfg.UtxoCacheSize)
	assert.Equal(t, []string{"minswapv2", "wingriders"}, cfg.Dexes)
	assert.Equal(t, ModeHistorical, cfg.Mode)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("PRISE_UTXO_CACHE_SIZE", "123")
	path := writeProps(t, "db.dsn=postgres://localhost/prise\nutxo.cache.size=5000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 123, cfg.UtxoCacheSize)
}

func TestMissingDSNIsFatal(t *testing.T) {
	path := writeProps(t, "node.port=3001\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.dsn")
}

func TestInvalidModeRejected(t *testing.T) {
	path := writeProps(t, "db.dsn=x\nmode=batch\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestInvalidServiceRejected(t *testing.T) {
	path := writeProps(t, "db.dsn=x\nchaindata.service=oracle\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestInvalidHybridFallbackRejected(t *testing.T) {
	path := writeProps(t, "db.dsn=x\nchaindata.hybrid.fallback=hybrid\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestPublishRequiresURL(t *testing.T) {
	path := writeProps(t, "db.dsn=x\npublish.enabled=true\n")
	_, err := Load(path)
	require.Error(t, err)
}
