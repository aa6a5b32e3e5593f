package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Collector.Symbols)
	assert.Equal(t, 1500*time.Millisecond, cfg.Collector.FastInterval)
	assert.Equal(t, 3, cfg.Collector.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Eval.HoldDuration)
	assert.Equal(t, 75*time.Second, cfg.PendingTTL())
	assert.Len(t, cfg.EnabledExchanges(), 2)
	assert.InDelta(t, 0.001, cfg.FeeTable().Taker("okx"), 1e-12)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
collector:
  symbols: [SOLUSDT]
  exchanges:
    - {name: a, kind: binance, base_url: "http://a", taker_fee: 0.0004, enabled: true}
    - {name: b, kind: okx, base_url: "http://b", taker_fee: 0.001, withdraw_fee_usd: 1.5, enabled: true}
engine:
  volume_cap_usd: 2500
  min_volume_usd: 50
eval:
  hold_duration: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Collector.Symbols)
	assert.Equal(t, 2500.0, cfg.Engine.VolumeCapUSD)
	assert.Equal(t, 10*time.Second, cfg.Eval.HoldDuration)
	fees := cfg.FeeTable()
	assert.InDelta(t, 0.0004, fees.Taker("a"), 1e-12)
	assert.InDelta(t, 1.5, fees.Withdraw("b"), 1e-12)
	assert.Equal(t, 50.0, cfg.Thresholds().MinVolumeUSD)
}

func TestValidateRejectsSingleExchange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
collector:
  exchanges:
    - {name: a, kind: binance, taker_fee: 0.001, enabled: true}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two")
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
collector:
  exchanges:
    - {name: a, kind: binance, enabled: true}
    - {name: b, kind: kraken, enabled: true}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadCanonicalizesSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
collector:
  symbols: [btc-usdt, "ETH/USDT", BTC_USDT, " sol-usdt "]
  exchanges:
    - {name: a, kind: binance, base_url: "http://a", taker_fee: 0.001, enabled: true}
    - {name: b, kind: okx, base_url: "http://b", taker_fee: 0.001, enabled: true}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Collector.Symbols)
}

func TestNormalizeDexPairs(t *testing.T) {
	cfg := Config{
		Collector: CollectorConfig{Symbols: []string{"weth-usdc"}},
		Dex:       DexConfig{Pairs: []DexPairConfig{{Symbol: "weth_usdc"}}},
	}
	cfg.Normalize()
	assert.Equal(t, []string{"WETHUSDC"}, cfg.Collector.Symbols)
	assert.Equal(t, "WETHUSDC", cfg.Dex.Pairs[0].Symbol)
}
