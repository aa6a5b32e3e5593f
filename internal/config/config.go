package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"arbsignals/internal/logging"
	"arbsignals/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Collector CollectorConfig `mapstructure:"collector"`
	Dex       DexConfig       `mapstructure:"dex"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Eval      EvalConfig      `mapstructure:"eval"`
	Tuner     TunerConfig     `mapstructure:"tuner"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RedisConfig selects the shared state backend. An empty address keeps all
// state in process memory.
type RedisConfig struct {
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	PoolSize         int           `mapstructure:"pool_size"`
	TLS              bool          `mapstructure:"tls"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	SignalTTL        time.Duration `mapstructure:"signal_ttl"`
	SignalHistoryMax int           `mapstructure:"signal_history_max"`
	EvalLogMax       int           `mapstructure:"eval_log_max"`
}

// DatabaseConfig encapsulates the optional PostgreSQL archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	// AdvisoryLockKey, when non-zero, lets only one replica run the engine
	// loops at a time.
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// CollectorConfig governs exchange polling.
type CollectorConfig struct {
	Symbols                  []string         `mapstructure:"symbols"`
	FastInterval             time.Duration    `mapstructure:"fast_interval"`
	SlowInterval             time.Duration    `mapstructure:"slow_interval"`
	DegradedInterval         time.Duration    `mapstructure:"degraded_interval"`
	DegradedFailureThreshold int              `mapstructure:"degraded_failure_threshold"`
	RequestTimeout           time.Duration    `mapstructure:"request_timeout"`
	RetryAttempts            int              `mapstructure:"retry_attempts"`
	BackoffBase              time.Duration    `mapstructure:"backoff_base"`
	BackoffMax               time.Duration    `mapstructure:"backoff_max"`
	BreakerThreshold         int              `mapstructure:"breaker_threshold"`
	BreakerTimeout           time.Duration    `mapstructure:"breaker_timeout"`
	RateLimit                float64          `mapstructure:"rate_limit"`
	RateBurst                int              `mapstructure:"rate_burst"`
	UserAgent                string           `mapstructure:"user_agent"`
	Exchanges                []ExchangeConfig `mapstructure:"exchanges"`
}

// ExchangeConfig describes one centralised venue and its fee schedule.
type ExchangeConfig struct {
	Name           string  `mapstructure:"name"`
	Kind           string  `mapstructure:"kind"`
	BaseURL        string  `mapstructure:"base_url"`
	TakerFee       float64 `mapstructure:"taker_fee"`
	WithdrawFeeUSD float64 `mapstructure:"withdraw_fee_usd"`
	Enabled        bool    `mapstructure:"enabled"`
}

// DexConfig covers the optional on-chain Uniswap V2 source.
type DexConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	Name           string          `mapstructure:"name"`
	RPCURL         string          `mapstructure:"rpc_url"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	WithdrawFeeUSD float64         `mapstructure:"withdraw_fee_usd"`
	DepthImpact    float64         `mapstructure:"depth_impact"`
	Pairs          []DexPairConfig `mapstructure:"pairs"`
}

// DexPairConfig maps a tracked symbol to a pool.
type DexPairConfig struct {
	Symbol        string  `mapstructure:"symbol"`
	Address       string  `mapstructure:"address"`
	BaseIsToken0  bool    `mapstructure:"base_is_token0"`
	BaseDecimals  int     `mapstructure:"base_decimals"`
	QuoteDecimals int     `mapstructure:"quote_decimals"`
	PoolFee       float64 `mapstructure:"pool_fee"`
}

// EngineConfig holds arbitrage detection parameters. The thresholds are floors
// the tuner can raise but never lower.
type EngineConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	VolumeCapUSD    float64       `mapstructure:"volume_cap_usd"`
	MinNetProfitUSD float64       `mapstructure:"min_net_profit_usd"`
	MinProfitBps    float64       `mapstructure:"min_profit_bps"`
	MinSpreadBps    float64       `mapstructure:"min_spread_bps"`
	MinVolumeUSD    float64       `mapstructure:"min_volume_usd"`
	SlippageK       float64       `mapstructure:"slippage_k"`
	AlertProfitBps  float64       `mapstructure:"alert_profit_bps"`
	MaxBookAge      time.Duration `mapstructure:"max_book_age"`
	MinScore        float64       `mapstructure:"min_score"`
}

// EvalConfig governs virtual trade evaluation.
type EvalConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	HoldDuration time.Duration `mapstructure:"hold_duration"`
	Epsilon      float64       `mapstructure:"epsilon"`
	TTLFactor    float64       `mapstructure:"ttl_factor"`
}

// TunerConfig governs threshold adaptation.
type TunerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Window   int           `mapstructure:"window"`
}

// StatsConfig governs market and system status reporting.
type StatsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

var knownKinds = map[string]bool{"binance": true, "mexc": true, "okx": true, "bybit": true}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARBSIGNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Normalize rewrites every configured symbol into its canonical form and
// drops duplicate collector symbols, keeping first-seen order.
func (c *Config) Normalize() {
	symbols := make([]string, 0, len(c.Collector.Symbols))
	seen := make(map[string]bool, len(c.Collector.Symbols))
	for _, raw := range c.Collector.Symbols {
		sym := model.CanonicalSymbol(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	c.Collector.Symbols = symbols

	for i := range c.Dex.Pairs {
		c.Dex.Pairs[i].Symbol = model.CanonicalSymbol(c.Dex.Pairs[i].Symbol)
	}
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbsignals")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.signal_ttl", "1h")
	v.SetDefault("redis.signal_history_max", 5000)
	v.SetDefault("redis.eval_log_max", 0)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.write_timeout", "3s")
	v.SetDefault("database.breaker_timeout", "30s")
	v.SetDefault("database.advisory_lock_key", 0)

	v.SetDefault("collector.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("collector.fast_interval", "1500ms")
	v.SetDefault("collector.slow_interval", "4s")
	v.SetDefault("collector.degraded_interval", "12s")
	v.SetDefault("collector.degraded_failure_threshold", 5)
	v.SetDefault("collector.request_timeout", "3s")
	v.SetDefault("collector.retry_attempts", 3)
	v.SetDefault("collector.backoff_base", "500ms")
	v.SetDefault("collector.backoff_max", "4s")
	v.SetDefault("collector.breaker_threshold", 3)
	v.SetDefault("collector.breaker_timeout", "10s")
	v.SetDefault("collector.rate_limit", 5.0)
	v.SetDefault("collector.rate_burst", 2)
	v.SetDefault("collector.user_agent", "arbsignals/1.0")
	v.SetDefault("collector.exchanges", []map[string]any{
		{"name": "binance", "kind": "binance", "base_url": "https://api.binance.com", "taker_fee": 0.001, "withdraw_fee_usd": 0.0, "enabled": true},
		{"name": "okx", "kind": "okx", "base_url": "https://www.okx.com", "taker_fee": 0.001, "withdraw_fee_usd": 0.0, "enabled": true},
		{"name": "mexc", "kind": "mexc", "base_url": "https://api.mexc.com", "taker_fee": 0.0005, "withdraw_fee_usd": 0.0, "enabled": false},
		{"name": "bybit", "kind": "bybit", "base_url": "https://api.bybit.com", "taker_fee": 0.001, "withdraw_fee_usd": 0.0, "enabled": false},
	})

	v.SetDefault("dex.enabled", false)
	v.SetDefault("dex.name", "uniswap_v2")
	v.SetDefault("dex.request_timeout", "5s")
	v.SetDefault("dex.depth_impact", 0.005)

	v.SetDefault("engine.interval", "1500ms")
	v.SetDefault("engine.volume_cap_usd", 1000.0)
	v.SetDefault("engine.min_net_profit_usd", 0.0)
	v.SetDefault("engine.min_profit_bps", 5.0)
	v.SetDefault("engine.min_spread_bps", 0.0)
	v.SetDefault("engine.min_volume_usd", 100.0)
	v.SetDefault("engine.slippage_k", 0.01)
	v.SetDefault("engine.alert_profit_bps", 25.0)
	v.SetDefault("engine.max_book_age", "5s")
	v.SetDefault("engine.min_score", 0.0)

	v.SetDefault("eval.enabled", true)
	v.SetDefault("eval.interval", "2s")
	v.SetDefault("eval.hold_duration", "30s")
	v.SetDefault("eval.epsilon", 1e-6)
	v.SetDefault("eval.ttl_factor", 2.5)

	v.SetDefault("tuner.enabled", true)
	v.SetDefault("tuner.interval", "5m")
	v.SetDefault("tuner.window", 1000)

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.interval", "30s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9102")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Collector.Symbols) == 0 {
		return fmt.Errorf("collector.symbols must not be empty")
	}
	if c.Collector.FastInterval <= 0 || c.Collector.SlowInterval <= 0 || c.Collector.DegradedInterval <= 0 {
		return fmt.Errorf("collector intervals must be greater than zero")
	}
	if c.Collector.RetryAttempts <= 0 {
		return fmt.Errorf("collector.retry_attempts must be greater than zero")
	}
	if c.Collector.BreakerThreshold <= 0 {
		return fmt.Errorf("collector.breaker_threshold must be greater than zero")
	}
	if c.Collector.BackoffBase <= 0 || c.Collector.BackoffMax < c.Collector.BackoffBase {
		return fmt.Errorf("collector.backoff_base must be positive and not exceed backoff_max")
	}

	seen := make(map[string]bool)
	sources := 0
	for _, ex := range c.Collector.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("collector.exchanges: name is required")
		}
		if seen[ex.Name] {
			return fmt.Errorf("collector.exchanges: duplicate exchange %q", ex.Name)
		}
		seen[ex.Name] = true
		if !knownKinds[strings.ToLower(ex.Kind)] {
			return fmt.Errorf("collector.exchanges: %s has unknown kind %q", ex.Name, ex.Kind)
		}
		if ex.TakerFee < 0 || ex.TakerFee >= 1 {
			return fmt.Errorf("collector.exchanges: %s taker_fee must be in [0, 1)", ex.Name)
		}
		if ex.WithdrawFeeUSD < 0 {
			return fmt.Errorf("collector.exchanges: %s withdraw_fee_usd cannot be negative", ex.Name)
		}
		if ex.Enabled {
			sources++
		}
	}
	if c.Dex.Enabled {
		if c.Dex.RPCURL == "" {
			return fmt.Errorf("dex.rpc_url is required when dex is enabled")
		}
		if seen[c.Dex.Name] {
			return fmt.Errorf("dex.name %q collides with an exchange", c.Dex.Name)
		}
		for _, p := range c.Dex.Pairs {
			if p.PoolFee < 0 || p.PoolFee >= 1 {
				return fmt.Errorf("dex.pairs: %s pool_fee must be in [0, 1)", p.Symbol)
			}
		}
		sources++
	}
	if sources < 2 {
		return fmt.Errorf("at least two enabled exchanges are required, got %d", sources)
	}

	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be greater than zero")
	}
	if c.Engine.VolumeCapUSD <= 0 {
		return fmt.Errorf("engine.volume_cap_usd must be greater than zero")
	}
	if c.Engine.MinNetProfitUSD < 0 || c.Engine.MinProfitBps < 0 || c.Engine.MinSpreadBps < 0 || c.Engine.MinVolumeUSD < 0 {
		return fmt.Errorf("engine thresholds cannot be negative")
	}
	if c.Engine.SlippageK < 0 {
		return fmt.Errorf("engine.slippage_k cannot be negative")
	}
	if c.Engine.MaxBookAge <= 0 {
		return fmt.Errorf("engine.max_book_age must be greater than zero")
	}
	if c.Eval.Enabled {
		if c.Eval.Interval <= 0 || c.Eval.HoldDuration <= 0 {
			return fmt.Errorf("eval.interval and eval.hold_duration must be greater than zero")
		}
		if c.Eval.TTLFactor < 1 {
			return fmt.Errorf("eval.ttl_factor must be at least 1")
		}
	}
	if c.Tuner.Enabled && (c.Tuner.Interval <= 0 || c.Tuner.Window <= 0) {
		return fmt.Errorf("tuner.interval and tuner.window must be greater than zero")
	}
	if c.Stats.Enabled && c.Stats.Interval <= 0 {
		return fmt.Errorf("stats.interval must be greater than zero")
	}
	return nil
}

// EnabledExchanges lists the centralised venues to poll.
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Collector.Exchanges))
	for _, ex := range c.Collector.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// FeeTable builds the per-venue fee schedule used by the engine. DEX pools
// carry their fee inside the quoted price, so their taker rate is zero.
func (c *Config) FeeTable() model.FeeTable {
	table := make(model.FeeTable)
	for _, ex := range c.EnabledExchanges() {
		table[ex.Name] = model.Fees{Taker: ex.TakerFee, WithdrawUSD: ex.WithdrawFeeUSD}
	}
	if c.Dex.Enabled {
		table[c.Dex.Name] = model.Fees{WithdrawUSD: c.Dex.WithdrawFeeUSD}
	}
	return table
}

// Thresholds returns the configured detection floors.
func (c *Config) Thresholds() model.Thresholds {
	return model.Thresholds{
		MinNetProfitUSD: c.Engine.MinNetProfitUSD,
		MinProfitBps:    c.Engine.MinProfitBps,
		MinSpreadBps:    c.Engine.MinSpreadBps,
		MinVolumeUSD:    c.Engine.MinVolumeUSD,
	}
}

// PendingTTL is the storage-level safety expiry for open virtual trades.
func (c *Config) PendingTTL() time.Duration {
	return time.Duration(float64(c.Eval.HoldDuration) * c.Eval.TTLFactor)
}
