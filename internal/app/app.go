package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/arbitrage"
	"arbsignals/internal/config"
	"arbsignals/internal/connector"
	"arbsignals/internal/evaluation"
	"arbsignals/internal/metrics"
	"arbsignals/internal/service"
	"arbsignals/internal/state"
	"arbsignals/internal/stats"
	"arbsignals/internal/storage"
	"arbsignals/internal/tuner"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openState connects the shared market state. Without a Redis address the
// state lives in process memory and is lost on exit.
func (a *App) openState(ctx context.Context) (state.Store, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return state.NewMemory(state.MemoryOptions{SignalHistoryMax: rc.SignalHistoryMax, SignalTTL: rc.SignalTTL}), nil
	}
	return state.NewRedis(ctx, state.RedisOptions{
		Addr:        rc.Addr,
		Password:    rc.Password,
		DB:          rc.DB,
		PoolSize:    rc.PoolSize,
		TLSEnabled:  rc.TLS,
		DialTimeout: rc.DialTimeout,
		SignalTTL:   rc.SignalTTL,
		HistoryMax:  rc.SignalHistoryMax,
		EvalLogMax:  rc.EvalLogMax,
	})
}

// openArchive connects the optional PostgreSQL archive.
func (a *App) openArchive(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newExchanges() ([]connector.Exchange, error) {
	cc := a.Config.Collector
	exchanges := make([]connector.Exchange, 0, len(cc.Exchanges)+1)
	for _, ex := range a.Config.EnabledExchanges() {
		opts := connector.HTTPOptions{
			BaseURL:   ex.BaseURL,
			Timeout:   cc.RequestTimeout,
			UserAgent: cc.UserAgent,
			RateLimit: cc.RateLimit,
			Burst:     cc.RateBurst,
		}
		switch strings.ToLower(ex.Kind) {
		case "binance":
			exchanges = append(exchanges, connector.NewBinance(ex.Name, opts, a.Logger))
		case "mexc":
			exchanges = append(exchanges, connector.NewMEXC(ex.Name, opts, a.Logger))
		case "okx":
			exchanges = append(exchanges, connector.NewOKX(ex.Name, opts, a.Logger))
		case "bybit":
			exchanges = append(exchanges, connector.NewBybit(ex.Name, opts, a.Logger))
		default:
			return nil, fmt.Errorf("exchange %s: unsupported kind %q", ex.Name, ex.Kind)
		}
	}

	if dex := a.Config.Dex; dex.Enabled {
		pairs := make([]connector.UniswapPair, 0, len(dex.Pairs))
		for _, p := range dex.Pairs {
			pairs = append(pairs, connector.UniswapPair{
				Symbol:        p.Symbol,
				Address:       p.Address,
				BaseIsToken0:  p.BaseIsToken0,
				BaseDecimals:  p.BaseDecimals,
				QuoteDecimals: p.QuoteDecimals,
				Fee:           p.PoolFee,
			})
		}
		exchanges = append(exchanges, connector.NewUniswapV2(connector.UniswapOptions{
			Name:        dex.Name,
			RPCURL:      dex.RPCURL,
			Timeout:     dex.RequestTimeout,
			DepthImpact: dex.DepthImpact,
			Pairs:       pairs,
		}, a.Logger))
	}
	return exchanges, nil
}

// symbols returns the configured symbols in canonical form. The collector
// writes books under these keys, so every reader must use the same list.
func (a *App) symbols() []string {
	out := make([]string, 0, len(a.Config.Collector.Symbols))
	seen := make(map[string]bool, len(a.Config.Collector.Symbols))
	for _, raw := range a.Config.Collector.Symbols {
		sym := connector.CanonicalSymbol(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func (a *App) newDetector(store arbitrage.Store, archive arbitrage.Archive, m *metrics.Metrics) *arbitrage.Engine {
	ec := a.Config.Engine
	return arbitrage.New(arbitrage.Options{
		Symbols:        a.symbols(),
		Costs:          arbitrage.CostModel{Fees: a.Config.FeeTable(), SlippageK: ec.SlippageK},
		Thresholds:     a.Config.Thresholds(),
		VolumeCapUSD:   ec.VolumeCapUSD,
		AlertProfitBps: ec.AlertProfitBps,
		MaxBookAge:     ec.MaxBookAge,
		MinScore:       ec.MinScore,
		Archive:        archive,
	}, store, m, a.Logger)
}

func (a *App) newTuner(store tuner.Store, m *metrics.Metrics) *tuner.Tuner {
	return tuner.New(tuner.Options{
		Window: a.Config.Tuner.Window,
		Floors: a.Config.Thresholds(),
	}, store, m, a.Logger)
}

// Run executes the long-running signal service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if a.Config.Redis.Addr == "" {
		a.Logger.Warn().Msg("redis.addr not configured; market state is kept in memory")
	}

	archiveStore, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	var (
		signalArchive arbitrage.Archive
		evalArchive   evaluation.Archive
		locker        storage.AdvisoryLocker
	)
	if archiveStore != nil {
		if err := archiveStore.EnsureSchema(ctx); err != nil {
			return err
		}
		guarded := storage.NewGuarded(archiveStore, archiveStore, storage.GuardedOptions{
			WriteTimeout:   a.Config.Database.WriteTimeout,
			BreakerTimeout: a.Config.Database.BreakerTimeout,
		}, a.Logger)
		signalArchive = guarded
		evalArchive = guarded
		locker = archiveStore
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; archive disabled")
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New()
	}

	exchanges, err := a.newExchanges()
	if err != nil {
		return err
	}

	cc := a.Config.Collector
	symbols := a.symbols()
	health := connector.NewHealth(connector.HealthOptions{
		Threshold: cc.BreakerThreshold,
		Cooldown:  cc.BreakerTimeout,
	})
	collector := connector.NewCollector(connector.CollectorOptions{
		Symbols: symbols,
		Retry: connector.RetryOptions{
			Attempts: cc.RetryAttempts,
			Base:     cc.BackoffBase,
			Max:      cc.BackoffMax,
		},
		FastInterval:             cc.FastInterval,
		SlowInterval:             cc.SlowInterval,
		DegradedInterval:         cc.DegradedInterval,
		DegradedFailureThreshold: cc.DegradedFailureThreshold,
	}, exchanges, health, st, m, a.Logger)

	components := service.Components{
		Collector: collector,
		Detector:  a.newDetector(st, signalArchive, m),
	}
	if a.Config.Eval.Enabled {
		components.Evaluator = evaluation.New(evaluation.Options{
			HoldDuration: a.Config.Eval.HoldDuration,
			PendingTTL:   a.Config.PendingTTL(),
			Epsilon:      a.Config.Eval.Epsilon,
			Archive:      evalArchive,
		}, st, m, a.Logger)
	}
	if a.Config.Tuner.Enabled {
		components.Tuner = a.newTuner(st, m)
	}
	if a.Config.Stats.Enabled {
		components.Reporter = stats.New(stats.Options{
			Symbols:    symbols,
			MaxBookAge: a.Config.Engine.MaxBookAge,
		}, st, a.Logger)
	}

	opts := service.Options{
		CollectorInterval: cc.FastInterval,
		DetectorInterval:  a.Config.Engine.Interval,
		EvalInterval:      a.Config.Eval.Interval,
		TunerInterval:     a.Config.Tuner.Interval,
		StatsInterval:     a.Config.Stats.Interval,
		LockKey:           a.Config.Database.AdvisoryLockKey,
	}
	if m != nil {
		opts.MetricsAddr = a.Config.Metrics.Addr
	}

	svc := service.New(opts, components, locker, m, a.Logger)

	a.Logger.Info().Int("exchanges", len(exchanges)).Strs("symbols", symbols).Msg("starting signal service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("signal service stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived evaluation results.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Symbol    string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Symbol  string
	Signals bool
}

// PruneOptions configure archive retention.
type PruneOptions struct {
	Before time.Time
	DryRun bool
}
