package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/polywatch/config"
	"github.com/alejandrodnm/polywatch/internal/adapters/metrics"
	"github.com/alejandrodnm/polywatch/internal/adapters/notify"
	"github.com/alejandrodnm/polywatch/internal/adapters/polymarket"
	"github.com/alejandrodnm/polywatch/internal/adapters/redisbus"
	"github.com/alejandrodnm/polywatch/internal/adapters/storage"
	"github.com/alejandrodnm/polywatch/internal/application/coordination"
	"github.com/alejandrodnm/polywatch/internal/application/watcher"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	walletFlag := flag.String("wallet", "", "analyze one wallet (focal analysis)")
	walletsFlag := flag.String("wallets", "", "comma-separated wallets for batch analysis")
	pairFlag := flag.String("pair", "", "compare exactly two wallets: a,b")
	fetch := flag.Bool("fetch", false, "pull trades for the given wallets from the Data API and persist them")
	lookback := flag.Duration("lookback", 0, "only analyze trades in the last duration (0 = all stored)")
	watch := flag.Duration("watch", 0, "repeat the batch every interval until interrupted (0 = run once)")
	verbose := flag.Bool("verbose", false, "set log level to debug and print pair edges")
	format := flag.String("format", "", "output format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables (default: compact 1-line)")
	bypassCache := flag.Bool("bypass-cache", false, "recompute every pair ignoring cached results")
	history := flag.Duration("history", 0, "print groups persisted in the last duration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *format != "" {
		cfg.Log.Format = *format
	}
	setupLogger(cfg.Log)

	if err := run(cfg, runOptions{
		wallet:      *walletFlag,
		wallets:     splitList(*walletsFlag),
		pair:        *pairFlag,
		fetch:       *fetch,
		lookback:    *lookback,
		watch:       *watch,
		verbose:     *verbose,
		format:      notify.Format(cfg.Log.Format),
		table:       *table,
		bypassCache: *bypassCache,
		history:     *history,
	}); err != nil {
		slog.Error("polywatch exited with error", "err", err)
		os.Exit(1)
	}
}

type runOptions struct {
	wallet      string
	wallets     []string
	pair        string
	fetch       bool
	lookback    time.Duration
	watch       time.Duration
	verbose     bool
	format      notify.Format
	table       bool
	bypassCache bool
	history     time.Duration
}

func run(cfg *config.Config, opts runOptions) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("polywatch starting",
		"dsn", cfg.Storage.DSN,
		"fetch", opts.fetch,
		"lookback", opts.lookback,
		"watch", opts.watch,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	var observers []coordination.Option
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, cfg.Metrics.Namespace)
	observers = append(observers, coordination.WithObserver(m))

	if cfg.Redis.Addr != "" {
		pub, closeBus, err := startRedis(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis disabled", "addr", cfg.Redis.Addr, "err", err)
		} else {
			defer closeBus()
			observers = append(observers, coordination.WithObserver(pub))
		}
	}

	engine, err := coordination.NewEngine(cfg.EngineConfig(), nil, observers...)
	if err != nil {
		return err
	}
	m.RegisterCache(cfg.Metrics.Namespace, engine.CacheStats)

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, reg)
		defer shutdown(srv)
	}

	var provider ports.TradeProvider
	if opts.fetch {
		client := polymarket.NewClient(cfg.API.DataBase).WithRetryWait(cfg.RetryWait())
		if cfg.API.ResolveOutcomes {
			client.WithGamma(cfg.API.GammaBase)
		}
		provider = client
	}
	console := notify.NewConsole(opts.format, opts.table, opts.verbose)

	wcfg := watcher.DefaultConfig()
	wcfg.Lookback = cfg.Lookback()
	wcfg.Interval = opts.watch
	wcfg.Once = opts.watch <= 0
	wcfg.Batch = coordination.BatchOptions{
		Window:      window(opts.lookback),
		BypassCache: opts.bypassCache,
		Budget:      cfg.BatchBudget(),
	}
	w := watcher.New(wcfg, engine, provider, store, console)

	if opts.history > 0 {
		groups, err := w.History(ctx, opts.history)
		if err != nil {
			return err
		}
		return console.PrintHistory(groups)
	}

	if _, err := w.Bootstrap(ctx); err != nil {
		return err
	}

	analyzeOpts := coordination.AnalyzeOptions{Window: window(opts.lookback), BypassCache: opts.bypassCache}
	switch {
	case opts.pair != "":
		return runPair(ctx, w, engine, console, opts.pair, analyzeOpts)
	case opts.wallet != "":
		if _, err := w.Fetch(ctx, []string{opts.wallet}); err != nil {
			slog.Warn("fetch error", "err", err)
		}
		if _, err := w.Analyze(ctx, opts.wallet, analyzeOpts); err != nil {
			return err
		}
	default:
		wallets := opts.wallets
		if len(wallets) == 0 {
			wallets = engine.Store().Snapshot().Wallets()
		}
		if len(wallets) == 0 {
			return errors.New("no wallets: pass -wallet, -wallets or -pair, or load trades first")
		}
		if err := w.Run(ctx, wallets); err != nil {
			return err
		}
	}

	if opts.verbose {
		if err := console.PrintSummary(engine.Summary()); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	slog.Info("polywatch stopped cleanly")
	return nil
}

func runPair(ctx context.Context, w *watcher.Watcher, engine *coordination.Engine, console *notify.Console, pair string, opts coordination.AnalyzeOptions) error {
	parts := splitList(pair)
	if len(parts) != 2 {
		return fmt.Errorf("-pair expects two comma-separated wallets, got %q", pair)
	}
	if _, err := w.Fetch(ctx, parts); err != nil {
		slog.Warn("fetch error", "err", err)
	}

	res, ok, err := engine.AnalyzePair(ctx, parts[0], parts[1], opts)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("one of the wallets has no trades in the window", "a", parts[0], "b", parts[1])
		return nil
	}
	return console.PrintPair(res)
}

func startRedis(ctx context.Context, cfg config.RedisConfig) (*redisbus.Publisher, func(), error) {
	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	bus, err := redisbus.New(dialCtx, redisbus.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Stream:   cfg.Stream,
	})
	if err != nil {
		return nil, nil, err
	}

	pub := redisbus.NewPublisher(bus, cfg.Prefix, cfg.Buffer)
	pub.Start(context.WithoutCancel(ctx))
	slog.Info("publishing events to redis", "addr", cfg.Addr, "prefix", cfg.Prefix)

	return pub, func() {
		pub.Close()
		if d := pub.Dropped(); d > 0 {
			slog.Warn("redis events dropped", "count", d)
		}
		_ = bus.Close()
	}, nil
}

func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("metrics server listening", "addr", addr)
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func window(lookback time.Duration) domain.Window {
	if lookback <= 0 {
		return domain.AllTime
	}
	return domain.LastWindow(time.Now(), lookback)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// los informes van a stdout; los logs a stderr para no mezclarlos
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
