// Package watcher orquesta el ciclo fetch → ingest → análisis → notificación
// → persistencia sobre el engine de coordinación.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polywatch/internal/application/coordination"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/ports"
)

// Config contiene la configuración del watcher.
type Config struct {
	// Interval entre ciclos en modo continuo.
	Interval time.Duration
	// Lookback limita qué historial se carga del storage y se descarga de la API.
	Lookback time.Duration
	// FetchWorkers es el número de wallets descargadas en paralelo.
	FetchWorkers int
	// Once ejecuta un solo ciclo y termina.
	Once bool
	Batch coordination.BatchOptions
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		Lookback:     30 * 24 * time.Hour,
		FetchWorkers: 4,
	}
}

// Watcher es el orquestador del loop de detección.
// trades y storage pueden ser nil: sin fetch o sin persistencia.
type Watcher struct {
	cfg      Config
	engine   *coordination.Engine
	trades   ports.TradeProvider
	storage  ports.Storage
	notifier ports.Notifier
	now      func() time.Time
}

// New crea un Watcher con todas las dependencias inyectadas.
func New(
	cfg Config,
	engine *coordination.Engine,
	trades ports.TradeProvider,
	storage ports.Storage,
	notifier ports.Notifier,
) *Watcher {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 1
	}
	return &Watcher{
		cfg:      cfg,
		engine:   engine,
		trades:   trades,
		storage:  storage,
		notifier: notifier,
		now:      time.Now,
	}
}

// Bootstrap carga en el engine los trades persistidos dentro del lookback.
func (w *Watcher) Bootstrap(ctx context.Context) (int, error) {
	if w.storage == nil {
		return 0, nil
	}
	trades, err := w.storage.LoadTrades(ctx, w.since(), time.Time{})
	if err != nil {
		return 0, fmt.Errorf("watcher.Bootstrap: %w", err)
	}
	report := w.engine.AddTrades(trades)
	slog.Info("trades loaded from storage",
		"loaded", len(trades),
		"accepted", report.Accepted,
		"rejected", len(report.Rejected),
	)
	return report.Accepted, nil
}

// Fetch descarga los trades nuevos de cada wallet en paralelo, los persiste
// y los añade al engine. Una wallet que falla no aborta las demás.
func (w *Watcher) Fetch(ctx context.Context, wallets []string) (int, error) {
	if w.trades == nil || len(wallets) == 0 {
		return 0, nil
	}

	var (
		mu      sync.Mutex
		fetched []domain.Trade
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.FetchWorkers)
	for _, wallet := range wallets {
		g.Go(func() error {
			trades, err := w.trades.FetchWalletTrades(gctx, wallet, w.fetchSince(wallet))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Warn("fetch trades failed", "wallet", wallet, "err", err)
				return nil
			}
			fetched = append(fetched, trades...)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("watcher.Fetch: %w", err)
	}

	if w.storage != nil && len(fetched) > 0 {
		if err := w.storage.SaveTrades(ctx, fetched); err != nil {
			slog.Warn("storage error", "err", err)
		}
	}
	report := w.engine.AddTrades(fetched)

	slog.Info("fetch complete",
		"wallets", len(wallets),
		"failed", failed,
		"fetched", len(fetched),
		"new", report.Accepted,
	)
	if failed == len(wallets) {
		return report.Accepted, fmt.Errorf("watcher.Fetch: all %d wallets failed", failed)
	}
	return report.Accepted, nil
}

// Analyze ejecuta el análisis focal de una wallet y lo notifica.
func (w *Watcher) Analyze(ctx context.Context, wallet string, opts coordination.AnalyzeOptions) (domain.AnalysisResult, error) {
	res, err := w.engine.Analyze(ctx, wallet, opts)
	if err != nil {
		return res, fmt.Errorf("watcher.Analyze: %w", err)
	}
	if err := w.notifier.NotifyAnalysis(ctx, res); err != nil {
		slog.Warn("notifier error", "err", err)
	}
	w.persist(ctx, res.Groups)
	return res, nil
}

// History devuelve los grupos persistidos vistos en el último d (0 = todos).
func (w *Watcher) History(ctx context.Context, d time.Duration) ([]domain.Group, error) {
	if w.storage == nil {
		return nil, nil
	}
	var from time.Time
	if d > 0 {
		from = w.now().Add(-d)
	}
	groups, err := w.storage.GetGroups(ctx, from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("watcher.History: %w", err)
	}
	return groups, nil
}

// RunOnce ejecuta exactamente un ciclo sobre las wallets dadas.
func (w *Watcher) RunOnce(ctx context.Context, wallets []string) (domain.BatchResult, error) {
	return w.cycle(ctx, wallets)
}

// Run ejecuta el loop hasta que el contexto se cancele.
// Si cfg.Once está activo, solo ejecuta un ciclo.
func (w *Watcher) Run(ctx context.Context, wallets []string) error {
	slog.Info("watcher starting",
		"wallets", len(wallets),
		"interval", w.cfg.Interval,
		"once", w.cfg.Once,
	)

	if _, err := w.cycle(ctx, wallets); err != nil {
		slog.Error("watch cycle failed", "err", err)
		if w.cfg.Once {
			return err
		}
	}
	if w.cfg.Once {
		return nil
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher stopped")
			return nil
		case <-ticker.C:
			if _, err := w.cycle(ctx, wallets); err != nil {
				slog.Error("watch cycle failed", "err", err)
			}
		}
	}
}

// cycle hace fetch → batch → notify → persist.
func (w *Watcher) cycle(ctx context.Context, wallets []string) (domain.BatchResult, error) {
	start := w.now()

	if _, err := w.Fetch(ctx, wallets); err != nil {
		slog.Warn("fetch error", "err", err)
	}

	res, err := w.engine.BatchAnalyze(ctx, wallets, w.cfg.Batch)
	if err != nil {
		return res, fmt.Errorf("watcher.cycle: %w", err)
	}

	if err := w.notifier.Notify(ctx, res); err != nil {
		slog.Warn("notifier error", "err", err)
	}
	w.persist(ctx, res.Groups)

	slog.Info("watch cycle complete",
		"groups", len(res.Groups),
		"pairs", res.PairsCompared,
		"incomplete", res.Incomplete,
		"duration", w.now().Sub(start).Round(time.Millisecond),
	)
	return res, nil
}

func (w *Watcher) persist(ctx context.Context, groups []domain.Group) {
	if w.storage == nil || len(groups) == 0 {
		return
	}
	if err := w.storage.SaveGroups(ctx, groups); err != nil {
		slog.Warn("storage error", "err", err)
	}
}

func (w *Watcher) since() time.Time {
	if w.cfg.Lookback <= 0 {
		return time.Time{}
	}
	return w.now().Add(-w.cfg.Lookback)
}

// fetchSince descarga solo lo posterior al último trade conocido de la wallet.
func (w *Watcher) fetchSince(wallet string) time.Time {
	fp := w.engine.Store().Snapshot().Fingerprint(wallet, domain.AllTime)
	if fp.Count == 0 {
		return w.since()
	}
	return time.Unix(0, fp.Latest).UTC()
}
