// Package coordination detecta wallets que operan de forma coordinada
// (mirror trading, wash trading, copy-trading con delay, order splitting).
//
// El Engine es la fachada: ingesta trades en el Trade Store, calcula pares con
// Similarity, los agrupa con Detector y ejecuta lotes con BatchAnalyzer. Es una
// librería síncrona; los observers son opcionales.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polywatch/internal/application/tradestore"
	"github.com/alejandrodnm/polywatch/internal/domain"
)

// AnalyzeOptions controla Analyze y AnalyzePair.
type AnalyzeOptions struct {
	Window domain.Window
	// BypassCache fuerza un cálculo nuevo sobre el estado actual del store.
	// El resultado nuevo se escribe igualmente en la caché.
	BypassCache bool
}

// Option configura el Engine en NewEngine.
type Option func(*Engine)

// WithObserver registra un observer de eventos.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithClock reemplaza time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// components son las piezas que dependen de la configuración.
type components struct {
	cfg      Config
	sim      *Similarity
	detector *Detector
	batch    *BatchAnalyzer
}

// Engine es el punto de entrada del motor de detección.
type Engine struct {
	store     *tradestore.Store
	cache     *Cache
	observers []Observer
	now       func() time.Time

	mu   sync.RWMutex
	comp components

	analyses       atomic.Int64
	batches        atomic.Int64
	groupsDetected atomic.Int64
	lastAnalysis   atomic.Int64 // unix nanos
}

// NewEngine valida la configuración y construye el engine. Si store es nil se
// crea uno vacío.
func NewEngine(cfg Config, store *tradestore.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordination.NewEngine: %w", err)
	}
	if store == nil {
		store = tradestore.New()
	}
	e := &Engine{
		store: store,
		cache: NewCache(cfg.CacheMaxEntries),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.comp = e.build(cfg)
	return e, nil
}

func (e *Engine) build(cfg Config) components {
	sim := NewSimilarity(cfg)
	sim.now = e.now
	det := NewDetector(cfg, sim, e.cache)
	det.now = e.now
	batch := NewBatchAnalyzer(cfg, det)
	batch.now = e.now
	return components{cfg: cfg, sim: sim, detector: det, batch: batch}
}

func (e *Engine) components() components {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.comp
}

// Config devuelve la configuración activa.
func (e *Engine) Config() Config {
	return e.components().cfg
}

// UpdateConfig aplica una configuración nueva si es válida. Si no lo es, se
// rechaza y la anterior sigue activa. La caché se vacía porque los scores
// dependen de los pesos y umbrales.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("coordination.UpdateConfig: %w", err)
	}
	comp := e.build(cfg)
	e.mu.Lock()
	e.comp = comp
	e.mu.Unlock()
	e.cache.Clear()
	slog.Info("engine config updated",
		"threshold", cfg.CoordinationThreshold,
		"window", cfg.SimultaneousWindow,
	)
	return nil
}

// Store devuelve el Trade Store subyacente.
func (e *Engine) Store() *tradestore.Store { return e.store }

// AddTrades indexa trades e invalida la caché de las wallets afectadas.
// Los trades inválidos se rechazan uno a uno sin abortar el lote.
func (e *Engine) AddTrades(trades []domain.Trade) tradestore.IngestReport {
	report := e.store.Add(trades)
	for _, w := range report.Wallets {
		e.cache.Invalidate(w)
	}
	if report.Accepted > 0 {
		e.emit(Event{Type: EventTradesAdded, At: e.now(), Wallets: report.Wallets, Payload: report})
	}
	return report
}

// Analyze busca el grupo de coordinación de una wallet.
// Una wallet sin contrapartes devuelve cero grupos, no un error.
// Si el contexto expira antes de comparar todos los pares devuelve el parcial
// con Incomplete y el error del contexto; ese parcial no se cachea.
func (e *Engine) Analyze(ctx context.Context, wallet string, opts AnalyzeOptions) (domain.AnalysisResult, error) {
	focal, err := domain.ParseWallet(wallet)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("coordination.Analyze: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{Wallet: focal, Window: opts.Window, Incomplete: true},
			fmt.Errorf("coordination.Analyze: %s: %w", focal, err)
	}

	comp := e.components()
	snap := e.store.Snapshot()
	key := NewAnalysisKey(focal, opts.Window, snap.Revision())

	var res domain.AnalysisResult
	cached := false
	if !opts.BypassCache {
		res, cached = e.cache.GetAnalysis(key)
		res.FromCache = cached
	}
	if !cached {
		var compared []string
		res, compared = comp.detector.Analyze(ctx, snap, focal, PairOptions{
			Window:      opts.Window,
			BypassCache: opts.BypassCache,
		})
		if res.Incomplete {
			slog.Warn("wallet analysis interrupted",
				"wallet", focal,
				"failed", res.FailedPairs,
				"err", context.Cause(ctx),
			)
			return res, fmt.Errorf("coordination.Analyze: %s: %w", focal, context.Cause(ctx))
		}
		e.cache.PutAnalysis(key, res, compared)
		e.groupsDetected.Add(int64(len(res.Groups)))
	}

	e.analyses.Add(1)
	e.lastAnalysis.Store(e.now().UnixNano())
	e.emit(Event{Type: EventAnalysisComplete, At: e.now(), Wallets: []string{focal}, Payload: res})
	return res, nil
}

// AnalyzePair compara exactamente dos wallets. ok=false si alguna no tiene
// trades en la ventana.
func (e *Engine) AnalyzePair(_ context.Context, walletA, walletB string, opts AnalyzeOptions) (domain.PairResult, bool, error) {
	a, err := domain.ParseWallet(walletA)
	if err != nil {
		return domain.PairResult{}, false, fmt.Errorf("coordination.AnalyzePair: %w", err)
	}
	b, err := domain.ParseWallet(walletB)
	if err != nil {
		return domain.PairResult{}, false, fmt.Errorf("coordination.AnalyzePair: %w", err)
	}
	if a == b {
		return domain.PairResult{}, false, fmt.Errorf("coordination.AnalyzePair: %w: same wallet on both sides", domain.ErrInvalidWallet)
	}

	comp := e.components()
	res, ok := comp.detector.Pair(e.store.Snapshot(), a, b, PairOptions{
		Window:      opts.Window,
		BypassCache: opts.BypassCache,
	})
	return res, ok, nil
}

// BatchAnalyze analiza un conjunto de wallets. Si el presupuesto de tiempo o el
// deadline del contexto expiran, devuelve resultados parciales con Incomplete.
// Si el contexto se cancela, devuelve el parcial junto con el error.
func (e *Engine) BatchAnalyze(ctx context.Context, wallets []string, opts BatchOptions) (domain.BatchResult, error) {
	comp := e.components()
	res := comp.batch.Analyze(ctx, e.store.Snapshot(), wallets, opts)

	e.batches.Add(1)
	e.groupsDetected.Add(int64(len(res.Groups)))
	e.lastAnalysis.Store(e.now().UnixNano())
	e.emit(Event{Type: EventBatchAnalysisComplete, At: e.now(), Wallets: walletsOf(res), Payload: res})

	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return res, fmt.Errorf("coordination.BatchAnalyze: %w", err)
	}
	return res, nil
}

// Summary devuelve los totales del engine.
func (e *Engine) Summary() domain.Summary {
	s := domain.Summary{
		Store:          e.store.Stats(),
		Cache:          e.cache.Stats(),
		Analyses:       e.analyses.Load(),
		Batches:        e.batches.Load(),
		GroupsDetected: e.groupsDetected.Load(),
	}
	if ns := e.lastAnalysis.Load(); ns != 0 {
		s.LastAnalysisAt = time.Unix(0, ns)
	}
	return s
}

// CacheStats devuelve los contadores de la caché.
func (e *Engine) CacheStats() domain.CacheStats {
	return e.cache.Stats()
}

func (e *Engine) emit(ev Event) {
	for _, o := range e.observers {
		o.OnEvent(ev)
	}
}

func walletsOf(res domain.BatchResult) []string {
	out := make([]string, 0, len(res.ResultsByWallet))
	for _, g := range res.Groups {
		out = append(out, g.Members...)
	}
	return out
}
