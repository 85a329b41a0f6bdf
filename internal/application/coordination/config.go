package coordination

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Weights son los pesos de cada señal en el score compuesto. Deben sumar 1.
type Weights struct {
	MarketOverlap float64
	Timing        float64
	Direction     float64
	Size          float64
	WinRate       float64
}

// Sum devuelve la suma de los pesos.
func (w Weights) Sum() float64 {
	return w.MarketOverlap + w.Timing + w.Direction + w.Size + w.WinRate
}

// RiskThresholds son los cortes (límite inferior inclusivo) de cada nivel de riesgo.
type RiskThresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// Level mapea un coordinationScore a su nivel. Un score exactamente en un
// corte pertenece al nivel superior.
func (r RiskThresholds) Level(score float64) domain.RiskLevel {
	switch {
	case score >= r.Critical:
		return domain.RiskCritical
	case score >= r.High:
		return domain.RiskHigh
	case score >= r.Medium:
		return domain.RiskMedium
	case score >= r.Low:
		return domain.RiskLow
	default:
		return domain.RiskNone
	}
}

// Config contiene todos los umbrales del engine. Ningún umbral está embebido
// en el algoritmo: todo sale de aquí.
type Config struct {
	Weights Weights

	// SimultaneousWindow es la distancia máxima entre dos trades del mismo
	// mercado para considerarlos emparejados (mirror o copy-trading con delay).
	SimultaneousWindow time.Duration

	// CoordinationThreshold es el score compuesto mínimo para isLikelyCoordinated.
	CoordinationThreshold float64

	// Señales fuertes: además del score, hace falta overlap alto y al menos
	// una señal de comportamiento extrema.
	StrongOverlap   float64 // 0–100
	StrongTiming    float64 // 0–1
	StrongDirection float64 // 0–1; opuesto extremo = 1 - StrongDirection
	StrongSize      float64 // 0–1
	StrongWinRate   float64 // 0–1

	// MinMatchedPairs es el mínimo de pares emparejados para que dirección y
	// tamaño cuenten como evidencia.
	MinMatchedPairs int
	// MinResolvedTrades es el mínimo de trades resueltos por wallet para WIN_RATE_SIMILARITY.
	MinResolvedTrades int

	Risk RiskThresholds

	// Concurrency limita los workers del batch. <= 0 usa runtime.NumCPU().
	Concurrency int
	// BatchBudget es el presupuesto de tiempo por defecto del batch. 0 = sin límite.
	BatchBudget time.Duration

	// CacheMaxEntries acota la caché de resultados. <= 0 usa el default.
	CacheMaxEntries int
}

// DefaultConfig devuelve los umbrales documentados en DESIGN.md.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			MarketOverlap: 0.25,
			Timing:        0.30,
			Direction:     0.20,
			Size:          0.15,
			WinRate:       0.10,
		},
		SimultaneousWindow:    60 * time.Second,
		CoordinationThreshold: 60,
		StrongOverlap:         50,
		StrongTiming:          0.7,
		StrongDirection:       0.9,
		StrongSize:            0.9,
		StrongWinRate:         0.9,
		MinMatchedPairs:       3,
		MinResolvedTrades:     3,
		Risk: RiskThresholds{
			Low:      40,
			Medium:   60,
			High:     75,
			Critical: 90,
		},
		Concurrency:     runtime.NumCPU(),
		CacheMaxEntries: defaultCacheMaxEntries,
	}
}

const weightTolerance = 1e-6

type namedValue struct {
	name string
	v    float64
}

// Validate devuelve todos los problemas de la configuración juntos,
// envueltos en domain.ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	w := c.Weights
	for _, f := range []namedValue{
		{"market_overlap", w.MarketOverlap},
		{"timing", w.Timing},
		{"direction", w.Direction},
		{"size", w.Size},
		{"win_rate", w.WinRate},
	} {
		if f.v < 0 || math.IsNaN(f.v) {
			add("weight %s must be >= 0, got %v", f.name, f.v)
		}
	}
	if math.Abs(w.Sum()-1) > weightTolerance {
		add("weights must sum to 1.0, got %.6f", w.Sum())
	}
	// un par emparejado con side opuesto no puede bajar el score
	if w.Timing < w.Direction/2 {
		add("weight timing must be >= direction/2, got timing %v direction %v", w.Timing, w.Direction)
	}

	if c.SimultaneousWindow <= 0 {
		add("simultaneous window must be positive, got %s", c.SimultaneousWindow)
	}
	if c.CoordinationThreshold < 0 || c.CoordinationThreshold > 100 {
		add("coordination threshold must be in [0,100], got %v", c.CoordinationThreshold)
	}
	if c.StrongOverlap < 0 || c.StrongOverlap > 100 {
		add("strong overlap must be in [0,100], got %v", c.StrongOverlap)
	}
	for _, f := range []namedValue{
		{"strong timing", c.StrongTiming},
		{"strong direction", c.StrongDirection},
		{"strong size", c.StrongSize},
		{"strong win rate", c.StrongWinRate},
	} {
		if f.v < 0 || f.v > 1 {
			add("%s must be in [0,1], got %v", f.name, f.v)
		}
	}
	if c.StrongDirection <= 0.5 {
		add("strong direction must be > 0.5, got %v", c.StrongDirection)
	}
	if c.MinMatchedPairs < 1 {
		add("min matched pairs must be >= 1, got %d", c.MinMatchedPairs)
	}
	if c.MinResolvedTrades < 1 {
		add("min resolved trades must be >= 1, got %d", c.MinResolvedTrades)
	}

	r := c.Risk
	if !(r.Low > 0 && r.Low < r.Medium && r.Medium < r.High && r.High < r.Critical && r.Critical <= 100) {
		add("risk thresholds must satisfy 0 < low < medium < high < critical <= 100, got %v/%v/%v/%v",
			r.Low, r.Medium, r.High, r.Critical)
	}
	if c.BatchBudget < 0 {
		add("batch budget must be >= 0, got %s", c.BatchBudget)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
}

func (c Config) concurrency() int {
	if c.Concurrency <= 0 {
		return runtime.NumCPU()
	}
	return c.Concurrency
}
