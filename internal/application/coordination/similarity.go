package coordination

// similarity.go: score multi-señal entre exactamente dos wallets.
//
// Señales:
//   - overlap:   Jaccard de los mercados operados (0–100)
//   - timing:    fracción de trades de A con contraparte de B en el mismo mercado
//                dentro de SimultaneousWindow (matching greedy 1-a-1 por cercanía)
//   - direction: fracción de pares emparejados con el mismo side (0.5 sin pares)
//   - size:      media de 1 - |a-b|/max(a,b) sobre los pares emparejados
//                (en el score, dirección y tamaño se ponderan por el timing)
//   - win rate:  1 - |wrA - wrB| (0.5 si alguna wallet no tiene trades resueltos)
//
// Los argumentos se canonicalizan (dirección menor primero) antes de calcular,
// así que el resultado es el mismo para (A,B) y (B,A) salvo las etiquetas.

import (
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Similarity calcula PairResults. Es stateless salvo la configuración.
type Similarity struct {
	cfg Config
	now func() time.Time
}

// NewSimilarity crea un Similarity con la configuración dada.
func NewSimilarity(cfg Config) *Similarity {
	return &Similarity{cfg: cfg, now: time.Now}
}

// signals son las cinco señales crudas antes de ponderar.
type signals struct {
	overlap   float64 // 0–100
	timing    float64
	direction float64
	size      float64
	winRate   float64

	shared         int
	matched        int
	resolvedA      int
	resolvedB      int
	winRateDefined bool
}

// Compare devuelve la similitud entre a y b usando sus trades dentro de la ventana.
// ok=false si alguna de las dos wallets no tiene trades: no hay nada que comparar.
func (s *Similarity) Compare(a, b string, tradesA, tradesB []domain.Trade, w domain.Window) (domain.PairResult, bool) {
	if len(tradesA) == 0 || len(tradesB) == 0 {
		return domain.PairResult{}, false
	}

	swapped := a > b
	if swapped {
		a, b = b, a
		tradesA, tradesB = tradesB, tradesA
	}

	sig := s.signals(tradesA, tradesB)
	score := s.composite(sig)
	flags := s.flags(sig)

	res := domain.PairResult{
		WalletA:             a,
		WalletB:             b,
		Window:              w,
		SimilarityScore:     score,
		MarketOverlap:       sig.overlap,
		DirectionAlignment:  sig.direction,
		SizeSimilarity:      sig.size,
		TimingCorrelation:   sig.timing,
		WinRateSimilarity:   sig.winRate,
		SharedMarkets:       sig.shared,
		MatchedPairs:        sig.matched,
		TradesA:             len(tradesA),
		TradesB:             len(tradesB),
		Flags:               flags,
		IsLikelyCoordinated: s.classify(score, sig),
		ComputedAt:          s.now(),
	}
	if swapped {
		res = res.Swapped()
	}
	return res, true
}

func (s *Similarity) signals(tradesA, tradesB []domain.Trade) signals {
	byMarketA := groupByMarket(tradesA)
	byMarketB := groupByMarket(tradesB)

	var sig signals
	union := len(byMarketA)
	var shared []string
	for m := range byMarketA {
		if _, ok := byMarketB[m]; ok {
			shared = append(shared, m)
		}
	}
	for m := range byMarketB {
		if _, ok := byMarketA[m]; !ok {
			union++
		}
	}
	sort.Strings(shared)
	sig.shared = len(shared)
	if union > 0 {
		sig.overlap = float64(len(shared)) / float64(union) * 100
	}

	totalA := 0
	sameSide := 0
	sizeSum := 0.0
	for _, m := range shared {
		as, bs := byMarketA[m], byMarketB[m]
		totalA += len(as)
		for _, p := range matchNearest(as, bs, s.cfg.SimultaneousWindow) {
			sig.matched++
			if p.a.Side == p.b.Side {
				sameSide++
			}
			sizeSum += sizeRatio(p.a.SizeUSD, p.b.SizeUSD)
		}
	}

	if totalA > 0 {
		sig.timing = float64(sig.matched) / float64(totalA)
	}
	if sig.matched > 0 {
		sig.direction = float64(sameSide) / float64(sig.matched)
		sig.size = sizeSum / float64(sig.matched)
	} else {
		// sin pares comparables no hay evidencia en ningún sentido
		sig.direction = 0.5
	}

	wrA, resA, okA := domain.WinRate(tradesA)
	wrB, resB, okB := domain.WinRate(tradesB)
	sig.resolvedA, sig.resolvedB = resA, resB
	if okA && okB {
		sig.winRate = 1 - math.Abs(wrA-wrB)
		sig.winRateDefined = true
	} else {
		sig.winRate = 0.5
	}
	return sig
}

// composite pondera las señales y devuelve un score 0–100 con 2 decimales.
//
// Dirección y tamaño solo existen sobre pares emparejados, así que pesan en
// proporción al timing: con timing 0 la dirección vale 0.5 y el tamaño 0, con
// timing 1 valen lo observado. Cada par nuevo suma al menos
// (Timing - Direction/2) / trades de A, positivo con los pesos por defecto.
func (s *Similarity) composite(sig signals) float64 {
	w := s.cfg.Weights
	direction := 0.5 + (sig.direction-0.5)*sig.timing
	size := sig.size * sig.timing
	raw := w.MarketOverlap*(sig.overlap/100) +
		w.Timing*sig.timing +
		w.Direction*direction +
		w.Size*size +
		w.WinRate*sig.winRate
	return round2(clamp(raw*100, 0, 100))
}

func (s *Similarity) flags(sig signals) domain.FlagSet {
	var f domain.FlagSet
	cfg := s.cfg
	if sig.overlap >= cfg.StrongOverlap {
		f = f.With(domain.FlagMarketOverlap)
	}
	if sig.matched > 0 && sig.timing >= cfg.StrongTiming {
		f = f.With(domain.FlagTimingCorrelation)
	}
	if sig.matched >= cfg.MinMatchedPairs {
		if sig.direction >= cfg.StrongDirection {
			f = f.With(domain.FlagDirectionAlignment)
		}
		if sig.direction <= 1-cfg.StrongDirection {
			f = f.With(domain.FlagOppositeDirections)
		}
		if sig.size >= cfg.StrongSize {
			f = f.With(domain.FlagSizeSimilarity)
		}
	}
	if sig.winRateDefined &&
		sig.resolvedA >= cfg.MinResolvedTrades &&
		sig.resolvedB >= cfg.MinResolvedTrades &&
		sig.winRate >= cfg.StrongWinRate {
		f = f.With(domain.FlagWinRateSimilarity)
	}
	return f
}

// classify exige score alto Y overlap alto Y al menos una señal de
// comportamiento extrema. Compartir un mercado popular no basta.
func (s *Similarity) classify(score float64, sig signals) bool {
	cfg := s.cfg
	if score < cfg.CoordinationThreshold || sig.overlap < cfg.StrongOverlap {
		return false
	}
	if sig.matched > 0 && sig.timing >= cfg.StrongTiming {
		return true
	}
	if sig.matched < cfg.MinMatchedPairs {
		return false
	}
	return sig.direction >= cfg.StrongDirection ||
		sig.direction <= 1-cfg.StrongDirection ||
		sig.size >= cfg.StrongSize
}

type tradePair struct {
	a, b domain.Trade
}

// matchNearest empareja cada trade de as con el trade libre de bs más cercano
// en el tiempo, dentro de window. Ambos slices deben estar ordenados por
// timestamp. Un trade de bs se consume una sola vez; en empate gana el anterior.
func matchNearest(as, bs []domain.Trade, window time.Duration) []tradePair {
	used := make([]bool, len(bs))
	var pairs []tradePair
	for _, a := range as {
		lo := a.Timestamp.Add(-window)
		start := sort.Search(len(bs), func(i int) bool {
			return !bs[i].Timestamp.Before(lo)
		})
		best := -1
		var bestDelta time.Duration
		for j := start; j < len(bs); j++ {
			delta := bs[j].Timestamp.Sub(a.Timestamp)
			if delta > window {
				break
			}
			if used[j] {
				continue
			}
			if delta < 0 {
				delta = -delta
			}
			if best == -1 || delta < bestDelta {
				best, bestDelta = j, delta
			}
		}
		if best >= 0 {
			used[best] = true
			pairs = append(pairs, tradePair{a: a, b: bs[best]})
		}
	}
	return pairs
}

func groupByMarket(trades []domain.Trade) map[string][]domain.Trade {
	out := make(map[string][]domain.Trade)
	for _, t := range trades {
		out[t.MarketID] = append(out[t.MarketID], t)
	}
	return out
}

// sizeRatio devuelve 1 - |a-b| / max(a,b). 1.0 = tamaños idénticos.
func sizeRatio(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi <= 0 {
		return 0
	}
	return 1 - math.Abs(a-b)/hi
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
