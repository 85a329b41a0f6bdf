package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Flag es una señal con nombre que puede disparar un par de wallets.
type Flag uint8

const (
	FlagMarketOverlap Flag = 1 << iota
	FlagTimingCorrelation
	FlagDirectionAlignment
	FlagOppositeDirections // direcciones opuestas: patrón de wash trading
	FlagSizeSimilarity
	FlagWinRateSimilarity
)

// AllFlags lista todas las flags en orden estable.
var AllFlags = []Flag{
	FlagMarketOverlap,
	FlagTimingCorrelation,
	FlagDirectionAlignment,
	FlagOppositeDirections,
	FlagSizeSimilarity,
	FlagWinRateSimilarity,
}

func (f Flag) String() string {
	switch f {
	case FlagMarketOverlap:
		return "MARKET_OVERLAP"
	case FlagTimingCorrelation:
		return "TIMING_CORRELATION"
	case FlagDirectionAlignment:
		return "DIRECTION_ALIGNMENT"
	case FlagOppositeDirections:
		return "OPPOSITE_DIRECTIONS"
	case FlagSizeSimilarity:
		return "SIZE_SIMILARITY"
	case FlagWinRateSimilarity:
		return "WIN_RATE_SIMILARITY"
	default:
		return fmt.Sprintf("FLAG(%d)", uint8(f))
	}
}

// ParseFlag devuelve la flag por nombre.
func ParseFlag(name string) (Flag, bool) {
	for _, f := range AllFlags {
		if f.String() == name {
			return f, true
		}
	}
	return 0, false
}

// FlagSet es un conjunto de flags representado como bitmask.
type FlagSet uint8

// NewFlagSet crea un set con las flags dadas.
func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

// With devuelve el set con f añadida.
func (s FlagSet) With(f Flag) FlagSet { return s | FlagSet(f) }

// Has devuelve true si f está en el set.
func (s FlagSet) Has(f Flag) bool { return s&FlagSet(f) != 0 }

// Union devuelve la unión de dos sets.
func (s FlagSet) Union(o FlagSet) FlagSet { return s | o }

// Empty devuelve true si no hay ninguna flag.
func (s FlagSet) Empty() bool { return s == 0 }

// List devuelve las flags del set en el orden de AllFlags.
func (s FlagSet) List() []Flag {
	var out []Flag
	for _, f := range AllFlags {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Names devuelve los nombres de las flags del set.
func (s FlagSet) Names() []string {
	flags := s.List()
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = f.String()
	}
	return names
}

func (s FlagSet) String() string {
	if s.Empty() {
		return "-"
	}
	return strings.Join(s.Names(), ",")
}

// MarshalJSON serializa el set como lista de nombres.
func (s FlagSet) MarshalJSON() ([]byte, error) {
	names := s.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// UnmarshalJSON acepta la lista de nombres producida por MarshalJSON.
func (s *FlagSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out FlagSet
	for _, n := range names {
		f, ok := ParseFlag(n)
		if !ok {
			return fmt.Errorf("domain.FlagSet: unknown flag %q", n)
		}
		out = out.With(f)
	}
	*s = out
	return nil
}

// ParseFlagSet reconstruye un set desde String().
func ParseFlagSet(s string) (FlagSet, error) {
	if s == "" || s == "-" {
		return 0, nil
	}
	var out FlagSet
	for _, n := range strings.Split(s, ",") {
		f, ok := ParseFlag(strings.TrimSpace(n))
		if !ok {
			return 0, fmt.Errorf("domain.ParseFlagSet: unknown flag %q", n)
		}
		out = out.With(f)
	}
	return out, nil
}

// RiskLevel clasifica un grupo según su coordinationScore.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// ParseRiskLevel es la inversa de String. Cualquier valor desconocido es NONE.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToUpper(s) {
	case "LOW":
		return RiskLow
	case "MEDIUM":
		return RiskMedium
	case "HIGH":
		return RiskHigh
	case "CRITICAL":
		return RiskCritical
	default:
		return RiskNone
	}
}

// MarshalText serializa el nivel por nombre.
func (r RiskLevel) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText acepta el nombre del nivel.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	*r = ParseRiskLevel(string(b))
	return nil
}

// PairResult es la similitud multi-señal entre dos wallets en una ventana.
type PairResult struct {
	WalletA string
	WalletB string
	Window  Window

	SimilarityScore    float64 // 0–100, compuesto ponderado
	MarketOverlap      float64 // 0–100, Jaccard de mercados
	DirectionAlignment float64 // 0–1, pares emparejados con el mismo side
	SizeSimilarity     float64 // 0–1, 1 = tamaños idénticos
	TimingCorrelation  float64 // 0–1, trades de A con contraparte simultánea en B
	WinRateSimilarity  float64 // 0–1, 0.5 si no hay trades resueltos

	SharedMarkets int
	MatchedPairs  int
	TradesA       int
	TradesB       int

	Flags               FlagSet
	IsLikelyCoordinated bool
	ComputedAt          time.Time
}

// Swapped devuelve el mismo resultado con A y B intercambiados.
// Todas las señales son simétricas, solo cambian las etiquetas.
func (p PairResult) Swapped() PairResult {
	p.WalletA, p.WalletB = p.WalletB, p.WalletA
	p.TradesA, p.TradesB = p.TradesB, p.TradesA
	return p
}

// Involves devuelve true si la wallet es uno de los dos lados.
func (p PairResult) Involves(wallet string) bool {
	return p.WalletA == wallet || p.WalletB == wallet
}

// Group es un grupo de coordinación: componente conexa del grafo de pares coordinados.
type Group struct {
	ID                string
	Members           []string // ordenados, len >= 2
	CoordinationScore float64  // media de los scores de las aristas
	RiskLevel         RiskLevel
	Flags             FlagSet
	Edges             []PairResult
	DetectedAt        time.Time
}

// MemberCount devuelve el número de wallets del grupo.
func (g Group) MemberCount() int { return len(g.Members) }

// Key devuelve la identidad del grupo basada en sus miembros.
// Dos grupos con los mismos miembros tienen la misma key aunque tengan ID distinto.
func (g Group) Key() string {
	return strings.Join(g.Members, "|")
}

// HasMember devuelve true si la wallet pertenece al grupo.
func (g Group) HasMember(wallet string) bool {
	for _, m := range g.Members {
		if m == wallet {
			return true
		}
	}
	return false
}
