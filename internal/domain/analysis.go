package domain

import "time"

// AnalysisResult es el resultado de analizar una wallet focal.
type AnalysisResult struct {
	ID              string
	Wallet          string
	Window          Window
	Groups          []Group
	WalletsCompared int
	IsCoordinated   bool // la wallet focal pertenece a algún grupo
	HighestRisk     RiskLevel
	FailedPairs     int
	Incomplete      bool // el contexto expiró con pares sin comparar
	AnalyzedAt      time.Time
	FromCache       bool
}

// GroupOf devuelve el grupo al que pertenece la wallet, si existe.
func (r AnalysisResult) GroupOf(wallet string) (Group, bool) {
	return groupOf(r.Groups, wallet)
}

// BatchResult es el resultado de analizar un conjunto de wallets.
type BatchResult struct {
	ID                     string
	Window                 Window
	WalletsAnalyzed        int
	Groups                 []Group
	CoordinatedWalletCount int
	ResultsByWallet        map[string]Group
	PairsCompared          int
	FailedPairs            int
	ExcludedWallets        []string
	HighestRisk            RiskLevel
	Incomplete             bool // el presupuesto de tiempo expiró antes de terminar
	ProcessingTime         time.Duration
	AnalyzedAt             time.Time
}

// ProcessingTimeMs devuelve el tiempo de procesamiento en milisegundos.
func (r BatchResult) ProcessingTimeMs() int64 {
	return r.ProcessingTime.Milliseconds()
}

// HighestRiskOf devuelve el mayor nivel de riesgo entre los grupos.
func HighestRiskOf(groups []Group) RiskLevel {
	highest := RiskNone
	for _, g := range groups {
		if g.RiskLevel > highest {
			highest = g.RiskLevel
		}
	}
	return highest
}

func groupOf(groups []Group, wallet string) (Group, bool) {
	for _, g := range groups {
		if g.HasMember(wallet) {
			return g, true
		}
	}
	return Group{}, false
}

// CacheStats son los contadores de la caché de resultados.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRate devuelve hits / (hits + misses), 0 si no hubo accesos.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StoreStats resume el contenido del Trade Store.
type StoreStats struct {
	Trades   int
	Wallets  int
	Markets  int
	Rejected int64
	Revision uint64
}

// Summary es el estado agregado del engine.
type Summary struct {
	Store          StoreStats
	Cache          CacheStats
	Analyses       int64
	Batches        int64
	GroupsDetected int64
	LastAnalysisAt time.Time
}
