package coordination

// detector.go: convierte scores de pares en grupos de coordinación.
//
// Flujo: candidatos → pares (vía caché) → grafo con aristas isLikelyCoordinated
// → componentes conexas (union-find) → score medio, flags y nivel de riesgo.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polywatch/internal/application/tradestore"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// compareFunc es la firma de Similarity.Compare. Inyectable en tests.
type compareFunc func(a, b string, tradesA, tradesB []domain.Trade, w domain.Window) (domain.PairResult, bool)

// Detector encuentra grupos de wallets coordinadas. No guarda estado entre llamadas.
type Detector struct {
	cfg     Config
	cache   *Cache
	compare compareFunc
	now     func() time.Time
}

// NewDetector crea un Detector que usa sim para los pares y cache para memoizarlos.
func NewDetector(cfg Config, sim *Similarity, cache *Cache) *Detector {
	return &Detector{
		cfg:     cfg,
		cache:   cache,
		compare: sim.Compare,
		now:     time.Now,
	}
}

// PairOptions controla un cálculo de pares.
type PairOptions struct {
	Window      domain.Window
	BypassCache bool
}

// pairStats cuenta lo que pasó al calcular un lote de pares.
type pairStats struct {
	compared int
	failed   int
	skipped  int
}

// Pair calcula (o recupera de la caché) el resultado para a y b, orientado como (a, b).
func (d *Detector) Pair(snap *tradestore.Snapshot, a, b string, opts PairOptions) (domain.PairResult, bool) {
	fpA := snap.Fingerprint(a, opts.Window)
	fpB := snap.Fingerprint(b, opts.Window)
	if fpA.Count == 0 || fpB.Count == 0 {
		return domain.PairResult{}, false
	}

	key := NewPairKey(a, b, opts.Window, fpA, fpB)
	if !opts.BypassCache {
		if res, ok := d.cache.GetPair(key); ok {
			return orient(res, a), true
		}
	}

	res, ok := d.compare(a, b,
		snap.TradesForWallet(a, opts.Window),
		snap.TradesForWallet(b, opts.Window),
		opts.Window,
	)
	if !ok {
		return domain.PairResult{}, false
	}
	d.cache.PutPair(key, res)
	return orient(res, a), true
}

// Analyze busca el grupo de la wallet focal. Los candidatos son las wallets que
// comparten al menos un mercado con ella en la ventana; también se comparan
// entre sí para que la pertenencia al grupo sea transitiva.
func (d *Detector) Analyze(ctx context.Context, snap *tradestore.Snapshot, focal string, opts PairOptions) (domain.AnalysisResult, []string) {
	res := domain.AnalysisResult{
		ID:         uuid.NewString(),
		Wallet:     focal,
		Window:     opts.Window,
		AnalyzedAt: d.now(),
	}

	candidates := snap.Counterparts(focal, opts.Window)
	res.WalletsCompared = len(candidates)
	if len(candidates) == 0 {
		return res, candidates
	}

	wallets := append([]string{focal}, candidates...)
	pairs := candidatePairs(snap, wallets, opts.Window)
	results, stats := d.computePairs(ctx, snap, pairs, opts)
	res.FailedPairs = stats.failed
	res.Incomplete = stats.skipped > 0

	for _, g := range d.buildGroups(results) {
		if g.HasMember(focal) {
			res.Groups = append(res.Groups, g)
		}
	}
	res.IsCoordinated = len(res.Groups) > 0
	res.HighestRisk = domain.HighestRiskOf(res.Groups)

	slog.Debug("wallet analyzed",
		"wallet", focal,
		"candidates", len(candidates),
		"pairs", stats.compared,
		"failed", stats.failed,
		"skipped", stats.skipped,
		"coordinated", res.IsCoordinated,
	)
	return res, candidates
}

// computePairs calcula los pares en paralelo, acotado por cfg.Concurrency.
// Cada par se aísla: un panic se loguea y cuenta como fallido sin abortar el
// resto. Si ctx expira, los pares pendientes se cuentan como skipped.
func (d *Detector) computePairs(ctx context.Context, snap *tradestore.Snapshot, pairs [][2]string, opts PairOptions) ([]domain.PairResult, pairStats) {
	type slot struct {
		res     domain.PairResult
		ok      bool
		failed  bool
		skipped bool
	}
	slots := make([]slot, len(pairs))

	var g errgroup.Group
	g.SetLimit(d.cfg.concurrency())

	dispatched := 0
	for i, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			if ctx.Err() != nil {
				slots[i].skipped = true
				return nil
			}
			res, ok, err := d.safePair(snap, p[0], p[1], opts)
			if err != nil {
				slog.Warn("pair analysis failed",
					"wallet_a", p[0],
					"wallet_b", p[1],
					"err", err,
				)
				slots[i].failed = true
				return nil
			}
			slots[i].res, slots[i].ok = res, ok
			return nil
		})
	}
	_ = g.Wait()

	var stats pairStats
	stats.skipped = len(pairs) - dispatched
	results := make([]domain.PairResult, 0, len(pairs))
	for _, s := range slots[:dispatched] {
		switch {
		case s.skipped:
			stats.skipped++
		case s.failed:
			stats.failed++
		case s.ok:
			stats.compared++
			results = append(results, s.res)
		default:
			stats.compared++
		}
	}
	return results, stats
}

// safePair convierte un panic del cálculo en error.
func (d *Detector) safePair(snap *tradestore.Snapshot, a, b string, opts PairOptions) (res domain.PairResult, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("coordination.safePair: panic: %v", r)
		}
	}()
	res, ok = d.Pair(snap, a, b, opts)
	return res, ok, nil
}

// buildGroups arma los grupos como componentes conexas de las aristas coordinadas.
func (d *Detector) buildGroups(results []domain.PairResult) []domain.Group {
	uf := newUnionFind()
	for _, r := range results {
		if r.IsLikelyCoordinated {
			uf.union(r.WalletA, r.WalletB)
		}
	}

	edges := make(map[string][]domain.PairResult)
	for _, r := range results {
		if !r.IsLikelyCoordinated {
			continue
		}
		root := uf.find(r.WalletA)
		edges[root] = append(edges[root], r)
	}

	now := d.now()
	groups := make([]domain.Group, 0, len(edges))
	for root, es := range edges {
		members := uf.members(root)
		if len(members) < 2 {
			continue
		}
		groups = append(groups, d.newGroup(members, es, now))
	}
	sortGroups(groups)
	return groups
}

// newGroup calcula score, flags y riesgo. El score es la media de las aristas:
// un solo par extremo no infla un grupo mayoritariamente inocente.
func (d *Detector) newGroup(members []string, edges []domain.PairResult, now time.Time) domain.Group {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].WalletA != edges[j].WalletA {
			return edges[i].WalletA < edges[j].WalletA
		}
		return edges[i].WalletB < edges[j].WalletB
	})

	var flags domain.FlagSet
	sum := 0.0
	for _, e := range edges {
		sum += e.SimilarityScore
		flags = flags.Union(e.Flags)
	}
	score := round2(sum / float64(len(edges)))

	return domain.Group{
		ID:                uuid.NewString(),
		Members:           members,
		CoordinationScore: score,
		RiskLevel:         d.cfg.Risk.Level(score),
		Flags:             flags,
		Edges:             edges,
		DetectedAt:        now,
	}
}

// candidatePairs devuelve los pares (a < b) de wallets que comparten al menos
// un mercado en la ventana. Los demás pares no pueden superar el umbral de
// overlap, así que no se calculan.
func candidatePairs(snap *tradestore.Snapshot, wallets []string, w domain.Window) [][2]string {
	inSet := make(map[string]struct{}, len(wallets))
	for _, wl := range wallets {
		inSet[wl] = struct{}{}
	}

	seen := make(map[[2]string]struct{})
	var pairs [][2]string
	markets := make(map[string]struct{})
	for _, wl := range wallets {
		for _, m := range snap.MarketsForWallet(wl, w) {
			markets[m] = struct{}{}
		}
	}
	for m := range markets {
		var ws []string
		for _, wl := range snap.WalletsForMarket(m, w) {
			if _, ok := inSet[wl]; ok {
				ws = append(ws, wl)
			}
		}
		for i := 0; i < len(ws); i++ {
			for j := i + 1; j < len(ws); j++ {
				p := [2]string{ws[i], ws[j]} // WalletsForMarket ya viene ordenado
				if _, dup := seen[p]; dup {
					continue
				}
				seen[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

// sortGroups ordena por score descendente y luego por miembros, para que la
// salida sea estable sin importar el orden de finalización de los workers.
func sortGroups(groups []domain.Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].CoordinationScore != groups[j].CoordinationScore {
			return groups[i].CoordinationScore > groups[j].CoordinationScore
		}
		return groups[i].Key() < groups[j].Key()
	})
}

func orient(res domain.PairResult, a string) domain.PairResult {
	if res.WalletA != a {
		return res.Swapped()
	}
	return res
}

// unionFind agrupa wallets en componentes conexas.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// la raíz es siempre la menor: resultado determinista
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

func (u *unionFind) members(root string) []string {
	var out []string
	for x := range u.parent {
		if u.find(x) == root {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
