package coordination

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polywatch/internal/application/tradestore"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/google/uuid"
)

// BatchOptions controls a batch run.
type BatchOptions struct {
	Window      domain.Window
	BypassCache bool
	// Budget bounds the wall-clock time of the run. When it expires the
	// pending pairs are skipped and the result is marked Incomplete.
	// Zero falls back to Config.BatchBudget; both zero means no limit.
	Budget time.Duration
}

// BatchAnalyzer runs the group detection over a wallet set, computing each
// unordered pair at most once and reporting each group once.
type BatchAnalyzer struct {
	cfg      Config
	detector *Detector
	now      func() time.Time
}

// NewBatchAnalyzer creates a BatchAnalyzer on top of the detector.
func NewBatchAnalyzer(cfg Config, detector *Detector) *BatchAnalyzer {
	return &BatchAnalyzer{cfg: cfg, detector: detector, now: time.Now}
}

// Analyze runs the batch. Malformed wallets are excluded and reported, never fatal.
func (b *BatchAnalyzer) Analyze(ctx context.Context, snap *tradestore.Snapshot, wallets []string, opts BatchOptions) domain.BatchResult {
	start := time.Now()

	budget := opts.Budget
	if budget <= 0 {
		budget = b.cfg.BatchBudget
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	valid, excluded := normalizeWallets(wallets)
	for _, w := range excluded {
		slog.Warn("wallet excluded from batch", "wallet", w, "err", domain.ErrInvalidWallet)
	}

	res := domain.BatchResult{
		ID:              uuid.NewString(),
		Window:          opts.Window,
		WalletsAnalyzed: len(valid),
		ExcludedWallets: excluded,
		ResultsByWallet: make(map[string]domain.Group),
		AnalyzedAt:      b.now(),
	}

	pairs := candidatePairs(snap, valid, opts.Window)
	results, stats := b.detector.computePairs(ctx, snap, pairs, PairOptions{
		Window:      opts.Window,
		BypassCache: opts.BypassCache,
	})
	res.PairsCompared = stats.compared
	res.FailedPairs = stats.failed
	res.Incomplete = stats.skipped > 0

	res.Groups = dedupGroups(b.detector.buildGroups(results))
	for _, g := range res.Groups {
		for _, m := range g.Members {
			res.ResultsByWallet[m] = g
		}
	}
	res.CoordinatedWalletCount = len(res.ResultsByWallet)
	res.HighestRisk = domain.HighestRiskOf(res.Groups)
	res.ProcessingTime = time.Since(start)

	slog.Info("batch analysis complete",
		"wallets", res.WalletsAnalyzed,
		"excluded", len(excluded),
		"pairs", stats.compared,
		"failed", stats.failed,
		"skipped", stats.skipped,
		"groups", len(res.Groups),
		"highest_risk", res.HighestRisk,
		"duration", res.ProcessingTime.Round(time.Millisecond),
	)
	return res
}

// dedupGroups keeps the first group for each member set.
func dedupGroups(groups []domain.Group) []domain.Group {
	seen := make(map[string]struct{}, len(groups))
	out := groups[:0]
	for _, g := range groups {
		if _, dup := seen[g.Key()]; dup {
			continue
		}
		seen[g.Key()] = struct{}{}
		out = append(out, g)
	}
	return out
}

// normalizeWallets lower-cases, validates and deduplicates the input, sorted.
func normalizeWallets(wallets []string) (valid, excluded []string) {
	seen := make(map[string]struct{}, len(wallets))
	for _, raw := range wallets {
		w, err := domain.ParseWallet(raw)
		if err != nil {
			excluded = append(excluded, raw)
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		valid = append(valid, w)
	}
	sort.Strings(valid)
	return valid, excluded
}
