package coordination

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

const defaultCacheMaxEntries = 50_000

// windowKey is a comparable form of domain.Window (zero time → 0).
type windowKey struct {
	start, end int64
}

func keyOf(w domain.Window) windowKey {
	return windowKey{start: unixNanoOrZero(w.Start), end: unixNanoOrZero(w.End)}
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// PairKey identifies a pair computation. A < B always; the fingerprints make a
// key go stale by itself when either wallet receives new trades.
type PairKey struct {
	A, B   string
	window windowKey
	FpA    domain.Fingerprint
	FpB    domain.Fingerprint
}

// NewPairKey builds a canonical key for the pair.
func NewPairKey(a, b string, w domain.Window, fpA, fpB domain.Fingerprint) PairKey {
	if a > b {
		a, b = b, a
		fpA, fpB = fpB, fpA
	}
	return PairKey{A: a, B: b, window: keyOf(w), FpA: fpA, FpB: fpB}
}

// AnalysisKey identifies a focal-wallet analysis against a given store revision.
type AnalysisKey struct {
	Wallet   string
	window   windowKey
	Revision uint64
}

// NewAnalysisKey builds the key for a focal analysis.
func NewAnalysisKey(wallet string, w domain.Window, revision uint64) AnalysisKey {
	return AnalysisKey{Wallet: wallet, window: keyOf(w), Revision: revision}
}

type cacheKey struct {
	pair     PairKey
	analysis AnalysisKey
	isPair   bool
}

type cacheEntry struct {
	key      cacheKey
	pair     domain.PairResult
	analysis domain.AnalysisResult
	wallets  []string
}

// Cache memoizes pair and analysis results. Safe for concurrent use.
//
// Staleness is detected through the key (fingerprints / store revision), so a
// stale entry is simply never hit again; Invalidate only reclaims memory early.
// When full, the oldest insertion is evicted.
type Cache struct {
	mu       sync.RWMutex
	entries  map[cacheKey]*list.Element
	byWallet map[string]map[cacheKey]struct{}
	order    *list.List
	max      int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache bounded to maxEntries (<= 0 uses the default).
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	return &Cache{
		entries:  make(map[cacheKey]*list.Element),
		byWallet: make(map[string]map[cacheKey]struct{}),
		order:    list.New(),
		max:      maxEntries,
	}
}

// GetPair returns the cached result for the key, oriented as the key (A < B).
func (c *Cache) GetPair(k PairKey) (domain.PairResult, bool) {
	e, ok := c.get(cacheKey{pair: k, isPair: true})
	if !ok {
		return domain.PairResult{}, false
	}
	return e.pair, true
}

// PutPair stores a pair result. The result is stored oriented as the key.
func (c *Cache) PutPair(k PairKey, res domain.PairResult) {
	if res.WalletA != k.A {
		res = res.Swapped()
	}
	c.put(&cacheEntry{
		key:     cacheKey{pair: k, isPair: true},
		pair:    res,
		wallets: []string{k.A, k.B},
	})
}

// GetAnalysis returns a cached focal analysis.
func (c *Cache) GetAnalysis(k AnalysisKey) (domain.AnalysisResult, bool) {
	e, ok := c.get(cacheKey{analysis: k})
	if !ok {
		return domain.AnalysisResult{}, false
	}
	return e.analysis, true
}

// PutAnalysis stores a focal analysis. compared lists every wallet the analysis
// looked at, so Invalidate on any of them drops the entry.
func (c *Cache) PutAnalysis(k AnalysisKey, res domain.AnalysisResult, compared []string) {
	wallets := make([]string, 0, len(compared)+1)
	wallets = append(wallets, k.Wallet)
	wallets = append(wallets, compared...)
	c.put(&cacheEntry{key: cacheKey{analysis: k}, analysis: res, wallets: wallets})
}

// Invalidate drops every entry that references the wallet.
func (c *Cache) Invalidate(wallet string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byWallet[wallet]
	n := 0
	for k := range keys {
		if el, ok := c.entries[k]; ok {
			c.removeLocked(el)
			n++
		}
	}
	delete(c.byWallet, wallet)
	return n
}

// Clear drops everything but keeps the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*list.Element)
	c.byWallet = make(map[string]map[cacheKey]struct{})
	c.order.Init()
}

// Stats returns hit/miss counters and the current size.
func (c *Cache) Stats() domain.CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return domain.CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: n,
	}
}

func (c *Cache) get(k cacheKey) (*cacheEntry, bool) {
	c.mu.RLock()
	el, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return el.Value.(*cacheEntry), true
}

func (c *Cache) put(e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[e.key]; ok {
		c.removeLocked(el)
	}
	for c.order.Len() >= c.max {
		c.removeLocked(c.order.Front())
	}

	el := c.order.PushBack(e)
	c.entries[e.key] = el
	for _, w := range e.wallets {
		set, ok := c.byWallet[w]
		if !ok {
			set = make(map[cacheKey]struct{})
			c.byWallet[w] = set
		}
		set[e.key] = struct{}{}
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	for _, w := range e.wallets {
		if set, ok := c.byWallet[w]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(c.byWallet, w)
			}
		}
	}
}
