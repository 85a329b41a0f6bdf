package watcher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polywatch/internal/application/coordination"
	"github.com/alejandrodnm/polywatch/internal/application/watcher"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockTradeProvider struct {
	mu     sync.Mutex
	trades map[string][]domain.Trade
	fail   map[string]bool
	since  map[string]time.Time
}

func (m *mockTradeProvider) FetchWalletTrades(_ context.Context, wallet string, since time.Time) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.since == nil {
		m.since = map[string]time.Time{}
	}
	m.since[wallet] = since
	if m.fail[wallet] {
		return nil, errors.New("api down")
	}
	var out []domain.Trade
	for _, t := range m.trades[wallet] {
		if t.Timestamp.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockStorage struct {
	stored []domain.Trade
	saved  []domain.Trade
	groups []domain.Group
	err    error
}

func (m *mockStorage) SaveTrades(_ context.Context, trades []domain.Trade) error {
	m.saved = append(m.saved, trades...)
	return m.err
}

func (m *mockStorage) LoadTrades(_ context.Context, _, _ time.Time) ([]domain.Trade, error) {
	return m.stored, m.err
}

func (m *mockStorage) SaveGroups(_ context.Context, groups []domain.Group) error {
	m.groups = append(m.groups, groups...)
	return m.err
}

func (m *mockStorage) GetGroups(_ context.Context, _, _ time.Time) ([]domain.Group, error) {
	return m.groups, nil
}

func (m *mockStorage) Close() error { return nil }

type mockNotifier struct {
	batches  []domain.BatchResult
	analyses []domain.AnalysisResult
}

func (m *mockNotifier) Notify(_ context.Context, r domain.BatchResult) error {
	m.batches = append(m.batches, r)
	return nil
}

func (m *mockNotifier) NotifyAnalysis(_ context.Context, r domain.AnalysisResult) error {
	m.analyses = append(m.analyses, r)
	return nil
}

// --- helpers ---

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func wallet(n int) string { return fmt.Sprintf("0x%040x", n) }

// mirror genera trades idénticos para las wallets dadas, 100ms de diferencia.
func mirror(wallets []int, rounds int) map[string][]domain.Trade {
	out := map[string][]domain.Trade{}
	for r := 0; r < rounds; r++ {
		for k, w := range wallets {
			out[wallet(w)] = append(out[wallet(w)], domain.Trade{
				ID:        fmt.Sprintf("m-%d-%d", r, w),
				Wallet:    wallet(w),
				MarketID:  fmt.Sprintf("mkt-%d", r%5),
				Side:      domain.SideBuy,
				SizeUSD:   100,
				Price:     0.5,
				Timestamp: t0.Add(time.Duration(r)*10*time.Minute + time.Duration(k)*100*time.Millisecond),
			})
		}
	}
	return out
}

func newWatcher(t *testing.T, provider ports.TradeProvider, store ports.Storage) (*watcher.Watcher, *coordination.Engine, *mockNotifier) {
	t.Helper()
	cfg := coordination.DefaultConfig()
	cfg.Concurrency = 2
	engine, err := coordination.NewEngine(cfg, nil)
	require.NoError(t, err)

	wcfg := watcher.DefaultConfig()
	wcfg.Lookback = 0
	wcfg.Once = true
	n := &mockNotifier{}
	return watcher.New(wcfg, engine, provider, store, n), engine, n
}

// --- tests ---

func TestWatcher_RunOnceDetectsAndPersists(t *testing.T) {
	provider := &mockTradeProvider{trades: mirror([]int{1, 2, 3}, 15)}
	store := &mockStorage{}
	w, _, n := newWatcher(t, provider, store)

	wallets := []string{wallet(1), wallet(2), wallet(3)}
	require.NoError(t, w.Run(context.Background(), wallets))

	require.Len(t, n.batches, 1)
	res := n.batches[0]
	require.Len(t, res.Groups, 1)
	assert.Equal(t, wallets, res.Groups[0].Members)
	assert.Len(t, store.saved, 45)
	require.Len(t, store.groups, 1)
	assert.Equal(t, res.Groups[0].ID, store.groups[0].ID)
}

func TestWatcher_BootstrapLoadsStoredTrades(t *testing.T) {
	var stored []domain.Trade
	for _, ts := range mirror([]int{1, 2}, 10) {
		stored = append(stored, ts...)
	}
	store := &mockStorage{stored: stored}
	w, engine, _ := newWatcher(t, nil, store)

	n, err := w.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, 20, engine.Store().Stats().Trades)
}

func TestWatcher_BootstrapError(t *testing.T) {
	w, _, _ := newWatcher(t, nil, &mockStorage{err: errors.New("disk")})
	_, err := w.Bootstrap(context.Background())
	assert.ErrorContains(t, err, "watcher.Bootstrap")
}

func TestWatcher_FetchIsIncremental(t *testing.T) {
	provider := &mockTradeProvider{trades: mirror([]int{1, 2}, 6)}
	w, _, _ := newWatcher(t, provider, nil)
	ctx := context.Background()

	added, err := w.Fetch(ctx, []string{wallet(1), wallet(2)})
	require.NoError(t, err)
	assert.Equal(t, 12, added)
	assert.True(t, provider.since[wallet(1)].IsZero())

	added, err = w.Fetch(ctx, []string{wallet(1), wallet(2)})
	require.NoError(t, err)
	assert.Zero(t, added)
	last := provider.trades[wallet(1)][5].Timestamp
	assert.True(t, last.Equal(provider.since[wallet(1)]))
}

func TestWatcher_FetchToleratesPartialFailure(t *testing.T) {
	provider := &mockTradeProvider{
		trades: mirror([]int{1, 2}, 4),
		fail:   map[string]bool{wallet(2): true},
	}
	w, _, _ := newWatcher(t, provider, nil)

	added, err := w.Fetch(context.Background(), []string{wallet(1), wallet(2)})
	require.NoError(t, err)
	assert.Equal(t, 4, added)

	_, err = w.Fetch(context.Background(), []string{wallet(2)})
	assert.ErrorContains(t, err, "all 1 wallets failed")
}

func TestWatcher_AnalyzeNotifiesFocalResult(t *testing.T) {
	provider := &mockTradeProvider{trades: mirror([]int{1, 2}, 15)}
	store := &mockStorage{}
	w, _, n := newWatcher(t, provider, store)
	ctx := context.Background()

	_, err := w.Fetch(ctx, []string{wallet(1), wallet(2)})
	require.NoError(t, err)

	res, err := w.Analyze(ctx, wallet(1), coordination.AnalyzeOptions{})
	require.NoError(t, err)
	assert.True(t, res.IsCoordinated)
	require.Len(t, n.analyses, 1)
	assert.Len(t, store.groups, 1)

	_, err = w.Analyze(ctx, "nope", coordination.AnalyzeOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	cfg := coordination.DefaultConfig()
	engine, err := coordination.NewEngine(cfg, nil)
	require.NoError(t, err)

	wcfg := watcher.DefaultConfig()
	wcfg.Interval = 10 * time.Millisecond
	n := &mockNotifier{}
	w := watcher.New(wcfg, engine, nil, nil, n)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx, []string{wallet(1)}))
	assert.GreaterOrEqual(t, len(n.batches), 2)
}

func TestWatcher_History(t *testing.T) {
	store := &mockStorage{groups: []domain.Group{{ID: "g1", Members: []string{wallet(1), wallet(2)}}}}
	w, _, _ := newWatcher(t, nil, store)

	groups, err := w.History(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	w, _, _ = newWatcher(t, nil, nil)
	groups, err = w.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
