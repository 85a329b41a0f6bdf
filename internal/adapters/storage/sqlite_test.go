package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/polywatch/internal/adapters/storage"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func wallet(n int) string { return fmt.Sprintf("0x%040x", n) }

func makeTrade(id string, w int, at time.Duration) domain.Trade {
	return domain.Trade{
		ID:        id,
		Wallet:    wallet(w),
		MarketID:  "0xcond",
		Side:      domain.SideBuy,
		SizeUSD:   42.5,
		Price:     0.61,
		Timestamp: t0.Add(at),
		Outcome:   domain.OutcomeWin,
	}
}

func makeGroup(score float64, risk domain.RiskLevel, members ...int) domain.Group {
	g := domain.Group{
		ID:                fmt.Sprintf("g-%v", score),
		CoordinationScore: score,
		RiskLevel:         risk,
		Flags:             domain.NewFlagSet(domain.FlagMarketOverlap, domain.FlagTimingCorrelation),
		Edges:             []domain.PairResult{{}},
	}
	for _, m := range members {
		g.Members = append(g.Members, wallet(m))
	}
	return g
}

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_SaveAndLoadTrades(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTrades(ctx, []domain.Trade{
		makeTrade("t2", 1, 2*time.Minute),
		makeTrade("t1", 1, time.Minute),
		makeTrade("t3", 2, 3*time.Hour),
	}))

	all, err := db.LoadTrades(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t1", all[0].ID)
	assert.Equal(t, makeTrade("t1", 1, time.Minute), all[0])

	ranged, err := db.LoadTrades(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	// el extremo es inclusivo
	edge, err := db.LoadTrades(ctx, t0.Add(3*time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, edge, 1)
	assert.Equal(t, "t3", edge[0].ID)
}

func TestSQLiteStorage_SaveTradesIgnoresDuplicates(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveTrades(ctx, []domain.Trade{makeTrade("t1", 1, 0)}))
	dup := makeTrade("t1", 1, time.Hour)
	require.NoError(t, db.SaveTrades(ctx, []domain.Trade{dup, makeTrade("t2", 1, 0)}))

	all, err := db.LoadTrades(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, t0, all[0].Timestamp, "la primera versión se conserva")
}

func TestSQLiteStorage_SaveEmptySlice(t *testing.T) {
	db := newDB(t)
	assert.NoError(t, db.SaveTrades(context.Background(), nil))
	assert.NoError(t, db.SaveGroups(context.Background(), nil))
}

func TestSQLiteStorage_SaveAndGetGroups(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveGroups(ctx, []domain.Group{
		makeGroup(72.5, domain.RiskMedium, 1, 2),
		makeGroup(93, domain.RiskCritical, 3, 4, 5),
	}))

	from := time.Now().UTC().Add(-time.Minute)
	to := time.Now().UTC().Add(time.Minute)
	groups, err := db.GetGroups(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// ordenados por score desc
	assert.Equal(t, 93.0, groups[0].CoordinationScore)
	assert.Equal(t, []string{wallet(3), wallet(4), wallet(5)}, groups[0].Members)
	assert.Equal(t, domain.RiskCritical, groups[0].RiskLevel)
	assert.True(t, groups[0].Flags.Has(domain.FlagTimingCorrelation))
	assert.Equal(t, domain.RiskMedium, groups[1].RiskLevel)
}

func TestSQLiteStorage_UpsertKeepsOneRowPerMemberSet(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveGroups(ctx, []domain.Group{makeGroup(70, domain.RiskMedium, 1, 2)}))
	// cambio < 5% y mismo riesgo: no se reescribe
	require.NoError(t, db.SaveGroups(ctx, []domain.Group{makeGroup(71, domain.RiskMedium, 1, 2)}))
	// sube de nivel: se reescribe
	require.NoError(t, db.SaveGroups(ctx, []domain.Group{makeGroup(80, domain.RiskHigh, 1, 2)}))

	groups, err := db.GetGroups(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 80.0, groups[0].CoordinationScore)
	assert.Equal(t, domain.RiskHigh, groups[0].RiskLevel)
	assert.Equal(t, "g-80", groups[0].ID)
}

func TestSQLiteStorage_GetGroupsOpenRange(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveGroups(ctx, []domain.Group{makeGroup(90, domain.RiskCritical, 1, 2)}))

	groups, err := db.GetGroups(ctx, time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	groups, err = db.GetGroups(ctx, time.Now().Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, groups)
}
