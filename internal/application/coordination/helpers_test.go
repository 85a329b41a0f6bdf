package coordination

import (
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0.Add(24 * time.Hour) }

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func trade(id string, w int, market string, side domain.Side, size float64, at time.Duration) domain.Trade {
	return domain.Trade{
		ID:        id,
		Wallet:    wallet(w),
		MarketID:  market,
		Side:      side,
		SizeUSD:   size,
		Price:     0.5,
		Timestamp: t0.Add(at),
	}
}

// mirrorTrades genera rondas en las que todas las wallets compran lo mismo
// con menos de 500ms de diferencia. Las rondas están separadas 10 minutos y
// rotan sobre 5 mercados con el prefijo dado.
func mirrorTrades(prefix string, wallets []int, rounds int) []domain.Trade {
	var out []domain.Trade
	for r := 0; r < rounds; r++ {
		market := fmt.Sprintf("%s-%d", prefix, r%5)
		base := time.Duration(r) * 10 * time.Minute
		for k, w := range wallets {
			out = append(out, trade(
				fmt.Sprintf("%s-%d-%d", prefix, r, w),
				w, market, domain.SideBuy, 100,
				base+time.Duration(k)*100*time.Millisecond,
			))
		}
	}
	return out
}

// washTrades: a compra y b vende el mismo tamaño en el mismo mercado, 2s después.
func washTrades(a, b, rounds int) []domain.Trade {
	var out []domain.Trade
	for r := 0; r < rounds; r++ {
		base := time.Duration(r) * 10 * time.Minute
		out = append(out,
			trade(fmt.Sprintf("wash-a-%d", r), a, "wash-market", domain.SideBuy, 250, base),
			trade(fmt.Sprintf("wash-b-%d", r), b, "wash-market", domain.SideSell, 250, base+2*time.Second),
		)
	}
	return out
}

// copyTrades: follower replica cada trade de leader 30s después.
func copyTrades(leader, follower, n int) []domain.Trade {
	var out []domain.Trade
	for i := 0; i < n; i++ {
		market := fmt.Sprintf("copy-%d", i%5)
		side := domain.SideBuy
		if i%3 == 0 {
			side = domain.SideSell
		}
		base := time.Duration(i) * 15 * time.Minute
		size := float64(50 + 10*i)
		out = append(out,
			trade(fmt.Sprintf("lead-%d", i), leader, market, side, size, base),
			trade(fmt.Sprintf("follow-%d", i), follower, market, side, size, base+30*time.Second),
		)
	}
	return out
}

func tradesOf(trades []domain.Trade, w int) []domain.Trade {
	var out []domain.Trade
	for _, t := range trades {
		if t.Wallet == wallet(w) {
			out = append(out, t)
		}
	}
	return out
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Concurrency = 4
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	e, err := NewEngine(cfg, nil, opts...)
	require.NoError(t, err)
	return e
}

func newTestSimilarity() *Similarity {
	s := NewSimilarity(DefaultConfig())
	s.now = fixedClock
	return s
}
