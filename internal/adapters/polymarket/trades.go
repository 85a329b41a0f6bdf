package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

const (
	tradesPerPage  = 500
	tradesMaxPages = 10
)

// FetchWalletTrades obtiene el historial de trades de una wallet usando la Data API pública.
// Los trades más antiguos que since se descartan; la API devuelve primero los más recientes,
// así que la paginación se corta en cuanto aparece uno anterior a since.
// Con Gamma configurado, los trades de mercados ya resueltos salen como WIN/LOSS.
func (c *Client) FetchWalletTrades(ctx context.Context, wallet string, since time.Time) ([]domain.Trade, error) {
	w, err := domain.ParseWallet(wallet)
	if err != nil {
		return nil, fmt.Errorf("data-api.FetchWalletTrades: %w", err)
	}

	var (
		all    []domain.Trade
		labels []string
	)
	for page := 0; page < tradesMaxPages; page++ {
		q := url.Values{}
		q.Set("user", w)
		q.Set("limit", strconv.Itoa(tradesPerPage))
		q.Set("offset", strconv.Itoa(page*tradesPerPage))
		q.Set("takerOnly", "false")

		var resp []rawDataTrade
		if err := c.get(ctx, c.dataLimiter, c.dataBase+"/trades?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("data-api.FetchWalletTrades: %w", err)
		}
		if len(resp) == 0 {
			break
		}

		reachedSince := false
		for _, rt := range resp {
			t, ok := toDomainTrade(rt, w)
			if !ok {
				continue
			}
			if !since.IsZero() && t.Timestamp.Before(since) {
				reachedSince = true
				continue
			}
			all = append(all, t)
			labels = append(labels, rt.Outcome)
		}

		slog.Debug("fetched trades page",
			"wallet", w,
			"page", page,
			"count", len(resp),
			"total", len(all),
		)

		if reachedSince || len(resp) < tradesPerPage {
			break
		}
	}

	if c.gammaBase != "" {
		c.resolveOutcomes(ctx, all, labels)
	}
	return all, nil
}

