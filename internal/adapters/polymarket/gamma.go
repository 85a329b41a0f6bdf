package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

const (
	gammaMarketsPath  = "/markets"
	gammaConditionMax = 20
)

// resolveOutcomes marca WIN/LOSS los trades de mercados ya resueltos según Gamma.
// labels[i] es la etiqueta de outcome del trade i. Los mercados abiertos o sin
// datos en Gamma quedan PENDING; un fallo de Gamma no invalida los trades.
func (c *Client) resolveOutcomes(ctx context.Context, trades []domain.Trade, labels []string) {
	conditionIDs := uniqueMarkets(trades)
	if len(conditionIDs) == 0 {
		return
	}

	winners := c.fetchWinners(ctx, conditionIDs)
	resolved := 0
	for i := range trades {
		winner, ok := winners[trades[i].MarketID]
		if !ok {
			continue
		}
		trades[i].Outcome = tradeOutcome(trades[i].Side, labels[i], winner)
		resolved++
	}

	slog.Debug("gamma resolution complete",
		"markets", len(conditionIDs),
		"resolved_markets", len(winners),
		"resolved_trades", resolved,
	)
}

// fetchWinners devuelve conditionID → etiqueta ganadora para los mercados cerrados.
func (c *Client) fetchWinners(ctx context.Context, conditionIDs []string) map[string]string {
	winners := make(map[string]string, len(conditionIDs))

	for i := 0; i < len(conditionIDs); i += gammaConditionMax {
		end := min(i+gammaConditionMax, len(conditionIDs))
		batch := conditionIDs[i:end]

		q := url.Values{}
		for _, id := range batch {
			q.Add("condition_ids", id)
		}
		q.Set("limit", strconv.Itoa(gammaConditionMax))

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			slog.Debug("gamma batch failed, skipping",
				"batch", fmt.Sprintf("%d-%d", i, end),
				"err", err,
			)
			continue
		}

		for _, gm := range resp {
			if winner, ok := winningOutcome(gm); ok {
				winners[gm.ConditionID] = winner
			}
		}
	}

	return winners
}

func uniqueMarkets(trades []domain.Trade) []string {
	seen := make(map[string]struct{}, len(trades))
	var out []string
	for _, t := range trades {
		if _, ok := seen[t.MarketID]; ok {
			continue
		}
		seen[t.MarketID] = struct{}{}
		out = append(out, t.MarketID)
	}
	return out
}

// tradeOutcome: comprar el outcome ganador o vender el perdedor es WIN.
func tradeOutcome(side domain.Side, label, winner string) domain.Outcome {
	if label == "" {
		return domain.OutcomePending
	}
	boughtWinner := strings.EqualFold(label, winner)
	if side == domain.SideSell {
		boughtWinner = !boughtWinner
	}
	if boughtWinner {
		return domain.OutcomeWin
	}
	return domain.OutcomeLoss
}
