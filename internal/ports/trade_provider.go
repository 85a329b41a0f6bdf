package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// TradeProvider obtiene el historial de trades de una wallet.
type TradeProvider interface {
	// FetchWalletTrades devuelve los trades de la wallet posteriores a since
	// (since cero = todo el historial disponible). Pagina internamente.
	FetchWalletTrades(ctx context.Context, wallet string, since time.Time) ([]domain.Trade, error)
}
