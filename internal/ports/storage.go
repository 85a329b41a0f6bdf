package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Storage persiste trades y los grupos detectados entre ejecuciones.
type Storage interface {
	// SaveTrades inserta los trades ignorando los que ya existen (por ID).
	SaveTrades(ctx context.Context, trades []domain.Trade) error

	// LoadTrades devuelve los trades con timestamp en [from, to].
	// Un extremo en cero no limita.
	LoadTrades(ctx context.Context, from, to time.Time) ([]domain.Trade, error)

	// SaveGroups persiste los grupos de un análisis.
	SaveGroups(ctx context.Context, groups []domain.Group) error

	// GetGroups devuelve los grupos detectados en el rango de tiempo dado.
	GetGroups(ctx context.Context, from, to time.Time) ([]domain.Group, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
