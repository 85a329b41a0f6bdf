package ports

import (
	"context"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Notifier presenta los grupos detectados al usuario.
type Notifier interface {
	// Notify muestra el resultado de un batch ordenado por score.
	// En la implementación de consola, imprime una tabla formateada.
	Notify(ctx context.Context, result domain.BatchResult) error

	// NotifyAnalysis muestra el resultado del análisis de una wallet.
	NotifyAnalysis(ctx context.Context, result domain.AnalysisResult) error
}
