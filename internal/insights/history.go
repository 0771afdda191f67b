package insights

import (
	"context"
	"time"

	"github.com/arborstack/arbor-fdr/internal/models"
)

// HistoryFunc adapts a function to the History interface.
type HistoryFunc func(ctx context.Context, since time.Time) ([]models.SignalEvent, error)

// SignalHistory implements History.
func (f HistoryFunc) SignalHistory(ctx context.Context, since time.Time) ([]models.SignalEvent, error) {
	return f(ctx, since)
}
