package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/pkg/models"
)

// Aggregator answers read-only, time-windowed rollups over the recorded
// usage rows. It carries no state of its own.
type Aggregator struct {
	store store.MetricStore
}

// NewAggregator creates an aggregator over the given metric store.
func NewAggregator(s store.MetricStore) *Aggregator {
	return &Aggregator{store: s}
}

// Stats aggregates the last `days` days of usage metrics.
func (a *Aggregator) Stats(ctx context.Context, days int) (*models.UsageStats, error) {
	if days <= 0 {
		days = 7
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	stats, err := a.store.UsageStats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage stats: %w", err)
	}
	return stats, nil
}
