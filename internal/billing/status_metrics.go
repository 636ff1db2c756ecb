package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shopbot/internal/metrics"
)

const statusMetricsInterval = 30 * time.Second

// StatusCounter reports subscription counts per status.
type StatusCounter interface {
	CountSubscriptionsByStatus(ctx context.Context) (map[string]int, error)
}

// RunStatusMetrics refreshes the subscriptions-by-status gauge until ctx ends.
func RunStatusMetrics(ctx context.Context, counter StatusCounter) {
	ticker := time.NewTicker(statusMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	UpdateStatusGauges(ctx, counter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			UpdateStatusGauges(ctx, counter)
		}
	}
}

// UpdateStatusGauges sets the gauge for every known status and any
// unexpected status found in the database. It returns the counts.
func UpdateStatusGauges(ctx context.Context, counter StatusCounter) map[string]int {
	counts, err := counter.CountSubscriptionsByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update subscription status metrics")
		return nil
	}

	seen := make(map[string]struct{}, len(KnownStatuses))
	for _, status := range KnownStatuses {
		seen[string(status)] = struct{}{}
		metrics.SubscriptionsByStatus.WithLabelValues(string(status)).Set(float64(counts[string(status)]))
	}
	for status, c := range counts {
		if _, ok := seen[status]; ok {
			continue
		}
		metrics.SubscriptionsByStatus.WithLabelValues(status).Set(float64(c))
	}
	return counts
}
