package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shopbot/internal/metrics"
	"github.com/rcourtman/shopbot/internal/store"
)

const graceCheckInterval = 1 * time.Hour

// GraceRepository is the persistence the grace enforcer needs.
type GraceRepository interface {
	ListSubscriptionsByStatus(ctx context.Context, status string) ([]*store.Subscription, error)
	CancelPastDueSubscription(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

// GraceEnforcer periodically cancels subscriptions that have been past_due
// for longer than the grace period.
type GraceEnforcer struct {
	repo      GraceRepository
	graceDays int
	now       func() time.Time
}

// NewGraceEnforcer creates a GraceEnforcer.
func NewGraceEnforcer(repo GraceRepository, graceDays int) *GraceEnforcer {
	return &GraceEnforcer{
		repo:      repo,
		graceDays: graceDays,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the enforcement loop. It blocks until ctx is cancelled.
func (g *GraceEnforcer) Run(ctx context.Context) {
	log.Info().Int("grace_days", g.graceDays).Msg("Grace period enforcer started")

	ticker := time.NewTicker(graceCheckInterval)
	defer ticker.Stop()

	g.Enforce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Grace period enforcer stopped")
			return
		case <-ticker.C:
			g.Enforce(ctx)
		}
	}
}

// Enforce runs one sweep and returns how many subscriptions were canceled.
func (g *GraceEnforcer) Enforce(ctx context.Context) int {
	subs, err := g.repo.ListSubscriptionsByStatus(ctx, string(StatusPastDue))
	if err != nil {
		log.Error().Err(err).Msg("Grace enforcer: failed to list past_due subscriptions")
		return 0
	}

	now := g.now()
	cutoff := now.Add(-time.Duration(g.graceDays) * 24 * time.Hour)
	canceled := 0

	for _, sub := range subs {
		if ctx.Err() != nil {
			return canceled
		}
		if sub == nil || graceStart(sub).After(cutoff) {
			continue
		}

		// The row may have been paid or updated since it was listed.
		ok, err := g.repo.CancelPastDueSubscription(ctx, sub.ID, cutoff)
		if err != nil {
			log.Error().Err(err).Str("user_id", sub.UserID).Msg("Grace enforcer: failed to cancel subscription")
			continue
		}
		if !ok {
			log.Debug().Str("user_id", sub.UserID).Msg("Grace enforcer: subscription changed before cancel, skipping")
			continue
		}

		log.Warn().
			Str("user_id", sub.UserID).
			Str("subscription_id", sub.StripeSubscriptionID).
			Int("grace_days_exceeded", g.graceDays).
			Msg("Grace period expired, subscription canceled")
		metrics.GraceCancellationsTotal.Inc()
		canceled++
	}
	return canceled
}

// graceStart is when the subscription entered past_due. Rows written before
// that was tracked fall back to their last update.
func graceStart(sub *store.Subscription) time.Time {
	if sub.PastDueSince != nil {
		return *sub.PastDueSince
	}
	return sub.UpdatedAt
}
