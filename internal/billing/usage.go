package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcourtman/shopbot/internal/store"
)

var (
	ErrNoSubscription = errors.New("no subscription")
	ErrInactive       = errors.New("subscription inactive")
	ErrQuotaExceeded  = errors.New("monthly message limit reached")
)

// UsageRepository is the persistence the usage gate needs.
type UsageRepository interface {
	GetSubscriptionByUserID(ctx context.Context, userID string) (*store.Subscription, error)
	IncrementMessageUsage(ctx context.Context, userID string) error
}

// UsageGate decides whether a merchant may spend another chat message.
type UsageGate struct {
	repo UsageRepository
}

// NewUsageGate creates a UsageGate.
func NewUsageGate(repo UsageRepository) *UsageGate {
	return &UsageGate{repo: repo}
}

// Allow checks the user's subscription and consumes one message on success.
func (g *UsageGate) Allow(ctx context.Context, userID string) error {
	sub, err := g.repo.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup subscription: %w", err)
	}
	if sub == nil {
		return ErrNoSubscription
	}
	if !HasAccess(NormalizeStatus(sub.Status)) {
		return ErrInactive
	}
	if err := g.repo.IncrementMessageUsage(ctx, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrLimitReached):
			return ErrQuotaExceeded
		case errors.Is(err, store.ErrNotFound):
			return ErrNoSubscription
		}
		return fmt.Errorf("record message usage: %w", err)
	}
	return nil
}
