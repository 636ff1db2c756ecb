package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shopbot/internal/store"
)

// SubscriptionRepository is the persistence the reconciler needs.
type SubscriptionRepository interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	GetSubscriptionByUserID(ctx context.Context, userID string) (*store.Subscription, error)
	GetSubscriptionByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*store.Subscription, error)
	GetSubscriptionByStripeCustomerID(ctx context.Context, customerID string) (*store.Subscription, error)
	SaveSubscription(ctx context.Context, sub *store.Subscription) error
	GetPromoCodeByCode(ctx context.Context, code string) (*store.PromoCode, error)
}

// Reconciler applies gateway webhook payloads to local subscription rows.
// Each handler commits at most one row.
type Reconciler struct {
	repo      SubscriptionRepository
	trialDays int
	now       func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo SubscriptionRepository, trialDays int) *Reconciler {
	return &Reconciler{
		repo:      repo,
		trialDays: trialDays,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleCheckoutCompleted starts the trial for the user who paid.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	userID, err := r.resolveCheckoutUser(ctx, session)
	if err != nil {
		return err
	}
	if userID == "" {
		log.Warn().
			Str("session_id", session.ID).
			Str("customer_id", session.Customer).
			Msg("checkout.session.completed: no user reference, ignoring")
		return nil
	}

	user, err := r.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if user == nil {
		log.Warn().Str("user_id", userID).Str("session_id", session.ID).Msg("checkout.session.completed: user not found")
		return nil
	}

	sub, err := r.repo.GetSubscriptionByUserID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("lookup subscription for user %s: %w", user.ID, err)
	}
	if sub == nil {
		sub = &store.Subscription{UserID: user.ID}
	}

	now := r.now()
	if customerID := strings.TrimSpace(session.Customer); customerID != "" {
		sub.StripeCustomerID = customerID
	}
	if subID := strings.TrimSpace(session.Subscription); subID != "" {
		sub.StripeSubscriptionID = subID
	}
	if r.trialDays > 0 {
		trialEnds := now.Add(time.Duration(r.trialDays) * 24 * time.Hour)
		sub.Status = string(StatusTrialing)
		sub.TrialEndsAt = &trialEnds
	} else {
		sub.Status = string(StatusActive)
	}
	sub.CanceledAt = nil
	if sub.UsagePeriodStart == nil {
		sub.UsagePeriodStart = &now
	}

	if code := strings.TrimSpace(session.Metadata["promo_code"]); code != "" {
		p, err := r.repo.GetPromoCodeByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("lookup promo code %s: %w", code, err)
		}
		if p != nil {
			sub.PromoCodeID = p.ID
			if p.DiscountType == store.DiscountPercent {
				sub.DiscountPercent = p.DiscountValue
			}
		}
	}

	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription for user %s: %w", user.ID, err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("customer_id", sub.StripeCustomerID).
		Str("subscription_id", sub.StripeSubscriptionID).
		Str("status", sub.Status).
		Msg("Checkout completed, subscription started")
	return nil
}

// resolveCheckoutUser prefers session metadata, then client_reference_id,
// then an existing subscription for the customer.
func (r *Reconciler) resolveCheckoutUser(ctx context.Context, session CheckoutSession) (string, error) {
	if id := strings.TrimSpace(session.Metadata["user_id"]); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(session.ClientReferenceID); id != "" {
		return id, nil
	}
	sub, err := r.repo.GetSubscriptionByStripeCustomerID(ctx, strings.TrimSpace(session.Customer))
	if err != nil {
		return "", fmt.Errorf("lookup subscription by customer: %w", err)
	}
	if sub == nil {
		return "", nil
	}
	return sub.UserID, nil
}

// HandleSubscriptionUpdated syncs status, price and billing period. It also
// serves customer.subscription.created.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, gs Subscription) error {
	sub, err := r.findSubscription(ctx, gs.ID, gs.Customer)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warn().
			Str("subscription_id", gs.ID).
			Str("customer_id", gs.Customer).
			Msg("subscription.updated: subscription not found")
		return nil
	}

	status := NormalizeStatus(gs.Status)
	sub.Status = string(status)
	if id := strings.TrimSpace(gs.ID); id != "" {
		sub.StripeSubscriptionID = id
	}
	if customerID := strings.TrimSpace(gs.Customer); customerID != "" {
		sub.StripeCustomerID = customerID
	}
	if priceID := gs.FirstPriceID(); priceID != "" {
		sub.StripePriceID = priceID
	}
	if trialEnd := unixPtr(gs.TrialEnd); trialEnd != nil {
		sub.TrialEndsAt = trialEnd
	}

	// The store zeroes usage when the period start moves forward.
	start, end := gs.Period()
	if start != nil {
		sub.CurrentPeriodStart = start
	}
	if end != nil {
		sub.CurrentPeriodEnd = end
	}

	if status == StatusCanceled {
		if canceled := unixPtr(gs.CanceledAt); canceled != nil {
			sub.CanceledAt = canceled
		} else if sub.CanceledAt == nil {
			now := r.now()
			sub.CanceledAt = &now
		}
	}

	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ID, err)
	}

	log.Info().
		Str("user_id", sub.UserID).
		Str("subscription_id", sub.StripeSubscriptionID).
		Str("status", sub.Status).
		Msg("Subscription updated")
	return nil
}

// HandleSubscriptionDeleted marks the subscription canceled.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, gs Subscription) error {
	sub, err := r.findSubscription(ctx, gs.ID, gs.Customer)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warn().
			Str("subscription_id", gs.ID).
			Str("customer_id", gs.Customer).
			Msg("subscription.deleted: subscription not found")
		return nil
	}

	now := r.now()
	sub.Status = string(StatusCanceled)
	sub.CanceledAt = &now
	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ID, err)
	}

	log.Info().
		Str("user_id", sub.UserID).
		Str("subscription_id", sub.StripeSubscriptionID).
		Msg("Subscription canceled")
	return nil
}

// HandleInvoicePaymentFailed moves the subscription to past_due, which
// starts the grace period.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, inv Invoice) error {
	sub, err := r.findSubscription(ctx, inv.SubscriptionID(), inv.Customer)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warn().
			Str("invoice_id", inv.ID).
			Str("customer_id", inv.Customer).
			Msg("invoice.payment_failed: subscription not found")
		return nil
	}
	if sub.Status == string(StatusCanceled) {
		return nil
	}

	sub.Status = string(StatusPastDue)
	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription %s: %w", sub.ID, err)
	}

	log.Warn().
		Str("user_id", sub.UserID).
		Str("invoice_id", inv.ID).
		Msg("Invoice payment failed, subscription past due")
	return nil
}

func (r *Reconciler) findSubscription(ctx context.Context, stripeSubID, customerID string) (*store.Subscription, error) {
	stripeSubID = strings.TrimSpace(stripeSubID)
	customerID = strings.TrimSpace(customerID)

	sub, err := r.repo.GetSubscriptionByStripeSubscriptionID(ctx, stripeSubID)
	if err != nil {
		return nil, fmt.Errorf("lookup subscription %s: %w", stripeSubID, err)
	}
	if sub != nil {
		return sub, nil
	}
	sub, err = r.repo.GetSubscriptionByStripeCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("lookup subscription by customer %s: %w", customerID, err)
	}
	return sub, nil
}
