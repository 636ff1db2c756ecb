package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const subscriptionColumns = `id, user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id,
	status, plan_name, monthly_price, promo_code_id, discount_percent,
	monthly_message_limit, messages_used_this_month, usage_period_start,
	trial_ends_at, current_period_start, current_period_end, canceled_at,
	past_due_since, created_at, updated_at`

// SaveSubscription inserts the subscription, or updates the existing row
// for the same user. Zero-valued plan fields take their defaults.
//
// An update never copies the usage counter from sub: it is owned by
// IncrementMessageUsage, and is only zeroed here when current_period_start
// moves forward. usage_period_start follows the same rule and is otherwise
// only filled when unset. past_due_since is stamped when the row first
// enters past_due and cleared when it leaves.
func (s *DB) SaveSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	if sub.UserID == "" {
		return fmt.Errorf("subscription user_id is required")
	}
	applySubscriptionDefaults(sub)

	now := s.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save subscription: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	var existingCreated int64
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM subscriptions WHERE user_id = ?`, sub.UserID).
		Scan(&existingID, &existingCreated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if sub.ID == "" {
			sub.ID = newID()
		}
		if sub.Status == SubscriptionStatusPastDue && sub.PastDueSince == nil {
			sub.PastDueSince = &now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.UserID, nullableString(sub.StripeCustomerID), nullableString(sub.StripeSubscriptionID), sub.StripePriceID,
			sub.Status, sub.PlanName, sub.MonthlyPrice, nullableString(sub.PromoCodeID), sub.DiscountPercent,
			sub.MonthlyMessageLimit, sub.MessagesUsedThisMonth, nullableTimeUnix(sub.UsagePeriodStart),
			nullableTimeUnix(sub.TrialEndsAt), nullableTimeUnix(sub.CurrentPeriodStart), nullableTimeUnix(sub.CurrentPeriodEnd),
			nullableTimeUnix(sub.CanceledAt), nullableTimeUnix(sub.PastDueSince), sub.CreatedAt.Unix(), sub.UpdatedAt.Unix(),
		)
	case err != nil:
		return fmt.Errorf("lookup subscription for user %q: %w", sub.UserID, err)
	default:
		sub.ID = existingID
		sub.CreatedAt = time.Unix(existingCreated, 0).UTC()
		periodStart := nullableTimeUnix(sub.CurrentPeriodStart)
		// SET expressions see the row as it was before this statement.
		_, err = tx.ExecContext(ctx, `
			UPDATE subscriptions SET
				stripe_customer_id = ?, stripe_subscription_id = ?, stripe_price_id = ?,
				status = ?, plan_name = ?, monthly_price = ?, promo_code_id = ?, discount_percent = ?,
				monthly_message_limit = ?,
				messages_used_this_month = CASE
					WHEN ? IS NOT NULL AND current_period_start IS NOT NULL AND ? > current_period_start THEN 0
					ELSE messages_used_this_month END,
				usage_period_start = CASE
					WHEN ? IS NOT NULL AND (current_period_start IS NULL OR ? > current_period_start) THEN ?
					ELSE COALESCE(usage_period_start, ?) END,
				past_due_since = CASE
					WHEN ? != 'past_due' THEN NULL
					WHEN status = 'past_due' AND past_due_since IS NOT NULL THEN past_due_since
					ELSE ? END,
				trial_ends_at = ?, current_period_start = ?, current_period_end = ?, canceled_at = ?,
				updated_at = ?
			WHERE id = ?`,
			nullableString(sub.StripeCustomerID), nullableString(sub.StripeSubscriptionID), sub.StripePriceID,
			sub.Status, sub.PlanName, sub.MonthlyPrice, nullableString(sub.PromoCodeID), sub.DiscountPercent,
			sub.MonthlyMessageLimit,
			periodStart, periodStart,
			periodStart, periodStart, periodStart, nullableTimeUnix(sub.UsagePeriodStart),
			sub.Status, now.Unix(),
			nullableTimeUnix(sub.TrialEndsAt), periodStart, nullableTimeUnix(sub.CurrentPeriodEnd),
			nullableTimeUnix(sub.CanceledAt), sub.UpdatedAt.Unix(),
			sub.ID,
		)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("save subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subscription: %w", err)
	}
	return nil
}

// SetStripeCustomerID records the gateway customer on the user's
// subscription when none is stored yet. It reports whether a row changed.
func (s *DB) SetStripeCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET stripe_customer_id = ?, updated_at = ?
		WHERE user_id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')`,
		customerID, s.now().Unix(), userID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, fmt.Errorf("set stripe customer id: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// CancelPastDueSubscription cancels the subscription if it is still
// past_due and entered that state at or before cutoff. It reports whether
// the row was canceled.
func (s *DB) CancelPastDueSubscription(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, canceled_at = ?, past_due_since = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND COALESCE(past_due_since, updated_at) <= ?`,
		SubscriptionStatusCanceled, now, now, id, SubscriptionStatusPastDue, cutoff.Unix())
	if err != nil {
		return false, fmt.Errorf("cancel past_due subscription: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func applySubscriptionDefaults(sub *Subscription) {
	if sub.Status == "" {
		sub.Status = DefaultSubscriptionStatus
	}
	if sub.PlanName == "" {
		sub.PlanName = DefaultPlanName
	}
	if sub.MonthlyPrice == 0 {
		sub.MonthlyPrice = DefaultMonthlyPrice
	}
	if sub.MonthlyMessageLimit == 0 {
		sub.MonthlyMessageLimit = DefaultMonthlyMessageLimit
	}
}

// GetSubscriptionByUserID returns the user's subscription, or nil.
func (s *DB) GetSubscriptionByUserID(ctx context.Context, userID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
	return scanSubscription(row)
}

// GetSubscriptionByStripeSubscriptionID looks up by the gateway subscription ID.
func (s *DB) GetSubscriptionByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*Subscription, error) {
	if stripeSubID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = ?`, stripeSubID)
	return scanSubscription(row)
}

// GetSubscriptionByStripeCustomerID looks up by the gateway customer ID.
func (s *DB) GetSubscriptionByStripeCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	if customerID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_customer_id = ?`, customerID)
	return scanSubscription(row)
}

// ListSubscriptions returns all subscriptions, newest first.
func (s *DB) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListSubscriptionsByStatus returns subscriptions in the given status.
func (s *DB) ListSubscriptionsByStatus(ctx context.Context, status string) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = ? ORDER BY updated_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by status: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// CountSubscriptionsByStatus returns a map of status -> count.
func (s *DB) CountSubscriptionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// IncrementMessageUsage atomically consumes one message from the user's
// monthly allowance. It returns ErrLimitReached when the allowance is spent
// and ErrNotFound when the user has no subscription. updated_at is left
// alone; it tracks billing changes only.
func (s *DB) IncrementMessageUsage(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET messages_used_this_month = messages_used_this_month + 1
		WHERE user_id = ? AND messages_used_this_month < monthly_message_limit`,
		userID)
	if err != nil {
		return fmt.Errorf("increment message usage: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return nil
	}
	sub, err := s.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNotFound
	}
	return ErrLimitReached
}

func scanSubscription(sc scanner) (*Subscription, error) {
	var sub Subscription
	var customerID, stripeSubID, promoID sql.NullString
	var usageStart, trialEnds, periodStart, periodEnd, canceledAt, pastDueSince sql.NullInt64
	var createdAt, updatedAt int64

	err := sc.Scan(
		&sub.ID, &sub.UserID, &customerID, &stripeSubID, &sub.StripePriceID,
		&sub.Status, &sub.PlanName, &sub.MonthlyPrice, &promoID, &sub.DiscountPercent,
		&sub.MonthlyMessageLimit, &sub.MessagesUsedThisMonth, &usageStart,
		&trialEnds, &periodStart, &periodEnd, &canceledAt,
		&pastDueSince, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.StripeCustomerID = customerID.String
	sub.StripeSubscriptionID = stripeSubID.String
	sub.PromoCodeID = promoID.String
	sub.UsagePeriodStart = timeFromNull(usageStart)
	sub.TrialEndsAt = timeFromNull(trialEnds)
	sub.CurrentPeriodStart = timeFromNull(periodStart)
	sub.CurrentPeriodEnd = timeFromNull(periodEnd)
	sub.CanceledAt = timeFromNull(canceledAt)
	sub.PastDueSince = timeFromNull(pastDueSince)
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
