package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/shopbot/internal/metrics"
	"github.com/rcourtman/shopbot/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createUser(t *testing.T, db *store.DB, email string) *store.User {
	t.Helper()
	u := &store.User{Email: email, PasswordHash: "x", IsActive: true}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]Status{
		"active":             StatusActive,
		" TRIALING ":         StatusTrialing,
		"past_due":           StatusPastDue,
		"canceled":           StatusCanceled,
		"unpaid":             StatusUnpaid,
		"paused":             StatusPaused,
		"incomplete":         StatusIncomplete,
		"incomplete_expired": StatusIncompleteExpired,
		"something_new":      StatusIncompleteExpired,
		"":                   StatusIncompleteExpired,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeStatus(in), "NormalizeStatus(%q)", in)
	}
}

func TestHasAccess(t *testing.T) {
	t.Parallel()

	allowed := map[Status]bool{
		StatusTrialing: true, StatusActive: true, StatusPastDue: true,
		StatusCanceled: false, StatusUnpaid: false, StatusIncomplete: false,
		StatusIncompleteExpired: false, StatusPaused: false,
	}
	for status, want := range allowed {
		assert.Equal(t, want, HasAccess(status), "HasAccess(%s)", status)
	}
}

func TestSubscriptionPeriodFallsBackToItems(t *testing.T) {
	t.Parallel()

	var top Subscription
	require.NoError(t, json.Unmarshal([]byte(`{"current_period_start": 100, "current_period_end": 200,
		"items": {"data": [{"current_period_start": 1, "current_period_end": 2, "price": {"id": "price_x"}}]}}`), &top))
	start, end := top.Period()
	require.NotNil(t, start)
	assert.Equal(t, int64(100), start.Unix())
	assert.Equal(t, int64(200), end.Unix())
	assert.Equal(t, "price_x", top.FirstPriceID())

	var items Subscription
	require.NoError(t, json.Unmarshal([]byte(`{"items": {"data": [{"price": {"id": ""}}, {"current_period_start": 300, "current_period_end": 400}]}}`), &items))
	start, end = items.Period()
	require.NotNil(t, start)
	assert.Equal(t, int64(300), start.Unix())
	assert.Equal(t, int64(400), end.Unix())

	var none Subscription
	start, end = none.Period()
	assert.Nil(t, start)
	assert.Nil(t, end)
}

func TestInvoiceSubscriptionIDShapes(t *testing.T) {
	t.Parallel()

	var legacy, parent Invoice
	require.NoError(t, json.Unmarshal([]byte(`{"subscription": "sub_old"}`), &legacy))
	require.NoError(t, json.Unmarshal([]byte(`{"parent": {"subscription_details": {"subscription": "sub_new"}}}`), &parent))
	assert.Equal(t, "sub_old", legacy.SubscriptionID())
	assert.Equal(t, "sub_new", parent.SubscriptionID())
}

func TestHandleCheckoutCompletedStartsTrial(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "buyer@example.com")
	require.NoError(t, db.CreatePromoCode(ctx, &store.PromoCode{Code: "SAVE20", DiscountValue: 20, IsActive: true}))

	r := NewReconciler(db, 14)
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	err := r.HandleCheckoutCompleted(ctx, CheckoutSession{
		ID:           "cs_1",
		Customer:     "cus_1",
		Subscription: "sub_1",
		Metadata:     map[string]string{"user_id": u.ID, "promo_code": "save20"},
	})
	require.NoError(t, err)

	sub, err := db.GetSubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "trialing", sub.Status)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, fixed.Add(14*24*time.Hour), *sub.TrialEndsAt)
	assert.NotEmpty(t, sub.PromoCodeID)
	assert.Equal(t, 20.0, sub.DiscountPercent)
}

func TestHandleCheckoutCompletedResolvesUserFallbacks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "ref@example.com")
	r := NewReconciler(db, 0)

	require.NoError(t, r.HandleCheckoutCompleted(ctx, CheckoutSession{ID: "cs_ref", Customer: "cus_ref", ClientReferenceID: u.ID}))
	sub, err := db.GetSubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "active", sub.Status, "no trial days means immediately active")

	// A second checkout carrying only the customer id finds the same user.
	require.NoError(t, r.HandleCheckoutCompleted(ctx, CheckoutSession{ID: "cs_cust", Customer: "cus_ref", Subscription: "sub_ref2"}))
	sub, err = db.GetSubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_ref2", sub.StripeSubscriptionID)
}

func TestHandleCheckoutCompletedUnknownUserIsIgnored(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	r := NewReconciler(db, 14)

	require.NoError(t, r.HandleCheckoutCompleted(ctx, CheckoutSession{ID: "cs_x", Metadata: map[string]string{"user_id": "ghost"}}))
	require.NoError(t, r.HandleCheckoutCompleted(ctx, CheckoutSession{ID: "cs_y"}))

	subs, err := db.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHandleSubscriptionUpdatedSyncsPeriodAndResetsUsage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "sync@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, StripeCustomerID: "cus_s", StripeSubscriptionID: "sub_s"}))
	require.NoError(t, db.IncrementMessageUsage(ctx, u.ID))

	r := NewReconciler(db, 14)

	var first Subscription
	require.NoError(t, json.Unmarshal([]byte(`{"id": "sub_s", "customer": "cus_s", "status": "active",
		"current_period_start": 1000, "current_period_end": 2000,
		"items": {"data": [{"price": {"id": "price_basic"}}]}}`), &first))
	require.NoError(t, r.HandleSubscriptionUpdated(ctx, first))

	sub, err := db.GetSubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "price_basic", sub.StripePriceID)
	assert.Equal(t, int64(1000), sub.CurrentPeriodStart.Unix())
	assert.Equal(t, int64(2000), sub.CurrentPeriodEnd.Unix())
	assert.Equal(t, 1, sub.MessagesUsedThisMonth, "first period sync keeps usage")

	// Same period again: no reset.
	require.NoError(t, r.HandleSubscriptionUpdated(ctx, Subscription{ID: "sub_s", Status: "active", CurrentPeriodStart: 1000, CurrentPeriodEnd: 2000}))
	sub, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	assert.Equal(t, 1, sub.MessagesUsedThisMonth)

	// Period advances: usage resets.
	require.NoError(t, r.HandleSubscriptionUpdated(ctx, Subscription{ID: "sub_s", Status: "active", CurrentPeriodStart: 2000, CurrentPeriodEnd: 3000}))
	sub, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	assert.Equal(t, 0, sub.MessagesUsedThisMonth)
	assert.Equal(t, int64(2000), sub.UsagePeriodStart.Unix())
	assert.Equal(t, "price_basic", sub.StripePriceID, "price kept when payload has none")
}

func TestHandleSubscriptionUpdatedUnknownStatusFailsClosed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "closed@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, StripeCustomerID: "cus_c"}))

	r := NewReconciler(db, 14)
	// Lookup falls back to the customer id and records the subscription id.
	require.NoError(t, r.HandleSubscriptionUpdated(ctx, Subscription{ID: "sub_c", Customer: "cus_c", Status: "mystery"}))

	sub, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	assert.Equal(t, "incomplete_expired", sub.Status)
	assert.Equal(t, "sub_c", sub.StripeSubscriptionID)
}

func TestHandleSubscriptionDeletedAndMissingRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "bye@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, StripeCustomerID: "cus_d", StripeSubscriptionID: "sub_d", Status: "active"}))

	r := NewReconciler(db, 14)
	require.NoError(t, r.HandleSubscriptionDeleted(ctx, Subscription{ID: "sub_d"}))

	sub, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	assert.Equal(t, "canceled", sub.Status)
	assert.NotNil(t, sub.CanceledAt)

	assert.NoError(t, r.HandleSubscriptionDeleted(ctx, Subscription{ID: "sub_unknown"}))
	assert.NoError(t, r.HandleSubscriptionUpdated(ctx, Subscription{ID: "sub_unknown", Status: "active"}))
	assert.NoError(t, r.HandleInvoicePaymentFailed(ctx, Invoice{ID: "in_x", Customer: "cus_unknown"}))
}

func TestHandleInvoicePaymentFailed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "late@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, StripeCustomerID: "cus_l", StripeSubscriptionID: "sub_l", Status: "active"}))

	r := NewReconciler(db, 14)
	require.NoError(t, r.HandleInvoicePaymentFailed(ctx, Invoice{ID: "in_1", Subscription: "sub_l"}))
	sub, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	assert.Equal(t, "past_due", sub.Status)

	// A canceled subscription stays canceled.
	sub.Status = "canceled"
	require.NoError(t, db.SaveSubscription(ctx, sub))
	require.NoError(t, r.HandleInvoicePaymentFailed(ctx, Invoice{ID: "in_2", Customer: "cus_l"}))
	sub, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	assert.Equal(t, "canceled", sub.Status)
}

func TestGraceEnforcerCancelsExpiredPastDue(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	late := createUser(t, db, "late@example.com")
	ok := createUser(t, db, "ok@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: late.ID, Status: "past_due"}))
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: ok.ID, Status: "active"}))

	g := NewGraceEnforcer(db, 14)

	before := testutil.ToFloat64(metrics.GraceCancellationsTotal)
	assert.Equal(t, 0, g.Enforce(ctx), "fresh past_due stays in grace")

	g.now = func() time.Time { return time.Now().UTC().Add(15 * 24 * time.Hour) }
	assert.Equal(t, 1, g.Enforce(ctx))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GraceCancellationsTotal))

	sub, _ := db.GetSubscriptionByUserID(ctx, late.ID)
	assert.Equal(t, "canceled", sub.Status)
	assert.NotNil(t, sub.CanceledAt)
	other, _ := db.GetSubscriptionByUserID(ctx, ok.ID)
	assert.Equal(t, "active", other.Status)
}

func TestGraceEnforcerRunStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	g := NewGraceEnforcer(db, 14)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestUsageGate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	gate := NewUsageGate(db)

	none := createUser(t, db, "none@example.com")
	assert.ErrorIs(t, gate.Allow(ctx, none.ID), ErrNoSubscription)

	canceled := createUser(t, db, "canceled@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: canceled.ID, Status: "canceled"}))
	assert.ErrorIs(t, gate.Allow(ctx, canceled.ID), ErrInactive)

	limited := createUser(t, db, "limited@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: limited.ID, Status: "past_due", MonthlyMessageLimit: 1}))
	assert.NoError(t, gate.Allow(ctx, limited.ID))
	assert.ErrorIs(t, gate.Allow(ctx, limited.ID), ErrQuotaExceeded)
}

type failingCounter struct{}

func (failingCounter) CountSubscriptionsByStatus(context.Context) (map[string]int, error) {
	return nil, errors.New("db down")
}

func TestUpdateStatusGauges(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	for i, status := range []string{"active", "active", "trialing", "legacy_state"} {
		u := createUser(t, db, string(rune('a'+i))+"@example.com")
		require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, Status: status}))
	}

	metrics.SubscriptionsByStatus.WithLabelValues("canceled").Set(99)
	counts := UpdateStatusGauges(ctx, db)
	assert.Equal(t, 2, counts["active"])

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SubscriptionsByStatus.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SubscriptionsByStatus.WithLabelValues("trialing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SubscriptionsByStatus.WithLabelValues("canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SubscriptionsByStatus.WithLabelValues("legacy_state")))

	assert.Nil(t, UpdateStatusGauges(ctx, failingCounter{}))
}

// usageDuringSync bills a chat message between the reconciler's lookup and
// its save.
type usageDuringSync struct {
	*store.DB
	userID string
}

func (u usageDuringSync) GetSubscriptionByStripeSubscriptionID(ctx context.Context, id string) (*store.Subscription, error) {
	sub, err := u.DB.GetSubscriptionByStripeSubscriptionID(ctx, id)
	if err == nil && sub != nil {
		err = u.DB.IncrementMessageUsage(ctx, u.userID)
	}
	return sub, err
}

func TestHandleSubscriptionUpdatedKeepsConcurrentUsage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "busy@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, StripeCustomerID: "cus_b", StripeSubscriptionID: "sub_b", Status: "active"}))

	r := NewReconciler(usageDuringSync{DB: db, userID: u.ID}, 14)
	gs := Subscription{ID: "sub_b", Status: "active", CurrentPeriodStart: 1000, CurrentPeriodEnd: 2000}
	require.NoError(t, r.HandleSubscriptionUpdated(ctx, gs))
	require.NoError(t, r.HandleSubscriptionUpdated(ctx, gs))

	sub, err := db.GetSubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.MessagesUsedThisMonth)
}

// paidDuringSweep applies a successful payment after the grace sweep has
// listed past_due rows.
type paidDuringSweep struct {
	*store.DB
	r *Reconciler
}

func (p paidDuringSweep) ListSubscriptionsByStatus(ctx context.Context, status string) ([]*store.Subscription, error) {
	subs, err := p.DB.ListSubscriptionsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if err := p.r.HandleSubscriptionUpdated(ctx, Subscription{ID: sub.StripeSubscriptionID, Status: "active"}); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func TestGraceEnforcerSkipsSubscriptionPaidMidSweep(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createUser(t, db, "paid@example.com")
	require.NoError(t, db.SaveSubscription(ctx, &store.Subscription{UserID: u.ID, StripeCustomerID: "cus_p", StripeSubscriptionID: "sub_p", Status: "past_due"}))

	g := NewGraceEnforcer(paidDuringSweep{DB: db, r: NewReconciler(db, 14)}, 14)
	g.now = func() time.Time { return time.Now().UTC().Add(15 * 24 * time.Hour) }

	before := testutil.ToFloat64(metrics.GraceCancellationsTotal)
	assert.Equal(t, 0, g.Enforce(ctx))
	assert.Equal(t, before, testutil.ToFloat64(metrics.GraceCancellationsTotal))

	sub, err := db.GetSubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.Nil(t, sub.CanceledAt)
	assert.Nil(t, sub.PastDueSince)
}

func TestGraceStartPrefersPastDueSince(t *testing.T) {
	t.Parallel()

	since := time.Unix(1000, 0).UTC()
	updated := time.Unix(5000, 0).UTC()
	assert.Equal(t, since, graceStart(&store.Subscription{PastDueSince: &since, UpdatedAt: updated}))
	assert.Equal(t, updated, graceStart(&store.Subscription{UpdatedAt: updated}))
}
