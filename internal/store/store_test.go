package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, email string) *User {
	t.Helper()
	u := &User{Email: email, PasswordHash: "hash", FullName: "Test User", CompanyName: "Acme", IsActive: true}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func intPtr(n int) *int { return &n }

func TestOpenAndPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	u := createTestUser(t, db, "  Owner@Example.COM ")
	if u.ID == "" {
		t.Fatal("expected generated ID")
	}
	if u.Email != "owner@example.com" {
		t.Fatalf("expected lower-cased email, got %q", u.Email)
	}

	got, err := db.GetUserByEmail(ctx, "OWNER@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got == nil || got.ID != u.ID || !got.IsActive || got.IsVerified {
		t.Fatalf("unexpected user %+v", got)
	}

	byID, err := db.GetUserByID(ctx, u.ID)
	if err != nil || byID == nil || byID.CompanyName != "Acme" {
		t.Fatalf("GetUserByID = %+v, %v", byID, err)
	}

	missing, err := db.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing user, got %+v, %v", missing, err)
	}

	dup := &User{Email: "owner@example.com", PasswordHash: "x"}
	if err := db.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	createTestUser(t, db, "second@example.com")
	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestSaveSubscriptionUpsertsByUser(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createTestUser(t, db, "sub@example.com")

	trialEnds := time.Now().Add(14 * 24 * time.Hour).UTC().Truncate(time.Second)
	sub := &Subscription{UserID: u.ID, StripeCustomerID: "cus_1", TrialEndsAt: &trialEnds}
	if err := db.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription insert: %v", err)
	}
	if sub.Status != "trialing" || sub.PlanName != "basic" || sub.MonthlyPrice != 79 || sub.MonthlyMessageLimit != 999999 {
		t.Fatalf("defaults not applied: %+v", sub)
	}

	update := &Subscription{UserID: u.ID, StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Status: "active"}
	if err := db.SaveSubscription(ctx, update); err != nil {
		t.Fatalf("SaveSubscription update: %v", err)
	}
	if update.ID != sub.ID {
		t.Fatalf("expected update to reuse row %s, got %s", sub.ID, update.ID)
	}

	got, err := db.GetSubscriptionByStripeSubscriptionID(ctx, "sub_1")
	if err != nil || got == nil {
		t.Fatalf("GetSubscriptionByStripeSubscriptionID = %+v, %v", got, err)
	}
	if got.Status != "active" || got.UserID != u.ID {
		t.Fatalf("unexpected subscription %+v", got)
	}
	if got.TrialEndsAt != nil {
		t.Fatalf("expected trial end cleared by full update, got %v", got.TrialEndsAt)
	}

	byCustomer, err := db.GetSubscriptionByStripeCustomerID(ctx, "cus_1")
	if err != nil || byCustomer == nil || byCustomer.ID != sub.ID {
		t.Fatalf("GetSubscriptionByStripeCustomerID = %+v, %v", byCustomer, err)
	}

	none, err := db.GetSubscriptionByStripeCustomerID(ctx, "")
	if err != nil || none != nil {
		t.Fatalf("expected nil for blank customer id, got %+v, %v", none, err)
	}
}

func TestSubscriptionEmptyStripeIDsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := createTestUser(t, db, "a@example.com")
	b := createTestUser(t, db, "b@example.com")

	for _, u := range []*User{a, b} {
		if err := db.SaveSubscription(ctx, &Subscription{UserID: u.ID}); err != nil {
			t.Fatalf("SaveSubscription(%s): %v", u.Email, err)
		}
	}

	err := db.SaveSubscription(ctx, &Subscription{UserID: a.ID, StripeCustomerID: "cus_same"})
	if err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	err = db.SaveSubscription(ctx, &Subscription{UserID: b.ID, StripeCustomerID: "cus_same"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for shared customer id, got %v", err)
	}
}

func TestCountAndListByStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	statuses := []string{"trialing", "active", "active", "past_due"}
	for i, status := range statuses {
		u := createTestUser(t, db, string(rune('a'+i))+"@example.com")
		if err := db.SaveSubscription(ctx, &Subscription{UserID: u.ID, Status: status}); err != nil {
			t.Fatalf("SaveSubscription: %v", err)
		}
	}

	counts, err := db.CountSubscriptionsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountSubscriptionsByStatus: %v", err)
	}
	if counts["active"] != 2 || counts["trialing"] != 1 || counts["past_due"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	pastDue, err := db.ListSubscriptionsByStatus(ctx, "past_due")
	if err != nil || len(pastDue) != 1 {
		t.Fatalf("ListSubscriptionsByStatus = %d, %v", len(pastDue), err)
	}

	all, err := db.ListSubscriptions(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("ListSubscriptions = %d, %v", len(all), err)
	}
}

func TestIncrementMessageUsage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createTestUser(t, db, "usage@example.com")

	if err := db.IncrementMessageUsage(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without subscription, got %v", err)
	}

	if err := db.SaveSubscription(ctx, &Subscription{UserID: u.ID, MonthlyMessageLimit: 2}); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := db.IncrementMessageUsage(ctx, u.ID); err != nil {
			t.Fatalf("IncrementMessageUsage #%d: %v", i+1, err)
		}
	}
	if err := db.IncrementMessageUsage(ctx, u.ID); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}

	sub, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	if sub.MessagesUsedThisMonth != 2 {
		t.Fatalf("expected 2 messages used, got %d", sub.MessagesUsedThisMonth)
	}
}

func TestPromoCodes(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	until := time.Now().Add(90 * 24 * time.Hour)
	p := &PromoCode{Code: " launch50 ", DiscountValue: 50, MaxUses: intPtr(2), IsActive: true, ValidUntil: &until, DurationMonths: intPtr(3)}
	if err := db.CreatePromoCode(ctx, p); err != nil {
		t.Fatalf("CreatePromoCode: %v", err)
	}
	if p.Code != "LAUNCH50" || p.DiscountType != DiscountPercent {
		t.Fatalf("unexpected normalisation %+v", p)
	}

	if err := db.CreatePromoCode(ctx, &PromoCode{Code: "Launch50", DiscountValue: 10}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := db.GetPromoCodeByCode(ctx, "launch50")
	if err != nil || got == nil {
		t.Fatalf("GetPromoCodeByCode = %+v, %v", got, err)
	}
	if got.MaxUses == nil || *got.MaxUses != 2 || got.DurationMonths == nil || *got.DurationMonths != 3 {
		t.Fatalf("nullable ints not round-tripped: %+v", got)
	}
	if got.ValidUntil == nil || got.ValidUntil.Unix() != until.Unix() {
		t.Fatalf("valid_until mismatch: %v", got.ValidUntil)
	}

	for i := 0; i < 2; i++ {
		if err := db.RedeemPromoCode(ctx, p.ID); err != nil {
			t.Fatalf("RedeemPromoCode #%d: %v", i+1, err)
		}
	}
	if err := db.RedeemPromoCode(ctx, p.ID); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if err := db.RedeemPromoCode(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := db.ListPromoCodes(ctx)
	if err != nil || len(list) != 1 || list[0].TimesUsed != 2 {
		t.Fatalf("ListPromoCodes = %+v, %v", list, err)
	}
}

func TestRedeemPromoCodeConcurrentNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	p := &PromoCode{Code: "RACE", DiscountValue: 10, MaxUses: intPtr(5), IsActive: true}
	if err := db.CreatePromoCode(ctx, p); err != nil {
		t.Fatalf("CreatePromoCode: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := db.RedeemPromoCode(ctx, p.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected exactly 5 redemptions, got %d", succeeded)
	}
	got, _ := db.GetPromoCodeByID(ctx, p.ID)
	if got.TimesUsed != 5 {
		t.Fatalf("expected times_used 5, got %d", got.TimesUsed)
	}
}

func TestStoresAndConversations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createTestUser(t, db, "merchant@example.com")

	shop := &MerchantStore{UserID: u.ID, StoreName: "Tee Shop", StoreDomain: "tees.example", IsActive: true}
	if err := db.CreateStore(ctx, shop); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if shop.BusinessInfo != "{}" {
		t.Fatalf("expected default business info, got %q", shop.BusinessInfo)
	}
	shops, err := db.ListStoresByUser(ctx, u.ID)
	if err != nil || len(shops) != 1 {
		t.Fatalf("ListStoresByUser = %d, %v", len(shops), err)
	}

	conv := &Conversation{UserID: u.ID, StoreID: shop.ID, CustomerEmail: "buyer@example.com"}
	if err := db.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for _, m := range []*Message{
		{ConversationID: conv.ID, Role: RoleUser, Content: "one"},
		{ConversationID: conv.ID, Role: RoleAssistant, Content: "two", ModelUsed: "claude", TokensUsed: 12},
		{ConversationID: conv.ID, Role: RoleUser, Content: "three"},
	} {
		if err := db.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	last2, err := db.ListMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(last2) != 2 || last2[0].Content != "two" || last2[1].Content != "three" {
		t.Fatalf("expected last two messages oldest first, got %+v", last2)
	}
	all, _ := db.ListMessages(ctx, conv.ID, 0)
	if len(all) != 3 || all[0].Content != "one" {
		t.Fatalf("expected full history, got %d", len(all))
	}

	if err := db.RateConversation(ctx, conv.ID, 4); err != nil {
		t.Fatalf("RateConversation: %v", err)
	}
	if err := db.UpdateConversationStatus(ctx, conv.ID, ConversationResolved); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}
	got, err := db.GetConversation(ctx, conv.ID)
	if err != nil || got == nil {
		t.Fatalf("GetConversation = %+v, %v", got, err)
	}
	if got.Status != ConversationResolved || got.EndedAt == nil || got.Rating == nil || *got.Rating != 4 {
		t.Fatalf("unexpected conversation %+v", got)
	}

	if err := db.UpdateConversationStatus(ctx, "missing", ConversationEscalated); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWebhookEvents(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	done, err := db.WebhookEventProcessed(ctx, "evt_1")
	if err != nil || done {
		t.Fatalf("expected unprocessed event, got %v, %v", done, err)
	}
	if err := db.MarkWebhookEventProcessed(ctx, "evt_1", "checkout.session.completed"); err != nil {
		t.Fatalf("MarkWebhookEventProcessed: %v", err)
	}
	if err := db.MarkWebhookEventProcessed(ctx, "evt_1", "checkout.session.completed"); err != nil {
		t.Fatalf("second MarkWebhookEventProcessed: %v", err)
	}
	done, err = db.WebhookEventProcessed(ctx, "evt_1")
	if err != nil || !done {
		t.Fatalf("expected processed event, got %v, %v", done, err)
	}
}

func TestClaimWebhookEvent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return start }

	claim := func(want EventClaim) {
		t.Helper()
		got, err := db.ClaimWebhookEvent(ctx, "evt_c", "invoice.payment_failed")
		if err != nil {
			t.Fatalf("ClaimWebhookEvent: %v", err)
		}
		if got != want {
			t.Fatalf("claim = %v, want %v", got, want)
		}
	}

	claim(EventClaimed)
	claim(EventInFlight)
	if done, _ := db.WebhookEventProcessed(ctx, "evt_c"); done {
		t.Fatal("claimed event reported as processed")
	}

	if err := db.ReleaseWebhookEvent(ctx, "evt_c"); err != nil {
		t.Fatalf("ReleaseWebhookEvent: %v", err)
	}
	claim(EventClaimed)

	// An abandoned claim can be taken over after the lease.
	db.now = func() time.Time { return start.Add(WebhookClaimLease + time.Second) }
	claim(EventClaimed)

	if err := db.MarkWebhookEventProcessed(ctx, "evt_c", "invoice.payment_failed"); err != nil {
		t.Fatalf("MarkWebhookEventProcessed: %v", err)
	}
	claim(EventAlreadyProcessed)
	if err := db.ReleaseWebhookEvent(ctx, "evt_c"); err != nil {
		t.Fatalf("ReleaseWebhookEvent: %v", err)
	}
	if done, _ := db.WebhookEventProcessed(ctx, "evt_c"); !done {
		t.Fatal("release must not drop a processed event")
	}
}

func TestPastDueSinceSurvivesRepeatedSaves(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createTestUser(t, db, "grace@example.com")

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return start }
	if err := db.SaveSubscription(ctx, &Subscription{UserID: u.ID, Status: "active"}); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	got, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	if got.PastDueSince != nil {
		t.Fatalf("active subscription has past_due_since %v", got.PastDueSince)
	}

	got.Status = SubscriptionStatusPastDue
	if err := db.SaveSubscription(ctx, got); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}

	// A retried payment failure ten days later must not restart the clock.
	db.now = func() time.Time { return start.Add(10 * 24 * time.Hour) }
	got, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	if err := db.SaveSubscription(ctx, got); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	got, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	if got.PastDueSince == nil || !got.PastDueSince.Equal(start) {
		t.Fatalf("past_due_since = %v, want %v", got.PastDueSince, start)
	}
	if !got.UpdatedAt.After(start) {
		t.Fatalf("updated_at = %v, want later than %v", got.UpdatedAt, start)
	}

	ok, err := db.CancelPastDueSubscription(ctx, got.ID, start.Add(-time.Hour))
	if err != nil || ok {
		t.Fatalf("cancel before grace ended = %v, %v", ok, err)
	}
	ok, err = db.CancelPastDueSubscription(ctx, got.ID, start.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("cancel after grace ended = %v, %v", ok, err)
	}
	got, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	if got.Status != SubscriptionStatusCanceled || got.CanceledAt == nil || got.PastDueSince != nil {
		t.Fatalf("unexpected canceled row %+v", got)
	}

	ok, err = db.CancelPastDueSubscription(ctx, got.ID, start.Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("second cancel = %v, %v", ok, err)
	}
}

func TestSaveSubscriptionLeavesUsageToCounter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createTestUser(t, db, "usage@example.com")

	if err := db.SaveSubscription(ctx, &Subscription{UserID: u.ID, Status: "active"}); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	stale, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	if err := db.IncrementMessageUsage(ctx, u.ID); err != nil {
		t.Fatalf("IncrementMessageUsage: %v", err)
	}

	p1 := time.Unix(1000, 0).UTC()
	stale.CurrentPeriodStart = &p1
	if err := db.SaveSubscription(ctx, stale); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	got, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	if got.MessagesUsedThisMonth != 1 {
		t.Fatalf("stale save overwrote usage: %d", got.MessagesUsedThisMonth)
	}
	if got.UsagePeriodStart == nil || !got.UsagePeriodStart.Equal(p1) {
		t.Fatalf("usage_period_start = %v, want %v", got.UsagePeriodStart, p1)
	}

	p2 := time.Unix(2000, 0).UTC()
	got.CurrentPeriodStart = &p2
	if err := db.SaveSubscription(ctx, got); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	got, _ = db.GetSubscriptionByUserID(ctx, u.ID)
	if got.MessagesUsedThisMonth != 0 || !got.UsagePeriodStart.Equal(p2) {
		t.Fatalf("period advance: used=%d start=%v", got.MessagesUsedThisMonth, got.UsagePeriodStart)
	}
}

func TestSetStripeCustomerID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := createTestUser(t, db, "cust@example.com")

	ok, err := db.SetStripeCustomerID(ctx, u.ID, "cus_x")
	if err != nil || ok {
		t.Fatalf("no row: %v, %v", ok, err)
	}
	if err := db.SaveSubscription(ctx, &Subscription{UserID: u.ID, Status: "canceled"}); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	ok, err = db.SetStripeCustomerID(ctx, u.ID, "cus_x")
	if err != nil || !ok {
		t.Fatalf("first set: %v, %v", ok, err)
	}
	ok, err = db.SetStripeCustomerID(ctx, u.ID, "cus_y")
	if err != nil || ok {
		t.Fatalf("existing customer must be kept: %v, %v", ok, err)
	}
	got, _ := db.GetSubscriptionByUserID(ctx, u.ID)
	if got.StripeCustomerID != "cus_x" || got.Status != "canceled" {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestOpenAddsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.db.Exec(`ALTER TABLE subscriptions DROP COLUMN past_due_since`); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	_ = db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	ok, err := db.hasColumn("subscriptions", "past_due_since")
	if err != nil || !ok {
		t.Fatalf("past_due_since missing after reopen: %v, %v", ok, err)
	}
}
