// Package report summarizes billing state for operators: promo codes,
// merchant accounts and their subscriptions.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/store"
)

// Repository is the read access the report needs.
type Repository interface {
	ListPromoCodes(ctx context.Context) ([]*store.PromoCode, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	ListSubscriptions(ctx context.Context) ([]*store.Subscription, error)
}

// PromoRow is one promo code line.
type PromoRow struct {
	Code        string
	Discount    string
	TimesUsed   int
	MaxUses     *int
	Active      bool
	ValidUntil  *time.Time
	Description string
}

// Usage renders "3/10" or "3/unlimited".
func (p PromoRow) Usage() string {
	if p.MaxUses == nil {
		return fmt.Sprintf("%d/unlimited", p.TimesUsed)
	}
	return fmt.Sprintf("%d/%d", p.TimesUsed, *p.MaxUses)
}

// UserRow is one merchant account line.
type UserRow struct {
	Email     string
	FullName  string
	Company   string
	StoreURL  string
	CreatedAt time.Time
}

// SubscriptionRow is one subscription line. Email is "Unknown" when the
// owning user no longer exists.
type SubscriptionRow struct {
	Email           string
	Status          string
	PlanName        string
	MonthlyPrice    float64
	DiscountPercent float64
	MessagesUsed    int
	MessageLimit    int
}

// Data is a point-in-time billing snapshot.
type Data struct {
	GeneratedAt   time.Time
	Promos        []PromoRow
	Users         []UserRow
	Subscriptions []SubscriptionRow
}

// StatusCounts tallies subscriptions by normalized status.
func (d *Data) StatusCounts() map[string]int {
	counts := make(map[string]int, len(billing.KnownStatuses))
	for _, s := range d.Subscriptions {
		counts[s.Status]++
	}
	return counts
}

// Collect reads the current billing state from repo.
func Collect(ctx context.Context, repo Repository) (*Data, error) {
	promos, err := repo.ListPromoCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list promo codes: %w", err)
	}
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	subs, err := repo.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	data := &Data{
		GeneratedAt:   time.Now().UTC(),
		Promos:        make([]PromoRow, 0, len(promos)),
		Users:         make([]UserRow, 0, len(users)),
		Subscriptions: make([]SubscriptionRow, 0, len(subs)),
	}
	for _, p := range promos {
		data.Promos = append(data.Promos, PromoRow{
			Code:        p.Code,
			Discount:    promo.DiscountLabel(p),
			TimesUsed:   p.TimesUsed,
			MaxUses:     p.MaxUses,
			Active:      p.IsActive,
			ValidUntil:  p.ValidUntil,
			Description: p.Description,
		})
	}

	emails := make(map[string]string, len(users))
	for _, u := range users {
		emails[u.ID] = u.Email
		data.Users = append(data.Users, UserRow{
			Email:     u.Email,
			FullName:  u.FullName,
			Company:   u.CompanyName,
			StoreURL:  u.ShopifyStoreURL,
			CreatedAt: u.CreatedAt,
		})
	}

	for _, s := range subs {
		email, ok := emails[s.UserID]
		if !ok {
			email = "Unknown"
		}
		data.Subscriptions = append(data.Subscriptions, SubscriptionRow{
			Email:           email,
			Status:          string(billing.NormalizeStatus(s.Status)),
			PlanName:        s.PlanName,
			MonthlyPrice:    s.MonthlyPrice,
			DiscountPercent: s.DiscountPercent,
			MessagesUsed:    s.MessagesUsedThisMonth,
			MessageLimit:    s.MonthlyMessageLimit,
		})
	}
	return data, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format("2006-01-02")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
