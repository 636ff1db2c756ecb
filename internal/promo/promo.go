// Package promo validates, redeems and creates promotional discount codes.
package promo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shopbot/internal/metrics"
	"github.com/rcourtman/shopbot/internal/store"
)

var (
	ErrNotFound    = errors.New("promo code not found")
	ErrNotYetValid = errors.New("promo code not yet valid")
	ErrExpired     = errors.New("promo code expired")
	ErrUsageLimit  = errors.New("promo code usage limit reached")
	ErrExists      = errors.New("promo code already exists")
	ErrInvalid     = errors.New("invalid promo code parameters")
)

// DefaultValidDays is how long admin-created codes stay valid when no
// explicit window is given.
const DefaultValidDays = 90

// Repository is the persistence the service needs.
type Repository interface {
	GetPromoCodeByCode(ctx context.Context, code string) (*store.PromoCode, error)
	CreatePromoCode(ctx context.Context, p *store.PromoCode) error
	RedeemPromoCode(ctx context.Context, id string) error
	ReleasePromoCode(ctx context.Context, id string) error
	ListPromoCodes(ctx context.Context) ([]*store.PromoCode, error)
}

// NormalizeCode trims and upper-cases a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check applies the validity rules in order: presence and activity, start
// date, expiry, then usage limit.
func Check(p *store.PromoCode, now time.Time) error {
	if p == nil || !p.IsActive {
		return ErrNotFound
	}
	if !p.ValidFrom.IsZero() && p.ValidFrom.After(now) {
		return ErrNotYetValid
	}
	if p.ValidUntil != nil && p.ValidUntil.Before(now) {
		return ErrExpired
	}
	if p.MaxUses != nil && p.TimesUsed >= *p.MaxUses {
		return ErrUsageLimit
	}
	return nil
}

// Service implements promo-code operations on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Validate loads a code and checks it is usable right now.
func (s *Service) Validate(ctx context.Context, code string) (*store.PromoCode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	p, err := s.repo.GetPromoCodeByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load promo code %s: %w", code, err)
	}
	if err := Check(p, s.now()); err != nil {
		return nil, err
	}
	return p, nil
}

// Redeem validates the code and consumes one use of it.
func (s *Service) Redeem(ctx context.Context, code string) (*store.PromoCode, error) {
	p, err := s.Validate(ctx, code)
	if err != nil {
		metrics.PromoRedemptionsTotal.WithLabelValues(outcomeFor(err)).Inc()
		return nil, err
	}
	if err := s.repo.RedeemPromoCode(ctx, p.ID); err != nil {
		if errors.Is(err, store.ErrLimitReached) {
			metrics.PromoRedemptionsTotal.WithLabelValues("limit_reached").Inc()
			return nil, ErrUsageLimit
		}
		metrics.PromoRedemptionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("redeem promo code %s: %w", p.Code, err)
	}
	p.TimesUsed++
	metrics.PromoRedemptionsTotal.WithLabelValues("redeemed").Inc()
	log.Info().Str("code", p.Code).Int("times_used", p.TimesUsed).Msg("Promo code redeemed")
	return p, nil
}

// Release returns a use consumed by Redeem when the purchase it was taken
// for did not go through.
func (s *Service) Release(ctx context.Context, p *store.PromoCode) error {
	if err := s.repo.ReleasePromoCode(ctx, p.ID); err != nil {
		return fmt.Errorf("release promo code %s: %w", p.Code, err)
	}
	p.TimesUsed--
	metrics.PromoRedemptionsTotal.WithLabelValues("released").Inc()
	log.Info().Str("code", p.Code).Int("times_used", p.TimesUsed).Msg("Promo code use released")
	return nil
}

// List returns every promo code.
func (s *Service) List(ctx context.Context) ([]*store.PromoCode, error) {
	return s.repo.ListPromoCodes(ctx)
}

// CreateParams describes an admin-created code.
type CreateParams struct {
	Code           string
	DiscountType   string // "percent" (default) or "fixed"
	DiscountValue  float64
	Description    string
	MaxUses        *int
	DurationMonths *int
	FirstMonthOnly bool
	ValidDays      int // 0 means DefaultValidDays
}

// Create validates params and stores a new active code.
func (s *Service) Create(ctx context.Context, params CreateParams) (*store.PromoCode, error) {
	code := NormalizeCode(params.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalid)
	}
	discountType := strings.ToLower(strings.TrimSpace(params.DiscountType))
	if discountType == "" {
		discountType = store.DiscountPercent
	}
	switch discountType {
	case store.DiscountPercent:
		if params.DiscountValue <= 0 || params.DiscountValue > 100 {
			return nil, fmt.Errorf("%w: percent discount must be between 0 and 100", ErrInvalid)
		}
	case store.DiscountFixed:
		if params.DiscountValue <= 0 {
			return nil, fmt.Errorf("%w: fixed discount must be greater than 0", ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: unknown discount type %q", ErrInvalid, params.DiscountType)
	}
	if params.MaxUses != nil && *params.MaxUses <= 0 {
		return nil, fmt.Errorf("%w: max_uses must be greater than 0", ErrInvalid)
	}
	if params.DurationMonths != nil && *params.DurationMonths <= 0 {
		return nil, fmt.Errorf("%w: duration_months must be greater than 0", ErrInvalid)
	}
	validDays := params.ValidDays
	if validDays == 0 {
		validDays = DefaultValidDays
	}
	if validDays < 0 {
		return nil, fmt.Errorf("%w: valid_days must be greater than 0", ErrInvalid)
	}

	now := s.now().UTC()
	until := now.Add(time.Duration(validDays) * 24 * time.Hour)
	p := &store.PromoCode{
		Code:           code,
		DiscountType:   discountType,
		DiscountValue:  params.DiscountValue,
		MaxUses:        params.MaxUses,
		IsActive:       true,
		ValidFrom:      now,
		ValidUntil:     &until,
		FirstMonthOnly: params.FirstMonthOnly,
		DurationMonths: params.DurationMonths,
		Description:    strings.TrimSpace(params.Description),
	}
	if err := s.repo.CreatePromoCode(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("create promo code %s: %w", code, err)
	}
	log.Info().Str("code", code).Str("discount", DiscountLabel(p)).Msg("Promo code created")
	return p, nil
}

// DiscountLabel renders "20% off" or "$15 off".
func DiscountLabel(p *store.PromoCode) string {
	if p.DiscountType == store.DiscountFixed {
		return "$" + formatNumber(p.DiscountValue) + " off"
	}
	return formatNumber(p.DiscountValue) + "% off"
}

// Coupon is the gateway coupon derived from a promo code.
type Coupon struct {
	Name             string
	PercentOff       float64 // set for percent codes
	AmountOffCents   int64   // set for fixed codes
	Currency         string
	Duration         string // "once" or "repeating"
	DurationInMonths int64
}

// CouponSpec derives the gateway coupon for a promo code.
func CouponSpec(p *store.PromoCode) Coupon {
	c := Coupon{
		Name:     p.Code + " - " + DiscountLabel(p),
		Duration: "once",
	}
	if p.DiscountType == store.DiscountFixed {
		c.AmountOffCents = int64(math.Round(p.DiscountValue * 100))
		c.Currency = "usd"
	} else {
		c.PercentOff = p.DiscountValue
	}
	if p.DurationMonths != nil && *p.DurationMonths > 0 && !p.FirstMonthOnly {
		c.Duration = "repeating"
		c.DurationInMonths = int64(*p.DurationMonths)
	}
	return c
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired), errors.Is(err, ErrNotYetValid):
		return "expired"
	case errors.Is(err, ErrUsageLimit):
		return "limit_reached"
	default:
		return "error"
	}
}
