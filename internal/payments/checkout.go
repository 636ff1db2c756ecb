package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/store"
)

// ErrAlreadySubscribed is returned when the user already pays for the plan.
var ErrAlreadySubscribed = errors.New("user already has active subscription")

// CheckoutRepository is the persistence checkout needs.
type CheckoutRepository interface {
	GetSubscriptionByUserID(ctx context.Context, userID string) (*store.Subscription, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) (bool, error)
}

// PromoRedeemer consumes one use of a promo code, and gives it back when
// the checkout fails.
type PromoRedeemer interface {
	Redeem(ctx context.Context, code string) (*store.PromoCode, error)
	Release(ctx context.Context, p *store.PromoCode) error
}

// CheckoutConfig carries the plan and redirect settings.
type CheckoutConfig struct {
	PriceID    string
	TrialDays  int
	SuccessURL string
	CancelURL  string
}

// Checkout creates gateway checkout sessions for users.
type Checkout struct {
	repo    CheckoutRepository
	promos  PromoRedeemer
	gateway Gateway
	cfg     CheckoutConfig
}

// NewCheckout creates a Checkout.
func NewCheckout(repo CheckoutRepository, promos PromoRedeemer, gateway Gateway, cfg CheckoutConfig) *Checkout {
	return &Checkout{repo: repo, promos: promos, gateway: gateway, cfg: cfg}
}

// CreateSession starts a subscription checkout for user. An invalid or
// exhausted promo code is ignored and the session is created without a
// discount. A redeemed use is released if no session is created.
func (c *Checkout) CreateSession(ctx context.Context, user *store.User, promoCode string) (_ *Session, err error) {
	if user == nil {
		return nil, fmt.Errorf("user is nil")
	}
	sub, err := c.repo.GetSubscriptionByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup subscription: %w", err)
	}
	if sub != nil && billing.NormalizeStatus(sub.Status) == billing.StatusActive {
		return nil, ErrAlreadySubscribed
	}

	code := promo.NormalizeCode(promoCode)
	var couponID string
	if code != "" {
		p, rerr := c.promos.Redeem(ctx, code)
		switch {
		case rerr == nil:
			defer func() {
				if err == nil {
					return
				}
				// The caller's ctx may be what failed.
				if relErr := c.promos.Release(context.WithoutCancel(ctx), p); relErr != nil {
					log.Error().Err(relErr).Str("code", p.Code).Msg("Failed to release promo code after checkout error")
				}
			}()
			couponID, err = c.gateway.CreateCoupon(ctx, promo.CouponSpec(p))
			if err != nil {
				return nil, err
			}
		case isPromoRejection(rerr):
			log.Info().Str("user_id", user.ID).Str("code", code).Err(rerr).Msg("Ignoring unusable promo code at checkout")
			code = ""
		default:
			return nil, rerr
		}
	}

	customerID := ""
	if sub != nil {
		customerID = sub.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = c.gateway.CreateCustomer(ctx, CustomerRequest{
			Email: user.Email,
			Name:  user.FullName,
			Metadata: map[string]string{
				"user_id": user.ID,
				"company": user.CompanyName,
			},
		})
		if err != nil {
			return nil, err
		}
		if sub != nil {
			if _, err = c.repo.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
				return nil, fmt.Errorf("store customer id: %w", err)
			}
		}
	}

	session, err := c.gateway.CreateCheckoutSession(ctx, SessionRequest{
		CustomerID:        customerID,
		PriceID:           c.cfg.PriceID,
		TrialDays:         c.cfg.TrialDays,
		CouponID:          couponID,
		SuccessURL:        c.cfg.SuccessURL,
		CancelURL:         c.cfg.CancelURL,
		ClientReferenceID: user.ID,
		Metadata: map[string]string{
			"user_id":    user.ID,
			"promo_code": code,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", user.ID).
		Str("customer_id", customerID).
		Str("session_id", session.ID).
		Bool("discounted", couponID != "").
		Msg("Checkout session created")
	return session, nil
}

func isPromoRejection(err error) bool {
	return errors.Is(err, promo.ErrNotFound) ||
		errors.Is(err, promo.ErrNotYetValid) ||
		errors.Is(err, promo.ErrExpired) ||
		errors.Is(err, promo.ErrUsageLimit)
}
