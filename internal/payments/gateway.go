// Package payments talks to Stripe: customers, coupons, checkout sessions
// and signed webhooks.
package payments

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/customer"

	"github.com/rcourtman/shopbot/internal/promo"
)

// CustomerRequest describes a gateway customer to create.
type CustomerRequest struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// SessionRequest describes a subscription checkout session.
type SessionRequest struct {
	CustomerID        string
	PriceID           string
	TrialDays         int
	CouponID          string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

// Session is the created checkout session.
type Session struct {
	ID  string
	URL string
}

// Gateway is the subset of the payment processor the service uses.
type Gateway interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCoupon(ctx context.Context, c promo.Coupon) (string, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// StripeGateway implements Gateway with stripe-go. The function fields are
// swapped out in tests.
type StripeGateway struct {
	createCustomer        func(params *stripe.CustomerParams) (*stripe.Customer, error)
	createCoupon          func(params *stripe.CouponParams) (*stripe.Coupon, error)
	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeGateway configures the global Stripe key and returns a gateway.
func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = strings.TrimSpace(secretKey)
	return &StripeGateway{
		createCustomer:        customer.New,
		createCoupon:          coupon.New,
		createCheckoutSession: stripesession.New,
	}
}

// CreateCustomer creates a Stripe customer and returns its ID.
func (g *StripeGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		params.Name = stripe.String(name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	c, err := g.createCustomer(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if c == nil || c.ID == "" {
		return "", fmt.Errorf("create stripe customer: empty response")
	}
	return c.ID, nil
}

// CreateCoupon creates a Stripe coupon and returns its ID.
func (g *StripeGateway) CreateCoupon(ctx context.Context, req promo.Coupon) (string, error) {
	params := &stripe.CouponParams{
		Name:     stripe.String(req.Name),
		Duration: stripe.String(req.Duration),
	}
	if req.AmountOffCents > 0 {
		params.AmountOff = stripe.Int64(req.AmountOffCents)
		params.Currency = stripe.String(req.Currency)
	} else {
		params.PercentOff = stripe.Float64(req.PercentOff)
	}
	if req.Duration == string(stripe.CouponDurationRepeating) {
		params.DurationInMonths = stripe.Int64(req.DurationInMonths)
	}
	params.Context = ctx

	c, err := g.createCoupon(params)
	if err != nil {
		return "", fmt.Errorf("create stripe coupon: %w", err)
	}
	if c == nil || c.ID == "" {
		return "", fmt.Errorf("create stripe coupon: empty response")
	}
	return c.ID, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:           stripe.String(req.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.ClientReferenceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
		Metadata: req.Metadata,
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	if req.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(req.CouponID)},
		}
	}
	params.Context = ctx

	s, err := g.createCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, fmt.Errorf("create checkout session: empty response")
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}
