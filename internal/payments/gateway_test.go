package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/rcourtman/shopbot/internal/promo"
)

func TestStripeGatewayCreateCustomer(t *testing.T) {
	var got *stripe.CustomerParams
	g := &StripeGateway{createCustomer: func(params *stripe.CustomerParams) (*stripe.Customer, error) {
		got = params
		return &stripe.Customer{ID: "cus_123"}, nil
	}}

	id, err := g.CreateCustomer(context.Background(), CustomerRequest{
		Email:    "owner@example.com",
		Name:     "Owner",
		Metadata: map[string]string{"user_id": "u1", "company": "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)
	require.NotNil(t, got)
	assert.Equal(t, "owner@example.com", *got.Email)
	assert.Equal(t, "Owner", *got.Name)
	assert.Equal(t, "u1", got.Metadata["user_id"])
	assert.Equal(t, "Acme", got.Metadata["company"])
}

func TestStripeGatewayCreateCouponShapes(t *testing.T) {
	var got *stripe.CouponParams
	g := &StripeGateway{createCoupon: func(params *stripe.CouponParams) (*stripe.Coupon, error) {
		got = params
		return &stripe.Coupon{ID: "co_1"}, nil
	}}

	id, err := g.CreateCoupon(context.Background(), promo.Coupon{Name: "HALF - 50% off", PercentOff: 50, Duration: "repeating", DurationInMonths: 3})
	require.NoError(t, err)
	assert.Equal(t, "co_1", id)
	assert.Equal(t, 50.0, *got.PercentOff)
	assert.Equal(t, "repeating", *got.Duration)
	assert.Equal(t, int64(3), *got.DurationInMonths)
	assert.Nil(t, got.AmountOff)

	_, err = g.CreateCoupon(context.Background(), promo.Coupon{Name: "TEN - $10 off", AmountOffCents: 1000, Currency: "usd", Duration: "once"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), *got.AmountOff)
	assert.Equal(t, "usd", *got.Currency)
	assert.Nil(t, got.PercentOff)
	assert.Nil(t, got.DurationInMonths)
}

func TestStripeGatewayCreateCheckoutSession(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	g := &StripeGateway{createCheckoutSession: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = params
		return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
	}}

	s, err := g.CreateCheckoutSession(context.Background(), SessionRequest{
		CustomerID:        "cus_1",
		PriceID:           "price_basic",
		TrialDays:         14,
		CouponID:          "co_1",
		SuccessURL:        "https://app.example/success",
		CancelURL:         "https://app.example/cancel",
		ClientReferenceID: "u1",
		Metadata:          map[string]string{"user_id": "u1", "promo_code": "SAVE20"},
	})
	require.NoError(t, err)
	assert.Equal(t, &Session{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, s)

	assert.Equal(t, "subscription", *got.Mode)
	assert.Equal(t, "cus_1", *got.Customer)
	assert.Equal(t, "card", *got.PaymentMethodTypes[0])
	assert.Equal(t, "u1", *got.ClientReferenceID)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "price_basic", *got.LineItems[0].Price)
	assert.Equal(t, int64(1), *got.LineItems[0].Quantity)
	assert.Equal(t, int64(14), *got.SubscriptionData.TrialPeriodDays)
	assert.Equal(t, "u1", got.SubscriptionData.Metadata["user_id"])
	assert.Equal(t, "SAVE20", got.Metadata["promo_code"])
	require.Len(t, got.Discounts, 1)
	assert.Equal(t, "co_1", *got.Discounts[0].Coupon)
}

func TestStripeGatewayErrors(t *testing.T) {
	boom := errors.New("stripe down")
	g := &StripeGateway{
		createCustomer: func(*stripe.CustomerParams) (*stripe.Customer, error) { return nil, boom },
		createCoupon:   func(*stripe.CouponParams) (*stripe.Coupon, error) { return &stripe.Coupon{}, nil },
		createCheckoutSession: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return &stripe.CheckoutSession{ID: "cs_no_url"}, nil
		},
	}

	_, err := g.CreateCustomer(context.Background(), CustomerRequest{Email: "x@example.com"})
	assert.ErrorIs(t, err, boom)

	_, err = g.CreateCoupon(context.Background(), promo.Coupon{PercentOff: 10, Duration: "once"})
	assert.ErrorContains(t, err, "empty response")

	_, err = g.CreateCheckoutSession(context.Background(), SessionRequest{})
	assert.ErrorContains(t, err, "empty response")
}
