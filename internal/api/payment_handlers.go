package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rcourtman/shopbot/internal/config"
	"github.com/rcourtman/shopbot/internal/payments"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/store"
)

type checkoutRequest struct {
	PromoCode string `json:"promo_code" validate:"max=64"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

func handleCreateCheckoutSession(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkoutRequest
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user, ok := currentUser(deps, w, r)
		if !ok {
			return
		}

		session, err := deps.Checkout.CreateSession(r.Context(), user, req.PromoCode)
		if err != nil {
			if errors.Is(err, payments.ErrAlreadySubscribed) {
				writeError(w, http.StatusBadRequest, "User already has active subscription")
				return
			}
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		writeJSON(w, http.StatusOK, checkoutResponse{CheckoutURL: session.URL, SessionID: session.ID})
	}
}

type validatePromoRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type validatePromoResponse struct {
	Valid          bool    `json:"valid"`
	Code           string  `json:"code"`
	DiscountType   string  `json:"discount_type"`
	DiscountValue  float64 `json:"discount_value"`
	Description    string  `json:"description"`
	FirstMonthOnly bool    `json:"first_month_only"`
	DurationMonths *int    `json:"duration_months"`
}

func handleValidatePromo(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validatePromoRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := deps.Promos.Validate(r.Context(), req.Code)
		if err != nil {
			status, msg := promoError(err, http.StatusNotFound, "Promo code not found")
			if status >= http.StatusInternalServerError {
				writeInternalError(w, r, err, deps.Config.Debug)
				return
			}
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, validatePromoResponse{
			Valid:          true,
			Code:           p.Code,
			DiscountType:   p.DiscountType,
			DiscountValue:  p.DiscountValue,
			Description:    p.Description,
			FirstMonthOnly: p.FirstMonthOnly,
			DurationMonths: p.DurationMonths,
		})
	}
}

func handleSubscription(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(deps, w, r)
		if !ok {
			return
		}
		sub, err := deps.Store.GetSubscriptionByUserID(r.Context(), user.ID)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		if sub == nil {
			writeError(w, http.StatusNotFound, "No subscription found")
			return
		}
		writeJSON(w, http.StatusOK, newSubscriptionResponse(sub))
	}
}

type paymentConfigResponse struct {
	PublishableKey string  `json:"publishable_key"`
	PriceID        string  `json:"price_id"`
	TrialDays      int     `json:"trial_days"`
	PlanName       string  `json:"plan_name"`
	MonthlyPrice   float64 `json:"monthly_price"`
}

func handlePaymentConfig(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, paymentConfigResponse{
			PublishableKey: cfg.StripePublishableKey,
			PriceID:        cfg.StripePriceIDBasic,
			TrialDays:      cfg.TrialDays,
			PlanName:       store.DefaultPlanName,
			MonthlyPrice:   store.DefaultMonthlyPrice,
		})
	}
}

type createPromoRequest struct {
	Code           string  `json:"code" validate:"required,max=64"`
	DiscountType   string  `json:"discount_type" validate:"omitempty,oneof=percent fixed"`
	DiscountValue  float64 `json:"discount_value" validate:"required,gt=0"`
	Description    string  `json:"description" validate:"max=500"`
	MaxUses        *int    `json:"max_uses" validate:"omitempty,gt=0"`
	DurationMonths *int    `json:"duration_months" validate:"omitempty,gt=0"`
	FirstMonthOnly bool    `json:"first_month_only"`
	ValidDays      int     `json:"valid_days" validate:"gte=0"`
}

type createPromoResponse struct {
	Message    string     `json:"message"`
	Code       string     `json:"code"`
	Discount   string     `json:"discount"`
	MaxUses    any        `json:"max_uses"`
	ValidUntil *time.Time `json:"valid_until"`
}

// promoRequestFromQuery reads create-promo parameters from the query string.
func promoRequestFromQuery(q url.Values) (createPromoRequest, error) {
	req := createPromoRequest{
		Code:         q.Get("code"),
		DiscountType: q.Get("discount_type"),
		Description:  q.Get("description"),
	}
	var err error
	if v := q.Get("discount_value"); v != "" {
		if req.DiscountValue, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("discount_value must be a number")
		}
	}
	for name, dst := range map[string]**int{"max_uses": &req.MaxUses, "duration_months": &req.DurationMonths} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return req, fmt.Errorf("%s must be an integer", name)
			}
			*dst = &n
		}
	}
	if v := q.Get("valid_days"); v != "" {
		if req.ValidDays, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("valid_days must be an integer")
		}
	}
	if v := q.Get("first_month_only"); v != "" {
		if req.FirstMonthOnly, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("first_month_only must be a boolean")
		}
	}
	return req, validateStruct(&req)
}

func handleAdminCreatePromo(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			req createPromoRequest
			err error
		)
		if r.URL.Query().Get("code") != "" {
			req, err = promoRequestFromQuery(r.URL.Query())
		} else {
			err = decodeJSON(w, r, &req)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		p, err := deps.Promos.Create(r.Context(), promo.CreateParams{
			Code:           req.Code,
			DiscountType:   req.DiscountType,
			DiscountValue:  req.DiscountValue,
			Description:    req.Description,
			MaxUses:        req.MaxUses,
			DurationMonths: req.DurationMonths,
			FirstMonthOnly: req.FirstMonthOnly,
			ValidDays:      req.ValidDays,
		})
		if err != nil {
			status, msg := promoError(err, http.StatusBadRequest, "Invalid promo code")
			if status >= http.StatusInternalServerError {
				writeInternalError(w, r, err, deps.Config.Debug)
				return
			}
			writeError(w, status, msg)
			return
		}

		var maxUses any = "unlimited"
		if p.MaxUses != nil {
			maxUses = *p.MaxUses
		}
		writeJSON(w, http.StatusOK, createPromoResponse{
			Message:    "Promo code created successfully",
			Code:       p.Code,
			Discount:   promo.DiscountLabel(p),
			MaxUses:    maxUses,
			ValidUntil: p.ValidUntil,
		})
	}
}

type promoResponse struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	DiscountType   string     `json:"discount_type"`
	DiscountValue  float64    `json:"discount_value"`
	Discount       string     `json:"discount"`
	MaxUses        *int       `json:"max_uses"`
	TimesUsed      int        `json:"times_used"`
	IsActive       bool       `json:"is_active"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until"`
	FirstMonthOnly bool       `json:"first_month_only"`
	DurationMonths *int       `json:"duration_months"`
	Description    string     `json:"description"`
}

func handleAdminListPromos(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		promos, err := deps.Promos.List(r.Context())
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		out := make([]promoResponse, 0, len(promos))
		for _, p := range promos {
			out = append(out, promoResponse{
				ID:             p.ID,
				Code:           p.Code,
				DiscountType:   p.DiscountType,
				DiscountValue:  p.DiscountValue,
				Discount:       promo.DiscountLabel(p),
				MaxUses:        p.MaxUses,
				TimesUsed:      p.TimesUsed,
				IsActive:       p.IsActive,
				ValidFrom:      p.ValidFrom,
				ValidUntil:     p.ValidUntil,
				FirstMonthOnly: p.FirstMonthOnly,
				DurationMonths: p.DurationMonths,
				Description:    p.Description,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"promo_codes": out, "count": len(out)})
	}
}

func normalizeJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "{}"
	}
	return raw
}
