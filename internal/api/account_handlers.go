package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rcourtman/shopbot/internal/auth"
	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/store"
)

type registerRequest struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	FullName        string `json:"full_name" validate:"required,max=255"`
	CompanyName     string `json:"company_name" validate:"max=255"`
	ShopifyStoreURL string `json:"shopify_store_url" validate:"omitempty,url,max=2048"`
	PromoCode       string `json:"promo_code" validate:"max=64"`
}

type registerResponse struct {
	Message      string  `json:"message"`
	UserID       string  `json:"user_id"`
	Email        string  `json:"email"`
	AccessToken  string  `json:"access_token"`
	PromoApplied bool    `json:"promo_applied"`
	Discount     float64 `json:"discount"`
}

// promoError maps promo failures. notFound is the message for unknown codes,
// which differs between registration and validation.
func promoError(err error, notFoundStatus int, notFound string) (int, string) {
	switch {
	case errors.Is(err, promo.ErrNotFound), errors.Is(err, promo.ErrNotYetValid):
		return notFoundStatus, notFound
	case errors.Is(err, promo.ErrExpired):
		return http.StatusBadRequest, "Promo code has expired"
	case errors.Is(err, promo.ErrUsageLimit):
		return http.StatusBadRequest, "Promo code usage limit reached"
	case errors.Is(err, promo.ErrExists):
		return http.StatusBadRequest, "Promo code already exists"
	case errors.Is(err, promo.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func handleRegister(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		existing, err := deps.Store.GetUserByEmail(ctx, req.Email)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		if existing != nil {
			writeError(w, http.StatusBadRequest, "Email already registered")
			return
		}

		var discount float64
		if strings.TrimSpace(req.PromoCode) != "" {
			p, err := deps.Promos.Validate(ctx, req.PromoCode)
			if err != nil {
				status, msg := promoError(err, http.StatusBadRequest, "Invalid promo code")
				writeError(w, status, msg)
				return
			}
			discount = p.DiscountValue
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		user := &store.User{
			Email:           req.Email,
			PasswordHash:    hash,
			FullName:        strings.TrimSpace(req.FullName),
			CompanyName:     strings.TrimSpace(req.CompanyName),
			ShopifyStoreURL: strings.TrimSpace(req.ShopifyStoreURL),
			IsActive:        true,
		}
		if err := deps.Store.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				writeError(w, http.StatusBadRequest, "Email already registered")
				return
			}
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}

		token, err := deps.Tokens.Issue(user)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}

		logger := logging.FromContext(ctx)
		logger.Info().Str("user_id", user.ID).Bool("promo", discount > 0).Msg("User registered")

		writeJSON(w, http.StatusOK, registerResponse{
			Message:      "User registered successfully",
			UserID:       user.ID,
			Email:        user.Email,
			AccessToken:  token,
			PromoApplied: strings.TrimSpace(req.PromoCode) != "",
			Discount:     discount,
		})
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
}

func handleLogin(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		user, err := deps.Store.GetUserByEmail(r.Context(), req.Email)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}
		if !user.IsActive {
			writeError(w, http.StatusForbidden, "Account is disabled")
			return
		}

		token, err := deps.Tokens.Issue(user)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", UserID: user.ID, Email: user.Email})
	}
}

type subscriptionResponse struct {
	Status                string     `json:"status"`
	HasAccess             bool       `json:"has_access"`
	PlanName              string     `json:"plan_name"`
	MonthlyPrice          float64    `json:"monthly_price"`
	DiscountPercent       float64    `json:"discount_percent"`
	MonthlyMessageLimit   int        `json:"monthly_message_limit"`
	MessagesUsedThisMonth int        `json:"messages_used_this_month"`
	TrialEndsAt           *time.Time `json:"trial_ends_at"`
	CurrentPeriodStart    *time.Time `json:"current_period_start"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end"`
	CanceledAt            *time.Time `json:"canceled_at"`
}

func newSubscriptionResponse(sub *store.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	status := billing.NormalizeStatus(sub.Status)
	return &subscriptionResponse{
		Status:                string(status),
		HasAccess:             billing.HasAccess(status),
		PlanName:              sub.PlanName,
		MonthlyPrice:          sub.MonthlyPrice,
		DiscountPercent:       sub.DiscountPercent,
		MonthlyMessageLimit:   sub.MonthlyMessageLimit,
		MessagesUsedThisMonth: sub.MessagesUsedThisMonth,
		TrialEndsAt:           sub.TrialEndsAt,
		CurrentPeriodStart:    sub.CurrentPeriodStart,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		CanceledAt:            sub.CanceledAt,
	}
}

type meResponse struct {
	ID              string                `json:"id"`
	Email           string                `json:"email"`
	FullName        string                `json:"full_name"`
	CompanyName     string                `json:"company_name"`
	ShopifyStoreURL string                `json:"shopify_store_url"`
	IsVerified      bool                  `json:"is_verified"`
	CreatedAt       time.Time             `json:"created_at"`
	Subscription    *subscriptionResponse `json:"subscription"`
}

// currentUser loads the authenticated user, writing 404 when it is gone.
func currentUser(deps *Deps, w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	user, err := deps.Store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeInternalError(w, r, err, deps.Config.Debug)
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return nil, false
	}
	return user, true
}

func handleMe(deps *Deps) http.HandlerFunc {
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
		writeJSON(w, http.StatusOK, meResponse{
			ID:              user.ID,
			Email:           user.Email,
			FullName:        user.FullName,
			CompanyName:     user.CompanyName,
			ShopifyStoreURL: user.ShopifyStoreURL,
			IsVerified:      user.IsVerified,
			CreatedAt:       user.CreatedAt,
			Subscription:    newSubscriptionResponse(sub),
		})
	}
}
