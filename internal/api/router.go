// Package api exposes the ShopBot HTTP surface.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcourtman/shopbot/internal/auth"
	"github.com/rcourtman/shopbot/internal/chat"
	"github.com/rcourtman/shopbot/internal/config"
	"github.com/rcourtman/shopbot/internal/llm"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/payments"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/store"
)

// APIVersion is reported by the root endpoint.
const APIVersion = "0.1.0"

const webhookRateLimit = 120

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *config.Config
	Store    *store.DB
	Chat     *chat.Service
	Promos   *promo.Service
	Checkout *payments.Checkout
	Webhook  http.Handler
	Tokens   *auth.Issuer
	Breaker  *llm.Breaker // optional; reported by /health
	Version  string

	// WSPongWait bounds how long the chat socket waits for the next frame
	// or pong. Zero means 60s.
	WSPongWait time.Duration
}

// NewRouter wires all HTTP handlers onto a chi router.
func NewRouter(deps *Deps) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(recoverJSON(cfg.Debug))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOriginsList(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	adminAuth := auth.AdminKeyMiddleware(cfg.AdminKey)
	userAuth := auth.RequireUser(deps.Tokens)

	r.Get("/", handleRoot(cfg))
	r.Get("/health", handleHealth(deps))
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(deps.Store))
	r.With(adminAuth).Handle("/metrics", promhttp.Handler())
	r.With(adminAuth).Get("/admin/status", handleAdminStatus(deps))

	r.Route("/api", func(r chi.Router) {
		// Stripe retries bursts of webhooks, so it gets its own budget.
		r.With(httprate.LimitByIP(webhookRateLimit, time.Minute)).Post("/payment/webhook", deps.Webhook.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))

			r.Route("/chat", func(r chi.Router) {
				r.Post("/message", handleChatMessage(deps))
				r.Post("/demo", handleChatDemo(deps))
				r.Post("/detect-intent", handleDetectIntent(deps))
				r.Get("/test", handleChatTest(deps))
				r.Get("/ws", handleChatWebSocket(deps))
				r.Post("/conversations/{id}/rating", handleRateConversation(deps))
				r.With(userAuth).Post("/conversations/{id}/status", handleConversationStatus(deps))
				r.With(userAuth).Get("/conversations/{id}", handleConversationTimeline(deps))
			})

			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", handleLogin(deps))
				r.With(userAuth).Get("/me", handleMe(deps))
			})

			r.Route("/payment", func(r chi.Router) {
				r.Post("/register", handleRegister(deps))
				r.With(userAuth).Post("/create-checkout-session", handleCreateCheckoutSession(deps))
				r.Post("/validate-promo", handleValidatePromo(deps))
				r.With(userAuth).Get("/subscription", handleSubscription(deps))
				r.Get("/config", handlePaymentConfig(cfg))
				r.With(adminAuth).Post("/admin/create-promo", handleAdminCreatePromo(deps))
				r.With(adminAuth).Get("/admin/promos", handleAdminListPromos(deps))
			})

			r.With(userAuth).Route("/stores", func(r chi.Router) {
				r.Post("/", handleCreateStore(deps))
				r.Get("/", handleListStores(deps))
			})
		})
	})

	return r
}

// recoverJSON turns panics into a JSON 500.
func recoverJSON(debug bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := logging.FromContext(r.Context())
				logger.Error().
					Interface("panic", rec).
					Bytes("stack", debugStack()).
					Msg("Recovered from panic in HTTP handler")
				writeInternalError(w, r, fmt.Errorf("%v", rec), debug)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
