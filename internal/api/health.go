package api

import (
	"errors"
	"net/http"
	"runtime/debug"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/config"
	"github.com/rcourtman/shopbot/internal/store"
)

var debugStack = debug.Stack

type rootResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

func handleRoot(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rootResponse{
			Status:      "ok",
			Message:     "ShopBot AI API is running",
			Version:     APIVersion,
			Environment: cfg.Environment,
		})
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	API       string `json:"api"`
	Database  string `json:"database"`
	AIService string `json:"ai_service"`
}

func handleHealth(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", API: "operational", Database: "connected", AIService: "ready"}
		status := http.StatusOK

		if err := deps.Store.Ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if deps.Breaker != nil && deps.Breaker.State() == gobreaker.StateOpen {
			resp.AIService = "unavailable"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, status, resp)
	}
}

// handleHealthz returns 200 "ok" unconditionally (liveness probe).
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks database connectivity (readiness probe).
func handleReadyz(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

type promoCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type statusResponse struct {
	Version        string         `json:"version"`
	Environment    string         `json:"environment"`
	TotalUsers     int            `json:"total_users"`
	Subscriptions  map[string]int `json:"subscriptions_by_status"`
	PromoCodes     promoCounts    `json:"promo_codes"`
	AIModel        string         `json:"ai_model"`
	WebhookEnabled bool           `json:"webhook_enabled"`
}

func handleAdminStatus(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		users, err := deps.Store.ListUsers(ctx)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		// Refresh gauges on status calls in addition to the background updater.
		counts := billing.UpdateStatusGauges(ctx, deps.Store)
		if counts == nil {
			writeInternalError(w, r, errors.New("count subscriptions failed"), deps.Config.Debug)
			return
		}

		promos, err := deps.Promos.List(ctx)
		if err != nil {
			writeInternalError(w, r, err, deps.Config.Debug)
			return
		}
		pc := promoCounts{Total: len(promos)}
		for _, p := range promos {
			if p.IsActive {
				pc.Active++
			}
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Version:        deps.Version,
			Environment:    deps.Config.Environment,
			TotalUsers:     len(users),
			Subscriptions:  counts,
			PromoCodes:     pc,
			AIModel:        deps.Config.DefaultAIModel,
			WebhookEnabled: deps.Config.StripeWebhookSecret != "",
		})
	}
}
