package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/metrics"
	"github.com/rcourtman/shopbot/internal/store"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// EventReconciler applies decoded webhook payloads.
type EventReconciler interface {
	HandleCheckoutCompleted(ctx context.Context, session billing.CheckoutSession) error
	HandleSubscriptionUpdated(ctx context.Context, sub billing.Subscription) error
	HandleSubscriptionDeleted(ctx context.Context, sub billing.Subscription) error
	HandleInvoicePaymentFailed(ctx context.Context, inv billing.Invoice) error
}

// EventLog records which events were processed. An event is claimed before
// it is handled so concurrent redeliveries are applied once.
type EventLog interface {
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (store.EventClaim, error)
	ReleaseWebhookEvent(ctx context.Context, eventID string) error
	MarkWebhookEventProcessed(ctx context.Context, eventID, eventType string) error
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret     string
	reconciler EventReconciler
	events     EventLog
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookStatusResponse struct {
	Status string `json:"status"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, reconciler EventReconciler, events EventLog) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
		events:     events,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "Invalid payload"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "Invalid signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		msg := "Invalid payload"
		if isSignatureError(err) {
			msg = "Invalid signature"
		}
		log.Warn().Err(err).Msg("Stripe webhook rejected")
		writeJSON(w, status, webhookErrorResponse{Error: msg})
		return
	}
	eventType = string(event.Type)

	ctx := r.Context()
	if event.ID != "" {
		claim, err := h.events.ClaimWebhookEvent(ctx, event.ID, eventType)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Stripe webhook dedupe claim failed")
			status = http.StatusInternalServerError
			writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
			return
		}
		switch claim {
		case store.EventAlreadyProcessed:
			log.Info().Str("event_id", event.ID).Str("type", eventType).Msg("Stripe webhook already processed")
			writeJSON(w, status, webhookStatusResponse{Status: "success"})
			return
		case store.EventInFlight:
			// Non-2xx so the gateway redelivers if the other attempt fails.
			log.Info().Str("event_id", event.ID).Str("type", eventType).Msg("Stripe webhook already in flight")
			status = http.StatusConflict
			writeJSON(w, status, webhookErrorResponse{Error: "event is being processed"})
			return
		}
	}

	if err := h.handleEvent(ctx, &event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("Stripe webhook processing failed")
		if event.ID != "" {
			if relErr := h.events.ReleaseWebhookEvent(context.WithoutCancel(ctx), event.ID); relErr != nil {
				log.Warn().Err(relErr).Str("event_id", event.ID).Msg("Failed to release Stripe event claim")
			}
		}
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	if event.ID != "" {
		if err := h.events.MarkWebhookEventProcessed(ctx, event.ID, eventType); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to record processed Stripe event")
		}
	}

	status = http.StatusOK
	writeJSON(w, status, webhookStatusResponse{Status: "success"})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session billing.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.reconciler.HandleCheckoutCompleted(ctx, session)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub billing.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.reconciler.HandleSubscriptionUpdated(ctx, sub)

	case "customer.subscription.deleted":
		var sub billing.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.reconciler.HandleSubscriptionDeleted(ctx, sub)

	case "invoice.payment_failed":
		var inv billing.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.reconciler.HandleInvoicePaymentFailed(ctx, inv)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("payments: encode webhook response")
	}
}
