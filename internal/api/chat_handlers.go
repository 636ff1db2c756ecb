package api

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rcourtman/shopbot/internal/auth"
	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/chat"
	"github.com/rcourtman/shopbot/internal/llm"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/metrics"
	"github.com/rcourtman/shopbot/internal/store"
)

// chatError maps chat failures to a status and client message. prefix is
// prepended to provider errors.
func chatError(err error, prefix string) (int, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidRole),
		errors.Is(err, chat.ErrInvalidRating),
		errors.Is(err, chat.ErrInvalidStatus):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrStoreNotFound):
		return http.StatusNotFound, "Store not found"
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound, "Conversation not found"
	case errors.Is(err, chat.ErrStoreInactive):
		return http.StatusForbidden, "Store is inactive"
	case errors.Is(err, billing.ErrNoSubscription), errors.Is(err, billing.ErrInactive):
		return http.StatusPaymentRequired, "Subscription inactive"
	case errors.Is(err, billing.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "Monthly message limit reached"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, llm.ErrUnavailable.Error()
	case errors.Is(err, chat.ErrProvider):
		cause := strings.TrimPrefix(err.Error(), chat.ErrProvider.Error()+": ")
		return http.StatusBadGateway, prefix + cause
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func outcomeLabel(status int) string {
	switch {
	case status < 400:
		return "success"
	case status == http.StatusPaymentRequired:
		return "quota"
	case status < 500:
		return "rejected"
	default:
		return "error"
	}
}

type chatFunc func(r *http.Request, req chat.Request) (*chat.Reply, error)

func handleChat(endpoint string, fn chatFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chat.Request
		if err := decodeJSON(w, r, &req); err != nil {
			metrics.ChatRequestsTotal.WithLabelValues(endpoint, "rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.CustomerIP = clientIP(r)

		reply, err := fn(r, req)
		if err != nil {
			status, msg := chatError(err, "Error processing message: ")
			metrics.ChatRequestsTotal.WithLabelValues(endpoint, outcomeLabel(status)).Inc()
			if status >= http.StatusInternalServerError {
				logChatFailure(r, endpoint, err)
			}
			writeError(w, status, msg)
			return
		}
		metrics.ChatRequestsTotal.WithLabelValues(endpoint, "success").Inc()
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleChatMessage(deps *Deps) http.HandlerFunc {
	return handleChat("message", func(r *http.Request, req chat.Request) (*chat.Reply, error) {
		return deps.Chat.SendMessage(r.Context(), req)
	})
}

func handleChatDemo(deps *Deps) http.HandlerFunc {
	return handleChat("demo", func(r *http.Request, req chat.Request) (*chat.Reply, error) {
		return deps.Chat.Demo(r.Context(), req)
	})
}

type intentRequest struct {
	Message string `json:"message" validate:"required,max=8000"`
}

type intentResponse struct {
	Message string `json:"message"`
	Intent  string `json:"intent"`
}

func handleDetectIntent(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := intentRequest{Message: strings.TrimSpace(r.URL.Query().Get("message"))}
		if req.Message == "" {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		intent, err := deps.Chat.DetectIntent(r.Context(), req.Message)
		if err != nil {
			status, msg := chatError(err, "Error detecting intent: ")
			metrics.ChatRequestsTotal.WithLabelValues("detect_intent", outcomeLabel(status)).Inc()
			writeError(w, status, msg)
			return
		}
		metrics.ChatRequestsTotal.WithLabelValues("detect_intent", "success").Inc()
		writeJSON(w, http.StatusOK, intentResponse{Message: req.Message, Intent: intent})
	}
}

func handleChatTest(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"message":  "Chat API is operational",
			"ai_model": deps.Chat.Model(),
		})
	}
}

type ratingRequest struct {
	Rating int `json:"rating" validate:"required,gte=1,lte=5"`
}

func handleRateConversation(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ratingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := deps.Chat.RateConversation(r.Context(), chi.URLParam(r, "id"), req.Rating); err != nil {
			status, msg := chatError(err, "")
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "rating": req.Rating})
	}
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=resolved escalated"`
}

func handleConversationStatus(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Chat.SetStatus(r.Context(), claims.UserID, id, req.Status); err != nil {
			status, msg := chatError(err, "")
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
	}
}

type messageResponse struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ModelUsed  string    `json:"model_used,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	Timestamp  time.Time `json:"timestamp"`
}

type conversationResponse struct {
	ID            string            `json:"id"`
	StoreID       string            `json:"store_id"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty"`
	Status        string            `json:"status"`
	Rating        *int              `json:"rating"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       *time.Time        `json:"ended_at"`
	Messages      []messageResponse `json:"messages"`
}

func handleConversationTimeline(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		tl, err := deps.Chat.Timeline(r.Context(), claims.UserID, chi.URLParam(r, "id"))
		if err != nil {
			status, msg := chatError(err, "")
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, newConversationResponse(tl.Conversation, tl.Messages))
	}
}

func newConversationResponse(c *store.Conversation, msgs []*store.Message) conversationResponse {
	resp := conversationResponse{
		ID:            c.ID,
		StoreID:       c.StoreID,
		CustomerEmail: c.CustomerEmail,
		CustomerName:  c.CustomerName,
		Status:        c.Status,
		Rating:        c.Rating,
		StartedAt:     c.StartedAt,
		EndedAt:       c.EndedAt,
		Messages:      make([]messageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			ModelUsed:  m.ModelUsed,
			TokensUsed: m.TokensUsed,
			Timestamp:  m.Timestamp,
		})
	}
	return resp
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func logChatFailure(r *http.Request, endpoint string, err error) {
	logger := logging.FromContext(r.Context())
	logger.Error().Err(err).Str("endpoint", endpoint).Msg("Chat request failed")
}
