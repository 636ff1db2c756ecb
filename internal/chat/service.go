// Package chat answers customer messages on behalf of a merchant store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcourtman/shopbot/internal/llm"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/store"
)

var (
	ErrEmptyMessage         = errors.New("message is required")
	ErrInvalidRole          = errors.New("conversation history role must be user or assistant")
	ErrStoreNotFound        = errors.New("store not found")
	ErrStoreInactive        = errors.New("store is inactive")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRating        = errors.New("rating must be between 1 and 5")
	ErrInvalidStatus        = errors.New("status must be resolved or escalated")
	ErrProvider             = errors.New("AI provider error")
)

const defaultHistoryLimit = 50

// Repository is the persistence the chat service needs.
type Repository interface {
	GetStore(ctx context.Context, id string) (*store.MerchantStore, error)
	CreateConversation(ctx context.Context, c *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id, status string) error
	RateConversation(ctx context.Context, id string, rating int) error
	AppendMessage(ctx context.Context, m *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// UsageGate consumes one message of a merchant's monthly allowance.
type UsageGate interface {
	Allow(ctx context.Context, userID string) error
}

// Config holds the model parameters for chat completions.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
}

// Request is one customer message.
type Request struct {
	Message             string        `json:"message" validate:"required,max=8000"`
	ConversationHistory []llm.Message `json:"conversation_history" validate:"omitempty,max=100,dive"`
	StoreContext        *StoreContext `json:"store_context,omitempty"`
	StoreID             string        `json:"store_id,omitempty" validate:"omitempty,max=64"`
	ConversationID      string        `json:"conversation_id,omitempty" validate:"omitempty,max=64"`
	CustomerEmail       string        `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerName        string        `json:"customer_name,omitempty" validate:"omitempty,max=255"`
	CustomerIP          string        `json:"-"`
}

// Reply is the assistant's answer. ConversationID is nil for stateless chats.
type Reply struct {
	Response       string  `json:"response"`
	ConversationID *string `json:"conversation_id"`
}

// Timeline is a conversation with its messages, oldest first.
type Timeline struct {
	Conversation *store.Conversation
	Messages     []*store.Message
}

// Service runs chat completions against merchant context.
type Service struct {
	provider llm.Provider
	repo     Repository
	gate     UsageGate
	cfg      Config
}

// NewService creates a chat Service.
func NewService(provider llm.Provider, repo Repository, gate UsageGate, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Service{provider: provider, repo: repo, gate: gate, cfg: cfg}
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.cfg.Model
}

// SendMessage answers req. With a store ID the conversation is persisted and
// billed to the store owner; without one the call is stateless.
func (s *Service) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.StoreID) == "" {
		sc := DefaultStoreContext()
		if req.StoreContext != nil {
			sc = *req.StoreContext
		}
		return s.stateless(ctx, sc, req)
	}
	return s.stored(ctx, req)
}

// Demo answers req against the demo store, ignoring any supplied context.
func (s *Service) Demo(ctx context.Context, req Request) (*Reply, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.stateless(ctx, DefaultStoreContext(), req)
}

func (s *Service) stateless(ctx context.Context, sc StoreContext, req Request) (*Reply, error) {
	history := append(append([]llm.Message(nil), req.ConversationHistory...), llm.Message{Role: llm.RoleUser, Content: req.Message})
	resp, err := s.complete(ctx, sc, history)
	if err != nil {
		return nil, err
	}
	return &Reply{Response: resp.Content}, nil
}

func (s *Service) stored(ctx context.Context, req Request) (*Reply, error) {
	log := logging.FromContext(ctx)

	merchant, err := s.repo.GetStore(ctx, req.StoreID)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	if merchant == nil {
		return nil, ErrStoreNotFound
	}
	if !merchant.IsActive {
		return nil, ErrStoreInactive
	}

	sc := DefaultStoreContext()
	switch {
	case req.StoreContext != nil:
		sc = *req.StoreContext
	default:
		fromStore, err := StoreContextFromStore(merchant)
		if err != nil {
			log.Warn().Err(err).Str("store_id", merchant.ID).Msg("Falling back to demo store context")
		} else {
			sc = fromStore
		}
	}

	var conv *store.Conversation
	history := req.ConversationHistory
	if req.ConversationID != "" {
		conv, err = s.repo.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil || conv.StoreID != merchant.ID {
			return nil, ErrConversationNotFound
		}
		stored, err := s.repo.ListMessages(ctx, conv.ID, s.cfg.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("load conversation history: %w", err)
		}
		history = make([]llm.Message, 0, len(stored))
		for _, m := range stored {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	if err := s.gate.Allow(ctx, merchant.UserID); err != nil {
		return nil, err
	}

	messages := append(append([]llm.Message(nil), history...), llm.Message{Role: llm.RoleUser, Content: req.Message})
	resp, err := s.complete(ctx, sc, messages)
	if err != nil {
		return nil, err
	}

	if conv == nil {
		conv = &store.Conversation{
			UserID:        merchant.UserID,
			StoreID:       merchant.ID,
			CustomerEmail: req.CustomerEmail,
			CustomerName:  req.CustomerName,
			CustomerIP:    req.CustomerIP,
		}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		log.Info().Str("conversation_id", conv.ID).Str("store_id", merchant.ID).Msg("Conversation started")
	}

	if err := s.repo.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        req.Message,
		ModelUsed:      resp.Model,
		TokensUsed:     resp.InputTokens,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        resp.Content,
		ModelUsed:      resp.Model,
		TokensUsed:     resp.OutputTokens,
	}); err != nil {
		return nil, err
	}

	id := conv.ID
	return &Reply{Response: resp.Content, ConversationID: &id}, nil
}

func (s *Service) complete(ctx context.Context, sc StoreContext, messages []llm.Message) (*llm.ChatResponse, error) {
	temperature := s.cfg.Temperature
	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Model:       s.cfg.Model,
		System:      BuildSystemPrompt(sc),
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return resp, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	for _, m := range req.ConversationHistory {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return ErrInvalidRole
		}
	}
	return nil
}

// Timeline returns a conversation owned by userID with all its messages.
func (s *Service) Timeline(ctx context.Context, userID, conversationID string) (*Timeline, error) {
	conv, err := s.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}
	return &Timeline{Conversation: conv, Messages: msgs}, nil
}

// ResolveConversation marks a conversation resolved.
func (s *Service) ResolveConversation(ctx context.Context, userID, conversationID string) error {
	return s.setStatus(ctx, userID, conversationID, store.ConversationResolved)
}

// EscalateConversation hands a conversation to a human agent.
func (s *Service) EscalateConversation(ctx context.Context, userID, conversationID string) error {
	return s.setStatus(ctx, userID, conversationID, store.ConversationEscalated)
}

// SetStatus applies a named status change; only resolved and escalated are accepted.
func (s *Service) SetStatus(ctx context.Context, userID, conversationID, status string) error {
	switch status {
	case store.ConversationResolved:
		return s.ResolveConversation(ctx, userID, conversationID)
	case store.ConversationEscalated:
		return s.EscalateConversation(ctx, userID, conversationID)
	default:
		return ErrInvalidStatus
	}
}

func (s *Service) setStatus(ctx context.Context, userID, conversationID, status string) error {
	conv, err := s.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateConversationStatus(ctx, conv.ID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	log := logging.FromContext(ctx)
	log.Info().
		Str("conversation_id", conv.ID).
		Str("status", status).
		Msg("Conversation status changed")
	return nil
}

// RateConversation stores the customer's 1-5 rating.
func (s *Service) RateConversation(ctx context.Context, conversationID string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	if err := s.repo.RateConversation(ctx, conversationID, rating); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

func (s *Service) ownedConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil || conv.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}
