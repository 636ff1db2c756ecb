package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Scripted is an in-memory Provider that replays canned replies.
// When the script runs out the last reply is repeated.
type Scripted struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []ChatRequest
	model    string
	delay    time.Duration
}

// NewScripted returns a provider that answers with replies in order.
func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies, model: "scripted-model"}
}

// FailNext queues errors returned before any further reply.
func (s *Scripted) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// SetDelay makes every later call wait d before answering.
func (s *Scripted) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Name returns the provider name.
func (s *Scripted) Name() string { return "scripted" }

// Chat records req and returns the next scripted reply.
func (s *Scripted) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if len(s.replies) == 0 {
		return nil, errors.New("scripted provider has no replies")
	}

	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	return &ChatResponse{
		Content:      reply,
		Model:        model,
		StopReason:   "end_turn",
		InputTokens:  len(req.System)/4 + 1,
		OutputTokens: len(reply)/4 + 1,
	}, nil
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
