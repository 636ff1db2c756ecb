package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rcourtman/shopbot/internal/metrics"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the circuit is open.
var ErrUnavailable = errors.New("AI service temporarily unavailable")

// BreakerSettings tunes the circuit breaker. Zero values pick defaults.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures before opening (default 5)
	Timeout     time.Duration // open -> half-open delay (default 30s)
	Interval    time.Duration // closed-state count reset (default 1m)
}

// Breaker wraps a Provider with a circuit breaker.
type Breaker struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*ChatResponse]
}

// NewBreaker wraps next.
func NewBreaker(next Provider, settings BreakerSettings) *Breaker {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}

	name := next.Name()
	metrics.LLMCircuitState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*ChatResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		// A caller hanging up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("LLM circuit breaker state change")
			metrics.LLMCircuitState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Breaker{next: next, cb: cb}
}

// Name returns the wrapped provider's name.
func (b *Breaker) Name() string {
	return b.next.Name()
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Chat forwards to the wrapped provider unless the circuit is open.
func (b *Breaker) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := b.cb.Execute(func() (*ChatResponse, error) {
		return b.next.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return resp, err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
