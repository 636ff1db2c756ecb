package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EventClaim is the outcome of ClaimWebhookEvent.
type EventClaim int

const (
	// EventClaimed means the caller now owns processing of the event.
	EventClaimed EventClaim = iota
	// EventAlreadyProcessed means a previous delivery succeeded.
	EventAlreadyProcessed
	// EventInFlight means another delivery holds an unexpired claim.
	EventInFlight
)

// WebhookClaimLease is how long a claim blocks other deliveries of the same
// event. A claim older than this is treated as abandoned.
const WebhookClaimLease = 5 * time.Minute

const (
	eventProcessing = "processing"
	eventProcessed  = "processed"
)

// ClaimWebhookEvent atomically takes ownership of a gateway event before it
// is handled. The claim is completed by MarkWebhookEventProcessed or given
// up by ReleaseWebhookEvent.
func (s *DB) ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (EventClaim, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, type, status, processed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET processed_at = excluded.processed_at
		WHERE webhook_events.status = ? AND webhook_events.processed_at < ?`,
		eventID, eventType, eventProcessing, now.Unix(),
		eventProcessing, now.Add(-WebhookClaimLease).Unix())
	if err != nil {
		return 0, fmt.Errorf("claim webhook event: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return EventClaimed, nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM webhook_events WHERE event_id = ?`, eventID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Released between the two statements.
		return EventInFlight, nil
	case err != nil:
		return 0, fmt.Errorf("read webhook event: %w", err)
	case status == eventProcessed:
		return EventAlreadyProcessed, nil
	default:
		return EventInFlight, nil
	}
}

// ReleaseWebhookEvent drops an unfinished claim so a redelivery can retry.
func (s *DB) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = ? AND status = ?`, eventID, eventProcessing)
	if err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}

// WebhookEventProcessed reports whether a gateway event was already handled
// successfully.
func (s *DB) WebhookEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_events WHERE event_id = ? AND status = ?`,
		eventID, eventProcessed).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

// MarkWebhookEventProcessed records a successfully handled event, completing
// any claim on it. Marking the same event twice is a no-op.
func (s *DB) MarkWebhookEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, type, status, processed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET status = excluded.status, processed_at = excluded.processed_at
		WHERE webhook_events.status != excluded.status`,
		eventID, eventType, eventProcessed, s.now().Unix())
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}
