// Package billing owns the subscription lifecycle: status mapping, webhook
// reconciliation, grace-period enforcement and the chat usage gate.
package billing

import "strings"

// Status is a local subscription status.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

// KnownStatuses lists every status in a stable order.
var KnownStatuses = []Status{
	StatusTrialing,
	StatusActive,
	StatusPastDue,
	StatusCanceled,
	StatusUnpaid,
	StatusIncomplete,
	StatusIncompleteExpired,
	StatusPaused,
}

// NormalizeStatus converts a gateway subscription status string to a local
// Status. Unknown statuses fail closed (incomplete_expired).
func NormalizeStatus(status string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(status)))
	for _, known := range KnownStatuses {
		if s == known {
			return s
		}
	}
	return StatusIncompleteExpired
}

// HasAccess reports whether a subscription in this status may use the bot.
// past_due keeps access while the grace period runs.
func HasAccess(status Status) bool {
	switch status {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}
