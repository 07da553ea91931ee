package model

import "time"

// Notification is a review item surfaced to back-office staff when an
// order email could not be turned into a rental automatically
// (failed parse, ambiguous match, unknown vehicle, persistence failure).
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// HistoryID links this notification to the originating history entry.
	HistoryID string `json:"history_id"`

	// MessageUID is the mailbox UID of the email needing review.
	MessageUID uint32 `json:"message_uid"`

	// Reason is the machine-readable cause (Review* constants).
	Reason string `json:"reason"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Read indicates whether staff have seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}

// Reasons a processed email is flagged for manual review.
const (
	ReviewParseFailed    = "parse_failed"
	ReviewParsePartial   = "parse_partial"
	ReviewMatchAmbiguous = "match_ambiguous"
	ReviewMatchNotFound  = "match_not_found"
	ReviewRentalFailed   = "rental_create_failed"
)
