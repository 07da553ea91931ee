package model

import "time"

// EmailHistoryEntry is the immutable audit record written for every
// processed order email. It doubles as the durable dedup ledger: a UID
// with an entry is never processed again, even across restarts.
type EmailHistoryEntry struct {
	// ID is the unique identifier of this entry.
	ID string `json:"id"`

	// MessageUID is the mailbox UID of the processed email.
	MessageUID uint32 `json:"message_uid"`

	// From is the sender of the email.
	From string `json:"from"`

	// Subject is the email subject line.
	Subject string `json:"subject"`

	// ReceivedAt is when the email arrived in the mailbox.
	ReceivedAt time.Time `json:"received_at"`

	// ParseOutcome records the extraction quality (ParseQuality values).
	ParseOutcome string `json:"parse_outcome"`

	// MatchOutcome records the registry match outcome (MatchStatus
	// values), empty when parsing failed before matching.
	MatchOutcome string `json:"match_outcome"`

	// FailureDetail describes why no rental was created, or why rental
	// creation failed after this entry was written.
	FailureDetail string `json:"failure_detail"`

	// CreatedRentalID references the pending rental created from this
	// email, empty when no rental was created.
	CreatedRentalID string `json:"created_rental_id"`

	// ProcessedAt is when the pipeline finished handling the email.
	ProcessedAt time.Time `json:"processed_at"`
}
