package model

import "time"

// RawMessage holds a single order email as fetched from the mailbox.
// It is immutable once fetched and is discarded after processing;
// only the derived history entry is persisted.
type RawMessage struct {
	// UID is the message's stable identifier within the mailbox,
	// used as the dedup key.
	UID uint32

	// From is the sender's display name or address.
	From string

	// Subject is the message subject line.
	Subject string

	// ReceivedAt is when the message arrived in the mailbox.
	ReceivedAt time.Time

	// BodyText is the plain-text body of the message.
	BodyText string
}
