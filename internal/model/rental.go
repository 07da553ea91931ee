package model

import "time"

// RentalStatusPending is the status every rental created by the
// ingestion pipeline starts in. Confirmation is owned by the booking
// subsystem, not by this pipeline.
const RentalStatusPending = "pending"

// PendingRental is an unconfirmed reservation created from a matched
// order email. The pipeline constructs and persists it exactly once;
// ownership then transfers to the booking subsystem.
type PendingRental struct {
	// ID is the unique identifier of the reservation.
	ID string `json:"id"`

	// VehicleID references the matched vehicle in the registry.
	VehicleID string `json:"vehicle_id"`

	// CustomerName is the ordering customer's name as parsed.
	CustomerName string `json:"customer_name"`

	// StartDate is the requested rental start.
	StartDate time.Time `json:"start_date"`

	// EndDate is the requested rental end.
	EndDate time.Time `json:"end_date"`

	// Price is the quoted price from the email, if any.
	Price *float64 `json:"price,omitempty"`

	// Notes holds free-text remarks carried over from the email.
	Notes string `json:"notes"`

	// Status is the reservation status (always pending on creation).
	Status string `json:"status"`

	// Confirmed is false until the booking subsystem confirms.
	Confirmed bool `json:"confirmed"`

	// MessageUID is the mailbox UID of the originating email.
	MessageUID uint32 `json:"message_uid"`

	// CreatedAt is when the pipeline created this reservation.
	CreatedAt time.Time `json:"created_at"`
}
