package model

import "time"

// ParseQuality classifies how much of an order email could be extracted.
type ParseQuality string

const (
	// ParseComplete means every required field was extracted.
	ParseComplete ParseQuality = "complete"

	// ParsePartial means some, but not all, required fields were extracted.
	ParsePartial ParseQuality = "partial"

	// ParseFailed means no required field could be recognized.
	ParseFailed ParseQuality = "failed"
)

// Required order fields, used in ParsedOrder.MissingFields.
const (
	FieldCustomerName = "customer_name"
	FieldRentalStart  = "rental_start"
	FieldRentalEnd    = "rental_end"
	FieldVehicle      = "vehicle_identifier"
)

// ParsedOrder is the structured order extracted from a free-text email body.
type ParsedOrder struct {
	// CustomerName is the name of the ordering customer.
	CustomerName string

	// RentalStart is the requested start of the rental period.
	RentalStart time.Time

	// RentalEnd is the requested end of the rental period.
	RentalEnd time.Time

	// VehicleIdentifier is the raw vehicle identifier (usually a license
	// plate) as it appeared in the email, before normalization.
	VehicleIdentifier string

	// Price is the quoted price, if one was present in the email.
	Price *float64

	// Notes holds free-text remarks extracted from the email.
	Notes string

	// Quality classifies the overall extraction outcome.
	Quality ParseQuality

	// MissingFields lists required fields that could not be extracted
	// (Field* constants). Empty when Quality is ParseComplete.
	MissingFields []string

	// Excerpt is a short slice of the original body kept for diagnostics
	// when extraction did not succeed.
	Excerpt string
}
