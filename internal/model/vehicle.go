package model

// VehicleRecord is a read-only snapshot of a vehicle from the registry.
// It is refreshed once per poll cycle and never mutated by the pipeline.
type VehicleRecord struct {
	// ID is the registry identifier of the vehicle.
	ID string `json:"id"`

	// Brand is the vehicle manufacturer.
	Brand string `json:"brand"`

	// Model is the vehicle model name.
	Model string `json:"model"`

	// LicensePlate is the registered plate as entered in the back office.
	LicensePlate string `json:"license_plate"`
}

// MatchStatus is the outcome of resolving a vehicle identifier
// against the registry.
type MatchStatus string

const (
	// MatchFound means exactly one vehicle qualified.
	MatchFound MatchStatus = "matched"

	// MatchAmbiguous means more than one vehicle qualified at the same
	// tier; no automatic selection is made.
	MatchAmbiguous MatchStatus = "ambiguous"

	// MatchNotFound means no vehicle qualified.
	MatchNotFound MatchStatus = "not_found"
)

// MatchResult is the outcome of matching one vehicle identifier against
// a registry snapshot. VehicleID is set exactly when Status is MatchFound.
type MatchResult struct {
	// Status is the match outcome.
	Status MatchStatus

	// VehicleID is the matched vehicle's registry ID, empty unless matched.
	VehicleID string

	// NormalizedKey is the canonical form of the identifier that was
	// matched (uppercased, diacritics folded, non-alphanumerics stripped).
	NormalizedKey string

	// Candidates lists the vehicle IDs that qualified when the match was
	// ambiguous, kept for the manual-review trail.
	Candidates []string
}
