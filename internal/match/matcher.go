// Package match resolves raw vehicle identifiers against a
// point-in-time registry snapshot. It is pure and deterministic given
// its snapshot input.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rentdesk/mailorder/internal/model"
)

// NormalizeKey returns the canonical matching key for a vehicle
// identifier: diacritics folded, uppercased, every non-alphanumeric
// character stripped. "BA-123-XY", "ba123xy" and "BA 123 XY" all
// normalize to "BA123XY".
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToUpper(folded) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Match resolves identifierRaw against the snapshot. Policy, in order:
// exact canonical-key equality, then containment (either direction)
// when exactly one candidate qualifies. More than one candidate at the
// same tier is ambiguous; no automatic selection is made.
func Match(identifierRaw string, snapshot []model.VehicleRecord) model.MatchResult {
	key := NormalizeKey(identifierRaw)
	result := model.MatchResult{
		Status:        model.MatchNotFound,
		NormalizedKey: key,
	}
	if key == "" {
		return result
	}

	var exact []string
	for _, v := range snapshot {
		if NormalizeKey(v.LicensePlate) == key {
			exact = append(exact, v.ID)
		}
	}
	if resolved := resolveTier(&result, exact); resolved {
		return result
	}

	var contained []string
	for _, v := range snapshot {
		plateKey := NormalizeKey(v.LicensePlate)
		if plateKey == "" {
			continue
		}
		if strings.Contains(plateKey, key) || strings.Contains(key, plateKey) {
			contained = append(contained, v.ID)
		}
	}
	resolveTier(&result, contained)

	return result
}

// resolveTier applies one matching tier's candidates to the result.
// It reports whether the tier produced a terminal outcome.
func resolveTier(result *model.MatchResult, candidates []string) bool {
	switch len(candidates) {
	case 0:
		return false
	case 1:
		result.Status = model.MatchFound
		result.VehicleID = candidates[0]
	default:
		result.Status = model.MatchAmbiguous
		result.Candidates = candidates
	}
	return true
}
