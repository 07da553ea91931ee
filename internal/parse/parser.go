// Package parse extracts structured order data from free-text customer
// order emails using ordered, rule-based heuristics. It is pure and
// side-effect free; unrecognized formats degrade to a failed outcome
// rather than an error.
package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rentdesk/mailorder/internal/model"
)

// Field labels recognized at the start of a line, in normalized
// (folded, lowercased) form. German first: the order mailbox mostly
// receives German-language mails.
var (
	customerLabels = []string{"kunde", "kundenname", "customer", "customer name", "name"}
	periodLabels   = []string{"mietzeitraum", "zeitraum", "rental period", "period", "dates"}
	vehicleLabels  = []string{"fahrzeug", "kennzeichen", "vehicle", "license plate", "plate", "registration"}
	priceLabels    = []string{"preis", "gesamtpreis", "price", "total", "betrag", "amount"}
	notesLabels    = []string{"anmerkung", "anmerkungen", "bemerkung", "notes", "note"}
)

// plateRe recognizes license-plate shaped tokens in uppercased text,
// e.g. "BA-123-XY", "BA 123 XY", "M-AB 1234". At least one digit run
// is required.
var plateRe = regexp.MustCompile(`\b[A-Z]{1,3}(?:[ -][A-Z]{1,2})?[ -]?[0-9]{1,4}(?:[ -]?[A-Z]{1,3})?\b`)

// plateScanRe is the stricter variant used when scanning a whole body
// without a labeled vehicle line: a hyphen is required so that ordinary
// words followed by numbers ("bis 03") are not mistaken for plates.
var plateScanRe = regexp.MustCompile(`\b[A-Z]{1,3}-(?:[A-Z]{1,2}[ -]?)?[0-9]{1,4}(?:[ -]?[A-Z]{1,3})?\b`)

// Date token patterns with their parse layouts, tried in order.
var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\d{1,2}\.\d{1,2}\.\d{4}`), "2.1.2006"},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "2006-01-02"},
	{regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`), "2/1/2006"},
}

var priceRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

const excerptLen = 200

// Parse extracts a ParsedOrder from a raw order email. Each field
// extraction is independent and best-effort; a field that cannot be
// matched is left empty. Parse never panics past this package.
func Parse(msg model.RawMessage) (order model.ParsedOrder) {
	defer func() {
		if r := recover(); r != nil {
			order = model.ParsedOrder{
				Quality:       model.ParseFailed,
				MissingFields: requiredFields(),
				Excerpt:       excerpt(msg.BodyText),
			}
		}
	}()

	for _, line := range strings.Split(msg.BodyText, "\n") {
		label, value := splitLabeled(line)
		if value == "" {
			continue
		}

		switch {
		case order.CustomerName == "" && hasLabel(label, customerLabels):
			order.CustomerName = value

		case order.RentalStart.IsZero() && hasLabel(label, periodLabels):
			order.RentalStart, order.RentalEnd = parseDateRange(value)

		case order.VehicleIdentifier == "" && hasLabel(label, vehicleLabels):
			order.VehicleIdentifier = extractPlate(value)

		case order.Price == nil && hasLabel(label, priceLabels):
			if p, ok := parsePrice(value); ok {
				order.Price = &p
			}

		case order.Notes == "" && hasLabel(label, notesLabels):
			order.Notes = value
		}
	}

	// No labeled vehicle line: the first plate-shaped token anywhere in
	// the body wins. Ambiguity between multiple plates is not raised
	// here; only the registry matching stage can declare ambiguity.
	if order.VehicleIdentifier == "" {
		order.VehicleIdentifier = plateScanRe.FindString(foldUpper(msg.BodyText))
	}

	order.MissingFields = missingFields(order)
	switch len(order.MissingFields) {
	case 0:
		order.Quality = model.ParseComplete
	case len(requiredFields()):
		order.Quality = model.ParseFailed
	default:
		order.Quality = model.ParsePartial
	}

	if order.Quality != model.ParseComplete {
		order.Excerpt = excerpt(msg.BodyText)
	}

	return order
}

// splitLabeled splits "Label: value" into a normalized label and a
// trimmed value. Lines without a label separator yield an empty value.
func splitLabeled(line string) (label, value string) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", ""
	}
	return foldLine(line[:idx]), strings.TrimSpace(line[idx+1:])
}

// hasLabel reports whether the normalized label matches any known label.
func hasLabel(label string, known []string) bool {
	for _, k := range known {
		if label == k {
			return true
		}
	}
	return false
}

// extractPlate pulls the first plate-shaped token from a labeled value,
// falling back to the raw value when no token matches. The matcher
// normalizes either way.
func extractPlate(value string) string {
	if m := plateRe.FindString(foldUpper(value)); m != "" {
		return m
	}
	return value
}

// parseDateRange extracts the first two date tokens of the same format
// from a value like "02.01.2026 - 05.01.2026" or "2026-01-02 bis
// 2026-01-05". Both zero when no pair is found.
func parseDateRange(value string) (start, end time.Time) {
	for _, p := range datePatterns {
		tokens := p.re.FindAllString(value, 2)
		if len(tokens) < 2 {
			continue
		}
		s, err1 := time.Parse(p.layout, tokens[0])
		e, err2 := time.Parse(p.layout, tokens[1])
		if err1 != nil || err2 != nil {
			continue
		}
		return s, e
	}
	return time.Time{}, time.Time{}
}

// parsePrice extracts a decimal amount, accepting both German
// ("1.234,56") and English ("1,234.56" / "1234.56") notation.
func parsePrice(value string) (float64, bool) {
	token := priceRe.FindString(value)
	if token == "" {
		return 0, false
	}

	hasComma := strings.Contains(token, ",")
	hasDot := strings.Contains(token, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(token, ",") > strings.LastIndex(token, ".") {
			// German: dot groups thousands, comma is decimal.
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case hasComma:
		token = strings.Replace(token, ",", ".", 1)
	}

	p, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// requiredFields returns the required field names in stable order.
func requiredFields() []string {
	return []string{
		model.FieldCustomerName,
		model.FieldRentalStart,
		model.FieldRentalEnd,
		model.FieldVehicle,
	}
}

// missingFields lists the required fields absent from the order.
func missingFields(order model.ParsedOrder) []string {
	var missing []string
	if order.CustomerName == "" {
		missing = append(missing, model.FieldCustomerName)
	}
	if order.RentalStart.IsZero() {
		missing = append(missing, model.FieldRentalStart)
	}
	if order.RentalEnd.IsZero() {
		missing = append(missing, model.FieldRentalEnd)
	}
	if order.VehicleIdentifier == "" {
		missing = append(missing, model.FieldVehicle)
	}
	return missing
}

// excerpt returns a short slice of the body for diagnostics.
func excerpt(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > excerptLen {
		return body[:excerptLen]
	}
	return body
}
