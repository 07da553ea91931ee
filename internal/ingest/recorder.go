package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rentdesk/mailorder/internal/model"
	"github.com/rentdesk/mailorder/internal/store"
)

// ErrAlreadyRecorded is returned when a history entry already exists
// for the message; a concurrent or earlier attempt won the write.
var ErrAlreadyRecorded = errors.New("message already recorded")

// Recorder persists the outcome of one processed order email: always
// exactly one history entry, plus a pending rental when the parse was
// complete and the registry match unique.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing through the given store.
func NewRecorder(st store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: st, logger: logger}
}

// RecordResult reports what the recorder persisted.
type RecordResult struct {
	// HistoryID is the ID of the history entry written for the message.
	HistoryID string

	// RentalID is the ID of the created pending rental, empty when no
	// rental was created.
	RentalID string
}

// Record writes the history entry and, for a complete parse with a
// unique match, the pending rental. Persistence failures are retried
// once within the call; a rental failure after the entry was written is
// annotated on the entry rather than silently dropped.
func (r *Recorder) Record(
	ctx context.Context,
	msg model.RawMessage,
	order model.ParsedOrder,
	result model.MatchResult,
) (RecordResult, error) {
	entry := model.EmailHistoryEntry{
		MessageUID:   msg.UID,
		From:         msg.From,
		Subject:      msg.Subject,
		ReceivedAt:   msg.ReceivedAt,
		ParseOutcome: string(order.Quality),
		MatchOutcome: string(result.Status),
		ProcessedAt:  time.Now(),
	}

	reason := reviewReason(order, result)
	if reason != "" {
		entry.FailureDetail = failureDetail(reason, order, result)
	}

	historyID, err := r.appendHistory(ctx, entry)
	if err != nil {
		return RecordResult{}, err
	}
	res := RecordResult{HistoryID: historyID}

	if reason != "" {
		r.notify(ctx, historyID, msg.UID, reason, entry.FailureDetail)
		return res, nil
	}

	rental := model.PendingRental{
		VehicleID:    result.VehicleID,
		CustomerName: order.CustomerName,
		StartDate:    order.RentalStart,
		EndDate:      order.RentalEnd,
		Price:        order.Price,
		Notes:        order.Notes,
		Status:       model.RentalStatusPending,
		MessageUID:   msg.UID,
		CreatedAt:    time.Now(),
	}

	rentalID, err := r.createRental(ctx, rental)
	if err != nil {
		detail := fmt.Sprintf("rental creation failed: %v", err)
		if uerr := r.store.SetHistoryFailure(ctx, historyID, detail); uerr != nil {
			r.logger.Error("annotating history with rental failure",
				"history_id", historyID, "error", uerr)
		}
		r.notify(ctx, historyID, msg.UID, model.ReviewRentalFailed, detail)
		return res, fmt.Errorf("creating rental for uid %d: %w", msg.UID, err)
	}

	res.RentalID = rentalID
	if err := r.store.SetHistoryRental(ctx, historyID, rentalID); err != nil {
		r.logger.Error("linking rental to history",
			"history_id", historyID, "rental_id", rentalID, "error", err)
	}

	return res, nil
}

// appendHistory writes the entry, retrying once on persistence failure.
// A UNIQUE violation on the message UID means another attempt already
// recorded this message.
func (r *Recorder) appendHistory(
	ctx context.Context, entry model.EmailHistoryEntry,
) (string, error) {
	id, err := r.store.AppendEmailHistory(ctx, entry)
	if err == nil {
		return id, nil
	}
	if store.IsUniqueViolation(err) {
		return "", ErrAlreadyRecorded
	}

	r.logger.Warn("history append failed, retrying once",
		"uid", entry.MessageUID, "error", err)

	id, err = r.store.AppendEmailHistory(ctx, entry)
	if err == nil {
		return id, nil
	}
	if store.IsUniqueViolation(err) {
		return "", ErrAlreadyRecorded
	}
	return "", fmt.Errorf("appending history for uid %d: %w", entry.MessageUID, err)
}

// createRental writes the rental, retrying once on persistence failure.
func (r *Recorder) createRental(
	ctx context.Context, rental model.PendingRental,
) (string, error) {
	id, err := r.store.CreatePendingRental(ctx, rental)
	if err == nil {
		return id, nil
	}

	r.logger.Warn("rental create failed, retrying once",
		"uid", rental.MessageUID, "error", err)

	return r.store.CreatePendingRental(ctx, rental)
}

// notify writes a review notification; failures are logged, not
// propagated, since the history entry already carries the outcome.
func (r *Recorder) notify(
	ctx context.Context, historyID string, uid uint32, reason, detail string,
) {
	n := model.Notification{
		HistoryID:  historyID,
		MessageUID: uid,
		Reason:     reason,
		Message:    detail,
		CreatedAt:  time.Now(),
	}
	if err := r.store.CreateNotification(ctx, n); err != nil {
		r.logger.Error("creating review notification",
			"uid", uid, "reason", reason, "error", err)
	}
}

// reviewReason classifies why no rental can be created, empty when the
// order is ingestible.
func reviewReason(order model.ParsedOrder, result model.MatchResult) string {
	switch order.Quality {
	case model.ParseFailed:
		return model.ReviewParseFailed
	case model.ParsePartial:
		return model.ReviewParsePartial
	}
	switch result.Status {
	case model.MatchAmbiguous:
		return model.ReviewMatchAmbiguous
	case model.MatchNotFound:
		return model.ReviewMatchNotFound
	}
	return ""
}

// failureDetail builds the human-readable explanation stored on the
// history entry and the review notification.
func failureDetail(reason string, order model.ParsedOrder, result model.MatchResult) string {
	switch reason {
	case model.ReviewParseFailed:
		return fmt.Sprintf("order format not recognized; excerpt: %q", order.Excerpt)
	case model.ReviewParsePartial:
		return fmt.Sprintf("missing fields: %s", strings.Join(order.MissingFields, ", "))
	case model.ReviewMatchAmbiguous:
		return fmt.Sprintf("identifier %q matches %d vehicles",
			result.NormalizedKey, len(result.Candidates))
	case model.ReviewMatchNotFound:
		return fmt.Sprintf("no vehicle matches identifier %q", result.NormalizedKey)
	default:
		return reason
	}
}
