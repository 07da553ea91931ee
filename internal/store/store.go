package store

import (
	"context"

	"github.com/rentdesk/mailorder/internal/model"
)

// Store defines the persistence interface for the ingestion pipeline:
// the vehicle registry snapshot, pending rentals, the email history
// ledger, and review notifications.
type Store interface {
	// === Vehicle registry (rows maintained by the CRUD layer) ===

	ListVehicles(ctx context.Context) ([]model.VehicleRecord, error)
	UpsertVehicle(ctx context.Context, v model.VehicleRecord) error

	// === Pending rentals ===

	CreatePendingRental(ctx context.Context, rental model.PendingRental) (string, error)

	// === Email history ledger (audit log and durable dedup) ===

	AppendEmailHistory(ctx context.Context, entry model.EmailHistoryEntry) (string, error)
	SetHistoryRental(ctx context.Context, historyID, rentalID string) error
	SetHistoryFailure(ctx context.Context, historyID, detail string) error
	HistoryEntryExists(ctx context.Context, uid uint32) (bool, error)
	ListEmailHistory(ctx context.Context, limit int) ([]model.EmailHistoryEntry, error)
	GetHistoryByUID(ctx context.Context, uid uint32) (*model.EmailHistoryEntry, error)

	// === Review notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	Close() error
}
