package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rentdesk/mailorder/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// ListVehicles returns the full vehicle registry snapshot.
func (s *SQLiteStore) ListVehicles(ctx context.Context) ([]model.VehicleRecord, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, brand, model, license_plate FROM vehicles ORDER BY license_plate",
	)
	if err != nil {
		return nil, fmt.Errorf("querying vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []model.VehicleRecord
	for rows.Next() {
		var v model.VehicleRecord
		if err := rows.Scan(&v.ID, &v.Brand, &v.Model, &v.LicensePlate); err != nil {
			return nil, fmt.Errorf("scanning vehicle row: %w", err)
		}
		vehicles = append(vehicles, v)
	}

	return vehicles, rows.Err()
}

// UpsertVehicle inserts or replaces a vehicle registry entry.
// If the vehicle has no ID, a new UUID is generated.
func (s *SQLiteStore) UpsertVehicle(ctx context.Context, v model.VehicleRecord) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vehicles (id, brand, model, license_plate, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.Brand, v.Model, v.LicensePlate, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting vehicle %s: %w", v.ID, err)
	}

	return nil
}

// CreatePendingRental inserts a new pending rental and returns its ID.
func (s *SQLiteStore) CreatePendingRental(
	ctx context.Context,
	rental model.PendingRental,
) (string, error) {
	if rental.ID == "" {
		rental.ID = uuid.New().String()
	}
	if rental.Status == "" {
		rental.Status = model.RentalStatusPending
	}
	if rental.CreatedAt.IsZero() {
		rental.CreatedAt = time.Now()
	}

	var price sql.NullFloat64
	if rental.Price != nil {
		price = sql.NullFloat64{Float64: *rental.Price, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_rentals (
			id, vehicle_id, customer_name, start_date, end_date,
			price, notes, status, confirmed, message_uid, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rental.ID, rental.VehicleID, rental.CustomerName,
		rental.StartDate.UTC(), rental.EndDate.UTC(),
		price, rental.Notes, rental.Status,
		boolToInt(rental.Confirmed), rental.MessageUID, rental.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("creating pending rental: %w", err)
	}

	return rental.ID, nil
}

// AppendEmailHistory inserts a new history entry and returns its ID.
// The message UID is unique; appending a second entry for the same UID
// fails, which backs the durable at-most-once guarantee.
func (s *SQLiteStore) AppendEmailHistory(
	ctx context.Context,
	entry model.EmailHistoryEntry,
) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_history (
			id, message_uid, from_addr, subject, received_at,
			parse_outcome, match_outcome, failure_detail,
			created_rental_id, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.MessageUID, entry.From, entry.Subject,
		entry.ReceivedAt.UTC(), entry.ParseOutcome, entry.MatchOutcome,
		entry.FailureDetail, entry.CreatedRentalID, entry.ProcessedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("appending email history for uid %d: %w", entry.MessageUID, err)
	}

	return entry.ID, nil
}

// SetHistoryRental records the rental created from a history entry.
func (s *SQLiteStore) SetHistoryRental(ctx context.Context, historyID, rentalID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE email_history SET created_rental_id = ? WHERE id = ?",
		rentalID, historyID,
	)
	if err != nil {
		return fmt.Errorf("setting rental on history %s: %w", historyID, err)
	}
	return nil
}

// SetHistoryFailure annotates a history entry with a failure that
// occurred after the entry was written.
func (s *SQLiteStore) SetHistoryFailure(ctx context.Context, historyID, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE email_history SET failure_detail = ? WHERE id = ?",
		detail, historyID,
	)
	if err != nil {
		return fmt.Errorf("setting failure on history %s: %w", historyID, err)
	}
	return nil
}

// HistoryEntryExists reports whether a history entry exists for the UID.
func (s *SQLiteStore) HistoryEntryExists(ctx context.Context, uid uint32) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM email_history WHERE message_uid = ?", uid,
	)
	if err != nil {
		return false, fmt.Errorf("checking email history for uid %d: %w", uid, err)
	}
	return count > 0, nil
}

// ListEmailHistory returns the most recent history entries, newest first.
func (s *SQLiteStore) ListEmailHistory(
	ctx context.Context,
	limit int,
) ([]model.EmailHistoryEntry, error) {
	query := "SELECT * FROM email_history ORDER BY processed_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying email history: %w", err)
	}
	defer rows.Close()

	var entries []model.EmailHistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetHistoryByUID returns the history entry for a message UID, or nil
// when none exists.
func (s *SQLiteStore) GetHistoryByUID(
	ctx context.Context,
	uid uint32,
) (*model.EmailHistoryEntry, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM email_history WHERE message_uid = ?", uid,
	)
	if err != nil {
		return nil, fmt.Errorf("querying email history for uid %d: %w", uid, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying email history for uid %d: %w", uid, err)
		}
		return nil, nil
	}

	entry, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreateNotification inserts a new review notification record.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, history_id, message_uid, reason, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.HistoryID, n.MessageUID, n.Reason, n.Message,
		boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// GetUnreadNotifications retrieves all notifications that have not been
// read, ordered by creation time descending.
func (s *SQLiteStore) GetUnreadNotifications(ctx context.Context) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM notifications WHERE read = 0 ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
// A duplicate history append surfaces this way when two pollers race on
// the same UID; the loser treats it as already processed.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanHistory scans a history row from a sqlx.Rows result set.
func scanHistory(rows *sqlx.Rows) (model.EmailHistoryEntry, error) {
	var (
		entry       model.EmailHistoryEntry
		receivedAt  time.Time
		processedAt time.Time
	)

	err := rows.Scan(
		&entry.ID, &entry.MessageUID, &entry.From, &entry.Subject,
		&receivedAt, &entry.ParseOutcome, &entry.MatchOutcome,
		&entry.FailureDetail, &entry.CreatedRentalID, &processedAt,
	)
	if err != nil {
		return model.EmailHistoryEntry{}, fmt.Errorf("scanning history row: %w", err)
	}

	entry.ReceivedAt = receivedAt
	entry.ProcessedAt = processedAt

	return entry, nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		readInt   int
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &n.HistoryID, &n.MessageUID, &n.Reason, &n.Message,
		&readInt, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Read = readInt != 0
	n.CreatedAt = createdAt

	return n, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
