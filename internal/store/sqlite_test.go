package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/rentdesk/mailorder/internal/model"
	"github.com/rentdesk/mailorder/internal/store"
	"github.com/rentdesk/mailorder/tests/testutil"
)

func seedVehicle(t *testing.T, s *store.SQLiteStore, plate string) model.VehicleRecord {
	t.Helper()

	v := model.VehicleRecord{Brand: "VW", Model: "Golf", LicensePlate: plate}
	if err := s.UpsertVehicle(context.Background(), v); err != nil {
		t.Fatalf("seeding vehicle: %v", err)
	}

	vehicles, err := s.ListVehicles(context.Background())
	if err != nil {
		t.Fatalf("listing vehicles: %v", err)
	}
	for _, got := range vehicles {
		if got.LicensePlate == plate {
			return got
		}
	}
	t.Fatalf("seeded vehicle %q not found", plate)
	return model.VehicleRecord{}
}

func TestUpsertVehicleRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	v := seedVehicle(t, s, "BA-123-XY")
	if v.ID == "" {
		t.Fatal("upsert did not assign an ID")
	}
	if v.Brand != "VW" || v.Model != "Golf" {
		t.Errorf("vehicle = %+v", v)
	}

	// Upserting with the same ID replaces the row instead of duplicating it.
	v.Model = "Passat"
	if err := s.UpsertVehicle(ctx, v); err != nil {
		t.Fatalf("updating vehicle: %v", err)
	}

	vehicles, err := s.ListVehicles(ctx)
	if err != nil {
		t.Fatalf("listing vehicles: %v", err)
	}
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
	if vehicles[0].Model != "Passat" {
		t.Errorf("Model = %q, want Passat", vehicles[0].Model)
	}
}

func TestAppendEmailHistory_DuplicateUID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	entry := model.EmailHistoryEntry{
		MessageUID:   101,
		From:         "kunde@example.com",
		Subject:      "Mietanfrage",
		ReceivedAt:   time.Now(),
		ParseOutcome: string(model.ParseComplete),
		MatchOutcome: string(model.MatchFound),
	}

	if _, err := s.AppendEmailHistory(ctx, entry); err != nil {
		t.Fatalf("first append: %v", err)
	}

	_, err := s.AppendEmailHistory(ctx, entry)
	if err == nil {
		t.Fatal("second append for same uid succeeded, want UNIQUE violation")
	}
	if !store.IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}

func TestIsUniqueViolation_OtherErrors(t *testing.T) {
	if store.IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
	if store.IsUniqueViolation(context.Canceled) {
		t.Error("IsUniqueViolation(context.Canceled) = true")
	}
}

func TestHistoryEntryExists(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	exists, err := s.HistoryEntryExists(ctx, 55)
	if err != nil {
		t.Fatalf("HistoryEntryExists: %v", err)
	}
	if exists {
		t.Error("uid 55 exists before append")
	}

	if _, err := s.AppendEmailHistory(ctx, model.EmailHistoryEntry{
		MessageUID:   55,
		ParseOutcome: string(model.ParseFailed),
		MatchOutcome: string(model.MatchNotFound),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	exists, err = s.HistoryEntryExists(ctx, 55)
	if err != nil {
		t.Fatalf("HistoryEntryExists: %v", err)
	}
	if !exists {
		t.Error("uid 55 missing after append")
	}
}

func TestGetHistoryByUID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	entry, err := s.GetHistoryByUID(ctx, 7)
	if err != nil {
		t.Fatalf("GetHistoryByUID: %v", err)
	}
	if entry != nil {
		t.Fatalf("got %+v for absent uid, want nil", entry)
	}

	id, err := s.AppendEmailHistory(ctx, model.EmailHistoryEntry{
		MessageUID:    7,
		From:          "kunde@example.com",
		Subject:       "Mietanfrage KW 12",
		ParseOutcome:  string(model.ParsePartial),
		MatchOutcome:  string(model.MatchNotFound),
		FailureDetail: "missing fields: vehicle",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entry, err = s.GetHistoryByUID(ctx, 7)
	if err != nil {
		t.Fatalf("GetHistoryByUID: %v", err)
	}
	if entry == nil {
		t.Fatal("entry missing after append")
	}
	if entry.ID != id {
		t.Errorf("ID = %q, want %q", entry.ID, id)
	}
	if entry.Subject != "Mietanfrage KW 12" {
		t.Errorf("Subject = %q", entry.Subject)
	}
	if entry.FailureDetail != "missing fields: vehicle" {
		t.Errorf("FailureDetail = %q", entry.FailureDetail)
	}
}

func TestSetHistoryRentalAndFailure(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	id, err := s.AppendEmailHistory(ctx, model.EmailHistoryEntry{
		MessageUID:   8,
		ParseOutcome: string(model.ParseComplete),
		MatchOutcome: string(model.MatchFound),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.SetHistoryRental(ctx, id, "rental-1"); err != nil {
		t.Fatalf("SetHistoryRental: %v", err)
	}
	if err := s.SetHistoryFailure(ctx, id, "late failure"); err != nil {
		t.Fatalf("SetHistoryFailure: %v", err)
	}

	entry, err := s.GetHistoryByUID(ctx, 8)
	if err != nil {
		t.Fatalf("GetHistoryByUID: %v", err)
	}
	if entry.CreatedRentalID != "rental-1" {
		t.Errorf("CreatedRentalID = %q, want rental-1", entry.CreatedRentalID)
	}
	if entry.FailureDetail != "late failure" {
		t.Errorf("FailureDetail = %q, want late failure", entry.FailureDetail)
	}
}

func TestCreatePendingRental(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	v := seedVehicle(t, s, "M-AB 1234")

	price := 249.90
	rental := model.PendingRental{
		VehicleID:    v.ID,
		CustomerName: "Hans Müller",
		StartDate:    time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Price:        &price,
		MessageUID:   42,
	}

	id, err := s.CreatePendingRental(ctx, rental)
	if err != nil {
		t.Fatalf("CreatePendingRental: %v", err)
	}
	if id == "" {
		t.Fatal("no rental ID assigned")
	}
}

func TestCreatePendingRental_NoPrice(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	v := seedVehicle(t, s, "HH-ZZ 99")

	rental := model.PendingRental{
		VehicleID:    v.ID,
		CustomerName: "Jane Doe",
		StartDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		MessageUID:   43,
	}

	if _, err := s.CreatePendingRental(ctx, rental); err != nil {
		t.Fatalf("CreatePendingRental without price: %v", err)
	}
}

func TestCreatePendingRental_UnknownVehicle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	rental := model.PendingRental{
		VehicleID:    "no-such-vehicle",
		CustomerName: "Ghost",
		StartDate:    time.Now(),
		EndDate:      time.Now(),
		MessageUID:   44,
	}

	if _, err := s.CreatePendingRental(ctx, rental); err == nil {
		t.Fatal("rental for unknown vehicle succeeded, want foreign key failure")
	}
}

func TestNotificationsLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	n := model.Notification{
		HistoryID:  "h1",
		MessageUID: 9,
		Reason:     model.ReviewParsePartial,
		Message:    "missing fields: vehicle",
	}
	if err := s.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	unread, err := s.GetUnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("GetUnreadNotifications: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("got %d unread, want 1", len(unread))
	}
	if unread[0].Reason != model.ReviewParsePartial {
		t.Errorf("Reason = %q", unread[0].Reason)
	}
	if unread[0].Read {
		t.Error("fresh notification already marked read")
	}

	if err := s.MarkNotificationRead(ctx, unread[0].ID); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}

	unread, err = s.GetUnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("GetUnreadNotifications: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("got %d unread after mark, want 0", len(unread))
	}
}

func TestListEmailHistory_LimitAndOrder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.AppendEmailHistory(ctx, model.EmailHistoryEntry{
			MessageUID:   uint32(200 + i),
			ParseOutcome: string(model.ParseComplete),
			MatchOutcome: string(model.MatchFound),
			ProcessedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.ListEmailHistory(ctx, 2)
	if err != nil {
		t.Fatalf("ListEmailHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].MessageUID != 202 || entries[1].MessageUID != 201 {
		t.Errorf("order = [%d, %d], want newest first [202, 201]",
			entries[0].MessageUID, entries[1].MessageUID)
	}
}
