package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/rentdesk/mailorder/internal/model"
	"github.com/rentdesk/mailorder/tests/testutil"
)

type stubConnector struct {
	mu          sync.Mutex
	ensureErr   error
	testErr     error
	failedWith  []error
	disconnects int
}

func (c *stubConnector) EnsureConnected(context.Context) error { return c.ensureErr }
func (c *stubConnector) TestConnection(context.Context) error  { return c.testErr }

func (c *stubConnector) FailSession(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedWith = append(c.failedWith, err)
}

func (c *stubConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *stubConnector) IsConnected() bool { return true }

type stubFetcher struct {
	mu          sync.Mutex
	uids        []imap.UID
	msgs        []model.RawMessage
	searchErr   error
	fetchErr    error
	searchCalls int
	fetchCalls  int

	// When set, Search signals entered and blocks until release is closed.
	entered chan struct{}
	release chan struct{}
}

func (f *stubFetcher) Search(context.Context, time.Time, string) ([]imap.UID, error) {
	f.mu.Lock()
	f.searchCalls++
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.uids, f.searchErr
}

func (f *stubFetcher) Fetch(_ context.Context, uids []imap.UID) ([]model.RawMessage, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	return f.msgs, f.fetchErr
}

func (f *stubFetcher) calls() (search, fetch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls, f.fetchCalls
}

func validConfig() model.AppConfig {
	return model.AppConfig{
		Mailbox: model.MailboxConfig{
			Host:     "imap.example.com",
			Port:     "993",
			Username: "orders@example.com",
			Password: "secret",
			TLS:      true,
		},
		Monitor: model.MonitorConfig{
			Enabled:          true,
			PollIntervalMin:  5,
			SearchWindowDays: 7,
			RunTimeoutSec:    10,
			Workers:          2,
		},
	}
}

const orderBody = `Kunde: Hans Müller
Mietzeitraum: 02.01.2026 - 05.01.2026
Fahrzeug: BA-123-XY
Preis: 249,90 EUR`

func TestRunOnce_SingleFlight(t *testing.T) {
	st := testutil.NewTestStore(t)
	fetcher := &stubFetcher{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	svc := NewService(validConfig(), st, &stubConnector{}, fetcher, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.RunOnce()
	}()
	<-fetcher.entered

	// Overlapping call must be skipped, not queued.
	svc.RunOnce()

	close(fetcher.release)
	<-done

	if search, _ := fetcher.calls(); search != 1 {
		t.Fatalf("search called %d times, want 1", search)
	}
}

func TestRunOnce_EndToEnd(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	if err := st.UpsertVehicle(ctx, model.VehicleRecord{
		Brand: "VW", Model: "Golf", LicensePlate: "BA-123-XY",
	}); err != nil {
		t.Fatalf("seeding vehicle: %v", err)
	}

	fetcher := &stubFetcher{
		uids: []imap.UID{7},
		msgs: []model.RawMessage{{
			UID:      7,
			From:     "kunde@example.com",
			Subject:  "Mietanfrage",
			BodyText: orderBody,
		}},
	}
	svc := NewService(validConfig(), st, &stubConnector{}, fetcher, discardLogger())

	svc.RunOnce()

	entry, err := st.GetHistoryByUID(ctx, 7)
	if err != nil {
		t.Fatalf("GetHistoryByUID: %v", err)
	}
	if entry == nil {
		t.Fatal("no history entry after cycle")
	}
	if entry.ParseOutcome != string(model.ParseComplete) {
		t.Errorf("ParseOutcome = %q, want complete", entry.ParseOutcome)
	}
	if entry.MatchOutcome != string(model.MatchFound) {
		t.Errorf("MatchOutcome = %q, want matched", entry.MatchOutcome)
	}
	if entry.CreatedRentalID == "" {
		t.Error("no rental linked on history entry")
	}

	status := svc.GetStatus()
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
	if status.LastRunAt.IsZero() {
		t.Error("LastRunAt not set after cycle")
	}
}

func TestRunOnce_SecondCycleSkipsProcessedUID(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	if err := st.UpsertVehicle(ctx, model.VehicleRecord{
		Brand: "VW", Model: "Golf", LicensePlate: "BA-123-XY",
	}); err != nil {
		t.Fatalf("seeding vehicle: %v", err)
	}

	fetcher := &stubFetcher{
		uids: []imap.UID{7},
		msgs: []model.RawMessage{{UID: 7, BodyText: orderBody}},
	}
	svc := NewService(validConfig(), st, &stubConnector{}, fetcher, discardLogger())

	svc.RunOnce()
	svc.RunOnce()

	// The second cycle searches again but filters the processed UID
	// before fetching.
	search, fetch := fetcher.calls()
	if search != 2 {
		t.Errorf("search called %d times, want 2", search)
	}
	if fetch != 1 {
		t.Errorf("fetch called %d times, want 1", fetch)
	}

	entries, err := st.ListEmailHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListEmailHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d history entries after two cycles, want 1", len(entries))
	}
}

func TestRunOnce_DuplicateUIDInBatch(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	fetcher := &stubFetcher{
		uids: []imap.UID{9},
		msgs: []model.RawMessage{
			{UID: 9, BodyText: orderBody},
			{UID: 9, BodyText: orderBody},
		},
	}
	svc := NewService(validConfig(), st, &stubConnector{}, fetcher, discardLogger())

	svc.RunOnce()

	entries, err := st.ListEmailHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListEmailHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d history entries for duplicated uid, want 1", len(entries))
	}
}

func TestRunOnce_SearchFailureFailsSession(t *testing.T) {
	st := testutil.NewTestStore(t)
	conn := &stubConnector{}
	fetcher := &stubFetcher{searchErr: errors.New("connection reset")}
	svc := NewService(validConfig(), st, conn, fetcher, discardLogger())

	svc.RunOnce()

	if len(conn.failedWith) != 1 {
		t.Fatalf("FailSession called %d times, want 1", len(conn.failedWith))
	}
	if status := svc.GetStatus(); status.LastError == "" {
		t.Error("LastError empty after failed cycle")
	}
}

func TestRunOnce_ConnectFailureReported(t *testing.T) {
	st := testutil.NewTestStore(t)
	conn := &stubConnector{ensureErr: errors.New("auth failed")}
	fetcher := &stubFetcher{}
	svc := NewService(validConfig(), st, conn, fetcher, discardLogger())

	svc.RunOnce()

	if search, _ := fetcher.calls(); search != 0 {
		t.Errorf("search called despite connect failure")
	}
	if status := svc.GetStatus(); status.LastError == "" {
		t.Error("LastError empty after connect failure")
	}
}

func TestStartMonitoring_InvalidConfigDoesNotStart(t *testing.T) {
	st := testutil.NewTestStore(t)
	cfg := validConfig()
	cfg.Monitor.Enabled = false
	svc := NewService(cfg, st, &stubConnector{}, &stubFetcher{}, discardLogger())

	svc.StartMonitoring(0)

	if svc.GetStatus().Running {
		t.Fatal("monitoring running despite disabled configuration")
	}
}

func TestStartStopMonitoring(t *testing.T) {
	st := testutil.NewTestStore(t)
	conn := &stubConnector{}
	svc := NewService(validConfig(), st, conn, &stubFetcher{}, discardLogger())

	svc.StartMonitoring(60)
	svc.StartMonitoring(60) // idempotent

	if !svc.GetStatus().Running {
		t.Fatal("not running after StartMonitoring")
	}

	svc.StopMonitoring()
	svc.StopMonitoring() // idempotent

	if svc.GetStatus().Running {
		t.Fatal("still running after StopMonitoring")
	}

	svc.Close()
	if conn.disconnects == 0 {
		t.Error("Close did not disconnect the session")
	}
}

func TestCheckNow_NotRunningTriggersOneCycle(t *testing.T) {
	st := testutil.NewTestStore(t)
	fetcher := &stubFetcher{}
	svc := NewService(validConfig(), st, &stubConnector{}, fetcher, discardLogger())

	svc.CheckNow()

	deadline := time.After(2 * time.Second)
	for {
		if search, _ := fetcher.calls(); search == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("manual check did not run a cycle")
		case <-time.After(10 * time.Millisecond):
		}
	}
	svc.Close()
}

func TestTestConnection(t *testing.T) {
	st := testutil.NewTestStore(t)
	conn := &stubConnector{}
	svc := NewService(validConfig(), st, conn, &stubFetcher{}, discardLogger())

	if !svc.TestConnection(context.Background()) {
		t.Error("TestConnection failed with healthy connector")
	}

	conn.testErr = errors.New("auth failed")
	if svc.TestConnection(context.Background()) {
		t.Error("TestConnection succeeded with failing connector")
	}
	if svc.GetStatus().LastError == "" {
		t.Error("LastError not recorded after failed connection test")
	}
}

func TestGetStatusReflectsConfig(t *testing.T) {
	st := testutil.NewTestStore(t)
	svc := NewService(validConfig(), st, &stubConnector{}, &stubFetcher{}, discardLogger())

	status := svc.GetStatus()
	if !status.Enabled {
		t.Error("Enabled = false, want true")
	}
	if status.Host != "imap.example.com" {
		t.Errorf("Host = %q", status.Host)
	}
	if status.Username != "orders@example.com" {
		t.Errorf("Username = %q", status.Username)
	}
	if status.Running {
		t.Error("Running = true before start")
	}
}
