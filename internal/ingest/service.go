// Package ingest orchestrates the mailbox order-ingestion pipeline:
// scheduled poll cycles over the IMAP mailbox, guarded per-message
// processing, and recording of pending rentals with an audit trail.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/rentdesk/mailorder/internal/guard"
	"github.com/rentdesk/mailorder/internal/match"
	"github.com/rentdesk/mailorder/internal/model"
	"github.com/rentdesk/mailorder/internal/parse"
	"github.com/rentdesk/mailorder/internal/store"
)

// Connector abstracts the mailbox session lifecycle the service drives.
type Connector interface {
	// EnsureConnected returns once the session is usable, reconnecting
	// with backoff while the context allows.
	EnsureConnected(ctx context.Context) error

	// TestConnection performs connect, authenticate, and disconnect on
	// a throwaway session.
	TestConnection(ctx context.Context) error

	// FailSession records a protocol-level failure so the next cycle
	// reconnects.
	FailSession(err error)

	// Disconnect releases the session; always safe to call.
	Disconnect()

	// IsConnected reports whether a session is currently held.
	IsConnected() bool
}

// Fetcher abstracts mailbox search and fetch operations.
type Fetcher interface {
	// Search returns the UIDs of messages received since the given time
	// whose subject contains subjectFilter.
	Search(ctx context.Context, since time.Time, subjectFilter string) ([]imap.UID, error)

	// Fetch retrieves full bodies for the given UIDs, skipping
	// individual failures.
	Fetch(ctx context.Context, uids []imap.UID) ([]model.RawMessage, error)
}

// Status is the control-surface view of the service.
type Status struct {
	// Running reports whether periodic monitoring is active.
	Running bool

	// Enabled mirrors the configuration flag.
	Enabled bool

	// LastRunAt is when the most recent poll cycle finished.
	LastRunAt time.Time

	// LastError describes the most recent cycle failure, empty when the
	// last cycle succeeded.
	LastError string

	// Host is the configured mailbox host.
	Host string

	// Username is the configured mailbox login.
	Username string
}

// Service is the order-ingestion pipeline, constructed once at startup
// with injected collaborators and driven by the control surface.
type Service struct {
	cfg      model.AppConfig
	store    store.Store
	conn     Connector
	fetcher  Fetcher
	guard    *guard.Guard
	recorder *Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	inFlight  bool
	lastRunAt time.Time
	lastErr   error
	stopCh    chan struct{}

	triggerCh chan struct{}
	wg        sync.WaitGroup
}

// NewService constructs the service with its collaborators.
func NewService(
	cfg model.AppConfig,
	st store.Store,
	conn Connector,
	fetcher Fetcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		conn:      conn,
		fetcher:   fetcher,
		guard:     guard.New(st),
		recorder:  NewRecorder(st, logger),
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
	}
}

// StartMonitoring begins periodic polling. It is idempotent: a no-op
// when already running. intervalMinutes <= 0 falls back to the
// configured interval.
func (s *Service) StartMonitoring(intervalMinutes int) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if ok, reason := s.cfg.Validate(); !ok {
		s.mu.Unlock()
		s.logger.Warn("monitoring not started", "reason", reason)
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if intervalMinutes <= 0 {
		intervalMinutes = s.cfg.Monitor.PollIntervalMin
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s.wg.Add(1)
	go s.loop(interval, stopCh)

	s.logger.Info("monitoring started", "interval", interval)
}

// loop drives scheduled and manually triggered poll cycles.
func (s *Service) loop(interval time.Duration, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle runs immediately.
	s.RunOnce()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.RunOnce()
		case <-s.triggerCh:
			s.RunOnce()
		}
	}
}

// StopMonitoring halts periodic polling. It is idempotent. The mailbox
// session stays open for reuse; Close tears it down.
func (s *Service) StopMonitoring() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.logger.Info("monitoring stopped")
}

// CheckNow triggers a poll cycle and returns immediately. Failures are
// reported through GetStatus, never to the caller.
func (s *Service) CheckNow() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if running {
		select {
		case s.triggerCh <- struct{}{}:
		default:
			// A trigger is already pending; runs are single-flight.
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce()
	}()
}

// TestConnection performs connect, authenticate, and disconnect without
// a search.
func (s *Service) TestConnection(ctx context.Context) bool {
	if err := s.conn.TestConnection(ctx); err != nil {
		s.logger.Warn("connection test failed", "error", err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return false
	}
	return true
}

// GetStatus returns the control-surface view of the service.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:   s.running,
		Enabled:   s.cfg.Monitor.Enabled,
		LastRunAt: s.lastRunAt,
		Host:      s.cfg.Mailbox.Host,
		Username:  s.cfg.Mailbox.Username,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// Close stops monitoring, waits for any in-flight cycle, and tears down
// the mailbox session.
func (s *Service) Close() {
	s.StopMonitoring()
	s.wg.Wait()
	s.conn.Disconnect()
}

// RunOnce executes a single poll cycle. Overlapping calls are skipped,
// not queued: there is never more than one active cycle.
func (s *Service) RunOnce() {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Debug("poll cycle already in progress, skipping trigger")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	timeout := time.Duration(s.cfg.Monitor.RunTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err := s.runCycle(ctx)
	cancel()

	s.mu.Lock()
	s.inFlight = false
	s.lastRunAt = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("poll cycle failed", "error", err)
	}
}

// runCycle is the shared code path for scheduled and manual runs.
func (s *Service) runCycle(ctx context.Context) error {
	if err := s.conn.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("ensuring mailbox connection: %w", err)
	}

	// Point-in-time registry snapshot, refreshed once per cycle.
	vehicles, err := s.store.ListVehicles(ctx)
	if err != nil {
		return fmt.Errorf("loading vehicle registry: %w", err)
	}

	windowDays := s.cfg.Monitor.SearchWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().AddDate(0, 0, -windowDays)

	uids, err := s.fetcher.Search(ctx, since, s.cfg.Monitor.SubjectFilter)
	if err != nil {
		s.conn.FailSession(err)
		return fmt.Errorf("searching mailbox: %w", err)
	}

	// Skip UIDs that already have a durable history entry. This is an
	// optimization only; the guard re-checks before processing.
	var candidates []imap.UID
	for _, uid := range uids {
		done, err := s.guard.AlreadyProcessed(ctx, uint32(uid))
		if err != nil {
			s.logger.Warn("history check failed, keeping message",
				"uid", uint32(uid), "error", err)
		}
		if !done {
			candidates = append(candidates, uid)
		}
	}
	if len(candidates) == 0 {
		s.logger.Debug("no new messages", "searched", len(uids))
		return nil
	}

	msgs, err := s.fetcher.Fetch(ctx, candidates)
	if err != nil && len(msgs) == 0 {
		s.conn.FailSession(err)
		return fmt.Errorf("fetching messages: %w", err)
	}
	if err != nil {
		s.logger.Warn("fetch ended early", "fetched", len(msgs), "error", err)
	}

	s.processBatch(ctx, msgs, vehicles)
	return nil
}

// processBatch runs parse/match/record across the batch with a bounded
// worker pool. Once the run context expires no new message is started;
// messages already being processed are allowed to finish.
func (s *Service) processBatch(
	ctx context.Context,
	msgs []model.RawMessage,
	vehicles []model.VehicleRecord,
) {
	workers := s.cfg.Monitor.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(msgs) {
		workers = len(msgs)
	}

	// Detached from the run timeout so in-flight messages can finish.
	procCtx := context.WithoutCancel(ctx)

	jobs := make(chan model.RawMessage)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				s.processMessage(procCtx, msg, vehicles)
			}
		}()
	}

dispatch:
	for i, msg := range msgs {
		select {
		case <-ctx.Done():
			s.logger.Warn("run timeout reached, deferring remaining messages",
				"remaining", len(msgs)-i)
			break dispatch
		case jobs <- msg:
		}
	}
	close(jobs)
	wg.Wait()
}

// processMessage handles one message end to end. The guard acquire and
// the durable dedup check happen before any parse or match work, which
// preserves the at-most-once guarantee.
func (s *Service) processMessage(
	ctx context.Context,
	msg model.RawMessage,
	vehicles []model.VehicleRecord,
) {
	if !s.guard.TryAcquire(msg.UID) {
		s.logger.Debug("message already in flight", "uid", msg.UID)
		return
	}
	defer s.guard.Release(msg.UID)

	done, err := s.guard.AlreadyProcessed(ctx, msg.UID)
	if err != nil {
		s.logger.Warn("history check failed", "uid", msg.UID, "error", err)
	}
	if done {
		return
	}

	order := parse.Parse(msg)

	result := model.MatchResult{Status: model.MatchNotFound}
	if order.VehicleIdentifier != "" {
		result = match.Match(order.VehicleIdentifier, vehicles)
	}

	res, err := s.recorder.Record(ctx, msg, order, result)
	switch {
	case errors.Is(err, ErrAlreadyRecorded):
		s.logger.Debug("message recorded by a concurrent attempt", "uid", msg.UID)
	case err != nil:
		// Logged and skipped; the message stays unrecorded and is
		// picked up again on the next cycle.
		s.logger.Error("recording message outcome failed",
			"uid", msg.UID, "error", err)
	case res.RentalID != "":
		s.logger.Info("pending rental created",
			"uid", msg.UID, "rental_id", res.RentalID,
			"vehicle_id", result.VehicleID, "customer", order.CustomerName)
	default:
		s.logger.Info("message processed without rental",
			"uid", msg.UID, "parse", string(order.Quality),
			"match", string(result.Status))
	}
}
