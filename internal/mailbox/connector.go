package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/rentdesk/mailorder/internal/model"
)

// SessionState describes the connector's position in the session
// lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lowercase name of the state.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Connector owns the single IMAP session used by the ingestion
// pipeline: connect, authenticate, disconnect, and reconnect with
// capped exponential backoff. Session state is mutated only under the
// connector's mutex; callers must not use the session concurrently.
type Connector struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	logger   *slog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration

	mu      sync.Mutex
	client  *imapclient.Client
	state   SessionState
	lastErr error
	retries int
}

// NewConnector creates a connector for the configured mailbox.
func NewConnector(cfg model.MailboxConfig, logger *slog.Logger) *Connector {
	return &Connector{
		host:        cfg.Host,
		port:        cfg.Port,
		username:    cfg.Username,
		password:    cfg.Password,
		tls:         cfg.TLS,
		logger:      logger,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
	}
}

// Connect performs a single connection attempt: dial, then authenticate.
// On failure the connector transitions to StateError and the retry
// counter grows, which lengthens the next backoff delay.
func (c *Connector) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected && c.client != nil {
		return nil
	}

	c.state = StateConnecting

	client, err := c.dial()
	if err != nil {
		c.state = StateError
		c.lastErr = err
		c.retries++
		return err
	}

	c.client = client
	c.state = StateConnected
	c.lastErr = nil
	c.retries = 0
	return nil
}

// dial establishes and authenticates a fresh IMAP session. It reads
// only immutable configuration and may be called without the lock.
func (c *Connector) dial() (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{Username: c.username, Err: err}
	}

	return client, nil
}

// EnsureConnected returns once the session is usable. A held session is
// verified with a NOOP; a dropped or absent session is re-established
// with capped exponential backoff until the context is canceled.
func (c *Connector) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected && c.client != nil {
		client := c.client
		c.mu.Unlock()
		if err := client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Warn("mailbox session dropped by server, reconnecting")
		c.Disconnect()
	} else {
		c.mu.Unlock()
	}

	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		delay := c.nextDelay()
		c.logger.Warn("mailbox connect failed",
			"error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("reconnect aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// Disconnect logs out and releases the session. It is idempotent and
// always safe to call.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Logout().Wait(); err != nil {
		_ = client.Close()
	}
}

// FailSession records a protocol-level failure observed by a caller
// mid-run. The session is torn down so the next cycle reconnects.
func (c *Connector) FailSession(err error) {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.state = StateError
	c.lastErr = err
	c.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

// TestConnection performs a connect, authenticate, and disconnect cycle
// on a throwaway session without touching the held one.
func (c *Connector) TestConnection(_ context.Context) error {
	client, err := c.dial()
	if err != nil {
		return err
	}
	return client.Logout().Wait()
}

// IsConnected reports whether a session is currently held.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.client != nil
}

// State returns the current session state.
func (c *Connector) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection or authentication error.
func (c *Connector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Client returns the held IMAP session, or nil when disconnected.
func (c *Connector) Client() *imapclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// nextDelay returns the jittered backoff delay for the current retry
// count.
func (c *Connector) nextDelay() time.Duration {
	c.mu.Lock()
	retries := c.retries
	c.mu.Unlock()

	// retries was already incremented by the failed attempt.
	if retries > 0 {
		retries--
	}
	return addJitter(backoffDelay(c.backoffBase, c.backoffMax, retries), c.backoffMax)
}

// backoffDelay computes base<<retry capped at max.
func backoffDelay(base, max time.Duration, retry int) time.Duration {
	d := base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// addJitter extends a delay by up to 25%, never exceeding max.
func addJitter(d, max time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	j := d + time.Duration(rand.Int63n(int64(d)/4+1))
	if j > max {
		return max
	}
	return j
}
