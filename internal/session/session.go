package session

import (
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/pairkvm/kvm/internal/transport"
)

// core is the lifecycle state shared by ControllerSession and
// CaptureSession: a session owns its transport and all derived objects
// (§3 "Lifecycle"). A new accept does not cancel a live session:
// cmd/kvm-capture serves one session at a time, and a connection accepted
// meanwhile waits until the current session ends. It is
// grounded directly on the reference agent's Session.Stop/doCleanup
// pattern (sync.Once-guarded teardown, a done channel, a WaitGroup for
// loops the session started).
type core struct {
	id   string
	conn net.Conn
	mux  *transport.Multiplexer
	log  *slog.Logger

	done chan struct{}

	mu     sync.Mutex
	active bool

	stopOnce    sync.Once
	cleanupOnce sync.Once
	wg          sync.WaitGroup

	// cleanupFns are run in order during doCleanup, supplied by the role
	// driver (ControllerSession/CaptureSession) so this package does not
	// need to know about encoders/capturers/clipboard syncs directly.
	cleanupFns []func()
}

func newCore(conn net.Conn, log *slog.Logger) *core {
	id := uuid.NewString()
	c := &core{
		id:     id,
		conn:   conn,
		done:   make(chan struct{}),
		active: true,
	}
	c.log = log.With("session", id)
	return c
}

// ID returns the session's correlation id.
func (c *core) ID() string { return c.id }

// Done returns a channel closed when the session is stopped.
func (c *core) Done() <-chan struct{} { return c.done }

// addCleanup registers a teardown function to run once, in registration
// order, when the session stops.
func (c *core) addCleanup(fn func()) {
	c.cleanupFns = append(c.cleanupFns, fn)
}

// Stop terminates the session: it closes the done channel, closes the
// underlying connection to unblock the transport read loop, waits for any
// goroutines the role driver started, then runs cleanup exactly once.
// Idempotent (§3, §5 "Cancellation").
func (c *core) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if !c.active {
			c.mu.Unlock()
			return
		}
		c.active = false
		c.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		c.wg.Wait()
		c.doCleanup()

		c.log.Info("session stopped")
	})
}

func (c *core) doCleanup() {
	c.cleanupOnce.Do(func() {
		for _, fn := range c.cleanupFns {
			fn()
		}
	})
}

// IsActive reports whether the session has not yet been stopped.
func (c *core) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
