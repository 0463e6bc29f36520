// Package clipboard implements the clipboard synchronisation component
// (§4.7): a polling debouncer over a platform.Clipboard collaborator that
// emits monotonically-increasing-id Clipboard messages, and applies
// inbound ones idempotently.
package clipboard

import (
	"sync"
	"time"

	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/platform"
)

// DefaultPollInterval is the sampling period named in §4.7.
const DefaultPollInterval = 200 * time.Millisecond

// DefaultMaxBytes is a conservative cap on clipboard payload size; the
// exact value is not specified, so a generous but bounded limit is chosen
// to avoid an unbounded structured record (§3 "size cap").
const DefaultMaxBytes = 1 << 20

// Sync polls a platform.Clipboard, debounces by its change counter, and
// emits Clipboard messages with a strictly increasing per-sender id. It
// also applies inbound Clipboard messages idempotently (§3, §4.7).
type Sync struct {
	provider     platform.Clipboard
	pollInterval time.Duration
	maxBytes     int

	// Gate reports whether outbound polling should currently emit
	// updates (§4.7 "on the Controller side, the poller only emits while
	// in REMOTE state"). A nil Gate means always emit (Capture side,
	// "emits while any session is connected" is enforced by only running
	// the Sync while a session exists).
	Gate func() bool
	// OnSend is invoked with each outbound Clipboard message to hand to
	// the transport. Must not block.
	OnSend func(message.Clipboard)
	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time

	mu                  sync.Mutex
	lastSeenChangeCount uint64
	haveSeenChangeCount bool
	nextSendID          uint64
	lastAppliedID       uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Sync over provider. Call Start to begin polling.
func New(provider platform.Clipboard, pollInterval time.Duration, maxBytes int) *Sync {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Sync{
		provider:     provider,
		pollInterval: pollInterval,
		maxBytes:     maxBytes,
		Now:          time.Now,
	}
}

// Start begins the polling loop on its own goroutine.
func (s *Sync) Start() {
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.pollLoop()
}

// Stop halts the polling loop and waits for it to exit.
func (s *Sync) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sync) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Sync) poll() {
	if s.Gate != nil && !s.Gate() {
		return
	}

	count, err := s.provider.ChangeCount()
	if err != nil {
		return
	}

	s.mu.Lock()
	unseen := !s.haveSeenChangeCount || count != s.lastSeenChangeCount
	s.haveSeenChangeCount = true
	s.lastSeenChangeCount = count
	s.mu.Unlock()
	if !unseen {
		return
	}

	text, err := s.provider.ReadText()
	if err != nil || text == "" || len(text) > s.maxBytes {
		return
	}

	s.mu.Lock()
	s.nextSendID++
	id := s.nextSendID
	s.mu.Unlock()

	if s.OnSend != nil {
		s.OnSend(message.Clipboard{
			ID:       id,
			TextKind: "text",
			Text:     text,
			TSUnixMS: s.Now().UnixMilli(),
		})
	}
}

// Apply processes an inbound Clipboard message. Per §3/§8, ids are
// strictly increasing per sender; applying the same id (or an older one)
// twice is a no-op. After a successful apply, the local change counter is
// re-read so the poller does not immediately echo the applied payload
// back to the sender (§4.7).
func (s *Sync) Apply(msg message.Clipboard) error {
	s.mu.Lock()
	if msg.ID <= s.lastAppliedID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.provider.WriteText(msg.Text); err != nil {
		return err
	}

	count, _ := s.provider.ChangeCount()

	s.mu.Lock()
	if msg.ID > s.lastAppliedID {
		s.lastAppliedID = msg.ID
	}
	s.haveSeenChangeCount = true
	s.lastSeenChangeCount = count
	s.mu.Unlock()
	return nil
}
