package clipboard

import (
	"testing"
	"time"

	"github.com/pairkvm/kvm/internal/message"
	"github.com/pairkvm/kvm/internal/platform/fake"
)

// TestClipboardIdempotence covers scenario 4: applying the same id twice
// has no effect the second time.
func TestClipboardIdempotence(t *testing.T) {
	provider := &fake.Clipboard{}
	s := New(provider, time.Hour, 0) // poll loop not started in this test

	if err := s.Apply(message.Clipboard{ID: 1, TextKind: "text", Text: "hello"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := provider.ReadText()
	if got != "hello" {
		t.Fatalf("expected clipboard to be set to hello, got %q", got)
	}
	before, _ := provider.ChangeCount()

	if err := s.Apply(message.Clipboard{ID: 1, TextKind: "text", Text: "hello"}); err != nil {
		t.Fatalf("Apply (repeat): %v", err)
	}
	after, _ := provider.ChangeCount()
	if after != before {
		t.Fatalf("expected no change count bump on repeated apply, before=%d after=%d", before, after)
	}
}

func TestClipboardPollEmitsMonotonicIDs(t *testing.T) {
	provider := &fake.Clipboard{}
	s := New(provider, 0, 0)

	var sent []message.Clipboard
	s.OnSend = func(m message.Clipboard) { sent = append(sent, m) }

	provider.SetTextExternally("first")
	s.poll()
	provider.SetTextExternally("second")
	s.poll()

	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[0].ID != 1 || sent[1].ID != 2 {
		t.Fatalf("expected monotonic ids 1,2 got %d,%d", sent[0].ID, sent[1].ID)
	}
}

func TestClipboardPollSkipsWhenChangeCounterStable(t *testing.T) {
	provider := &fake.Clipboard{}
	provider.SetTextExternally("only")

	s := New(provider, 0, 0)
	var sent []message.Clipboard
	s.OnSend = func(m message.Clipboard) { sent = append(sent, m) }

	s.poll()
	s.poll()

	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 send across stable polls, got %d", len(sent))
	}
}

func TestClipboardGateBlocksSend(t *testing.T) {
	provider := &fake.Clipboard{}
	provider.SetTextExternally("blocked")

	s := New(provider, 0, 0)
	s.Gate = func() bool { return false }
	var sent []message.Clipboard
	s.OnSend = func(m message.Clipboard) { sent = append(sent, m) }

	s.poll()
	if len(sent) != 0 {
		t.Fatalf("expected gate to suppress send, got %d", len(sent))
	}
}

func TestClipboardAppliedPayloadNotEchoed(t *testing.T) {
	provider := &fake.Clipboard{}
	s := New(provider, 0, 0)
	var sent []message.Clipboard
	s.OnSend = func(m message.Clipboard) { sent = append(sent, m) }

	if err := s.Apply(message.Clipboard{ID: 1, Text: "from-peer"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.poll()
	if len(sent) != 0 {
		t.Fatalf("expected applied payload to not be re-sent, got %d sends", len(sent))
	}
}
