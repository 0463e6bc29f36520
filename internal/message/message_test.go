package message

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode(%v): %v", msg, err)
	}
	if encoded[len(encoded)-1] != '\n' {
		t.Fatalf("Encode(%v) missing trailing newline", msg)
	}
	if encoded[0] != '{' {
		t.Fatalf("Encode(%v) first byte %q, want '{'", msg, encoded[0])
	}
	line := bytes.TrimSuffix(encoded, []byte{'\n'})
	got, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode(%s): %v", line, err)
	}
	return got
}

func TestRoundTripAllVariants(t *testing.T) {
	cases := []Message{
		Keyboard{VKCode: 65, Modifiers: 0x3, IsDown: true},
		Mouse{EventType: MouseScroll, X: 10, Y: 20, ScrollY: 3, ScrollPhase: ScrollPhaseBegan, MomentumPhase: MomentumPhaseNone},
		Gesture{GestureKind: GestureSwipe, Direction: "left", DX: -8},
		WarpCursor{X: 3820, Y: 540},
		StartVideoStream{},
		StopVideoStream{},
		DesiredDisplayMode{Width: 1920, Height: 1080, Scale: 2, RefreshRate: 60},
		ScreenInfo{Width: 3840, Height: 2160, IsVirtual: true, DisplayID: "1"},
		ControlRelease{},
		VirtualDisplayReady{Width: 1920, Height: 1080, Scale: 2, DisplayID: "1", IsVirtual: true},
		Capabilities{SupportsVirtualDisplay: true, HostOSVersion: "macOS 14.0"},
		Clipboard{ID: 1, TextKind: "text", Text: "hello", TSUnixMS: 1000},
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if got != c {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestDecodeUnknownKindIsSkippable(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"somethingNew","x":1}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDecodeRejectsEmbeddedNewline(t *testing.T) {
	_, err := Decode([]byte("{\"kind\":\"controlRelease\"\n}"))
	if err == nil {
		t.Fatal("expected error for embedded newline")
	}
}
