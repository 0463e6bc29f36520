package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		size uint32
		ts   uint32
		key  bool
	}{
		{1, 0, false},
		{200000, 123456, true},
		{MaxFrameSize, 0xFFFFFFFF, false},
	}
	for _, c := range cases {
		buf := make([]byte, HeaderSize)
		EncodeHeader(buf, c.size, c.ts, c.key)
		got, err := ParseHeader(buf)
		if err != nil {
			t.Fatalf("ParseHeader(%v) error: %v", c, err)
		}
		if got.Size != c.size || got.TimestampMS != c.ts || got.Keyframe() != c.key {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestHeaderBoundaries(t *testing.T) {
	buf := make([]byte, HeaderSize)

	EncodeHeader(buf, 0, 0, false)
	if _, err := ParseHeader(buf); err != ErrHeaderInvalid {
		t.Fatalf("size=0 expected ErrHeaderInvalid, got %v", err)
	}

	EncodeHeader(buf, MaxFrameSize+1, 0, false)
	if _, err := ParseHeader(buf); err != ErrHeaderInvalid {
		t.Fatalf("size=max+1 expected ErrHeaderInvalid, got %v", err)
	}

	if _, err := ParseHeader(buf[:4]); err != ErrHeaderInvalid {
		t.Fatalf("short buffer expected ErrHeaderInvalid, got %v", err)
	}
}

func TestIsStructuredPrefix(t *testing.T) {
	if !IsStructuredPrefix('{') {
		t.Fatal("expected '{' to be structured prefix")
	}
	if IsStructuredPrefix(0x00) || IsStructuredPrefix('A') {
		t.Fatal("unexpected structured prefix match")
	}
}
