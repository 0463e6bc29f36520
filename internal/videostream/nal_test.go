package videostream

import (
	"bytes"
	"testing"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestSplitAnnexB(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00}
	pps := []byte{0x68, 0xCE}
	slice := []byte{0x65, 0x88, 0x84}
	stream := annexB(sps, pps, slice)

	got := SplitAnnexB(stream)
	if len(got) != 3 {
		t.Fatalf("expected 3 NALUs, got %d", len(got))
	}
	if !bytes.Equal(got[0], sps) || !bytes.Equal(got[1], pps) || !bytes.Equal(got[2], slice) {
		t.Fatalf("unexpected NALU split: %v", got)
	}
}

func TestParameterSetCacheUpdate(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00}
	pps := []byte{0x68, 0xCE}

	var cache Cache
	if changed := cache.Update([][]byte{sps, pps}); !changed {
		t.Fatal("expected change on first parameter sets")
	}
	if !cache.Current().Complete() {
		t.Fatal("expected complete parameter sets after update")
	}
	if cache.Current().Codec != CodecH264 {
		t.Fatalf("expected CodecH264, got %v", cache.Current().Codec)
	}

	if changed := cache.Update([][]byte{sps, pps}); changed {
		t.Fatal("expected no change for identical parameter sets")
	}
}

func TestLeadingParameterSetNALsOrder(t *testing.T) {
	sets := ParamSets{Codec: CodecH264, SPS: []byte{1}, PPS: []byte{2}}
	nals := sets.LeadingParameterSetNALs()
	if len(nals) != 2 || nals[0][0] != 1 || nals[1][0] != 2 {
		t.Fatalf("unexpected order: %v", nals)
	}
}

func TestToLengthPrefixed(t *testing.T) {
	nalus := [][]byte{{0xAA, 0xBB}, {0xCC}}
	out := ToLengthPrefixed(nalus)
	want := []byte{0, 0, 0, 2, 0xAA, 0xBB, 0, 0, 0, 1, 0xCC}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestIsKeyframeNAL(t *testing.T) {
	idr := []byte{0x65, 0x00}
	nonIdr := []byte{0x61, 0x00}
	if !IsKeyframeNAL(idr, CodecH264) {
		t.Fatal("expected IDR to be a keyframe NAL")
	}
	if IsKeyframeNAL(nonIdr, CodecH264) {
		t.Fatal("expected non-IDR slice to not be a keyframe NAL")
	}
}

func TestParseH264SPSDimensionsRejectsTruncated(t *testing.T) {
	if _, _, ok := ParseH264SPSDimensions([]byte{0x67, 0x42}); ok {
		t.Fatal("expected truncated SPS to fail to parse")
	}
	if _, _, ok := ParseH264SPSDimensions([]byte{0x68, 0x42, 0x00, 0x00}); ok {
		t.Fatal("expected non-SPS NAL type to be rejected")
	}
}
