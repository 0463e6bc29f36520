// Package videostream implements Annex-B NAL unit parsing for the video
// stream framing described in §4.3: scanning start codes, classifying NAL
// units, tracking the latest parameter sets (VPS/SPS/PPS) and detecting
// codec (H.264 vs HEVC) from the parameter-set NAL type.
package videostream

// Codec identifies the coded video format carried in a stream, detected
// from the first parameter-set NAL observed (§4.3).
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecHEVC
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	default:
		return "unknown"
	}
}

// H.264 (Annex B, nal_unit_type in the low 5 bits of the first byte).
const (
	h264TypeSlice       = 1
	h264TypeIDR         = 5
	h264TypeSPS         = 7
	h264TypePPS         = 8
)

// HEVC (nal_unit_type in bits 1-6 of the first byte).
const (
	hevcTypeIDRWRADL = 19
	hevcTypeIDRNLP   = 20
	hevcTypeVPS      = 32
	hevcTypeSPS      = 33
	hevcTypePPS      = 34
)

// SplitAnnexB splits an Annex-B bitstream into individual NAL units,
// stripping start codes. The returned slices alias b.
func SplitAnnexB(b []byte) [][]byte {
	var nalus [][]byte
	i := 0
	for {
		scStart, scEnd := findStartCode(b, i)
		if scStart < 0 {
			break
		}
		nextStart, _ := findStartCode(b, scEnd)
		if nextStart < 0 {
			if n := b[scEnd:]; len(n) > 0 {
				nalus = append(nalus, n)
			}
			break
		}
		if n := b[scEnd:nextStart]; len(n) > 0 {
			nalus = append(nalus, n)
		}
		i = nextStart
	}
	return nalus
}

// findStartCode finds the next Annex-B start code (00 00 01 or 00 00 00 01)
// at or after from, returning its start and the offset immediately past it.
func findStartCode(b []byte, from int) (int, int) {
	for i := from; i+3 <= len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			return i, i + 3
		}
		if i+4 <= len(b) && b[i] == 0 && b[i+1] == 0 && b[i+2] == 0 && b[i+3] == 1 {
			return i, i + 4
		}
	}
	return -1, -1
}

// h264NALType returns the nal_unit_type of an H.264 NAL.
func h264NALType(n []byte) uint8 {
	if len(n) == 0 {
		return 0
	}
	return n[0] & 0x1F
}

// hevcNALType returns the nal_unit_type of an HEVC NAL.
func hevcNALType(n []byte) uint8 {
	if len(n) < 2 {
		return 0
	}
	return (n[0] >> 1) & 0x3F
}

// ToLengthPrefixed converts a set of Annex-B NAL units (as returned by
// SplitAnnexB) into 4-byte-big-endian-length-prefixed form, for relay to a
// consumer that expects length-prefixed AVC/HEVC bitstreams (§4.3).
func ToLengthPrefixed(nalus [][]byte) []byte {
	total := 0
	for _, n := range nalus {
		total += 4 + len(n)
	}
	out := make([]byte, 0, total)
	for _, n := range nalus {
		out = append(out, byte(len(n)>>24), byte(len(n)>>16), byte(len(n)>>8), byte(len(n)))
		out = append(out, n...)
	}
	return out
}

// Describe reports coarse census information for a set of Annex-B NAL
// units: how many of each H.264/HEVC type were seen. Grounded on the
// reference agent's describeH264NALUs diagnostic helper, generalized to
// both codecs for logging.
func Describe(nalus [][]byte, codec Codec) map[uint8]int {
	counts := make(map[uint8]int)
	for _, n := range nalus {
		var t uint8
		switch codec {
		case CodecHEVC:
			t = hevcNALType(n)
		default:
			t = h264NALType(n)
		}
		counts[t]++
	}
	return counts
}
