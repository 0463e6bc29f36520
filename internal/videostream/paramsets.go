package videostream

// ParamSets is the latest known parameter-set NALs for a stream, along
// with the auto-detected codec (§4.3). All byte slices are Annex-B NAL
// payloads without the start code.
type ParamSets struct {
	Codec Codec
	VPS   []byte // HEVC only
	SPS   []byte
	PPS   []byte
}

// Complete reports whether all parameter sets required by Codec are
// known, i.e. a format description can be constructed (§4.3).
func (p ParamSets) Complete() bool {
	switch p.Codec {
	case CodecH264:
		return len(p.SPS) > 0 && len(p.PPS) > 0
	case CodecHEVC:
		return len(p.VPS) > 0 && len(p.SPS) > 0 && len(p.PPS) > 0
	default:
		return false
	}
}

// Cache tracks the most recently observed parameter sets for a decoded
// stream, rebuilding the decoder's notion of format on any change (§4.3:
// "decoder is rebuilt on parameter-set change").
type Cache struct {
	current ParamSets
}

// ParameterSetNALs extracts VPS/SPS/PPS NALs from a set of Annex-B units,
// classifying by H.264 or HEVC NAL type. It does not mutate the cache.
func ParameterSetNALs(nalus [][]byte) (sets ParamSets, any bool) {
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		t264 := h264NALType(n)
		switch t264 {
		case h264TypeSPS:
			sets.Codec = CodecH264
			sets.SPS = n
			any = true
			continue
		case h264TypePPS:
			sets.Codec = CodecH264
			sets.PPS = n
			any = true
			continue
		}
		t265 := hevcNALType(n)
		switch t265 {
		case hevcTypeVPS:
			sets.Codec = CodecHEVC
			sets.VPS = n
			any = true
		case hevcTypeSPS:
			sets.Codec = CodecHEVC
			sets.SPS = n
			any = true
		case hevcTypePPS:
			sets.Codec = CodecHEVC
			sets.PPS = n
			any = true
		}
	}
	return sets, any
}

// Update merges newly observed parameter sets into the cache and reports
// whether anything changed relative to what was previously known. The
// codec, once detected, is sticky unless a parameter set of the other
// codec's type is observed (which would indicate a stream restart).
func (c *Cache) Update(nalus [][]byte) (changed bool) {
	sets, found := ParameterSetNALs(nalus)
	if !found {
		return false
	}
	if sets.Codec != c.current.Codec && sets.Codec != CodecUnknown {
		c.current = ParamSets{Codec: sets.Codec}
		changed = true
	}
	if len(sets.VPS) > 0 && string(sets.VPS) != string(c.current.VPS) {
		c.current.VPS = sets.VPS
		changed = true
	}
	if len(sets.SPS) > 0 && string(sets.SPS) != string(c.current.SPS) {
		c.current.SPS = sets.SPS
		changed = true
	}
	if len(sets.PPS) > 0 && string(sets.PPS) != string(c.current.PPS) {
		c.current.PPS = sets.PPS
		changed = true
	}
	return changed
}

// Current returns the most recently cached parameter sets.
func (c *Cache) Current() ParamSets { return c.current }

// IsKeyframeNAL reports whether a NAL unit is an IDR/keyframe slice for
// the given codec.
func IsKeyframeNAL(n []byte, codec Codec) bool {
	if len(n) == 0 {
		return false
	}
	switch codec {
	case CodecHEVC:
		t := hevcNALType(n)
		return t == hevcTypeIDRWRADL || t == hevcTypeIDRNLP
	default:
		return h264NALType(n) == h264TypeIDR
	}
}

// LeadingParameterSetNALs returns, in Annex-B scan order, the
// codec-appropriate parameter-set NALs that must precede the coded slice
// of a keyframe payload, per the invariant in §8 ("Video frames with
// flags&0x01=1 carry, at their head in Annex-B scan order, the
// codec-appropriate full set of parameter-set NALs").
func (p ParamSets) LeadingParameterSetNALs() [][]byte {
	switch p.Codec {
	case CodecHEVC:
		var out [][]byte
		if len(p.VPS) > 0 {
			out = append(out, p.VPS)
		}
		if len(p.SPS) > 0 {
			out = append(out, p.SPS)
		}
		if len(p.PPS) > 0 {
			out = append(out, p.PPS)
		}
		return out
	default:
		var out [][]byte
		if len(p.SPS) > 0 {
			out = append(out, p.SPS)
		}
		if len(p.PPS) > 0 {
			out = append(out, p.PPS)
		}
		return out
	}
}
