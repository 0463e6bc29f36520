package videostream

// bitReader reads individual bits out of an RBSP byte slice, MSB first.
// Grounded on the Exp-Golomb reader used for SPS dimension extraction in
// the retrieved scrcpy-style mirroring tool.
type bitReader struct {
	b []byte
	i int // bit index
}

func (br *bitReader) u(n int) (uint, bool) {
	if n <= 0 {
		return 0, true
	}
	var v uint
	for k := 0; k < n; k++ {
		byteIndex := br.i / 8
		if byteIndex >= len(br.b) {
			return 0, false
		}
		bitIndex := 7 - (br.i % 8)
		bit := (br.b[byteIndex] >> uint(bitIndex)) & 1
		v = (v << 1) | uint(bit)
		br.i++
	}
	return v, true
}

func (br *bitReader) skip(n int) bool { _, ok := br.u(n); return ok }

// ue reads an Exp-Golomb unsigned-coded value.
func (br *bitReader) ue() (uint, bool) {
	var leadingZeros int
	for {
		b, ok := br.u(1)
		if !ok {
			return 0, false
		}
		if b == 0 {
			leadingZeros++
		} else {
			break
		}
	}
	if leadingZeros == 0 {
		return 0, true
	}
	val, ok := br.u(leadingZeros)
	if !ok {
		return 0, false
	}
	return (1 << leadingZeros) - 1 + val, true
}

// se reads an Exp-Golomb signed-coded value.
func (br *bitReader) se() (int, bool) {
	uev, ok := br.ue()
	if !ok {
		return 0, false
	}
	k := int(uev)
	if k%2 == 0 {
		return -k / 2, true
	}
	return (k + 1) / 2, true
}

// hasHighProfileChromaFields reports whether an H.264 profile_idc carries
// the extra chroma_format_idc / scaling-matrix fields in its SPS.
func hasHighProfileChromaFields(profileIDC byte) bool {
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	default:
		return false
	}
}

// ParseH264SPSDimensions extracts the coded picture width/height from an
// H.264 SPS NAL (Annex-B payload, start code already stripped). It returns
// ok=false if the SPS is truncated or malformed in a way that prevents
// extraction; callers should treat that as "dimensions unknown", not as a
// parse error that feeds the transport resync counter.
func ParseH264SPSDimensions(nal []byte) (w, h uint16, ok bool) {
	if len(nal) < 4 || h264NALType(nal) != h264TypeSPS {
		return 0, 0, false
	}

	// Strip emulation-prevention bytes (00 00 03 -> 00 00) from the RBSP,
	// skipping the NAL header byte.
	rbsp := make([]byte, 0, len(nal)-1)
	for i := 1; i < len(nal); i++ {
		if i+2 < len(nal) && nal[i] == 0 && nal[i+1] == 0 && nal[i+2] == 3 {
			rbsp = append(rbsp, 0, 0)
			i += 2
			continue
		}
		rbsp = append(rbsp, nal[i])
	}
	br := bitReader{b: rbsp}

	if !br.skip(8 + 8 + 8) { // profile_idc, constraint flags, level_idc
		return 0, 0, false
	}
	if _, ok2 := br.ue(); !ok2 { // seq_parameter_set_id
		return 0, 0, false
	}

	chromaFormatIDC := uint(1)
	profileIDC := rbsp[0]
	if hasHighProfileChromaFields(profileIDC) {
		var ok2 bool
		if chromaFormatIDC, ok2 = br.ue(); !ok2 {
			return 0, 0, false
		}
		if chromaFormatIDC == 3 {
			if _, ok2 = br.u(1); !ok2 {
				return 0, 0, false
			}
		}
		if _, ok2 = br.ue(); !ok2 { // bit_depth_luma_minus8
			return 0, 0, false
		}
		if _, ok2 = br.ue(); !ok2 { // bit_depth_chroma_minus8
			return 0, 0, false
		}
		if !br.skip(1) { // qpprime_y_zero_transform_bypass_flag
			return 0, 0, false
		}
		seqScalingPresent, ok2 := br.u(1)
		if !ok2 {
			return 0, 0, false
		}
		if seqScalingPresent == 1 {
			n := 8
			if chromaFormatIDC == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				present, ok3 := br.u(1)
				if !ok3 {
					return 0, 0, false
				}
				if present != 1 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				lastScale, nextScale := 8, 8
				for j := 0; j < size; j++ {
					if nextScale != 0 {
						delta, ok4 := br.se()
						if !ok4 {
							return 0, 0, false
						}
						nextScale = (lastScale + delta + 256) % 256
					}
					if nextScale != 0 {
						lastScale = nextScale
					}
				}
			}
		}
	}

	if _, ok2 := br.ue(); !ok2 { // log2_max_frame_num_minus4
		return 0, 0, false
	}
	pictureOrderCountType, ok2 := br.ue()
	if !ok2 {
		return 0, 0, false
	}
	switch pictureOrderCountType {
	case 0:
		if _, ok2 = br.ue(); !ok2 { // log2_max_pic_order_cnt_lsb_minus4
			return 0, 0, false
		}
	case 1:
		if !br.skip(1) { // delta_pic_order_always_zero_flag
			return 0, 0, false
		}
		if _, ok2 = br.se(); !ok2 {
			return 0, 0, false
		}
		if _, ok2 = br.se(); !ok2 {
			return 0, 0, false
		}
		n, ok3 := br.ue()
		if !ok3 {
			return 0, 0, false
		}
		for i := uint(0); i < n; i++ {
			if _, ok2 = br.se(); !ok2 {
				return 0, 0, false
			}
		}
	}

	if _, ok2 = br.ue(); !ok2 { // max_num_ref_frames
		return 0, 0, false
	}
	if !br.skip(1) { // gaps_in_frame_num_value_allowed_flag
		return 0, 0, false
	}

	picWidthMinus1, ok2 := br.ue()
	if !ok2 {
		return 0, 0, false
	}
	picHeightMinus1, ok2 := br.ue()
	if !ok2 {
		return 0, 0, false
	}
	frameMbsOnlyFlag, ok2 := br.u(1)
	if !ok2 {
		return 0, 0, false
	}
	if frameMbsOnlyFlag == 0 {
		if !br.skip(1) { // mb_adaptive_frame_field_flag
			return 0, 0, false
		}
	}
	if !br.skip(1) { // direct_8x8_inference_flag
		return 0, 0, false
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	frameCroppingFlag, ok2 := br.u(1)
	if !ok2 {
		return 0, 0, false
	}
	if frameCroppingFlag == 1 {
		if cropLeft, ok2 = br.ue(); !ok2 {
			return 0, 0, false
		}
		if cropRight, ok2 = br.ue(); !ok2 {
			return 0, 0, false
		}
		if cropTop, ok2 = br.ue(); !ok2 {
			return 0, 0, false
		}
		if cropBottom, ok2 = br.ue(); !ok2 {
			return 0, 0, false
		}
	}

	mbWidth := picWidthMinus1 + 1
	mbHeight := (picHeightMinus1 + 1) * (2 - frameMbsOnlyFlag)

	var subW, subH uint = 1, 1
	switch chromaFormatIDC {
	case 1:
		subW, subH = 2, 2
	case 2:
		subW, subH = 2, 1
	}
	cropUnitX := subW
	cropUnitY := subH * (2 - frameMbsOnlyFlag)

	width := int(mbWidth*16) - int((cropLeft+cropRight)*cropUnitX)
	height := int(mbHeight*16) - int((cropTop+cropBottom)*cropUnitY)

	if width <= 0 || height <= 0 || width > 65535 || height > 65535 {
		return 0, 0, false
	}
	return uint16(width), uint16(height), true
}
