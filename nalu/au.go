package nalu

import "github.com/zsiec/omafpack/media"

// SplitAccessUnits splits an Annex B elementary stream into access units.
// Each returned access unit is a fresh Annex B buffer with 4-byte start
// codes. A new access unit begins at an access unit delimiter or at a VCL
// NALU whose first-slice flag is set once the current unit already holds a
// slice; parameter sets and SEI between pictures attach to the following
// picture.
func SplitAccessUnits(data []byte, codec media.Codec) [][]byte {
	minLen, typeOf, aud := 2, HEVCNALType, byte(HEVCNALAUD)
	if codec == media.CodecH264 {
		minLen, typeOf, aud = 1, AVCNALType, AVCNALAUD
	}
	units := ScanAnnexB(data, minLen, typeOf)

	var aus [][]byte
	var cur, pending []byte
	curHasVCL := false

	flush := func() {
		if len(cur) > 0 {
			aus = append(aus, cur)
			cur = nil
			curHasVCL = false
		}
	}

	for _, u := range units {
		vcl := isVCL(u.Type, codec)
		if u.Type == aud {
			cur = append(cur, pending...)
			pending = nil
			flush()
		} else if vcl && curHasVCL && isFirstSlice(u, codec) {
			flush()
		} else if !vcl && curHasVCL {
			// Held until the next slice shows which picture it belongs to.
			pending = append(pending, 0, 0, 0, 1)
			pending = append(pending, u.Data...)
			continue
		}
		cur = append(cur, pending...)
		pending = nil
		cur = append(cur, 0, 0, 0, 1)
		cur = append(cur, u.Data...)
		if vcl {
			curHasVCL = true
		}
	}
	cur = append(cur, pending...)
	flush()
	return aus
}

// IsKeyFrameAU reports whether the access unit contains a random access
// point slice.
func IsKeyFrameAU(au []byte, codec media.Codec) bool {
	if codec == media.CodecH264 {
		for _, u := range ScanAnnexB(au, 1, AVCNALType) {
			if u.Type == AVCNALIDR {
				return true
			}
		}
		return false
	}
	for _, u := range ScanAnnexB(au, 2, HEVCNALType) {
		if IsHEVCKeyframe(u.Type) {
			return true
		}
	}
	return false
}

func isVCL(nalType byte, codec media.Codec) bool {
	if codec == media.CodecH264 {
		return IsAVCVCL(nalType)
	}
	return IsHEVCVCL(nalType)
}

// isFirstSlice reports whether a VCL NALU starts a new picture: the HEVC
// first_slice_segment_in_pic_flag, or an H.264 first_mb_in_slice of zero.
func isFirstSlice(u Unit, codec media.Codec) bool {
	if codec == media.CodecH264 {
		return len(u.Data) > 1 && u.Data[1]&0x80 != 0
	}
	return len(u.Data) > 2 && u.Data[2]&0x80 != 0
}
