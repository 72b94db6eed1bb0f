package nalu

import "github.com/zsiec/omafpack/media"

// Omnidirectional SEI payload types (ITU-T H.265 Annex D).
const (
	SEIEquirectangularProjection = 150
	SEICubemapProjection         = 151
	SEIRegionwisePacking         = 155
)

// parseProjectionSEI walks the SEI messages of a prefix SEI NALU and returns
// the projection value signalled by an equirectangular or cubemap projection
// message, if one is present.
func parseProjectionSEI(nal []byte) (uint8, bool) {
	if len(nal) < 3 {
		return 0, false
	}
	rbsp := removeEmulationPrevention(nal[2:])
	i := 0
	for i < len(rbsp) {
		if rbsp[i] == 0x80 {
			break
		}

		payloadType := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadType += 255
			i++
		}
		if i >= len(rbsp) {
			break
		}
		payloadType += int(rbsp[i])
		i++

		payloadSize := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadSize += 255
			i++
		}
		if i >= len(rbsp) {
			break
		}
		payloadSize += int(rbsp[i])
		i++

		if i+payloadSize > len(rbsp) {
			break
		}

		switch payloadType {
		case SEIEquirectangularProjection:
			return uint8(media.ProjectionERP), true
		case SEICubemapProjection:
			return uint8(media.ProjectionCubemap), true
		}
		i += payloadSize
	}
	return 0, false
}

// BuildProjectionSEI builds the prefix SEI NALU carrying the omnidirectional
// projection message for the given projection (payload type 150 for ERP,
// 151 for cubemap).
func BuildProjectionSEI(proj media.Projection) media.Nalu {
	payloadType := SEIEquirectangularProjection
	if proj == media.ProjectionCubemap {
		payloadType = SEICubemapProjection
	}
	// cancel=0, persistence=1, remaining flags zero
	return media.Nalu{Data: buildSEINalu(payloadType, []byte{0x40})}
}

// BuildRegionwisePackingSEI builds the prefix SEI NALU carrying the
// region-wise packing message (payload type 155) for the given RWPK.
func BuildRegionwisePackingSEI(rwpk *media.RegionWisePacking) media.Nalu {
	bw := &bitWriter{}
	bw.writeBits(0, 1) // rwp_cancel_flag
	bw.writeBits(1, 1) // rwp_persistence_flag
	if rwpk.ConstituentPicMatching {
		bw.writeBits(1, 1)
	} else {
		bw.writeBits(0, 1)
	}
	bw.writeBits(0, 5) // reserved
	bw.writeBits(uint64(len(rwpk.RectRegions)), 8)
	bw.writeBits(uint64(rwpk.ProjPicWidth), 32)
	bw.writeBits(uint64(rwpk.ProjPicHeight), 32)
	bw.writeBits(uint64(rwpk.PackedPicWidth), 16)
	bw.writeBits(uint64(rwpk.PackedPicHeight), 16)
	for i := range rwpk.RectRegions {
		r := &rwpk.RectRegions[i]
		bw.writeBits(0, 4) // reserved
		bw.writeBits(uint64(r.TransformType), 3)
		bw.writeBits(0, 1) // rwp_guard_band_flag
		bw.writeBits(uint64(r.ProjRegWidth), 32)
		bw.writeBits(uint64(r.ProjRegHeight), 32)
		bw.writeBits(uint64(r.ProjRegTop), 32)
		bw.writeBits(uint64(r.ProjRegLeft), 32)
		bw.writeBits(uint64(r.PackedRegWidth), 16)
		bw.writeBits(uint64(r.PackedRegHeight), 16)
		bw.writeBits(uint64(r.PackedRegTop), 16)
		bw.writeBits(uint64(r.PackedRegLeft), 16)
	}
	return media.Nalu{Data: buildSEINalu(SEIRegionwisePacking, bw.bytes())}
}

// buildSEINalu assembles a prefix SEI NALU (without start code) from one SEI
// message: 2-byte NAL header, payload type and size, payload, trailing bits,
// with emulation prevention applied.
func buildSEINalu(payloadType int, payload []byte) []byte {
	rbsp := make([]byte, 0, len(payload)+8)

	for payloadType >= 255 {
		rbsp = append(rbsp, 0xFF)
		payloadType -= 255
	}
	rbsp = append(rbsp, byte(payloadType))

	size := len(payload)
	for size >= 255 {
		rbsp = append(rbsp, 0xFF)
		size -= 255
	}
	rbsp = append(rbsp, byte(size))

	rbsp = append(rbsp, payload...)
	rbsp = append(rbsp, 0x80) // rbsp_stop_one_bit + alignment

	out := make([]byte, 0, len(rbsp)+6)
	out = append(out, HEVCNALSEIPrefix<<1, 0x01)
	out = append(out, insertEmulationPrevention(rbsp)...)
	return out
}
