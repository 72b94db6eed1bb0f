package segmenter

import (
	"encoding/binary"

	"github.com/zsiec/omafpack/media"
)

// buildHEVCDecoderConfig builds an HEVCDecoderConfigurationRecord
// (ISO 14496-15 §8.3.3.1.2) from raw VPS, SPS, and PPS NAL data without
// start codes. Profile, tier, level, and compatibility fields are copied
// from the SPS profile_tier_level bytes, which start at a byte boundary
// right after the one-byte sps_video_parameter_set_id/max_sub_layers field.
func buildHEVCDecoderConfig(vps, sps, pps []byte) []byte {
	if len(sps) < 15 || len(pps) == 0 {
		return nil
	}

	// profile_tier_level starts at sps[3]: profile_space(2) tier(1) idc(5),
	// then 4 bytes compatibility flags, 6 bytes constraint flags, 1 byte level.
	ptl := sps[3:15]

	buf := make([]byte, 0, 23+len(vps)+len(sps)+len(pps)+15)
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, ptl[0]) // general_profile_space/tier/idc
	buf = append(buf, ptl[1:5]...)
	buf = append(buf, ptl[5:11]...)
	buf = append(buf, ptl[11]) // general_level_idc

	buf = append(buf, 0xF0, 0x00) // min_spatial_segmentation_idc + reserved
	buf = append(buf, 0xFC)       // parallelismType + reserved
	buf = append(buf, 0xFD)       // chromaFormat 4:2:0 + reserved
	buf = append(buf, 0xF8)       // bitDepthLumaMinus8 + reserved
	buf = append(buf, 0xF8)       // bitDepthChromaMinus8 + reserved
	buf = append(buf, 0x00, 0x00) // avgFrameRate
	// constantFrameRate(2) numTemporalLayers(3) temporalIdNested(1) lengthSizeMinusOne(2)
	buf = append(buf, 0x0F)

	arrays := 0
	if len(vps) > 0 {
		arrays++
	}
	arrays += 2 // SPS + PPS
	buf = append(buf, byte(arrays))

	appendArray := func(nalType byte, nal []byte) {
		buf = append(buf, nalType)
		buf = append(buf, 0x00, 0x01)
		buf = append(buf, byte(len(nal)>>8), byte(len(nal)))
		buf = append(buf, nal...)
	}
	if len(vps) > 0 {
		appendArray(0x20, vps) // VPS array, NAL type 32
	}
	appendArray(0x21, sps) // SPS array, NAL type 33
	appendArray(0x22, pps) // PPS array, NAL type 34

	return buf
}

// LengthPrefixed converts NALUs into the 4-byte length-prefixed sample
// payload format used inside fragmented MP4 samples.
func LengthPrefixed(nalus [][]byte) []byte {
	total := 0
	for _, n := range nalus {
		total += 4 + len(n)
	}
	out := make([]byte, 0, total)
	for _, n := range nalus {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n)))
		out = append(out, lenBuf[:]...)
		out = append(out, n...)
	}
	return out
}

// decoderNalus pulls VPS/SPS/PPS out of a CodedMeta's decoder config.
func decoderNalus(meta *media.CodedMeta) (vps, sps, pps []byte) {
	return meta.DecoderConfig[media.ConfigVPS],
		meta.DecoderConfig[media.ConfigSPS],
		meta.DecoderConfig[media.ConfigPPS]
}
