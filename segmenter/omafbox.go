package segmenter

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/omafpack/media"
)

// OMAF sample-entry box payloads. These boxes are not covered by the mp4
// libraries, so they are encoded and decoded by hand against the OMAF
// RegionWisePackingBox / CoverageInformationBox / ProjectionFormatBox
// bitstream layouts.

// encodeRwpk encodes a RegionWisePackingBox payload (FullBox header plus
// RegionWisePackingStruct).
func encodeRwpk(rp *media.RegionPacking) []byte {
	buf := make([]byte, 0, 18+len(rp.Regions)*26)
	buf = append(buf, 0, 0, 0, 0) // version + flags

	var cpm byte
	if rp.ConstituentPictMatching {
		cpm = 0x80
	}
	buf = append(buf, cpm)
	buf = append(buf, byte(len(rp.Regions)))
	buf = binary.BigEndian.AppendUint32(buf, rp.ProjPictureWidth)
	buf = binary.BigEndian.AppendUint32(buf, rp.ProjPictureHeight)
	buf = binary.BigEndian.AppendUint16(buf, rp.PackedPictureWidth)
	buf = binary.BigEndian.AppendUint16(buf, rp.PackedPictureHeight)

	for _, r := range rp.Regions {
		buf = append(buf, 0) // reserved(3) guard_band_flag(1) packing_type(4): rectangular, no guard band
		buf = binary.BigEndian.AppendUint32(buf, r.ProjWidth)
		buf = binary.BigEndian.AppendUint32(buf, r.ProjHeight)
		buf = binary.BigEndian.AppendUint32(buf, r.ProjTop)
		buf = binary.BigEndian.AppendUint32(buf, r.ProjLeft)
		buf = append(buf, r.Transform<<5)
		buf = binary.BigEndian.AppendUint16(buf, r.PackedWidth)
		buf = binary.BigEndian.AppendUint16(buf, r.PackedHeight)
		buf = binary.BigEndian.AppendUint16(buf, r.PackedTop)
		buf = binary.BigEndian.AppendUint16(buf, r.PackedLeft)
	}
	return buf
}

// DecodeRwpk parses a RegionWisePackingBox payload.
func DecodeRwpk(data []byte) (*media.RegionPacking, error) {
	if len(data) < 18 {
		return nil, fmt.Errorf("%w: rwpk payload", media.ErrDataSize)
	}
	p := data[4:] // skip FullBox header

	rp := &media.RegionPacking{
		ConstituentPictMatching: p[0]&0x80 != 0,
	}
	numRegions := int(p[1])
	rp.ProjPictureWidth = binary.BigEndian.Uint32(p[2:])
	rp.ProjPictureHeight = binary.BigEndian.Uint32(p[6:])
	rp.PackedPictureWidth = binary.BigEndian.Uint16(p[10:])
	rp.PackedPictureHeight = binary.BigEndian.Uint16(p[12:])

	p = p[14:]
	for i := 0; i < numRegions; i++ {
		if len(p) < 26 {
			return nil, fmt.Errorf("%w: rwpk region %d", media.ErrDataSize, i)
		}
		rp.Regions = append(rp.Regions, media.PackedRegion{
			ProjWidth:    binary.BigEndian.Uint32(p[1:]),
			ProjHeight:   binary.BigEndian.Uint32(p[5:]),
			ProjTop:      binary.BigEndian.Uint32(p[9:]),
			ProjLeft:     binary.BigEndian.Uint32(p[13:]),
			Transform:    p[17] >> 5,
			PackedWidth:  binary.BigEndian.Uint16(p[18:]),
			PackedHeight: binary.BigEndian.Uint16(p[20:]),
			PackedTop:    binary.BigEndian.Uint16(p[22:]),
			PackedLeft:   binary.BigEndian.Uint16(p[24:]),
		})
		p = p[26:]
	}
	return rp, nil
}

// encodeCovi encodes a CoverageInformationBox payload: coverage shape plus
// one sphere region per coverage entry.
func encodeCovi(sphere *media.Spherical, shapeType uint8) []byte {
	buf := make([]byte, 0, 28)
	buf = append(buf, 0, 0, 0, 0) // version + flags
	buf = append(buf, shapeType)
	buf = append(buf, 1) // num_regions
	buf = append(buf, 0) // view_idc_presence + default_view_idc + reserved
	buf = binary.BigEndian.AppendUint32(buf, uint32(sphere.CAzimuth))
	buf = binary.BigEndian.AppendUint32(buf, uint32(sphere.CElevation))
	buf = binary.BigEndian.AppendUint32(buf, uint32(sphere.CTilt))
	buf = binary.BigEndian.AppendUint32(buf, sphere.RAzimuth)
	buf = binary.BigEndian.AppendUint32(buf, sphere.RElevation)
	buf = append(buf, 0) // interpolate + reserved
	return buf
}

// encodePovd encodes the ProjectedOmniVideoBox: a container holding the
// ProjectionFormatBox with the projection type.
func encodePovd(proj media.Projection) []byte {
	prfr := make([]byte, 0, 13)
	prfr = binary.BigEndian.AppendUint32(prfr, 13)
	prfr = append(prfr, 'p', 'r', 'f', 'r')
	prfr = append(prfr, 0, 0, 0, 0) // version + flags
	prfr = append(prfr, byte(proj)&0x1F)
	return prfr
}

// containerHeaderLen returns how many payload bytes to skip before the child
// boxes of a container type, or -1 for non-containers.
func containerHeaderLen(boxType string) int {
	switch boxType {
	case "moov", "trak", "tref", "mdia", "minf", "stbl", "povd":
		return 0
	case "stsd":
		return 8 // FullBox header + entry count
	case "hvc1", "hvc2":
		return 78 // VisualSampleEntry fields
	}
	return -1
}

// FindBox walks an ISO-BMFF byte buffer along the given box-type path and
// returns the payload of the first match.
func FindBox(data []byte, path ...string) ([]byte, error) {
	if len(path) == 0 {
		return data, nil
	}
	for len(data) >= 8 {
		size := binary.BigEndian.Uint32(data)
		boxType := string(data[4:8])
		if size < 8 || uint32(len(data)) < size {
			return nil, fmt.Errorf("%w: malformed box %q", media.ErrInvalidData, boxType)
		}
		payload := data[8:size]
		if boxType == path[0] {
			if len(path) == 1 {
				return payload, nil
			}
			skip := containerHeaderLen(boxType)
			if skip < 0 || skip > len(payload) {
				return nil, fmt.Errorf("%w: box %q is not a container", media.ErrInvalidData, boxType)
			}
			if inner, err := FindBox(payload[skip:], path[1:]...); err == nil {
				return inner, nil
			}
		}
		data = data[size:]
	}
	return nil, fmt.Errorf("%w: box %q not found", media.ErrInvalidData, path[0])
}
