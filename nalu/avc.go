package nalu

import (
	"fmt"

	"github.com/zsiec/omafpack/media"
)

// avcParser handles H.264 inputs. H.264 has no tile partitioning, so the
// picture is treated as a single full-size tile carrying the first slice NALU
// of the access unit; further slices of the same access unit are not kept.
type avcParser struct {
	headerData []byte
	projection uint8

	sps media.Nalu
	pps media.Nalu

	width  uint32
	height uint32
}

func newAvcParser(headerData []byte, projection uint8) *avcParser {
	return &avcParser{headerData: headerData, projection: projection}
}

func (p *avcParser) ParseHeaderData() error {
	units := ScanAnnexB(p.headerData, 1, AVCNALType)
	for _, u := range units {
		switch u.Type {
		case AVCNALSPS:
			if p.sps.Data == nil {
				p.sps.Data = u.Data
			}
		case AVCNALPPS:
			if p.pps.Data == nil {
				p.pps.Data = u.Data
			}
		}
	}

	if p.sps.Data == nil {
		return fmt.Errorf("%w: no SPS in header bitstream", media.ErrInvalidSPS)
	}
	if err := p.parseSPS(p.sps.Data); err != nil {
		return fmt.Errorf("%w: %v", media.ErrInvalidSPS, err)
	}
	if p.pps.Data == nil {
		return fmt.Errorf("%w: no PPS in header bitstream", media.ErrInvalidPPS)
	}
	return nil
}

func (p *avcParser) SrcWidth() uint32  { return p.width }
func (p *avcParser) SrcHeight() uint32 { return p.height }
func (p *avcParser) TileCols() int     { return 1 }
func (p *avcParser) TileRows() int     { return 1 }

func (p *avcParser) ProjectionType() uint8 { return p.projection }

func (p *avcParser) TileInfo(i int, out *media.TileInfo) error {
	if i != 0 {
		return fmt.Errorf("%w: tile index %d out of range", media.ErrInvalidData, i)
	}
	out.Row = 0
	out.Col = 0
	out.HorizontalPos = 0
	out.VerticalPos = 0
	out.TileWidth = p.width
	out.TileHeight = p.height
	out.TileNalu = media.Nalu{}
	return nil
}

func (p *avcParser) VPSNalu() *media.Nalu { return nil }

func (p *avcParser) SPSNalu() *media.Nalu {
	if p.sps.Data == nil {
		return nil
	}
	return &p.sps
}

func (p *avcParser) PPSNalu() *media.Nalu {
	if p.pps.Data == nil {
		return nil
	}
	return &p.pps
}

func (p *avcParser) ParseSliceNalus(data []byte, tiles []media.TileInfo) error {
	if len(tiles) != 1 {
		return fmt.Errorf("%w: H.264 streams carry a single tile", media.ErrInvalidData)
	}
	units := ScanAnnexB(data, 1, AVCNALType)
	for _, u := range units {
		if IsAVCVCL(u.Type) {
			tiles[0].TileNalu.Data = u.Data
			return nil
		}
	}
	return fmt.Errorf("%w: no slice NALU in access unit", media.ErrInvalidData)
}

// parseSPS extracts picture dimensions from an H.264 SPS NALU (with its NAL
// header byte, without start code).
func (p *avcParser) parseSPS(nal []byte) error {
	if len(nal) < 4 {
		return errBitstreamTooShort
	}
	br := newBitReader(removeEmulationPrevention(nal[1:]))

	profileIdc, err := br.readBits(8)
	if err != nil {
		return err
	}
	// constraint flags + level_idc
	if _, err := br.readBits(16); err != nil {
		return err
	}
	// seq_parameter_set_id
	if _, err := br.readUE(); err != nil {
		return err
	}

	chromaFormatIdc := uint(1)
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chromaFormatIdc, err = br.readUE()
		if err != nil {
			return err
		}
		if chromaFormatIdc == 3 {
			if _, err := br.readBits(1); err != nil {
				return err
			}
		}
		// bit depths + qpprime flag
		if _, err := br.readUE(); err != nil {
			return err
		}
		if _, err := br.readUE(); err != nil {
			return err
		}
		if _, err := br.readBits(1); err != nil {
			return err
		}
		scalingMatrix, err := br.readBits(1)
		if err != nil {
			return err
		}
		if scalingMatrix == 1 {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return err
				}
				if flag == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(br, size); err != nil {
						return err
					}
				}
			}
		}
	}

	// log2_max_frame_num_minus4
	if _, err := br.readUE(); err != nil {
		return err
	}

	picOrderCntType, err := br.readUE()
	if err != nil {
		return err
	}
	switch picOrderCntType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return err
		}
		if _, err := br.readSE(); err != nil {
			return err
		}
		if _, err := br.readSE(); err != nil {
			return err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return err
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return err
			}
		}
	}

	// max_num_ref_frames + gaps_in_frame_num_value_allowed_flag
	if _, err := br.readUE(); err != nil {
		return err
	}
	if _, err := br.readBits(1); err != nil {
		return err
	}

	picWidthMbs, err := br.readUE()
	if err != nil {
		return err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil {
			return err
		}
	}
	// direct_8x8_inference_flag
	if _, err := br.readBits(1); err != nil {
		return err
	}

	cropLeft, cropRight, cropTop, cropBottom := uint(0), uint(0), uint(0), uint(0)
	cropping, err := br.readBits(1)
	if err != nil {
		return err
	}
	if cropping == 1 {
		if cropLeft, err = br.readUE(); err != nil {
			return err
		}
		if cropRight, err = br.readUE(); err != nil {
			return err
		}
		if cropTop, err = br.readUE(); err != nil {
			return err
		}
		if cropBottom, err = br.readUE(); err != nil {
			return err
		}
	}

	var subWidthC, subHeightC uint
	switch chromaFormatIdc {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 1, 1
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	p.width = uint32((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight))
	p.height = uint32((picHeightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom))
	return nil
}

func skipScalingList(br *bitReader, size int) error {
	lastScale := 8
	nextScale := 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}
