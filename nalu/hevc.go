package nalu

import (
	"fmt"

	"github.com/zsiec/omafpack/media"
)

// hevcParser parses HEVC parameter sets for picture and tile-grid geometry
// and splits tiled access units into per-tile slice NALUs.
type hevcParser struct {
	headerData []byte
	projection uint8

	vps media.Nalu
	sps media.Nalu
	pps media.Nalu

	width  uint32
	height uint32

	ctbLog2 uint

	tileCols int
	tileRows int

	// Tile boundaries in pixels, row-major grid. colOffsets/rowOffsets hold
	// the left/top edge of each column/row; widths/heights the pixel spans.
	colOffsets []uint32
	rowOffsets []uint32
	colWidths  []uint32
	rowHeights []uint32
}

func newHevcParser(headerData []byte, projection uint8) *hevcParser {
	return &hevcParser{
		headerData: headerData,
		projection: projection,
		tileCols:   1,
		tileRows:   1,
	}
}

func (p *hevcParser) ParseHeaderData() error {
	units := ScanAnnexB(p.headerData, 2, HEVCNALType)
	for _, u := range units {
		switch u.Type {
		case HEVCNALVPS:
			if p.vps.Data == nil {
				p.vps.Data = u.Data
			}
		case HEVCNALSPS:
			if p.sps.Data == nil {
				p.sps.Data = u.Data
			}
		case HEVCNALPPS:
			if p.pps.Data == nil {
				p.pps.Data = u.Data
			}
		case HEVCNALSEIPrefix:
			if proj, ok := parseProjectionSEI(u.Data); ok {
				p.projection = proj
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
	if err := p.parsePPS(p.pps.Data); err != nil {
		return fmt.Errorf("%w: %v", media.ErrInvalidPPS, err)
	}

	return nil
}

func (p *hevcParser) SrcWidth() uint32  { return p.width }
func (p *hevcParser) SrcHeight() uint32 { return p.height }
func (p *hevcParser) TileCols() int     { return p.tileCols }
func (p *hevcParser) TileRows() int     { return p.tileRows }

func (p *hevcParser) ProjectionType() uint8 { return p.projection }

func (p *hevcParser) TileInfo(i int, out *media.TileInfo) error {
	if i < 0 || i >= p.tileCols*p.tileRows {
		return fmt.Errorf("%w: tile index %d out of range", media.ErrInvalidData, i)
	}
	row := i / p.tileCols
	col := i % p.tileCols
	out.Row = row
	out.Col = col
	out.HorizontalPos = p.colOffsets[col]
	out.VerticalPos = p.rowOffsets[row]
	out.TileWidth = p.colWidths[col]
	out.TileHeight = p.rowHeights[row]
	out.TileNalu = media.Nalu{}
	return nil
}

func (p *hevcParser) VPSNalu() *media.Nalu {
	if p.vps.Data == nil {
		return nil
	}
	return &p.vps
}

func (p *hevcParser) SPSNalu() *media.Nalu {
	if p.sps.Data == nil {
		return nil
	}
	return &p.sps
}

func (p *hevcParser) PPSNalu() *media.Nalu {
	if p.pps.Data == nil {
		return nil
	}
	return &p.pps
}

func (p *hevcParser) ParseSliceNalus(data []byte, tiles []media.TileInfo) error {
	units := ScanAnnexB(data, 2, HEVCNALType)
	idx := 0
	for _, u := range units {
		if !IsHEVCVCL(u.Type) {
			continue
		}
		if idx >= len(tiles) {
			return fmt.Errorf("%w: more slice NALUs than tiles", media.ErrInvalidData)
		}
		tiles[idx].TileNalu.Data = u.Data
		idx++
	}
	if idx != len(tiles) {
		return fmt.Errorf("%w: %d slice NALUs for %d tiles", media.ErrInvalidData, idx, len(tiles))
	}
	return nil
}

// parseSPS extracts picture dimensions and the CTB size from an SPS NALU
// (with its 2-byte NAL header, without start code).
func (p *hevcParser) parseSPS(nal []byte) error {
	if len(nal) < 4 {
		return errBitstreamTooShort
	}
	br := newBitReader(removeEmulationPrevention(nal[2:]))

	// sps_video_parameter_set_id + sps_max_sub_layers_minus1 + nesting flag
	if _, err := br.readBits(4); err != nil {
		return err
	}
	maxSubLayersMinus1, err := br.readBits(3)
	if err != nil {
		return err
	}
	if _, err := br.readBits(1); err != nil {
		return err
	}

	if err := skipProfileTierLevel(br, maxSubLayersMinus1); err != nil {
		return err
	}

	// sps_seq_parameter_set_id
	if _, err := br.readUE(); err != nil {
		return err
	}

	chromaFormatIdc, err := br.readUE()
	if err != nil {
		return err
	}
	if chromaFormatIdc == 3 {
		if _, err := br.readBits(1); err != nil {
			return err
		}
	}

	width, err := br.readUE()
	if err != nil {
		return err
	}
	height, err := br.readUE()
	if err != nil {
		return err
	}
	p.width = uint32(width)
	p.height = uint32(height)

	confWindow, err := br.readBits(1)
	if err != nil {
		return err
	}
	if confWindow == 1 {
		for i := 0; i < 4; i++ {
			if _, err := br.readUE(); err != nil {
				return err
			}
		}
	}

	// bit_depth_luma_minus8, bit_depth_chroma_minus8
	if _, err := br.readUE(); err != nil {
		return err
	}
	if _, err := br.readUE(); err != nil {
		return err
	}

	// log2_max_pic_order_cnt_lsb_minus4
	if _, err := br.readUE(); err != nil {
		return err
	}

	orderingInfoPresent, err := br.readBits(1)
	if err != nil {
		return err
	}
	first := maxSubLayersMinus1
	if orderingInfoPresent == 1 {
		first = 0
	}
	for i := first; i <= maxSubLayersMinus1; i++ {
		for j := 0; j < 3; j++ {
			if _, err := br.readUE(); err != nil {
				return err
			}
		}
	}

	minCbLog2Minus3, err := br.readUE()
	if err != nil {
		return err
	}
	diffMaxMin, err := br.readUE()
	if err != nil {
		return err
	}
	p.ctbLog2 = minCbLog2Minus3 + 3 + diffMaxMin

	return nil
}

// parsePPS extracts the tile grid from a PPS NALU and computes per-tile pixel
// geometry. Requires parseSPS to have run (CTB size).
func (p *hevcParser) parsePPS(nal []byte) error {
	if len(nal) < 3 {
		return errBitstreamTooShort
	}
	br := newBitReader(removeEmulationPrevention(nal[2:]))

	// pps_pic_parameter_set_id, pps_seq_parameter_set_id
	if _, err := br.readUE(); err != nil {
		return err
	}
	if _, err := br.readUE(); err != nil {
		return err
	}

	// dependent_slice_segments_enabled_flag, output_flag_present_flag,
	// num_extra_slice_header_bits, sign_data_hiding_enabled_flag,
	// cabac_init_present_flag
	if _, err := br.readBits(7); err != nil {
		return err
	}

	// num_ref_idx_l0/l1_default_active_minus1
	if _, err := br.readUE(); err != nil {
		return err
	}
	if _, err := br.readUE(); err != nil {
		return err
	}

	// init_qp_minus26
	if _, err := br.readSE(); err != nil {
		return err
	}

	// constrained_intra_pred_flag, transform_skip_enabled_flag
	if _, err := br.readBits(2); err != nil {
		return err
	}

	cuQpDeltaEnabled, err := br.readBits(1)
	if err != nil {
		return err
	}
	if cuQpDeltaEnabled == 1 {
		if _, err := br.readUE(); err != nil {
			return err
		}
	}

	// pps_cb_qp_offset, pps_cr_qp_offset
	if _, err := br.readSE(); err != nil {
		return err
	}
	if _, err := br.readSE(); err != nil {
		return err
	}

	// pps_slice_chroma_qp_offsets_present_flag, weighted_pred_flag,
	// weighted_bipred_flag, transquant_bypass_enabled_flag
	if _, err := br.readBits(4); err != nil {
		return err
	}

	tilesEnabled, err := br.readBits(1)
	if err != nil {
		return err
	}
	// entropy_coding_sync_enabled_flag
	if _, err := br.readBits(1); err != nil {
		return err
	}

	cols, rows := 1, 1
	uniform := true
	var colCtbs, rowCtbs []uint32

	if tilesEnabled == 1 {
		numColsMinus1, err := br.readUE()
		if err != nil {
			return err
		}
		numRowsMinus1, err := br.readUE()
		if err != nil {
			return err
		}
		cols = int(numColsMinus1) + 1
		rows = int(numRowsMinus1) + 1

		uniformFlag, err := br.readBits(1)
		if err != nil {
			return err
		}
		uniform = uniformFlag == 1
		if !uniform {
			colCtbs = make([]uint32, cols)
			rowCtbs = make([]uint32, rows)
			for i := 0; i < cols-1; i++ {
				w, err := br.readUE()
				if err != nil {
					return err
				}
				colCtbs[i] = uint32(w) + 1
			}
			for i := 0; i < rows-1; i++ {
				h, err := br.readUE()
				if err != nil {
					return err
				}
				rowCtbs[i] = uint32(h) + 1
			}
		}
	}

	p.tileCols = cols
	p.tileRows = rows
	p.computeTileGeometry(uniform, colCtbs, rowCtbs)
	return nil
}

// computeTileGeometry converts the CTB-unit tile grid into pixel rectangles.
// For uniform spacing the boundaries follow the H.265 6.5.1 derivation; the
// last column/row absorbs the picture remainder in either case.
func (p *hevcParser) computeTileGeometry(uniform bool, colCtbs, rowCtbs []uint32) {
	ctbSize := uint32(1) << p.ctbLog2
	picWidthCtbs := (p.width + ctbSize - 1) / ctbSize
	picHeightCtbs := (p.height + ctbSize - 1) / ctbSize

	bounds := func(n int, total uint32, explicit []uint32) []uint32 {
		offs := make([]uint32, n+1)
		if uniform || explicit == nil {
			for i := 0; i <= n; i++ {
				offs[i] = uint32(i) * total / uint32(n)
			}
			return offs
		}
		var acc uint32
		for i := 0; i < n; i++ {
			offs[i] = acc
			if i < n-1 {
				acc += explicit[i]
			}
		}
		offs[n] = total
		return offs
	}

	colB := bounds(p.tileCols, picWidthCtbs, colCtbs)
	rowB := bounds(p.tileRows, picHeightCtbs, rowCtbs)

	p.colOffsets = make([]uint32, p.tileCols)
	p.colWidths = make([]uint32, p.tileCols)
	for i := 0; i < p.tileCols; i++ {
		left := colB[i] * ctbSize
		right := colB[i+1] * ctbSize
		if right > p.width {
			right = p.width
		}
		p.colOffsets[i] = left
		p.colWidths[i] = right - left
	}

	p.rowOffsets = make([]uint32, p.tileRows)
	p.rowHeights = make([]uint32, p.tileRows)
	for i := 0; i < p.tileRows; i++ {
		top := rowB[i] * ctbSize
		bottom := rowB[i+1] * ctbSize
		if bottom > p.height {
			bottom = p.height
		}
		p.rowOffsets[i] = top
		p.rowHeights[i] = bottom - top
	}
}

func skipProfileTierLevel(br *bitReader, maxSubLayersMinus1 uint) error {
	// general profile: space(2) tier(1) idc(5) compat(32) constraints(48) level(8)
	if _, err := br.readBits(8); err != nil {
		return err
	}
	if _, err := br.readBits(32); err != nil {
		return err
	}
	if _, err := br.readBits(32); err != nil {
		return err
	}
	if _, err := br.readBits(16); err != nil {
		return err
	}
	if _, err := br.readBits(8); err != nil {
		return err
	}
	if maxSubLayersMinus1 == 0 {
		return nil
	}

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		pp, err := br.readBits(1)
		if err != nil {
			return err
		}
		profilePresent[i] = pp == 1
		lp, err := br.readBits(1)
		if err != nil {
			return err
		}
		levelPresent[i] = lp == 1
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		if _, err := br.readBits(2); err != nil {
			return err
		}
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			if _, err := br.readBits(32); err != nil {
				return err
			}
			if _, err := br.readBits(32); err != nil {
				return err
			}
			if _, err := br.readBits(24); err != nil {
				return err
			}
		}
		if levelPresent[i] {
			if _, err := br.readBits(8); err != nil {
				return err
			}
		}
	}
	return nil
}
