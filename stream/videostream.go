// Package stream models one pre-encoded tiled input stream: its parsed
// geometry and headers, the source region-wise packing and content coverage
// derived from the tile grid, and the FIFO of pending access units feeding
// the segmentation loop.
package stream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/nalu"
)

// Config describes one input elementary stream to be packaged.
type Config struct {
	Codec      media.Codec
	FrameRate  media.Rational
	BitRate    uint64
	Projection uint8 // used when the headers carry no projection SEI
	HeaderData []byte
}

// VideoStream is one tiled input stream. The orchestrator is the only writer
// of the per-tile scratch NALUs and the current-segment buffer; the frame
// FIFO is safe for one producer and one consumer.
type VideoStream struct {
	log       *slog.Logger
	streamIdx uint8
	codec     media.Codec
	frameRate media.Rational
	bitRate   uint64

	parser    nalu.Parser
	width     uint32
	height    uint32
	tileCols  int
	tileRows  int
	projType  uint8
	tilesInfo []media.TileInfo

	srcRwpk *media.RegionWisePacking
	srcCovi *media.ContentCoverage

	mu     sync.Mutex
	frames []*media.FrameBSInfo
	eos    bool

	segFrames []*media.FrameBSInfo
}

// New parses the stream's header bitstream and builds the stream's tile
// geometry, source RWPK, and source COVI. If log is nil, slog.Default()
// is used.
func New(streamIdx uint8, cfg Config, log *slog.Logger) (*VideoStream, error) {
	if log == nil {
		log = slog.Default()
	}

	p, err := nalu.NewParser(cfg.Codec, cfg.HeaderData, cfg.Projection)
	if err != nil {
		return nil, err
	}
	if err := p.ParseHeaderData(); err != nil {
		return nil, err
	}

	s := &VideoStream{
		log:       log.With("component", "stream", "stream", streamIdx),
		streamIdx: streamIdx,
		codec:     cfg.Codec,
		frameRate: cfg.FrameRate,
		bitRate:   cfg.BitRate,
		parser:    p,
		width:     p.SrcWidth(),
		height:    p.SrcHeight(),
		tileCols:  p.TileCols(),
		tileRows:  p.TileRows(),
		projType:  p.ProjectionType(),
	}

	tilesNum := s.tileCols * s.tileRows
	s.tilesInfo = make([]media.TileInfo, tilesNum)
	for i := 0; i < tilesNum; i++ {
		if err := p.TileInfo(i, &s.tilesInfo[i]); err != nil {
			return nil, err
		}
	}

	if err := s.fillRegionWisePacking(); err != nil {
		return nil, err
	}
	if err := s.fillContentCoverage(); err != nil {
		return nil, err
	}

	s.log.Info("stream initialized",
		"codec", s.codec.String(),
		"width", s.width,
		"height", s.height,
		"tiles", fmt.Sprintf("%dx%d", s.tileCols, s.tileRows),
	)
	return s, nil
}

// fillRegionWisePacking synthesizes the source RWPK: one rectangular region
// per tile, projected and packed geometry identical, no transforms or guard
// bands, at the full source picture size.
func (s *VideoStream) fillRegionWisePacking() error {
	if s.tilesInfo == nil {
		return media.ErrNilPointer
	}

	rwpk := &media.RegionWisePacking{
		ConstituentPicMatching: false,
		ProjPicWidth:           s.width,
		ProjPicHeight:          s.height,
		PackedPicWidth:         uint16(s.width),
		PackedPicHeight:        uint16(s.height),
		RectRegions:            make([]media.RectRegionPacking, len(s.tilesInfo)),
	}

	for i := range s.tilesInfo {
		tile := &s.tilesInfo[i]
		rwpk.RectRegions[i] = media.RectRegionPacking{
			TransformType:        0,
			GuardBandFlag:        false,
			ProjRegWidth:         tile.TileWidth,
			ProjRegHeight:        tile.TileHeight,
			ProjRegLeft:          tile.HorizontalPos,
			ProjRegTop:           tile.VerticalPos,
			PackedRegWidth:       uint16(tile.TileWidth),
			PackedRegHeight:      uint16(tile.TileHeight),
			PackedRegLeft:        uint16(tile.HorizontalPos),
			PackedRegTop:         uint16(tile.VerticalPos),
			GbNotUsedForPredFlag: true,
		}
	}

	s.srcRwpk = rwpk
	return nil
}

// fillContentCoverage computes one sphere region per tile from its projected
// rectangle. Angles are in 2^-16 degrees; the centre formulas map the picture
// centre to (0, 0) with azimuth growing leftwards and elevation upwards.
func (s *VideoStream) fillContentCoverage() error {
	if s.srcRwpk == nil {
		return media.ErrNilPointer
	}

	covi := &media.ContentCoverage{
		ViewIdcPresenceFlag: false,
		DefaultViewIdc:      0,
		SphereRegions:       make([]media.SphereRegion, len(s.srcRwpk.RectRegions)),
	}
	if s.projType == uint8(media.ProjectionERP) {
		covi.CoverageShapeType = 1 // two azimuth and two elevation circles
	} else {
		covi.CoverageShapeType = 0 // four great circles
	}

	w := float64(s.width)
	h := float64(s.height)
	for i := range s.srcRwpk.RectRegions {
		r := &s.srcRwpk.RectRegions[i]
		covi.SphereRegions[i] = media.SphereRegion{
			CentreAzimuth:   int32((w/2 - (float64(r.ProjRegLeft) + float64(r.ProjRegWidth)/2)) * 360 * 65536 / w),
			CentreElevation: int32((h/2 - (float64(r.ProjRegTop) + float64(r.ProjRegHeight)/2)) * 180 * 65536 / h),
			CentreTilt:      0,
			AzimuthRange:    uint32(float64(r.ProjRegWidth) * 360 * 65536 / w),
			ElevationRange:  uint32(float64(r.ProjRegHeight) * 180 * 65536 / h),
		}
	}

	s.srcCovi = covi
	return nil
}

// StreamIdx returns the stream's 8-bit index.
func (s *VideoStream) StreamIdx() uint8 { return s.streamIdx }

// Codec returns the stream codec.
func (s *VideoStream) Codec() media.Codec { return s.codec }

// Width returns the source picture width in luma samples.
func (s *VideoStream) Width() uint32 { return s.width }

// Height returns the source picture height in luma samples.
func (s *VideoStream) Height() uint32 { return s.height }

// TileCols returns the number of tile columns.
func (s *VideoStream) TileCols() int { return s.tileCols }

// TileRows returns the number of tile rows.
func (s *VideoStream) TileRows() int { return s.tileRows }

// TilesNum returns the total tile count.
func (s *VideoStream) TilesNum() int { return s.tileCols * s.tileRows }

// ProjectionType returns the raw projection value of the source.
func (s *VideoStream) ProjectionType() uint8 { return s.projType }

// FrameRate returns the stream frame rate.
func (s *VideoStream) FrameRate() media.Rational { return s.frameRate }

// BitRate returns the stream bitrate in bits per second.
func (s *VideoStream) BitRate() uint64 { return s.bitRate }

// SrcRwpk returns the source region-wise packing (one region per tile).
func (s *VideoStream) SrcRwpk() *media.RegionWisePacking { return s.srcRwpk }

// SrcCovi returns the source content coverage (one sphere region per tile).
func (s *VideoStream) SrcCovi() *media.ContentCoverage { return s.srcCovi }

// TilesInfo returns the per-tile geometry and scratch NALU store. The slice
// is owned by the stream; extractor tracks hold borrowed references into it.
func (s *VideoStream) TilesInfo() []media.TileInfo { return s.tilesInfo }

// VPSNalu returns the stream VPS, or nil for H.264 inputs.
func (s *VideoStream) VPSNalu() *media.Nalu { return s.parser.VPSNalu() }

// SPSNalu returns the stream SPS.
func (s *VideoStream) SPSNalu() *media.Nalu { return s.parser.SPSNalu() }

// PPSNalu returns the stream PPS.
func (s *VideoStream) PPSNalu() *media.Nalu { return s.parser.PPSNalu() }

// AddFrame deep-copies one access unit into the pending FIFO.
func (s *VideoStream) AddFrame(frame *media.FrameBSInfo) error {
	if frame == nil || frame.Data == nil {
		return media.ErrNilPointer
	}
	if len(frame.Data) == 0 {
		return media.ErrDataSize
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)

	s.mu.Lock()
	s.frames = append(s.frames, &media.FrameBSInfo{
		Data:       data,
		PTS:        frame.PTS,
		IsKeyFrame: frame.IsKeyFrame,
	})
	s.mu.Unlock()
	return nil
}

// PopFrame removes and returns the head of the pending FIFO, or nil when the
// FIFO is empty.
func (s *VideoStream) PopFrame() *media.FrameBSInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f
}

// SetEOS marks the producer side of the stream as finished.
func (s *VideoStream) SetEOS() {
	s.mu.Lock()
	s.eos = true
	s.mu.Unlock()
}

// EOS reports whether the producer has finished feeding frames.
func (s *VideoStream) EOS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

// UpdateTilesNalu re-parses the per-tile slice NALUs from the given frame
// into the tile scratch store.
func (s *VideoStream) UpdateTilesNalu(frame *media.FrameBSInfo) error {
	if frame == nil {
		return media.ErrNilPointer
	}
	return s.parser.ParseSliceNalus(frame.Data, s.tilesInfo)
}

// AppendSegmentFrame adds the frame to the current segment's buffer, keeping
// its data alive until the segment closes.
func (s *VideoStream) AppendSegmentFrame(frame *media.FrameBSInfo) {
	if frame != nil {
		s.segFrames = append(s.segFrames, frame)
	}
}

// ClearSegmentFrames drops the closed segment's buffered frames.
func (s *VideoStream) ClearSegmentFrames() {
	s.segFrames = s.segFrames[:0]
}
