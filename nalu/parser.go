package nalu

import (
	"fmt"

	"github.com/zsiec/omafpack/media"
)

// Parser extracts stream geometry and per-frame slice NALUs from a tiled
// elementary stream. A Parser is constructed over the stream's header
// bitstream (parameter sets plus any leading SEI) and afterwards serves
// read-only geometry queries and per-frame slice parsing.
type Parser interface {
	// ParseHeaderData parses the header bitstream the parser was built over.
	// It must be called once before any other method.
	ParseHeaderData() error

	SrcWidth() uint32
	SrcHeight() uint32

	// TileCols and TileRows return the tile grid dimensions: the number of
	// tile columns across the picture and tile rows down the picture.
	TileCols() int
	TileRows() int

	// ProjectionType returns the raw omnidirectional projection value
	// (0 = ERP, 1 = cubemap) detected from the header SEI, or the default.
	ProjectionType() uint8

	// TileInfo fills out with the geometry of tile i in row-major order.
	TileInfo(i int, out *media.TileInfo) error

	VPSNalu() *media.Nalu
	SPSNalu() *media.Nalu
	PPSNalu() *media.Nalu

	// ParseSliceNalus scans one access unit and distributes its slice NALUs
	// over the tiles in bitstream order, rewriting each tile's TileNalu.
	// The tile NALUs reference data; the caller keeps the frame buffer alive
	// until every consumer of the tiles is done with it.
	ParseSliceNalus(data []byte, tiles []media.TileInfo) error
}

// NewParser returns the parser for the given codec over the stream's header
// bitstream. projection is the configured projection value used when the
// headers carry no omnidirectional SEI.
func NewParser(codec media.Codec, headerData []byte, projection uint8) (Parser, error) {
	if len(headerData) == 0 {
		return nil, fmt.Errorf("%w: empty header bitstream", media.ErrParserInit)
	}
	switch codec {
	case media.CodecH265:
		return newHevcParser(headerData, projection), nil
	case media.CodecH264:
		return newAvcParser(headerData, projection), nil
	}
	return nil, fmt.Errorf("%w: codec %d", media.ErrUndefinedOperation, codec)
}
