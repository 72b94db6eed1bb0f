package extractor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/nalu"
	"github.com/zsiec/omafpack/stream"
)

// Set enumerates the extractor tracks of one packaging run, ordered by
// extractor index.
type Set struct {
	tracks []*Track
}

// NewSet builds one extractor track per layout. Each layout's tile
// references are resolved against the given streams; the merged picture
// geometry, coverage, quality resolution list, and per-segment SEI prefix
// are derived at build time.
func NewSet(layouts []Layout, streams map[uint8]*stream.VideoStream, log *slog.Logger) (*Set, error) {
	if log == nil {
		log = slog.Default()
	}

	set := &Set{}
	for i, layout := range layouts {
		t, err := newTrack(uint8(i), layout, streams, log)
		if err != nil {
			return nil, fmt.Errorf("extractor track %d: %w", i, err)
		}
		set.tracks = append(set.tracks, t)
	}
	return set, nil
}

// Tracks returns the tracks ordered by extractor index.
func (s *Set) Tracks() []*Track { return s.tracks }

// Len returns the number of extractor tracks.
func (s *Set) Len() int { return len(s.tracks) }

func newTrack(idx uint8, layout Layout, streams map[uint8]*stream.VideoStream, log *slog.Logger) (*Track, error) {
	t := &Track{
		log:    log.With("component", "extractor-track", "extractor", idx),
		idx:    idx,
		layout: layout,
	}
	t.cond = sync.NewCond(&t.mu)

	// Resolve tile references in layout order and find the primary (widest)
	// source stream; its parameter sets become the merged decoder config.
	var primary *stream.VideoStream
	for _, col := range layout.Columns {
		for _, ref := range col {
			vs, ok := streams[ref.StreamIdx]
			if !ok {
				return nil, fmt.Errorf("%w: stream %d", media.ErrStreamNotFound, ref.StreamIdx)
			}
			if ref.TileIdx < 0 || ref.TileIdx >= vs.TilesNum() {
				return nil, fmt.Errorf("%w: tile %d of stream %d", media.ErrStreamNotFound, ref.TileIdx, ref.StreamIdx)
			}
			t.refs = append(t.refs, resolvedRef{
				ref:    ref,
				stream: vs,
				tile:   &vs.TilesInfo()[ref.TileIdx],
			})
			if primary == nil || vs.Width() > primary.Width() {
				primary = vs
			}
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("%w: empty tile-merge layout", media.ErrInvalidData)
	}

	if vps := primary.VPSNalu(); vps != nil {
		t.vps = *vps
	}
	sps := primary.SPSNalu()
	if sps == nil {
		return nil, media.ErrInvalidSPS
	}
	t.sps = *sps
	pps := primary.PPSNalu()
	if pps == nil {
		return nil, media.ErrInvalidPPS
	}
	t.pps = *pps

	t.buildMergedRwpk(primary)
	t.buildMergedCovi(primary)
	t.buildPicResList(primary)

	t.projSEI = nalu.BuildProjectionSEI(media.Projection(primary.ProjectionType()))
	t.rwpkSEI = nalu.BuildRegionwisePackingSEI(t.rwpk)
	return t, nil
}

// buildMergedRwpk lays the referenced tiles out column by column: packed
// regions are stacked top-down within each column, columns placed left to
// right. Projected regions keep their source geometry, scaled into the
// primary stream's projected picture when a tile comes from a lower
// resolution stream.
func (t *Track) buildMergedRwpk(primary *stream.VideoStream) {
	rwpk := &media.RegionWisePacking{
		ProjPicWidth:  primary.Width(),
		ProjPicHeight: primary.Height(),
	}

	var x uint16
	var maxColHeight uint16
	refIdx := 0
	for _, col := range t.layout.Columns {
		var y uint16
		var colWidth uint16
		for range col {
			r := t.refs[refIdx]
			refIdx++

			tile := r.tile
			scaleX := float64(primary.Width()) / float64(r.stream.Width())
			scaleY := float64(primary.Height()) / float64(r.stream.Height())

			rwpk.RectRegions = append(rwpk.RectRegions, media.RectRegionPacking{
				ProjRegWidth:    uint32(float64(tile.TileWidth) * scaleX),
				ProjRegHeight:   uint32(float64(tile.TileHeight) * scaleY),
				ProjRegLeft:     uint32(float64(tile.HorizontalPos) * scaleX),
				ProjRegTop:      uint32(float64(tile.VerticalPos) * scaleY),
				PackedRegWidth:  uint16(tile.TileWidth),
				PackedRegHeight: uint16(tile.TileHeight),
				PackedRegLeft:   x,
				PackedRegTop:    y,
			})

			y += uint16(tile.TileHeight)
			if uint16(tile.TileWidth) > colWidth {
				colWidth = uint16(tile.TileWidth)
			}
		}
		x += colWidth
		if y > maxColHeight {
			maxColHeight = y
		}
	}

	rwpk.PackedPicWidth = x
	rwpk.PackedPicHeight = maxColHeight
	t.rwpk = rwpk
}

// buildMergedCovi computes the track's spherical coverage from the union of
// the referenced tiles' projected rectangles, using the same ERP mapping as
// the per-stream coverage.
func (t *Track) buildMergedCovi(primary *stream.VideoStream) {
	var left, top uint32 = ^uint32(0), ^uint32(0)
	var right, bottom uint32
	for _, r := range t.rwpk.RectRegions {
		if r.ProjRegLeft < left {
			left = r.ProjRegLeft
		}
		if r.ProjRegTop < top {
			top = r.ProjRegTop
		}
		if r.ProjRegLeft+r.ProjRegWidth > right {
			right = r.ProjRegLeft + r.ProjRegWidth
		}
		if r.ProjRegTop+r.ProjRegHeight > bottom {
			bottom = r.ProjRegTop + r.ProjRegHeight
		}
	}

	covi := &media.ContentCoverage{}
	if primary.ProjectionType() == uint8(media.ProjectionERP) {
		covi.CoverageShapeType = 1
	}

	w := float64(primary.Width())
	h := float64(primary.Height())
	rw := float64(right - left)
	rh := float64(bottom - top)
	covi.SphereRegions = []media.SphereRegion{{
		CentreAzimuth:   int32((w/2 - (float64(left) + rw/2)) * 360 * 65536 / w),
		CentreElevation: int32((h/2 - (float64(top) + rh/2)) * 180 * 65536 / h),
		AzimuthRange:    uint32(rw * 360 * 65536 / w),
		ElevationRange:  uint32(rh * 180 * 65536 / h),
	}}
	t.covi = covi
}

// buildPicResList records the distinct source resolutions referenced by the
// layout, primary stream first.
func (t *Track) buildPicResList(primary *stream.VideoStream) {
	seen := map[media.PicResolution]bool{}
	add := func(vs *stream.VideoStream) {
		res := media.PicResolution{Width: vs.Width(), Height: vs.Height()}
		if !seen[res] {
			seen[res] = true
			t.picRes = append(t.picRes, res)
		}
	}
	add(primary)
	for _, r := range t.refs {
		add(r.stream)
	}
}
