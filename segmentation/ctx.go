package segmentation

import (
	"github.com/zsiec/omafpack/extractor"
	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/segmenter"
)

// TrackSegmentCtx is the per-track state handed to the segment writer: the
// track identity, init and media segmenter configs and instances, and the
// CodedMeta template advanced once per frame. Extractor tracks additionally
// carry the per-segment SEI prefix scratch buffer whose ownership moves to
// the track on the first use of each segment.
type TrackSegmentCtx struct {
	IsExtractorTrack bool

	TileIdx  int
	TileInfo *media.TileInfo

	ExtractorIdx   uint8
	ExtractorTrack *extractor.Track
	ExtractorNalu  media.Nalu

	TrackIdx     uint32
	RefTrackIdxs []uint32

	DashInitCfg   *segmenter.InitSegConfig
	DashCfg       *segmenter.GeneralSegConfig
	InitSegmenter *segmenter.InitSegmenter
	DashSegmenter *segmenter.Segmenter

	QualityRanking uint8

	CodedMeta media.CodedMeta
}

// advance moves the frame counters and presentation time forward by one
// frame: one tick of 1000/fps milliseconds on a millisecond clock.
func (c *TrackSegmentCtx) advance(frameRate media.Rational) {
	c.CodedMeta.PresIndex++
	c.CodedMeta.CodingIndex++
	c.CodedMeta.PresTime.Num += 1000 / (frameRate.Num / frameRate.Den)
	c.CodedMeta.PresTime.Den = 1000
}

// convertRwpk converts a source region-wise packing into the writer-facing
// form attached to a CodedMeta.
func convertRwpk(rwpk *media.RegionWisePacking) *media.RegionPacking {
	rp := &media.RegionPacking{
		ConstituentPictMatching: rwpk.ConstituentPicMatching,
		ProjPictureWidth:        rwpk.ProjPicWidth,
		ProjPictureHeight:       rwpk.ProjPicHeight,
		PackedPictureWidth:      rwpk.PackedPicWidth,
		PackedPictureHeight:     rwpk.PackedPicHeight,
	}
	for _, r := range rwpk.RectRegions {
		rp.Regions = append(rp.Regions, media.PackedRegion{
			ProjTop:      r.ProjRegTop,
			ProjLeft:     r.ProjRegLeft,
			ProjWidth:    r.ProjRegWidth,
			ProjHeight:   r.ProjRegHeight,
			Transform:    r.TransformType,
			PackedTop:    r.PackedRegTop,
			PackedLeft:   r.PackedRegLeft,
			PackedWidth:  r.PackedRegWidth,
			PackedHeight: r.PackedRegHeight,
		})
	}
	return rp
}

// convertCovi converts a sphere region into the writer-facing spherical
// coverage of a CodedMeta.
func convertCovi(spr *media.SphereRegion) *media.Spherical {
	return &media.Spherical{
		CAzimuth:   spr.CentreAzimuth,
		CElevation: spr.CentreElevation,
		CTilt:      spr.CentreTilt,
		RAzimuth:   spr.AzimuthRange,
		RElevation: spr.ElevationRange,
	}
}

// fillQualityRank attaches the sphere-region quality ranking to an extractor
// track's CodedMeta: one QualityInfo per source resolution, ranked from
// MainstreamQualityRank upward, each covering the track's sphere region.
func fillQualityRank(meta *media.CodedMeta, picResList []media.PicResolution) error {
	if meta.SphericalCoverage == nil {
		return media.ErrNilPointer
	}

	q := &media.Quality3D{RemainingArea: true}
	for i, res := range picResList {
		q.QualityInfo = append(q.QualityInfo, media.QualityInfo{
			OrigWidth:   res.Width,
			OrigHeight:  res.Height,
			QualityRank: MainstreamQualityRank + uint8(i),
			Sphere:      *meta.SphericalCoverage,
		})
	}
	meta.QualityRankCoverage = q
	return nil
}
