package segmentation

import (
	"fmt"
	"sort"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/segmenter"
	"github.com/zsiec/omafpack/stream"
)

// buildTileTrackCtxs constructs one TrackSegmentCtx per tile per input
// stream. Track ids are drawn from the monotonically increasing pool
// starting at trackIDStart; every tile of a stream carries the stream's
// quality rank, dense-ranked over the distinct bitrates of all streams with
// the highest bitrate ranked 1.
func (s *Segmentation) buildTileTrackCtxs() error {
	rankOf := denseBitrateRanking(s.streams)

	for _, idx := range sortedStreamIdxs(s.streams) {
		vs := s.streams[idx]
		if err := s.buildStreamTileCtxs(idx, vs, rankOf[vs.BitRate()]); err != nil {
			return fmt.Errorf("stream %d: %w", idx, err)
		}
	}
	return nil
}

// buildStreamTileCtxs builds and registers the tile-track contexts of one
// stream. Nothing is committed to the orchestrator maps until every tile of
// the stream has been built, so a failure leaves no partial tracks behind.
func (s *Segmentation) buildStreamTileCtxs(streamIdx uint8, vs *stream.VideoStream, qualityRank uint8) error {
	frameRate := vs.FrameRate()
	s.frameRate = frameRate

	proj, err := projectionOf(vs.ProjectionType())
	if err != nil {
		return err
	}
	s.projType = proj

	vpsNalu := vs.VPSNalu()
	if vs.Codec() == media.CodecH265 && (vpsNalu == nil || vpsNalu.Size() == 0) {
		return media.ErrInvalidHeader
	}
	spsNalu := vs.SPSNalu()
	if spsNalu == nil || spsNalu.Size() == 0 {
		return media.ErrInvalidSPS
	}
	ppsNalu := vs.PPSNalu()
	if ppsNalu == nil || ppsNalu.Size() == 0 {
		return media.ErrInvalidPPS
	}

	var vpsData []byte
	if vpsNalu != nil {
		vpsData = append([]byte(nil), vpsNalu.Data...)
	}
	spsData := append([]byte(nil), spsNalu.Data...)
	ppsData := append([]byte(nil), ppsNalu.Data...)

	tilesInfo := vs.TilesInfo()
	tilesNum := vs.TilesNum()
	rwpk := vs.SrcRwpk()
	tileBitRate := vs.BitRate() / uint64(tilesNum)
	timescale := media.Rational{Num: frameRate.Den, Den: frameRate.Num * 1000}

	ctxs := make([]*TrackSegmentCtx, 0, tilesNum)
	tilesIndex := make(map[int]uint32, tilesNum)

	for i := 0; i < tilesNum; i++ {
		trackID := s.trackIDStart + uint32(i)

		trackCfg := segmenter.TrackConfig{
			Meta: segmenter.TrackMeta{
				TrackID:   trackID,
				Timescale: timescale,
				Type:      segmenter.MediaVideo,
			},
		}

		initCfg := &segmenter.InitSegConfig{
			Tracks:            map[uint32]segmenter.TrackConfig{trackID: trackCfg},
			Fragmented:        true,
			WriteToBitstream:  true,
			PackedSubPictures: true,
			Mode:              segmenter.ModeOMAF,
			StreamIDs:         []uint32{trackID},
			InitSegName:       fmt.Sprintf("%s%s_track%d.init.mp4", s.segInfo.DirName, s.segInfo.OutName, trackID),
		}

		dashCfg := &segmenter.GeneralSegConfig{
			SgtDuration:    media.Rational{Num: int64(s.segInfo.SegDur), Den: 1},
			SubSgtDuration: media.Rational{Num: int64(s.segInfo.SegDur), Den: 1},
			NeedCheckIDR:   true,
			Tracks:         map[uint32]segmenter.TrackMeta{trackID: trackCfg.Meta},
			StreamsIdx:     []uint32{uint32(streamIdx)},
			BaseName:       fmt.Sprintf("%s%s_track%d", s.segInfo.DirName, s.segInfo.OutName, trackID),
		}

		initSeg, err := segmenter.NewInitSegmenter(initCfg)
		if err != nil {
			return err
		}
		dashSeg, err := segmenter.NewSegmenter(dashCfg, true)
		if err != nil {
			return err
		}

		ctx := &TrackSegmentCtx{
			TileIdx:        i,
			TileInfo:       &tilesInfo[i],
			TrackIdx:       trackID,
			DashInitCfg:    initCfg,
			DashCfg:        dashCfg,
			InitSegmenter:  initSeg,
			DashSegmenter:  dashSeg,
			QualityRanking: qualityRank,
			CodedMeta: media.CodedMeta{
				CodingTime:    media.Rational{Num: 0, Den: 1},
				PresTime:      media.Rational{Num: 0, Den: 1000},
				Duration:      media.Rational{Num: frameRate.Den * 1000, Den: frameRate.Num * 1000},
				TrackID:       trackID,
				InCodingOrder: true,
				Format:        media.FormatH265,
				DecoderConfig: map[media.ConfigType][]byte{
					media.ConfigVPS: vpsData,
					media.ConfigSPS: spsData,
					media.ConfigPPS: ppsData,
				},
				Width:      tilesInfo[i].TileWidth,
				Height:     tilesInfo[i].TileHeight,
				Bitrate:    media.Bitrate{AvgBitrate: tileBitRate},
				Type:       media.FrameIDR,
				Projection: proj,
				RegionPacking: convertRwpk(&media.RegionWisePacking{
					ConstituentPicMatching: rwpk.ConstituentPicMatching,
					ProjPicWidth:           rwpk.ProjPicWidth,
					ProjPicHeight:          rwpk.ProjPicHeight,
					PackedPicWidth:         rwpk.PackedPicWidth,
					PackedPicHeight:        rwpk.PackedPicHeight,
					RectRegions:            rwpk.RectRegions[i : i+1],
				}),
				SegmenterMeta: media.SegmenterMeta{
					SegmentDuration: media.Rational{Num: int64(s.segInfo.SegDur), Den: 1},
				},
			},
		}

		ctxs = append(ctxs, ctx)
		tilesIndex[i] = trackID
	}

	// Commit the stream's tracks.
	for _, ctx := range ctxs {
		s.allTileTracks[ctx.TrackIdx] = ctx.DashInitCfg.Tracks[ctx.TrackIdx]
		s.trackSegCtx[ctx.TrackIdx] = ctx
	}
	s.trackIDStart += uint32(tilesNum)
	s.streamSegCtx[streamIdx] = ctxs
	s.framesIsKey[streamIdx] = true
	s.streamsEOS[streamIdx] = false
	s.tilesTrackIdxs[streamIdx] = tilesIndex
	return nil
}

// denseBitrateRanking maps each distinct stream bitrate to its quality rank:
// the highest bitrate ranks 1, the next distinct bitrate 2, and so on.
func denseBitrateRanking(streams map[uint8]*stream.VideoStream) map[uint64]uint8 {
	seen := map[uint64]bool{}
	var rates []uint64
	for _, vs := range streams {
		if !seen[vs.BitRate()] {
			seen[vs.BitRate()] = true
			rates = append(rates, vs.BitRate())
		}
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i] < rates[j] })

	ranks := make(map[uint64]uint8, len(rates))
	for i, rate := range rates {
		ranks[rate] = uint8(len(rates) - i)
	}
	return ranks
}

func projectionOf(raw uint8) (media.Projection, error) {
	switch media.Projection(raw) {
	case media.ProjectionERP:
		return media.ProjectionERP, nil
	case media.ProjectionCubemap:
		return media.ProjectionCubemap, nil
	}
	return 0, media.ErrInvalidProjectionType
}

func sortedStreamIdxs(streams map[uint8]*stream.VideoStream) []uint8 {
	idxs := make([]uint8, 0, len(streams))
	for idx := range streams {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}
