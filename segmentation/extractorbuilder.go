package segmentation

import (
	"fmt"
	"sort"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/segmenter"
)

// buildExtractorTrackCtxs constructs one TrackSegmentCtx per extractor
// track. Each extractor's init segment declares every tile track built by
// buildTileTrackCtxs plus the extractor's own track, with a 'scal' track
// reference to the full tile-track id set; the per-segment SEI prefix
// scratch buffer is allocated here and handed over on first use.
func (s *Segmentation) buildExtractorTrackCtxs() error {
	allTileIDs := make([]uint32, 0, len(s.allTileTracks))
	for id := range s.allTileTracks {
		allTileIDs = append(allTileIDs, id)
	}
	sort.Slice(allTileIDs, func(i, j int) bool { return allTileIDs[i] < allTileIDs[j] })

	timescale := media.Rational{Num: s.frameRate.Den, Den: s.frameRate.Num * 1000}

	for _, track := range s.extractors.Tracks() {
		trackID := uint32(DefaultExtractorTrackIDBase) + uint32(track.Idx())

		// Resolve the layout's tile references to tile-track ids in layout
		// iteration order.
		var refTrackIdxs []uint32
		for _, ref := range track.TileRefs() {
			tilesIndex, ok := s.tilesTrackIdxs[ref.StreamIdx]
			if !ok {
				return fmt.Errorf("%w: stream %d referenced by extractor track %d",
					media.ErrStreamNotFound, ref.StreamIdx, track.Idx())
			}
			refID, ok := tilesIndex[ref.TileIdx]
			if !ok {
				return fmt.Errorf("%w: tile %d of stream %d referenced by extractor track %d",
					media.ErrStreamNotFound, ref.TileIdx, ref.StreamIdx, track.Idx())
			}
			refTrackIdxs = append(refTrackIdxs, refID)
		}

		initCfg := &segmenter.InitSegConfig{
			Tracks:            make(map[uint32]segmenter.TrackConfig, len(s.allTileTracks)+1),
			Fragmented:        true,
			WriteToBitstream:  true,
			PackedSubPictures: true,
			Mode:              segmenter.ModeOMAF,
			InitSegName:       fmt.Sprintf("%s%s_track%d.init.mp4", s.segInfo.DirName, s.segInfo.OutName, trackID),
		}
		for id, cfg := range s.allTileTracks {
			initCfg.Tracks[id] = cfg
		}
		initCfg.Tracks[trackID] = segmenter.TrackConfig{
			Meta: segmenter.TrackMeta{
				TrackID:   trackID,
				Timescale: timescale,
				Type:      segmenter.MediaVideo,
			},
			TrackReferences: map[string][]uint32{"scal": allTileIDs},
		}
		initCfg.StreamIDs = append([]uint32{trackID}, allTileIDs...)

		dashCfg := &segmenter.GeneralSegConfig{
			SgtDuration:    media.Rational{Num: int64(s.segInfo.SegDur), Den: 1},
			SubSgtDuration: media.Rational{Num: int64(s.segInfo.SegDur), Den: 1},
			NeedCheckIDR:   true,
			Tracks: map[uint32]segmenter.TrackMeta{
				trackID: initCfg.Tracks[trackID].Meta,
			},
			StreamsIdx: []uint32{trackID},
			BaseName:   fmt.Sprintf("%s%s_track%d", s.segInfo.DirName, s.segInfo.OutName, trackID),
		}

		initSeg, err := segmenter.NewInitSegmenter(initCfg)
		if err != nil {
			return err
		}
		dashSeg, err := segmenter.NewSegmenter(dashCfg, true)
		if err != nil {
			return err
		}

		rwpk := track.Rwpk()
		covi := track.Covi()
		if rwpk == nil || covi == nil || len(covi.SphereRegions) == 0 {
			return media.ErrNilPointer
		}

		var vpsData []byte
		if vps := track.VPSNalu(); vps.Data != nil {
			vpsData = append([]byte(nil), vps.Data...)
		}

		meta := media.CodedMeta{
			CodingTime:    media.Rational{Num: 0, Den: 1},
			PresTime:      media.Rational{Num: 0, Den: 1000},
			Duration:      media.Rational{Num: s.frameRate.Den * 1000, Den: s.frameRate.Num * 1000},
			TrackID:       trackID,
			InCodingOrder: true,
			Format:        media.FormatH265Extractor,
			DecoderConfig: map[media.ConfigType][]byte{
				media.ConfigVPS: vpsData,
				media.ConfigSPS: append([]byte(nil), track.SPSNalu().Data...),
				media.ConfigPPS: append([]byte(nil), track.PPSNalu().Data...),
			},
			Width:             uint32(rwpk.PackedPicWidth),
			Height:            uint32(rwpk.PackedPicHeight),
			Type:              media.FrameIDR,
			Projection:        s.projType,
			RegionPacking:     convertRwpk(rwpk),
			SphericalCoverage: convertCovi(&covi.SphereRegions[0]),
			SegmenterMeta: media.SegmenterMeta{
				SegmentDuration: media.Rational{Num: int64(s.segInfo.SegDur), Den: 1},
			},
		}
		if err := fillQualityRank(&meta, track.PicResList()); err != nil {
			return err
		}

		ctx := &TrackSegmentCtx{
			IsExtractorTrack: true,
			ExtractorIdx:     track.Idx(),
			ExtractorTrack:   track,
			ExtractorNalu:    media.Nalu{Data: track.SEIPrefix()},
			TrackIdx:         trackID,
			RefTrackIdxs:     refTrackIdxs,
			DashInitCfg:      initCfg,
			DashCfg:          dashCfg,
			InitSegmenter:    initSeg,
			DashSegmenter:    dashSeg,
			CodedMeta:        meta,
		}

		s.extractorSegCtx[track.Idx()] = ctx
	}

	return nil
}
