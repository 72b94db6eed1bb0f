package segmentation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/omafpack/extractor"
	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/metrics"
	"github.com/zsiec/omafpack/mpd"
	"github.com/zsiec/omafpack/segmenter"
	"github.com/zsiec/omafpack/stream"
)

const (
	// frameWaitInterval is the poll interval while a stream's frame FIFO is
	// empty and the stream has not reported end of stream.
	frameWaitInterval = 50 * time.Microsecond

	// tickPacing is the coarse sleep between publishing a tick to the
	// extractor workers and waiting for their completion.
	tickPacing = 2 * time.Millisecond
)

// Segmentation is the packaging orchestrator. It owns every track context
// and runs the per-frame loop on the calling goroutine; extractor-track work
// is sharded over worker goroutines it spawns on the first tick.
type Segmentation struct {
	log        *slog.Logger
	streams    map[uint8]*stream.VideoStream
	extractors *extractor.Set
	segInfo    *SegmentInfo
	met        *metrics.Metrics

	frameRate    media.Rational
	projType     media.Projection
	trackIDStart uint32

	streamSegCtx    map[uint8][]*TrackSegmentCtx
	extractorSegCtx map[uint8]*TrackSegmentCtx
	trackSegCtx     map[uint32]*TrackSegmentCtx
	allTileTracks   map[uint32]segmenter.TrackConfig
	tilesTrackIdxs  map[uint8]map[int]uint32

	framesIsKey map[uint8]bool
	streamsEOS  map[uint8]bool
	nowKeyFrame bool
	isEOS       bool
	stopping    bool

	segNum     uint32
	prevSegNum uint32
	framesNum  uint64

	threadCount    int
	avePerThread   int
	lastPerThread  int
	workersSpawned int
	workers        errgroup.Group

	mpdGen *mpd.Generator
}

// New builds every tile-track and extractor-track segment context and the
// MPD generator. Construction faults (missing headers, invalid projection,
// unresolvable tile references) surface here, before any file is written.
func New(streams map[uint8]*stream.VideoStream, extractors *extractor.Set, segInfo *SegmentInfo, met *metrics.Metrics, log *slog.Logger) (*Segmentation, error) {
	if len(streams) == 0 || extractors == nil || segInfo == nil {
		return nil, media.ErrNilPointer
	}
	if segInfo.ExtractorTracksPerSegThread <= 0 {
		return nil, fmt.Errorf("%w: extractor tracks per thread must be positive", media.ErrInvalidData)
	}
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}

	s := &Segmentation{
		log:             log.With("component", "segmentation"),
		streams:         streams,
		extractors:      extractors,
		segInfo:         segInfo,
		met:             met,
		trackIDStart:    1,
		streamSegCtx:    make(map[uint8][]*TrackSegmentCtx),
		extractorSegCtx: make(map[uint8]*TrackSegmentCtx),
		trackSegCtx:     make(map[uint32]*TrackSegmentCtx),
		allTileTracks:   make(map[uint32]segmenter.TrackConfig),
		tilesTrackIdxs:  make(map[uint8]map[int]uint32),
		framesIsKey:     make(map[uint8]bool),
		streamsEOS:      make(map[uint8]bool),
	}

	if err := s.buildTileTrackCtxs(); err != nil {
		return nil, err
	}
	if err := s.buildExtractorTrackCtxs(); err != nil {
		return nil, err
	}

	s.mpdGen = mpd.NewGenerator(mpd.Config{
		DirName:    segInfo.DirName,
		OutName:    segInfo.OutName,
		SegDur:     segInfo.SegDur,
		IsLive:     segInfo.IsLive,
		WindowSize: segInfo.WindowSize,
	}, s.trackInfos(), s.projType, s.frameRate, log)

	s.computeWorkerSharding()
	s.met.SetConfiguredTracks(len(s.trackSegCtx) + len(s.extractorSegCtx))

	return s, nil
}

// computeWorkerSharding splits the extractor tracks over worker goroutines:
// every worker services ExtractorTracksPerSegThread tracks except possibly
// the last, which takes the remainder.
func (s *Segmentation) computeWorkerSharding() {
	count := s.extractors.Len()
	ave := s.segInfo.ExtractorTracksPerSegThread

	s.avePerThread = ave
	if count%ave == 0 {
		s.threadCount = count / ave
		s.lastPerThread = ave
	} else {
		s.threadCount = count/ave + 1
		s.lastPerThread = count % ave
	}
}

// Run writes every track's init segment and then drives the per-frame loop
// until all streams reach end of stream. It blocks until the last extractor
// worker has drained.
func (s *Segmentation) Run(ctx context.Context) error {
	if err := s.mpdGen.Initialize(); err != nil {
		return err
	}

	tileMetas := make(map[uint32]*media.CodedMeta, len(s.trackSegCtx))
	for id, c := range s.trackSegCtx {
		tileMetas[id] = &c.CodedMeta
	}

	for _, idx := range sortedStreamIdxs(s.streams) {
		for _, c := range s.streamSegCtx[idx] {
			if err := c.InitSegmenter.GenerateInitSegment(&c.CodedMeta, tileMetas); err != nil {
				return err
			}
		}
	}
	for _, track := range s.extractors.Tracks() {
		c := s.extractorSegCtx[track.Idx()]
		if err := c.InitSegmenter.GenerateInitSegment(&c.CodedMeta, tileMetas); err != nil {
			return err
		}
	}

	s.prevSegNum = s.segNum
	s.log.Info("worker sharding computed",
		"threads", s.threadCount,
		"tracks_per_thread", s.avePerThread,
		"tracks_last_thread", s.lastPerThread,
	)

	err := s.tickLoop(ctx)
	if err != nil {
		// Release any worker parked on its anchor so Wait cannot hang.
		s.stopping = true
		for _, track := range s.extractors.Tracks() {
			track.SetFramesReady(true)
		}
	}

	workerErr := s.workers.Wait()
	if err != nil {
		return err
	}
	return workerErr
}

// tickLoop is the per-frame loop: one iteration consumes one presentation
// frame from every stream, writes all tile-track segments, publishes the
// tick to the extractor workers, and settles segment-boundary bookkeeping.
func (s *Segmentation) tickLoop(ctx context.Context) error {
	segStart := time.Now()

	for {
		if s.segNum == 1 && s.segInfo.IsLive {
			if err := s.mpdGen.UpdateMpd(s.segNum, s.framesNum); err != nil {
				return err
			}
		}

		currFrames := make(map[uint8]*media.FrameBSInfo, len(s.streams))
		for _, idx := range sortedStreamIdxs(s.streams) {
			vs := s.streams[idx]

			frame := vs.PopFrame()
			for frame == nil && !vs.EOS() {
				if err := sleepCtx(ctx, frameWaitInterval); err != nil {
					return err
				}
				frame = vs.PopFrame()
			}

			if frame != nil {
				s.framesIsKey[idx] = frame.IsKeyFrame
				s.streamsEOS[idx] = false
				if err := vs.UpdateTilesNalu(frame); err != nil {
					return err
				}
				if err := s.writeSegmentForEachVideo(idx, frame.IsKeyFrame, false); err != nil {
					return err
				}
			} else {
				s.framesIsKey[idx] = false
				s.streamsEOS[idx] = true
				if err := s.writeSegmentForEachVideo(idx, false, true); err != nil {
					return err
				}
			}
			currFrames[idx] = frame
		}

		nowKey, eos, err := s.aggregateTickState()
		if err != nil {
			return err
		}
		s.nowKeyFrame = nowKey
		s.isEOS = eos

		s.publishTick()

		time.Sleep(tickPacing)
		for _, track := range s.extractors.Tracks() {
			track.WaitProcessed(s.framesNum + 1)
		}

		segmentClosed := s.segNum == s.prevSegNum+1
		for _, idx := range sortedStreamIdxs(s.streams) {
			vs := s.streams[idx]
			if segmentClosed {
				vs.ClearSegmentFrames()
			}
			vs.AppendSegmentFrame(currFrames[idx])
		}

		if segmentClosed {
			s.log.Info("segment completed",
				"segment", s.segNum,
				"elapsed_ms", time.Since(segStart).Milliseconds(),
			)
			segStart = time.Now()
			s.prevSegNum = s.segNum
			s.met.IncSegmentsWritten()
			if s.segInfo.IsLive {
				s.removeOutdatedSegments()
			}
		}

		if s.isEOS {
			if s.segInfo.IsLive {
				if err := s.mpdGen.UpdateMpd(s.segNum, s.framesNum); err != nil {
					return err
				}
			} else {
				if err := s.mpdGen.WriteMpd(s.framesNum); err != nil {
					return err
				}
			}
			s.log.Info("segmentation finished", "frames", s.framesNum, "segments", s.segNum)
			return nil
		}

		s.framesNum++
		s.met.IncFramesSegmented()
	}
}

// aggregateTickState checks that every stream agrees on this tick's
// keyframe-ness and end-of-stream state, which the segment writers rely on
// for lock-step boundaries.
func (s *Segmentation) aggregateTickState() (nowKey, eos bool, err error) {
	first := true
	for _, idx := range sortedStreamIdxs(s.streams) {
		if first {
			nowKey = s.framesIsKey[idx]
			eos = s.streamsEOS[idx]
			first = false
			continue
		}
		if s.framesIsKey[idx] != nowKey {
			return false, false, fmt.Errorf("%w: streams disagree on keyframe at frame %d",
				media.ErrInvalidData, s.framesNum)
		}
		if s.streamsEOS[idx] != eos {
			return false, false, fmt.Errorf("%w: streams disagree on EOS at frame %d",
				media.ErrInvalidData, s.framesNum)
		}
	}
	return nowKey, eos, nil
}

// publishTick marks every extractor track's frames ready and lazily spawns
// the worker goroutines on the first tick. Each worker is anchored at the
// first extractor track of its shard.
func (s *Segmentation) publishTick() {
	for _, track := range s.extractors.Tracks() {
		track.SetFramesReady(true)
	}

	for s.workersSpawned < s.threadCount {
		anchor := s.workersSpawned * s.avePerThread
		count := s.avePerThread
		if s.workersSpawned == s.threadCount-1 {
			count = s.lastPerThread
		}
		s.workers.Go(func() error {
			return s.extractorWorker(anchor, count)
		})
		s.workersSpawned++
	}
}

// writeSegmentForEachVideo feeds this tick's tile slice NALUs to every tile
// track of one stream. On an EOS tick no payload is passed; the writers
// flush their open segments. segNum tracks the last writer's completed
// segment count; all writers stay in lock-step by construction.
func (s *Segmentation) writeSegmentForEachVideo(streamIdx uint8, isKeyFrame, isEOS bool) error {
	ctxs, ok := s.streamSegCtx[streamIdx]
	if !ok {
		return fmt.Errorf("%w: stream %d", media.ErrStreamNotFound, streamIdx)
	}

	for _, c := range ctxs {
		if isKeyFrame {
			c.CodedMeta.Type = media.FrameIDR
		} else {
			c.CodedMeta.Type = media.FrameNonIDR
		}
		c.CodedMeta.IsEOS = isEOS

		var payload []byte
		if !isEOS {
			payload = segmenter.LengthPrefixed([][]byte{c.TileInfo.TileNalu.Data})
		}
		if err := c.DashSegmenter.SegmentData(&c.CodedMeta, payload); err != nil {
			return err
		}

		c.advance(s.frameRate)
		s.segNum = c.DashSegmenter.SegmentsNum()
	}
	return nil
}

// trackInfos assembles the manifest-facing track list: tile tracks in track
// id order, then extractor tracks in extractor order.
func (s *Segmentation) trackInfos() []mpd.TrackInfo {
	var infos []mpd.TrackInfo

	for _, idx := range sortedStreamIdxs(s.streams) {
		vs := s.streams[idx]
		covi := vs.SrcCovi()
		for _, c := range s.streamSegCtx[idx] {
			info := mpd.TrackInfo{
				TrackID:     c.TrackIdx,
				Kind:        mpd.KindTile,
				Width:       c.CodedMeta.Width,
				Height:      c.CodedMeta.Height,
				Bitrate:     c.CodedMeta.Bitrate.AvgBitrate,
				QualityRank: c.QualityRanking,
			}
			if c.TileIdx < len(covi.SphereRegions) {
				info.Coverage = convertCovi(&covi.SphereRegions[c.TileIdx])
			}
			infos = append(infos, info)
		}
	}

	for _, track := range s.extractors.Tracks() {
		c := s.extractorSegCtx[track.Idx()]
		var bandwidth uint64
		for _, refID := range c.RefTrackIdxs {
			if ref, ok := s.trackSegCtx[refID]; ok {
				bandwidth += ref.CodedMeta.Bitrate.AvgBitrate
			}
		}
		infos = append(infos, mpd.TrackInfo{
			TrackID:   c.TrackIdx,
			Kind:      mpd.KindExtractor,
			Width:     c.CodedMeta.Width,
			Height:    c.CodedMeta.Height,
			Bitrate:   bandwidth,
			Coverage:  c.CodedMeta.SphericalCoverage,
			DependsOn: c.RefTrackIdxs,
		})
	}
	return infos
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
