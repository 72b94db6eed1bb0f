package segmentation

import (
	"fmt"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/segmenter"
)

// extractorWorker services one shard of extractor tracks: the count tracks
// starting at anchorIdx in extractor order. Each tick it parks on its anchor
// track's frames-ready flag, rebuilds every shard member's extractor NALUs
// from the tick's tile slices, writes their segments, and reports progress
// through the per-track processed counter. The frames-ready handshake is the
// only synchronization with the orchestrator.
func (s *Segmentation) extractorWorker(anchorIdx, count int) (err error) {
	tracks := s.extractors.Tracks()
	if anchorIdx >= len(tracks) {
		return fmt.Errorf("%w: worker anchor %d", media.ErrExtractorTrackNotFound, anchorIdx)
	}
	anchor := tracks[anchorIdx]

	// A worker that dies mid-tick must not leave the orchestrator parked on
	// its shard's progress counters.
	defer func() {
		if err != nil {
			for i := anchorIdx; i < anchorIdx+count && i < len(tracks); i++ {
				tracks[i].Abandon()
			}
		}
	}()

	for {
		anchor.WaitFramesReady()
		if s.stopping {
			return nil
		}

		nowKeyFrame := s.nowKeyFrame
		isEOS := s.isEOS

		for i := anchorIdx; i < anchorIdx+count && i < len(tracks); i++ {
			track := tracks[i]
			c, ok := s.extractorSegCtx[track.Idx()]
			if !ok {
				return fmt.Errorf("%w: extractor track %d", media.ErrExtractorTrackNotFound, track.Idx())
			}

			track.ConstructExtractors()
			if s.segNum == s.prevSegNum+1 {
				track.DestroyCurrSegNalus()
				// The SEI prefix moved into the closed segment; rebuild it
				// so this frame, the first of the new segment, carries it.
				c.ExtractorNalu.Data = track.SEIPrefix()
			}
			if err := s.writeSegmentForEachExtractorTrack(c, nowKeyFrame, isEOS); err != nil {
				return err
			}

			if c.ExtractorNalu.Data != nil {
				buf := c.ExtractorNalu.Data
				c.ExtractorNalu.Data = nil
				track.AddExtractorsNaluToSeg(buf)
			}

			track.IncreaseProcessedFrmNum()
		}

		if isEOS {
			return nil
		}
	}
}

// writeSegmentForEachExtractorTrack writes one frame of one extractor track:
// the pending SEI prefix (on the first frame it is still attached to the
// context) followed by this frame's extractor NALUs. EOS ticks carry no
// payload and only flush.
func (s *Segmentation) writeSegmentForEachExtractorTrack(c *TrackSegmentCtx, isKeyFrame, isEOS bool) error {
	if c == nil {
		return media.ErrNilPointer
	}

	if isKeyFrame {
		c.CodedMeta.Type = media.FrameIDR
	} else {
		c.CodedMeta.Type = media.FrameNonIDR
	}
	c.CodedMeta.IsEOS = isEOS

	var payload []byte
	if !isEOS {
		var nalus [][]byte
		if c.ExtractorNalu.Data != nil {
			nalus = append(nalus,
				c.ExtractorTrack.ProjSEINalu().Data,
				c.ExtractorTrack.RwpkSEINalu().Data,
			)
		}
		nalus = append(nalus, c.ExtractorTrack.ExtractorNalus()...)
		payload = segmenter.LengthPrefixed(nalus)
	}

	if err := c.DashSegmenter.SegmentData(&c.CodedMeta, payload); err != nil {
		return err
	}

	c.advance(s.frameRate)
	return nil
}
