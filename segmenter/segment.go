package segmenter

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/zsiec/omafpack/media"
)

// Segmenter writes the media segments of one track. Samples accumulate in
// memory until a segment boundary (the next random access point, or end of
// stream) and are then flushed as one fragmented MP4 segment file
// "{base}.{n}.mp4" with n starting at 1.
type Segmenter struct {
	cfg      *GeneralSegConfig
	checkIDR bool
	log      *slog.Logger

	trackID    uint32
	ticksPerS  uint64
	segTicks   uint64
	frameTicks uint32

	seq      uint32
	baseTime uint64
	accum    uint64
	samples  []*fmp4.Sample
}

// NewSegmenter validates the config and returns a media segmenter for its
// single track.
func NewSegmenter(cfg *GeneralSegConfig, withIDRBoundary bool) (*Segmenter, error) {
	if cfg == nil {
		return nil, media.ErrNilPointer
	}
	if len(cfg.Tracks) != 1 || cfg.BaseName == "" {
		return nil, fmt.Errorf("%w: media segment config", media.ErrInvalidData)
	}

	var trackMeta TrackMeta
	for _, m := range cfg.Tracks {
		trackMeta = m
	}
	tps := trackMeta.TicksPerSecond()
	if tps == 0 || cfg.SgtDuration.Den == 0 {
		return nil, fmt.Errorf("%w: zero timescale", media.ErrInvalidData)
	}

	return &Segmenter{
		cfg:       cfg,
		checkIDR:  withIDRBoundary && cfg.NeedCheckIDR,
		log:       slog.With("component", "segmenter", "track", trackMeta.TrackID),
		trackID:   trackMeta.TrackID,
		ticksPerS: tps,
		segTicks:  uint64(cfg.SgtDuration.Num) * tps / uint64(cfg.SgtDuration.Den),
	}, nil
}

// SegmentData appends one coded frame to the current segment, closing and
// writing the segment first when the frame starts a new one. An EOS call with
// no payload only flushes.
func (s *Segmenter) SegmentData(meta *media.CodedMeta, payload []byte) error {
	if meta == nil {
		return media.ErrNilPointer
	}

	if len(payload) == 0 {
		if meta.IsEOS {
			return s.flush()
		}
		return media.ErrDataSize
	}

	if s.frameTicks == 0 {
		if meta.Duration.Den == 0 {
			return fmt.Errorf("%w: zero frame duration", media.ErrInvalidData)
		}
		s.frameTicks = uint32(uint64(meta.Duration.Num) * s.ticksPerS / uint64(meta.Duration.Den))
	}

	// With IDR checking a segment closes only when the incoming frame is a
	// random access point; otherwise the target duration alone closes it.
	var boundary bool
	if s.checkIDR {
		boundary = meta.Type == media.FrameIDR
	} else {
		boundary = s.accum >= s.segTicks
	}
	if boundary && len(s.samples) > 0 {
		if err := s.flush(); err != nil {
			return err
		}
	}

	s.samples = append(s.samples, &fmp4.Sample{
		Duration:        s.frameTicks,
		IsNonSyncSample: meta.Type != media.FrameIDR,
		Payload:         payload,
	})
	s.accum += uint64(s.frameTicks)

	if meta.IsEOS {
		return s.flush()
	}
	return nil
}

// SegmentsNum returns the number of completed segments.
func (s *Segmenter) SegmentsNum() uint32 {
	return s.seq
}

// flush writes the accumulated samples as segment seq+1 and resets the
// accumulation state.
func (s *Segmenter) flush() error {
	if len(s.samples) == 0 {
		return nil
	}

	name := fmt.Sprintf("%s.%d.mp4", s.cfg.BaseName, s.seq+1)
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(stypBox()); err != nil {
		return fmt.Errorf("write styp: %w", err)
	}

	part := fmp4.Part{
		SequenceNumber: s.seq + 1,
		Tracks: []*fmp4.PartTrack{{
			ID:       int(s.trackID),
			BaseTime: s.baseTime,
			Samples:  s.samples,
		}},
	}
	if err := part.Marshal(f); err != nil {
		return fmt.Errorf("write segment %s: %w", name, err)
	}

	segTicks := uint64(len(s.samples)) * uint64(s.frameTicks)
	s.baseTime += segTicks
	s.accum = 0
	s.samples = nil
	s.seq++

	s.log.Debug("segment written", "name", name, "ticks", segTicks)
	return nil
}

// stypBox returns the segment-type box prepended to every media segment.
func stypBox() []byte {
	buf := make([]byte, 0, 24)
	buf = binary.BigEndian.AppendUint32(buf, 24)
	buf = append(buf, 's', 't', 'y', 'p')
	buf = append(buf, 'i', 's', 'o', '6')
	buf = binary.BigEndian.AppendUint32(buf, 0)
	buf = append(buf, 'i', 's', 'o', '6')
	buf = append(buf, 'm', 's', 'd', 'h')
	return buf
}
