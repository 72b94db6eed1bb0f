// Package ingest feeds pre-encoded Annex B elementary streams into the
// segmentation pipeline, one access unit at a time, stamping timestamps from
// the stream frame rate.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/nalu"
	"github.com/zsiec/omafpack/stream"
)

// Feeder pushes the access units of one elementary-stream buffer into a
// VideoStream's frame FIFO and marks end of stream when drained.
type Feeder struct {
	log  *slog.Logger
	vs   *stream.VideoStream
	data []byte
}

// NewFeeder creates a feeder over a complete Annex B bitstream.
func NewFeeder(vs *stream.VideoStream, data []byte, log *slog.Logger) *Feeder {
	if log == nil {
		log = slog.Default()
	}
	return &Feeder{
		log:  log.With("component", "feeder", "stream", vs.StreamIdx()),
		vs:   vs,
		data: data,
	}
}

// Run splits the bitstream into access units and queues them in order. The
// stream is marked EOS on return, including on cancellation, so the
// segmentation loop can always drain to a clean stop.
func (f *Feeder) Run(ctx context.Context) error {
	defer f.vs.SetEOS()

	aus := nalu.SplitAccessUnits(f.data, f.vs.Codec())
	if len(aus) == 0 {
		return fmt.Errorf("%w: no access units in stream %d", media.ErrInvalidData, f.vs.StreamIdx())
	}

	fr := f.vs.FrameRate()
	ptsStep := int64(1000) * fr.Den / fr.Num

	for i, au := range aus {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := &media.FrameBSInfo{
			Data:       au,
			PTS:        int64(i) * ptsStep,
			IsKeyFrame: nalu.IsKeyFrameAU(au, f.vs.Codec()),
		}
		if err := f.vs.AddFrame(frame); err != nil {
			return fmt.Errorf("queue frame %d of stream %d: %w", i, f.vs.StreamIdx(), err)
		}
	}

	f.log.Info("stream fed", "frames", len(aus))
	return nil
}
