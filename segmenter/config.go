// Package segmenter writes DASH init and media segments for tile and
// extractor tracks. Init segments are composed box by box with go-mp4,
// including the OMAF sample-entry boxes and the extractor track's 'scal'
// track reference; media segments are fragmented MP4 parts written with
// mediacommon's fmp4 marshaler.
package segmenter

import "github.com/zsiec/omafpack/media"

// MediaType is the declared media kind of a track.
type MediaType uint8

const (
	MediaVideo MediaType = iota
)

// OperatingMode selects the segmenter profile. Only OMAF is produced here.
type OperatingMode uint8

const (
	ModeOMAF OperatingMode = iota
)

// TrackMeta carries the identity and timescale of one track.
type TrackMeta struct {
	TrackID   uint32
	Timescale media.Rational // tick duration: frameRate.den / (frameRate.num * 1000)
	Type      MediaType
}

// TrackConfig describes one track of an init segment, including its track
// references ('scal' for extractor tracks).
type TrackConfig struct {
	Meta            TrackMeta
	TrackReferences map[string][]uint32
}

// InitSegConfig configures one init segment write.
type InitSegConfig struct {
	Tracks            map[uint32]TrackConfig
	Fragmented        bool
	WriteToBitstream  bool
	PackedSubPictures bool
	Mode              OperatingMode
	StreamIDs         []uint32
	InitSegName       string
}

// GeneralSegConfig configures the media segmenter of one track.
type GeneralSegConfig struct {
	SgtDuration      media.Rational // segment duration in seconds
	SubSgtDuration   media.Rational // equal to SgtDuration: no sub-segmentation
	NeedCheckIDR     bool
	Tracks           map[uint32]TrackMeta
	UseSeparatedSidx bool
	StreamsIdx       []uint32
	BaseName         string
}

// TicksPerSecond converts the track timescale into integer ticks per second.
func (m TrackMeta) TicksPerSecond() uint64 {
	if m.Timescale.Num == 0 {
		return 0
	}
	return uint64(m.Timescale.Den / m.Timescale.Num)
}
