package media

// FrameType marks a coded frame as a random access point or not.
type FrameType uint8

const (
	FrameIDR FrameType = iota
	FrameNonIDR
)

// CodedFormat identifies the sample format a track carries.
type CodedFormat uint8

const (
	FormatH265 CodedFormat = iota
	FormatH265Extractor
)

// ConfigType keys the decoder configuration NALUs of a CodedMeta.
type ConfigType uint8

const (
	ConfigVPS ConfigType = iota
	ConfigSPS
	ConfigPPS
)

// Bitrate carries the average and peak bitrate of a track in bits per second.
type Bitrate struct {
	AvgBitrate uint64
	MaxBitrate uint64
}

// RegionPacking is the writer-facing form of RegionWisePacking attached to a
// CodedMeta, converted from the source RWPK at context-build time.
type RegionPacking struct {
	ConstituentPictMatching bool
	ProjPictureWidth        uint32
	ProjPictureHeight       uint32
	PackedPictureWidth      uint16
	PackedPictureHeight     uint16
	Regions                 []PackedRegion
}

// PackedRegion is one region of a RegionPacking.
type PackedRegion struct {
	ProjTop      uint32
	ProjLeft     uint32
	ProjWidth    uint32
	ProjHeight   uint32
	Transform    uint8
	PackedTop    uint16
	PackedLeft   uint16
	PackedWidth  uint16
	PackedHeight uint16
}

// Spherical is the writer-facing spherical coverage of a track.
type Spherical struct {
	CAzimuth   int32
	CElevation int32
	CTilt      int32
	RAzimuth   uint32
	RElevation uint32
}

// QualityInfo ranks one source resolution within a Quality3D coverage.
type QualityInfo struct {
	OrigWidth   uint32
	OrigHeight  uint32
	QualityRank uint8
	Sphere      Spherical
}

// Quality3D is the OMAF sphere-region quality ranking attached to extractor
// tracks: one QualityInfo per source picture resolution.
type Quality3D struct {
	QualityInfo   []QualityInfo
	RemainingArea bool
}

// SegmenterMeta carries per-track segmenter parameters inside a CodedMeta.
type SegmenterMeta struct {
	// SegmentDuration is the target segment duration in seconds.
	SegmentDuration Rational
}

// CodedMeta is the per-frame metadata template handed to the segment writer
// with every access unit of a track. The counters and timestamps advance once
// per frame; the identity fields are fixed at context-build time.
type CodedMeta struct {
	PresIndex   uint64
	CodingIndex uint64
	CodingTime  Rational
	PresTime    Rational
	Duration    Rational

	TrackID       uint32
	InCodingOrder bool
	Format        CodedFormat
	DecoderConfig map[ConfigType][]byte
	Width         uint32
	Height        uint32
	Bitrate       Bitrate
	Type          FrameType
	IsEOS         bool
	Projection    Projection

	RegionPacking       *RegionPacking
	SphericalCoverage   *Spherical
	QualityRankCoverage *Quality3D

	SegmenterMeta SegmenterMeta
}
