package media

// RectRegionPacking maps one projected picture rectangle to one packed
// picture rectangle, per the OMAF region-wise packing structure. Guard band
// fields are carried but always zero for the tile grids this packager emits.
type RectRegionPacking struct {
	TransformType uint8
	GuardBandFlag bool

	ProjRegWidth  uint32
	ProjRegHeight uint32
	ProjRegTop    uint32
	ProjRegLeft   uint32

	PackedRegWidth  uint16
	PackedRegHeight uint16
	PackedRegTop    uint16
	PackedRegLeft   uint16

	LeftGbWidth          uint8
	RightGbWidth         uint8
	TopGbHeight          uint8
	BottomGbHeight       uint8
	GbNotUsedForPredFlag bool
	GbType0              uint8
	GbType1              uint8
	GbType2              uint8
	GbType3              uint8
}

// RegionWisePacking is the OMAF RWPK metadata for one track: the projected
// and packed picture sizes plus one rectangular region per tile.
type RegionWisePacking struct {
	ConstituentPicMatching bool
	ProjPicWidth           uint32
	ProjPicHeight          uint32
	PackedPicWidth         uint16
	PackedPicHeight        uint16
	RectRegions            []RectRegionPacking
}

// NumRegions returns the region count.
func (r *RegionWisePacking) NumRegions() int {
	return len(r.RectRegions)
}

// SphereRegion is one spherical coverage region. Angles are in units of
// 2^-16 degrees, matching the OMAF coverage information structure.
type SphereRegion struct {
	ViewIdc         uint8
	CentreAzimuth   int32
	CentreElevation int32
	CentreTilt      int32
	AzimuthRange    uint32
	ElevationRange  uint32
	Interpolate     bool
}

// ContentCoverage is the OMAF COVI metadata: the coverage shape plus one
// sphere region per tile.
type ContentCoverage struct {
	CoverageShapeType   uint8
	ViewIdcPresenceFlag bool
	DefaultViewIdc      uint8
	SphereRegions       []SphereRegion
}
