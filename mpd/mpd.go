// Package mpd writes the DASH manifest for an OMAF viewport-dependent
// packaging run: one adaptation set per tile track, one per extractor track,
// with the OMAF projection, coverage, and quality-ranking descriptors.
//
// The element structs mirror the usual Go DASH manifest shape (pointer
// fields, omitempty attributes) so the XML round-trips cleanly; the OMAF
// descriptors ride on the generic Descriptor element.
package mpd

import "encoding/xml"

// MPD is the manifest document root.
type MPD struct {
	XMLName                   xml.Name  `xml:"MPD"`
	XMLNS                     string    `xml:"xmlns,attr"`
	XMLNSOmaf                 string    `xml:"xmlns:omaf,attr,omitempty"`
	Profiles                  string    `xml:"profiles,attr"`
	Type                      string    `xml:"type,attr"`
	MinBufferTime             string    `xml:"minBufferTime,attr"`
	MediaPresentationDuration string    `xml:"mediaPresentationDuration,attr,omitempty"`
	AvailabilityStartTime     string    `xml:"availabilityStartTime,attr,omitempty"`
	PublishTime               string    `xml:"publishTime,attr,omitempty"`
	MinimumUpdatePeriod       string    `xml:"minimumUpdatePeriod,attr,omitempty"`
	TimeShiftBufferDepth      string    `xml:"timeShiftBufferDepth,attr,omitempty"`
	Periods                   []*Period `xml:"Period"`
}

// Period is one presentation period; this packager emits exactly one.
type Period struct {
	ID             string           `xml:"id,attr,omitempty"`
	Start          string           `xml:"start,attr,omitempty"`
	AdaptationSets []*AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet groups the representations of one track.
type AdaptationSet struct {
	ID                     uint32            `xml:"id,attr"`
	ContentType            string            `xml:"contentType,attr,omitempty"`
	MimeType               string            `xml:"mimeType,attr"`
	SegmentAlignment       bool              `xml:"segmentAlignment,attr"`
	EssentialProperties    []*Descriptor     `xml:"EssentialProperty,omitempty"`
	SupplementalProperties []*Descriptor     `xml:"SupplementalProperty,omitempty"`
	Representations        []*Representation `xml:"Representation"`
}

// Descriptor is the generic DASH descriptor carrying the OMAF properties.
type Descriptor struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr,omitempty"`
}

// Representation is one track's representation.
type Representation struct {
	ID              string           `xml:"id,attr"`
	Bandwidth       uint64           `xml:"bandwidth,attr"`
	Width           uint32           `xml:"width,attr,omitempty"`
	Height          uint32           `xml:"height,attr,omitempty"`
	FrameRate       string           `xml:"frameRate,attr,omitempty"`
	Codecs          string           `xml:"codecs,attr,omitempty"`
	DependencyID    string           `xml:"dependencyId,attr,omitempty"`
	QualityRanking  uint32           `xml:"qualityRanking,attr,omitempty"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate,omitempty"`
}

// SegmentTemplate names the init and media segment files of a representation.
type SegmentTemplate struct {
	Timescale      uint64 `xml:"timescale,attr"`
	Duration       uint64 `xml:"duration,attr"`
	StartNumber    uint32 `xml:"startNumber,attr"`
	Media          string `xml:"media,attr"`
	Initialization string `xml:"initialization,attr"`
}
