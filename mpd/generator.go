package mpd

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zsiec/omafpack/media"
)

// TrackKind distinguishes tile tracks from extractor tracks in the manifest.
type TrackKind uint8

const (
	KindTile TrackKind = iota
	KindExtractor
)

// TrackInfo is the manifest-facing description of one track.
type TrackInfo struct {
	TrackID     uint32
	Kind        TrackKind
	Width       uint32
	Height      uint32
	Bitrate     uint64
	QualityRank uint8
	// Coverage is the track's sphere region, nil when not signalled.
	Coverage *media.Spherical
	// DependsOn lists the tile track ids an extractor track references.
	DependsOn []uint32
}

// Config carries the output naming and windowing parameters the generator
// needs from the segmentation run.
type Config struct {
	DirName    string
	OutName    string
	SegDur     uint64 // seconds
	IsLive     bool
	WindowSize int
}

// Generator writes the MPD for one packaging run. now is injectable for
// tests.
type Generator struct {
	log        *slog.Logger
	cfg        Config
	tracks     []TrackInfo
	projection media.Projection
	frameRate  media.Rational
	startTime  time.Time
	now        func() time.Time
}

// NewGenerator builds a generator over the run's track set.
func NewGenerator(cfg Config, tracks []TrackInfo, projection media.Projection, frameRate media.Rational, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		log:        log.With("component", "mpd"),
		cfg:        cfg,
		tracks:     tracks,
		projection: projection,
		frameRate:  frameRate,
		now:        time.Now,
	}
}

// Initialize records the availability start for live manifests.
func (g *Generator) Initialize() error {
	g.startTime = g.now().UTC()
	return nil
}

// UpdateMpd rewrites the live manifest after segNum segments and framesNum
// frames.
func (g *Generator) UpdateMpd(segNum uint32, framesNum uint64) error {
	if !g.cfg.IsLive {
		return media.ErrUndefinedOperation
	}
	return g.write(framesNum)
}

// WriteMpd writes the static manifest once all framesNum frames are
// segmented.
func (g *Generator) WriteMpd(framesNum uint64) error {
	return g.write(framesNum)
}

func (g *Generator) write(framesNum uint64) error {
	doc := &MPD{
		XMLNS:         "urn:mpeg:dash:schema:mpd:2011",
		XMLNSOmaf:     "urn:mpeg:mpegI:omaf:2018",
		Profiles:      "urn:mpeg:dash:profile:isoff-live:2011",
		MinBufferTime: fmt.Sprintf("PT%dS", g.cfg.SegDur),
		Periods:       []*Period{{ID: "1", Start: "PT0S"}},
	}

	if g.cfg.IsLive {
		doc.Type = "dynamic"
		doc.AvailabilityStartTime = g.startTime.Format(time.RFC3339)
		doc.PublishTime = g.now().UTC().Format(time.RFC3339)
		doc.MinimumUpdatePeriod = fmt.Sprintf("PT%dS", g.cfg.SegDur)
		if g.cfg.WindowSize > 0 {
			doc.TimeShiftBufferDepth = fmt.Sprintf("PT%dS", uint64(g.cfg.WindowSize)*g.cfg.SegDur)
		}
	} else {
		doc.Type = "static"
		doc.MediaPresentationDuration = g.presentationDuration(framesNum)
	}

	for _, t := range g.tracks {
		doc.Periods[0].AdaptationSets = append(doc.Periods[0].AdaptationSets, g.adaptationSet(t))
	}

	name := filepath.Join(g.cfg.DirName, g.cfg.OutName+".mpd")
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create mpd: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write mpd: %w", err)
	}

	g.log.Info("mpd written", "name", name, "frames", framesNum)
	return nil
}

func (g *Generator) adaptationSet(t TrackInfo) *AdaptationSet {
	as := &AdaptationSet{
		ID:               t.TrackID,
		ContentType:      "video",
		MimeType:         "video/mp4",
		SegmentAlignment: true,
		EssentialProperties: []*Descriptor{{
			SchemeIDURI: "urn:mpeg:mpegI:omaf:2018:pf",
			Value:       fmt.Sprintf("%d", g.projection),
		}},
	}
	if t.Coverage != nil {
		as.SupplementalProperties = append(as.SupplementalProperties, &Descriptor{
			SchemeIDURI: "urn:mpeg:mpegI:omaf:2018:cc",
			Value: fmt.Sprintf("%d,%d,%d,%d,%d",
				t.Coverage.CAzimuth, t.Coverage.CElevation, t.Coverage.CTilt,
				t.Coverage.RAzimuth, t.Coverage.RElevation),
		})
	}
	if t.QualityRank > 0 {
		as.SupplementalProperties = append(as.SupplementalProperties, &Descriptor{
			SchemeIDURI: "urn:mpeg:mpegI:omaf:2018:srqr",
			Value:       fmt.Sprintf("%d", t.QualityRank),
		})
	}

	codecs := "hvc1.1.6.L120.B0"
	if t.Kind == KindExtractor {
		codecs = "hvc2.1.6.L120.B0"
	}

	rep := &Representation{
		ID:             fmt.Sprintf("track%d", t.TrackID),
		Bandwidth:      t.Bitrate,
		Width:          t.Width,
		Height:         t.Height,
		FrameRate:      fmt.Sprintf("%d/%d", g.frameRate.Num, g.frameRate.Den),
		Codecs:         codecs,
		QualityRanking: uint32(t.QualityRank),
		SegmentTemplate: &SegmentTemplate{
			Timescale:      1000,
			Duration:       g.cfg.SegDur * 1000,
			StartNumber:    1,
			Media:          fmt.Sprintf("%s_track%d.$Number$.mp4", g.cfg.OutName, t.TrackID),
			Initialization: fmt.Sprintf("%s_track%d.init.mp4", g.cfg.OutName, t.TrackID),
		},
	}
	if len(t.DependsOn) > 0 {
		deps := make([]string, len(t.DependsOn))
		for i, id := range t.DependsOn {
			deps[i] = fmt.Sprintf("track%d", id)
		}
		rep.DependencyID = strings.Join(deps, " ")
	}
	as.Representations = append(as.Representations, rep)
	return as
}

// presentationDuration formats framesNum frames at the run frame rate as an
// ISO 8601 duration with millisecond precision.
func (g *Generator) presentationDuration(framesNum uint64) string {
	if g.frameRate.Num == 0 {
		return "PT0S"
	}
	ms := framesNum * 1000 * uint64(g.frameRate.Den) / uint64(g.frameRate.Num)
	return fmt.Sprintf("PT%d.%03dS", ms/1000, ms%1000)
}
