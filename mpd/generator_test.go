package mpd

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/omafpack/media"
)

func testTracks() []TrackInfo {
	return []TrackInfo{
		{
			TrackID:     1,
			Kind:        KindTile,
			Width:       128,
			Height:      64,
			Bitrate:     2_500_000,
			QualityRank: 1,
			Coverage:    &media.Spherical{RAzimuth: 180 * 65536, RElevation: 90 * 65536},
		},
		{
			TrackID:   1000,
			Kind:      KindExtractor,
			Width:     256,
			Height:    128,
			Bitrate:   10_000_000,
			Coverage:  &media.Spherical{RAzimuth: 360 * 65536, RElevation: 180 * 65536},
			DependsOn: []uint32{1},
		},
	}
}

func testGenerator(dir string, live bool) *Generator {
	cfg := Config{
		DirName:    dir + string(os.PathSeparator),
		OutName:    "out",
		SegDur:     1,
		IsLive:     live,
		WindowSize: 3,
	}
	g := NewGenerator(cfg, testTracks(), media.ProjectionERP, media.Rational{Num: 30, Den: 1}, nil)
	g.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func readMPD(t *testing.T, dir string) *MPD {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "out.mpd"))
	if err != nil {
		t.Fatalf("read mpd: %v", err)
	}
	var doc MPD
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse mpd: %v", err)
	}
	return &doc
}

func TestWriteMpdStatic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	g := testGenerator(dir, false)
	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := g.WriteMpd(60); err != nil {
		t.Fatalf("WriteMpd: %v", err)
	}

	doc := readMPD(t, dir)
	if doc.Type != "static" {
		t.Errorf("type = %q, want static", doc.Type)
	}
	if doc.MediaPresentationDuration != "PT2.000S" {
		t.Errorf("duration = %q, want PT2.000S", doc.MediaPresentationDuration)
	}
	if len(doc.Periods) != 1 || len(doc.Periods[0].AdaptationSets) != 2 {
		t.Fatalf("expected one period with two adaptation sets")
	}

	rep := doc.Periods[0].AdaptationSets[0].Representations[0]
	if rep.ID != "track1" {
		t.Errorf("representation id = %q", rep.ID)
	}
	if rep.SegmentTemplate.Media != "out_track1.$Number$.mp4" {
		t.Errorf("media template = %q", rep.SegmentTemplate.Media)
	}
	if rep.SegmentTemplate.Initialization != "out_track1.init.mp4" {
		t.Errorf("init template = %q", rep.SegmentTemplate.Initialization)
	}
	if rep.SegmentTemplate.StartNumber != 1 {
		t.Errorf("start number = %d, want 1", rep.SegmentTemplate.StartNumber)
	}

	extractorRep := doc.Periods[0].AdaptationSets[1].Representations[0]
	if extractorRep.DependencyID != "track1" {
		t.Errorf("dependencyId = %q, want track1", extractorRep.DependencyID)
	}
	if !strings.HasPrefix(extractorRep.Codecs, "hvc2") {
		t.Errorf("extractor codecs = %q, want hvc2 prefix", extractorRep.Codecs)
	}
}

func TestUpdateMpdLive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	g := testGenerator(dir, true)
	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := g.UpdateMpd(3, 90); err != nil {
		t.Fatalf("UpdateMpd: %v", err)
	}

	doc := readMPD(t, dir)
	if doc.Type != "dynamic" {
		t.Errorf("type = %q, want dynamic", doc.Type)
	}
	if doc.AvailabilityStartTime == "" || doc.PublishTime == "" {
		t.Error("expected availability and publish times")
	}
	if doc.TimeShiftBufferDepth != "PT3S" {
		t.Errorf("timeShiftBufferDepth = %q, want PT3S", doc.TimeShiftBufferDepth)
	}
	if doc.MediaPresentationDuration != "" {
		t.Error("dynamic manifest must not carry a presentation duration")
	}
}

func TestUpdateMpdStaticRejected(t *testing.T) {
	t.Parallel()

	g := testGenerator(t.TempDir(), false)
	if err := g.UpdateMpd(1, 30); err == nil {
		t.Error("expected error updating a static manifest")
	}
}

func TestOmafDescriptors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	g := testGenerator(dir, false)
	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := g.WriteMpd(30); err != nil {
		t.Fatalf("WriteMpd: %v", err)
	}

	doc := readMPD(t, dir)
	as := doc.Periods[0].AdaptationSets[0]
	if len(as.EssentialProperties) == 0 ||
		as.EssentialProperties[0].SchemeIDURI != "urn:mpeg:mpegI:omaf:2018:pf" {
		t.Error("missing projection format descriptor")
	}

	var haveCC bool
	for _, d := range as.SupplementalProperties {
		if d.SchemeIDURI == "urn:mpeg:mpegI:omaf:2018:cc" {
			haveCC = true
		}
	}
	if !haveCC {
		t.Error("missing content coverage descriptor")
	}
}
