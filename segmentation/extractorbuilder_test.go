package segmentation

import (
	"testing"

	"github.com/zsiec/omafpack/extractor"
	"github.com/zsiec/omafpack/media"
)

func TestExtractorTrackCtx(t *testing.T) {
	t.Parallel()

	streams := twoStreams(t)
	layout := extractor.Layout{Columns: []extractor.TileColumn{
		{{StreamIdx: 0, TileIdx: 0}, {StreamIdx: 0, TileIdx: 2}},
		{{StreamIdx: 1, TileIdx: 1}, {StreamIdx: 1, TileIdx: 3}},
	}}
	s := testSegmentation(t, streams, []extractor.Layout{layout}, testSegInfo(t.TempDir()))

	c := s.extractorSegCtx[0]
	if !c.IsExtractorTrack {
		t.Fatal("context not marked as extractor track")
	}
	if c.CodedMeta.Format != media.FormatH265Extractor {
		t.Errorf("format = %d, want H265Extractor", c.CodedMeta.Format)
	}

	// Referenced tracks resolve in layout order: stream 0 tiles 0 and 2
	// (tracks 1 and 3), then stream 1 tiles 1 and 3 (tracks 6 and 8).
	wantRefs := []uint32{1, 3, 6, 8}
	if len(c.RefTrackIdxs) != len(wantRefs) {
		t.Fatalf("refs = %v, want %v", c.RefTrackIdxs, wantRefs)
	}
	for i, want := range wantRefs {
		if c.RefTrackIdxs[i] != want {
			t.Errorf("ref %d = %d, want %d", i, c.RefTrackIdxs[i], want)
		}
	}

	// The scal reference spans every tile track built in the run, not only
	// the referenced subset.
	scal := c.DashInitCfg.Tracks[c.TrackIdx].TrackReferences["scal"]
	if len(scal) != 8 {
		t.Fatalf("scal refs = %d, want all 8 tile tracks", len(scal))
	}
	for i, id := range scal {
		if id != uint32(i+1) {
			t.Errorf("scal[%d] = %d, want %d", i, id, i+1)
		}
	}

	// The init config declares every tile track plus the extractor itself.
	if len(c.DashInitCfg.Tracks) != 9 {
		t.Errorf("init tracks = %d, want 9", len(c.DashInitCfg.Tracks))
	}
	if c.DashInitCfg.StreamIDs[0] != c.TrackIdx {
		t.Errorf("stream ids lead with %d, want %d", c.DashInitCfg.StreamIDs[0], c.TrackIdx)
	}
}

func TestExtractorQualityRanking(t *testing.T) {
	t.Parallel()

	streams := twoStreams(t)
	s := testSegmentation(t, streams, []extractor.Layout{fullLayout()}, testSegInfo(t.TempDir()))

	c := s.extractorSegCtx[0]
	q := c.CodedMeta.QualityRankCoverage
	if q == nil {
		t.Fatal("expected quality rank coverage")
	}
	if !q.RemainingArea {
		t.Error("remainingArea not set")
	}
	for i, info := range q.QualityInfo {
		if info.QualityRank != MainstreamQualityRank+uint8(i) {
			t.Errorf("quality info %d: rank %d, want %d", i, info.QualityRank, MainstreamQualityRank+uint8(i))
		}
		if info.OrigWidth == 0 || info.OrigHeight == 0 {
			t.Errorf("quality info %d: missing resolution", i)
		}
	}

	if c.CodedMeta.Bitrate.AvgBitrate != 0 {
		t.Errorf("extractor avg bitrate = %d, want 0", c.CodedMeta.Bitrate.AvgBitrate)
	}
	if c.ExtractorNalu.Data == nil {
		t.Error("expected the per-segment SEI prefix scratch buffer")
	}
}
