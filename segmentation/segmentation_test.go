package segmentation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsiec/omafpack/extractor"
	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/stream"
)

// Synthetic HEVC headers: 256x128 picture, 32-pixel CTBs, 2x2 tile grid.
var (
	testVPS = []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x90}
	testSPS = []byte{
		0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x03, 0x00, 0x78, 0xA0, 0x08, 0x08, 0x08, 0x16, 0x59, 0x3B, 0x80,
	}
	testPPS = []byte{0x44, 0x01, 0xC0, 0x71, 0x84, 0x96}
)

func testHeaderData() []byte {
	var data []byte
	for _, nal := range [][]byte{testVPS, testSPS, testPPS} {
		data = append(data, 0x00, 0x00, 0x00, 0x01)
		data = append(data, nal...)
	}
	return data
}

func testAccessUnit(tiles int, idr bool) []byte {
	header := byte(0x02)
	if idr {
		header = 0x26
	}
	var data []byte
	for i := 0; i < tiles; i++ {
		first := byte(0x00)
		if i == 0 {
			first = 0x80
		}
		data = append(data, 0x00, 0x00, 0x00, 0x01, header, 0x01, first, 0xAB, 0xCD)
	}
	return data
}

func testStream(t *testing.T, idx uint8, bitRate uint64, projection uint8) *stream.VideoStream {
	t.Helper()
	vs, err := stream.New(idx, stream.Config{
		Codec:      media.CodecH265,
		FrameRate:  media.Rational{Num: 30, Den: 1},
		BitRate:    bitRate,
		Projection: projection,
		HeaderData: testHeaderData(),
	}, nil)
	if err != nil {
		t.Fatalf("stream %d: %v", idx, err)
	}
	return vs
}

func twoStreams(t *testing.T) map[uint8]*stream.VideoStream {
	t.Helper()
	return map[uint8]*stream.VideoStream{
		0: testStream(t, 0, 10_000_000, uint8(media.ProjectionERP)),
		1: testStream(t, 1, 5_000_000, uint8(media.ProjectionERP)),
	}
}

func fullLayout() extractor.Layout {
	return extractor.Layout{Columns: []extractor.TileColumn{
		{{StreamIdx: 0, TileIdx: 0}, {StreamIdx: 0, TileIdx: 2}},
		{{StreamIdx: 0, TileIdx: 1}, {StreamIdx: 0, TileIdx: 3}},
	}}
}

func testSegInfo(dir string) *SegmentInfo {
	return &SegmentInfo{
		DirName:                     dir + string(os.PathSeparator),
		OutName:                     "out",
		SegDur:                      1,
		ExtractorTracksPerSegThread: 1,
	}
}

func testSegmentation(t *testing.T, streams map[uint8]*stream.VideoStream, layouts []extractor.Layout, segInfo *SegmentInfo) *Segmentation {
	t.Helper()
	set, err := extractor.NewSet(layouts, streams, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	s, err := New(streams, set, segInfo, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// feed queues framesNum access units on every stream and marks EOS, so the
// run loop can drain without a live producer.
func feed(t *testing.T, streams map[uint8]*stream.VideoStream, framesNum int, keyAt func(i int) bool) {
	t.Helper()
	for _, vs := range streams {
		for i := 0; i < framesNum; i++ {
			frame := &media.FrameBSInfo{
				Data:       testAccessUnit(vs.TilesNum(), keyAt(i)),
				PTS:        int64(i) * 33,
				IsKeyFrame: keyAt(i),
			}
			if err := vs.AddFrame(frame); err != nil {
				t.Fatalf("AddFrame: %v", err)
			}
		}
		vs.SetEOS()
	}
}

func TestRunTwoStreamsOneExtractor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	streams := twoStreams(t)
	s := testSegmentation(t, streams, []extractor.Layout{fullLayout()}, testSegInfo(dir))
	feed(t, streams, 6, func(int) bool { return true })

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Eight tile tracks (ids 1..8) and one extractor track.
	for id := 1; id <= 8; id++ {
		name := filepath.Join(dir, fmt.Sprintf("out_track%d.init.mp4", id))
		if _, err := os.Stat(name); err != nil {
			t.Errorf("tile init %d: %v", id, err)
		}
	}
	extractorInit := filepath.Join(dir, fmt.Sprintf("out_track%d.init.mp4", DefaultExtractorTrackIDBase))
	if _, err := os.Stat(extractorInit); err != nil {
		t.Errorf("extractor init: %v", err)
	}

	// Key-only frames at 1-frame IDR cadence: one segment per frame.
	for seg := 1; seg <= 6; seg++ {
		for _, id := range []int{1, 8, DefaultExtractorTrackIDBase} {
			name := filepath.Join(dir, fmt.Sprintf("out_track%d.%d.mp4", id, seg))
			if _, err := os.Stat(name); err != nil {
				t.Errorf("segment %d of track %d: %v", seg, id, err)
			}
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "out.mpd")); err != nil {
		t.Errorf("mpd: %v", err)
	}

	// Frame counters stay in lock-step across every context: six frames
	// plus the EOS flush tick.
	want := uint64(7)
	for id, c := range s.trackSegCtx {
		if c.CodedMeta.PresIndex != want {
			t.Errorf("track %d: presIndex = %d, want %d", id, c.CodedMeta.PresIndex, want)
		}
		if c.CodedMeta.CodingIndex != c.CodedMeta.PresIndex {
			t.Errorf("track %d: codingIndex diverged", id)
		}
		if c.CodedMeta.PresTime.Den != 1000 {
			t.Errorf("track %d: presTime den = %d", id, c.CodedMeta.PresTime.Den)
		}
	}
	for idx, c := range s.extractorSegCtx {
		if c.CodedMeta.PresIndex != want {
			t.Errorf("extractor %d: presIndex = %d, want %d", idx, c.CodedMeta.PresIndex, want)
		}
	}
}

func TestQualityRanks(t *testing.T) {
	t.Parallel()

	streams := twoStreams(t)
	s := testSegmentation(t, streams, nil, testSegInfo(t.TempDir()))

	// The 10 Mb/s stream outranks the 5 Mb/s stream on every tile.
	for _, c := range s.streamSegCtx[0] {
		if c.QualityRanking != 1 {
			t.Errorf("stream 0 tile %d: rank %d, want 1", c.TileIdx, c.QualityRanking)
		}
		if c.CodedMeta.Bitrate.AvgBitrate != 10_000_000/4 {
			t.Errorf("stream 0 tile %d: avg bitrate %d", c.TileIdx, c.CodedMeta.Bitrate.AvgBitrate)
		}
	}
	for _, c := range s.streamSegCtx[1] {
		if c.QualityRanking != 2 {
			t.Errorf("stream 1 tile %d: rank %d, want 2", c.TileIdx, c.QualityRanking)
		}
	}
}

func TestTrackIDAssignment(t *testing.T) {
	t.Parallel()

	streams := twoStreams(t)
	s := testSegmentation(t, streams, []extractor.Layout{fullLayout()}, testSegInfo(t.TempDir()))

	var ids []uint32
	for _, idx := range sortedStreamIdxs(streams) {
		for _, c := range s.streamSegCtx[idx] {
			ids = append(ids, c.TrackIdx)
		}
	}
	for i, id := range ids {
		if id != uint32(i+1) {
			t.Errorf("tile track %d: id %d, want %d", i, id, i+1)
		}
	}

	c := s.extractorSegCtx[0]
	if c.TrackIdx != DefaultExtractorTrackIDBase {
		t.Errorf("extractor track id = %d, want %d", c.TrackIdx, DefaultExtractorTrackIDBase)
	}
}

func TestTileRwpkSingleRegion(t *testing.T) {
	t.Parallel()

	streams := twoStreams(t)
	s := testSegmentation(t, streams, nil, testSegInfo(t.TempDir()))

	for _, idx := range sortedStreamIdxs(streams) {
		for _, c := range s.streamSegCtx[idx] {
			rp := c.CodedMeta.RegionPacking
			if rp == nil || len(rp.Regions) != 1 {
				t.Fatalf("tile track %d: expected single-region RWPK", c.TrackIdx)
			}
			if rp.ProjPictureWidth != 256 || rp.ProjPictureHeight != 128 {
				t.Errorf("tile track %d: proj picture %dx%d, want source size",
					c.TrackIdx, rp.ProjPictureWidth, rp.ProjPictureHeight)
			}
			if rp.PackedPictureWidth != 256 || rp.PackedPictureHeight != 128 {
				t.Errorf("tile track %d: packed picture %dx%d, want source size",
					c.TrackIdx, rp.PackedPictureWidth, rp.PackedPictureHeight)
			}
		}
	}
}

func TestInvalidProjection(t *testing.T) {
	t.Parallel()

	streams := map[uint8]*stream.VideoStream{
		0: testStream(t, 0, 10_000_000, 2),
	}
	set, err := extractor.NewSet(nil, streams, nil)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if _, err := New(streams, set, testSegInfo(t.TempDir()), nil, nil); !errors.Is(err, media.ErrInvalidProjectionType) {
		t.Errorf("got %v, want ErrInvalidProjectionType", err)
	}
}

func TestKeyframeDisagreement(t *testing.T) {
	t.Parallel()

	streams := twoStreams(t)
	s := testSegmentation(t, streams, []extractor.Layout{fullLayout()}, testSegInfo(t.TempDir()))

	// Stream 0 emits an IDR on every frame; stream 1 drops to non-IDR on
	// frame 2.
	for idx, vs := range streams {
		for i := 0; i < 4; i++ {
			key := idx == 0 || i != 2
			frame := &media.FrameBSInfo{
				Data:       testAccessUnit(vs.TilesNum(), key),
				IsKeyFrame: key,
			}
			if err := vs.AddFrame(frame); err != nil {
				t.Fatalf("AddFrame: %v", err)
			}
		}
		vs.SetEOS()
	}

	if err := s.Run(context.Background()); !errors.Is(err, media.ErrInvalidData) {
		t.Errorf("got %v, want ErrInvalidData", err)
	}
}

func TestLiveWindowing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	segInfo := testSegInfo(dir)
	segInfo.IsLive = true
	segInfo.WindowSize = 3
	segInfo.ExtraWindowSize = 1

	streams := twoStreams(t)
	s := testSegmentation(t, streams, []extractor.Layout{fullLayout()}, segInfo)
	feed(t, streams, 6, func(int) bool { return true })

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []int{1, 8, DefaultExtractorTrackIDBase} {
		for seg := 1; seg <= 2; seg++ {
			name := filepath.Join(dir, fmt.Sprintf("out_track%d.%d.mp4", id, seg))
			if _, err := os.Stat(name); err == nil {
				t.Errorf("segment %d of track %d should have been removed", seg, id)
			}
		}
		for seg := 3; seg <= 6; seg++ {
			name := filepath.Join(dir, fmt.Sprintf("out_track%d.%d.mp4", id, seg))
			if _, err := os.Stat(name); err != nil {
				t.Errorf("segment %d of track %d: %v", seg, id, err)
			}
		}
	}
}

func TestWorkerSharding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		extractors int
		perThread  int
		threads    int
		ave, last  int
	}{
		{"exact split", 6, 3, 2, 3, 3},
		{"remainder", 7, 3, 3, 3, 1},
		{"single", 1, 2, 1, 2, 1},
		{"one each", 4, 1, 4, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			streams := map[uint8]*stream.VideoStream{
				0: testStream(t, 0, 10_000_000, uint8(media.ProjectionERP)),
			}
			layouts := make([]extractor.Layout, tt.extractors)
			for i := range layouts {
				layouts[i] = extractor.Layout{Columns: []extractor.TileColumn{{{StreamIdx: 0, TileIdx: 0}}}}
			}

			segInfo := testSegInfo(t.TempDir())
			segInfo.ExtractorTracksPerSegThread = tt.perThread
			s := testSegmentation(t, streams, layouts, segInfo)

			if s.threadCount != tt.threads {
				t.Errorf("threads = %d, want %d", s.threadCount, tt.threads)
			}
			if s.avePerThread != tt.ave || s.lastPerThread != tt.last {
				t.Errorf("shard sizes = (%d, %d), want (%d, %d)",
					s.avePerThread, s.lastPerThread, tt.ave, tt.last)
			}
		})
	}
}

func TestExtractorShardingEndToEnd(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	streams := map[uint8]*stream.VideoStream{
		0: testStream(t, 0, 10_000_000, uint8(media.ProjectionERP)),
	}
	layouts := make([]extractor.Layout, 7)
	for i := range layouts {
		layouts[i] = extractor.Layout{Columns: []extractor.TileColumn{{{StreamIdx: 0, TileIdx: i % 4}}}}
	}

	segInfo := testSegInfo(dir)
	segInfo.ExtractorTracksPerSegThread = 3
	s := testSegmentation(t, streams, layouts, segInfo)
	feed(t, streams, 4, func(int) bool { return true })

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("run did not finish")
	}

	// Every extractor processed every tick exactly once.
	for _, track := range s.extractors.Tracks() {
		if got := track.ProcessedFrmNum(); got != 5 {
			t.Errorf("extractor %d: processed %d ticks, want 5", track.Idx(), got)
		}
	}
}
