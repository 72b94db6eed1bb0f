package ingest

import (
	"context"
	"errors"
	"testing"

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

func TestFeederRun(t *testing.T) {
	t.Parallel()

	vs, err := stream.New(0, stream.Config{
		Codec:      media.CodecH265,
		FrameRate:  media.Rational{Num: 30, Den: 1},
		BitRate:    10_000_000,
		HeaderData: testHeaderData(),
	}, nil)
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}

	var bitstream []byte
	bitstream = append(bitstream, testHeaderData()...)
	bitstream = append(bitstream, testAccessUnit(4, true)...)
	bitstream = append(bitstream, testAccessUnit(4, false)...)
	bitstream = append(bitstream, testAccessUnit(4, false)...)

	f := NewFeeder(vs, bitstream, nil)
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !vs.EOS() {
		t.Fatal("stream not marked EOS after feeding")
	}

	wantKey := []bool{true, false, false}
	for i, want := range wantKey {
		frame := vs.PopFrame()
		if frame == nil {
			t.Fatalf("frame %d missing", i)
		}
		if frame.IsKeyFrame != want {
			t.Errorf("frame %d: keyframe = %v, want %v", i, frame.IsKeyFrame, want)
		}
		if frame.PTS != int64(i)*33 {
			t.Errorf("frame %d: pts = %d, want %d", i, frame.PTS, int64(i)*33)
		}
	}
	if vs.PopFrame() != nil {
		t.Error("unexpected extra frame")
	}
}

func TestFeederEmptyStream(t *testing.T) {
	t.Parallel()

	vs, err := stream.New(0, stream.Config{
		Codec:      media.CodecH265,
		FrameRate:  media.Rational{Num: 30, Den: 1},
		HeaderData: testHeaderData(),
	}, nil)
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}

	f := NewFeeder(vs, nil, nil)
	if err := f.Run(context.Background()); !errors.Is(err, media.ErrInvalidData) {
		t.Errorf("got %v, want ErrInvalidData", err)
	}
	if !vs.EOS() {
		t.Error("stream must be marked EOS even on failure")
	}
}
