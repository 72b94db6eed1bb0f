package nalu

import (
	"testing"

	"github.com/zsiec/omafpack/media"
)

func TestSplitAccessUnits(t *testing.T) {
	t.Parallel()

	var stream []byte
	stream = append(stream, testHeaderData()...)
	stream = append(stream, testAccessUnit(4, true)...)
	stream = append(stream, testAccessUnit(4, false)...)
	stream = append(stream, testAccessUnit(4, false)...)

	aus := SplitAccessUnits(stream, media.CodecH265)
	if len(aus) != 3 {
		t.Fatalf("expected 3 access units, got %d", len(aus))
	}

	// Parameter sets attach to the first picture.
	first := ScanAnnexB(aus[0], 2, HEVCNALType)
	if len(first) != 7 {
		t.Errorf("first AU: %d NALUs, want 7 (VPS+SPS+PPS+4 slices)", len(first))
	}
	if !IsKeyFrameAU(aus[0], media.CodecH265) {
		t.Error("first AU should be a keyframe")
	}

	for i := 1; i < 3; i++ {
		units := ScanAnnexB(aus[i], 2, HEVCNALType)
		if len(units) != 4 {
			t.Errorf("AU %d: %d NALUs, want 4", i, len(units))
		}
		if IsKeyFrameAU(aus[i], media.CodecH265) {
			t.Errorf("AU %d should not be a keyframe", i)
		}
	}
}

func TestSplitAccessUnitsEmpty(t *testing.T) {
	t.Parallel()

	if aus := SplitAccessUnits(nil, media.CodecH265); len(aus) != 0 {
		t.Errorf("expected no access units, got %d", len(aus))
	}
}
