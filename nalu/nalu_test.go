package nalu

import (
	"bytes"
	"testing"
)

func TestHEVCNALType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		firstByte byte
		want      byte
	}{
		{"VPS (32)", 0x40, HEVCNALVPS},
		{"SPS (33)", 0x42, HEVCNALSPS},
		{"PPS (34)", 0x44, HEVCNALPPS},
		{"IDR_W_RADL (19)", 0x26, HEVCNALIDRWRadl},
		{"IDR_N_LP (20)", 0x28, HEVCNALIDRNlp},
		{"CRA (21)", 0x2A, HEVCNALCraNut},
		{"TRAIL_R (1)", 0x02, 1},
		{"SEI_PREFIX (39)", 0x4E, HEVCNALSEIPrefix},
		{"extractor (49)", 0x62, HEVCNALExtractor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HEVCNALType(tt.firstByte); got != tt.want {
				t.Errorf("HEVCNALType(0x%02X) = %d, want %d", tt.firstByte, got, tt.want)
			}
		})
	}
}

func TestIsHEVCKeyframe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		nalType byte
		want    bool
	}{
		{"BLA_W_LP", HEVCNALBlaWLP, true},
		{"IDR_W_RADL", HEVCNALIDRWRadl, true},
		{"IDR_N_LP", HEVCNALIDRNlp, true},
		{"CRA", HEVCNALCraNut, true},
		{"TRAIL_N", 0, false},
		{"TRAIL_R", 1, false},
		{"VPS", HEVCNALVPS, false},
		{"SEI", HEVCNALSEIPrefix, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsHEVCKeyframe(tt.nalType); got != tt.want {
				t.Errorf("IsHEVCKeyframe(%d) = %v, want %v", tt.nalType, got, tt.want)
			}
		})
	}
}

func TestScanAnnexB(t *testing.T) {
	t.Parallel()

	data := []byte{
		// 4-byte start code + VPS (type 32)
		0x00, 0x00, 0x00, 0x01, 0x40, 0x01, 0xAA, 0xBB,
		// 4-byte start code + SPS (type 33)
		0x00, 0x00, 0x00, 0x01, 0x42, 0x01, 0xCC, 0xDD,
		// 3-byte start code + PPS (type 34)
		0x00, 0x00, 0x01, 0x44, 0x01, 0xEE,
		// 4-byte start code + IDR_W_RADL (type 19)
		0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xFF, 0x11,
	}

	units := ScanAnnexB(data, 2, HEVCNALType)
	if len(units) != 4 {
		t.Fatalf("expected 4 NAL units, got %d", len(units))
	}

	wantTypes := []byte{HEVCNALVPS, HEVCNALSPS, HEVCNALPPS, HEVCNALIDRWRadl}
	for i, want := range wantTypes {
		if units[i].Type != want {
			t.Errorf("unit[%d]: got type %d, want %d", i, units[i].Type, want)
		}
	}
	if !bytes.Equal(units[2].Data, []byte{0x44, 0x01, 0xEE}) {
		t.Errorf("unit[2] data = %x", units[2].Data)
	}
}

func TestScanAnnexBEmpty(t *testing.T) {
	t.Parallel()

	if units := ScanAnnexB(nil, 2, HEVCNALType); units != nil {
		t.Errorf("expected nil for empty input, got %d units", len(units))
	}
	if units := ScanAnnexB([]byte{0x00, 0x01, 0x02}, 2, HEVCNALType); units != nil {
		t.Errorf("expected nil without start code, got %d units", len(units))
	}
}

func TestEmulationPreventionRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rbsp []byte
	}{
		{"three zeros", []byte{0x00, 0x00, 0x00, 0x41}},
		{"start-code-like", []byte{0x00, 0x00, 0x01}},
		{"two", []byte{0x00, 0x00, 0x02, 0x00, 0x00, 0x03}},
		{"no escaping needed", []byte{0x10, 0x20, 0x30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			escaped := insertEmulationPrevention(tt.rbsp)
			got := removeEmulationPrevention(escaped)
			if !bytes.Equal(got, tt.rbsp) {
				t.Errorf("round trip = %x, want %x (escaped %x)", got, tt.rbsp, escaped)
			}
		})
	}
}

func TestBitWriterReader(t *testing.T) {
	t.Parallel()

	bw := &bitWriter{}
	bw.writeBits(0x5, 3)
	bw.writeBits(0x1234, 16)
	bw.writeBits(1, 1)

	br := newBitReader(bw.bytes())
	if v, err := br.readBits(3); err != nil || v != 0x5 {
		t.Errorf("readBits(3) = %d, %v", v, err)
	}
	if v, err := br.readBits(16); err != nil || v != 0x1234 {
		t.Errorf("readBits(16) = %d, %v", v, err)
	}
	if v, err := br.readBits(1); err != nil || v != 1 {
		t.Errorf("readBits(1) = %d, %v", v, err)
	}
}
