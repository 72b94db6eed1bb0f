package segmenter

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	mp4 "github.com/abema/go-mp4"

	"github.com/zsiec/omafpack/media"
)

// movieTimescale is the mvhd timescale; track media timescales come from the
// per-track config.
const movieTimescale = 1000

// InitSegmenter writes the init segment of one track. An extractor track's
// init segment also declares every tile track it can reference, plus the
// 'scal' track reference tying them together.
type InitSegmenter struct {
	cfg *InitSegConfig
}

// NewInitSegmenter validates the config and returns an init segmenter.
func NewInitSegmenter(cfg *InitSegConfig) (*InitSegmenter, error) {
	if cfg == nil {
		return nil, media.ErrNilPointer
	}
	if len(cfg.Tracks) == 0 || cfg.InitSegName == "" {
		return nil, fmt.Errorf("%w: init segment config", media.ErrInvalidData)
	}
	return &InitSegmenter{cfg: cfg}, nil
}

// GenerateInitSegment writes the init segment to the configured path. meta
// is the owning track's coded metadata; all maps every other declared track
// id to its metadata (the tile tracks, for an extractor init).
func (s *InitSegmenter) GenerateInitSegment(meta *media.CodedMeta, all map[uint32]*media.CodedMeta) error {
	if meta == nil {
		return media.ErrNilPointer
	}

	f, err := os.Create(s.cfg.InitSegName)
	if err != nil {
		return fmt.Errorf("create init segment: %w", err)
	}
	defer f.Close()

	iw := &initWriter{w: mp4.NewWriter(f)}

	iw.start(mp4.BoxTypeFtyp())
	iw.marshal(&mp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', '6'},
		MinorVersion: 0,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', '6'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'d', 'a', 's', 'h'}},
		},
	})
	iw.end()

	ids := make([]uint32, 0, len(s.cfg.Tracks))
	for id := range s.cfg.Tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	iw.start(mp4.BoxTypeMoov())

	iw.start(mp4.BoxTypeMvhd())
	iw.marshal(&mp4.Mvhd{
		Timescale:   movieTimescale,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      unityMatrix,
		NextTrackID: ids[len(ids)-1] + 1,
	})
	iw.end()

	for _, id := range ids {
		trackMeta := meta
		if id != meta.TrackID {
			trackMeta = all[id]
			if trackMeta == nil {
				return fmt.Errorf("%w: no metadata for track %d", media.ErrStreamNotFound, id)
			}
		}
		s.writeTrak(iw, s.cfg.Tracks[id], trackMeta)
	}

	iw.start(mp4.BoxTypeMvex())
	for _, id := range ids {
		iw.start(mp4.BoxTypeTrex())
		iw.marshal(&mp4.Trex{
			TrackID:                       id,
			DefaultSampleDescriptionIndex: 1,
		})
		iw.end()
	}
	iw.end()

	iw.end() // moov

	if iw.err != nil {
		return fmt.Errorf("write init segment %s: %w", s.cfg.InitSegName, iw.err)
	}
	return nil
}

func (s *InitSegmenter) writeTrak(iw *initWriter, cfg TrackConfig, meta *media.CodedMeta) {
	iw.start(mp4.BoxTypeTrak())

	iw.start(mp4.BoxTypeTkhd())
	iw.marshal(&mp4.Tkhd{
		FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 3}}, // enabled + in movie
		TrackID: cfg.Meta.TrackID,
		Matrix:  unityMatrix,
		Width:   meta.Width << 16,
		Height:  meta.Height << 16,
	})
	iw.end()

	if len(cfg.TrackReferences) > 0 {
		iw.start(mp4.StrToBoxType("tref"))
		for _, refType := range sortedRefTypes(cfg.TrackReferences) {
			iw.start(mp4.StrToBoxType(refType))
			for _, id := range cfg.TrackReferences[refType] {
				iw.raw(binary.BigEndian.AppendUint32(nil, id))
			}
			iw.end()
		}
		iw.end()
	}

	iw.start(mp4.BoxTypeMdia())

	iw.start(mp4.BoxTypeMdhd())
	iw.marshal(&mp4.Mdhd{
		Timescale: uint32(cfg.Meta.TicksPerSecond()),
		Language:  [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
	})
	iw.end()

	iw.start(mp4.BoxTypeHdlr())
	iw.marshal(&mp4.Hdlr{
		HandlerType: [4]byte{'v', 'i', 'd', 'e'},
		Name:        "VideoHandler",
	})
	iw.end()

	iw.start(mp4.BoxTypeMinf())

	iw.start(mp4.BoxTypeVmhd())
	iw.marshal(&mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}})
	iw.end()

	iw.start(mp4.BoxTypeDinf())
	iw.start(mp4.BoxTypeDref())
	iw.marshal(&mp4.Dref{EntryCount: 1})
	iw.start(mp4.BoxTypeUrl())
	iw.marshal(&mp4.Url{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}})
	iw.end()
	iw.end()
	iw.end()

	iw.start(mp4.BoxTypeStbl())

	iw.start(mp4.BoxTypeStsd())
	iw.marshal(&mp4.Stsd{EntryCount: 1})
	s.writeSampleEntry(iw, meta)
	iw.end()

	iw.start(mp4.BoxTypeStts())
	iw.marshal(&mp4.Stts{})
	iw.end()
	iw.start(mp4.BoxTypeStsc())
	iw.marshal(&mp4.Stsc{})
	iw.end()
	iw.start(mp4.BoxTypeStsz())
	iw.marshal(&mp4.Stsz{})
	iw.end()
	iw.start(mp4.BoxTypeStco())
	iw.marshal(&mp4.Stco{})
	iw.end()

	iw.end() // stbl
	iw.end() // minf
	iw.end() // mdia
	iw.end() // trak
}

// writeSampleEntry writes the hvc1/hvc2 visual sample entry with the HEVC
// decoder configuration and the OMAF projection, packing, and coverage boxes.
func (s *InitSegmenter) writeSampleEntry(iw *initWriter, meta *media.CodedMeta) {
	entryType := mp4.StrToBoxType("hvc1")
	if meta.Format == media.FormatH265Extractor {
		entryType = mp4.StrToBoxType("hvc2")
	}

	// go-mp4 has no definition registered for hvc2; the VisualSampleEntry
	// fields are the same for both types, so they are marshaled as hvc1
	// under the entry's own box header.
	iw.start(entryType)
	iw.marshal(&mp4.VisualSampleEntry{
		SampleEntry: mp4.SampleEntry{
			AnyTypeBox:         mp4.AnyTypeBox{Type: mp4.StrToBoxType("hvc1")},
			DataReferenceIndex: 1,
		},
		Width:           uint16(meta.Width),
		Height:          uint16(meta.Height),
		Horizresolution: 0x00480000,
		Vertresolution:  0x00480000,
		FrameCount:      1,
		Depth:           0x0018,
		PreDefined3:     -1,
	})

	vps, sps, pps := decoderNalus(meta)
	iw.start(mp4.StrToBoxType("hvcC"))
	iw.raw(buildHEVCDecoderConfig(vps, sps, pps))
	iw.end()

	iw.start(mp4.StrToBoxType("povd"))
	iw.raw(encodePovd(meta.Projection))
	iw.end()

	if meta.RegionPacking != nil {
		iw.start(mp4.StrToBoxType("rwpk"))
		iw.raw(encodeRwpk(meta.RegionPacking))
		iw.end()
	}
	if meta.SphericalCoverage != nil {
		shape := uint8(0)
		if meta.Projection == media.ProjectionERP {
			shape = 1
		}
		iw.start(mp4.StrToBoxType("covi"))
		iw.raw(encodeCovi(meta.SphericalCoverage, shape))
		iw.end()
	}

	iw.end() // sample entry
}

func sortedRefTypes(refs map[string][]uint32) []string {
	types := make([]string, 0, len(refs))
	for t := range refs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

var unityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// initWriter wraps the go-mp4 writer with sticky error handling so box
// composition reads linearly.
type initWriter struct {
	w   *mp4.Writer
	err error
}

func (iw *initWriter) start(boxType mp4.BoxType) {
	if iw.err != nil {
		return
	}
	_, iw.err = iw.w.StartBox(&mp4.BoxInfo{Type: boxType})
}

func (iw *initWriter) marshal(box mp4.IImmutableBox) {
	if iw.err != nil {
		return
	}
	_, iw.err = mp4.Marshal(iw.w, box, mp4.Context{})
}

func (iw *initWriter) raw(data []byte) {
	if iw.err != nil {
		return
	}
	_, iw.err = iw.w.Write(data)
}

func (iw *initWriter) end() {
	if iw.err != nil {
		return
	}
	_, iw.err = iw.w.EndBox()
}
