// Package extractor models OMAF extractor tracks: the tile-merge layout that
// selects tiles from the input streams, the merged region-wise packing and
// coverage of the resulting picture, per-frame extractor NALU construction,
// and the per-tick handshake between the segmentation orchestrator and the
// extractor worker goroutines.
package extractor

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/zsiec/omafpack/media"
	"github.com/zsiec/omafpack/nalu"
	"github.com/zsiec/omafpack/stream"
)

// TileRef selects one tile of one input stream by stream index and row-major
// tile index.
type TileRef struct {
	StreamIdx uint8
	TileIdx   int
}

// TileColumn is one column of the merged picture, tiles listed top to bottom.
type TileColumn []TileRef

// Layout is the tile-merge arrangement of one extractor track: columns left
// to right.
type Layout struct {
	Columns []TileColumn
}

// resolvedRef is a TileRef bound to its source stream and tile scratch slot.
type resolvedRef struct {
	ref    TileRef
	stream *stream.VideoStream
	tile   *media.TileInfo
}

// Track is one extractor track. The merge layout, merged metadata, and SEI
// NALUs are fixed at construction; the extractor NALUs and the segment NALU
// retention list are owned by the worker goroutine servicing the track.
type Track struct {
	log    *slog.Logger
	idx    uint8
	layout Layout
	refs   []resolvedRef

	vps media.Nalu
	sps media.Nalu
	pps media.Nalu

	rwpk   *media.RegionWisePacking
	covi   *media.ContentCoverage
	picRes []media.PicResolution

	projSEI media.Nalu
	rwpkSEI media.Nalu

	mu          sync.Mutex
	cond        *sync.Cond
	framesReady bool
	processed   uint64

	extractors [][]byte
	segNalus   [][]byte
}

// Idx returns the extractor track index.
func (t *Track) Idx() uint8 { return t.idx }

// Layout returns the tile-merge layout.
func (t *Track) Layout() Layout { return t.layout }

// VPSNalu returns the merged decoder VPS.
func (t *Track) VPSNalu() *media.Nalu { return &t.vps }

// SPSNalu returns the merged decoder SPS.
func (t *Track) SPSNalu() *media.Nalu { return &t.sps }

// PPSNalu returns the merged decoder PPS.
func (t *Track) PPSNalu() *media.Nalu { return &t.pps }

// Rwpk returns the merged region-wise packing of the extractor picture.
func (t *Track) Rwpk() *media.RegionWisePacking { return t.rwpk }

// Covi returns the spherical coverage of the extractor picture.
func (t *Track) Covi() *media.ContentCoverage { return t.covi }

// PicResList returns the source picture resolutions referenced by this
// track, highest quality first.
func (t *Track) PicResList() []media.PicResolution { return t.picRes }

// ProjSEINalu returns the track's projection SEI NALU.
func (t *Track) ProjSEINalu() *media.Nalu { return &t.projSEI }

// RwpkSEINalu returns the track's region-wise packing SEI NALU.
func (t *Track) RwpkSEINalu() *media.Nalu { return &t.rwpkSEI }

// SEIPrefix builds the per-segment NALU prefix: the projection SEI followed
// by the region-wise packing SEI, in one contiguous buffer.
func (t *Track) SEIPrefix() []byte {
	buf := make([]byte, 0, len(t.projSEI.Data)+len(t.rwpkSEI.Data))
	buf = append(buf, t.projSEI.Data...)
	buf = append(buf, t.rwpkSEI.Data...)
	return buf
}

// TileRefs returns the tile references in layout iteration order (columns
// left to right, tiles top to bottom).
func (t *Track) TileRefs() []TileRef {
	refs := make([]TileRef, len(t.refs))
	for i, r := range t.refs {
		refs[i] = r.ref
	}
	return refs
}

// extractor NAL unit layout: 2-byte NAL header (type 49) followed by one
// sample constructor per referenced tile sample (ISO/IEC 14496-15 A.7.4):
// constructor_type(0), track_ref_index, sample_offset, data_offset(4),
// data_length(4).
const sampleConstructorLen = 11

// ConstructExtractors rebuilds this frame's extractor NALUs from the
// referenced tiles' current slice NALUs. Must be called after the
// orchestrator has published the tick's tile NALUs.
func (t *Track) ConstructExtractors() {
	t.extractors = t.extractors[:0]
	for i, r := range t.refs {
		ex := make([]byte, 0, 2+sampleConstructorLen)
		ex = append(ex, nalu.HEVCNALExtractor<<1, 0x01)
		ex = append(ex, 0)         // constructor_type: sample constructor
		ex = append(ex, byte(i+1)) // track_ref_index into scal (1-based)
		ex = append(ex, 0)         // sample_offset: the aligned sample
		var off [4]byte
		binary.BigEndian.PutUint32(off[:], 0)
		ex = append(ex, off[:]...)
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(4+len(r.tile.TileNalu.Data)))
		ex = append(ex, length[:]...)
		t.extractors = append(t.extractors, ex)
	}
}

// ExtractorNalus returns the extractor NALUs built for the current frame.
func (t *Track) ExtractorNalus() [][]byte { return t.extractors }

// AddExtractorsNaluToSeg takes ownership of a NALU buffer for the lifetime
// of the current segment.
func (t *Track) AddExtractorsNaluToSeg(buf []byte) {
	t.segNalus = append(t.segNalus, buf)
}

// DestroyCurrSegNalus releases the NALU buffers retained for the segment
// that just closed.
func (t *Track) DestroyCurrSegNalus() {
	t.segNalus = t.segNalus[:0]
}

// SetFramesReady publishes this tick's tile NALUs to the worker servicing
// the track. All writes before the call are visible to the worker that
// observes the flag.
func (t *Track) SetFramesReady(ready bool) {
	t.mu.Lock()
	t.framesReady = ready
	t.mu.Unlock()
	t.cond.Broadcast()
}

// WaitFramesReady parks until the orchestrator publishes the tick, then
// consumes the flag.
func (t *Track) WaitFramesReady() {
	t.mu.Lock()
	for !t.framesReady {
		t.cond.Wait()
	}
	t.framesReady = false
	t.mu.Unlock()
}

// IncreaseProcessedFrmNum records that the worker finished this track for
// the current tick.
func (t *Track) IncreaseProcessedFrmNum() {
	t.mu.Lock()
	t.processed++
	t.mu.Unlock()
	t.cond.Broadcast()
}

// ProcessedFrmNum returns the number of ticks the worker has completed for
// this track.
func (t *Track) ProcessedFrmNum() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed
}

// WaitProcessed parks until the worker has completed at least target ticks.
func (t *Track) WaitProcessed(target uint64) {
	t.mu.Lock()
	for t.processed < target {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// Abandon marks the track's worker as gone, releasing any progress wait.
// Called when a worker exits on error so the orchestrator can finish the
// tick and surface the failure.
func (t *Track) Abandon() {
	t.mu.Lock()
	t.processed = ^uint64(0)
	t.mu.Unlock()
	t.cond.Broadcast()
}
