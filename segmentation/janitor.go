package segmentation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// removeOutdatedSegments deletes the segment files that fell out of the live
// sliding window after the current segment closed: for segment n, index
// n - WindowSize - ExtraWindowSize is removed for every tile track and every
// extractor track. Missing files are not errors. A zero WindowSize disables
// removal.
func (s *Segmentation) removeOutdatedSegments() {
	if s.segInfo.WindowSize == 0 {
		return
	}
	removeIdx := int(s.segNum) - s.segInfo.WindowSize - s.segInfo.ExtraWindowSize
	if removeIdx <= 0 {
		return
	}

	removed := 0
	rm := func(trackID uint32) {
		name := fmt.Sprintf("%s%s_track%d.%d.mp4", s.segInfo.DirName, s.segInfo.OutName, trackID, removeIdx)
		err := os.Remove(name)
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, fs.ErrNotExist):
			s.log.Warn("failed to remove outdated segment", "name", name, "error", err)
		}
	}

	for trackID := range s.allTileTracks {
		rm(trackID)
	}
	for _, c := range s.extractorSegCtx {
		rm(c.TrackIdx)
	}

	if removed > 0 {
		s.met.AddSegmentsDeleted(removed)
		s.log.Debug("outdated segments removed", "index", removeIdx, "files", removed)
	}
}
