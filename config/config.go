// Package config loads the YAML job description of a packaging run: output
// naming and windowing, one entry per input stream, and the tile-merge
// layouts of the extractor tracks.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/omafpack/extractor"
	"github.com/zsiec/omafpack/media"
)

// Default values applied when the job file leaves a field unset.
const (
	defaultSegmentDuration          = 2
	defaultWindowSize               = 5
	defaultExtraWindowSize          = 2
	defaultExtractorTracksPerThread = 2
)

// Stream describes one input elementary stream.
type Stream struct {
	Path       string `yaml:"path"`
	Codec      string `yaml:"codec"`      // "h264" or "h265"
	FrameRate  string `yaml:"frame_rate"` // "num/den", e.g. "30/1"
	BitRate    uint64 `yaml:"bit_rate"`   // bits per second
	Projection string `yaml:"projection"` // "erp" or "cubemap"
}

// TileSel selects one tile of one stream inside an extractor layout.
type TileSel struct {
	Stream uint8 `yaml:"stream"`
	Tile   int   `yaml:"tile"`
}

// ExtractorLayout is the tile-merge arrangement of one extractor track:
// columns of tiles, left to right, top to bottom.
type ExtractorLayout struct {
	Columns [][]TileSel `yaml:"columns"`
}

// Config is the full job description.
type Config struct {
	OutputDir                string            `yaml:"output_dir"`
	OutName                  string            `yaml:"out_name"`
	SegmentDuration          uint64            `yaml:"segment_duration"`
	Live                     bool              `yaml:"live"`
	WindowSize               int               `yaml:"window_size"`
	ExtraWindowSize          int               `yaml:"extra_window_size"`
	ExtractorTracksPerThread int               `yaml:"extractor_tracks_per_thread"`
	Streams                  []Stream          `yaml:"streams"`
	Extractors               []ExtractorLayout `yaml:"extractors"`
}

// Load reads and validates a job file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = defaultSegmentDuration
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.ExtraWindowSize == 0 {
		cfg.ExtraWindowSize = defaultExtraWindowSize
	}
	if cfg.ExtractorTracksPerThread == 0 {
		cfg.ExtractorTracksPerThread = defaultExtractorTracksPerThread
	}
	if cfg.OutName == "" {
		cfg.OutName = "out"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./"
	}
	if !strings.HasSuffix(cfg.OutputDir, string(os.PathSeparator)) {
		cfg.OutputDir += string(os.PathSeparator)
	}

	if len(cfg.Streams) == 0 {
		return nil, fmt.Errorf("%w: no input streams configured", media.ErrInvalidData)
	}
	for i, s := range cfg.Streams {
		if s.Path == "" {
			return nil, fmt.Errorf("%w: stream %d has no path", media.ErrInvalidData, i)
		}
		if _, err := s.ParseCodec(); err != nil {
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
		if _, err := s.ParseFrameRate(); err != nil {
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
	}

	return &cfg, nil
}

// ParseCodec maps the codec name to its media constant.
func (s Stream) ParseCodec() (media.Codec, error) {
	switch strings.ToLower(s.Codec) {
	case "h264", "avc":
		return media.CodecH264, nil
	case "h265", "hevc", "":
		return media.CodecH265, nil
	}
	return 0, fmt.Errorf("%w: codec %q", media.ErrUndefinedOperation, s.Codec)
}

// ParseFrameRate parses the "num/den" frame rate; a bare integer means /1.
func (s Stream) ParseFrameRate() (media.Rational, error) {
	var num, den int64
	if strings.Contains(s.FrameRate, "/") {
		if _, err := fmt.Sscanf(s.FrameRate, "%d/%d", &num, &den); err != nil {
			return media.Rational{}, fmt.Errorf("%w: frame rate %q", media.ErrInvalidData, s.FrameRate)
		}
	} else {
		if _, err := fmt.Sscanf(s.FrameRate, "%d", &num); err != nil {
			return media.Rational{}, fmt.Errorf("%w: frame rate %q", media.ErrInvalidData, s.FrameRate)
		}
		den = 1
	}
	if num <= 0 || den <= 0 {
		return media.Rational{}, fmt.Errorf("%w: frame rate %q", media.ErrInvalidData, s.FrameRate)
	}
	return media.Rational{Num: num, Den: den}, nil
}

// ParseProjection maps the projection name to its raw parser value.
func (s Stream) ParseProjection() uint8 {
	if strings.EqualFold(s.Projection, "cubemap") {
		return uint8(media.ProjectionCubemap)
	}
	return uint8(media.ProjectionERP)
}

// ExtractorLayouts converts the configured layouts into extractor package
// form.
func (c *Config) ExtractorLayouts() []extractor.Layout {
	layouts := make([]extractor.Layout, 0, len(c.Extractors))
	for _, el := range c.Extractors {
		var layout extractor.Layout
		for _, col := range el.Columns {
			var column extractor.TileColumn
			for _, sel := range col {
				column = append(column, extractor.TileRef{StreamIdx: sel.Stream, TileIdx: sel.Tile})
			}
			layout.Columns = append(layout.Columns, column)
		}
		layouts = append(layouts, layout)
	}
	return layouts
}
