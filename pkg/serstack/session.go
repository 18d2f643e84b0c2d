package serstack

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// FrameInfo describes a single frame to the presentation layer.
type FrameInfo struct {
	Index        int
	Timestamp    time.Time
	HasTimestamp bool
}

// SessionOptions configures an open file session.
type SessionOptions struct {
	// CacheSize bounds the reconstructed-frame cache. Zero selects the
	// default of 10 frames.
	CacheSize int
	// CYYMOrientation overrides the mosaic orientation for CYYM-family
	// containers. Empty selects auto-detection from the instrument string.
	CYYMOrientation CYYMOrientation
	// Aligner overrides the registration parameters used when stacking.
	// Nil selects the stacking preset.
	Aligner *AlignerConfig
	Logger  *slog.Logger
}

// Session is the boundary consumed by the presentation layer: one open video
// file (SER container or codec-decoded AVI/MP4) with cached display frames
// and composite generation. Close releases the underlying file resource.
type Session struct {
	path    string
	parser  *Parser      // non-nil for SER input
	video   *VideoSource // non-nil for codec input
	src     FrameSource
	rec     *Reconstructor
	cache   *FrameCache
	stacker *Stacker
	header  Header
	log     *slog.Logger
}

// OpenSession opens a video file, dispatching on the extension. Supported
// inputs are .ser containers and .avi/.mp4 recordings.
func OpenSession(path string, opts SessionOptions) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 10
	}
	alignCfg := StackAlignerConfig()
	if opts.Aligner != nil {
		alignCfg = *opts.Aligner
	}

	s := &Session{
		path:    path,
		cache:   NewFrameCache(cacheSize),
		stacker: NewStackerWithAligner(alignCfg, log),
		log:     log,
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ser":
		parser, err := Open(path)
		if err != nil {
			return nil, err
		}
		header := parser.Header()
		orient := opts.CYYMOrientation
		if orient == "" && header.ColorID.CYYM() {
			orient = DetectCYYMOrientation(header.Instrument)
			log.Info("CYYM orientation detected", "instrument", header.Instrument, "orientation", string(orient))
		}
		s.parser = parser
		s.rec = NewReconstructor(orient, log)
		s.src = NewSERSource(parser, s.rec)
		s.header = header
	case ".avi", ".mp4":
		video, err := OpenVideo(path)
		if err != nil {
			return nil, err
		}
		s.video = video
		s.src = video
		s.header = video.Header()
	default:
		return nil, &FormatError{Field: "file extension", Reason: fmt.Sprintf("unsupported format %q", filepath.Ext(path))}
	}

	log.Info("session opened", "path", path,
		"frames", s.header.FrameCount, "color", s.header.ColorID.String(),
		"size", fmt.Sprintf("%dx%d", s.header.Width, s.header.Height))
	return s, nil
}

// Header returns the container header. For codec inputs the header is
// synthesized from the stream geometry.
func (s *Session) Header() Header { return s.header }

// Source exposes the underlying frame source for stacking pipelines.
func (s *Session) Source() FrameSource { return s.src }

// DisplayFrame returns the reconstructed frame at index, serving repeat
// requests from the cache.
func (s *Session) DisplayFrame(index int) (*RGBImage, error) {
	if frame, ok := s.cache.Get(index); ok {
		return frame, nil
	}
	frame, err := s.src.Frame(index)
	if err != nil {
		return nil, err
	}
	s.cache.Put(index, frame)
	return frame, nil
}

// FrameInfo reports the index and capture timestamp (when present) of a
// frame.
func (s *Session) FrameInfo(index int) FrameInfo {
	info := FrameInfo{Index: index}
	var ts time.Time
	var err error
	switch {
	case s.parser != nil && s.parser.HasTimestamps():
		ts, err = s.parser.Timestamp(index)
	case s.video != nil:
		ts, err = s.video.Timestamp(index)
	default:
		return info
	}
	if err == nil {
		info.Timestamp = ts
		info.HasTimestamp = true
	}
	return info
}

// HasTimestamps reports whether per-frame capture timestamps are available.
func (s *Session) HasTimestamps() bool {
	if s.parser != nil {
		return s.parser.HasTimestamps()
	}
	return s.video != nil && s.video.FPS() > 0
}

// Prefetch warms the cache for the given indices. Individual fetch failures
// are swallowed.
func (s *Session) Prefetch(indices []int) {
	s.cache.Prefetch(indices, s.src.Frame)
}

// Stack combines the session's frames into a composite.
func (s *Session) Stack(opts StackOptions) (*StackResult, error) {
	return s.stacker.Stack(s.src, opts)
}

// Close releases the file resource and drops cached frames.
func (s *Session) Close() error {
	s.cache.Clear()
	if s.src != nil {
		return s.src.Close()
	}
	return nil
}
