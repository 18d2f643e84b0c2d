package serstack

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// ScoredFrame pairs a frame with its sharpness score and original temporal
// index.
type ScoredFrame struct {
	Index int
	Score float64
	Frame *RGBImage
}

// Selector implements lucky imaging: rank frames by sharpness, retain the top
// percentage, and drive alignment and stacking of that subset.
type Selector struct {
	score ScoreFunc
	align func(ref, frame *RGBImage) (*RGBImage, error)
	log   *slog.Logger
}

// NewSelector builds a selector using Laplacian-variance scoring and the
// feature alignment strategy with the lucky parameter set. Intensity
// alignment is deliberately not used here: inter-frame motion in sources that
// reach the selector is expected to be large.
func NewSelector(log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	a := NewAligner(LuckyAlignerConfig(), log)
	return &Selector{score: Sharpness, align: a.AlignFeatures, log: log}
}

// Select scores every frame, retains the top max(1, floor(count*pct/100)) by
// score, and returns them re-sorted by original temporal index so downstream
// alignment proceeds in capture order.
func (s *Selector) Select(src FrameSource, percentage float64, progress ProgressFunc) ([]ScoredFrame, error) {
	best, _, err := s.selectScored(src, percentage, progress)
	return best, err
}

// selectScored also returns the full scoring pass, in frame order with Frame
// unset, for callers that persist per-frame scores.
func (s *Selector) selectScored(src FrameSource, percentage float64, progress ProgressFunc) (best, all []ScoredFrame, err error) {
	total := src.FrameCount()
	if total == 0 {
		return nil, nil, fmt.Errorf("select: source has no frames")
	}
	keep := int(math.Floor(float64(total) * percentage / 100))
	if keep < 1 {
		keep = 1
	}
	if keep > total {
		keep = total
	}
	s.log.Info("scoring frames for lucky selection", "total", total, "keep", keep, "percentage", percentage)

	scored := make([]ScoredFrame, 0, total)
	for i := 0; i < total; i++ {
		frame, err := src.Frame(i)
		if err != nil {
			return nil, nil, err
		}
		scored = append(scored, ScoredFrame{Index: i, Score: s.score(frame)})
		if !stepProgress(progress, i+1, total) {
			return nil, nil, ErrCancelled
		}
	}
	all = append([]ScoredFrame(nil), scored...)

	sort.Slice(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })
	best = scored[:keep]
	sort.Slice(best, func(a, b int) bool { return best[a].Index < best[b].Index })

	// Frames are reloaded rather than held through the scoring pass, so only
	// the retained subset occupies memory.
	for i := range best {
		frame, err := src.Frame(best[i].Index)
		if err != nil {
			return nil, nil, err
		}
		best[i].Frame = frame
	}
	return best, all, nil
}

// StackLucky selects the sharpest frames, aligns them to the single
// highest-scoring retained frame with the feature strategy, drops frames
// that fail alignment, and combines the survivors.
func (s *Selector) StackLucky(src FrameSource, percentage float64, method StackMethod, progress ProgressFunc) (*StackResult, error) {
	best, all, err := s.selectScored(src, percentage, progress)
	if err != nil {
		return nil, err
	}

	refPos := 0
	for i := range best {
		if best[i].Score > best[refPos].Score {
			refPos = i
		}
	}
	ref := best[refPos]
	s.log.Info("lucky reference selected", "frame", ref.Index, "score", ref.Score)

	aligned := []*RGBImage{ref.Frame}
	for i, sf := range best {
		if i != refPos {
			out, err := s.align(ref.Frame, sf.Frame)
			if err != nil {
				s.log.Debug("lucky frame dropped, alignment failed", "frame", sf.Index)
			} else {
				aligned = append(aligned, out)
			}
		}
		if !stepProgress(progress, i+1, len(best)) {
			return nil, ErrCancelled
		}
	}

	s.log.Info("lucky stacking complete", "method", method.String(), "used", len(aligned), "selected", len(best))
	return &StackResult{
		Image:       combineBuffered(aligned, method),
		FramesUsed:  len(aligned),
		FramesTotal: src.FrameCount(),
		Scores:      all,
	}, nil
}
