package serstack

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// StackMethod selects the combination rule for frame accumulation.
type StackMethod int

const (
	StackAverage StackMethod = iota
	StackMedian
	StackSum
)

func (m StackMethod) String() string {
	switch m {
	case StackMedian:
		return "median"
	case StackSum:
		return "sum"
	default:
		return "average"
	}
}

// ParseStackMethod maps a method name to a StackMethod. Matching is
// case-insensitive; only the three method names are accepted.
func ParseStackMethod(s string) (StackMethod, error) {
	switch strings.ToLower(s) {
	case "average":
		return StackAverage, nil
	case "median":
		return StackMedian, nil
	case "sum":
		return StackSum, nil
	}
	return StackAverage, fmt.Errorf("unknown stack method %q", s)
}

// ProgressFunc is invoked after each processed frame. Returning false cancels
// the operation; the stacker then reports ErrCancelled instead of a result.
type ProgressFunc func(current, total int) bool

// MemoryWarnFunc is consulted before median stacking buffers every frame at
// widened precision. Returning false declines the operation.
type MemoryWarnFunc func(estimatedBytes int64) bool

// medianMemoryWarnBytes is the buffering estimate above which the caller is
// warned before a median stack proceeds.
const medianMemoryWarnBytes = 8 << 30

// StackOptions configures a stacking run.
type StackOptions struct {
	Method           StackMethod
	Align            bool
	QualityThreshold float64
	AutoStretch      bool
	// LuckyPercentage is the retention percentage used when the source is
	// non-native. Zero selects the 10% default.
	LuckyPercentage float64
	Progress        ProgressFunc
	MemoryWarn      MemoryWarnFunc
}

// DefaultStackOptions stacks with averaging, alignment and auto-stretch.
func DefaultStackOptions() StackOptions {
	return StackOptions{Method: StackAverage, Align: true, AutoStretch: true}
}

// StackResult is the composite image plus the count of frames actually
// incorporated, which may be less than the input count due to alignment or
// quality rejections.
type StackResult struct {
	Image       *RGBImage
	FramesUsed  int
	FramesTotal int
	// Scores holds the per-frame sharpness measured during lucky selection,
	// in frame order with Frame unset. Empty for native stacking runs.
	Scores []ScoredFrame
}

// Stacker accumulates a frame sequence into a single composite.
type Stacker struct {
	align    func(ref, frame *RGBImage) (*RGBImage, error)
	selector *Selector
	score    ScoreFunc
	log      *slog.Logger
}

// NewStacker builds a stacker with the stacking alignment parameter set and
// a lucky selector for non-native sources.
func NewStacker(log *slog.Logger) *Stacker {
	return NewStackerWithAligner(StackAlignerConfig(), log)
}

// NewStackerWithAligner builds a stacker with an explicit registration
// parameter set, for callers that tune alignment through configuration.
func NewStackerWithAligner(cfg AlignerConfig, log *slog.Logger) *Stacker {
	if log == nil {
		log = slog.Default()
	}
	return &Stacker{
		align:    NewAligner(cfg, log).Align,
		selector: NewSelector(log),
		score:    Sharpness,
		log:      log,
	}
}

// Stack combines every frame of the source into one composite.
//
// Non-native sources are always routed through lucky selection at the
// retention percentage, regardless of the align flag. For native sources,
// frame 0 is the reference; when alignment is requested each later frame is
// registered with the intensity strategy first and the feature strategy as
// fallback, and is dropped on alignment failure or when its sharpness falls
// below the quality threshold.
func (st *Stacker) Stack(src FrameSource, opts StackOptions) (*StackResult, error) {
	total := src.FrameCount()
	if total == 0 {
		return nil, fmt.Errorf("stack: source has no frames")
	}

	if !src.Native() {
		pct := opts.LuckyPercentage
		if pct <= 0 {
			pct = 10
		}
		st.log.Info("non-native source, using lucky selection", "percentage", pct)
		return st.selector.StackLucky(src, pct, opts.Method, opts.Progress)
	}

	ref, err := src.Frame(0)
	if err != nil {
		return nil, err
	}

	if opts.Method == StackMedian {
		est := ref.Bytes() * 8 * int64(total)
		if est > medianMemoryWarnBytes {
			if opts.MemoryWarn != nil && !opts.MemoryWarn(est) {
				return nil, fmt.Errorf("median stacking declined at %d estimated bytes: %w", est, ErrCancelled)
			}
			st.log.Warn("median stacking buffers every frame", "estimated_bytes", est)
		}
	}

	acc := newAccumulator(ref.Width, ref.Height, opts.Method)
	acc.add(ref)
	used := 1
	if !stepProgress(opts.Progress, 1, total) {
		return nil, ErrCancelled
	}

	for i := 1; i < total; i++ {
		frame, err := src.Frame(i)
		if err != nil {
			return nil, err
		}
		switch {
		case !opts.Align:
			acc.add(frame)
			used++
		default:
			aligned, err := st.align(ref, frame)
			if err != nil {
				st.log.Debug("frame dropped, alignment failed", "frame", i)
			} else if q := st.score(aligned); q < opts.QualityThreshold {
				st.log.Debug("frame dropped, below quality threshold", "frame", i, "score", q)
			} else {
				acc.add(aligned)
				used++
			}
		}
		if !stepProgress(opts.Progress, i+1, total) {
			return nil, ErrCancelled
		}
	}

	st.log.Info("stacking complete", "method", opts.Method.String(), "used", used, "total", total)
	return &StackResult{
		Image:       acc.result(opts.AutoStretch),
		FramesUsed:  used,
		FramesTotal: total,
	}, nil
}

func stepProgress(p ProgressFunc, current, total int) bool {
	if p == nil {
		return true
	}
	return p(current, total)
}

// accumulator folds frames into wide-precision state. Average and sum keep a
// single float64 running sum; median buffers every frame at widened
// precision.
type accumulator struct {
	width  int
	height int
	method StackMethod
	sum    []float64
	frames [][]float64
	count  int
}

func newAccumulator(width, height int, method StackMethod) *accumulator {
	a := &accumulator{width: width, height: height, method: method}
	if method != StackMedian {
		a.sum = make([]float64, width*height*3)
	}
	return a
}

func (a *accumulator) add(img *RGBImage) {
	a.count++
	if a.method == StackMedian {
		widened := make([]float64, len(img.Pix))
		for i, v := range img.Pix {
			widened[i] = float64(v)
		}
		a.frames = append(a.frames, widened)
		return
	}
	for i, v := range img.Pix {
		a.sum[i] += float64(v)
	}
}

// result collapses the accumulator into an 8-bit image. The sum method is
// always normalized by the observed maximum; average and median optionally
// auto-stretch, leaving degenerate ranges untouched.
func (a *accumulator) result(autoStretch bool) *RGBImage {
	switch a.method {
	case StackSum:
		return normalizeMaxToImage(a.sum, a.width, a.height)
	case StackMedian:
		med := a.median()
		if autoStretch {
			return stretchToImage(med, a.width, a.height, StackStretch)
		}
		return clipToImage(med, a.width, a.height)
	default:
		avg := make([]float64, len(a.sum))
		n := float64(a.count)
		for i, v := range a.sum {
			avg[i] = v / n
		}
		if autoStretch {
			return stretchToImage(avg, a.width, a.height, StackStretch)
		}
		return clipToImage(avg, a.width, a.height)
	}
}

func (a *accumulator) median() []float64 {
	out := make([]float64, a.width*a.height*3)
	column := make([]float64, len(a.frames))
	for i := range out {
		for j, f := range a.frames {
			column[j] = f[i]
		}
		sort.Float64s(column)
		n := len(column)
		if n%2 == 1 {
			out[i] = column[n/2]
		} else {
			out[i] = (column[n/2-1] + column[n/2]) / 2
		}
	}
	return out
}

// combineBuffered collapses an already-aligned frame set. The lucky path uses
// it directly, without the stacker's optional stretch.
func combineBuffered(frames []*RGBImage, method StackMethod) *RGBImage {
	acc := newAccumulator(frames[0].Width, frames[0].Height, method)
	for _, f := range frames {
		acc.add(f)
	}
	return acc.result(false)
}
