package serstack

import (
	"math"
	"sort"
)

// RGBImage is a normalized 3-channel 8-bit image buffer, RGB interleaved,
// row-major. It is the unit cached by FrameCache and consumed by display and
// stacking.
type RGBImage struct {
	Width  int
	Height int
	Pix    []uint8 // len = Width*Height*3
}

// NewRGBImage allocates a zeroed image buffer.
func NewRGBImage(width, height int) *RGBImage {
	return &RGBImage{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Clone returns a deep copy.
func (im *RGBImage) Clone() *RGBImage {
	out := &RGBImage{Width: im.Width, Height: im.Height, Pix: make([]uint8, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// Bytes returns the estimated in-memory size of the pixel buffer.
func (im *RGBImage) Bytes() int64 {
	return int64(len(im.Pix))
}

// StretchConfig names a percentile pair for linear contrast normalization.
// The two call sites intentionally use different pairs: the stacking engine
// clips only extreme outliers, while the enhancement path assumes a cropped,
// low-contrast input.
type StretchConfig struct {
	LowPercentile  float64
	HighPercentile float64
}

// StackStretch is the auto-stretch applied after frame accumulation.
var StackStretch = StretchConfig{LowPercentile: 0.1, HighPercentile: 99.9}

// EnhanceStretch is the aggressive stretch used by the enhancement path.
var EnhanceStretch = StretchConfig{LowPercentile: 10, HighPercentile: 90}

// degenerateSpan is the epsilon below which a percentile span is treated as
// numerically degenerate and the data is passed through unscaled.
const degenerateSpan = 1e-10

// percentile computes the p-th percentile of sorted values using linear
// interpolation between ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// stretchToImage rescales a wide-precision accumulator to an 8-bit image,
// mapping the per-channel [low, high] percentile range onto [0, 255] and
// clipping outside it. A degenerate span passes the channel through unscaled.
func stretchToImage(acc []float64, width, height int, cfg StretchConfig) *RGBImage {
	out := NewRGBImage(width, height)
	n := width * height
	channel := make([]float64, n)
	for c := 0; c < 3; c++ {
		for i := 0; i < n; i++ {
			channel[i] = acc[i*3+c]
		}
		sorted := append([]float64(nil), channel...)
		sort.Float64s(sorted)
		low := percentile(sorted, cfg.LowPercentile)
		high := percentile(sorted, cfg.HighPercentile)

		if high-low < degenerateSpan {
			for i := 0; i < n; i++ {
				out.Pix[i*3+c] = clampByte(channel[i])
			}
			continue
		}
		scale := 255 / (high - low)
		for i := 0; i < n; i++ {
			out.Pix[i*3+c] = clampByte((channel[i] - low) * scale)
		}
	}
	return out
}

// clipToImage converts an accumulator to 8-bit without rescaling.
func clipToImage(acc []float64, width, height int) *RGBImage {
	out := NewRGBImage(width, height)
	for i, v := range acc {
		out.Pix[i] = clampByte(v)
	}
	return out
}

// normalizeMaxToImage scales an accumulator by its observed maximum so the
// brightest pixel maps to 255. Used for the sum method, where the raw
// accumulator exceeds the output range by construction.
func normalizeMaxToImage(acc []float64, width, height int) *RGBImage {
	maxVal := 0.0
	for _, v := range acc {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal < degenerateSpan {
		return clipToImage(acc, width, height)
	}
	out := NewRGBImage(width, height)
	scale := 255 / maxVal
	for i, v := range acc {
		out.Pix[i] = clampByte(v * scale)
	}
	return out
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
