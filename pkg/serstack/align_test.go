package serstack

import (
	"errors"
	"math/rand"
	"testing"
)

// noiseFrame renders a deterministic textured frame that gives the feature
// detector plenty of distinctive keypoints.
func noiseFrame(width, height int, seed int64) *RGBImage {
	rng := rand.New(rand.NewSource(seed))
	im := NewRGBImage(width, height)
	for i := 0; i < width*height; i++ {
		v := uint8(rng.Intn(256))
		im.Pix[i*3] = v
		im.Pix[i*3+1] = v
		im.Pix[i*3+2] = v
	}
	return im
}

// translated shifts a frame by (dx, dy) with zero-filled borders.
func translated(im *RGBImage, dx, dy int) *RGBImage {
	out := NewRGBImage(im.Width, im.Height)
	for y := 0; y < im.Height; y++ {
		sy := y - dy
		if sy < 0 || sy >= im.Height {
			continue
		}
		for x := 0; x < im.Width; x++ {
			sx := x - dx
			if sx < 0 || sx >= im.Width {
				continue
			}
			si := (sy*im.Width + sx) * 3
			di := (y*im.Width + x) * 3
			copy(out.Pix[di:di+3], im.Pix[si:si+3])
		}
	}
	return out
}

func TestAlignerConfigPresets(t *testing.T) {
	stack := StackAlignerConfig()
	lucky := LuckyAlignerConfig()

	if stack.MaxFeatures != 10000 || lucky.MaxFeatures != 5000 {
		t.Errorf("MaxFeatures = %d / %d", stack.MaxFeatures, lucky.MaxFeatures)
	}
	if stack.MaxShift != 200 || lucky.MaxShift != 100 {
		t.Errorf("MaxShift = %v / %v", stack.MaxShift, lucky.MaxShift)
	}
	if !(lucky.RatioThreshold < stack.RatioThreshold) {
		t.Error("lucky ratio threshold not stricter than the stacking one")
	}
	if !(lucky.ReprojThreshold < stack.ReprojThreshold) {
		t.Error("lucky reprojection threshold not stricter than the stacking one")
	}
}

func TestAlignFeaturesRecoversSmallShift(t *testing.T) {
	a := NewAligner(LuckyAlignerConfig(), nil)
	ref := noiseFrame(256, 256, 1)
	frame := translated(ref, 20, 10)

	out, err := a.AlignFeatures(ref, frame)
	if err != nil {
		t.Fatalf("AlignFeatures: %v", err)
	}
	if out.Width != ref.Width || out.Height != ref.Height {
		t.Fatalf("output size = %dx%d", out.Width, out.Height)
	}
	// The warp must undo the translation: interior pixels line up with the
	// reference again.
	matched := 0
	for y := 64; y < 192; y += 7 {
		for x := 64; x < 192; x += 7 {
			i := (y*ref.Width + x) * 3
			if diff(out.Pix[i], ref.Pix[i]) <= 2 {
				matched++
			}
		}
	}
	total := ((192 - 64) / 7) * ((192 - 64) / 7)
	if matched < total*8/10 {
		t.Errorf("only %d of %d sampled pixels realigned", matched, total)
	}
}

func TestAlignFeaturesRejectsShiftBeyondMax(t *testing.T) {
	// The estimated translation of 150px exceeds the lucky preset's 100px
	// limit, so the strategy must fail rather than apply the transform.
	a := NewAligner(LuckyAlignerConfig(), nil)
	ref := noiseFrame(256, 256, 1)
	frame := translated(ref, 150, 0)

	_, err := a.AlignFeatures(ref, frame)
	if !errors.Is(err, ErrAlignmentFailed) {
		t.Fatalf("err = %v, want ErrAlignmentFailed", err)
	}
}

func TestAlignFeaturesFeaturelessFrames(t *testing.T) {
	// Featureless frames yield no keypoints, which is an alignment failure,
	// never a degraded transform.
	a := NewAligner(LuckyAlignerConfig(), nil)
	ref := uniformFrame(64, 64, 128)
	frame := uniformFrame(64, 64, 128)

	_, err := a.AlignFeatures(ref, frame)
	if !errors.Is(err, ErrAlignmentFailed) {
		t.Fatalf("err = %v, want ErrAlignmentFailed", err)
	}
}
