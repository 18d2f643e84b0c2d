package serstack

import (
	"image"

	"gocv.io/x/gocv"
)

// EnhanceOptions controls the post-stack enhancement chain: non-local-means
// denoising, an unsharp mask, and a contrast stretch. The stretch pair here
// is intentionally more aggressive than the stacker's (see EnhanceStretch).
type EnhanceOptions struct {
	DenoiseStrength float64 // 0 disables denoising
	UnsharpSigma    float64 // 0 disables sharpening
	UnsharpAmount   float64
	Stretch         StretchConfig
}

// DefaultEnhanceOptions is a light clean-up suited to stacked planetary
// images.
func DefaultEnhanceOptions() EnhanceOptions {
	return EnhanceOptions{
		DenoiseStrength: 5,
		UnsharpSigma:    2,
		UnsharpAmount:   1.5,
		Stretch:         EnhanceStretch,
	}
}

// Enhance applies the enhancement chain to a composite. The input is not
// modified.
func Enhance(im *RGBImage, opts EnhanceOptions) (*RGBImage, error) {
	src, err := toMat(im)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	work := src.Clone()
	defer work.Close()

	if opts.DenoiseStrength > 0 {
		denoised := gocv.NewMat()
		gocv.FastNlMeansDenoisingColoredWithParams(work, &denoised,
			float32(opts.DenoiseStrength), float32(opts.DenoiseStrength), 7, 21)
		work.Close()
		work = denoised
	}

	if opts.UnsharpSigma > 0 && opts.UnsharpAmount > 0 {
		blurred := gocv.NewMat()
		gocv.GaussianBlur(work, &blurred, image.Pt(0, 0), opts.UnsharpSigma, opts.UnsharpSigma, gocv.BorderDefault)
		sharpened := gocv.NewMat()
		gocv.AddWeighted(work, 1+opts.UnsharpAmount, blurred, -opts.UnsharpAmount, 0, &sharpened)
		blurred.Close()
		work.Close()
		work = sharpened
	}

	out := matToRGBImage(work)

	if opts.Stretch.HighPercentile > opts.Stretch.LowPercentile {
		acc := make([]float64, len(out.Pix))
		for i, v := range out.Pix {
			acc[i] = float64(v)
		}
		out = stretchToImage(acc, out.Width, out.Height, opts.Stretch)
	}
	return out, nil
}
