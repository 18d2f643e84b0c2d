package serstack

import "gocv.io/x/gocv"

// ScoreFunc computes a sharpness score for an image; higher is sharper.
type ScoreFunc func(*RGBImage) float64

// Sharpness scores an image by the variance of its Laplacian response: edge
// energy concentrates in sharp frames, so a larger variance means a sharper
// frame. Deterministic for valid input.
func Sharpness(im *RGBImage) float64 {
	gray, err := grayMat(im)
	if err != nil {
		return 0
	}
	defer gray.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	std := gocv.NewMat()
	defer std.Close()
	gocv.MeanStdDev(lap, &mean, &std)

	sd := std.GetDoubleAt(0, 0)
	return sd * sd
}
