package serstack

import (
	"fmt"

	"gocv.io/x/gocv"
)

// toMat copies an RGBImage into an 8UC3 Mat (RGB channel order).
func toMat(im *RGBImage) (gocv.Mat, error) {
	m, err := gocv.NewMatFromBytes(im.Height, im.Width, gocv.MatTypeCV8UC3, im.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("converting image to mat: %w", err)
	}
	return m, nil
}

// matToRGBImage copies an 8UC3 Mat (RGB channel order) into an RGBImage.
func matToRGBImage(m gocv.Mat) *RGBImage {
	out := NewRGBImage(m.Cols(), m.Rows())
	copy(out.Pix, m.ToBytes())
	return out
}

// grayMat projects an RGBImage to a single-channel 8U Mat.
func grayMat(im *RGBImage) (gocv.Mat, error) {
	src, err := toMat(im)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer src.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)
	return gray, nil
}

// grayFloatMat projects an RGBImage to a single-channel 32F Mat, the input
// format the ECC optimizer expects.
func grayFloatMat(im *RGBImage) (gocv.Mat, error) {
	gray, err := grayMat(im)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()
	f := gocv.NewMat()
	gray.ConvertTo(&f, gocv.MatTypeCV32F)
	return f, nil
}
