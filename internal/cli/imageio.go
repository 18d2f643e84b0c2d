package cli

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"serstack/pkg/serstack"
)

// writeImage saves a reconstructed frame or composite as a plain raster
// file, with the format chosen by the output extension (.png, .jpg, .tiff).
func writeImage(path string, im *serstack.RGBImage) error {
	rgba := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			si := (y*im.Width + x) * 3
			di := rgba.PixOffset(x, y)
			rgba.Pix[di] = im.Pix[si]
			rgba.Pix[di+1] = im.Pix[si+1]
			rgba.Pix[di+2] = im.Pix[si+2]
			rgba.Pix[di+3] = 255
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(f, rgba, &jpeg.Options{Quality: 95})
	case ".tif", ".tiff":
		return tiff.Encode(f, rgba, &tiff.Options{Compression: tiff.Deflate})
	case ".png", "":
		return png.Encode(f, rgba)
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
}

// readImage loads a raster file back into an RGBImage for the enhancement
// path.
func readImage(path string) (*serstack.RGBImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		src, err = tiff.Decode(f)
	default:
		src, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	bounds := src.Bounds()
	out := serstack.NewRGBImage(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(b >> 8)
			i += 3
		}
	}
	return out, nil
}
