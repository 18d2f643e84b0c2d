package serstack

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Demosaicer reconstructs full-color pixels from a standard 2x2 RGB mosaic.
// Implementations form a ranked list: the reconstructor probes each in order
// and applies the first available one, falling through on error.
type Demosaicer interface {
	Name() string
	Available() bool
	Demosaic(plane []uint8, width, height int, pattern ColorID) (*RGBImage, error)
}

// opencvDemosaicer is the quality path, backed by OpenCV's edge-aware
// demosaicing.
type opencvDemosaicer struct{}

func (opencvDemosaicer) Name() string    { return "opencv" }
func (opencvDemosaicer) Available() bool { return true }

// OpenCV names Bayer conversions by the 2x2 block one row and one column in
// from the origin, so RGGB data uses the BayerBG code.
var bayerCodes = map[ColorID]gocv.ColorConversionCode{
	ColorBayerRGGB: gocv.ColorBayerBGToBGR,
	ColorBayerGRBG: gocv.ColorBayerGBToBGR,
	ColorBayerGBRG: gocv.ColorBayerGRToBGR,
	ColorBayerBGGR: gocv.ColorBayerRGToBGR,
}

func (opencvDemosaicer) Demosaic(plane []uint8, width, height int, pattern ColorID) (out *RGBImage, err error) {
	code, ok := bayerCodes[pattern]
	if !ok {
		return nil, fmt.Errorf("no OpenCV conversion for %v", pattern)
	}
	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, plane)
	if err != nil {
		return nil, fmt.Errorf("wrapping mosaic plane: %w", err)
	}
	defer src.Close()

	// OpenCV raises on mosaic geometries it cannot demosaic (odd or
	// degenerate dimensions); report that as an error so the next ranked
	// strategy gets the frame.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("bayer conversion failed: %v", r)
		}
	}()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, code)
	if bgr.Empty() || bgr.Rows() != height || bgr.Cols() != width {
		return nil, fmt.Errorf("bayer conversion produced %dx%d output for %dx%d input",
			bgr.Cols(), bgr.Rows(), width, height)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	if rgb.Empty() {
		return nil, fmt.Errorf("channel reorder produced an empty image")
	}

	return matToRGBImage(rgb), nil
}

// bilinearDemosaicer is the deterministic fallback: plain bilinear
// interpolation with clamped borders. Lower quality, but it never fails.
type bilinearDemosaicer struct{}

func (bilinearDemosaicer) Name() string    { return "bilinear" }
func (bilinearDemosaicer) Available() bool { return true }

// site colors within a 2x2 mosaic block.
const (
	siteR = 0
	siteG = 1
	siteB = 2
)

// mosaicSites maps each pattern to the color at (row%2, col%2).
var mosaicSites = map[ColorID][2][2]int{
	ColorBayerRGGB: {{siteR, siteG}, {siteG, siteB}},
	ColorBayerGRBG: {{siteG, siteR}, {siteB, siteG}},
	ColorBayerGBRG: {{siteG, siteB}, {siteR, siteG}},
	ColorBayerBGGR: {{siteB, siteG}, {siteG, siteR}},
}

func (bilinearDemosaicer) Demosaic(plane []uint8, width, height int, pattern ColorID) (*RGBImage, error) {
	sites, ok := mosaicSites[pattern]
	if !ok {
		return nil, fmt.Errorf("unknown mosaic pattern %v", pattern)
	}

	px := func(x, y int) float64 {
		if x < 0 {
			x = 0
		} else if x >= width {
			x = width - 1
		}
		if y < 0 {
			y = 0
		} else if y >= height {
			y = height - 1
		}
		return float64(plane[y*width+x])
	}

	out := NewRGBImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var r, g, b float64
			switch sites[y%2][x%2] {
			case siteR:
				r = px(x, y)
				g = (px(x-1, y) + px(x+1, y) + px(x, y-1) + px(x, y+1)) / 4
				b = (px(x-1, y-1) + px(x+1, y-1) + px(x-1, y+1) + px(x+1, y+1)) / 4
			case siteB:
				b = px(x, y)
				g = (px(x-1, y) + px(x+1, y) + px(x, y-1) + px(x, y+1)) / 4
				r = (px(x-1, y-1) + px(x+1, y-1) + px(x-1, y+1) + px(x+1, y+1)) / 4
			default: // green site
				g = px(x, y)
				// Horizontal neighbors share the row's other color.
				if sites[y%2][(x+1)%2] == siteR {
					r = (px(x-1, y) + px(x+1, y)) / 2
					b = (px(x, y-1) + px(x, y+1)) / 2
				} else {
					b = (px(x-1, y) + px(x+1, y)) / 2
					r = (px(x, y-1) + px(x, y+1)) / 2
				}
			}
			i := (y*width + x) * 3
			out.Pix[i] = clampByte(r)
			out.Pix[i+1] = clampByte(g)
			out.Pix[i+2] = clampByte(b)
		}
	}
	return out, nil
}
