package serstack

import (
	"image"
	"log/slog"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// CYYMOrientation selects which rotation of the cyan/yellow/magenta mosaic a
// sensor uses. The four values name the 2x2 block read row-major.
type CYYMOrientation string

const (
	OrientCYYM CYYMOrientation = "CYYM" // Cy Y  / Y  Mg
	OrientYCMY CYYMOrientation = "YCMY" // Y  Cy / Mg Y
	OrientYMCY CYYMOrientation = "YMCY" // Y  Mg / Cy Y
	OrientMYYC CYYMOrientation = "MYYC" // Mg Y  / Y  Cy
)

// cyymCameraTable maps known camera names to their mosaic orientation. The
// lookup is advisory only; an explicit orientation always wins.
var cyymCameraTable = map[string]CYYMOrientation{
	"ZWO ASI183MC": OrientYCMY,
	"ZWO ASI183MM": OrientYCMY,
	"ZWO ASI294MC": OrientYCMY,
	"ZWO ASI533MC": OrientYCMY,
	"ZWO ASI678MC": OrientYCMY,
}

// DetectCYYMOrientation guesses the mosaic orientation from the instrument
// string in the header, by exact then case-insensitive substring match
// against the known-camera table. It falls back to CYYM.
func DetectCYYMOrientation(instrument string) CYYMOrientation {
	if instrument == "" {
		return OrientCYYM
	}
	if o, ok := cyymCameraTable[instrument]; ok {
		return o
	}
	upper := strings.ToUpper(instrument)
	for name, o := range cyymCameraTable {
		if strings.Contains(upper, strings.ToUpper(name)) {
			return o
		}
	}
	return OrientCYYM
}

// Reconstructor converts raw sensor samples into normalized 3-channel 8-bit
// images. The CYYM orientation is explicit state passed at construction, not
// a process-wide setting, so reconstruction stays pure and testable.
type Reconstructor struct {
	cyym        CYYMOrientation
	demosaicers []Demosaicer
	log         *slog.Logger
}

// NewReconstructor builds a reconstructor for the given CYYM orientation.
// An empty orientation selects the CYYM default.
func NewReconstructor(orient CYYMOrientation, log *slog.Logger) *Reconstructor {
	if orient == "" {
		orient = OrientCYYM
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconstructor{
		cyym:        orient,
		demosaicers: []Demosaicer{opencvDemosaicer{}, bilinearDemosaicer{}},
		log:         log,
	}
}

// Orientation returns the configured CYYM orientation.
func (rc *Reconstructor) Orientation() CYYMOrientation { return rc.cyym }

// Reconstruct converts a raw frame to display format. It never fails:
// unknown layouts degrade to the mono path.
func (rc *Reconstructor) Reconstruct(raw *RawFrame, color ColorID) *RGBImage {
	data := to8Bit(raw)

	switch {
	case color == ColorRGB:
		return packedToImage(data, raw.Width, raw.Height, false)
	case color == ColorBGR:
		return packedToImage(data, raw.Width, raw.Height, true)
	case raw.Planes == 3:
		// Packed data under an unexpected ColorID: pass through as RGB.
		return packedToImage(data, raw.Width, raw.Height, false)
	case color.Bayer():
		return rc.demosaic(data, raw.Width, raw.Height, color)
	case color.CYYM():
		return rc.reconstructCYYM(data, raw.Width, raw.Height)
	default:
		return monoToImage(data, raw.Width, raw.Height)
	}
}

// to8Bit linearly rescales 16-bit samples into the 8-bit range by truncating
// division by 256.
func to8Bit(raw *RawFrame) []uint8 {
	if raw.Depth == 8 {
		return raw.Pix8
	}
	out := make([]uint8, len(raw.Pix16))
	for i, v := range raw.Pix16 {
		out[i] = uint8(v >> 8)
	}
	return out
}

func monoToImage(plane []uint8, width, height int) *RGBImage {
	out := NewRGBImage(width, height)
	for i, v := range plane[:width*height] {
		out.Pix[i*3] = v
		out.Pix[i*3+1] = v
		out.Pix[i*3+2] = v
	}
	return out
}

func packedToImage(data []uint8, width, height int, swapBGR bool) *RGBImage {
	out := NewRGBImage(width, height)
	if swapBGR {
		for i := 0; i < width*height; i++ {
			out.Pix[i*3] = data[i*3+2]
			out.Pix[i*3+1] = data[i*3+1]
			out.Pix[i*3+2] = data[i*3]
		}
	} else {
		copy(out.Pix, data[:width*height*3])
	}
	return out
}

func (rc *Reconstructor) demosaic(plane []uint8, width, height int, pattern ColorID) *RGBImage {
	for _, d := range rc.demosaicers {
		if !d.Available() {
			continue
		}
		img, err := d.Demosaic(plane, width, height, pattern)
		if err != nil {
			rc.log.Debug("demosaic strategy failed", "strategy", d.Name(), "error", err)
			continue
		}
		rc.log.Debug("demosaic strategy used", "strategy", d.Name(), "pattern", pattern.String())
		return img
	}
	// The bilinear fallback handles every standard pattern, so this is only
	// reachable for layouts outside the mosaic set.
	return monoToImage(plane, width, height)
}

// reconstructCYYM treats each 2x2 block as four sensor readings, averages the
// two yellow readings, and solves the linear system
//
//	Cy = G + B,  Y = R + G,  Mg = R + B
//
// for R, G, B. The solve yields a half-resolution image per axis, which is
// upsampled back to full resolution with bilinear interpolation.
func (rc *Reconstructor) reconstructCYYM(plane []uint8, width, height int) *RGBImage {
	hw, hh := width/2, height/2
	if hw == 0 || hh == 0 {
		return monoToImage(plane, width, height)
	}

	small := image.NewRGBA(image.Rect(0, 0, hw, hh))
	for by := 0; by < hh; by++ {
		for bx := 0; bx < hw; bx++ {
			p00 := float64(plane[(by*2)*width+bx*2])
			p01 := float64(plane[(by*2)*width+bx*2+1])
			p10 := float64(plane[(by*2+1)*width+bx*2])
			p11 := float64(plane[(by*2+1)*width+bx*2+1])

			var cy, mg, yAvg float64
			switch rc.cyym {
			case OrientYCMY:
				yAvg = (p00 + p11) / 2
				cy, mg = p01, p10
			case OrientYMCY:
				yAvg = (p00 + p11) / 2
				mg, cy = p01, p10
			case OrientMYYC:
				yAvg = (p01 + p10) / 2
				mg, cy = p00, p11
			default: // CYYM
				yAvg = (p01 + p10) / 2
				cy, mg = p00, p11
			}

			r := (yAvg + mg - cy) / 2
			g := (yAvg + cy - mg) / 2
			b := (cy + mg - yAvg) / 2

			i := small.PixOffset(bx, by)
			small.Pix[i] = clampByte(r)
			small.Pix[i+1] = clampByte(g)
			small.Pix[i+2] = clampByte(b)
			small.Pix[i+3] = 255
		}
	}

	full := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(full, full.Bounds(), small, small.Bounds(), xdraw.Src, nil)

	out := NewRGBImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			si := full.PixOffset(x, y)
			di := (y*width + x) * 3
			out.Pix[di] = full.Pix[si]
			out.Pix[di+1] = full.Pix[si+1]
			out.Pix[di+2] = full.Pix[si+2]
		}
	}
	return out
}
