package serstack

import (
	"image"
	gocolor "image/color"
	"log/slog"
	"math"

	"gocv.io/x/gocv"
)

// cv::RANSAC. EstimateAffinePartial2DWithParams takes the raw method value.
const ransacMethod = 8

// AlignerConfig holds the tuning parameters for both registration strategies.
// Two presets exist: stacking assumes small inter-frame motion and spends
// more on features, lucky triage assumes large motion and keeps the limits
// tighter.
type AlignerConfig struct {
	// Intensity strategy (ECC).
	MaxIterations int
	Epsilon       float64
	GaussFiltSize int

	// Feature strategy (ORB + RANSAC).
	MaxFeatures      int
	MinKeypoints     int
	RatioThreshold   float64
	ReprojThreshold  float64
	RANSACIterations int
	Confidence       float64
	MaxShift         float64
}

// StackAlignerConfig is the parameter set used during full stacking runs.
func StackAlignerConfig() AlignerConfig {
	return AlignerConfig{
		MaxIterations:    5000,
		Epsilon:          1e-6,
		GaussFiltSize:    5,
		MaxFeatures:      10000,
		MinKeypoints:     10,
		RatioThreshold:   0.75,
		ReprojThreshold:  5.0,
		RANSACIterations: 5000,
		Confidence:       0.99,
		MaxShift:         200,
	}
}

// LuckyAlignerConfig is the parameter set used for lucky-imaging triage,
// where many frames are screened quickly.
func LuckyAlignerConfig() AlignerConfig {
	return AlignerConfig{
		MaxIterations:    5000,
		Epsilon:          1e-6,
		GaussFiltSize:    5,
		MaxFeatures:      5000,
		MinKeypoints:     10,
		RatioThreshold:   0.70,
		ReprojThreshold:  3.0,
		RANSACIterations: 2000,
		Confidence:       0.99,
		MaxShift:         100,
	}
}

// Aligner registers a candidate frame against a reference frame. Failure is
// a first-class result: both strategies return ErrAlignmentFailed rather
// than a degraded transform.
type Aligner struct {
	cfg AlignerConfig
	log *slog.Logger
}

// NewAligner builds an aligner with the given parameter set.
func NewAligner(cfg AlignerConfig, log *slog.Logger) *Aligner {
	if log == nil {
		log = slog.Default()
	}
	return &Aligner{cfg: cfg, log: log}
}

// Align tries the intensity strategy first and falls back to the feature
// strategy when it fails.
func (a *Aligner) Align(ref, frame *RGBImage) (*RGBImage, error) {
	if out, err := a.AlignIntensity(ref, frame); err == nil {
		a.log.Debug("alignment strategy used", "strategy", "intensity")
		return out, nil
	}
	out, err := a.AlignFeatures(ref, frame)
	if err != nil {
		return nil, err
	}
	a.log.Debug("alignment strategy used", "strategy", "features")
	return out, nil
}

// AlignIntensity estimates a Euclidean (rotation + translation) transform by
// iterative maximization of the enhanced correlation coefficient, then
// applies the inverse-mapped transform to the full-color frame with bilinear
// resampling and zero-filled borders.
func (a *Aligner) AlignIntensity(ref, frame *RGBImage) (out *RGBImage, err error) {
	refGray, err := grayFloatMat(ref)
	if err != nil {
		return nil, ErrAlignmentFailed
	}
	defer refGray.Close()
	frameGray, err := grayFloatMat(frame)
	if err != nil {
		return nil, ErrAlignmentFailed
	}
	defer frameGray.Close()

	warp := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV32F)
	defer warp.Close()
	warp.SetFloatAt(0, 0, 1)
	warp.SetFloatAt(0, 1, 0)
	warp.SetFloatAt(0, 2, 0)
	warp.SetFloatAt(1, 0, 0)
	warp.SetFloatAt(1, 1, 1)
	warp.SetFloatAt(1, 2, 0)

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, a.cfg.MaxIterations, a.cfg.Epsilon)

	// OpenCV raises on non-convergence; treat any panic out of the solver
	// as a plain alignment failure.
	cc, eccErr := func() (cc float64, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = ErrAlignmentFailed
			}
		}()
		mask := gocv.NewMat()
		defer mask.Close()
		cc = gocv.FindTransformECC(refGray, frameGray, &warp, gocv.MotionEuclidean, criteria, mask, a.cfg.GaussFiltSize)
		return cc, nil
	}()
	if eccErr != nil || math.IsNaN(cc) || cc <= 0 {
		return nil, ErrAlignmentFailed
	}

	src, err := toMat(frame)
	if err != nil {
		return nil, ErrAlignmentFailed
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(src, &dst, warp, image.Pt(ref.Width, ref.Height),
		gocv.InterpolationLinear|gocv.WarpInverseMap, gocv.BorderConstant, gocolor.RGBA{})

	return matToRGBImage(dst), nil
}

// AlignFeatures detects ORB keypoints in both images, matches descriptors
// with Lowe's ratio test, fits a similarity transform with RANSAC, and
// rejects transforms whose translation exceeds the configured maximum shift.
func (a *Aligner) AlignFeatures(ref, frame *RGBImage) (*RGBImage, error) {
	refGray, err := grayMat(ref)
	if err != nil {
		return nil, ErrAlignmentFailed
	}
	defer refGray.Close()
	frameGray, err := grayMat(frame)
	if err != nil {
		return nil, ErrAlignmentFailed
	}
	defer frameGray.Close()

	orb := gocv.NewORBWithParams(a.cfg.MaxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()
	refKP, refDesc := orb.DetectAndCompute(refGray, noMask)
	defer refDesc.Close()
	frameKP, frameDesc := orb.DetectAndCompute(frameGray, noMask)
	defer frameDesc.Close()

	if refDesc.Empty() || frameDesc.Empty() ||
		len(refKP) < a.cfg.MinKeypoints || len(frameKP) < a.cfg.MinKeypoints {
		return nil, ErrAlignmentFailed
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer matcher.Close()
	matches := matcher.KnnMatch(refDesc, frameDesc, 2)

	var refPts, framePts []gocv.Point2f
	for _, pair := range matches {
		if len(pair) < 2 {
			continue
		}
		m, n := pair[0], pair[1]
		if m.Distance < a.cfg.RatioThreshold*n.Distance {
			rp := refKP[m.QueryIdx]
			fp := frameKP[m.TrainIdx]
			refPts = append(refPts, gocv.Point2f{X: float32(rp.X), Y: float32(rp.Y)})
			framePts = append(framePts, gocv.Point2f{X: float32(fp.X), Y: float32(fp.Y)})
		}
	}
	if len(refPts) < a.cfg.MinKeypoints {
		return nil, ErrAlignmentFailed
	}

	from := gocv.NewPoint2fVectorFromPoints(framePts)
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(refPts)
	defer to.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	m := gocv.EstimateAffinePartial2DWithParams(from, to, inliers, ransacMethod,
		a.cfg.ReprojThreshold, uint(a.cfg.RANSACIterations), a.cfg.Confidence, 10)
	defer m.Close()
	if m.Empty() {
		return nil, ErrAlignmentFailed
	}

	tx := m.GetDoubleAt(0, 2)
	ty := m.GetDoubleAt(1, 2)
	if math.Abs(tx) > a.cfg.MaxShift || math.Abs(ty) > a.cfg.MaxShift {
		a.log.Debug("feature alignment rejected", "tx", tx, "ty", ty, "max_shift", a.cfg.MaxShift)
		return nil, ErrAlignmentFailed
	}

	src, err := toMat(frame)
	if err != nil {
		return nil, ErrAlignmentFailed
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(src, &dst, m, image.Pt(ref.Width, ref.Height),
		gocv.InterpolationLinear, gocv.BorderConstant, gocolor.RGBA{})

	return matToRGBImage(dst), nil
}
