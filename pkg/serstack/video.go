package serstack

import (
	"fmt"
	"os"
	"time"

	"gocv.io/x/gocv"
)

// VideoSource decodes AVI/MP4 recordings through the OpenCV capture
// interface. Frames arrive already packed; BGR output is converted to RGB.
// It is a non-native source, so stacking always routes it through lucky
// selection.
type VideoSource struct {
	path       string
	cap        *gocv.VideoCapture
	frameCount int
	width      int
	height     int
	fps        float64
}

// OpenVideo opens a codec-decoded video file and probes its geometry.
func OpenVideo(path string) (*VideoSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &IOError{Op: "open video " + path, Err: err}
	}
	v := &VideoSource{
		path:       path,
		cap:        cap,
		frameCount: int(cap.Get(gocv.VideoCaptureFrameCount)),
		width:      int(cap.Get(gocv.VideoCaptureFrameWidth)),
		height:     int(cap.Get(gocv.VideoCaptureFrameHeight)),
		fps:        cap.Get(gocv.VideoCaptureFPS),
	}
	if v.frameCount <= 0 || v.width <= 0 || v.height <= 0 {
		cap.Close()
		return nil, &FormatError{Field: "video stream", Reason: "no decodable frames"}
	}
	return v, nil
}

func (v *VideoSource) FrameCount() int { return v.frameCount }
func (v *VideoSource) Native() bool    { return false }
func (v *VideoSource) FPS() float64    { return v.fps }
func (v *VideoSource) Width() int      { return v.width }
func (v *VideoSource) Height() int     { return v.height }

// Frame seeks to and decodes a single frame, returned as RGB.
func (v *VideoSource) Frame(index int) (*RGBImage, error) {
	if index < 0 || index >= v.frameCount {
		return nil, &IndexError{What: "frame", Index: index, Count: v.frameCount}
	}
	v.cap.Set(gocv.VideoCapturePosFrames, float64(index))

	bgr := gocv.NewMat()
	defer bgr.Close()
	if ok := v.cap.Read(&bgr); !ok || bgr.Empty() {
		return nil, &IOError{Op: fmt.Sprintf("decode frame %d", index), Err: fmt.Errorf("capture read failed")}
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return matToRGBImage(rgb), nil
}

// Timestamp derives a per-frame wall-clock time from the frame rate and the
// file's modification time, taken as the end of the recording. Codec
// containers carry no capture timestamps of their own.
func (v *VideoSource) Timestamp(index int) (time.Time, error) {
	if v.fps <= 0 {
		return time.Time{}, ErrNoTimestamps
	}
	if index < 0 || index >= v.frameCount {
		return time.Time{}, &IndexError{What: "timestamp", Index: index, Count: v.frameCount}
	}
	fi, err := os.Stat(v.path)
	if err != nil {
		return time.Time{}, &IOError{Op: "stat video", Err: err}
	}
	duration := time.Duration(float64(v.frameCount) / v.fps * float64(time.Second))
	start := fi.ModTime().Add(-duration)
	offset := time.Duration(float64(index) / v.fps * float64(time.Second))
	return start.Add(offset), nil
}

// Header synthesizes a SER-shaped header so callers can treat both source
// kinds uniformly.
func (v *VideoSource) Header() Header {
	return Header{
		FileID:     "VIDEO",
		ColorID:    ColorRGB,
		Width:      v.width,
		Height:     v.height,
		PixelDepth: 8,
		FrameCount: v.frameCount,
		Instrument: "Video capture",
	}
}

// Close releases the capture device.
func (v *VideoSource) Close() error {
	if v.cap == nil {
		return nil
	}
	err := v.cap.Close()
	v.cap = nil
	return err
}
