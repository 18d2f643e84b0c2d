package serstack

import (
	"errors"
	"fmt"
	"testing"
)

// fakeSource serves pre-built frames for pipeline tests.
type fakeSource struct {
	frames []*RGBImage
	native bool
	closed bool
}

func (f *fakeSource) FrameCount() int { return len(f.frames) }

func (f *fakeSource) Frame(index int) (*RGBImage, error) {
	if index < 0 || index >= len(f.frames) {
		return nil, &IndexError{What: "frame", Index: index, Count: len(f.frames)}
	}
	return f.frames[index].Clone(), nil
}

func (f *fakeSource) Native() bool { return f.native }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func uniformFrame(width, height int, value uint8) *RGBImage {
	im := NewRGBImage(width, height)
	for i := range im.Pix {
		im.Pix[i] = value
	}
	return im
}

func uniformSource(values ...uint8) *fakeSource {
	src := &fakeSource{native: true}
	for _, v := range values {
		src.frames = append(src.frames, uniformFrame(4, 4, v))
	}
	return src
}

func identityAlign(ref, frame *RGBImage) (*RGBImage, error) { return frame, nil }

func TestParseStackMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    StackMethod
		wantErr bool
	}{
		{"average", StackAverage, false},
		{"median", StackMedian, false},
		{"sum", StackSum, false},
		{"AVERAGE", StackAverage, false},
		{"mean", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStackMethod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStackMethod(%q) err = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseStackMethod(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStackAverage(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(10, 20, 30, 40, 50)
	result, err := st.Stack(src, StackOptions{Method: StackAverage})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if result.FramesUsed != 5 || result.FramesTotal != 5 {
		t.Errorf("used/total = %d/%d, want 5/5", result.FramesUsed, result.FramesTotal)
	}
	for i, v := range result.Image.Pix {
		if v != 30 {
			t.Fatalf("Pix[%d] = %d, want 30", i, v)
		}
	}
}

func TestStackAverageUniformStretchPassesThrough(t *testing.T) {
	// Auto-stretch on a uniform composite has a degenerate range and must
	// leave the values untouched.
	st := NewStacker(nil)
	src := uniformSource(10, 20, 30, 40, 50)
	result, err := st.Stack(src, StackOptions{Method: StackAverage, AutoStretch: true})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if result.Image.Pix[0] != 30 {
		t.Errorf("Pix[0] = %d, want 30", result.Image.Pix[0])
	}
}

func TestStackSumNormalizesToMax(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(10, 20, 30, 40, 50)
	result, err := st.Stack(src, StackOptions{Method: StackSum})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	// The uniform running sum is its own maximum everywhere.
	for i, v := range result.Image.Pix {
		if v != 255 {
			t.Fatalf("Pix[%d] = %d, want 255", i, v)
		}
	}
}

func TestStackMedian(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(10, 20, 30, 40, 50)
	result, err := st.Stack(src, StackOptions{Method: StackMedian})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if result.Image.Pix[0] != 30 {
		t.Errorf("Pix[0] = %d, want median 30", result.Image.Pix[0])
	}
}

func TestStackMedianEvenCount(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(10, 20, 40, 50)
	result, err := st.Stack(src, StackOptions{Method: StackMedian})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if result.Image.Pix[0] != 30 {
		t.Errorf("Pix[0] = %d, want midpoint 30", result.Image.Pix[0])
	}
}

func TestStackCancellation(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(10, 20, 30, 40, 50)
	calls := 0
	result, err := st.Stack(src, StackOptions{
		Method: StackAverage,
		Progress: func(current, total int) bool {
			calls++
			return current < 3
		},
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if result != nil {
		t.Error("cancelled stack returned a result")
	}
	if calls != 3 {
		t.Errorf("progress calls = %d, want 3", calls)
	}
}

func TestStackProgressReportsEveryFrame(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(1, 2, 3)
	var seen []string
	_, err := st.Stack(src, StackOptions{
		Method: StackAverage,
		Progress: func(current, total int) bool {
			seen = append(seen, fmt.Sprintf("%d/%d", current, total))
			return true
		},
	})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	want := []string{"1/3", "2/3", "3/3"}
	if len(seen) != len(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("progress[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestStackAlignDropsFailedFrames(t *testing.T) {
	st := NewStacker(nil)
	st.align = func(ref, frame *RGBImage) (*RGBImage, error) {
		// Middle-valued frames fail registration.
		if frame.Pix[0] == 30 {
			return nil, ErrAlignmentFailed
		}
		return frame, nil
	}
	st.score = func(*RGBImage) float64 { return 1 }

	src := uniformSource(10, 20, 30, 40, 50)
	result, err := st.Stack(src, StackOptions{Method: StackAverage, Align: true})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if result.FramesUsed != 4 {
		t.Errorf("FramesUsed = %d, want 4", result.FramesUsed)
	}
	if result.FramesTotal != 5 {
		t.Errorf("FramesTotal = %d, want 5", result.FramesTotal)
	}
	// (10+20+40+50)/4 = 30
	if result.Image.Pix[0] != 30 {
		t.Errorf("Pix[0] = %d, want 30", result.Image.Pix[0])
	}
}

func TestStackQualityThreshold(t *testing.T) {
	st := NewStacker(nil)
	st.align = identityAlign
	// Score each aligned frame by its uniform value; the reference frame is
	// never scored.
	st.score = func(im *RGBImage) float64 { return float64(im.Pix[0]) }

	src := uniformSource(10, 20, 30, 40, 50)
	result, err := st.Stack(src, StackOptions{
		Method:           StackAverage,
		Align:            true,
		QualityThreshold: 35,
	})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	// Reference plus the frames scoring >= 35.
	if result.FramesUsed != 3 {
		t.Errorf("FramesUsed = %d, want 3", result.FramesUsed)
	}
}

func TestStackMedianMemoryWarnDecline(t *testing.T) {
	st := NewStacker(nil)
	// One shared 4096x4096 frame repeated 30 times pushes the buffering
	// estimate past the warning bound without allocating 30 real frames.
	big := NewRGBImage(4096, 4096)
	src := &fakeSource{native: true}
	for i := 0; i < 30; i++ {
		src.frames = append(src.frames, big)
	}
	if big.Bytes()*8*30 <= medianMemoryWarnBytes {
		t.Fatal("estimate does not exceed the warning bound")
	}

	warned := false
	result, err := st.Stack(src, StackOptions{
		Method: StackMedian,
		MemoryWarn: func(estimatedBytes int64) bool {
			warned = true
			return false
		},
	})
	if !warned {
		t.Fatal("memory warning not raised")
	}
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if result != nil {
		t.Error("declined stack returned a result")
	}
}

func TestStackMedianNoWarnBelowBound(t *testing.T) {
	st := NewStacker(nil)
	src := uniformSource(10, 20, 30)
	warned := false
	_, err := st.Stack(src, StackOptions{
		Method: StackMedian,
		MemoryWarn: func(int64) bool {
			warned = true
			return true
		},
	})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if warned {
		t.Error("warned below the estimate bound")
	}
}

func TestStackEmptySource(t *testing.T) {
	st := NewStacker(nil)
	if _, err := st.Stack(&fakeSource{native: true}, DefaultStackOptions()); err == nil {
		t.Error("stacking an empty source succeeded")
	}
}

func TestStackNonNativeRoutesToLucky(t *testing.T) {
	st := NewStacker(nil)
	st.selector.score = func(im *RGBImage) float64 { return float64(im.Pix[0]) }
	st.selector.align = identityAlign

	src := uniformSource(10, 20, 30, 40, 50)
	src.native = false
	result, err := st.Stack(src, StackOptions{Method: StackAverage, LuckyPercentage: 40})
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	// 40% of 5 frames keeps 2: values 50 and 40, averaging 45.
	if result.FramesUsed != 2 {
		t.Errorf("FramesUsed = %d, want 2", result.FramesUsed)
	}
	if result.Image.Pix[0] != 45 {
		t.Errorf("Pix[0] = %d, want 45", result.Image.Pix[0])
	}
}
