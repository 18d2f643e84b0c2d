package serstack

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// serSpec describes a synthetic SER file for tests.
type serSpec struct {
	magic      string
	colorID    ColorID
	bigEndian  bool
	width      int
	height     int
	pixelDepth int
	frames     [][]byte // raw frame payloads, already in file byte order
	timestamps []uint64 // raw tick values; nil means no trailer
	extraBytes int      // bytes appended after everything else
	instrument string
}

func (s serSpec) order() binary.ByteOrder {
	if s.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// writeSER materializes the description to a temp file and returns its path.
func writeSER(t *testing.T, s serSpec) string {
	t.Helper()
	if s.magic == "" {
		s.magic = "LUCAM-RECORDER"
	}
	order := s.order()

	header := make([]byte, HeaderSize)
	copy(header[0:14], s.magic)
	order.PutUint32(header[18:22], uint32(s.colorID))
	var flag uint32
	if s.bigEndian {
		flag = 1
	}
	binary.LittleEndian.PutUint32(header[22:26], flag)
	order.PutUint32(header[26:30], uint32(s.width))
	order.PutUint32(header[30:34], uint32(s.height))
	order.PutUint32(header[34:38], uint32(s.pixelDepth))
	order.PutUint32(header[38:42], uint32(len(s.frames)))
	copy(header[82:122], s.instrument)

	data := header
	for _, f := range s.frames {
		data = append(data, f...)
	}
	for _, ts := range s.timestamps {
		buf := make([]byte, 8)
		order.PutUint64(buf, ts)
		data = append(data, buf...)
	}
	data = append(data, make([]byte, s.extraBytes)...)

	path := filepath.Join(t.TempDir(), "test.ser")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp SER: %v", err)
	}
	return path
}

func monoFrames(n, w, h int, value byte) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		f := make([]byte, w*h)
		for j := range f {
			f[j] = value
		}
		frames[i] = f
	}
	return frames
}

func TestOpenParsesHeader(t *testing.T) {
	path := writeSER(t, serSpec{
		colorID:    ColorMono,
		width:      4,
		height:     2,
		pixelDepth: 8,
		frames:     monoFrames(3, 4, 2, 7),
		instrument: "ZWO ASI294MC",
	})
	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	h := p.Header()
	if h.FileID != "LUCAM-RECORDER" {
		t.Errorf("FileID = %q", h.FileID)
	}
	if h.ColorID != ColorMono || h.Width != 4 || h.Height != 2 || h.PixelDepth != 8 || h.FrameCount != 3 {
		t.Errorf("header = %+v", h)
	}
	if h.Instrument != "ZWO ASI294MC" {
		t.Errorf("Instrument = %q", h.Instrument)
	}
	if h.BigEndian {
		t.Error("BigEndian = true for little-endian file")
	}
	if p.FrameSize() != 8 {
		t.Errorf("FrameSize = %d, want 8", p.FrameSize())
	}
}

func TestOpenBigEndianHeader(t *testing.T) {
	path := writeSER(t, serSpec{
		colorID:    ColorRGB,
		bigEndian:  true,
		width:      3,
		height:     2,
		pixelDepth: 8,
		frames:     [][]byte{make([]byte, 3*2*3)},
	})
	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	h := p.Header()
	if !h.BigEndian {
		t.Error("BigEndian = false for big-endian file")
	}
	if h.Width != 3 || h.Height != 2 || h.FrameCount != 1 {
		t.Errorf("header = %+v", h)
	}
	// Packed layout carries three planes.
	if p.FrameSize() != 3*2*3 {
		t.Errorf("FrameSize = %d, want %d", p.FrameSize(), 3*2*3)
	}
}

func TestOpenRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name  string
		spec  serSpec
		field string
	}{
		{
			name:  "bad magic",
			spec:  serSpec{magic: "NOT-A-RECORDER", colorID: ColorMono, width: 2, height: 2, pixelDepth: 8, frames: monoFrames(1, 2, 2, 0)},
			field: "FileID",
		},
		{
			name:  "bad color id",
			spec:  serSpec{colorID: ColorID(5), width: 2, height: 2, pixelDepth: 8, frames: monoFrames(1, 2, 2, 0)},
			field: "ColorID",
		},
		{
			name:  "bad pixel depth",
			spec:  serSpec{colorID: ColorMono, width: 2, height: 2, pixelDepth: 12, frames: monoFrames(1, 2, 2, 0)},
			field: "PixelDepth",
		},
		{
			name:  "zero frames",
			spec:  serSpec{colorID: ColorMono, width: 2, height: 2, pixelDepth: 8},
			field: "FrameCount",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writeSER(t, tt.spec))
			var ferr *FormatError
			if !errors.As(err, &ferr) {
				t.Fatalf("err = %v, want FormatError", err)
			}
			if ferr.Field != tt.field {
				t.Errorf("Field = %q, want %q", ferr.Field, tt.field)
			}
		})
	}
}

func TestOpenRejectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.ser")
	if err := os.WriteFile(path, []byte("LUCAM-RECORDER"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	var ferr *FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want FormatError", err)
	}
}

func TestTimestampTrailerDetection(t *testing.T) {
	base := serSpec{colorID: ColorMono, width: 2, height: 2, pixelDepth: 8, frames: monoFrames(2, 2, 2, 0)}

	withTS := base
	withTS.timestamps = []uint64{filetimeEpochDiff, filetimeEpochDiff + 1e7}
	offByOne := withTS
	offByOne.extraBytes = 1

	tests := []struct {
		name string
		spec serSpec
		want bool
	}{
		{"no trailer", base, false},
		{"exact trailer", withTS, true},
		{"one extra byte", offByOne, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Open(writeSER(t, tt.spec))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer p.Close()
			if p.HasTimestamps() != tt.want {
				t.Errorf("HasTimestamps = %v, want %v", p.HasTimestamps(), tt.want)
			}
		})
	}
}

func TestTimestampValues(t *testing.T) {
	spec := serSpec{
		colorID: ColorMono, width: 2, height: 2, pixelDepth: 8,
		frames:     monoFrames(2, 2, 2, 0),
		timestamps: []uint64{filetimeEpochDiff, filetimeEpochDiff + 10e7},
	}
	p, err := Open(writeSER(t, spec))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ts0, err := p.Timestamp(0)
	if err != nil {
		t.Fatalf("Timestamp(0): %v", err)
	}
	want := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ts0.Equal(want) {
		t.Errorf("Timestamp(0) = %v, want %v", ts0, want)
	}
	ts1, err := p.Timestamp(1)
	if err != nil {
		t.Fatalf("Timestamp(1): %v", err)
	}
	if got := ts1.Sub(ts0); got != 10*time.Second {
		t.Errorf("timestamp delta = %v, want 10s", got)
	}

	if _, err := p.Timestamp(2); err == nil {
		t.Error("Timestamp(2) succeeded past frame count")
	}
}

func TestTimestampWithoutTrailer(t *testing.T) {
	p, err := Open(writeSER(t, serSpec{
		colorID: ColorMono, width: 2, height: 2, pixelDepth: 8,
		frames: monoFrames(1, 2, 2, 0),
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	if _, err := p.Timestamp(0); !errors.Is(err, ErrNoTimestamps) {
		t.Errorf("err = %v, want ErrNoTimestamps", err)
	}
}

func TestFrameRead8Bit(t *testing.T) {
	frames := [][]byte{
		{10, 20, 30, 40},
		{50, 60, 70, 80},
	}
	p, err := Open(writeSER(t, serSpec{
		colorID: ColorMono, width: 2, height: 2, pixelDepth: 8, frames: frames,
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	raw, err := p.Frame(1)
	if err != nil {
		t.Fatalf("Frame(1): %v", err)
	}
	if raw.Depth != 8 || raw.Planes != 1 {
		t.Errorf("raw = %+v", raw)
	}
	for i, want := range frames[1] {
		if raw.Pix8[i] != want {
			t.Errorf("Pix8[%d] = %d, want %d", i, raw.Pix8[i], want)
		}
	}
}

func TestFrameRead16BitBothOrders(t *testing.T) {
	for _, bigEndian := range []bool{false, true} {
		name := "little-endian"
		if bigEndian {
			name = "big-endian"
		}
		t.Run(name, func(t *testing.T) {
			spec := serSpec{colorID: ColorMono, bigEndian: bigEndian, width: 2, height: 1, pixelDepth: 16}
			frame := make([]byte, 4)
			spec.order().PutUint16(frame[0:2], 0x1234)
			spec.order().PutUint16(frame[2:4], 0xFFEE)
			spec.frames = [][]byte{frame}

			p, err := Open(writeSER(t, spec))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer p.Close()

			raw, err := p.Frame(0)
			if err != nil {
				t.Fatalf("Frame(0): %v", err)
			}
			if raw.Pix16[0] != 0x1234 || raw.Pix16[1] != 0xFFEE {
				t.Errorf("Pix16 = %04x %04x, want 1234 ffee", raw.Pix16[0], raw.Pix16[1])
			}
		})
	}
}

func TestFrameIndexErrors(t *testing.T) {
	p, err := Open(writeSER(t, serSpec{
		colorID: ColorMono, width: 2, height: 2, pixelDepth: 8,
		frames: monoFrames(2, 2, 2, 0),
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	for _, idx := range []int{-1, 2, 100} {
		var ierr *IndexError
		if _, err := p.Frame(idx); !errors.As(err, &ierr) {
			t.Errorf("Frame(%d) err = %v, want IndexError", idx, err)
		}
	}
}

func TestFrameShortRead(t *testing.T) {
	// Header claims two frames but the file carries only one and a half.
	spec := serSpec{colorID: ColorMono, width: 4, height: 4, pixelDepth: 8, frames: monoFrames(2, 4, 4, 0)}
	path := writeSER(t, spec)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-8], 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	var ioe *IOError
	if _, err := p.Frame(1); !errors.As(err, &ioe) {
		t.Errorf("err = %v, want IOError", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	p, err := Open(writeSER(t, serSpec{
		colorID: ColorMono, width: 2, height: 2, pixelDepth: 8,
		frames: monoFrames(1, 2, 2, 0),
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestFiletimeEpoch(t *testing.T) {
	got := filetimeToTime(filetimeEpochDiff)
	want := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("filetimeToTime(epoch) = %v, want %v", got, want)
	}
	got = filetimeToTime(filetimeEpochDiff + 5e6 + 1)
	if got.Nanosecond() != 5e8+100 {
		t.Errorf("sub-second component = %d ns", got.Nanosecond())
	}
}
