package serstack

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// HeaderSize is the fixed byte length of the SER header.
const HeaderSize = 178

var serMagic = []byte("LUCAM-RECORDER")

// filetimeEpochDiff is the number of 100-nanosecond ticks between
// 1601-01-01 (the SER timestamp epoch) and 1970-01-01.
const filetimeEpochDiff = 116444736000000000

// ColorID identifies the sensor sample layout of a SER container.
type ColorID uint32

const (
	ColorMono      ColorID = 0
	ColorBayerRGGB ColorID = 1
	ColorBayerGRBG ColorID = 2
	ColorBayerGBRG ColorID = 3
	ColorBayerBGGR ColorID = 4
	ColorBayerCYYM ColorID = 8
	ColorBayerYCMY ColorID = 9
	ColorBayerYMCY ColorID = 16
	ColorBayerMYYC ColorID = 17
	ColorRGB       ColorID = 100
	ColorBGR       ColorID = 101
)

var validColorIDs = map[ColorID]string{
	ColorMono:      "MONO",
	ColorBayerRGGB: "BAYER_RGGB",
	ColorBayerGRBG: "BAYER_GRBG",
	ColorBayerGBRG: "BAYER_GBRG",
	ColorBayerBGGR: "BAYER_BGGR",
	ColorBayerCYYM: "BAYER_CYYM",
	ColorBayerYCMY: "BAYER_YCMY",
	ColorBayerYMCY: "BAYER_YMCY",
	ColorBayerMYYC: "BAYER_MYYC",
	ColorRGB:       "RGB",
	ColorBGR:       "BGR",
}

func (c ColorID) String() string {
	if s, ok := validColorIDs[c]; ok {
		return s
	}
	return fmt.Sprintf("COLOR(%d)", uint32(c))
}

// Packed reports whether frames carry three interleaved channels.
func (c ColorID) Packed() bool { return c == ColorRGB || c == ColorBGR }

// Bayer reports whether the layout is one of the standard 2x2 RGB mosaics.
func (c ColorID) Bayer() bool {
	return c == ColorBayerRGGB || c == ColorBayerGRBG || c == ColorBayerGBRG || c == ColorBayerBGGR
}

// CYYM reports whether the layout is in the cyan/yellow/magenta mosaic family.
func (c ColorID) CYYM() bool {
	return c == ColorBayerCYYM || c == ColorBayerYCMY || c == ColorBayerYMCY || c == ColorBayerMYYC
}

func (c ColorID) planes() int {
	if c.Packed() {
		return 3
	}
	return 1
}

// Header is the parsed, immutable 178-byte SER header.
type Header struct {
	FileID      string
	LuID        uint32
	ColorID     ColorID
	BigEndian   bool // byte-order flag: 0 = little-endian, 1 = big-endian
	Width       int
	Height      int
	PixelDepth  int // bits per sample, 8 or 16
	FrameCount  int
	Observer    string
	Instrument  string
	Telescope   string
	DateTimeUTC uint64 // raw 64-bit capture-time ticks
}

// CaptureTime converts the raw capture-time field to UTC.
func (h Header) CaptureTime() time.Time {
	return filetimeToTime(h.DateTimeUTC)
}

// RawFrame is a single frame's sample buffer at native bit depth. It is owned
// exclusively by the caller of the decode call and is never cached raw.
type RawFrame struct {
	Width  int
	Height int
	Planes int // 1 for mono/mosaic, 3 for packed RGB/BGR
	Depth  int // 8 or 16
	Pix8   []uint8  // set when Depth == 8, len = Width*Height*Planes
	Pix16  []uint16 // set when Depth == 16
}

// Parser decodes a SER container. It owns the open file handle for its
// lifetime; Close releases it deterministically.
type Parser struct {
	path          string
	f             *os.File
	header        Header
	frameSize     int
	hasTimestamps bool
	order         binary.ByteOrder
}

// Open opens a SER file, parses and validates its header, and determines
// whether a timestamp trailer is present. The file handle is released on any
// error path.
func Open(path string) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open " + path, Err: err}
	}
	p := &Parser{path: path, f: f}
	if err := p.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (p *Parser) parseHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(p.f, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return &FormatError{Field: "header", Reason: fmt.Sprintf("file shorter than %d bytes", HeaderSize)}
		}
		return &IOError{Op: "read header", Err: err}
	}

	magic := trimNul(buf[0:14])
	if magic != string(serMagic) {
		return &FormatError{Field: "FileID", Reason: fmt.Sprintf("got %q, want %q", magic, serMagic)}
	}

	// The byte-order flag is read little-endian first; its resolved value
	// governs every remaining integer field. Note the inverted convention:
	// 0 means little-endian, 1 means big-endian.
	flag := binary.LittleEndian.Uint32(buf[22:26])
	if flag == 0 {
		p.order = binary.LittleEndian
	} else {
		p.order = binary.BigEndian
	}

	h := Header{
		FileID:      magic,
		LuID:        p.order.Uint32(buf[14:18]),
		ColorID:     ColorID(p.order.Uint32(buf[18:22])),
		BigEndian:   flag != 0,
		Width:       int(p.order.Uint32(buf[26:30])),
		Height:      int(p.order.Uint32(buf[30:34])),
		PixelDepth:  int(p.order.Uint32(buf[34:38])),
		FrameCount:  int(p.order.Uint32(buf[38:42])),
		Observer:    trimNul(buf[42:82]),
		Instrument:  trimNul(buf[82:122]),
		Telescope:   trimNul(buf[122:162]),
		DateTimeUTC: p.order.Uint64(buf[162:170]),
	}

	if _, ok := validColorIDs[h.ColorID]; !ok {
		return &FormatError{Field: "ColorID", Reason: fmt.Sprintf("unsupported value %d", uint32(h.ColorID))}
	}
	if h.PixelDepth != 8 && h.PixelDepth != 16 {
		return &FormatError{Field: "PixelDepth", Reason: fmt.Sprintf("got %d, want 8 or 16", h.PixelDepth)}
	}
	if h.FrameCount == 0 {
		return &FormatError{Field: "FrameCount", Reason: "zero frames"}
	}

	p.header = h
	p.frameSize = h.Width * h.Height * (h.PixelDepth / 8) * h.ColorID.planes()

	// The trailer exists iff the file size matches the timestamped layout
	// exactly. Any mismatch, even one byte, means no timestamps.
	fi, err := p.f.Stat()
	if err != nil {
		return &IOError{Op: "stat", Err: err}
	}
	want := int64(HeaderSize) + int64(h.FrameCount)*int64(p.frameSize) + int64(h.FrameCount)*8
	p.hasTimestamps = fi.Size() == want
	return nil
}

// Header returns the parsed header.
func (p *Parser) Header() Header { return p.header }

// FrameSize returns the byte size of a single raw frame.
func (p *Parser) FrameSize() int { return p.frameSize }

// HasTimestamps reports whether a per-frame timestamp trailer is present.
func (p *Parser) HasTimestamps() bool { return p.hasTimestamps }

// Frame reads the raw sample buffer at index. Short reads are reported as
// I/O errors, never padded.
func (p *Parser) Frame(index int) (*RawFrame, error) {
	if index < 0 || index >= p.header.FrameCount {
		return nil, &IndexError{What: "frame", Index: index, Count: p.header.FrameCount}
	}
	offset := int64(HeaderSize) + int64(index)*int64(p.frameSize)
	buf := make([]byte, p.frameSize)
	if _, err := p.f.ReadAt(buf, offset); err != nil {
		return nil, &IOError{Op: fmt.Sprintf("read frame %d", index), Err: err}
	}

	raw := &RawFrame{
		Width:  p.header.Width,
		Height: p.header.Height,
		Planes: p.header.ColorID.planes(),
		Depth:  p.header.PixelDepth,
	}
	if p.header.PixelDepth == 8 {
		raw.Pix8 = buf
		return raw, nil
	}
	samples := make([]uint16, len(buf)/2)
	for i := range samples {
		samples[i] = p.order.Uint16(buf[i*2:])
	}
	raw.Pix16 = samples
	return raw, nil
}

// Timestamp reads the capture timestamp for a frame. It returns
// ErrNoTimestamps when the container has no trailer.
func (p *Parser) Timestamp(index int) (time.Time, error) {
	if !p.hasTimestamps {
		return time.Time{}, ErrNoTimestamps
	}
	if index < 0 || index >= p.header.FrameCount {
		return time.Time{}, &IndexError{What: "timestamp", Index: index, Count: p.header.FrameCount}
	}
	offset := int64(HeaderSize) + int64(p.header.FrameCount)*int64(p.frameSize) + int64(index)*8
	buf := make([]byte, 8)
	if _, err := p.f.ReadAt(buf, offset); err != nil {
		return time.Time{}, &IOError{Op: fmt.Sprintf("read timestamp %d", index), Err: err}
	}
	return filetimeToTime(p.order.Uint64(buf)), nil
}

// Close releases the file handle. Safe to call more than once.
func (p *Parser) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

func filetimeToTime(ticks uint64) time.Time {
	t := int64(ticks) - filetimeEpochDiff
	return time.Unix(t/1e7, (t%1e7)*100).UTC()
}

func trimNul(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
