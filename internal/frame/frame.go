package frame

import (
	"errors"
	"time"
)

var (
	// ErrSourceExhausted is returned when the source has no more frames (end of file or stream).
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrSourceUnavailable is returned when the capture device or file cannot be opened or read.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// BytesPerPixel is the channel count of the interleaved BGR24 layout.
const BytesPerPixel = 3

// Frame is one captured picture in interleaved BGR, 8 bits per channel.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Size returns the expected byte length of a complete frame.
func (f *Frame) Size() int {
	return f.Width * f.Height * BytesPerPixel
}

// Complete reports whether Data holds exactly one full frame.
func (f *Frame) Complete() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == f.Size()
}
