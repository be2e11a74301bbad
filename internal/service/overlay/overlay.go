package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"peoplecounter/internal/frame"
)

var (
	boxColor  = color.RGBA{R: 255, G: 55, B: 0, A: 0}
	textColor = color.RGBA{R: 10, G: 10, B: 200, A: 0}
)

// Annotator draws detection boxes and the inference latency onto frames.
type Annotator struct{}

func New() *Annotator {
	return &Annotator{}
}

// LatencyText formats the inference latency line.
func LatencyText(latency time.Duration) string {
	return fmt.Sprintf("Inference time: %.3fms", latency.Seconds()*1000)
}

// Annotate draws onto f.Data in place.
func (a *Annotator) Annotate(f *frame.Frame, boxes []image.Rectangle, latency time.Duration) error {
	if !f.Complete() {
		return fmt.Errorf("frame %d is incomplete", f.Seq)
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	for _, box := range boxes {
		if err := gocv.Rectangle(&mat, box, boxColor, 1); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}
	}

	if err := gocv.PutText(&mat, LatencyText(latency), image.Pt(15, 15), gocv.FontHersheyComplex, 0.5, textColor, 1); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}

	copy(f.Data, mat.ToBytes())
	return nil
}

// WriteStill encodes f to path; the format follows the file extension.
func (a *Annotator) WriteStill(path string, f frame.Frame) error {
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}
