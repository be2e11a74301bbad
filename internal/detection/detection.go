package detection

import (
	"image"
	"math"
)

// DefaultThreshold is used when the configured probability threshold is unset or invalid.
const DefaultThreshold = 0.5

// ssdRowSize is the number of values per SSD detection row:
// image_id, label, confidence, xmin, ymin, xmax, ymax.
const ssdRowSize = 7

// Detection is one candidate object from a single inference pass.
// Coordinates are normalized to [0,1] relative to the frame size.
type Detection struct {
	ImageID int
	ClassID int
	Score   float32
	XMin    float32
	YMin    float32
	XMax    float32
	YMax    float32
}

// Options controls which detections are counted.
type Options struct {
	// Threshold is exclusive: a score equal to it is not counted.
	Threshold float64
	// ClassID restricts counting to one label. Negative means any label.
	ClassID int
}

// DefaultOptions returns options matching a single-class person model.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, ClassID: -1}
}

// Result is the outcome of filtering one frame's detections.
type Result struct {
	Count int
	Boxes []image.Rectangle
}

// NormalizeThreshold returns t when it is a valid probability, DefaultThreshold otherwise.
func NormalizeThreshold(t float64) float64 {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return DefaultThreshold
	}
	return t
}

// Filter counts detections scoring strictly above the threshold and scales
// their boxes to pixel coordinates of a width x height frame. Box order follows input order.
func Filter(dets []Detection, opts Options, width, height int) Result {
	threshold := NormalizeThreshold(opts.Threshold)
	result := Result{Boxes: make([]image.Rectangle, 0, len(dets))}

	for _, d := range dets {
		if float64(d.Score) <= threshold {
			continue
		}
		if opts.ClassID >= 0 && d.ClassID != opts.ClassID {
			continue
		}

		result.Boxes = append(result.Boxes, image.Rectangle{
			Min: image.Pt(int(d.XMin*float32(width)), int(d.YMin*float32(height))),
			Max: image.Pt(int(d.XMax*float32(width)), int(d.YMax*float32(height))),
		})
		result.Count++
	}

	return result
}

// DecodeSSD turns a flattened [1,1,N,7] SSD output into detections.
// Decoding stops at the first row with a negative image id, which marks the end of valid rows.
func DecodeSSD(values []float32) []Detection {
	rows := len(values) / ssdRowSize
	dets := make([]Detection, 0, rows)

	for i := 0; i < rows; i++ {
		row := values[i*ssdRowSize : (i+1)*ssdRowSize]
		if row[0] < 0 {
			break
		}
		dets = append(dets, Detection{
			ImageID: int(row[0]),
			ClassID: int(row[1]),
			Score:   row[2],
			XMin:    row[3],
			YMin:    row[4],
			XMax:    row[5],
			YMax:    row[6],
		})
	}

	return dets
}
