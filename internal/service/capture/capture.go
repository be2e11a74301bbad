package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"gocv.io/x/gocv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/frame"
	"peoplecounter/internal/logger"
)

// DefaultFPS is reported when the source has no frame rate.
const DefaultFPS = 30.0

// Source reads BGR frames from a camera, a video file or a single image.
type Source struct {
	capture *gocv.VideoCapture
	still   gocv.Mat
	isStill bool
	served  bool

	mat    gocv.Mat
	bgr    gocv.Mat
	width  int
	height int
	fps    float64
	seq    uint64
	now    func() time.Time
	logger *logger.Logger
}

// Open opens the configured input. Failures wrap frame.ErrSourceUnavailable.
func Open(cfg *config.Config, logger *logger.Logger) (*Source, error) {
	s := &Source{now: time.Now, logger: logger}

	switch {
	case cfg.IsCamera():
		capture, err := gocv.OpenVideoCapture(0)
		if err != nil {
			return nil, fmt.Errorf("%w: camera: %v", frame.ErrSourceUnavailable, err)
		}
		s.capture = capture

	case cfg.IsStillImage():
		img := gocv.IMRead(cfg.Input, gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			return nil, fmt.Errorf("%w: cannot read image %s", frame.ErrSourceUnavailable, cfg.Input)
		}
		s.still = img
		s.isStill = true
		s.width, s.height = img.Cols(), img.Rows()
		s.fps = DefaultFPS

	default:
		if _, err := os.Stat(cfg.Input); err != nil {
			return nil, fmt.Errorf("%w: %v", frame.ErrSourceUnavailable, err)
		}
		capture, err := gocv.OpenVideoCapture(cfg.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", frame.ErrSourceUnavailable, cfg.Input, err)
		}
		s.capture = capture
	}

	if s.capture != nil {
		if !s.capture.IsOpened() {
			s.capture.Close()
			return nil, fmt.Errorf("%w: %s not opened", frame.ErrSourceUnavailable, cfg.Input)
		}
		s.width = int(s.capture.Get(gocv.VideoCaptureFrameWidth))
		s.height = int(s.capture.Get(gocv.VideoCaptureFrameHeight))
		s.fps = s.capture.Get(gocv.VideoCaptureFPS)
		if s.fps < 1 {
			s.fps = DefaultFPS
		}
		s.mat = gocv.NewMat()
		s.bgr = gocv.NewMat()
	}

	logger.Info("Input opened: %s (%dx%d @ %.2f fps, still: %t)", cfg.Input, s.width, s.height, s.fps, s.isStill)
	return s, nil
}

// Next returns the next frame, or frame.ErrSourceExhausted at the end of input.
func (s *Source) Next(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}

	if s.isStill {
		if s.served {
			return frame.Frame{}, frame.ErrSourceExhausted
		}
		s.served = true
		return s.toFrame(s.still)
	}

	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return frame.Frame{}, frame.ErrSourceExhausted
	}
	return s.toFrame(s.mat)
}

func (s *Source) toFrame(mat gocv.Mat) (frame.Frame, error) {
	src := mat
	switch mat.Channels() {
	case 3:
	case 1:
		if err := gocv.CvtColor(mat, &s.bgr, gocv.ColorGrayToBGR); err != nil {
			return frame.Frame{}, fmt.Errorf("failed to convert frame to BGR: %w", err)
		}
		src = s.bgr
	case 4:
		if err := gocv.CvtColor(mat, &s.bgr, gocv.ColorBGRAToBGR); err != nil {
			return frame.Frame{}, fmt.Errorf("failed to convert frame to BGR: %w", err)
		}
		src = s.bgr
	default:
		return frame.Frame{}, fmt.Errorf("unsupported channel count %d", mat.Channels())
	}

	f := frame.Frame{
		Seq:       s.seq,
		Timestamp: s.now(),
		Width:     src.Cols(),
		Height:    src.Rows(),
		Data:      src.ToBytes(),
	}
	s.seq++
	return f, nil
}

func (s *Source) Width() int    { return s.width }
func (s *Source) Height() int   { return s.height }
func (s *Source) FPS() float64  { return s.fps }
func (s *Source) IsStill() bool { return s.isStill }

// Close releases the capture handle and buffers.
func (s *Source) Close() error {
	var err error
	if s.capture != nil {
		err = s.capture.Close()
		s.mat.Close()
		s.bgr.Close()
	}
	if s.isStill {
		s.still.Close()
	}
	return err
}
