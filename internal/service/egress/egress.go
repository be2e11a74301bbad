package egress

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"peoplecounter/internal/config"
	"peoplecounter/internal/frame"
	"peoplecounter/internal/logger"
)

// DefaultFPS is used when the source does not report a frame rate.
const DefaultFPS = 30

const closeTimeout = 5 * time.Second

var (
	ErrSinkClosed      = errors.New("egress sink closed")
	ErrIncompleteFrame = errors.New("incomplete frame")
	ErrFrameSize       = errors.New("frame size does not match stream")
)

// StillWriter persists a single annotated image.
type StillWriter interface {
	WriteStill(path string, f frame.Frame) error
}

// FFmpegArgs returns the encoder arguments for a raw BGR24 stream of the given
// geometry read from stdin and re-encoded to url.
func FFmpegArgs(fps float64, width, height int, url string) []string {
	rate := int(fps)
	if rate < 1 {
		rate = DefaultFPS
	}
	return []string{
		"-y",
		"-r", strconv.Itoa(rate),
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-pixel_format", "bgr24",
		"-f", "rawvideo",
		"-i", "-",
		url,
	}
}

// StreamSink writes annotated frames to an encoder's stdin. Writes block when
// the encoder is slow; frames are never dropped or reordered.
type StreamSink struct {
	w         io.WriteCloser
	width     int
	height    int
	wait      func() error
	kill      func() error
	still     StillWriter
	stillPath string
	logger    *logger.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	frames    atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

// Start launches ffmpeg for a width x height stream at fps.
func Start(cfg *config.Config, width, height int, fps float64, still StillWriter, logger *logger.Logger) (*StreamSink, error) {
	args := FFmpegArgs(fps, width, height, cfg.EgressURL)
	cmd := exec.Command(cfg.FFmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.FFmpegPath, err)
	}

	logger.Info("Encoder started (pid %d): %s %v", cmd.Process.Pid, cfg.FFmpegPath, args)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("ffmpeg: %s", scanner.Text())
		}
	}()

	sink := NewStreamSink(stdin, width, height, still, cfg.OutputImage, logger)
	sink.wait = cmd.Wait
	sink.kill = cmd.Process.Kill
	return sink, nil
}

// NewStreamSink wraps an already open encoder input.
func NewStreamSink(w io.WriteCloser, width, height int, still StillWriter, stillPath string, logger *logger.Logger) *StreamSink {
	return &StreamSink{
		w:         w,
		width:     width,
		height:    height,
		still:     still,
		stillPath: stillPath,
		logger:    logger,
	}
}

// WriteFrame appends one complete frame to the stream.
func (s *StreamSink) WriteFrame(_ context.Context, f frame.Frame) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	if f.Width != s.width || f.Height != s.height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, f.Width, f.Height, s.width, s.height)
	}
	if !f.Complete() {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncompleteFrame, len(f.Data), f.Size())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.w.Write(f.Data); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
	}
	s.frames.Add(1)
	return nil
}

// WriteStill saves f as the still output image.
func (s *StreamSink) WriteStill(f frame.Frame) error {
	return writeStill(s.still, s.stillPath, f)
}

// Frames returns how many frames were written.
func (s *StreamSink) Frames() uint64 {
	return s.frames.Load()
}

// Close ends the stream and waits for the encoder to exit. The encoder is
// killed if it does not exit in time.
func (s *StreamSink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if err := s.w.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close encoder input: %w", err)
		}
		if s.wait == nil {
			return
		}

		done := make(chan error, 1)
		go func() { done <- s.wait() }()

		select {
		case err := <-done:
			if err != nil {
				s.closeErr = errors.Join(s.closeErr, fmt.Errorf("encoder exited: %w", err))
			}
		case <-time.After(closeTimeout):
			s.logger.Warning("Encoder did not exit within %v, killing it", closeTimeout)
			if s.kill != nil {
				if err := s.kill(); err != nil {
					s.closeErr = errors.Join(s.closeErr, fmt.Errorf("failed to kill encoder: %w", err))
				}
			}
		}

		s.logger.Info("Encoder closed after %d frames", s.frames.Load())
	})
	return s.closeErr
}

// Discard drops stream frames but still writes still images.
type Discard struct {
	Still     StillWriter
	StillPath string
}

func (Discard) WriteFrame(context.Context, frame.Frame) error { return nil }
func (d Discard) WriteStill(f frame.Frame) error              { return writeStill(d.Still, d.StillPath, f) }
func (Discard) Close() error                                  { return nil }

func writeStill(w StillWriter, path string, f frame.Frame) error {
	if w == nil {
		return errors.New("no still image writer configured")
	}
	if !f.Complete() {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncompleteFrame, len(f.Data), f.Size())
	}
	if err := w.WriteStill(path, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
