package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"peoplecounter/internal/detection"
	"peoplecounter/internal/frame"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/service/telemetry"
)

var (
	ErrInferenceFailure = errors.New("inference failure")
	ErrEgressFailure    = errors.New("egress failure")
)

// Stage names used in fatal diagnostics.
const (
	StageCapture   = "capture"
	StageInference = "inference"
	StageEgress    = "egress"
)

// StageError identifies the pipeline stage a fatal error came from.
type StageError struct {
	Stage string
	Seq   uint64
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed at frame %d: %v", e.Stage, e.Seq, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Source produces frames in capture order.
type Source interface {
	Next(ctx context.Context) (frame.Frame, error)
	IsStill() bool
	Close() error
}

// Detector runs the detection network on one request slot at a time.
type Detector interface {
	Submit(slot int, f frame.Frame) error
	Wait(ctx context.Context, slot int) error
	Fetch(slot int) ([]detection.Detection, error)
	Release() error
}

// PerfReporter is implemented by detectors that can report per-layer statistics.
type PerfReporter interface {
	PerformanceCounts() (detection.PerfReport, error)
}

// Annotator draws the diagnostics overlay onto the frame in place.
type Annotator interface {
	Annotate(f *frame.Frame, boxes []image.Rectangle, latency time.Duration) error
}

// VideoSink receives annotated frames in order.
type VideoSink interface {
	WriteFrame(ctx context.Context, f frame.Frame) error
	WriteStill(f frame.Frame) error
	Close() error
}

// Options tunes the driver.
type Options struct {
	Detection        detection.Options
	InferenceTimeout time.Duration
	PerfCounts       bool
}

// Stats is a snapshot of the driver counters.
type Stats struct {
	State           State         `json:"state"`
	StartedAt       time.Time     `json:"started_at"`
	Frames          uint64        `json:"frames"`
	LastSeq         uint64        `json:"last_seq"`
	LastLatency     time.Duration `json:"last_latency_ns"`
	LastCount       int           `json:"last_count"`
	TotalCount      int           `json:"total_count"`
	Events          uint64        `json:"events"`
	PublishFailures uint64        `json:"publish_failures"`
}

// inferenceSlot is the only request slot used; one frame is in flight at a time.
const inferenceSlot = 0

// Driver pulls frames, runs inference, updates occupancy and fans out the
// results. A Driver runs once.
type Driver struct {
	source    Source
	detector  Detector
	annotator Annotator
	video     VideoSink
	telemetry telemetry.Sink
	machine   *occupancy.Machine
	opts      Options
	logger    *logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	stats Stats

	// consecutive publish failures, owned by the Run goroutine
	publishStreak uint64

	releaseOnce sync.Once
	releaseErr  error
}

// NewDriver creates a Driver owning the given collaborators. They are released
// when Run returns.
func NewDriver(source Source, detector Detector, annotator Annotator, video VideoSink, sink telemetry.Sink, opts Options, logger *logger.Logger) *Driver {
	if sink == nil {
		sink = telemetry.Discard{}
	}
	return &Driver{
		source:    source,
		detector:  detector,
		annotator: annotator,
		video:     video,
		telemetry: sink,
		machine:   occupancy.NewMachine(),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		stats:     Stats{State: Starting},
	}
}

// Run processes frames until the source is exhausted, ctx is cancelled or a
// fatal error occurs. Cancellation is observed between frames only.
// End of stream and cancellation return nil.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.stats.State != Starting {
		d.mu.Unlock()
		return errors.New("driver already started")
	}
	d.stats.State = Running
	d.stats.StartedAt = d.now()
	d.mu.Unlock()

	defer func() {
		d.setState(Draining)
		if releaseErr := d.release(); releaseErr != nil {
			d.logger.Warning("Error releasing pipeline resources: %v", releaseErr)
		}
		d.setState(Stopped)
	}()

	still := d.source.IsStill()
	for {
		if ctx.Err() != nil {
			d.logger.Info("Stop requested, draining after frame %d", d.Stats().LastSeq)
			return nil
		}

		f, err := d.source.Next(ctx)
		if err != nil {
			return d.endOfInput(ctx, err)
		}

		if err := d.process(ctx, f, still); err != nil {
			return err
		}

		if still {
			d.logger.Info("Still image written, stopping")
			return nil
		}
	}
}

// endOfInput decides whether a failed acquisition ends the run normally.
func (d *Driver) endOfInput(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, frame.ErrSourceExhausted):
		d.logger.Info("End of stream after %d frames", d.Stats().Frames)
		return nil
	case ctx.Err() != nil:
		d.logger.Info("Stop requested during capture")
		return nil
	case d.Stats().Frames == 0:
		return &StageError{Stage: StageCapture, Err: fmt.Errorf("%w: %w", frame.ErrSourceUnavailable, err)}
	default:
		d.logger.Warning("Capture read failed, ending stream: %v", err)
		return nil
	}
}

func (d *Driver) process(ctx context.Context, f frame.Frame, still bool) error {
	start := d.now()

	dets, err := d.infer(ctx, f)
	if err != nil {
		return &StageError{Stage: StageInference, Seq: f.Seq, Err: fmt.Errorf("%w: %w", ErrInferenceFailure, err)}
	}
	latency := d.now().Sub(start)

	if d.opts.PerfCounts {
		d.reportPerf()
	}

	result := detection.Filter(dets, d.opts.Detection, f.Width, f.Height)

	ts := f.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	events := d.machine.Step(result.Count, ts, f.Seq)

	var egressErr error
	if err := d.annotator.Annotate(&f, result.Boxes, latency); err != nil {
		egressErr = fmt.Errorf("annotate: %w", err)
	} else if still {
		egressErr = d.video.WriteStill(f)
	} else {
		egressErr = d.video.WriteFrame(ctx, f)
	}

	failures := d.publish(ctx, events)

	state := d.machine.Snapshot()
	d.mu.Lock()
	d.stats.Frames++
	d.stats.LastSeq = f.Seq
	d.stats.LastLatency = latency
	d.stats.LastCount = state.LastCount
	d.stats.TotalCount = state.TotalCount
	d.stats.Events += uint64(len(events))
	d.stats.PublishFailures += failures
	d.mu.Unlock()

	d.logger.Debug("Frame %d: count=%d total=%d latency=%.3fms", f.Seq, result.Count, state.TotalCount, latency.Seconds()*1000)

	if egressErr != nil {
		return &StageError{Stage: StageEgress, Seq: f.Seq, Err: fmt.Errorf("%w: %w", ErrEgressFailure, egressErr)}
	}
	return nil
}

// infer submits the frame and blocks until its detections are available. The
// wait ignores cancellation of ctx and is bounded only by the inference timeout.
func (d *Driver) infer(ctx context.Context, f frame.Frame) ([]detection.Detection, error) {
	if err := d.detector.Submit(inferenceSlot, f); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	waitCtx := context.WithoutCancel(ctx)
	if d.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, d.opts.InferenceTimeout)
		defer cancel()
	}

	if err := d.detector.Wait(waitCtx, inferenceSlot); err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}

	dets, err := d.detector.Fetch(inferenceSlot)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return dets, nil
}

// publish sends events in order. Only the first failure of an outage and the
// recovery are logged; every failure is counted.
func (d *Driver) publish(ctx context.Context, events []occupancy.Event) uint64 {
	var failures uint64
	for _, e := range events {
		if err := d.telemetry.Publish(ctx, e); err != nil {
			failures++
			if d.publishStreak == 0 {
				d.logger.Warning("Failed to publish %s event for frame %d, counting further failures until publishing recovers: %v", e.Kind, e.FrameSeq, err)
			}
			d.publishStreak++
			continue
		}
		if d.publishStreak > 0 {
			d.logger.Info("Telemetry publishing recovered at frame %d after %d failed events", e.FrameSeq, d.publishStreak)
			d.publishStreak = 0
		}
	}
	return failures
}

func (d *Driver) reportPerf() {
	reporter, ok := d.detector.(PerfReporter)
	if !ok {
		return
	}
	report, err := reporter.PerformanceCounts()
	if err != nil {
		d.logger.Warning("Performance counters unavailable: %v", err)
		return
	}

	d.logger.Info("%-70s %-15s", "name", "layer_type")
	for _, layer := range report.Layers {
		d.logger.Info("%-70s %-15s", layer.Name, layer.Type)
	}
	d.logger.Info("total forward time: %.3fms", report.Total.Seconds()*1000)
}

// release closes every owned resource exactly once.
func (d *Driver) release() error {
	d.releaseOnce.Do(func() {
		var errs []error
		if err := d.video.Close(); err != nil {
			errs = append(errs, fmt.Errorf("video sink: %w", err))
		}
		if err := d.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
		if err := d.telemetry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		if err := d.detector.Release(); err != nil {
			errs = append(errs, fmt.Errorf("detector: %w", err))
		}
		d.releaseErr = errors.Join(errs...)
	})
	return d.releaseErr
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.stats.State = s
	d.mu.Unlock()
}

// Stats returns a snapshot of the driver counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
