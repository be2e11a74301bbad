package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peoplecounter/internal/config"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/repository"
)

const (
	// DefaultBufferLimit is how many events are buffered before a flush is forced.
	DefaultBufferLimit = 64
	// DefaultFlushInterval defines how often buffered events are written to the repository.
	DefaultFlushInterval = 10 * time.Second
)

// ErrRecorderClosed is returned when publishing to a closed recorder.
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder buffers occupancy events in memory and periodically writes them to
// the event repository. Count events are only recorded when the count changes.
type Recorder struct {
	streamID string
	limit    int
	interval time.Duration
	repo     repository.EventRepository
	logger   *logger.Logger

	mu        sync.Mutex
	events    []model.OccupancyEvent
	lastCount int
	hasCount  bool
	closed    bool
	stored    uint64
	failed    uint64

	flushMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// RecorderStats reports how many events were written and lost.
type RecorderStats struct {
	Pending int    `json:"pending"`
	Stored  uint64 `json:"stored"`
	Failed  uint64 `json:"failed"`
}

// NewRecorder creates a Recorder for the configured stream.
func NewRecorder(config *config.Config, logger *logger.Logger, repo repository.EventRepository) *Recorder {
	limit := config.RecorderBufferLimit
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	interval := config.RecorderFlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &Recorder{
		streamID: config.StreamID,
		limit:    limit,
		interval: interval,
		repo:     repo,
		logger:   logger,
		events:   make([]model.OccupancyEvent, 0, limit),
		done:     make(chan struct{}),
	}
}

// Run starts a ticker loop that periodically flushes events until ctx is
// cancelled or the recorder is closed.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Error("Error flushing occupancy events: %v", err)
			}
		}
	}
}

// Publish buffers the event. A full buffer is flushed before returning.
func (r *Recorder) Publish(_ context.Context, event occupancy.Event) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}

	if event.Kind == occupancy.CountChanged {
		if r.hasCount && r.lastCount == event.Value {
			r.mu.Unlock()
			return nil
		}
		r.lastCount = event.Value
		r.hasCount = true
	}

	r.events = append(r.events, model.OccupancyEvent{
		StreamID:   r.streamID,
		Kind:       event.Kind.String(),
		Value:      event.Value,
		DurationMs: event.Duration.Milliseconds(),
		FrameSeq:   event.FrameSeq,
		RecordedAt: event.Timestamp,
	})
	full := len(r.events) >= r.limit
	r.mu.Unlock()

	if full {
		return r.Flush()
	}
	return nil
}

// Flush writes the buffered events to the repository in one batch. A failed
// batch is dropped and counted.
func (r *Recorder) Flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if len(r.events) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.events
	r.events = make([]model.OccupancyEvent, 0, r.limit)
	r.mu.Unlock()

	if err := r.repo.InsertBatch(batch); err != nil {
		r.mu.Lock()
		r.failed += uint64(len(batch))
		r.mu.Unlock()
		return fmt.Errorf("failed to store %d events: %w", len(batch), err)
	}

	r.mu.Lock()
	r.stored += uint64(len(batch))
	r.mu.Unlock()

	r.logger.Debug("Flushed %d occupancy events", len(batch))
	return nil
}

// Close flushes what is left and stops Run. Further publishes fail.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		close(r.done)
		err = r.Flush()
	})
	return err
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStats{
		Pending: len(r.events),
		Stored:  r.stored,
		Failed:  r.failed,
	}
}
