package telemetry

import (
	"context"
	"errors"
	"sync"

	"peoplecounter/internal/occupancy"
)

// Sink receives occupancy events. Implementations must preserve publish order per topic.
type Sink interface {
	Publish(ctx context.Context, event occupancy.Event) error
	Close() error
}

// Fanout delivers every event to each sink in registration order.
type Fanout struct {
	sinks []Sink

	mu       sync.Mutex
	failures map[int]uint64
}

// NewFanout creates a Fanout over the given sinks. Nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{failures: make(map[int]uint64)}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish sends the event to all sinks. A failing sink does not prevent
// delivery to the others; all failures are returned joined.
func (f *Fanout) Publish(ctx context.Context, event occupancy.Event) error {
	var errs []error
	for i, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			f.mu.Lock()
			f.failures[i]++
			f.mu.Unlock()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Failures returns the failure count of the sink at position i.
func (f *Fanout) Failures(i int) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[i]
}

// Close closes every sink, returning all close errors joined.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, occupancy.Event) error { return nil }
func (Discard) Close() error                                   { return nil }
