package occupancy

import "time"

// State is the mutable occupancy record of one stream.
// The zero value is the initial state: no people seen, no open episode.
type State struct {
	LastCount int
	// TotalCount is the cumulative sum of positive count increases. It never decreases.
	TotalCount int
	// EpisodeStart is set on every rising edge. Zero means absent.
	EpisodeStart time.Time
}

// Machine turns a per-frame people count into telemetry events.
// A Machine is owned by a single pipeline and must not be stepped concurrently.
type Machine struct {
	state State
}

// NewMachine returns a machine in the initial state.
func NewMachine() *Machine {
	return &Machine{}
}

// Step applies the count observed at time t for frame seq and returns the
// events to publish, in publish order.
func (m *Machine) Step(count int, t time.Time, seq uint64) []Event {
	if count < 0 {
		count = 0
	}

	events := make([]Event, 0, 2)

	if count > m.state.LastCount {
		m.state.EpisodeStart = t
		m.state.TotalCount += count - m.state.LastCount
		events = append(events, Event{
			Kind:      TotalChanged,
			Value:     m.state.TotalCount,
			FrameSeq:  seq,
			Timestamp: t,
		})
	}

	if count < m.state.LastCount {
		var duration time.Duration
		if !m.state.EpisodeStart.IsZero() {
			duration = t.Sub(m.state.EpisodeStart)
		}
		if duration < 0 {
			duration = 0
		}
		events = append(events, Event{
			Kind:      DurationRecorded,
			Value:     int(duration / time.Second),
			Duration:  duration,
			FrameSeq:  seq,
			Timestamp: t,
		})
	}

	events = append(events, Event{
		Kind:      CountChanged,
		Value:     count,
		FrameSeq:  seq,
		Timestamp: t,
	})

	m.state.LastCount = count
	return events
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	return m.state
}
