package occupancy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topics used on the telemetry channel.
const (
	TopicPerson   = "person"
	TopicDuration = "person/duration"
)

// EventKind identifies the telemetry signal carried by an Event.
type EventKind int

const (
	// CountChanged carries the people count of the current frame. Emitted every frame.
	CountChanged EventKind = iota
	// TotalChanged carries the cumulative entry count after a rising edge.
	TotalChanged
	// DurationRecorded carries the length of the episode closed by a falling edge.
	DurationRecorded
)

// String returns the name used in logs and persisted records.
func (k EventKind) String() string {
	switch k {
	case CountChanged:
		return "count"
	case TotalChanged:
		return "total"
	case DurationRecorded:
		return "duration"
	default:
		return fmt.Sprintf("unknown_%d", int(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "count":
		return CountChanged, nil
	case "total":
		return TotalChanged, nil
	case "duration":
		return DurationRecorded, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is one immutable telemetry signal emitted by the Machine.
type Event struct {
	Kind EventKind
	// Value is the count, the total, or the duration in whole seconds, depending on Kind.
	Value int
	// Duration is the exact episode length for DurationRecorded events.
	Duration  time.Duration
	FrameSeq  uint64
	Timestamp time.Time
}

// Topic returns the telemetry topic the event is published on.
func (e Event) Topic() string {
	if e.Kind == DurationRecorded {
		return TopicDuration
	}
	return TopicPerson
}

// Payload returns the JSON body published for the event.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(map[string]int{e.Kind.String(): e.Value})
}
