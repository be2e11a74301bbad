package model

import "time"

// OccupancyEvent is a persisted telemetry event.
type OccupancyEvent struct {
	ID         int64     `json:"id"`
	StreamID   string    `json:"stream_id"`
	Kind       string    `json:"kind"`
	Value      int       `json:"value"`
	DurationMs int64     `json:"duration_ms"`
	FrameSeq   uint64    `json:"frame_seq"`
	RecordedAt time.Time `json:"recorded_at"`
}
