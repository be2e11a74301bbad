package dto

import "time"

// Summary aggregates the recorded history of one stream.
type Summary struct {
	StreamID        string        `json:"stream_id"`
	Entries         int           `json:"entries"`
	Exits           int           `json:"exits"`
	TotalCount      int           `json:"total_count"`
	PeakCount       int           `json:"peak_count"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	LongestDuration time.Duration `json:"longest_duration_ns"`
	FirstEvent      time.Time     `json:"first_event,omitempty"`
	LastEvent       time.Time     `json:"last_event,omitempty"`
}
