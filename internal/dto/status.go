package dto

import "time"

// Status is the live view of a running counter.
type Status struct {
	StreamID        string         `json:"stream_id"`
	Input           string         `json:"input"`
	State           string         `json:"state"`
	StartedAt       time.Time      `json:"started_at"`
	Frames          uint64         `json:"frames"`
	LastLatencyMs   float64        `json:"last_latency_ms"`
	CurrentCount    int            `json:"current_count"`
	TotalCount      int            `json:"total_count"`
	Events          uint64         `json:"events"`
	PublishFailures uint64         `json:"publish_failures"`
	MQTT            MQTTStatus     `json:"mqtt"`
	Viewers         int            `json:"viewers"`
	Recorder        RecorderStatus `json:"recorder"`
}

type MQTTStatus struct {
	Enabled   bool              `json:"enabled"`
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published,omitempty"`
	Errors    uint64            `json:"errors"`
}

type RecorderStatus struct {
	Enabled bool   `json:"enabled"`
	Pending int    `json:"pending"`
	Stored  uint64 `json:"stored"`
	Failed  uint64 `json:"failed"`
}
