package dto

import "time"

// EventFilters represents filtering options for occupancy event queries.
type EventFilters struct {
	StreamID string
	Kind     string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}
