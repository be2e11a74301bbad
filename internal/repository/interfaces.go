package repository

import (
	"peoplecounter/internal/dto"
	"peoplecounter/internal/model"
)

// EventRepository defines the interface for occupancy event operations.
type EventRepository interface {
	// Create operations
	Insert(event *model.OccupancyEvent) (int64, error)
	InsertBatch(events []model.OccupancyEvent) error

	// Read operations
	List(filter *dto.EventFilters) ([]model.OccupancyEvent, error)
	Summary(streamID string) (*dto.Summary, error)
	GetStreams() ([]string, error)

	// Delete operations
	DeleteAll() error
}
