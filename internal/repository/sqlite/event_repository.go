package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"peoplecounter/internal/dto"
	"peoplecounter/internal/model"
)

const insertEvent = `
	INSERT INTO occupancy_events (stream_id, kind, value, duration_ms, frame_seq, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?)
`

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new SQLite occupancy event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert adds a new event record to the database.
func (r *EventRepository) Insert(event *model.OccupancyEvent) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(insertEvent,
		event.StreamID, event.Kind, event.Value, event.DurationMs, int64(event.FrameSeq), event.RecordedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	return result.LastInsertId()
}

// InsertBatch adds multiple events in a single transaction.
func (r *EventRepository) InsertBatch(events []model.OccupancyEvent) error {
	if len(events) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(e.StreamID, e.Kind, e.Value, e.DurationMs, int64(e.FrameSeq), e.RecordedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// List retrieves events matching the filter, oldest first.
func (r *EventRepository) List(filter *dto.EventFilters) ([]model.OccupancyEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if filter == nil {
		filter = &dto.EventFilters{}
	}

	query := `
		SELECT id, stream_id, kind, value, duration_ms, frame_seq, recorded_at
		FROM occupancy_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.StreamID != "" {
		query += " AND stream_id = ?"
		args = append(args, filter.StreamID)
	}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	if !filter.Since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	if !filter.Until.IsZero() {
		query += " AND recorded_at <= ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY recorded_at ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]model.OccupancyEvent, 0)
	for rows.Next() {
		var e model.OccupancyEvent
		var seq int64
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Kind, &e.Value, &e.DurationMs, &seq, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.FrameSeq = uint64(seq)
		events = append(events, e)
	}

	return events, rows.Err()
}

// Summary aggregates the history of streamID, or of all streams when empty.
func (r *EventRepository) Summary(streamID string) (*dto.Summary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	summary := &dto.Summary{StreamID: streamID}

	var avgMs float64
	var longestMs int64
	err := r.db.Conn().QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'total' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'duration' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(CASE WHEN kind = 'total' THEN value END), 0),
			COALESCE(MAX(CASE WHEN kind = 'count' THEN value END), 0),
			COALESCE(AVG(CASE WHEN kind = 'duration' THEN duration_ms END), 0),
			COALESCE(MAX(CASE WHEN kind = 'duration' THEN duration_ms END), 0)
		FROM occupancy_events
		WHERE (? = '' OR stream_id = ?)
	`, streamID, streamID).Scan(
		&summary.Entries, &summary.Exits, &summary.TotalCount, &summary.PeakCount, &avgMs, &longestMs)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize events: %w", err)
	}

	summary.AverageDuration = time.Duration(avgMs * float64(time.Millisecond))
	summary.LongestDuration = time.Duration(longestMs) * time.Millisecond

	if summary.FirstEvent, err = r.boundary(streamID, "ASC"); err != nil {
		return nil, err
	}
	if summary.LastEvent, err = r.boundary(streamID, "DESC"); err != nil {
		return nil, err
	}

	return summary, nil
}

func (r *EventRepository) boundary(streamID, order string) (time.Time, error) {
	var ts time.Time
	err := r.db.Conn().QueryRow(`
		SELECT recorded_at FROM occupancy_events
		WHERE (? = '' OR stream_id = ?)
		ORDER BY recorded_at `+order+`, id `+order+` LIMIT 1
	`, streamID, streamID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get event boundary: %w", err)
	}
	return ts, nil
}

// GetStreams returns the distinct stream ids that have recorded events.
func (r *EventRepository) GetStreams() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT stream_id FROM occupancy_events ORDER BY stream_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var stream string
		if err := rows.Scan(&stream); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// DeleteAll removes all events.
func (r *EventRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM occupancy_events`); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}
