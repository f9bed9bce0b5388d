package persistence

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"triage_server/core/domain"
)

// EventAdapter implements out.EventRepository. Events are append-only; only
// the processed flag is ever updated.
type EventAdapter struct {
	db *sqlx.DB
}

// NewEventAdapter creates a new EventAdapter.
func NewEventAdapter(db *sqlx.DB) *EventAdapter {
	return &EventAdapter{db: db}
}

type eventRow struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Source    string    `db:"source"`
	Data      []byte    `db:"data"`
	Processed bool      `db:"processed"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *eventRow) toDomain() (*domain.Event, error) {
	event := &domain.Event{
		ID:        r.ID,
		Type:      r.Type,
		Source:    r.Source,
		Processed: r.Processed,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &event.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}
	return event, nil
}

// Append writes one audit record.
func (a *EventAdapter) Append(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}

	const query = `
		INSERT INTO events (type, source, data, processed, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		RETURNING id, created_at
	`

	return a.db.QueryRowxContext(ctx, query, event.Type, event.Source, data).
		Scan(&event.ID, &event.CreatedAt)
}

// MarkProcessed flips the processed flag.
func (a *EventAdapter) MarkProcessed(ctx context.Context, id int64) error {
	const query = `UPDATE events SET processed = TRUE WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ListRecent returns the newest events.
func (a *EventAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.Event, error) {
	const query = `
		SELECT id, type, source, data, processed, created_at
		FROM events
		ORDER BY created_at DESC
		LIMIT $1
	`
	return a.selectEvents(ctx, query, limit)
}

// ListUnprocessed returns the oldest unprocessed events of one type.
func (a *EventAdapter) ListUnprocessed(ctx context.Context, eventType string, limit int) ([]*domain.Event, error) {
	const query = `
		SELECT id, type, source, data, processed, created_at
		FROM events
		WHERE type = $1 AND processed = FALSE
		ORDER BY created_at ASC
		LIMIT $2
	`
	return a.selectEvents(ctx, query, eventType, limit)
}

// CountByType aggregates event counts for statistics.
func (a *EventAdapter) CountByType(ctx context.Context) (map[string]int, error) {
	const query = `SELECT type, COUNT(*) AS count FROM events GROUP BY type`

	var rows []struct {
		Type  string `db:"type"`
		Count int    `db:"count"`
	}
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Count
	}
	return counts, nil
}

func (a *EventAdapter) selectEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	var rows []eventRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	events := make([]*domain.Event, 0, len(rows))
	for i := range rows {
		event, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
