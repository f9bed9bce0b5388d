package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"triage_server/core/domain"
)

// CalendarSlotAdapter implements out.CalendarSlotRepository.
type CalendarSlotAdapter struct {
	db *sqlx.DB
}

// NewCalendarSlotAdapter creates a new CalendarSlotAdapter.
func NewCalendarSlotAdapter(db *sqlx.DB) *CalendarSlotAdapter {
	return &CalendarSlotAdapter{db: db}
}

type calendarSlotRow struct {
	ID            int64        `db:"id"`
	CalendarID    string       `db:"calendar_id"`
	StartTime     time.Time    `db:"start_time"`
	EndTime       time.Time    `db:"end_time"`
	IsAvailable   bool         `db:"is_available"`
	ReservedUntil sql.NullTime `db:"reserved_until"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r *calendarSlotRow) toDomain() *domain.CalendarSlot {
	slot := &domain.CalendarSlot{
		ID:          r.ID,
		CalendarID:  r.CalendarID,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		IsAvailable: r.IsAvailable,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ReservedUntil.Valid {
		slot.ReservedUntil = &r.ReservedUntil.Time
	}
	return slot
}

// Upsert creates or refreshes a slot, unique per (calendar, start, end).
func (a *CalendarSlotAdapter) Upsert(ctx context.Context, slot *domain.CalendarSlot) error {
	const query = `
		INSERT INTO calendar_slots (calendar_id, start_time, end_time, is_available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (calendar_id, start_time, end_time) DO UPDATE SET
			is_available = EXCLUDED.is_available,
			updated_at = NOW()
		RETURNING id
	`

	return a.db.GetContext(ctx, &slot.ID, query,
		slot.CalendarID, slot.StartTime, slot.EndTime, slot.IsAvailable)
}

// ListAvailable returns free, unreserved slots inside the window.
func (a *CalendarSlotAdapter) ListAvailable(ctx context.Context, calendarID string, from, to time.Time) ([]*domain.CalendarSlot, error) {
	const query = `
		SELECT id, calendar_id, start_time, end_time, is_available, reserved_until, created_at, updated_at
		FROM calendar_slots
		WHERE calendar_id = $1
		  AND start_time >= $2
		  AND end_time <= $3
		  AND is_available = TRUE
		  AND (reserved_until IS NULL OR reserved_until < NOW())
		ORDER BY start_time ASC
	`

	var rows []calendarSlotRow
	if err := a.db.SelectContext(ctx, &rows, query, calendarID, from, to); err != nil {
		return nil, err
	}

	slots := make([]*domain.CalendarSlot, len(rows))
	for i := range rows {
		slots[i] = rows[i].toDomain()
	}
	return slots, nil
}

// Hold places a tentative reservation on a slot.
func (a *CalendarSlotAdapter) Hold(ctx context.Context, id int64, until time.Time) error {
	const query = `
		UPDATE calendar_slots
		SET reserved_until = $2, is_available = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	result, err := a.db.ExecContext(ctx, query, id, until)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ReleaseExpiredHolds frees every slot whose hold lapsed before now.
func (a *CalendarSlotAdapter) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	const query = `
		UPDATE calendar_slots
		SET is_available = TRUE, reserved_until = NULL, updated_at = NOW()
		WHERE reserved_until IS NOT NULL AND reserved_until < $1
	`

	result, err := a.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	released, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(released), nil
}
