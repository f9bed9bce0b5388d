package out

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// CalendarSlotRepository manages bookable time slots and tentative holds.
type CalendarSlotRepository interface {
	Upsert(ctx context.Context, slot *domain.CalendarSlot) error
	ListAvailable(ctx context.Context, calendarID string, from, to time.Time) ([]*domain.CalendarSlot, error)
	Hold(ctx context.Context, id int64, until time.Time) error

	// ReleaseExpiredHolds frees every slot whose hold expired before now
	// and returns how many were released.
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error)
}
