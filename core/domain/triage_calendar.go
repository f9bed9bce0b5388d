package domain

import "time"

// CalendarSlot is a bookable time window. A tentative hold sets
// ReservedUntil; the watchdog releases holds whose expiry has passed.
// Unique per (calendar_id, start_time, end_time).
type CalendarSlot struct {
	ID            int64      `json:"id"`
	CalendarID    string     `json:"calendar_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	IsAvailable   bool       `json:"is_available"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HoldExpired reports whether a tentative hold has lapsed at the given time.
func (s *CalendarSlot) HoldExpired(now time.Time) bool {
	return s.ReservedUntil != nil && s.ReservedUntil.Before(now)
}
