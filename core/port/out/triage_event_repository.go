package out

import (
	"context"

	"triage_server/core/domain"
)

// EventRepository is the append-only audit log port.
type EventRepository interface {
	Append(ctx context.Context, event *domain.Event) error
	MarkProcessed(ctx context.Context, id int64) error
	ListRecent(ctx context.Context, limit int) ([]*domain.Event, error)
	ListUnprocessed(ctx context.Context, eventType string, limit int) ([]*domain.Event, error)
	CountByType(ctx context.Context) (map[string]int, error)
}
