package out

import (
	"context"

	"triage_server/core/domain"
)

// DraftRepository defines the outbound port for reply drafts.
type DraftRepository interface {
	Create(ctx context.Context, draft *domain.Draft) error
	GetByID(ctx context.Context, id int64) (*domain.Draft, error)
	ListByMessage(ctx context.Context, messageID int64) ([]*domain.Draft, error)
	UpdateStatus(ctx context.Context, id int64, status domain.DraftStatus, errMsg *string) error
}
