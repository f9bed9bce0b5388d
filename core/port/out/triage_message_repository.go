// Package out defines outbound ports (driven ports) for the application.
// These interfaces represent dependencies that the application needs.
package out

import (
	"context"
	"errors"

	"triage_server/core/domain"
)

// ErrDuplicate is returned by CreateIfAbsent when the external id or the
// content fingerprint already exists.
var ErrDuplicate = errors.New("duplicate message")

// MessageRepository defines the outbound port for inbound-message persistence.
type MessageRepository interface {
	// CreateIfAbsent inserts the message unless its external id or content
	// fingerprint already exists. The fingerprint must be set in the message
	// extensions before the call; check and insert happen atomically in one
	// statement. Returns ErrDuplicate on conflict.
	CreateIfAbsent(ctx context.Context, msg *domain.Message) error

	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error)

	// ExistsByExternalID and ExistsByFingerprint back the read-only
	// duplicate probe.
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)

	UpdateStatus(ctx context.Context, id int64, status domain.MessageStatus) error
	UpdateExtensions(ctx context.Context, id int64, extensions map[string]any) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	ListByStatus(ctx context.Context, status domain.MessageStatus, limit int) ([]*domain.Message, error)
}

// ExtractedFieldsRepository stores typed field sets pulled from messages.
// One row per (message_id, field_type); Upsert replaces a prior extraction
// of the same type.
type ExtractedFieldsRepository interface {
	Upsert(ctx context.Context, fields *domain.ExtractedFields) error
	GetByMessage(ctx context.Context, messageID int64) ([]*domain.ExtractedFields, error)
	GetByType(ctx context.Context, messageID int64, fieldType string) (*domain.ExtractedFields, error)
}
