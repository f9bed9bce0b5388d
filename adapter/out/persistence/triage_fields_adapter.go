package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"triage_server/core/domain"
)

// ExtractedFieldsAdapter implements out.ExtractedFieldsRepository.
type ExtractedFieldsAdapter struct {
	db *sqlx.DB
}

// NewExtractedFieldsAdapter creates a new ExtractedFieldsAdapter.
func NewExtractedFieldsAdapter(db *sqlx.DB) *ExtractedFieldsAdapter {
	return &ExtractedFieldsAdapter{db: db}
}

type extractedFieldsRow struct {
	ID         int64     `db:"id"`
	MessageID  int64     `db:"message_id"`
	FieldType  string    `db:"field_type"`
	Data       []byte    `db:"data"`
	Confidence float64   `db:"confidence"`
	Validated  bool      `db:"validated"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *extractedFieldsRow) toDomain() (*domain.ExtractedFields, error) {
	fields := &domain.ExtractedFields{
		ID:         r.ID,
		MessageID:  r.MessageID,
		FieldType:  r.FieldType,
		Confidence: r.Confidence,
		Validated:  r.Validated,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &fields.Data); err != nil {
			return nil, fmt.Errorf("decode extracted fields: %w", err)
		}
	}
	return fields, nil
}

// Upsert replaces a prior extraction of the same type for the same message.
func (a *ExtractedFieldsAdapter) Upsert(ctx context.Context, fields *domain.ExtractedFields) error {
	data, err := json.Marshal(fields.Data)
	if err != nil {
		return fmt.Errorf("encode extracted fields: %w", err)
	}

	const query = `
		INSERT INTO extracted_fields (message_id, field_type, data, confidence, validated, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (message_id, field_type) DO UPDATE SET
			data = EXCLUDED.data,
			confidence = EXCLUDED.confidence,
			validated = EXCLUDED.validated
		RETURNING id
	`

	return a.db.GetContext(ctx, &fields.ID, query,
		fields.MessageID,
		fields.FieldType,
		data,
		fields.Confidence,
		fields.Validated,
	)
}

// GetByMessage returns all field sets for a message.
func (a *ExtractedFieldsAdapter) GetByMessage(ctx context.Context, messageID int64) ([]*domain.ExtractedFields, error) {
	const query = `
		SELECT id, message_id, field_type, data, confidence, validated, created_at
		FROM extracted_fields
		WHERE message_id = $1
		ORDER BY field_type
	`

	var rows []extractedFieldsRow
	if err := a.db.SelectContext(ctx, &rows, query, messageID); err != nil {
		return nil, err
	}

	sets := make([]*domain.ExtractedFields, 0, len(rows))
	for i := range rows {
		set, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// GetByType returns one field set by its type.
func (a *ExtractedFieldsAdapter) GetByType(ctx context.Context, messageID int64, fieldType string) (*domain.ExtractedFields, error) {
	const query = `
		SELECT id, message_id, field_type, data, confidence, validated, created_at
		FROM extracted_fields
		WHERE message_id = $1 AND field_type = $2
	`

	var row extractedFieldsRow
	if err := a.db.GetContext(ctx, &row, query, messageID, fieldType); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}
