package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"triage_server/core/domain"
)

// DraftAdapter implements out.DraftRepository.
type DraftAdapter struct {
	db *sqlx.DB
}

// NewDraftAdapter creates a new DraftAdapter.
func NewDraftAdapter(db *sqlx.DB) *DraftAdapter {
	return &DraftAdapter{db: db}
}

type draftRow struct {
	ID           int64          `db:"id"`
	MessageID    sql.NullInt64  `db:"message_id"`
	ReplyTo      string         `db:"reply_to"`
	ToAddr       string         `db:"to_addr"`
	Subject      string         `db:"subject"`
	BodyText     string         `db:"body_text"`
	BodyHTML     sql.NullString `db:"body_html"`
	Template     string         `db:"template"`
	Status       string         `db:"status"`
	ScheduledFor sql.NullTime   `db:"scheduled_for"`
	SentAt       sql.NullTime   `db:"sent_at"`
	ErrorMsg     sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r *draftRow) toDomain() *domain.Draft {
	draft := &domain.Draft{
		ID:        r.ID,
		ReplyTo:   r.ReplyTo,
		ToAddr:    r.ToAddr,
		Subject:   r.Subject,
		BodyText:  r.BodyText,
		Template:  r.Template,
		Status:    domain.DraftStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.MessageID.Valid {
		draft.MessageID = &r.MessageID.Int64
	}
	if r.BodyHTML.Valid {
		draft.BodyHTML = &r.BodyHTML.String
	}
	if r.ScheduledFor.Valid {
		draft.ScheduledFor = &r.ScheduledFor.Time
	}
	if r.SentAt.Valid {
		draft.SentAt = &r.SentAt.Time
	}
	if r.ErrorMsg.Valid {
		draft.ErrorMsg = &r.ErrorMsg.String
	}
	return draft
}

const draftColumns = `
	id, message_id, reply_to, to_addr, subject, body_text, body_html,
	template, status, scheduled_for, sent_at, error_message, created_at, updated_at`

// Create inserts a new draft.
func (a *DraftAdapter) Create(ctx context.Context, draft *domain.Draft) error {
	const query = `
		INSERT INTO drafts (
			message_id, reply_to, to_addr, subject, body_text, body_html,
			template, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	var messageID sql.NullInt64
	if draft.MessageID != nil {
		messageID = sql.NullInt64{Int64: *draft.MessageID, Valid: true}
	}

	row := a.db.QueryRowxContext(ctx, query,
		messageID,
		draft.ReplyTo,
		draft.ToAddr,
		draft.Subject,
		draft.BodyText,
		nullString(ptrValue(draft.BodyHTML)),
		draft.Template,
		string(draft.Status),
	)
	return row.Scan(&draft.ID, &draft.CreatedAt, &draft.UpdatedAt)
}

// GetByID retrieves one draft.
func (a *DraftAdapter) GetByID(ctx context.Context, id int64) (*domain.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE id = $1`

	var row draftRow
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListByMessage returns the drafts linked to a message, newest first.
func (a *DraftAdapter) ListByMessage(ctx context.Context, messageID int64) ([]*domain.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE message_id = $1 ORDER BY created_at DESC`

	var rows []draftRow
	if err := a.db.SelectContext(ctx, &rows, query, messageID); err != nil {
		return nil, err
	}

	drafts := make([]*domain.Draft, len(rows))
	for i := range rows {
		drafts[i] = rows[i].toDomain()
	}
	return drafts, nil
}

// UpdateStatus moves a draft through its lifecycle. The sent timestamp is
// stamped on the transition to sent.
func (a *DraftAdapter) UpdateStatus(ctx context.Context, id int64, status domain.DraftStatus, errMsg *string) error {
	const query = `
		UPDATE drafts
		SET status = $2,
		    error_message = $3,
		    sent_at = CASE WHEN $2 = 'sent' THEN NOW() ELSE sent_at END,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := a.db.ExecContext(ctx, query, id, string(status), nullString(ptrValue(errMsg)))
	if err != nil {
		return err
	}
	return requireRow(result)
}
