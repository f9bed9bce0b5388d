package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// MessageAdapter implements out.MessageRepository using PostgreSQL.
type MessageAdapter struct {
	db *sqlx.DB
}

// NewMessageAdapter creates a new MessageAdapter.
func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// messageRow represents the database row for a message.
type messageRow struct {
	ID         int64          `db:"id"`
	ExternalID string         `db:"external_id"`
	Account    string         `db:"account"`
	Folder     string         `db:"folder"`
	FromAddr   string         `db:"from_addr"`
	FromName   sql.NullString `db:"from_name"`
	ToAddr     string         `db:"to_addr"`
	Subject    string         `db:"subject"`
	BodyText   string         `db:"body_text"`
	BodyHTML   sql.NullString `db:"body_html"`
	ReceivedAt time.Time      `db:"received_at"`
	Metadata   []byte         `db:"metadata"`
	Status     string         `db:"status"`
	ErrorMsg   sql.NullString `db:"error_message"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r *messageRow) toDomain() (*domain.Message, error) {
	msg := &domain.Message{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		Account:    r.Account,
		Folder:     r.Folder,
		FromAddr:   r.FromAddr,
		ToAddr:     r.ToAddr,
		Subject:    r.Subject,
		BodyText:   r.BodyText,
		ReceivedAt: r.ReceivedAt,
		Status:     domain.MessageStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.FromName.Valid {
		msg.FromName = &r.FromName.String
	}
	if r.BodyHTML.Valid {
		msg.BodyHTML = &r.BodyHTML.String
	}
	if r.ErrorMsg.Valid {
		msg.ErrorMsg = &r.ErrorMsg.String
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &msg.Extensions); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return msg, nil
}

const messageColumns = `
	id, external_id, account, folder, from_addr, from_name, to_addr,
	subject, body_text, body_html, received_at, metadata, status,
	error_message, created_at, updated_at`

// CreateIfAbsent inserts the message unless the external id or the content
// fingerprint already exists. The existence check and the insert run in one
// statement, so concurrent ingestions of the same content cannot both pass.
func (a *MessageAdapter) CreateIfAbsent(ctx context.Context, msg *domain.Message) error {
	metadata, err := json.Marshal(msg.Extensions)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}

	const query = `
		INSERT INTO messages (
			external_id, account, folder, from_addr, from_name, to_addr,
			subject, body_text, body_html, received_at, metadata, status,
			created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM messages
			WHERE external_id = $1 OR metadata->>'text_hash' = $13
		)
		RETURNING id, created_at, updated_at
	`

	var row struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err = a.db.GetContext(ctx, &row, query,
		msg.ExternalID,
		msg.Account,
		msg.Folder,
		msg.FromAddr,
		nullString(ptrValue(msg.FromName)),
		msg.ToAddr,
		msg.Subject,
		msg.BodyText,
		nullString(ptrValue(msg.BodyHTML)),
		msg.ReceivedAt,
		metadata,
		string(msg.Status),
		msg.Fingerprint(),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return out.ErrDuplicate
		}
		// Concurrent inserts can both pass NOT EXISTS under READ COMMITTED.
		// The unique indexes on external_id and the fingerprint make the
		// loser fail with 23505, which is still just a duplicate.
		if isUniqueViolation(err) {
			return out.ErrDuplicate
		}
		return err
	}

	msg.ID = row.ID
	msg.CreatedAt = row.CreatedAt
	msg.UpdatedAt = row.UpdatedAt
	return nil
}

// GetByID retrieves a message by primary key.
func (a *MessageAdapter) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var row messageRow
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

// GetByExternalID retrieves a message by its external identifier.
func (a *MessageAdapter) GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE external_id = $1`

	var row messageRow
	if err := a.db.GetContext(ctx, &row, query, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

// ExistsByExternalID checks for a stored external id.
func (a *MessageAdapter) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM messages WHERE external_id = $1)`

	var exists bool
	if err := a.db.GetContext(ctx, &exists, query, externalID); err != nil {
		return false, err
	}
	return exists, nil
}

// ExistsByFingerprint checks for a stored content fingerprint.
func (a *MessageAdapter) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM messages WHERE metadata->>'text_hash' = $1)`

	var exists bool
	if err := a.db.GetContext(ctx, &exists, query, fingerprint); err != nil {
		return false, err
	}
	return exists, nil
}

// UpdateStatus sets the coarse lifecycle status.
func (a *MessageAdapter) UpdateStatus(ctx context.Context, id int64, status domain.MessageStatus) error {
	const query = `UPDATE messages SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateExtensions replaces the metadata document.
func (a *MessageAdapter) UpdateExtensions(ctx context.Context, id int64, extensions map[string]any) error {
	metadata, err := json.Marshal(extensions)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}

	const query = `UPDATE messages SET metadata = $2, updated_at = NOW() WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query, id, metadata)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// MarkFailed records a failure with the error text kept for operators.
func (a *MessageAdapter) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	const query = `
		UPDATE messages
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := a.db.ExecContext(ctx, query, id, string(domain.MessageStatusFailed), errMsg)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ListByStatus returns the oldest messages in the given status.
func (a *MessageAdapter) ListByStatus(ctx context.Context, status domain.MessageStatus, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = $1
		ORDER BY received_at ASC
		LIMIT $2
	`

	var rows []messageRow
	if err := a.db.SelectContext(ctx, &rows, query, string(status), limit); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// FailStuck marks messages that sat in a transient status past the cutoff as
// failed. A crash between ingestion and the status update leaves rows behind
// in new or processing; the watchdog sweeps them here.
func (a *MessageAdapter) FailStuck(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
		UPDATE messages
		SET status = $1, error_message = 'processing timed out', updated_at = NOW()
		WHERE status = ANY($2) AND updated_at < $3
	`

	stuck := []string{
		string(domain.MessageStatusNew),
		string(domain.MessageStatusProcessing),
	}
	result, err := a.db.ExecContext(ctx, query,
		string(domain.MessageStatusFailed), pq.Array(stuck), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// nullString converts an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// requireRow maps a zero-row update to ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
