package domain

import "time"

// DraftStatus is the lifecycle of a generated reply candidate.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusScheduled DraftStatus = "scheduled"
	DraftStatusSent      DraftStatus = "sent"
	DraftStatusFailed    DraftStatus = "failed"
)

// Draft is a proposed outbound reply. Content is mutable only while the
// status is draft; scheduled/sent/failed transitions happen through explicit
// operator or delivery-confirmation actions outside this core.
type Draft struct {
	ID           int64       `json:"id"`
	MessageID    *int64      `json:"message_id,omitempty"` // nullable: standalone drafts exist
	ReplyTo      string      `json:"reply_to"`
	ToAddr       string      `json:"to_addr"`
	Subject      string      `json:"subject"`
	BodyText     string      `json:"body_text"`
	BodyHTML     *string     `json:"body_html,omitempty"`
	Template     string      `json:"template"`
	Status       DraftStatus `json:"status"`
	ScheduledFor *time.Time  `json:"scheduled_for,omitempty"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	ErrorMsg     *string     `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Editable reports whether the draft content may still be changed.
func (d *Draft) Editable() bool {
	return d.Status == DraftStatusDraft
}
