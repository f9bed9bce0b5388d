// Package domain holds the core entities of the triage pipeline.
package domain

import (
	"time"
)

// MessageStatus is the coarse lifecycle state of an inbound message.
type MessageStatus string

const (
	MessageStatusNew        MessageStatus = "new"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusProcessed  MessageStatus = "processed"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusIgnored    MessageStatus = "ignored"
)

// Extension keys documented as part of the data model contract.
// The extensions map is the only place the pipeline annotates a message;
// writers must stick to these keys.
const (
	ExtKeyClassification = "classification" // ClassificationOutcome snapshot
	ExtKeyTextHash       = "text_hash"      // content fingerprint (hex)
	ExtKeyPII            = "pii"            // PII annotations from extraction
	ExtKeyPipelineState  = "pipeline"       // sub-state: escalated, drafted
	ExtKeyPolicyHints    = "policy_hints"   // domain hints consumed by the guard
)

// Pipeline sub-states stored under ExtKeyPipelineState. They refine the
// coarse status without changing it.
const (
	SubStateEscalated = "escalated"
	SubStateDrafted   = "drafted"
)

// Message is one inbound item. Created on ingestion, mutated by the
// orchestrator and failure handlers, never physically deleted.
type Message struct {
	ID         int64          `json:"id"`
	ExternalID string         `json:"external_id"` // globally unique
	Account    string         `json:"account"`
	Folder     string         `json:"folder"`
	FromAddr   string         `json:"from_addr"`
	FromName   *string        `json:"from_name,omitempty"`
	ToAddr     string         `json:"to_addr"`
	Subject    string         `json:"subject"`
	BodyText   string         `json:"body_text"`
	BodyHTML   *string        `json:"body_html,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Extensions map[string]any `json:"extensions,omitempty"`
	Status     MessageStatus  `json:"status"`
	ErrorMsg   *string        `json:"error_message,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Fingerprint returns the stored content fingerprint, if any.
func (m *Message) Fingerprint() string {
	if m.Extensions == nil {
		return ""
	}
	if h, ok := m.Extensions[ExtKeyTextHash].(string); ok {
		return h
	}
	return ""
}

// SubState returns the pipeline sub-state, or "" when unset.
func (m *Message) SubState() string {
	if m.Extensions == nil {
		return ""
	}
	if s, ok := m.Extensions[ExtKeyPipelineState].(string); ok {
		return s
	}
	return ""
}

// SetExtension sets a single extension key, allocating the map if needed.
func (m *Message) SetExtension(key string, value any) {
	if m.Extensions == nil {
		m.Extensions = make(map[string]any)
	}
	m.Extensions[key] = value
}

// PolicyHints are domain-specific escalation hints attached to a message
// by upstream tooling (e.g. a PII scanner). Consumed by the guard.
type PolicyHints struct {
	RequiresDoctorReview bool    `json:"requires_doctor_review,omitempty"`
	RequiresPrivacyCheck bool    `json:"requires_privacy_check,omitempty"`
	Complexity           float64 `json:"complexity,omitempty"`
}

// DisplayName returns the sender display name, falling back to the address.
func (m *Message) DisplayName() string {
	if m.FromName != nil && *m.FromName != "" {
		return *m.FromName
	}
	return m.FromAddr
}
