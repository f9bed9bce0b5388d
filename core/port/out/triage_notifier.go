package out

import (
	"context"

	"triage_server/core/domain"
)

// EscalationNotice is the payload handed to the external notification
// collaborator when a message is escalated.
type EscalationNotice struct {
	MessageID  int64                `json:"message_id"`
	ExternalID string               `json:"external_id"`
	Subject    string               `json:"subject"`
	FromAddr   string               `json:"from_addr"`
	Category   domain.Category      `json:"category"`
	Decision   domain.GuardDecision `json:"decision"`
}

// EscalationNotifier dispatches escalation notices. Called by the guard
// service after the decision is made, never inside the pure evaluation.
type EscalationNotifier interface {
	Notify(ctx context.Context, notice *EscalationNotice) error
}
