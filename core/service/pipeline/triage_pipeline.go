// Package pipeline runs the full triage sequence for inbound messages:
// idempotency gate, classification, guard policy, and reply drafting.
package pipeline

import (
	"context"
	"fmt"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/classification"
	"triage_server/core/service/guard"
	"triage_server/core/service/ingest"
	"triage_server/core/service/reply"
	"triage_server/pkg/logger"
)

// Result reports what happened to one inbound message.
type Result struct {
	MessageID int64                         `json:"message_id"`
	Duplicate bool                          `json:"duplicate"`
	Outcome   *domain.ClassificationOutcome `json:"outcome,omitempty"`
	Decision  *domain.GuardDecision         `json:"decision,omitempty"`
	DraftID   *int64                        `json:"draft_id,omitempty"`
}

// Service wires the triage stages together. Every stage persists its own
// state, so a failure mid-pipeline leaves an inspectable message rather than
// a lost one, and no draft is ever written on an error path.
type Service struct {
	gate       *ingest.Gate
	classifier *classification.Orchestrator
	guard      *guard.Service
	replies    *reply.Generator
	messages   out.MessageRepository
	log        *logger.Logger
}

// NewService wires the pipeline.
func NewService(
	gate *ingest.Gate,
	classifier *classification.Orchestrator,
	guardSvc *guard.Service,
	replies *reply.Generator,
	messages out.MessageRepository,
) *Service {
	return &Service{
		gate:       gate,
		classifier: classifier,
		guard:      guardSvc,
		replies:    replies,
		messages:   messages,
		log:        logger.WithField("component", "pipeline"),
	}
}

// Process runs one message through the whole pipeline. Duplicates stop at
// the gate. An auto decision produces exactly one draft; everything else
// leaves the message escalated without a reply.
func (s *Service) Process(ctx context.Context, msg *domain.Message) (*Result, error) {
	gateRes, err := s.gate.ProcessIfNew(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if gateRes.IsDuplicate {
		return &Result{MessageID: gateRes.MessageID, Duplicate: true}, nil
	}

	result := &Result{MessageID: msg.ID}

	outcome, err := s.classifier.ClassifyMessage(ctx, msg)
	if err != nil {
		return result, fmt.Errorf("classify message %d: %w", msg.ID, err)
	}
	result.Outcome = outcome

	decision, err := s.guard.Apply(ctx, msg, outcome)
	if err != nil {
		return result, fmt.Errorf("guard message %d: %w", msg.ID, err)
	}
	result.Decision = &decision

	if decision.Auto {
		replyRes, err := s.replies.Generate(ctx, msg.ID, decision)
		if err != nil {
			return result, fmt.Errorf("draft reply for message %d: %w", msg.ID, err)
		}
		result.DraftID = &replyRes.Draft.ID
	}

	if err := s.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusProcessed); err != nil {
		return result, fmt.Errorf("mark message %d processed: %w", msg.ID, err)
	}
	msg.Status = domain.MessageStatusProcessed

	s.log.Info("message %d triaged: category=%s auto=%t reason=%s",
		msg.ID, outcome.Category, decision.Auto, decision.Reason)
	return result, nil
}

// ProcessBatch runs a burst of messages sequentially, mirroring the
// classifier's batch semantics. Repeats within the batch are screened in
// memory before touching the store. One failing message never blocks the
// rest.
func (s *Service) ProcessBatch(ctx context.Context, msgs []*domain.Message) []*Result {
	screen := ingest.NewBatchScreen(len(msgs))
	results := make([]*Result, 0, len(msgs))
	for _, msg := range msgs {
		if screen.Duplicate(msg) {
			results = append(results, &Result{Duplicate: true})
			continue
		}

		res, err := s.Process(ctx, msg)
		if err != nil {
			s.log.WithError(err).Error("pipeline failed for %s", msg.ExternalID)
			if res == nil {
				res = &Result{}
			}
		}
		results = append(results, res)
	}
	return results
}
