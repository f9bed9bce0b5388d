package classification

import (
	"context"
	"fmt"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// =============================================================================
// Hybrid Orchestrator
// =============================================================================

// Orchestrator arbitrates between the rule fast path and the fallback
// classifier and persists every terminal outcome. A message never stays
// unresolved because the fallback service misbehaved: every fallback error
// degrades to the rule result with forced escalation.
type Orchestrator struct {
	rules    *RuleClassifier
	fallback out.FallbackClassifier
	messages out.MessageRepository
	fields   out.ExtractedFieldsRepository
	events   out.EventRepository

	// gateThreshold is the minimum rule score that skips the fallback path.
	gateThreshold float64

	log *logger.Logger
}

// NewOrchestrator wires the classification pipeline.
func NewOrchestrator(
	rules *RuleClassifier,
	fallback out.FallbackClassifier,
	messages out.MessageRepository,
	fields out.ExtractedFieldsRepository,
	events out.EventRepository,
	gateThreshold float64,
) *Orchestrator {
	return &Orchestrator{
		rules:         rules,
		fallback:      fallback,
		messages:      messages,
		fields:        fields,
		events:        events,
		gateThreshold: gateThreshold,
		log:           logger.WithField("component", "classification"),
	}
}

// ClassifyMessage runs the decision tree for one message and persists the
// outcome. The returned outcome is always non-nil when err is nil.
func (o *Orchestrator) ClassifyMessage(ctx context.Context, msg *domain.Message) (*domain.ClassificationOutcome, error) {
	if err := o.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusProcessing); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	msg.Status = domain.MessageStatusProcessing

	outcome := o.decide(ctx, msg)

	if err := o.persistOutcome(ctx, msg, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// decide implements the classification decision tree. It never returns nil
// and never returns an error: every failure mode folds into an escalating
// rule outcome.
func (o *Orchestrator) decide(ctx context.Context, msg *domain.Message) *domain.ClassificationOutcome {
	text := msg.Subject + "\n\n" + msg.BodyText

	ruleRes := o.rules.Classify(text)
	mixed := o.rules.DetectMixedIntent(text)

	// Fast path: a confident, single-topic rule hit is final. This must
	// dominate traffic in steady state.
	if ruleRes.Score >= o.gateThreshold && !mixed {
		return &domain.ClassificationOutcome{
			Category:   ruleRes.Category,
			Confidence: ruleRes.Score,
			Method:     domain.MethodRule,
			Evidence:   ruleRes.Evidence,
		}
	}

	// A message already known to need escalation on language grounds never
	// spends a fallback call.
	if o.rules.DetectForeignLanguage(text) {
		return &domain.ClassificationOutcome{
			Category:   domain.CategoryUncategorized,
			Confidence: 1.0,
			Method:     domain.MethodRule,
			Flags:      domain.ClassificationFlags{ForeignLanguage: true},
			Escalate:   true,
		}
	}

	if !o.fallback.IsAvailable(ctx) {
		o.log.Warn("fallback classifier unavailable, degrading message %d to rule result", msg.ID)
		return o.degradedRuleOutcome(ruleRes, mixed)
	}

	res, err := o.fallback.Classify(ctx, text)
	if err != nil {
		o.log.WithError(err).Warn("fallback classification failed for message %d", msg.ID)
		return o.degradedRuleOutcome(ruleRes, mixed)
	}

	flags := res.Flags
	escalate := flags.MixedIntent || flags.ForeignLanguage || flags.Unclear || res.Confidence < 0.5
	return &domain.ClassificationOutcome{
		Category:   res.Category,
		Confidence: domain.ClampConfidence(res.Confidence),
		Method:     domain.MethodFallback,
		Flags:      flags,
		Extracted:  res.Extracted,
		Escalate:   escalate,
	}
}

// degradedRuleOutcome is the fail-safe result used whenever the fallback
// path cannot deliver a valid classification.
func (o *Orchestrator) degradedRuleOutcome(ruleRes *RuleResult, mixed bool) *domain.ClassificationOutcome {
	return &domain.ClassificationOutcome{
		Category:   ruleRes.Category,
		Confidence: ruleRes.Score,
		Method:     domain.MethodRule,
		Flags:      domain.ClassificationFlags{MixedIntent: mixed, Unclear: true},
		Escalate:   true,
		Evidence:   ruleRes.Evidence,
	}
}

func (o *Orchestrator) persistOutcome(ctx context.Context, msg *domain.Message, outcome *domain.ClassificationOutcome) error {
	msg.SetExtension(domain.ExtKeyClassification, outcome)

	if err := o.messages.UpdateExtensions(ctx, msg.ID, msg.Extensions); err != nil {
		o.failMessage(ctx, msg, fmt.Sprintf("persist classification: %v", err))
		return fmt.Errorf("persist classification for message %d: %w", msg.ID, err)
	}

	if len(outcome.Extracted) > 0 {
		err := o.fields.Upsert(ctx, &domain.ExtractedFields{
			MessageID:  msg.ID,
			FieldType:  domain.FieldTypeClassification,
			Data:       outcome.Extracted,
			Confidence: outcome.Confidence,
		})
		if err != nil {
			o.failMessage(ctx, msg, fmt.Sprintf("persist extracted fields: %v", err))
			return fmt.Errorf("persist extracted fields for message %d: %w", msg.ID, err)
		}
	}

	err := o.events.Append(ctx, &domain.Event{
		Type:   domain.EventTypeClassified,
		Source: domain.EventSourcePipeline,
		Data: map[string]any{
			"message_id": msg.ID,
			"category":   outcome.Category,
			"confidence": outcome.Confidence,
			"method":     outcome.Method,
			"escalate":   outcome.Escalate,
		},
	})
	if err != nil {
		o.log.WithError(err).Warn("failed to record classification event")
	}
	return nil
}

// failMessage marks the message failed with the error retained for operator
// inspection. No retry happens inside this core.
func (o *Orchestrator) failMessage(ctx context.Context, msg *domain.Message, errMsg string) {
	if err := o.messages.MarkFailed(ctx, msg.ID, errMsg); err != nil {
		o.log.WithError(err).Error("failed to mark message %d failed", msg.ID)
	}
}

// BatchResult pairs one message with its classification outcome or error.
type BatchResult struct {
	MessageID int64
	Outcome   *domain.ClassificationOutcome
	Err       error
}

// ClassifyBatch processes messages one at a time, deliberately sequential to
// bound load on the fallback service and keep event order deterministic. One
// bad message never blocks the batch.
func (o *Orchestrator) ClassifyBatch(ctx context.Context, msgs []*domain.Message) []BatchResult {
	results := make([]BatchResult, 0, len(msgs))
	for _, msg := range msgs {
		outcome, err := o.ClassifyMessage(ctx, msg)
		results = append(results, BatchResult{MessageID: msg.ID, Outcome: outcome, Err: err})
	}
	return results
}
