package guard

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// Defaults used when a setting key is missing from the store.
const (
	DefaultAutoSendThreshold = 0.75
	DefaultComplexityCutoff  = 0.8
)

// Service applies the pure policy to real messages: it loads the settings
// snapshot, records every decision as an event, marks escalated messages,
// and dispatches the escalation notice through the notifier port.
type Service struct {
	settings out.SettingsRepository
	messages out.MessageRepository
	events   out.EventRepository
	notifier out.EscalationNotifier // nil disables notification dispatch
	log      *logger.Logger
}

// NewService wires the guard.
func NewService(settings out.SettingsRepository, messages out.MessageRepository, events out.EventRepository, notifier out.EscalationNotifier) *Service {
	return &Service{
		settings: settings,
		messages: messages,
		events:   events,
		notifier: notifier,
		log:      logger.WithField("component", "guard"),
	}
}

// LoadConfig reads the policy switches in one snapshot.
func (s *Service) LoadConfig(ctx context.Context) (Config, error) {
	enabled, err := s.settings.GetBool(ctx, domain.SettingAutoReplyEnabled, false)
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", domain.SettingAutoReplyEnabled, err)
	}
	manual, err := s.settings.GetBool(ctx, domain.SettingManualApprovalRequired, false)
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", domain.SettingManualApprovalRequired, err)
	}
	threshold, err := s.settings.GetFloat(ctx, domain.SettingAutoSendThreshold, DefaultAutoSendThreshold)
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", domain.SettingAutoSendThreshold, err)
	}
	cutoff, err := s.settings.GetFloat(ctx, domain.SettingComplexityCutoff, DefaultComplexityCutoff)
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", domain.SettingComplexityCutoff, err)
	}
	return Config{
		AutoReplyEnabled:       enabled,
		ManualApprovalRequired: manual,
		AutoSendThreshold:      threshold,
		ComplexityCutoff:       cutoff,
	}, nil
}

// Apply evaluates the policy for a classified message and executes the
// resulting side effects. The coarse lifecycle status is never changed
// here; escalation only sets the sub-state.
func (s *Service) Apply(ctx context.Context, msg *domain.Message, outcome *domain.ClassificationOutcome) (domain.GuardDecision, error) {
	cfg, err := s.LoadConfig(ctx)
	if err != nil {
		return domain.GuardDecision{}, err
	}

	decision := Evaluate(Input{
		Category:   outcome.Category,
		Flags:      outcome.Flags,
		Confidence: outcome.Confidence,
		Hints:      policyHints(msg),
		Config:     cfg,
	})
	if decision.Reason == domain.GuardReasonEvaluationError {
		s.log.Error("guard evaluation panicked for message %d, defaulting to escalation", msg.ID)
	}

	s.recordDecision(ctx, msg, decision)

	if !decision.Auto {
		if err := s.escalate(ctx, msg, outcome, decision); err != nil {
			return decision, err
		}
	}
	return decision, nil
}

// ApplyBatch evaluates many messages concurrently. Decisions are pure and
// only read their own inputs, so no ordering constraint applies.
func (s *Service) ApplyBatch(ctx context.Context, msgs []*domain.Message, outcomes []*domain.ClassificationOutcome) []domain.GuardDecision {
	decisions := make([]domain.GuardDecision, len(msgs))
	var wg sync.WaitGroup
	for i := range msgs {
		if outcomes[i] == nil {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := s.Apply(ctx, msgs[i], outcomes[i])
			if err != nil {
				s.log.WithError(err).Error("guard apply failed for message %d", msgs[i].ID)
			}
			decisions[i] = d
		}(i)
	}
	wg.Wait()
	return decisions
}

func (s *Service) escalate(ctx context.Context, msg *domain.Message, outcome *domain.ClassificationOutcome, decision domain.GuardDecision) error {
	msg.SetExtension(domain.ExtKeyPipelineState, domain.SubStateEscalated)
	if err := s.messages.UpdateExtensions(ctx, msg.ID, msg.Extensions); err != nil {
		return fmt.Errorf("mark message %d escalated: %w", msg.ID, err)
	}

	s.recordEvent(ctx, domain.EventTypeEscalated, map[string]any{
		"message_id": msg.ID,
		"reason":     decision.Reason,
	})

	if s.notifier != nil {
		err := s.notifier.Notify(ctx, &out.EscalationNotice{
			MessageID:  msg.ID,
			ExternalID: msg.ExternalID,
			Subject:    msg.Subject,
			FromAddr:   msg.FromAddr,
			Category:   outcome.Category,
			Decision:   decision,
		})
		if err != nil {
			// The message is already escalated in the store; a lost notice
			// is logged, not fatal.
			s.log.WithError(err).Warn("escalation notice failed for message %d", msg.ID)
		}
	}
	return nil
}

func (s *Service) recordDecision(ctx context.Context, msg *domain.Message, decision domain.GuardDecision) {
	s.recordEvent(ctx, domain.EventTypeGuardDecision, map[string]any{
		"message_id": msg.ID,
		"auto":       decision.Auto,
		"reason":     decision.Reason,
		"flags":      decision.Flags,
	})
}

func (s *Service) recordEvent(ctx context.Context, eventType string, data map[string]any) {
	err := s.events.Append(ctx, &domain.Event{
		Type:   eventType,
		Source: domain.EventSourceGuard,
		Data:   data,
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to record %s event", eventType)
	}
}

// policyHints decodes the hints extension, tolerating absence.
func policyHints(msg *domain.Message) domain.PolicyHints {
	var hints domain.PolicyHints
	raw, ok := msg.Extensions[domain.ExtKeyPolicyHints]
	if !ok {
		return hints
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return hints
	}
	_ = json.Unmarshal(data, &hints)
	return hints
}
