package classification

import (
	"context"
	"errors"
	"testing"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeMessages struct {
	byID map[int64]*domain.Message
}

func newFakeMessages(msgs ...*domain.Message) *fakeMessages {
	m := &fakeMessages{byID: make(map[int64]*domain.Message)}
	for _, msg := range msgs {
		m.byID[msg.ID] = msg
	}
	return m
}

func (f *fakeMessages) CreateIfAbsent(_ context.Context, msg *domain.Message) error {
	f.byID[msg.ID] = msg
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMessages) GetByExternalID(_ context.Context, _ string) (*domain.Message, error) {
	return nil, errors.New("not found")
}

func (f *fakeMessages) ExistsByExternalID(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeMessages) ExistsByFingerprint(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeMessages) UpdateStatus(_ context.Context, id int64, status domain.MessageStatus) error {
	if m, ok := f.byID[id]; ok {
		m.Status = status
	}
	return nil
}

func (f *fakeMessages) UpdateExtensions(_ context.Context, id int64, ext map[string]any) error {
	if m, ok := f.byID[id]; ok {
		m.Extensions = ext
	}
	return nil
}

func (f *fakeMessages) MarkFailed(_ context.Context, id int64, errMsg string) error {
	if m, ok := f.byID[id]; ok {
		m.Status = domain.MessageStatusFailed
		m.ErrorMsg = &errMsg
	}
	return nil
}

func (f *fakeMessages) ListByStatus(_ context.Context, _ domain.MessageStatus, _ int) ([]*domain.Message, error) {
	return nil, nil
}

type fakeFields struct {
	upserts []*domain.ExtractedFields
}

func (f *fakeFields) Upsert(_ context.Context, fields *domain.ExtractedFields) error {
	f.upserts = append(f.upserts, fields)
	return nil
}

func (f *fakeFields) GetByMessage(_ context.Context, _ int64) ([]*domain.ExtractedFields, error) {
	return f.upserts, nil
}

func (f *fakeFields) GetByType(_ context.Context, _ int64, _ string) (*domain.ExtractedFields, error) {
	return nil, errors.New("not found")
}

type fakeEvents struct {
	events []*domain.Event
}

func (f *fakeEvents) Append(_ context.Context, e *domain.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) MarkProcessed(_ context.Context, _ int64) error { return nil }

func (f *fakeEvents) ListRecent(_ context.Context, _ int) ([]*domain.Event, error) {
	return f.events, nil
}

func (f *fakeEvents) ListUnprocessed(_ context.Context, _ string, _ int) ([]*domain.Event, error) {
	return nil, nil
}

func (f *fakeEvents) CountByType(_ context.Context) (map[string]int, error) {
	return nil, nil
}

type fakeFallback struct {
	available     bool
	res           *out.FallbackResult
	err           error
	classifyCalls int
}

func (f *fakeFallback) Classify(_ context.Context, _ string) (*out.FallbackResult, error) {
	f.classifyCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeFallback) IsAvailable(_ context.Context) bool {
	return f.available
}

// ============================================================================
// Helpers
// ============================================================================

func newTestMessage(id int64, subject, body string) *domain.Message {
	return &domain.Message{
		ID:         id,
		ExternalID: "ext-1",
		Subject:    subject,
		BodyText:   body,
		Status:     domain.MessageStatusNew,
	}
}

func buildOrchestrator(msgs *fakeMessages, fb out.FallbackClassifier, threshold float64) (*Orchestrator, *fakeFields, *fakeEvents) {
	fields := &fakeFields{}
	events := &fakeEvents{}
	return NewOrchestrator(NewRuleClassifier(), fb, msgs, fields, events, threshold), fields, events
}

// Ambiguous German text that the rule table cannot score.
const vagueGermanBody = "Guten Tag, können Sie mir weiterhelfen bei meinem Anliegen"

// ============================================================================
// Tests
// ============================================================================

func TestOrchestratorFastPath(t *testing.T) {
	ctx := context.Background()
	msg := newTestMessage(1, "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen")
	store := newFakeMessages(msg)
	fb := &fakeFallback{available: true}
	o, _, _ := buildOrchestrator(store, fb, 0.5)

	outcome, err := o.ClassifyMessage(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Method != domain.MethodRule {
		t.Errorf("method = %s, want rule", outcome.Method)
	}
	if outcome.Category != domain.CategoryAppointmentRequest {
		t.Errorf("category = %s, want appointment_request", outcome.Category)
	}
	if outcome.Escalate {
		t.Error("fast path escalated a confident rule hit")
	}
	if fb.classifyCalls != 0 {
		t.Errorf("fallback called %d times on the fast path", fb.classifyCalls)
	}
	if msg.Extensions[domain.ExtKeyClassification] == nil {
		t.Error("classification not persisted into extensions")
	}
}

func TestOrchestratorForeignLanguageShortCircuit(t *testing.T) {
	ctx := context.Background()
	msg := newTestMessage(1, "Appointment", "Hello, I would like to make an appointment with the doctor. Thank you and best regards")
	store := newFakeMessages(msg)
	fb := &fakeFallback{available: true}
	o, _, _ := buildOrchestrator(store, fb, 0.9)

	outcome, err := o.ClassifyMessage(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Category != domain.CategoryUncategorized {
		t.Errorf("category = %s, want uncategorized", outcome.Category)
	}
	if outcome.Confidence != 1.0 {
		t.Errorf("confidence = %.2f, want 1.0", outcome.Confidence)
	}
	if !outcome.Flags.ForeignLanguage {
		t.Error("foreign_language flag not set")
	}
	if !outcome.Escalate {
		t.Error("foreign-language message not escalated")
	}
	if outcome.Method != domain.MethodRule {
		t.Errorf("method = %s, want rule", outcome.Method)
	}
	if fb.classifyCalls != 0 {
		t.Error("fallback called for a message already known to need escalation")
	}
}

func TestOrchestratorFallbackUnavailable(t *testing.T) {
	ctx := context.Background()
	msg := newTestMessage(1, "Anliegen", vagueGermanBody)
	store := newFakeMessages(msg)
	fb := &fakeFallback{available: false}
	o, _, _ := buildOrchestrator(store, fb, 0.9)

	outcome, err := o.ClassifyMessage(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Method != domain.MethodRule {
		t.Errorf("method = %s, want rule", outcome.Method)
	}
	if !outcome.Flags.Unclear {
		t.Error("unclear flag not forced on outage")
	}
	if !outcome.Escalate {
		t.Error("outage result not escalated")
	}
	if fb.classifyCalls != 0 {
		t.Error("classify attempted despite unavailability")
	}
}

func TestOrchestratorFallbackSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("confident result is accepted without escalation", func(t *testing.T) {
		msg := newTestMessage(1, "Anliegen", vagueGermanBody)
		store := newFakeMessages(msg)
		fb := &fakeFallback{
			available: true,
			res: &out.FallbackResult{
				Category:   domain.CategoryBillingQuestion,
				Confidence: 0.85,
				Extracted:  map[string]any{"invoice_number": "R-2024-117"},
			},
		}
		o, fields, _ := buildOrchestrator(store, fb, 0.9)

		outcome, err := o.ClassifyMessage(ctx, msg)
		if err != nil {
			t.Fatal(err)
		}
		if outcome.Method != domain.MethodFallback {
			t.Errorf("method = %s, want fallback", outcome.Method)
		}
		if outcome.Escalate {
			t.Error("confident flag-free result escalated")
		}
		if len(fields.upserts) != 1 {
			t.Fatalf("extracted fields upserted %d times, want 1", len(fields.upserts))
		}
		if fields.upserts[0].FieldType != domain.FieldTypeClassification {
			t.Errorf("field type = %s", fields.upserts[0].FieldType)
		}
	})

	t.Run("low confidence escalates", func(t *testing.T) {
		msg := newTestMessage(1, "Anliegen", vagueGermanBody)
		store := newFakeMessages(msg)
		fb := &fakeFallback{
			available: true,
			res: &out.FallbackResult{
				Category:   domain.CategoryGeneralQuestion,
				Confidence: 0.42,
			},
		}
		o, _, _ := buildOrchestrator(store, fb, 0.9)

		outcome, err := o.ClassifyMessage(ctx, msg)
		if err != nil {
			t.Fatal(err)
		}
		if !outcome.Escalate {
			t.Error("confidence 0.42 not escalated")
		}
		if outcome.Confidence != 0.42 {
			t.Errorf("confidence = %.2f, want 0.42", outcome.Confidence)
		}
	})

	t.Run("declared flags escalate", func(t *testing.T) {
		msg := newTestMessage(1, "Anliegen", vagueGermanBody)
		store := newFakeMessages(msg)
		fb := &fakeFallback{
			available: true,
			res: &out.FallbackResult{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.9,
				Flags:      domain.ClassificationFlags{MixedIntent: true},
			},
		}
		o, _, _ := buildOrchestrator(store, fb, 0.9)

		outcome, err := o.ClassifyMessage(ctx, msg)
		if err != nil {
			t.Fatal(err)
		}
		if !outcome.Escalate {
			t.Error("mixed-intent fallback result not escalated")
		}
	})
}

func TestOrchestratorFallbackError(t *testing.T) {
	ctx := context.Background()
	msg := newTestMessage(1, "Anliegen", vagueGermanBody)
	store := newFakeMessages(msg)
	fb := &fakeFallback{available: true, err: errors.New("timeout")}
	o, fields, _ := buildOrchestrator(store, fb, 0.9)

	outcome, err := o.ClassifyMessage(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Method != domain.MethodRule {
		t.Errorf("method = %s, want rule", outcome.Method)
	}
	if !outcome.Flags.Unclear || !outcome.Escalate {
		t.Errorf("fallback error not degraded safely: flags=%+v escalate=%v", outcome.Flags, outcome.Escalate)
	}
	if len(fields.upserts) != 0 {
		t.Error("extracted fields created for a failed classification")
	}
}

func TestOrchestratorClassifyBatch(t *testing.T) {
	ctx := context.Background()
	msgs := []*domain.Message{
		newTestMessage(1, "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"),
		newTestMessage(2, "Anliegen", vagueGermanBody),
	}
	store := newFakeMessages(msgs...)
	fb := &fakeFallback{available: true, err: errors.New("boom")}
	o, _, events := buildOrchestrator(store, fb, 0.5)

	results := o.ClassifyBatch(ctx, msgs)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.Outcome == nil {
			t.Errorf("result[%d] has no outcome", i)
		}
	}
	if results[0].Outcome.Method != domain.MethodRule || results[0].Outcome.Escalate {
		t.Error("fast-path message mishandled in batch")
	}
	if !results[1].Outcome.Escalate {
		t.Error("degraded message not escalated in batch")
	}

	classified := 0
	for _, e := range events.events {
		if e.Type == domain.EventTypeClassified {
			classified++
		}
	}
	if classified != 2 {
		t.Errorf("classified events = %d, want 2", classified)
	}
}
