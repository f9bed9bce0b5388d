package pipeline

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/classification"
	"triage_server/core/service/guard"
	"triage_server/core/service/ingest"
	"triage_server/core/service/reply"
)

// ============================================================================
// Fakes
// ============================================================================

type memMessages struct {
	nextID      int64
	createCalls int
	byID        map[int64]*domain.Message
	byExternal  map[string]*domain.Message
	byFP        map[string]int64
}

func newMemMessages() *memMessages {
	return &memMessages{
		byID:       make(map[int64]*domain.Message),
		byExternal: make(map[string]*domain.Message),
		byFP:       make(map[string]int64),
	}
}

func (m *memMessages) CreateIfAbsent(_ context.Context, msg *domain.Message) error {
	m.createCalls++
	if _, ok := m.byExternal[msg.ExternalID]; ok {
		return out.ErrDuplicate
	}
	fp, _ := msg.Extensions[domain.ExtKeyTextHash].(string)
	if _, ok := m.byFP[fp]; ok {
		return out.ErrDuplicate
	}
	m.nextID++
	msg.ID = m.nextID
	m.byID[msg.ID] = msg
	m.byExternal[msg.ExternalID] = msg
	m.byFP[fp] = msg.ID
	return nil
}

func (m *memMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	msg, ok := m.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return msg, nil
}

func (m *memMessages) GetByExternalID(_ context.Context, externalID string) (*domain.Message, error) {
	msg, ok := m.byExternal[externalID]
	if !ok {
		return nil, errors.New("not found")
	}
	return msg, nil
}

func (m *memMessages) ExistsByExternalID(_ context.Context, externalID string) (bool, error) {
	_, ok := m.byExternal[externalID]
	return ok, nil
}

func (m *memMessages) ExistsByFingerprint(_ context.Context, fp string) (bool, error) {
	_, ok := m.byFP[fp]
	return ok, nil
}

func (m *memMessages) UpdateStatus(_ context.Context, id int64, status domain.MessageStatus) error {
	if msg, ok := m.byID[id]; ok {
		msg.Status = status
	}
	return nil
}

func (m *memMessages) UpdateExtensions(_ context.Context, id int64, ext map[string]any) error {
	if msg, ok := m.byID[id]; ok {
		msg.Extensions = ext
	}
	return nil
}

func (m *memMessages) MarkFailed(_ context.Context, id int64, errMsg string) error {
	if msg, ok := m.byID[id]; ok {
		msg.Status = domain.MessageStatusFailed
		msg.ErrorMsg = &errMsg
	}
	return nil
}

func (m *memMessages) ListByStatus(_ context.Context, _ domain.MessageStatus, _ int) ([]*domain.Message, error) {
	return nil, nil
}

type memSettings struct {
	values map[string]string
}

func (s *memSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := s.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s *memSettings) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return fallback, nil
	}
	return strconv.ParseBool(raw)
}

func (s *memSettings) GetFloat(ctx context.Context, key string, fallback float64) (float64, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func (s *memSettings) GetJSON(_ context.Context, _ string, _ any) error {
	return errors.New("not found")
}

func (s *memSettings) Set(_ context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

func (s *memSettings) SetMany(_ context.Context, values map[string]string) error {
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func (s *memSettings) GetAll(_ context.Context) ([]*domain.Setting, error) { return nil, nil }

type memDrafts struct {
	drafts []*domain.Draft
}

func (d *memDrafts) Create(_ context.Context, draft *domain.Draft) error {
	draft.ID = int64(len(d.drafts) + 1)
	d.drafts = append(d.drafts, draft)
	return nil
}

func (d *memDrafts) GetByID(_ context.Context, _ int64) (*domain.Draft, error) {
	return nil, errors.New("not found")
}

func (d *memDrafts) ListByMessage(_ context.Context, _ int64) ([]*domain.Draft, error) {
	return d.drafts, nil
}

func (d *memDrafts) UpdateStatus(_ context.Context, _ int64, _ domain.DraftStatus, _ *string) error {
	return nil
}

type memFields struct{}

func (memFields) Upsert(_ context.Context, _ *domain.ExtractedFields) error { return nil }
func (memFields) GetByMessage(_ context.Context, _ int64) ([]*domain.ExtractedFields, error) {
	return nil, nil
}
func (memFields) GetByType(_ context.Context, _ int64, _ string) (*domain.ExtractedFields, error) {
	return nil, errors.New("not found")
}

type memEvents struct {
	events []*domain.Event
}

func (e *memEvents) Append(_ context.Context, event *domain.Event) error {
	e.events = append(e.events, event)
	return nil
}

func (e *memEvents) MarkProcessed(_ context.Context, _ int64) error { return nil }
func (e *memEvents) ListRecent(_ context.Context, _ int) ([]*domain.Event, error) {
	return e.events, nil
}
func (e *memEvents) ListUnprocessed(_ context.Context, _ string, _ int) ([]*domain.Event, error) {
	return nil, nil
}
func (e *memEvents) CountByType(_ context.Context) (map[string]int, error) { return nil, nil }

func (e *memEvents) countOf(eventType string) int {
	n := 0
	for _, ev := range e.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type memFallback struct {
	calls int
}

func (f *memFallback) Classify(_ context.Context, _ string) (*out.FallbackResult, error) {
	f.calls++
	return nil, errors.New("should not be called")
}

func (f *memFallback) IsAvailable(_ context.Context) bool { return false }

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	pipeline *Service
	messages *memMessages
	drafts   *memDrafts
	events   *memEvents
	fallback *memFallback
}

func newHarness(settings map[string]string) *harness {
	messages := newMemMessages()
	drafts := &memDrafts{}
	events := &memEvents{}
	fallback := &memFallback{}
	store := &memSettings{values: settings}

	gate := ingest.NewGate(messages, events, nil)
	orchestrator := classification.NewOrchestrator(
		classification.NewRuleClassifier(), fallback, messages, memFields{}, events, 0.5)
	guardSvc := guard.NewService(store, messages, events, nil)
	generator := reply.NewGenerator(messages, drafts, memFields{}, store, events, reply.NewRegistry())

	return &harness{
		pipeline: NewService(gate, orchestrator, guardSvc, generator, messages),
		messages: messages,
		drafts:   drafts,
		events:   events,
		fallback: fallback,
	}
}

func autoReplySettings() map[string]string {
	return map[string]string{
		domain.SettingAutoReplyEnabled:  "true",
		domain.SettingAutoSendThreshold: "0.5",
		domain.SettingOfficeName:        "Praxis Dr. Sommer",
	}
}

func inbound(externalID, subject, body string) *domain.Message {
	name := "Anna Schmidt"
	return &domain.Message{
		ExternalID: externalID,
		Account:    "empfang@praxis-sommer.de",
		FromAddr:   "anna.schmidt@example.com",
		FromName:   &name,
		ToAddr:     "empfang@praxis-sommer.de",
		Subject:    subject,
		BodyText:   body,
		Status:     domain.MessageStatusNew,
	}
}

// ============================================================================
// Tests
// ============================================================================

func TestPipelineConfidentMessageGetsDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(autoReplySettings())
	msg := inbound("msg-1", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen")

	res, err := h.pipeline.Process(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Fatal("novel message flagged duplicate")
	}
	if res.Outcome.Category != domain.CategoryAppointmentRequest {
		t.Errorf("category = %s, want appointment_request", res.Outcome.Category)
	}
	if !res.Decision.Auto {
		t.Fatalf("decision = %+v, want auto", res.Decision)
	}
	if res.DraftID == nil {
		t.Fatal("no draft created on the auto path")
	}
	if len(h.drafts.drafts) != 1 {
		t.Fatalf("drafts created = %d, want 1", len(h.drafts.drafts))
	}
	if msg.Status != domain.MessageStatusProcessed {
		t.Errorf("status = %s, want processed", msg.Status)
	}
	if msg.SubState() != domain.SubStateDrafted {
		t.Errorf("sub-state = %s, want drafted", msg.SubState())
	}
	if h.fallback.calls != 0 {
		t.Error("fallback called on the rule fast path")
	}
}

func TestPipelineDuplicateStopsAtGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(autoReplySettings())

	first, err := h.pipeline.Process(ctx, inbound("msg-1", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.pipeline.Process(ctx, inbound("msg-1", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"))
	if err != nil {
		t.Fatal(err)
	}

	if !second.Duplicate {
		t.Fatal("redelivery not flagged as duplicate")
	}
	if second.MessageID != first.MessageID {
		t.Errorf("duplicate resolved to message %d, want %d", second.MessageID, first.MessageID)
	}
	if len(h.messages.byID) != 1 {
		t.Errorf("messages stored = %d, want 1", len(h.messages.byID))
	}
	if len(h.drafts.drafts) != 1 {
		t.Errorf("drafts created = %d, want 1", len(h.drafts.drafts))
	}
	if got := h.events.countOf(domain.EventTypeClassified); got != 1 {
		t.Errorf("classified events = %d, want 1", got)
	}
}

func TestPipelineForeignMessageEscalatesWithoutDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(autoReplySettings())
	msg := inbound("msg-2", "Appointment", "Hello, I would like to make an appointment with the doctor. Thank you and best regards")

	res, err := h.pipeline.Process(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Auto {
		t.Fatal("foreign-language message auto-replied")
	}
	if res.Decision.Reason != domain.GuardReasonLanguage {
		t.Errorf("reason = %s, want language", res.Decision.Reason)
	}
	if res.DraftID != nil || len(h.drafts.drafts) != 0 {
		t.Error("draft created on an escalation path")
	}
	if msg.SubState() != domain.SubStateEscalated {
		t.Errorf("sub-state = %s, want escalated", msg.SubState())
	}
	if msg.Status != domain.MessageStatusProcessed {
		t.Errorf("status = %s, want processed", msg.Status)
	}
	if h.fallback.calls != 0 {
		t.Error("fallback called for a foreign-language message")
	}
	if got := h.events.countOf(domain.EventTypeEscalated); got != 1 {
		t.Errorf("escalated events = %d, want 1", got)
	}
}

func TestPipelineDisabledAutoReplySkipsDraft(t *testing.T) {
	ctx := context.Background()
	settings := autoReplySettings()
	settings[domain.SettingAutoReplyEnabled] = "false"
	h := newHarness(settings)

	res, err := h.pipeline.Process(ctx, inbound("msg-3", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Auto {
		t.Fatal("auto decision while auto-reply disabled")
	}
	if res.Decision.Reason != domain.GuardReasonAutoSendDisabled {
		t.Errorf("reason = %s, want auto_send_disabled", res.Decision.Reason)
	}
	if len(h.drafts.drafts) != 0 {
		t.Error("draft created while auto-reply disabled")
	}
}

func TestPipelineBatchContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(autoReplySettings())

	results := h.pipeline.ProcessBatch(ctx, []*domain.Message{
		inbound("msg-1", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"),
		inbound("msg-1", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"),
		inbound("msg-2", "Rechnung", "Ich habe eine Frage zu meiner Rechnung und der Abrechnung der letzten Behandlung"),
	})

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if !results[1].Duplicate {
		t.Error("intra-batch duplicate not caught")
	}
	if len(h.messages.byID) != 2 {
		t.Errorf("messages stored = %d, want 2", len(h.messages.byID))
	}
}

func TestPipelineBatchScreensRepeatsBeforeStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(autoReplySettings())

	// Same content under two external ids, as a retrying upstream produces.
	results := h.pipeline.ProcessBatch(ctx, []*domain.Message{
		inbound("msg-1", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"),
		inbound("msg-1b", "Terminanfrage", "Ich möchte einen Termin vereinbaren und gerne vorbeikommen"),
	})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[1].Duplicate {
		t.Fatal("same-content repeat not flagged as duplicate")
	}
	if h.messages.createCalls != 1 {
		t.Errorf("store inserts = %d, want 1 (repeat must be screened in memory)", h.messages.createCalls)
	}
	if len(h.messages.byID) != 1 {
		t.Errorf("messages stored = %d, want 1", len(h.messages.byID))
	}
}
