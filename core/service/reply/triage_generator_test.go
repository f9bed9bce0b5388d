package reply

import (
	"context"
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/pkg/apperr"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeMessages struct {
	byID map[int64]*domain.Message
}

func (f *fakeMessages) CreateIfAbsent(_ context.Context, _ *domain.Message) error { return nil }

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return m, nil
}

func (f *fakeMessages) GetByExternalID(_ context.Context, _ string) (*domain.Message, error) {
	return nil, errors.New("no rows")
}

func (f *fakeMessages) ExistsByExternalID(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeMessages) ExistsByFingerprint(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeMessages) UpdateStatus(_ context.Context, _ int64, _ domain.MessageStatus) error {
	return nil
}

func (f *fakeMessages) UpdateExtensions(_ context.Context, id int64, ext map[string]any) error {
	if m, ok := f.byID[id]; ok {
		m.Extensions = ext
	}
	return nil
}

func (f *fakeMessages) MarkFailed(_ context.Context, _ int64, _ string) error { return nil }

func (f *fakeMessages) ListByStatus(_ context.Context, _ domain.MessageStatus, _ int) ([]*domain.Message, error) {
	return nil, nil
}

type fakeDrafts struct {
	created []*domain.Draft
}

func (f *fakeDrafts) Create(_ context.Context, d *domain.Draft) error {
	d.ID = int64(len(f.created) + 1)
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDrafts) GetByID(_ context.Context, _ int64) (*domain.Draft, error) {
	return nil, errors.New("no rows")
}

func (f *fakeDrafts) ListByMessage(_ context.Context, _ int64) ([]*domain.Draft, error) {
	return f.created, nil
}

func (f *fakeDrafts) UpdateStatus(_ context.Context, _ int64, _ domain.DraftStatus, _ *string) error {
	return nil
}

type fakeFields struct {
	sets []*domain.ExtractedFields
}

func (f *fakeFields) Upsert(_ context.Context, set *domain.ExtractedFields) error {
	f.sets = append(f.sets, set)
	return nil
}

func (f *fakeFields) GetByMessage(_ context.Context, _ int64) ([]*domain.ExtractedFields, error) {
	return f.sets, nil
}

func (f *fakeFields) GetByType(_ context.Context, _ int64, _ string) (*domain.ExtractedFields, error) {
	return nil, errors.New("no rows")
}

type fakeSettings struct {
	values map[string]string
}

func (f *fakeSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", errors.New("no rows")
	}
	return v, nil
}

func (f *fakeSettings) GetBool(_ context.Context, _ string, fallback bool) (bool, error) {
	return fallback, nil
}

func (f *fakeSettings) GetFloat(_ context.Context, _ string, fallback float64) (float64, error) {
	return fallback, nil
}

func (f *fakeSettings) GetJSON(_ context.Context, key string, dest any) error {
	v, ok := f.values[key]
	if !ok {
		return errors.New("no rows")
	}
	return json.Unmarshal([]byte(v), dest)
}

func (f *fakeSettings) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeSettings) SetMany(_ context.Context, values map[string]string) error {
	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

func (f *fakeSettings) GetAll(_ context.Context) ([]*domain.Setting, error) { return nil, nil }

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

func (f *fakeEvents) CountByType(_ context.Context) (map[string]int, error) { return nil, nil }

// ============================================================================
// Helpers
// ============================================================================

func officeSettings() *fakeSettings {
	return &fakeSettings{values: map[string]string{
		domain.SettingOfficeName:    "Praxis Dr. Weber",
		domain.SettingOfficeAddress: "Hauptstraße 12, 50667 Köln",
		domain.SettingOfficeHours:   "Mo-Fr 8:00-12:00",
		domain.SettingOfficePhone:   "0221 123456",
	}}
}

func classifiedMessage(id int64, category domain.Category, subject string) *domain.Message {
	name := "Max Mustermann"
	msg := &domain.Message{
		ID:         id,
		ExternalID: "ext-1",
		FromAddr:   "max@example.com",
		FromName:   &name,
		ToAddr:     "praxis@example.de",
		Subject:    subject,
		Status:     domain.MessageStatusProcessing,
	}
	msg.SetExtension(domain.ExtKeyClassification, &domain.ClassificationOutcome{
		Category:   category,
		Confidence: 0.9,
		Method:     domain.MethodRule,
	})
	return msg
}

func newGenerator(msg *domain.Message, settings *fakeSettings) (*Generator, *fakeDrafts, *fakeMessages) {
	store := &fakeMessages{byID: map[int64]*domain.Message{}}
	if msg != nil {
		store.byID[msg.ID] = msg
	}
	drafts := &fakeDrafts{}
	gen := NewGenerator(store, drafts, &fakeFields{}, settings, &fakeEvents{}, NewRegistry())
	return gen, drafts, store
}

// ============================================================================
// Tests
// ============================================================================

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	autoDecision := domain.GuardDecision{Auto: true, Reason: domain.GuardReasonAllChecksPassed}

	t.Run("creates one draft and advances sub-state", func(t *testing.T) {
		msg := classifiedMessage(1, domain.CategoryAppointmentRequest, "Terminanfrage")
		gen, drafts, _ := newGenerator(msg, officeSettings())

		res, err := gen.Generate(ctx, 1, autoDecision)
		if err != nil {
			t.Fatal(err)
		}
		if len(drafts.created) != 1 {
			t.Fatalf("created %d drafts, want 1", len(drafts.created))
		}
		if res.Draft.Template != "appointment_request" {
			t.Errorf("template = %s, want appointment_request", res.Draft.Template)
		}
		if res.Draft.Status != domain.DraftStatusDraft {
			t.Errorf("status = %s, want draft", res.Draft.Status)
		}
		if res.Draft.ToAddr != "max@example.com" {
			t.Errorf("to = %s, want sender address", res.Draft.ToAddr)
		}
		if msg.SubState() != domain.SubStateDrafted {
			t.Errorf("sub-state = %q, want drafted", msg.SubState())
		}
		if len(res.Warnings) != 0 {
			t.Errorf("unexpected warnings: %v", res.Warnings)
		}
		if !strings.Contains(res.Draft.BodyText, "Max Mustermann") {
			t.Error("body missing sender display name")
		}
		if !strings.Contains(res.Draft.BodyText, "Praxis Dr. Weber") {
			t.Error("body missing office name")
		}
	})

	t.Run("missing source message fails loudly", func(t *testing.T) {
		gen, _, _ := newGenerator(nil, officeSettings())

		_, err := gen.Generate(ctx, 99, autoDecision)
		if err == nil {
			t.Fatal("expected error for missing message")
		}
		appErr := apperr.AsAppError(err)
		if appErr.Code != apperr.CodeNotFound {
			t.Errorf("code = %s, want %s", appErr.Code, apperr.CodeNotFound)
		}
	})

	t.Run("sensitive flag overrides category template", func(t *testing.T) {
		msg := classifiedMessage(1, domain.CategoryAppointmentRequest, "Terminanfrage")
		gen, _, _ := newGenerator(msg, officeSettings())

		decision := domain.GuardDecision{
			Reason: "sensitive_test_results",
			Flags:  []string{domain.GuardFlagSensitiveHandling},
		}
		res, err := gen.Generate(ctx, 1, decision)
		if err != nil {
			t.Fatal(err)
		}
		if res.Draft.Template != "sensitive_handling" {
			t.Errorf("template = %s, want sensitive_handling", res.Draft.Template)
		}
	})

	t.Run("missing settings fall back to literals", func(t *testing.T) {
		msg := classifiedMessage(1, domain.CategoryGeneralQuestion, "Frage")
		gen, _, _ := newGenerator(msg, &fakeSettings{values: map[string]string{}})

		res, err := gen.Generate(ctx, 1, autoDecision)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("fallbacks left placeholders unresolved: %v", res.Warnings)
		}
		if !strings.Contains(res.Draft.BodyText, "Ihre Praxis") {
			t.Error("office name fallback not applied")
		}
	})

	t.Run("category policy hint lands before the signature", func(t *testing.T) {
		msg := classifiedMessage(1, domain.CategoryBillingQuestion, "Rechnung")
		settings := officeSettings()
		settings.values[domain.SettingCategoryPolicyHintsJSON] = `{"billing_question":"Hinweis: Rechnungsfragen beantwortet ausschließlich unsere Verwaltung."}`
		gen, _, _ := newGenerator(msg, settings)

		res, err := gen.Generate(ctx, 1, autoDecision)
		if err != nil {
			t.Fatal(err)
		}
		hintIdx := strings.Index(res.Draft.BodyText, "Hinweis: Rechnungsfragen")
		sigIdx := strings.Index(res.Draft.BodyText, "Mit freundlichen Grüßen")
		if hintIdx < 0 {
			t.Fatal("hint missing from body")
		}
		if sigIdx < hintIdx {
			t.Error("hint not placed before the signature block")
		}
	})
}

func TestReplySubject(t *testing.T) {
	ctx := context.Background()
	autoDecision := domain.GuardDecision{Auto: true, Reason: domain.GuardReasonAllChecksPassed}

	tests := []struct {
		name        string
		subject     string
		wantSubject string
	}{
		{"keeps AW prefix", "AW: Terminanfrage", "AW: Terminanfrage"},
		{"keeps Re prefix", "Re: Terminanfrage", "Re: Terminanfrage"},
		{"synthesizes category subject", "Terminwunsch Montag", "AW: Ihre Terminanfrage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := classifiedMessage(1, domain.CategoryAppointmentRequest, tt.subject)
			gen, _, _ := newGenerator(msg, officeSettings())

			res, err := gen.Generate(ctx, 1, autoDecision)
			if err != nil {
				t.Fatal(err)
			}
			if res.Draft.Subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", res.Draft.Subject, tt.wantSubject)
			}
		})
	}
}

func TestTemplateCompleteness(t *testing.T) {
	// A representative variable set must resolve every placeholder of every
	// registered template.
	vars := map[string]string{
		"patient_name":   "Max Mustermann",
		"office_name":    "Praxis Dr. Weber",
		"office_address": "Hauptstraße 12",
		"office_hours":   "Mo-Fr 8:00-12:00",
		"office_phone":   "0221 123456",
	}
	for _, tpl := range NewRegistry().All() {
		t.Run(tpl.Name, func(t *testing.T) {
			body, warnings := renderTemplate(tpl.Body, vars)
			if len(warnings) != 0 {
				t.Errorf("unresolved placeholders in body: %v", warnings)
			}
			if strings.Contains(body, "${") {
				t.Error("placeholder token survived rendering")
			}
			subject, warnings := renderTemplate(tpl.Subject, vars)
			if len(warnings) != 0 {
				t.Errorf("unresolved placeholders in subject: %v", warnings)
			}
			if subject == "" && tpl.Subject != "" {
				t.Error("subject rendered empty")
			}
		})
	}
}

func TestRenderTemplateWarnings(t *testing.T) {
	out, warnings := renderTemplate("Hallo ${patient_name}, Ihr Termin am ${requested_date}", map[string]string{
		"patient_name": "Max",
	})
	if len(warnings) != 1 || warnings[0] != "${requested_date}" {
		t.Errorf("warnings = %v, want [${requested_date}]", warnings)
	}
	if !strings.Contains(out, "Max") {
		t.Error("resolved variable not replaced")
	}
}
