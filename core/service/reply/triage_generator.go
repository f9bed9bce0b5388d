package reply

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
)

// Literal fallbacks keep the rendered output well-formed when a variable
// cannot be resolved from fields or settings.
var variableFallbacks = map[string]string{
	"patient_name":   "liebe Patientin, lieber Patient",
	"office_name":    "Ihre Praxis",
	"office_address": "",
	"office_hours":   "Mo-Fr vormittags",
	"office_phone":   "unsere Praxisnummer",
}

// Reply-subject prefixes that are preserved as-is.
var replyPrefixes = []string{"re:", "aw:", "fwd:", "wg:"}

// Result is the outcome of one draft generation.
type Result struct {
	Draft    *domain.Draft
	Warnings []string
}

// Generator writes exactly one draft per invocation and advances the source
// message to the drafted sub-state.
type Generator struct {
	messages out.MessageRepository
	drafts   out.DraftRepository
	fields   out.ExtractedFieldsRepository
	settings out.SettingsRepository
	events   out.EventRepository
	registry *Registry
	log      *logger.Logger
}

// NewGenerator wires the reply generator.
func NewGenerator(
	messages out.MessageRepository,
	drafts out.DraftRepository,
	fields out.ExtractedFieldsRepository,
	settings out.SettingsRepository,
	events out.EventRepository,
	registry *Registry,
) *Generator {
	return &Generator{
		messages: messages,
		drafts:   drafts,
		fields:   fields,
		settings: settings,
		events:   events,
		registry: registry,
		log:      logger.WithField("component", "reply"),
	}
}

// Generate drafts a reply for the message. A missing source message is a
// hard error, never a silent no-op.
func (g *Generator) Generate(ctx context.Context, messageID int64, decision domain.GuardDecision) (*Result, error) {
	msg, err := g.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, apperr.NotFound("message").WithError(err).WithDetail("message_id", messageID)
	}

	category := classifiedCategory(msg)
	tpl := g.registry.Select(category, hasSensitiveFlag(decision))

	vars := g.buildVariables(ctx, msg)

	body, warnings := renderTemplate(tpl.Body, vars)
	for _, w := range warnings {
		g.log.Warn("unresolved placeholder %s in template %s for message %d", w, tpl.Name, msg.ID)
	}

	if hint := g.categoryHint(ctx, category); hint != "" {
		body = insertBeforeSignature(body, hint)
	}

	subject := g.replySubject(msg.Subject, tpl, vars)

	draft := &domain.Draft{
		MessageID: &msg.ID,
		ReplyTo:   msg.ToAddr,
		ToAddr:    msg.FromAddr,
		Subject:   subject,
		BodyText:  body,
		Template:  tpl.Name,
		Status:    domain.DraftStatusDraft,
	}
	if err := g.drafts.Create(ctx, draft); err != nil {
		return nil, fmt.Errorf("create draft for message %d: %w", msg.ID, err)
	}

	msg.SetExtension(domain.ExtKeyPipelineState, domain.SubStateDrafted)
	if err := g.messages.UpdateExtensions(ctx, msg.ID, msg.Extensions); err != nil {
		return nil, fmt.Errorf("mark message %d drafted: %w", msg.ID, err)
	}

	g.recordEvent(ctx, msg.ID, draft, tpl.Name, warnings)

	return &Result{Draft: draft, Warnings: warnings}, nil
}

// buildVariables assembles the rendering map: sender display name, office
// settings, then extracted fields on top.
func (g *Generator) buildVariables(ctx context.Context, msg *domain.Message) map[string]string {
	vars := make(map[string]string, len(variableFallbacks)+4)
	for name, fallback := range variableFallbacks {
		vars[name] = fallback
	}
	vars["patient_name"] = msg.DisplayName()

	settingVars := map[string]string{
		"office_name":    domain.SettingOfficeName,
		"office_address": domain.SettingOfficeAddress,
		"office_hours":   domain.SettingOfficeHours,
		"office_phone":   domain.SettingOfficePhone,
	}
	for name, key := range settingVars {
		if v, err := g.settings.Get(ctx, key); err == nil && v != "" {
			vars[name] = v
		}
	}

	fieldSets, err := g.fields.GetByMessage(ctx, msg.ID)
	if err != nil {
		g.log.WithError(err).Warn("extracted fields unavailable for message %d", msg.ID)
		return vars
	}
	for _, set := range fieldSets {
		for name, value := range set.Data {
			vars[name] = fmt.Sprint(value)
		}
	}
	return vars
}

// replySubject keeps an existing reply prefix, otherwise synthesizes a
// category-specific subject from the template.
func (g *Generator) replySubject(original string, tpl *Template, vars map[string]string) string {
	trimmed := strings.TrimSpace(original)
	lowered := strings.ToLower(trimmed)
	for _, prefix := range replyPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return trimmed
		}
	}
	if tpl.Subject != "" {
		subject, _ := renderTemplate(tpl.Subject, vars)
		return subject
	}
	if trimmed == "" {
		return "AW: Ihre Nachricht"
	}
	return "AW: " + trimmed
}

// categoryHint loads the configured policy hint for the category, if any.
func (g *Generator) categoryHint(ctx context.Context, category domain.Category) string {
	var hints map[string]string
	if err := g.settings.GetJSON(ctx, domain.SettingCategoryPolicyHintsJSON, &hints); err != nil {
		return ""
	}
	return hints[string(category)]
}

func (g *Generator) recordEvent(ctx context.Context, messageID int64, draft *domain.Draft, template string, warnings []string) {
	err := g.events.Append(ctx, &domain.Event{
		Type:   domain.EventTypeDraftCreated,
		Source: domain.EventSourceReply,
		Data: map[string]any{
			"message_id": messageID,
			"draft_id":   draft.ID,
			"template":   template,
			"warnings":   warnings,
		},
	})
	if err != nil {
		g.log.WithError(err).Warn("failed to record draft event")
	}
}

// renderTemplate replaces every recognized placeholder and reports the ones
// left unresolved.
func renderTemplate(text string, vars map[string]string) (string, []string) {
	result := text
	for name, value := range vars {
		result = strings.ReplaceAll(result, "${"+name+"}", value)
	}

	var warnings []string
	for _, m := range placeholderPattern.FindAllString(result, -1) {
		warnings = append(warnings, m)
	}
	return result, warnings
}

// insertBeforeSignature places the hint directly above the signature block,
// or appends it when no signature is present.
func insertBeforeSignature(body, hint string) string {
	const marker = "Mit freundlichen Grüßen"
	idx := strings.LastIndex(body, marker)
	if idx < 0 {
		return body + "\n\n" + hint
	}
	return body[:idx] + hint + "\n\n" + body[idx:]
}

func hasSensitiveFlag(decision domain.GuardDecision) bool {
	for _, f := range decision.Flags {
		if f == domain.GuardFlagSensitiveHandling {
			return true
		}
	}
	return false
}

// classifiedCategory reads the persisted classification, defaulting to the
// catch-all when the message was never classified.
func classifiedCategory(msg *domain.Message) domain.Category {
	raw, ok := msg.Extensions[domain.ExtKeyClassification]
	if !ok {
		return domain.CategoryUncategorized
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.CategoryUncategorized
	}
	var outcome domain.ClassificationOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return domain.CategoryUncategorized
	}
	if _, err := domain.ParseCategory(string(outcome.Category)); err != nil {
		return domain.CategoryUncategorized
	}
	return outcome.Category
}
