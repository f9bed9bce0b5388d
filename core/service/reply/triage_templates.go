// Package reply turns classified messages into template-driven reply drafts.
package reply

import (
	"regexp"

	"triage_server/core/domain"
)

// Template is one registered reply template. Subject and Body use ${var}
// placeholders.
type Template struct {
	Name    string
	Subject string
	Body    string
}

// Registry holds the reply templates keyed by category, plus the sensitive
// handling override. Explicitly constructed and injected; no module-level
// singleton, so tests build isolated instances.
type Registry struct {
	byCategory map[domain.Category]*Template
	sensitive  *Template
	fallback   *Template
}

const signatureBlock = "Mit freundlichen Grüßen\n${office_name}\n${office_address}\nTelefon: ${office_phone}"

// NewRegistry builds the built-in practice-office template set.
func NewRegistry() *Registry {
	return &Registry{
		byCategory: map[domain.Category]*Template{
			domain.CategoryAppointmentRequest: {
				Name:    "appointment_request",
				Subject: "AW: Ihre Terminanfrage",
				Body: "Guten Tag ${patient_name},\n\n" +
					"vielen Dank für Ihre Terminanfrage. Wir haben Ihr Anliegen erhalten und melden uns " +
					"schnellstmöglich mit einem Terminvorschlag bei Ihnen.\n\n" +
					"Unsere Sprechzeiten: ${office_hours}\n\n" +
					signatureBlock,
			},
			domain.CategoryAppointmentCancellation: {
				Name:    "appointment_cancellation",
				Subject: "AW: Ihre Terminabsage",
				Body: "Guten Tag ${patient_name},\n\n" +
					"wir haben Ihre Absage erhalten und den Termin entsprechend vermerkt. " +
					"Für einen neuen Termin erreichen Sie uns während der Sprechzeiten: ${office_hours}\n\n" +
					signatureBlock,
			},
			domain.CategoryBillingQuestion: {
				Name:    "billing_question",
				Subject: "AW: Ihre Rechnungsanfrage",
				Body: "Guten Tag ${patient_name},\n\n" +
					"vielen Dank für Ihre Nachricht zu Ihrer Abrechnung. Unsere Verwaltung prüft Ihr " +
					"Anliegen und meldet sich bei Ihnen. Bitte halten Sie die Rechnungsnummer bereit.\n\n" +
					signatureBlock,
			},
			domain.CategoryGeneralQuestion: {
				Name:    "general_question",
				Subject: "AW: Ihre Anfrage",
				Body: "Guten Tag ${patient_name},\n\n" +
					"vielen Dank für Ihre Nachricht. Wir haben Ihre Anfrage erhalten und beantworten " +
					"sie so schnell wie möglich.\n\n" +
					"Unsere Sprechzeiten: ${office_hours}\nTelefonisch erreichen Sie uns unter ${office_phone}.\n\n" +
					signatureBlock,
			},
		},
		sensitive: &Template{
			Name:    "sensitive_handling",
			Subject: "AW: Ihre Nachricht an ${office_name}",
			Body: "Guten Tag ${patient_name},\n\n" +
				"vielen Dank für Ihre Nachricht. Ihr Anliegen wird aus Sorgfaltsgründen persönlich " +
				"von unserem Praxisteam bearbeitet. Wir melden uns zeitnah bei Ihnen.\n\n" +
				"In dringenden Fällen erreichen Sie uns telefonisch unter ${office_phone}.\n\n" +
				signatureBlock,
		},
		fallback: &Template{
			Name:    "generic",
			Subject: "AW: Ihre Nachricht an ${office_name}",
			Body: "Guten Tag ${patient_name},\n\n" +
				"vielen Dank für Ihre Nachricht. Wir haben sie erhalten und kümmern uns um Ihr Anliegen.\n\n" +
				signatureBlock,
		},
	}
}

// Select picks the template for a category. The sensitive override wins
// unconditionally when the guard marked the message for sensitive handling.
func (r *Registry) Select(category domain.Category, sensitiveHandling bool) *Template {
	if sensitiveHandling {
		return r.sensitive
	}
	if tpl, ok := r.byCategory[category]; ok {
		return tpl
	}
	return r.fallback
}

// All returns every registered template, including the overrides.
func (r *Registry) All() []*Template {
	templates := make([]*Template, 0, len(r.byCategory)+2)
	for _, tpl := range r.byCategory {
		templates = append(templates, tpl)
	}
	return append(templates, r.sensitive, r.fallback)
}

var placeholderPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Placeholders lists the distinct variable names a template references.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Subject+"\n"+t.Body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
