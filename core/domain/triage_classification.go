package domain

import "fmt"

// Category is the closed classification vocabulary. External classifier
// output is parsed through ParseCategory so unknown values are rejected at
// that single boundary instead of leaking free-form strings into the
// pipeline.
type Category string

const (
	CategoryAppointmentRequest      Category = "appointment_request"
	CategoryAppointmentCancellation Category = "appointment_cancellation"
	CategoryPrescriptionRequest     Category = "prescription_request"
	CategorySickNoteRequest         Category = "sick_note_request"
	CategoryTestResults             Category = "test_results"
	CategoryBillingQuestion         Category = "billing_question"
	CategoryGeneralQuestion         Category = "general_question"
	CategoryEmergency               Category = "emergency"
	CategoryUncategorized           Category = "uncategorized"
)

// AllCategories lists the vocabulary in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryAppointmentRequest,
		CategoryAppointmentCancellation,
		CategoryPrescriptionRequest,
		CategorySickNoteRequest,
		CategoryTestResults,
		CategoryBillingQuestion,
		CategoryGeneralQuestion,
		CategoryEmergency,
		CategoryUncategorized,
	}
}

// ParseCategory validates a raw category string against the vocabulary.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// IsGeneric reports whether the category carries no single actionable topic.
// Generic categories never count toward mixed-intent detection.
func (c Category) IsGeneric() bool {
	return c == CategoryGeneralQuestion || c == CategoryUncategorized
}

// IsSensitive reports whether the category is denylisted from automation
// regardless of confidence.
func (c Category) IsSensitive() bool {
	switch c {
	case CategoryPrescriptionRequest, CategorySickNoteRequest,
		CategoryTestResults, CategoryEmergency, CategoryUncategorized:
		return true
	}
	return false
}

// ClassificationMethod records which path produced the result.
type ClassificationMethod string

const (
	MethodRule     ClassificationMethod = "rule"
	MethodFallback ClassificationMethod = "fallback"
)

// ClassificationFlags are content-risk signals raised during classification.
type ClassificationFlags struct {
	MixedIntent     bool `json:"mixed_intent"`
	ForeignLanguage bool `json:"foreign_language"`
	Unclear         bool `json:"unclear"`
}

// Any reports whether any flag is raised.
func (f ClassificationFlags) Any() bool {
	return f.MixedIntent || f.ForeignLanguage || f.Unclear
}

// ClassificationOutcome is the terminal result of classifying one message.
// It is stored as a snapshot under the message's classification extension
// key, with extracted values upserted into extracted_fields.
type ClassificationOutcome struct {
	Category   Category             `json:"category"`
	Confidence float64              `json:"confidence"`
	Method     ClassificationMethod `json:"method"`
	Flags      ClassificationFlags  `json:"flags"`
	Extracted  map[string]any       `json:"extracted,omitempty"`
	Escalate   bool                 `json:"escalate"`
	Evidence   []string             `json:"evidence,omitempty"`
}

// ClampConfidence folds any confidence into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ExtractedFields is one row per (message, field-set-type). A later
// extraction of the same type replaces the prior one.
type ExtractedFields struct {
	ID         int64          `json:"id"`
	MessageID  int64          `json:"message_id"`
	FieldType  string         `json:"field_type"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
	Validated  bool           `json:"validated"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

// Well-known field-set types.
const (
	FieldTypeClassification = "classification"
	FieldTypeAppointment    = "appointment"
	FieldTypePatient        = "patient"
)
