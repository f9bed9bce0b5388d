package llm

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// classifyInstruction is the fixed instruction document sent with every
// classification request. The response contract is exactly one JSON object.
const classifyInstruction = `Du bist ein Klassifikations-Assistent für den E-Mail-Eingang einer Arztpraxis.
Analysiere die Nachricht und antworte mit genau EINEM JSON-Objekt, ohne weiteren Text.

Kategorien (genau eine wählen):
- appointment_request: Bitte um einen Termin
- appointment_cancellation: Absage oder Verschiebung eines Termins
- prescription_request: Rezept oder Medikament angefragt
- sick_note_request: Krankschreibung oder Attest angefragt
- test_results: Frage nach Befunden oder Laborwerten
- billing_question: Frage zu Rechnung oder Abrechnung
- general_question: Allgemeine Frage an die Praxis
- emergency: Medizinischer Notfall oder akutes Anliegen
- uncategorized: Keine der obigen Kategorien passt

Antwortformat:
{
  "category": "<eine der Kategorien>",
  "confidence": <Zahl zwischen 0.0 und 1.0>,
  "extracted": {<benannte Werte aus der Nachricht, z.B. Datumswünsche, Rechnungsnummern; leeres Objekt wenn nichts>},
  "flags": {
    "mixed_intent": <true wenn die Nachricht mehrere verschiedene Anliegen enthält>,
    "foreign_language": <true wenn die Nachricht nicht auf Deutsch verfasst ist>,
    "unclear": <true wenn das Anliegen nicht verständlich ist>
  }
}`

// Classify sends the raw message text with the fixed instruction document
// and strictly validates the response. Any transport, parse, or validation
// problem is a hard error; nothing is ever coerced into a low-confidence
// result.
func (c *Client) Classify(ctx context.Context, text string) (*out.FallbackResult, error) {
	raw, err := c.complete(ctx, classifyInstruction, text)
	if err != nil {
		return nil, fmt.Errorf("fallback completion: %w", err)
	}
	return parseClassification(raw)
}

// parseClassification extracts the first JSON object from the response and
// validates it against the contract.
func parseClassification(raw string) (*out.FallbackResult, error) {
	obj, err := firstJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Category   *string                    `json:"category"`
		Confidence *float64                   `json:"confidence"`
		Extracted  json.RawMessage            `json:"extracted"`
		Flags      map[string]json.RawMessage `json:"flags"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("malformed classification object: %w", err)
	}

	if payload.Category == nil {
		return nil, fmt.Errorf("classification missing category")
	}
	category, err := domain.ParseCategory(*payload.Category)
	if err != nil {
		return nil, fmt.Errorf("classification category: %w", err)
	}

	if payload.Confidence == nil {
		return nil, fmt.Errorf("classification missing confidence")
	}
	if *payload.Confidence < 0 || *payload.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", *payload.Confidence)
	}

	if len(payload.Extracted) == 0 {
		return nil, fmt.Errorf("classification missing extracted object")
	}
	var extracted map[string]any
	if err := json.Unmarshal(payload.Extracted, &extracted); err != nil || extracted == nil {
		return nil, fmt.Errorf("extracted is not an object")
	}

	flags, err := parseFlags(payload.Flags)
	if err != nil {
		return nil, err
	}

	return &out.FallbackResult{
		Category:   category,
		Confidence: *payload.Confidence,
		Extracted:  extracted,
		Flags:      flags,
	}, nil
}

// parseFlags requires all three flags to be present as real booleans.
func parseFlags(raw map[string]json.RawMessage) (domain.ClassificationFlags, error) {
	var flags domain.ClassificationFlags
	if raw == nil {
		return flags, fmt.Errorf("classification missing flags object")
	}
	for _, entry := range []struct {
		key  string
		dest *bool
	}{
		{"mixed_intent", &flags.MixedIntent},
		{"foreign_language", &flags.ForeignLanguage},
		{"unclear", &flags.Unclear},
	} {
		value, ok := raw[entry.key]
		if !ok {
			return flags, fmt.Errorf("classification missing flag %s", entry.key)
		}
		if err := json.Unmarshal(value, entry.dest); err != nil {
			return flags, fmt.Errorf("flag %s is not a boolean", entry.key)
		}
	}
	return flags, nil
}

// firstJSONObject returns the first balanced top-level JSON object in the
// text, tolerating prose or code fences around it.
func firstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}
