// Package classification implements the hybrid message classification
// pipeline: a deterministic rule scorer, a model-backed fallback, and the
// orchestrator that arbitrates between them.
package classification

import (
	"fmt"
	"regexp"
	"strings"

	"triage_server/core/domain"
)

// =============================================================================
// Rule Classifier (fast path)
// =============================================================================

// categoryRule is one entry of the fixed scoring table.
type categoryRule struct {
	category domain.Category
	weight   float64
	keywords []string
	patterns []*regexp.Regexp
}

// Scoring knobs. Keyword and pattern densities are individually capped so a
// keyword-stuffed message cannot saturate the score on one evidence kind.
const (
	keywordHitValue   = 0.25
	keywordDensityCap = 0.60
	patternHitValue   = 0.30
	patternDensityCap = 0.50
	coOccurrenceBonus = 1.25
	scoreEpsilon      = 0.05

	// MixedIntentThreshold is the materiality bar a second non-generic
	// category must clear before a message counts as mixed intent.
	MixedIntentThreshold = 0.30
)

// RuleResult is the output of the deterministic scorer.
type RuleResult struct {
	Category domain.Category `json:"category"`
	Score    float64         `json:"score"`
	Evidence []string        `json:"evidence,omitempty"`
}

// RuleClassifier scores message text against a fixed category table.
// Construction compiles all patterns once; instances are immutable and safe
// for concurrent use.
type RuleClassifier struct {
	rules []categoryRule

	nativeWords  map[string]struct{}
	foreignWords map[string]struct{}
}

// NewRuleClassifier builds the classifier with the built-in practice-office
// category table.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{
		rules:        defaultRules(),
		nativeWords:  wordSet(germanFunctionWords),
		foreignWords: wordSet(foreignFunctionWords),
	}
}

func defaultRules() []categoryRule {
	return []categoryRule{
		{
			category: domain.CategoryAppointmentRequest,
			weight:   1.0,
			keywords: []string{"termin", "terminanfrage", "terminwunsch", "sprechstunde", "vorbeikommen", "untersuchungstermin", "vorstellig"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)termin\s+(vereinbaren|ausmachen|bekommen|buchen)`),
				regexp.MustCompile(`(?i)wann\s+(kann|könnte|dürfte)\s+ich`),
				regexp.MustCompile(`(?i)(hätte|bräuchte)\s+.{0,20}termin`),
			},
		},
		{
			category: domain.CategoryAppointmentCancellation,
			weight:   1.0,
			keywords: []string{"absagen", "absage", "verschieben", "stornieren", "verhindert", "umbuchen"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)termin\s+.{0,20}(absagen|verschieben|stornieren|nicht\s+wahrnehmen)`),
				regexp.MustCompile(`(?i)kann\s+.{0,30}nicht\s+kommen`),
			},
		},
		{
			category: domain.CategoryPrescriptionRequest,
			weight:   1.1,
			keywords: []string{"rezept", "folgerezept", "medikament", "medikamente", "verschreibung", "dosierung", "apotheke"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(folge)?rezept\s+.{0,20}(ausstellen|verlängern|abholen)`),
				regexp.MustCompile(`(?i)medikament\w*\s+.{0,20}(aufgebraucht|leer|nachbestellen)`),
			},
		},
		{
			category: domain.CategorySickNoteRequest,
			weight:   1.1,
			keywords: []string{"krankschreibung", "krankmeldung", "attest", "arbeitsunfähig", "arbeitsunfähigkeitsbescheinigung", "krankgeschrieben"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(krankschreibung|attest|au[- ]bescheinigung)\s+.{0,20}(verlängern|ausstellen|brauche)`),
				regexp.MustCompile(`(?i)bin\s+.{0,20}(krank|arbeitsunfähig)`),
			},
		},
		{
			category: domain.CategoryTestResults,
			weight:   1.0,
			keywords: []string{"befund", "befunde", "laborwerte", "blutwerte", "ergebnis", "ergebnisse", "auswertung"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(befund|ergebnis|laborwert)\w*\s+.{0,20}(da|fertig|vorliegen|bekommen)`),
				regexp.MustCompile(`(?i)sind\s+.{0,20}(werte|ergebnisse)\s+.{0,10}da`),
			},
		},
		{
			category: domain.CategoryBillingQuestion,
			weight:   1.0,
			keywords: []string{"rechnung", "abrechnung", "kosten", "erstattung", "zahlung", "überweisung", "krankenkasse", "privatrechnung"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)rechnung\s+.{0,20}(erhalten|bekommen|falsch|unklar)`),
				regexp.MustCompile(`(?i)(kostet|kosten)\s+.{0,20}(behandlung|untersuchung)`),
			},
		},
		{
			category: domain.CategoryGeneralQuestion,
			weight:   0.8,
			keywords: []string{"frage", "auskunft", "information", "öffnungszeiten", "erreichbar", "unterlagen"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(hätte|habe)\s+.{0,10}(eine\s+)?frage`),
				regexp.MustCompile(`(?i)wie\s+(sind|lange)\s+.{0,20}(öffnungszeiten|erreichbar)`),
			},
		},
		{
			category: domain.CategoryEmergency,
			weight:   1.2,
			keywords: []string{"notfall", "dringend", "akut", "sofort", "unerträglich", "notaufnahme"},
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(starke|heftige|unerträgliche)\s+schmerzen`),
				regexp.MustCompile(`(?i)(sofort|umgehend|dringend)\s+.{0,20}(hilfe|arzt|rückruf)`),
			},
		},
	}
}

// Classify scores the text against every category independently and returns
// the winner. Below epsilon the catch-all applies with score 0.
func (c *RuleClassifier) Classify(text string) *RuleResult {
	best := &RuleResult{Category: domain.CategoryUncategorized, Score: 0}
	for _, rule := range c.rules {
		score, evidence := c.scoreCategory(text, rule)
		if score > best.Score {
			best = &RuleResult{Category: rule.category, Score: score, Evidence: evidence}
		}
	}
	if best.Score < scoreEpsilon {
		return &RuleResult{Category: domain.CategoryUncategorized, Score: 0}
	}
	return best
}

// Scores returns the per-category score map. Used by mixed-intent detection
// and exposed for diagnostics.
func (c *RuleClassifier) Scores(text string) map[domain.Category]float64 {
	scores := make(map[domain.Category]float64, len(c.rules))
	for _, rule := range c.rules {
		score, _ := c.scoreCategory(text, rule)
		scores[rule.category] = score
	}
	return scores
}

func (c *RuleClassifier) scoreCategory(text string, rule categoryRule) (float64, []string) {
	lowered := strings.ToLower(text)

	var evidence []string
	keywordHits := 0
	for _, kw := range rule.keywords {
		if strings.Contains(lowered, kw) {
			keywordHits++
			evidence = append(evidence, "keyword:"+kw)
		}
	}
	patternHits := 0
	for _, p := range rule.patterns {
		if m := p.FindString(text); m != "" {
			patternHits++
			evidence = append(evidence, "pattern:"+m)
		}
	}
	if keywordHits == 0 && patternHits == 0 {
		return 0, nil
	}

	kwDensity := min(float64(keywordHits)*keywordHitValue, keywordDensityCap)
	patDensity := min(float64(patternHits)*patternHitValue, patternDensityCap)

	score := rule.weight * (kwDensity + patDensity)
	if keywordHits > 0 && patternHits > 0 {
		score *= coOccurrenceBonus
	}
	return domain.ClampConfidence(score), evidence
}

// DetectMixedIntent reports whether two or more non-generic categories each
// clear the materiality threshold. Such a message carries multiple distinct
// requests and must not be answered by a single-topic template.
func (c *RuleClassifier) DetectMixedIntent(text string) bool {
	material := 0
	for category, score := range c.Scores(text) {
		if category.IsGeneric() {
			continue
		}
		if score > MixedIntentThreshold {
			material++
		}
	}
	return material >= 2
}

// =============================================================================
// Foreign-language heuristic
// =============================================================================

// Function-word baskets for the language heuristic. Tokens are chosen to not
// overlap between the two baskets.
var germanFunctionWords = []string{
	"der", "die", "das", "und", "ich", "nicht", "ein", "eine", "einen",
	"zu", "mit", "für", "bitte", "sehr", "haben", "habe", "ist", "sind",
	"sie", "wir", "von", "auf", "um", "mein", "meine", "können", "kann",
	"möchte", "gerne", "danke", "grüße", "sehr", "geehrte",
}

var foreignFunctionWords = []string{
	"the", "and", "you", "your", "have", "has", "please", "would",
	"could", "hello", "dear", "thank", "thanks", "this", "that", "need",
	"want", "my", "are", "is", "to", "of", "regards", "sincerely",
	"appointment", "doctor", "because", "when", "i'd", "i'm",
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var tokenSplitter = regexp.MustCompile(`[^\p{L}']+`)

// DetectForeignLanguage flags text that is likely not German. Foreign is
// declared only when foreign function-word hits outnumber native hits by a
// wide margin AND native hits are themselves scarce, so a short German
// message containing a borrowed word never trips the flag.
func (c *RuleClassifier) DetectForeignLanguage(text string) bool {
	native, foreign := 0, 0
	for _, token := range tokenSplitter.Split(strings.ToLower(text), -1) {
		if token == "" {
			continue
		}
		if _, ok := c.nativeWords[token]; ok {
			native++
		}
		if _, ok := c.foreignWords[token]; ok {
			foreign++
		}
	}
	return foreign > 2*native && native <= 2
}

// String renders a compact summary for logs.
func (r *RuleResult) String() string {
	return fmt.Sprintf("%s (%.2f, %d hits)", r.Category, r.Score, len(r.Evidence))
}
