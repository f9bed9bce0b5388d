package domain

// GuardDecision is the output of the escalation policy. Deterministic for
// identical inputs; logged as an Event regardless of outcome.
type GuardDecision struct {
	Auto   bool     `json:"auto"`
	Reason string   `json:"reason"`
	Flags  []string `json:"flags,omitempty"`
}

// Guard reason codes. Dynamic reasons (sensitive_<category>,
// low_confidence_<value>) are built from the prefixes.
const (
	GuardReasonLanguage           = "language"
	GuardReasonMixedIntent        = "mixed_intent"
	GuardReasonSensitivePrefix    = "sensitive_"
	GuardReasonLowConfidencePfx   = "low_confidence_"
	GuardReasonDoctorReview       = "requires_doctor_review"
	GuardReasonPrivacyCheck       = "requires_privacy_check"
	GuardReasonComplexity         = "complexity_over_threshold"
	GuardReasonAutoSendDisabled   = "auto_send_disabled"
	GuardReasonManualApproval     = "manual_approval"
	GuardReasonAllChecksPassed    = "all_checks_passed"
	GuardReasonEvaluationError    = "guard_error"
	GuardFlagSensitiveHandling    = "sensitive_handling"
	GuardFlagForeignLanguage      = "foreign_language"
	GuardFlagMixedIntent          = "mixed_intent"
	GuardFlagUnclear              = "unclear"
)
