// Package guard implements the escalation policy that gates automatic
// replies. Evaluation is a pure function; persistence and notification
// side effects live in the service wrapper.
package guard

import (
	"fmt"

	"triage_server/core/domain"
)

// Config is the settings snapshot the policy evaluates against. Loaded once
// per decision so a half-updated configuration is never observed.
type Config struct {
	AutoReplyEnabled       bool
	ManualApprovalRequired bool
	AutoSendThreshold      float64
	ComplexityCutoff       float64
}

// Input is everything one decision depends on. Identical inputs always
// yield the identical decision; no clock, no randomness.
type Input struct {
	Category   domain.Category
	Flags      domain.ClassificationFlags
	Confidence float64
	Hints      domain.PolicyHints
	Config     Config
}

// Evaluate runs the ordered short-circuit rule list; the first matching rule
// wins and determines the reason code. Any internal panic defaults to
// escalation with the evaluation-error reason, so a policy bug can never
// cause an unguarded auto-reply.
func Evaluate(in Input) (decision domain.GuardDecision) {
	defer func() {
		if r := recover(); r != nil {
			decision = domain.GuardDecision{
				Auto:   false,
				Reason: domain.GuardReasonEvaluationError,
				Flags:  []string{fmt.Sprintf("panic:%v", r)},
			}
		}
	}()

	flags := raisedFlags(in)

	// 1. Foreign language always goes to a human, whatever the confidence.
	if in.Flags.ForeignLanguage {
		return domain.GuardDecision{Reason: domain.GuardReasonLanguage, Flags: flags}
	}

	// 2. Multiple distinct requests cannot be answered by one template.
	if in.Flags.MixedIntent {
		return domain.GuardDecision{Reason: domain.GuardReasonMixedIntent, Flags: flags}
	}

	// 3. Sensitive-topic denylist, including explicitly unclear results.
	if in.Flags.Unclear {
		return domain.GuardDecision{Reason: domain.GuardReasonSensitivePrefix + "unclear", Flags: flags}
	}
	if in.Category.IsSensitive() {
		return domain.GuardDecision{Reason: domain.GuardReasonSensitivePrefix + string(in.Category), Flags: flags}
	}

	// 4. Confidence exactly at the threshold still passes.
	if in.Confidence < in.Config.AutoSendThreshold {
		reason := fmt.Sprintf("%s%.2f", domain.GuardReasonLowConfidencePfx, in.Confidence)
		return domain.GuardDecision{Reason: reason, Flags: flags}
	}

	// 5. Domain-specific hints attached by upstream tooling.
	if in.Hints.RequiresDoctorReview {
		return domain.GuardDecision{Reason: domain.GuardReasonDoctorReview, Flags: flags}
	}
	if in.Hints.RequiresPrivacyCheck {
		return domain.GuardDecision{Reason: domain.GuardReasonPrivacyCheck, Flags: flags}
	}
	if in.Config.ComplexityCutoff > 0 && in.Hints.Complexity > in.Config.ComplexityCutoff {
		return domain.GuardDecision{Reason: domain.GuardReasonComplexity, Flags: flags}
	}

	// 6./7. Global switches.
	if !in.Config.AutoReplyEnabled {
		return domain.GuardDecision{Reason: domain.GuardReasonAutoSendDisabled, Flags: flags}
	}
	if in.Config.ManualApprovalRequired {
		return domain.GuardDecision{Reason: domain.GuardReasonManualApproval, Flags: flags}
	}

	// 8. Everything passed.
	return domain.GuardDecision{Auto: true, Reason: domain.GuardReasonAllChecksPassed, Flags: flags}
}

// raisedFlags lists the risk signals present in the input, in a stable
// order, independent of which rule ends up winning.
func raisedFlags(in Input) []string {
	var flags []string
	if in.Flags.ForeignLanguage {
		flags = append(flags, domain.GuardFlagForeignLanguage)
	}
	if in.Flags.MixedIntent {
		flags = append(flags, domain.GuardFlagMixedIntent)
	}
	if in.Flags.Unclear {
		flags = append(flags, domain.GuardFlagUnclear)
	}
	if in.Category.IsSensitive() {
		flags = append(flags, domain.GuardFlagSensitiveHandling)
	}
	return flags
}
