package guard

import (
	"strings"
	"testing"

	"triage_server/core/domain"
)

func permissiveConfig() Config {
	return Config{
		AutoReplyEnabled:  true,
		AutoSendThreshold: 0.75,
		ComplexityCutoff:  0.8,
	}
}

func TestEvaluateRuleOrder(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		wantAuto   bool
		wantReason string
	}{
		{
			name: "foreign language beats everything",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Flags:      domain.ClassificationFlags{ForeignLanguage: true, MixedIntent: true},
				Confidence: 0.99,
				Config:     permissiveConfig(),
			},
			wantReason: domain.GuardReasonLanguage,
		},
		{
			name: "mixed intent beats sensitivity",
			in: Input{
				Category:   domain.CategoryPrescriptionRequest,
				Flags:      domain.ClassificationFlags{MixedIntent: true},
				Confidence: 0.99,
				Config:     permissiveConfig(),
			},
			wantReason: domain.GuardReasonMixedIntent,
		},
		{
			name: "unclear is a sensitive reason",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Flags:      domain.ClassificationFlags{Unclear: true},
				Confidence: 0.99,
				Config:     permissiveConfig(),
			},
			wantReason: "sensitive_unclear",
		},
		{
			name: "sensitive category regardless of confidence",
			in: Input{
				Category:   domain.CategorySickNoteRequest,
				Confidence: 0.99,
				Config:     permissiveConfig(),
			},
			wantReason: "sensitive_sick_note_request",
		},
		{
			name: "low confidence carries the value",
			in: Input{
				Category:   domain.CategoryGeneralQuestion,
				Confidence: 0.42,
				Config:     permissiveConfig(),
			},
			wantReason: "low_confidence_0.42",
		},
		{
			name: "doctor review hint",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.9,
				Hints:      domain.PolicyHints{RequiresDoctorReview: true},
				Config:     permissiveConfig(),
			},
			wantReason: domain.GuardReasonDoctorReview,
		},
		{
			name: "privacy check hint",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.9,
				Hints:      domain.PolicyHints{RequiresPrivacyCheck: true},
				Config:     permissiveConfig(),
			},
			wantReason: domain.GuardReasonPrivacyCheck,
		},
		{
			name: "complexity over cutoff",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.9,
				Hints:      domain.PolicyHints{Complexity: 0.9},
				Config:     permissiveConfig(),
			},
			wantReason: domain.GuardReasonComplexity,
		},
		{
			name: "auto send disabled",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.9,
				Config:     Config{AutoReplyEnabled: false, AutoSendThreshold: 0.75},
			},
			wantReason: domain.GuardReasonAutoSendDisabled,
		},
		{
			name: "manual approval required",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.9,
				Config:     Config{AutoReplyEnabled: true, ManualApprovalRequired: true, AutoSendThreshold: 0.75},
			},
			wantReason: domain.GuardReasonManualApproval,
		},
		{
			name: "all checks passed",
			in: Input{
				Category:   domain.CategoryAppointmentRequest,
				Confidence: 0.92,
				Config:     permissiveConfig(),
			},
			wantAuto:   true,
			wantReason: domain.GuardReasonAllChecksPassed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in)
			if got.Auto != tt.wantAuto {
				t.Errorf("Auto = %v, want %v", got.Auto, tt.wantAuto)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateConfidenceBoundary(t *testing.T) {
	cfg := permissiveConfig()

	t.Run("exactly at threshold passes", func(t *testing.T) {
		got := Evaluate(Input{
			Category:   domain.CategoryAppointmentRequest,
			Confidence: cfg.AutoSendThreshold,
			Config:     cfg,
		})
		if strings.HasPrefix(got.Reason, domain.GuardReasonLowConfidencePfx) {
			t.Errorf("confidence == threshold fired low-confidence rule: %q", got.Reason)
		}
		if !got.Auto {
			t.Errorf("expected auto, got escalation with %q", got.Reason)
		}
	})

	t.Run("just below threshold fires", func(t *testing.T) {
		got := Evaluate(Input{
			Category:   domain.CategoryAppointmentRequest,
			Confidence: cfg.AutoSendThreshold - 0.01,
			Config:     cfg,
		})
		if !strings.HasPrefix(got.Reason, domain.GuardReasonLowConfidencePfx) {
			t.Errorf("reason = %q, want low_confidence prefix", got.Reason)
		}
		if got.Auto {
			t.Error("below-threshold confidence permitted auto-reply")
		}
	})
}

func TestEvaluateDeterminism(t *testing.T) {
	in := Input{
		Category:   domain.CategoryBillingQuestion,
		Flags:      domain.ClassificationFlags{MixedIntent: true},
		Confidence: 0.61,
		Hints:      domain.PolicyHints{Complexity: 0.4},
		Config:     permissiveConfig(),
	}
	first := Evaluate(in)
	for i := 0; i < 100; i++ {
		got := Evaluate(in)
		if got.Auto != first.Auto || got.Reason != first.Reason {
			t.Fatalf("run %d diverged: %+v vs %+v", i, got, first)
		}
		if len(got.Flags) != len(first.Flags) {
			t.Fatalf("run %d flag set diverged", i)
		}
	}
}

func TestEvaluateFlags(t *testing.T) {
	got := Evaluate(Input{
		Category:   domain.CategoryTestResults,
		Flags:      domain.ClassificationFlags{MixedIntent: true, Unclear: true},
		Confidence: 0.9,
		Config:     permissiveConfig(),
	})
	want := []string{
		domain.GuardFlagMixedIntent,
		domain.GuardFlagUnclear,
		domain.GuardFlagSensitiveHandling,
	}
	if len(got.Flags) != len(want) {
		t.Fatalf("flags = %v, want %v", got.Flags, want)
	}
	for i := range want {
		if got.Flags[i] != want[i] {
			t.Errorf("flags[%d] = %q, want %q", i, got.Flags[i], want[i])
		}
	}
}
