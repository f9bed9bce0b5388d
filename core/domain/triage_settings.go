package domain

import "time"

// Setting is a single key/value configuration entry. Written only by
// configuration management, read by the guard and the reply generator.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Well-known setting keys.
const (
	SettingAutoReplyEnabled        = "autoreply.enabled"
	SettingManualApprovalRequired  = "autoreply.require_manual_approval"
	SettingAutoSendThreshold       = "autoreply.confidence_threshold"
	SettingComplexityCutoff        = "guard.complexity_cutoff"
	SettingOfficeName              = "office.name"
	SettingOfficeAddress           = "office.address"
	SettingOfficeHours             = "office.hours"
	SettingOfficePhone             = "office.phone"
	SettingEscalationWebhookURL    = "escalation.webhook_url"
	SettingCategoryPolicyHintsJSON = "reply.category_policy_hints"
)

// RequiredSettings are the keys the watchdog health probe insists on.
func RequiredSettings() []string {
	return []string{
		SettingAutoReplyEnabled,
		SettingAutoSendThreshold,
		SettingOfficeName,
	}
}
