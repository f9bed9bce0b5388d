// Package notify delivers escalation notices to the practice team.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
	"triage_server/pkg/logger"
)

// WebhookNotifier posts escalation notices as JSON to a configurable URL.
// It implements out.EscalationNotifier. When no URL is configured the
// notifier is a no-op, so escalation still works on a fresh install.
type WebhookNotifier struct {
	settings out.SettingsRepository
	client   *http.Client
	log      *logger.Logger
}

// NewWebhookNotifier creates a notifier that resolves the target URL from
// settings on every call, so operators can change it without a restart.
func NewWebhookNotifier(settings out.SettingsRepository) *WebhookNotifier {
	return &WebhookNotifier{
		settings: settings,
		client:   httputil.WebhookClient(),
		log:      logger.Default().WithField("component", "webhook_notifier"),
	}
}

// Notify delivers one escalation notice.
func (n *WebhookNotifier) Notify(ctx context.Context, notice *out.EscalationNotice) error {
	url, err := n.settings.Get(ctx, domain.SettingEscalationWebhookURL)
	if err != nil || url == "" {
		n.log.Debug("no escalation webhook configured, skipping notice for message %d", notice.MessageID)
		return nil
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode escalation notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build escalation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver escalation notice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("escalation webhook returned %d", resp.StatusCode)
	}

	n.log.Info("escalation notice delivered for message %d (%v)", notice.MessageID, notice.Decision)
	return nil
}
