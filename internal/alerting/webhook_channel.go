package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webhookSendTimeout = 5 * time.Second

// webhookPayload carries a one-line text for chat webhooks alongside the
// structured alert.
type webhookPayload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
	Alert  Alert  `json:"alert"`
}

type WebhookChannel struct {
	url      string
	severity []string
	client   *http.Client
}

func NewWebhookChannel(url string, severity []string) *WebhookChannel {
	return &WebhookChannel{url: url, severity: severity, client: httpClient}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(alert Alert) error {
	if !severityAllowed(w.severity, alert.Severity) {
		return nil
	}
	body, err := json.Marshal(webhookPayload{Source: "plugscan", Text: alertText(alert), Alert: alert})
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookSendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "plugscan-notify")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert %s: %w", alert.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook rejected alert %s: %s %s", alert.ID, resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func alertText(alert Alert) string {
	text := fmt.Sprintf("[%s] %s", alert.Severity, alert.Reason)
	if alert.Subject != "" {
		text += ": " + alert.Subject
	}
	return text
}
