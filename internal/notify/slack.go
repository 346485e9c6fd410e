package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

// SlackSender posts finished runs to a Slack incoming webhook. Intermediate
// statuses are skipped.
type SlackSender struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

func (s *SlackSender) Publish(ctx context.Context, ev ports.RunEvent) error {
	if !ev.Status.IsTerminal() {
		return nil
	}
	if s.WebhookURL == "" {
		return fmt.Errorf("slack sender has no webhook url")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	payload := map[string]string{"text": slackText(ev)}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack API returned %d", resp.StatusCode)
	}
	return nil
}

func slackText(ev ports.RunEvent) string {
	repo := ev.Owner + "/" + ev.Repo
	if ev.Status == tsupgrade.StatusDone {
		return fmt.Sprintf(":white_check_mark: Upgrade of %s opened %s", repo, ev.URL)
	}
	return fmt.Sprintf(":x: Upgrade of %s failed after %s: %s", repo, ev.LastStatus, ev.Error)
}
