// Package notify posts run summaries to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// maxListed caps the resource IDs quoted in one message.
const maxListed = 10

// Slack sends messages to one webhook URL.
type Slack struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlack returns a notifier for webhookURL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

// NotifyReport posts a summary of report. Reports with nothing flagged are
// not sent.
func (s *Slack) NotifyReport(ctx context.Context, report *models.AuditReport, idField string) error {
	if report.Summary.Flagged == 0 {
		return nil
	}
	return s.post(ctx, slackMessage{Text: Summary(report, idField)})
}

func (s *Slack) post(ctx context.Context, msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Summary renders the message text: a headline with the counts followed by
// up to ten flagged IDs taken from idField. Records marked "flagged": false
// are left out.
func Summary(report *models.AuditReport, idField string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*: %d flagged of %d scanned (%s)",
		report.Auditor, report.Summary.Flagged, report.Summary.Scanned, strings.Join(report.Regions, ", "))
	if report.AccountID != "" {
		fmt.Fprintf(&b, " account %s", report.AccountID)
	}
	if report.Summary.Attempted > 0 {
		fmt.Fprintf(&b, "\nremediation: %d applied, %d failed", report.Summary.Applied, report.Summary.Failed)
	}
	if report.Summary.EstimatedMonthlyCostUSD > 0 {
		fmt.Fprintf(&b, "\nestimated monthly cost: $%.2f", report.Summary.EstimatedMonthlyCostUSD)
	}

	if idField == "" {
		return b.String()
	}
	var ids []any
	for _, r := range report.Results {
		if f, ok := r.Get("flagged"); ok && f == false {
			continue
		}
		if v, ok := r.Get(idField); ok && v != nil {
			ids = append(ids, v)
		}
	}
	for i, id := range ids {
		if i == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", len(ids)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n- %v", id)
	}
	return b.String()
}
