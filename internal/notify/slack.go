package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/httpcall"
)

// Slack posts notifications to an incoming webhook
type Slack struct {
	webhookURL string
	client     *httpcall.Client
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlack creates a Slack notifier for webhookURL
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     httpcall.New(10 * time.Second),
	}
}

func slackColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func buildSlackMessage(n Notification) slackMessage {
	att := slackAttachment{
		Color:  slackColor(n.Level),
		Title:  n.ChainName,
		Text:   n.Message,
		Footer: "chain-orch",
	}
	if n.RunID != "" {
		att.Fields = append(att.Fields, slackField{Title: "Run", Value: n.RunID, Short: true})
	}
	if n.Level != LevelInfo {
		att.Fields = append(att.Fields, slackField{Title: "Level", Value: n.Level.String(), Short: true})
	}
	return slackMessage{Text: n.Title, Attachments: []slackAttachment{att}}
}

// Send posts n to the webhook
func (s *Slack) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(buildSlackMessage(n))
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, httpcall.Request{
		URL:     s.webhookURL,
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(payload),
	})
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("slack returned %d: %s", resp.Status, resp.Body)
	}
	return nil
}
