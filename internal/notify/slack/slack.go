// Package slack sends audit notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

const (
	maxContentLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts escalations and finished cascades to a Slack webhook. It
// satisfies audit.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every
// notification is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Escalated posts a message the validator sent to the error queue.
func (n *Notifier) Escalated(ctx context.Context, m *audit.Message) error {
	if n.webhookURL == "" {
		return nil
	}
	if err := n.post(ctx, escalationMessage(m)); err != nil {
		return err
	}
	n.logger.Info(ctx, "slack escalation posted", "message_id", m.ID)
	return nil
}

// CascadeCompleted posts the outcome of a reclassification cascade.
func (n *Notifier) CascadeCompleted(ctx context.Context, job *audit.CascadeJob) error {
	if n.webhookURL == "" {
		return nil
	}
	if err := n.post(ctx, cascadeMessage(job)); err != nil {
		return err
	}
	n.logger.Info(ctx, "slack cascade summary posted", "job_id", job.ID, "rule_id", job.RuleID)
	return nil
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func escalationMessage(m *audit.Message) map[string]any {
	title := fmt.Sprintf("%s Mensaje derivado: #%s (%s)", levelEmoji(m.Level), m.ExternalID, m.Line)
	comment := m.ValidatorComment
	if comment == "" {
		comment = "_Sin comentario._"
	}
	return map[string]any{
		"blocks": []map[string]any{
			header(title),
			{"type": "divider"},
			fields(
				"Línea", m.Line,
				"Nivel", string(m.Level),
				"Tipo", string(m.Type),
				"Derivado por", m.EscalatedBy,
			),
			{"type": "divider"},
			section(fmt.Sprintf("*Mensaje*\n\n%s", truncate(m.Content, maxContentLen))),
			section(fmt.Sprintf("*Comentario del validador*\n\n%s", truncate(comment, maxContentLen))),
			{"type": "divider"},
			footer(fmt.Sprintf("auditoria • mensaje %d • %s", m.ID, stamp(m.EscalatedAt))),
		},
	}
}

func cascadeMessage(job *audit.CascadeJob) map[string]any {
	emoji, title := "\U0001f7e2", "Reclasificación completa" // green circle
	if job.Status == audit.JobFailed {
		emoji, title = "\U0001f534", "Reclasificación fallida" // red circle
	}

	blocks := []map[string]any{
		header(fmt.Sprintf("%s %s: regla %s", emoji, title, job.RuleID)),
		{"type": "divider"},
		fields(
			"Resueltos", fmt.Sprint(job.Resolved),
			"Reclasificados", fmt.Sprint(job.Reclassified),
			"Evaluados", fmt.Sprint(job.Evaluated),
			"Versión de reglas", fmt.Sprint(job.Version),
		),
	}
	if job.Error != "" {
		blocks = append(blocks, section(fmt.Sprintf("*Error*\n\n%s", truncate(job.Error, maxContentLen))))
	}
	blocks = append(blocks,
		map[string]any{"type": "divider"},
		footer(fmt.Sprintf("auditoria • cascada %s • %s", job.ID, stamp(job.FinishedAt))),
	)
	return map[string]any{"blocks": blocks}
}

func header(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

// fields builds a section from label, value pairs.
func fields(kv ...string) map[string]any {
	out := make([]map[string]any, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		if v == "" {
			v = "-"
		}
		out = append(out, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:* %s", kv[i], v),
		})
	}
	return map[string]any{
		"type":   "section",
		"fields": out,
	}
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func footer(text string) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

func stamp(t *time.Time) string {
	ts := time.Now()
	if t != nil {
		ts = *t
	}
	return ts.UTC().Format("2006-01-02 15:04 UTC")
}

func levelEmoji(level classify.Level) string {
	switch level {
	case classify.LevelImportant:
		return "\U0001f534" // red circle
	case classify.LevelObservations, classify.LevelSuggestions:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
