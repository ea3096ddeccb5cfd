package tools

import (
	"context"

	"github.com/wneessen/go-mail"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
)

// SMTPConfig is the operator-level SMTP relay configuration the send_email
// tool sends through (§4.5): generic to any relay, not bound to one vendor
// API.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

type sendEmailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendEmailTool returns the user-scoped send_email tool, wired to a single
// operator-configured SMTP relay via github.com/wneessen/go-mail.
//
// Grounded on rakunlabs-at's internal/service/workflow/nodes/email.go,
// narrowed from its per-node templated to/cc/bcc/reply-to configuration
// (out of scope here — the spec's send_email tool call supplies only
// to/subject/body) down to the fields the spec actually exercises.
func SendEmailTool(cfg SMTPConfig) executor.Tool {
	return executor.Tool{
		Definition: llm.ToolDefinition{
			Name:        "send_email",
			Description: "Send an email via the configured SMTP relay.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      map[string]any{"type": "string"},
					"subject": map[string]any{"type": "string"},
					"body":    map[string]any{"type": "string"},
				},
				"required": []string{"to", "subject", "body"},
			},
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var in sendEmailInput
			if err := decodeInput(raw, &in); err != nil {
				return nil, err
			}
			if in.To == "" || in.Subject == "" {
				return nil, apperr.New(apperr.Validation, "send_email requires to and subject")
			}
			if cfg.Host == "" {
				return nil, apperr.New(apperr.NotConfigured, "send_email: no SMTP relay configured")
			}

			m := mail.NewMsg()
			if err := m.From(cfg.From); err != nil {
				return nil, apperr.Wrap(apperr.Validation, "setting from address", err)
			}
			if err := m.To(in.To); err != nil {
				return nil, apperr.Wrap(apperr.Validation, "setting to address", err)
			}
			m.Subject(in.Subject)
			m.SetBodyString(mail.ContentType("text/plain"), in.Body)

			opts := []mail.Option{mail.WithPort(cfg.Port)}
			if cfg.Username != "" {
				opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(cfg.Username), mail.WithPassword(cfg.Password))
			}
			if cfg.UseTLS {
				opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
			} else {
				opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
			}

			client, err := mail.NewClient(cfg.Host, opts...)
			if err != nil {
				return nil, apperr.Wrap(apperr.NotConfigured, "creating SMTP client", err)
			}
			if err := client.DialAndSend(m); err != nil {
				return nil, apperr.Wrap(apperr.Transport, "sending email", err)
			}
			return map[string]any{"status": "sent", "to": in.To}, nil
		},
	}
}
