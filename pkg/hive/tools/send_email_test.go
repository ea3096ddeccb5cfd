package tools

import (
	"context"
	"testing"
)

func TestSendEmailRequiresToAndSubject(t *testing.T) {
	tool := SendEmailTool(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "hive@example.com"})
	_, err := tool.Handler(context.Background(), map[string]any{"body": "hi"})
	if err == nil {
		t.Fatalf("expected error for missing to/subject")
	}
}

func TestSendEmailRequiresConfiguredRelay(t *testing.T) {
	tool := SendEmailTool(SMTPConfig{})
	_, err := tool.Handler(context.Background(), map[string]any{"to": "a@b.com", "subject": "hi", "body": "hi"})
	if err == nil {
		t.Fatalf("expected error when no SMTP relay is configured")
	}
}
