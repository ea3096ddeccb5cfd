// Package summarizer implements the rolling conversation-compression
// component (C5): once a conversation grows past a threshold, condense
// everything but the most recent turns into a short running summary
// persisted on the Conversation row, so later turns can rebuild context
// cheaply instead of replaying full history.
//
// Grounded on pkg/goclaw/copilot/agent.go's doLLMCallWithOverflowRetry /
// compactMessages compaction strategy, generalized from a reactive
// "only compact when the provider rejects the context" retry into the
// spec's proactive message-count threshold, and built on the Executor
// (C4) as the actual model call rather than a bespoke provider client.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

const (
	summarizeThreshold = 20
	keepRecent         = 6
	maxSummaryTokens   = 256
	asyncTimeout       = 30 * time.Second
)

const summarizeSystemPrompt = "Summarize this conversation concisely in 2-4 sentences, preserving names, decisions, and open tasks."

// Summarizer condenses older turns of a conversation into
// Conversation.summary, via the haiku tier of the Executor.
type Summarizer struct {
	exec    *executor.Executor
	modelID string
	repo    store.Store
	logger  *slog.Logger
}

// New binds a Summarizer to the haiku-tier executor and model id it
// should call, and the repository it reads/writes conversations from.
func New(exec *executor.Executor, modelID string, repo store.Store, logger *slog.Logger) *Summarizer {
	return &Summarizer{exec: exec, modelID: modelID, repo: repo, logger: logger.With("component", "summarizer")}
}

// TriggerAsync runs Summarize in the background with its own bounded
// context, detached from the caller's request lifecycle, and swallows
// any failure beyond a log line — summarization is never allowed to
// affect the Gateway's response to the user.
func (s *Summarizer) TriggerAsync(conversationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if err := s.Summarize(ctx, conversationID); err != nil {
			s.logger.Warn("summarization failed", "conversation_id", conversationID, "error", err)
		}
	}()
}

// Summarize condenses conversationID's older turns into a fresh
// Conversation.summary. It is a no-op below the message-count
// threshold. A prior summary, if any, is fed back in as context rather
// than skipped — the conversation is always re-summarized in full from
// the running summary plus every message older than the keepRecent most
// recent ones.
func (s *Summarizer) Summarize(ctx context.Context, conversationID string) error {
	count, err := s.repo.CountMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if count < summarizeThreshold {
		return nil
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID, count)
	if err != nil {
		return err
	}
	if len(msgs) <= keepRecent {
		return nil
	}
	older := msgs[:len(msgs)-keepRecent]

	prompt := buildSummarizationPrompt(conv.Summary, older)
	res, err := s.exec.Execute(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, s.modelID, "haiku", executor.Options{
		SystemPrompt:  summarizeSystemPrompt,
		MaxTokens:     maxSummaryTokens,
		Temperature:   0,
		MaxToolRounds: 1,
	})
	if err != nil {
		return err
	}

	summary := strings.TrimSpace(res.Content)
	if summary == "" {
		return nil
	}
	return s.repo.UpdateConversationSummary(ctx, conversationID, summary)
}

func buildSummarizationPrompt(prior string, msgs []*store.Message) string {
	var sb strings.Builder
	sb.WriteString("Previous context: ")
	sb.WriteString(prior)
	sb.WriteString("\n\nConversation:\n")
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}
