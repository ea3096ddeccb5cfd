// Package gateway implements the Gateway (C7): the 16-step per-message
// state machine that turns one inbound chat message into a persisted,
// routed, executed, and replied-to conversation turn.
//
// Grounded on pkg/goclaw/copilot/assistant.go's ProcessMessage pipeline
// ("access check → command → trigger → workspace → validate → build →
// execute → validate → send"), generalized from that fixed sequence into
// the spec's explicit 16 steps and composed entirely from the other
// components built so far (store, orchestrator, contextbuilder, executor,
// summarizer, tools, trigger) rather than owning any of that logic
// itself.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/contextbuilder"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/tools"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/trigger"
)

// channelPrefixRe recognizes an inbound id carrying a channel prefix
// (§4.6 step 1, §6 "channel identity mapping").
var channelPrefixRe = regexp.MustCompile(`^(tg|wa):(.+)$`)

var prefixChannelName = map[string]string{"tg": "telegram", "wa": "whatsapp"}

// Summarizer is the narrow interface the Gateway needs from the
// Summarizer (C5) — a single fire-and-forget trigger, so the Gateway
// doesn't need to depend on its internal model/executor wiring.
type Summarizer interface {
	TriggerAsync(conversationID string)
}

// OutboundSender delivers a message to a user over whatever channel
// adapter (B1) is currently connected for them. The Gateway degrades to
// appending the message to the user's conversation, with no outbound
// delivery, when none is wired — a `notify` workflow step should never
// hard-fail a run just because no channel happens to be connected.
type OutboundSender interface {
	SendTo(ctx context.Context, recipientUserID, message string) error
}

// Dependencies are every collaborator the Gateway composes.
type Dependencies struct {
	Repo          store.Store
	Orchestrator  *orchestrator.Orchestrator
	Executor      *executor.Executor
	ModelTiers    map[string]string // logical tier ("haiku"/"sonnet"/"opus") -> backend model id
	ScriptRunner  *sandbox.Runner
	SMTP          tools.SMTPConfig
	Trigger       *trigger.Trigger // may be nil to disable workflow pre-routing
	Summarizer    Summarizer       // may be nil to disable summarization
	Outbound      OutboundSender   // may be nil; falls back to conversation-log delivery
	DataDir       string
	AssistantName string
	Timezone      string
	DebugEnabled  bool
	Logger        *slog.Logger
}

// Options tunes a single Handle call.
type Options struct {
	ConversationID string
	ForceSkill     string
	Tools          []string // additional tool names beyond the always-on set
}

// Response is what Handle returns to the caller.
type Response struct {
	Content              string
	ConversationID       string
	Routing              orchestrator.Decision
	ModelID              string
	Tier                 string
	TokensIn             int
	TokensOut            int
	CostCents            float64
	EstimatedTokensSaved int
}

// Gateway is the stateful per-message pipeline. It is safe for
// concurrent use by multiple channel adapters.
type Gateway struct {
	deps   Dependencies
	skills *skillResolver
	logger *slog.Logger

	identityCacheMu sync.Mutex
	identityCache   map[string]string // rawUserID -> resolved ownerID, no TTL (cheap, rarely invalidated)
}

// New builds a Gateway from deps.
func New(deps Dependencies) *Gateway {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Gateway{
		deps:          deps,
		skills:        newSkillResolver(deps.Repo, deps.DataDir),
		logger:        deps.Logger.With("component", "gateway"),
		identityCache: make(map[string]string),
	}
}

// Handle runs the full 16-step pipeline for one inbound message.
func (g *Gateway) Handle(ctx context.Context, rawUserID, message, channel string, opts Options) (*Response, error) {
	// 1. Resolve identity.
	ownerID, err := g.resolveIdentity(ctx, rawUserID, channel)
	if err != nil {
		return nil, err
	}
	if err := ensureWorkspace(g.deps.DataDir, ownerID); err != nil {
		g.logger.Warn("ensuring workspace", "user_id", ownerID, "error", err)
	}

	// 2. Open conversation.
	conv, err := g.openConversation(ctx, ownerID, opts.ConversationID)
	if err != nil {
		return nil, err
	}

	// 3. Persist user turn immediately.
	if _, err := g.deps.Repo.AppendMessage(ctx, conv.ID, store.RoleUser, message); err != nil {
		return nil, err
	}

	// 4. Load history: last 20, filtered to user/assistant, sliced to last 10.
	history, err := g.loadHistory(ctx, conv.ID, message)
	if err != nil {
		return nil, err
	}

	// 5. Workflow pre-routing (two gates).
	if g.deps.Trigger != nil {
		if g.deps.Trigger.HasPending(ownerID) || trigger.LooksLikeTrigger(message) {
			res, err := g.deps.Trigger.Handle(ctx, ownerID, message)
			if err != nil {
				return nil, err
			}
			if res.Handled {
				return g.finishWithReply(ctx, conv.ID, res.Reply)
			}
		}
	}

	// 6. Route.
	availableSkills, err := g.skills.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	orchestratorHistory := lastOrchestratorTurns(history, 5)
	decision := g.deps.Orchestrator.Route(ctx, message, orchestratorHistory, availableSkills)

	// 7. Post-routing workflow gate.
	if decision.Intent == orchestrator.IntentWorkflowTrigger && g.deps.Trigger != nil {
		res, err := g.deps.Trigger.Handle(ctx, ownerID, message)
		if err != nil {
			return nil, err
		}
		if res.Handled {
			return g.finishWithReply(ctx, conv.ID, res.Reply)
		}
	}

	// 8. Load skill.
	skillName := decision.SelectedSkill
	if opts.ForceSkill != "" {
		skillName = opts.ForceSkill
		decision.SelectedSkill = opts.ForceSkill
	}
	var skillContent string
	if skillName != "" {
		if resolved, err := g.skills.Resolve(ctx, ownerID, skillName); err == nil {
			skillContent = resolved.content
		} else {
			g.logger.Warn("skill not found", "user_id", ownerID, "skill", skillName, "error", err)
		}
	}

	// 9. Inject stored summary if the orchestrator didn't produce one.
	if decision.ContextSummary == "" && conv.Summary != "" {
		decision.ContextSummary = conv.Summary
	}

	// 10. Compose overrides.
	overrides, err := g.composeOverrides(ctx, ownerID, decision)
	if err != nil {
		return nil, err
	}

	// 11. Build context.
	activeTools := unionTools(opts.Tools)
	built := contextbuilder.Build(contextbuilder.Input{
		Decision:        decision,
		UserMessage:     message,
		History:         lastN(toContextTurns(history), 5),
		SkillContent:    skillContent,
		Overrides:       overrides,
		ActiveToolNames: activeTools,
		AssistantName:   g.deps.AssistantName,
		Timezone:        g.deps.Timezone,
		Now:             time.Now(),
	})

	// 12. Resolve the model.
	tier := resolveTier(decision.Intent, decision.Complexity)
	modelID := resolveModelID(g.deps.ModelTiers, tier)

	// 13. Execute.
	execTools := g.buildTools(ownerID, activeTools)
	messages := toLLMMessages(toContextTurns(history), message)
	result, err := g.deps.Executor.Execute(ctx, messages, modelID, tier, executor.Options{
		SystemPrompt:  built.SystemPrompt,
		Tools:         execTools,
		MaxToolRounds: 5,
	})
	if err != nil {
		return nil, err
	}

	// 14. Persist assistant turn; log usage; invoke Summarizer.
	if _, err := g.deps.Repo.AppendMessage(ctx, conv.ID, store.RoleAssistant, result.Content); err != nil {
		return nil, err
	}
	if err := g.deps.Repo.LogUsage(ctx, ownerID, modelID, result.TokensIn, result.TokensOut, result.CostCents); err != nil {
		g.logger.Warn("logging usage", "error", err)
	}
	if g.deps.Summarizer != nil {
		g.deps.Summarizer.TriggerAsync(conv.ID)
	}

	// 15. Return.
	estimatedTokensSaved := 2500 - built.EstimatedTokens
	if estimatedTokensSaved < 0 {
		estimatedTokensSaved = 0
	}
	resp := &Response{
		Content:              result.Content,
		ConversationID:       conv.ID,
		Routing:              decision,
		ModelID:              modelID,
		Tier:                 tier,
		TokensIn:             result.TokensIn,
		TokensOut:            result.TokensOut,
		CostCents:            result.CostCents,
		EstimatedTokensSaved: estimatedTokensSaved,
	}

	// 16. Debug log (fire-and-forget, swallowed errors).
	if g.deps.DebugEnabled {
		go g.appendDebugLog(ownerID, conv.ID, decision, resp)
	}

	return resp, nil
}

// CallSkill implements workflow.SkillCaller: a workflow "skill" step
// calls back into the Gateway with channel="workflow" and a forced
// skill, getting the plain text response back without any of the
// wrapping the channel adapters would otherwise add.
func (g *Gateway) CallSkill(ctx context.Context, callerUserID, skillName, message string, toolNames []string) (string, error) {
	resp, err := g.Handle(ctx, callerUserID, message, "workflow", Options{ForceSkill: skillName, Tools: toolNames})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Send implements workflow.NotificationSender. With an OutboundSender
// wired, it delivers over the recipient's connected channel; otherwise
// it appends the message to their most recent conversation so it's at
// least visible the next time they open it.
func (g *Gateway) Send(ctx context.Context, recipientUserID, message string) error {
	if g.deps.Outbound != nil {
		return g.deps.Outbound.SendTo(ctx, recipientUserID, message)
	}
	conv, err := g.openConversation(ctx, recipientUserID, "")
	if err != nil {
		return err
	}
	_, err = g.deps.Repo.AppendMessage(ctx, conv.ID, store.RoleAssistant, message)
	return err
}

func (g *Gateway) finishWithReply(ctx context.Context, conversationID, reply string) (*Response, error) {
	if _, err := g.deps.Repo.AppendMessage(ctx, conversationID, store.RoleAssistant, reply); err != nil {
		return nil, err
	}
	return &Response{Content: reply, ConversationID: conversationID}, nil
}

// resolveIdentity maps a raw inbound id to the owning user id, caching
// the result since the mapping never changes once a channel identity is
// created (unlike skillResolver's set, there's nothing to invalidate).
func (g *Gateway) resolveIdentity(ctx context.Context, rawUserID, channel string) (string, error) {
	g.identityCacheMu.Lock()
	if owner, ok := g.identityCache[rawUserID]; ok {
		g.identityCacheMu.Unlock()
		return owner, nil
	}
	g.identityCacheMu.Unlock()

	owner, err := g.lookupIdentity(ctx, rawUserID, channel)
	if err != nil {
		return "", err
	}
	g.identityCacheMu.Lock()
	g.identityCache[rawUserID] = owner
	g.identityCacheMu.Unlock()
	return owner, nil
}

func (g *Gateway) lookupIdentity(ctx context.Context, rawUserID, channel string) (string, error) {
	m := channelPrefixRe.FindStringSubmatch(rawUserID)
	if m == nil {
		if _, err := g.deps.Repo.GetOrCreateUser(ctx, rawUserID); err != nil {
			return "", err
		}
		return rawUserID, nil
	}
	prefix, channelUserID := m[1], m[2]
	chName := channel
	if chName == "" {
		chName = prefixChannelName[prefix]
	}
	if identity, err := g.deps.Repo.ResolveChannelIdentity(ctx, chName, channelUserID); err == nil {
		return identity.OwnerID, nil
	}
	// First contact on this channel: mint a new user and link it.
	user, err := g.deps.Repo.GetOrCreateUser(ctx, rawUserID)
	if err != nil {
		return "", err
	}
	if _, err := g.deps.Repo.CreateChannelIdentity(ctx, user.ID, chName, channelUserID); err != nil {
		return "", err
	}
	return user.ID, nil
}

func (g *Gateway) openConversation(ctx context.Context, ownerID, conversationID string) (*store.Conversation, error) {
	if conversationID != "" {
		return g.deps.Repo.GetConversation(ctx, conversationID)
	}
	conv, err := g.deps.Repo.GetMostRecentConversation(ctx, ownerID)
	if err == nil {
		return conv, nil
	}
	if kind, ok := apperr.KindOf(err); !ok || kind != apperr.NotFound {
		return nil, err
	}
	return g.deps.Repo.CreateConversation(ctx, ownerID)
}

// loadHistory loads the last 20 messages, filters to user/assistant
// roles, and slices to the last 10 — excluding the current user turn
// that step 3 just persisted.
func (g *Gateway) loadHistory(ctx context.Context, conversationID, currentMessage string) ([]*store.Message, error) {
	msgs, err := g.deps.Repo.ListMessages(ctx, conversationID, 20)
	if err != nil {
		return nil, err
	}
	var filtered []*store.Message
	for _, m := range msgs {
		if m.Role == store.RoleUser || m.Role == store.RoleAssistant {
			filtered = append(filtered, m)
		}
	}
	// Drop the just-persisted current turn, the last user message.
	if len(filtered) > 0 && filtered[len(filtered)-1].Role == store.RoleUser && filtered[len(filtered)-1].Content == currentMessage {
		filtered = filtered[:len(filtered)-1]
	}
	if len(filtered) > 10 {
		filtered = filtered[len(filtered)-10:]
	}
	return filtered, nil
}

func lastN(turns []contextbuilder.Turn, n int) []contextbuilder.Turn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func toContextTurns(msgs []*store.Message) []contextbuilder.Turn {
	out := make([]contextbuilder.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = contextbuilder.Turn{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// lastOrchestratorTurns pairs up to n of the most recent user→assistant
// exchanges for the Orchestrator's routing prompt.
func lastOrchestratorTurns(msgs []*store.Message, n int) []orchestrator.HistoryTurn {
	var turns []orchestrator.HistoryTurn
	var pendingUser string
	haveUser := false
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			pendingUser, haveUser = m.Content, true
		case store.RoleAssistant:
			if haveUser {
				turns = append(turns, orchestrator.HistoryTurn{UserMessage: pendingUser, AssistantResponse: m.Content})
				haveUser = false
			}
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func toLLMMessages(history []contextbuilder.Turn, currentMessage string) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == string(store.RoleAssistant) {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	out = append(out, llm.Message{Role: llm.RoleUser, Content: currentMessage})
	return out
}

// composeOverrides builds the per-user soul/identity/profile prompt
// fragments and, for file_operation intents, the file context bullet
// list (§4.6 step 10). The soul/identity/profile prompts all come from a
// single GetUser read of the user's config bag, done in a goroutine that
// composeOverrides waits on, since the Gateway needs all three before
// step 11.
func (g *Gateway) composeOverrides(ctx context.Context, ownerID string, decision orchestrator.Decision) (contextbuilder.Overrides, error) {
	type fetchResult struct {
		soul, identity, profile string
	}
	resCh := make(chan fetchResult, 1)
	go func() {
		var r fetchResult
		if user, err := g.deps.Repo.GetUser(ctx, ownerID); err == nil {
			r.soul = extractConfigString(user.ConfigBag, "soul_prompt")
			r.identity = extractConfigString(user.ConfigBag, "basic_identity")
			r.profile = extractConfigString(user.ConfigBag, "profile_prompt")
		}
		resCh <- r
	}()
	r := <-resCh

	overrides := contextbuilder.Overrides{SoulPrompt: r.soul, BasicIdentity: r.identity, ProfilePrompt: r.profile}
	if decision.Intent == orchestrator.IntentFileOperation {
		files, err := g.deps.Repo.ListFileMetadata(ctx, ownerID)
		if err == nil {
			overrides.FileContext = fileContextLines(g.deps.DataDir, ownerID, files)
		}
	}
	return overrides, nil
}

// extractConfigString pulls a flat string field out of the opaque
// ConfigBag JSON without requiring every caller to know its full shape.
func extractConfigString(configBag, key string) string {
	marker := fmt.Sprintf("%q:", key)
	idx := strings.Index(configBag, marker)
	if idx < 0 {
		return ""
	}
	rest := configBag[idx+len(marker):]
	start := strings.IndexByte(rest, '"')
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// unionTools merges the Gateway's always-on tool names with caller-
// requested ones, deduplicated.
func unionTools(requested []string) []string {
	always := []string{"manage_reminders", "run_script"}
	seen := make(map[string]bool, len(always)+len(requested))
	out := make([]string, 0, len(always)+len(requested))
	for _, name := range append(always, requested...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// buildTools constructs the concrete executor.Tool set for toolNames,
// binding each one to ownerID and the Gateway's shared collaborators.
func (g *Gateway) buildTools(ownerID string, toolNames []string) []executor.Tool {
	userFiles := filepathJoinFiles(g.deps.DataDir, ownerID)
	out := make([]executor.Tool, 0, len(toolNames))
	for _, name := range toolNames {
		switch name {
		case "manage_reminders":
			out = append(out, tools.ManageRemindersTool(ownerID, g.deps.Repo))
		case "run_script":
			out = append(out, tools.RunScriptTool(ownerID, g.deps.Repo, g.deps.ScriptRunner, userFiles))
		case "fetch_rss":
			out = append(out, tools.FetchRSSTool())
		case "fetch_url":
			out = append(out, tools.FetchURLTool())
		case "send_email":
			out = append(out, tools.SendEmailTool(g.deps.SMTP))
		default:
			g.logger.Warn("unknown tool requested", "tool", name)
		}
	}
	return out
}

func filepathJoinFiles(dataDir, userID string) string {
	return filepath.Join(userWorkspace(dataDir, userID), "files")
}

func (g *Gateway) appendDebugLog(ownerID, conversationID string, decision orchestrator.Decision, resp *Response) {
	payload := fmt.Sprintf(`{"intent":%q,"complexity":%q,"model":%q,"tokens_in":%d,"tokens_out":%d,"cost_cents":%f}`,
		decision.Intent, decision.Complexity, resp.ModelID, resp.TokensIn, resp.TokensOut, resp.CostCents)
	if err := g.deps.Repo.AppendDebugLog(context.Background(), ownerID, conversationID, payload); err != nil {
		g.logger.Warn("appending debug log", "error", err)
	}
}
