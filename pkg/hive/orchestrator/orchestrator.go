// Package orchestrator implements the routing component (C2): a single
// classification call that decides intent, complexity, model tier, and
// personality/bio defaults for one incoming message, with a deterministic
// heuristic fallback so routing failures never propagate to the caller.
//
// Grounded on pkg/goclaw/copilot/assistant.go's executeAgent call-the-
// provider-then-degrade shape, generalized from a single-provider copilot
// loop into the primary/fallback/heuristic three-tier routing the spec
// requires, and on llm.Provider as the pluggable upstream (§4.1).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
)

// Intent is the classified purpose of one message.
type Intent string

const (
	IntentTaskQuery       Intent = "task_query"
	IntentFileOperation   Intent = "file_operation"
	IntentConversation    Intent = "conversation"
	IntentCreative        Intent = "creative"
	IntentCode            Intent = "code"
	IntentAnalysis        Intent = "analysis"
	IntentGreeting        Intent = "greeting"
	IntentBriefing        Intent = "briefing"
	IntentWorkflowTrigger Intent = "workflow_trigger"
)

// Complexity is the routed difficulty tier, mapped to a model later.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// PersonalityLevel controls how much of the assistant's persona is
// injected into the system prompt.
type PersonalityLevel string

const (
	PersonalityFull    PersonalityLevel = "full"
	PersonalityMinimal PersonalityLevel = "minimal"
	PersonalityNone    PersonalityLevel = "none"
)

// Decision is the Orchestrator's routing output.
type Decision struct {
	SelectedSkill    string
	ContextSummary   string
	Intent           Intent
	Complexity       Complexity
	SuggestedModel   string // haiku | sonnet | opus
	PersonalityLevel PersonalityLevel
	IncludeBio       bool
	BioSections      []string
}

// HistoryTurn is one prior turn, already truncated by the caller.
type HistoryTurn struct {
	UserMessage       string
	AssistantResponse string
}

// Skill is the minimal shape the routing prompt needs.
type Skill struct {
	Name        string
	Description string
}

// Orchestrator routes one message through a primary provider, a
// configured fallback provider, and finally a heuristic.
type Orchestrator struct {
	primary  llm.Provider
	fallback llm.Provider // nil if none configured
	logger   *slog.Logger
}

// New builds an Orchestrator. fallback may be nil.
func New(primary, fallback llm.Provider, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{primary: primary, fallback: fallback, logger: logger.With("component", "orchestrator")}
}

// Route classifies message given recentHistory (already capped to the
// last five turns by the caller) and the user's available skills.
func (o *Orchestrator) Route(ctx context.Context, message string, recentHistory []HistoryTurn, availableSkills []Skill) Decision {
	prompt := buildRoutingPrompt(message, recentHistory, availableSkills)

	if text, err := o.primary.Route(ctx, prompt); err == nil {
		if d, perr := parseDecision(text); perr == nil {
			return enrich(d)
		} else {
			o.logger.Warn("routing response failed to parse, trying fallback", "error", perr)
		}
	} else {
		o.logger.Warn("primary routing provider failed, trying fallback", "error", err)
	}

	if o.fallback != nil {
		if text, err := o.fallback.Route(ctx, prompt); err == nil {
			if d, perr := parseDecision(text); perr == nil {
				return enrich(d)
			} else {
				o.logger.Warn("fallback routing response failed to parse, using heuristic", "error", perr)
			}
		} else {
			o.logger.Warn("fallback routing provider failed, using heuristic", "error", err)
		}
	}

	d := enrich(heuristicDecision(message))
	if d.Intent == IntentConversation {
		d.PersonalityLevel = PersonalityMinimal
	}
	return d
}

func buildRoutingPrompt(message string, history []HistoryTurn, skills []Skill) string {
	var sb strings.Builder
	sb.WriteString("You are a routing classifier. Respond with JSON only, no prose.\n\n")
	sb.WriteString("Available skills:\n")
	for _, s := range skills {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	sb.WriteString("\nRecent turns:\n")
	for _, h := range history {
		fmt.Fprintf(&sb, "user: %s\n", truncate(h.UserMessage, 150))
		if h.AssistantResponse != "" {
			fmt.Fprintf(&sb, "assistant: %s\n", truncate(h.AssistantResponse, 150))
		}
	}
	fmt.Fprintf(&sb, "\nCurrent message: %s\n\n", message)
	sb.WriteString(`Respond with JSON: {"selectedSkill":"","intent":"","complexity":"","suggestedModel":""}`)
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type rawDecision struct {
	SelectedSkill  string `json:"selectedSkill"`
	ContextSummary string `json:"contextSummary"`
	Intent         string `json:"intent"`
	Complexity     string `json:"complexity"`
	SuggestedModel string `json:"suggestedModel"`
}

func parseDecision(text string) (Decision, error) {
	text = extractJSON(text)
	var raw rawDecision
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Decision{}, fmt.Errorf("parsing routing response: %w", err)
	}
	return Decision{
		SelectedSkill:  raw.SelectedSkill,
		ContextSummary: raw.ContextSummary,
		Intent:         Intent(raw.Intent),
		Complexity:     Complexity(raw.Complexity),
		SuggestedModel: raw.SuggestedModel,
	}, nil
}

// extractJSON trims any leading/trailing prose the model adds despite
// instructions, keeping just the outermost { ... } block.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good morning|good afternoon|good evening)\b`)
	briefingRe = regexp.MustCompile(`(?i)\b(brief|briefing|daily update|summary of my day|what's on my (plate|agenda))\b`)
	codeRe     = regexp.MustCompile(`(?i)\b(function|class|bug|stack trace|compile|refactor|code|script)\b`)
)

// heuristicDecision is the deterministic fallback: regex matches for
// greeting/briefing/code keywords yield canned decisions; anything else
// is conversation/simple/sonnet/minimal.
func heuristicDecision(message string) Decision {
	switch {
	case greetingRe.MatchString(message):
		return Decision{Intent: IntentGreeting, Complexity: ComplexitySimple, SuggestedModel: "haiku"}
	case briefingRe.MatchString(message):
		return Decision{Intent: IntentBriefing, Complexity: ComplexityMedium, SuggestedModel: "sonnet"}
	case codeRe.MatchString(message):
		return Decision{Intent: IntentCode, Complexity: ComplexityMedium, SuggestedModel: "sonnet"}
	default:
		return Decision{Intent: IntentConversation, Complexity: ComplexitySimple, SuggestedModel: "sonnet"}
	}
}

// enrich applies the intent → personality/bio default table, overwriting
// whatever those fields held. Route then lowers the heuristic's catch-all
// conversation decision to minimal personality.
func enrich(d Decision) Decision {
	switch d.Intent {
	case IntentGreeting, IntentConversation:
		d.PersonalityLevel, d.IncludeBio = PersonalityFull, false
	case IntentBriefing:
		d.PersonalityLevel, d.IncludeBio = PersonalityMinimal, true
		d.BioSections = []string{"professional", "current_projects"}
	case IntentTaskQuery, IntentCode, IntentAnalysis:
		d.PersonalityLevel, d.IncludeBio = PersonalityMinimal, true
		d.BioSections = []string{"professional"}
	case IntentCreative:
		d.PersonalityLevel, d.IncludeBio = PersonalityFull, false
	case IntentFileOperation:
		d.PersonalityLevel, d.IncludeBio = PersonalityNone, false
	default:
		d.PersonalityLevel = PersonalityMinimal
	}
	if d.Complexity == "" {
		d.Complexity = ComplexitySimple
	}
	if d.SuggestedModel == "" {
		d.SuggestedModel = "sonnet"
	}
	return d
}
