// Package contextbuilder implements the Context Builder (C3): assembly
// of one turn's system prompt and message list from the Orchestrator's
// routing decision, the user's message, prior turns, and optional
// per-user overrides.
//
// Grounded on pkg/goclaw/copilot/prompt_layers.go's priority-sorted
// layerEntry/Compose mechanism, narrowed to exactly the section list the
// spec names (no bootstrap-file layer, no business-context layer — those
// belong to the soul/profile file boundary the spec places out of
// scope) and driven by an orchestrator.Decision instead of a Session.
package contextbuilder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"
)

// priority is this package's local analogue of the teacher's PromptLayer:
// lower values sort first.
type priority int

const (
	priorityPersonality priority = 0
	priorityIdentity    priority = 10
	priorityTemporal    priority = 20
	priorityToolPolicy  priority = 30
	priorityProfile     priority = 40
	priorityFiles       priority = 50
	prioritySkill       priority = 60
	prioritySummary     priority = 70
)

type layerEntry struct {
	priority priority
	content  string
}

// Overrides are the Gateway's lazily-composed per-user prompt fragments.
type Overrides struct {
	SoulPrompt    string
	BasicIdentity string // overrides the default "name + timezone" line if set
	ProfilePrompt string
	FileContext   string // bullet list of filenames with size/mtime, file_operation intents only
}

// Turn is one prior user/assistant exchange already capped to the last
// five by the caller.
type Turn struct {
	Role    string // "user" | "assistant"
	Content string
}

// Input is everything the Context Builder needs for one turn.
type Input struct {
	Decision        orchestrator.Decision
	UserMessage     string
	History         []Turn // up to five prior turns, excluding the current message
	SkillContent    string
	Overrides       Overrides
	ActiveToolNames []string
	AssistantName   string
	Timezone        string
	Now             time.Time
}

// Output is the assembled system prompt plus the message list ready for
// the Executor.
type Output struct {
	SystemPrompt    string
	Messages        []Turn
	EstimatedTokens int
}

// Build assembles the system prompt and message list for one turn.
func Build(in Input) Output {
	var layers []layerEntry

	if content := personalityLayer(in.Decision); content != "" {
		layers = append(layers, layerEntry{priorityPersonality, content})
	}
	layers = append(layers, layerEntry{priorityIdentity, identityLayer(in)})
	layers = append(layers, layerEntry{priorityTemporal, temporalLayer(in)})
	if len(in.ActiveToolNames) > 0 {
		layers = append(layers, layerEntry{priorityToolPolicy, toolPolicyLayer()})
	}
	if in.Decision.IncludeBio && in.Overrides.ProfilePrompt != "" {
		layers = append(layers, layerEntry{priorityProfile, in.Overrides.ProfilePrompt})
	}
	if in.Decision.Intent == orchestrator.IntentFileOperation && in.Overrides.FileContext != "" {
		layers = append(layers, layerEntry{priorityFiles, "## Files\n\n" + in.Overrides.FileContext})
	}
	if in.SkillContent != "" {
		layers = append(layers, layerEntry{prioritySkill, in.SkillContent})
	}
	if in.Decision.ContextSummary != "" {
		layers = append(layers, layerEntry{prioritySummary, "## Conversation Summary\n\n" + in.Decision.ContextSummary})
	}

	systemPrompt := compose(layers)
	messages := append(append([]Turn{}, in.History...), Turn{Role: "user", Content: in.UserMessage})

	chars := len(systemPrompt) + len(in.UserMessage)
	for _, m := range in.History {
		chars += len(m.Content)
	}
	estTokens := (chars + 3) / 4

	return Output{SystemPrompt: systemPrompt, Messages: messages, EstimatedTokens: estTokens}
}

func compose(layers []layerEntry) string {
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].priority < layers[j].priority })
	parts := make([]string, 0, len(layers))
	for _, l := range layers {
		if l.content != "" {
			parts = append(parts, l.content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func personalityLayer(d orchestrator.Decision) string {
	switch d.PersonalityLevel {
	case orchestrator.PersonalityFull:
		return "## Personality\n\nRespond warmly and conversationally, with your full personality."
	case orchestrator.PersonalityMinimal:
		return "## Personality\n\nRespond helpfully and concisely; keep personality light."
	default:
		return ""
	}
}

func identityLayer(in Input) string {
	if in.Overrides.BasicIdentity != "" {
		return in.Overrides.BasicIdentity
	}
	return fmt.Sprintf("You are %s. Timezone: %s.", in.AssistantName, in.Timezone)
}

func temporalLayer(in Input) string {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	return fmt.Sprintf("## Current Date & Time\n\n%s (%s)", now.Format("2006-01-02 15:04 Monday"), in.Timezone)
}

func toolPolicyLayer() string {
	return "## Tool Usage Policy\n\nOnly report actions you actually took by calling the corresponding tool. Never claim to have sent a message, run a script, or set a reminder without the matching tool call's result confirming it."
}
