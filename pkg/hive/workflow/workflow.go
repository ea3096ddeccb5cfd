// Package workflow implements the Workflow Engine (C8): a fixed-shape,
// ordered step runner over `{script, skill, notify}` steps, each with its
// own input-resolution rules (static/templated literal, cross-step ref,
// vault credential).
//
// Grounded on rakunlabs-at's workflow node dispatch (a `switch
// node.Type` over concrete node structs, never a DAG/generic composable-
// step library) and its goja.go/nodes/script.go use of the embedded
// interpreter, now the Sandboxed Script Runner (C12). The `notify` step's
// three-tier recipient resolution and dual-conversation persistence is
// new to this spec; everything else narrows the pack's node-dispatch
// shape to the spec's exact three step types.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

// StepType discriminates a StepDefinition's dispatcher.
type StepType string

const (
	StepScript StepType = "script"
	StepSkill  StepType = "skill"
	StepNotify StepType = "notify"
)

// InputKind discriminates how one input value is resolved.
type InputKind string

const (
	InputStatic     InputKind = "static"
	InputRef        InputKind = "ref"
	InputCredential InputKind = "credential"
)

// InputValue is one entry in a StepDefinition's Inputs map.
type InputValue struct {
	Kind       InputKind `json:"kind"`
	Static     any       `json:"static,omitempty"`
	Ref        string    `json:"ref,omitempty"`        // "<stepId>[.path...]"
	Credential string    `json:"credential,omitempty"` // credential name
}

// StepDefinition is a tagged variant over {script, skill, notify}: a
// struct with a Type discriminator and per-type optional fields, not a
// type hierarchy.
type StepDefinition struct {
	ID     string                `json:"id"`
	Type   StepType              `json:"type"`
	Inputs map[string]InputValue `json:"inputs"`

	ScriptID string `json:"scriptId,omitempty"` // script

	SkillName string   `json:"skillName,omitempty"` // skill
	Tools     []string `json:"tools,omitempty"`     // skill

	Recipient  string `json:"recipient,omitempty"`  // notify
	IdentityID string `json:"identityId,omitempty"` // notify
	Channel    string `json:"channel,omitempty"`    // notify
}

// StepResult records the outcome of one dispatched step.
type StepResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"` // completed | failed | skipped
	DurationMs int64  `json:"durationMs"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunResult is the engine's contract output for one Execute call.
type RunResult struct {
	Status          string       `json:"status"` // completed | failed
	Steps           []StepResult `json:"steps"`
	TotalDurationMs int64        `json:"totalDurationMs"`
	Error           string       `json:"error,omitempty"`
}

// SkillCaller is the subset of the Gateway a `skill` step needs: run one
// forced-skill turn and return its response text. Defined here (not
// imported from the gateway package) so the Engine never depends on the
// Gateway, which itself dispatches to workflows via the Trigger — the
// concrete *gateway.Gateway satisfies this interface structurally, wired
// together by the caller that owns both.
type SkillCaller interface {
	CallSkill(ctx context.Context, callerUserID, skillName, message string, tools []string) (string, error)
}

// CredentialVault is the subset of the Credential Vault a `credential`
// input mapping needs.
type CredentialVault interface {
	Retrieve(ctx context.Context, ownerID, name string) (string, error)
}

// NotificationSender delivers a `notify` step's rendered message to a
// resolved recipient, over whatever channel the caller wires in.
type NotificationSender interface {
	Send(ctx context.Context, recipientUserID, message string) error
}

// Engine executes Workflows one step at a time, persisting a WorkflowRun
// as it goes so a crash mid-run leaves a legible partial result.
type Engine struct {
	repo     store.Store
	scripts  *sandbox.Runner
	vault    CredentialVault
	skills   SkillCaller
	notifier NotificationSender
	workRoot string // parent of <userId>/files for script steps' cwd
	logger   *slog.Logger
}

// New builds an Engine. skills and notifier may be nil if the caller
// never runs workflows containing skill/notify steps.
func New(repo store.Store, scripts *sandbox.Runner, vlt CredentialVault, skills SkillCaller, notifier NotificationSender, workRoot string, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		scripts:  scripts,
		vault:    vlt,
		skills:   skills,
		notifier: notifier,
		workRoot: workRoot,
		logger:   logger.With("component", "workflow"),
	}
}

// Wire sets the skill caller and notification sender after construction,
// for the one case New can't take them directly: the Gateway (the usual
// implementation of both) is itself built from an Engine-backed Trigger,
// so something has to close the loop once both sides exist.
func (e *Engine) Wire(skills SkillCaller, notifier NotificationSender) {
	e.skills = skills
	e.notifier = notifier
}

// Execute loads workflowID, runs its steps in order for callerUserID, and
// returns the accumulated result. A workflow with zero steps completes
// immediately with an empty step list.
func (e *Engine) Execute(ctx context.Context, workflowID, callerUserID string) (*RunResult, error) {
	wf, err := e.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var steps []StepDefinition
	if err := json.Unmarshal([]byte(wf.StepsJSON), &steps); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "decoding workflow steps", err)
	}

	run, err := e.repo.CreateWorkflowRun(ctx, workflowID, callerUserID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if len(steps) == 0 {
		run.Status = store.RunCompleted
		completed := time.Now().UTC()
		run.CompletedAt = &completed
		run.StepsResultJSON = "[]"
		if err := e.repo.UpdateWorkflowRun(ctx, run); err != nil {
			return nil, err
		}
		return &RunResult{Status: string(store.RunCompleted), Steps: nil, TotalDurationMs: 0}, nil
	}

	outputs := make(map[string]any, len(steps))
	var results []StepResult
	overallErr := ""
	failedAt := -1

	for i, step := range steps {
		stepStart := time.Now()
		inputs, err := e.resolveInputs(ctx, callerUserID, step.Inputs, outputs)
		if err != nil {
			results = append(results, StepResult{ID: step.ID, Status: "failed", DurationMs: time.Since(stepStart).Milliseconds(), Error: err.Error()})
			overallErr = err.Error()
			failedAt = i
			break
		}

		output, err := e.dispatch(ctx, callerUserID, step, inputs)
		dur := time.Since(stepStart).Milliseconds()
		if err != nil {
			results = append(results, StepResult{ID: step.ID, Status: "failed", DurationMs: dur, Error: err.Error()})
			overallErr = err.Error()
			failedAt = i
			break
		}

		outputs[step.ID] = output
		results = append(results, StepResult{ID: step.ID, Status: "completed", DurationMs: dur, Output: output})
		e.persistRun(ctx, run, results, "")
	}

	status := store.RunCompleted
	if failedAt >= 0 {
		status = store.RunFailed
		for _, skipped := range steps[failedAt+1:] {
			results = append(results, StepResult{ID: skipped.ID, Status: "skipped"})
		}
	}

	run.Status = status
	run.Error = overallErr
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	e.persistRun(ctx, run, results, overallErr)

	out := &RunResult{Status: string(status), Steps: results, TotalDurationMs: time.Since(start).Milliseconds(), Error: overallErr}
	return out, nil
}

func (e *Engine) persistRun(ctx context.Context, run *store.WorkflowRun, results []StepResult, runErr string) {
	b, err := json.Marshal(results)
	if err != nil {
		e.logger.Warn("encoding step results", "run_id", run.ID, "error", err)
		return
	}
	run.StepsResultJSON = string(b)
	run.Error = runErr
	if err := e.repo.UpdateWorkflowRun(ctx, run); err != nil {
		e.logger.Warn("persisting workflow run", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) dispatch(ctx context.Context, callerUserID string, step StepDefinition, inputs map[string]any) (any, error) {
	switch step.Type {
	case StepScript:
		return e.runScriptStep(ctx, callerUserID, step, inputs)
	case StepSkill:
		return e.runSkillStep(ctx, callerUserID, step, inputs)
	case StepNotify:
		return e.runNotifyStep(ctx, callerUserID, step, inputs)
	default:
		return nil, apperr.Newf(apperr.Validation, "unknown step type %q", step.Type)
	}
}

func (e *Engine) runScriptStep(ctx context.Context, callerUserID string, step StepDefinition, inputs map[string]any) (any, error) {
	if step.ScriptID == "" {
		return nil, apperr.New(apperr.Validation, "script step missing scriptId")
	}
	sc, err := e.repo.GetScript(ctx, step.ScriptID)
	if err != nil {
		return nil, err
	}
	cwd := filepath.Join(e.workRoot, callerUserID, "files")
	res, err := e.scripts.Run(ctx, sc.Source, inputs, cwd)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, apperr.Newf(apperr.Validation, "script %q failed: %s", sc.Name, res.Error)
	}
	return res.Output, nil
}

func (e *Engine) runSkillStep(ctx context.Context, callerUserID string, step StepDefinition, inputs map[string]any) (any, error) {
	if e.skills == nil {
		return nil, apperr.New(apperr.NotConfigured, "skill steps require a configured skill caller")
	}
	message := renderSkillMessage(inputs)
	response, err := e.skills.CallSkill(ctx, callerUserID, step.SkillName, message, step.Tools)
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": response}, nil
}

// renderSkillMessage concatenates the "message" input (if any) with the
// rest of the inputs formatted as human-readable blocks.
func renderSkillMessage(inputs map[string]any) string {
	var sb strings.Builder
	if msg, ok := inputs["message"].(string); ok && msg != "" {
		sb.WriteString(msg)
	}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		if k == "message" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", k, renderValue(inputs[k]))
	}
	return sb.String()
}

func (e *Engine) runNotifyStep(ctx context.Context, callerUserID string, step StepDefinition, inputs map[string]any) (any, error) {
	if e.notifier == nil {
		return nil, apperr.New(apperr.NotConfigured, "notify steps require a configured notification sender")
	}
	message := unwrapResponse(inputs["message"])

	recipientID, err := e.resolveRecipient(ctx, callerUserID, step)
	if err != nil {
		return nil, err
	}

	if err := e.notifier.Send(ctx, recipientID, message); err != nil {
		return nil, err
	}

	if err := e.persistNotification(ctx, callerUserID, message); err != nil {
		e.logger.Warn("persisting notify step into caller conversation", "error", err)
	}
	if recipientID != callerUserID {
		if err := e.persistNotification(ctx, recipientID, message); err != nil {
			e.logger.Warn("persisting notify step into recipient conversation", "error", err)
		}
	}

	return map[string]any{"recipient": recipientID, "message": message}, nil
}

// resolveRecipient implements the notify step's three-tier recipient
// resolution: explicit recipient input, identityId lookup (must be owned
// by the caller), then the first linked ChannelIdentity for step.channel,
// else fall back to stripping the tg:/wa: prefix off the caller id.
func (e *Engine) resolveRecipient(ctx context.Context, callerUserID string, step StepDefinition) (string, error) {
	if r, ok := firstNonEmptyStringInput(step.Recipient); ok {
		return r, nil
	}
	if step.IdentityID != "" {
		identities, err := e.repo.ListChannelIdentities(ctx, callerUserID)
		if err != nil {
			return "", err
		}
		for _, ci := range identities {
			if ci.ID == step.IdentityID {
				return ci.OwnerID, nil
			}
		}
		return "", apperr.New(apperr.Unauthorized, "identityId is not owned by the caller")
	}
	if step.Channel != "" {
		identities, err := e.repo.ListChannelIdentities(ctx, callerUserID)
		if err != nil {
			return "", err
		}
		for _, ci := range identities {
			if ci.Channel == step.Channel {
				return ci.OwnerID, nil
			}
		}
	}
	return stripChannelPrefix(callerUserID), nil
}

func firstNonEmptyStringInput(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	return s, true
}

var channelPrefixRe = regexp.MustCompile(`^(tg|wa):`)

func stripChannelPrefix(id string) string {
	return channelPrefixRe.ReplaceAllString(id, "")
}

// unwrapResponse unwraps a {"response": "..."} shape (the output of a
// preceding skill step, passed in via a ref mapping) down to the plain
// string; any other value renders through the usual value formatter.
func unwrapResponse(v any) string {
	if m, ok := v.(map[string]any); ok {
		if s, ok := m["response"].(string); ok {
			return s
		}
	}
	return renderValue(v)
}

func (e *Engine) persistNotification(ctx context.Context, userID, message string) error {
	conv, err := e.repo.GetMostRecentConversation(ctx, userID)
	if err != nil {
		if kind, ok := apperr.KindOf(err); !ok || kind != apperr.NotFound {
			return err
		}
		conv, err = e.repo.CreateConversation(ctx, userID)
		if err != nil {
			return err
		}
	}
	_, err = e.repo.AppendMessage(ctx, conv.ID, store.RoleAssistant, message)
	return err
}

// resolveInputs resolves one step's Inputs map against the outputs
// recorded by earlier steps and the caller's credential vault.
func (e *Engine) resolveInputs(ctx context.Context, callerUserID string, inputs map[string]InputValue, outputs map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(inputs))
	for name, iv := range inputs {
		switch iv.Kind {
		case InputStatic:
			if s, ok := iv.Static.(string); ok {
				resolved[name] = interpolate(s, outputs)
			} else {
				resolved[name] = iv.Static
			}

		case InputRef:
			stepID, path := splitRef(iv.Ref)
			val, ok := lookupPath(outputs[stepID], path)
			if !ok {
				return nil, apperr.Newf(apperr.Validation, "input %q: ref %q did not resolve", name, iv.Ref)
			}
			resolved[name] = val

		case InputCredential:
			if iv.Credential == "" {
				return nil, apperr.Newf(apperr.Validation, "input %q: credential mapping missing a name", name)
			}
			val, err := e.vault.Retrieve(ctx, callerUserID, iv.Credential)
			if err != nil {
				return nil, apperr.Wrap(apperr.Validation, fmt.Sprintf("input %q: credential %q", name, iv.Credential), err)
			}
			resolved[name] = val

		default:
			return nil, apperr.Newf(apperr.Validation, "input %q: unknown kind %q", name, iv.Kind)
		}
	}
	return resolved, nil
}

func splitRef(ref string) (stepID, path string) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func lookupPath(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}
	cur := root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

var stepRefRe = regexp.MustCompile(`\$\{steps\.([a-zA-Z0-9_\-]+)((?:\.[a-zA-Z0-9_\-]+)*)\}`)

// interpolate substitutes every ${steps.<id>[.path...]} reference in s
// with the referenced step's stored output, rendered to text. References
// that fail to resolve are left in place verbatim.
func interpolate(s string, outputs map[string]any) string {
	return stepRefRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := stepRefRe.FindStringSubmatch(m)
		stepID, path := sub[1], strings.TrimPrefix(sub[2], ".")
		val, ok := lookupPath(outputs[stepID], path)
		if !ok {
			return m
		}
		return renderValue(val)
	})
}

// renderValue renders a resolved value for text interpolation: arrays of
// objects become itemized "[n] key: value" blocks, objects become
// pretty JSON, primitives become their string form.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		var sb strings.Builder
		for i, item := range val {
			fmt.Fprintf(&sb, "[%d] ", i)
			if m, ok := item.(map[string]any); ok {
				sb.WriteString(renderObjectLine(m))
			} else {
				fmt.Fprintf(&sb, "%v", item)
			}
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n")
	case map[string]any:
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func renderObjectLine(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
