// Package trigger implements the Workflow Trigger (C10): recognizing a
// chat message as a request to run, list, confirm, or pick a workflow by
// name, holding per-user confirmation/ambiguity state across the next
// reply, and enforcing a per-caller execution rate limit.
//
// Grounded on pkg/goclaw/copilot/assistant.go's matchesTrigger (a
// prefix-based keyword match gating whether a message is even
// considered) and message_queue.go's mutex-guarded map-of-per-session-
// state shape (sessionQueue keyed by session id, timer-bounded), here
// generalized from a single debounce timer into a name-extraction and
// three-tier fuzzy-match pipeline with a one-minute confirmation TTL
// and a sliding execution-rate window, both held in the same kind of
// single-process mutable map the teacher protects with its own mutex.
package trigger

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/workflow"
)

const (
	confirmationTTL = time.Minute
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 3
	minFuzzyOverlap = 0.5
	substringScore  = 0.8
	exactScore      = 1.0
)

// pendingKind distinguishes a held confirmation from a held ambiguous pick.
type pendingKind int

const (
	pendingConfirm pendingKind = iota
	pendingAmbiguous
)

type pendingState struct {
	kind      pendingKind
	expiresAt time.Time
	// workflowID is set for pendingConfirm; candidates is set for pendingAmbiguous.
	workflowID string
	candidates []*store.Workflow
}

// Result is what the trigger returns to the Gateway for a single turn.
type Result struct {
	// Handled is false when the message didn't match any trigger phrase
	// or held state and the caller should fall through to normal routing.
	Handled bool
	Reply   string
	// Executed is true if a workflow run was actually kicked off.
	Executed   bool
	RunResult  *workflow.RunResult
	WorkflowID string
}

// Trigger matches workflow-invocation phrases to a caller's active
// workflows and executes them through the Workflow Engine.
type Trigger struct {
	repo   store.Store
	engine *workflow.Engine

	mu      sync.Mutex
	pending map[string]*pendingState
	execLog map[string][]time.Time
}

// New builds a Trigger bound to repo and engine.
func New(repo store.Store, engine *workflow.Engine) *Trigger {
	return &Trigger{
		repo:    repo,
		engine:  engine,
		pending: make(map[string]*pendingState),
		execLog: make(map[string][]time.Time),
	}
}

// keywordRe matches the local regex gate used by the Gateway (§4.6 step
// 5b) to decide whether a message should be handed to the Trigger at
// all, before the Orchestrator ever sees it.
var keywordRe = regexp.MustCompile(`(?i)\b(run|execute|trigger|start|launch)\b.*\bworkflow|list.*workflows?|which workflows`)

// LooksLikeTrigger reports whether msg is plausibly a workflow
// invocation/listing phrase, independent of any pending state.
func LooksLikeTrigger(msg string) bool {
	return keywordRe.MatchString(msg)
}

// HasPending reports whether callerUserID has an unresolved
// confirmation or ambiguity awaiting a reply.
func (t *Trigger) HasPending(callerUserID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[callerUserID]
	if !ok {
		return false
	}
	if time.Now().After(p.expiresAt) {
		delete(t.pending, callerUserID)
		return false
	}
	return true
}

var (
	courtesyRe   = regexp.MustCompile(`(?i)^(hey\s+\S+,?\s*|please\s+|can you\s+|could you\s+|i want to\s+|i need to\s+|go ahead and\s+)`)
	verbRe       = regexp.MustCompile(`(?i)^(run|execute|trigger|start|launch)\b\s*`)
	articleRe    = regexp.MustCompile(`(?i)^(my|the|an?)\b\s*`)
	trailingRe   = regexp.MustCompile(`(?i)\s*(please|now|for me|right now|asap)\s*$`)
	trailingWfRe = regexp.MustCompile(`(?i)\s*workflow\s*$`)
	splitWordsRe = regexp.MustCompile(`[\s\-_]+`)
)

// extractName strips courtesies, a trigger verb, articles/possessives,
// trailing fillers, and a trailing "workflow" word from msg, repeating
// the courtesy/verb/article strip (order isn't fixed in real phrasing)
// until nothing more is removed.
func extractName(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	for {
		before := s
		s = courtesyRe.ReplaceAllString(s, "")
		s = verbRe.ReplaceAllString(s, "")
		s = articleRe.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == before {
			break
		}
	}
	s = trailingRe.ReplaceAllString(s, "")
	s = trailingWfRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

type match struct {
	workflow *store.Workflow
	tier     int
	score    float64
}

func matchWorkflows(name string, workflows []*store.Workflow) []match {
	needle := strings.ToLower(name)
	needleWords := splitWordsRe.Split(needle, -1)
	var matches []match
	for _, w := range workflows {
		hay := strings.ToLower(w.Name)
		switch {
		case hay == needle:
			matches = append(matches, match{w, 1, exactScore})
		case strings.Contains(hay, needle) || strings.Contains(needle, hay):
			matches = append(matches, match{w, 2, substringScore})
		default:
			overlap := tokenOverlap(needleWords, splitWordsRe.Split(hay, -1))
			if overlap >= minFuzzyOverlap {
				matches = append(matches, match{w, 3, overlap})
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].tier != matches[j].tier {
			return matches[i].tier < matches[j].tier
		}
		return matches[i].score > matches[j].score
	})
	return matches
}

func tokenOverlap(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	maxLen := len(setA)
	if len(setB) > maxLen {
		maxLen = len(setB)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(inter) / float64(maxLen)
}

func toSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if w != "" {
			out[w] = true
		}
	}
	return out
}

var affirmWords = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "sure": true, "ok": true, "go": true, "do it": true}
var cancelWords = map[string]bool{"no": true, "n": true, "cancel": true, "nevermind": true}

// Handle processes one turn for callerUserID. If the caller has pending
// confirmation/ambiguity state it is consulted first; otherwise msg is
// treated as a fresh trigger/listing phrase. Returns Handled=false if
// msg doesn't match anything and control should return to the Gateway.
func (t *Trigger) Handle(ctx context.Context, callerUserID, msg string) (*Result, error) {
	if t.HasPending(callerUserID) {
		return t.handlePending(ctx, callerUserID, msg)
	}
	return t.handleFresh(ctx, callerUserID, msg)
}

func (t *Trigger) handlePending(ctx context.Context, callerUserID, msg string) (*Result, error) {
	t.mu.Lock()
	p := t.pending[callerUserID]
	t.mu.Unlock()

	reply := strings.ToLower(strings.TrimSpace(msg))

	switch p.kind {
	case pendingConfirm:
		if affirmWords[reply] {
			t.clearPending(callerUserID)
			return t.executeByID(ctx, callerUserID, p.workflowID)
		}
		if cancelWords[reply] {
			t.clearPending(callerUserID)
			return &Result{Handled: true, Reply: "Okay, cancelled."}, nil
		}
		t.clearPending(callerUserID)
		return &Result{Handled: false}, nil

	case pendingAmbiguous:
		if cancelWords[reply] {
			t.clearPending(callerUserID)
			return &Result{Handled: true, Reply: "Okay, cancelled."}, nil
		}
		if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(p.candidates) {
			t.clearPending(callerUserID)
			return t.executeByID(ctx, callerUserID, p.candidates[n-1].ID)
		}
		t.clearPending(callerUserID)
		return &Result{Handled: false}, nil
	}
	t.clearPending(callerUserID)
	return &Result{Handled: false}, nil
}

func (t *Trigger) clearPending(callerUserID string) {
	t.mu.Lock()
	delete(t.pending, callerUserID)
	t.mu.Unlock()
}

func (t *Trigger) handleFresh(ctx context.Context, callerUserID, msg string) (*Result, error) {
	name := extractName(msg)
	active, err := t.repo.ListActiveWorkflows(ctx, callerUserID)
	if err != nil {
		return nil, err
	}

	matches := matchWorkflows(name, active)

	switch {
	case len(matches) == 0:
		if inactive, err := t.repo.FindInactiveWorkflowByExactName(ctx, callerUserID, name); err == nil {
			return &Result{Handled: true, Reply: fmt.Sprintf("The workflow %q exists but is not active.", inactive.Name)}, nil
		}
		return &Result{Handled: true, Reply: listWorkflowsReply(active)}, nil

	case matches[0].tier == 1 && len(matches) == 1:
		return t.executeByID(ctx, callerUserID, matches[0].workflow.ID)

	case len(matches) == 1:
		t.setPendingConfirm(callerUserID, matches[0].workflow)
		return &Result{Handled: true, Reply: fmt.Sprintf("Did you mean the workflow %q? (yes/no)", matches[0].workflow.Name)}, nil

	default:
		t.setPendingAmbiguous(callerUserID, candidatesOf(matches))
		return &Result{Handled: true, Reply: ambiguousReply(candidatesOf(matches))}, nil
	}
}

func candidatesOf(matches []match) []*store.Workflow {
	out := make([]*store.Workflow, len(matches))
	for i, m := range matches {
		out[i] = m.workflow
	}
	return out
}

func listWorkflowsReply(active []*store.Workflow) string {
	if len(active) == 0 {
		return "You have no active workflows."
	}
	var b strings.Builder
	b.WriteString("I couldn't match that to a workflow. Your active workflows:\n")
	for _, w := range active {
		b.WriteString("- " + w.Name + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func ambiguousReply(candidates []*store.Workflow) string {
	var b strings.Builder
	b.WriteString("Multiple workflows match. Reply with a number:\n")
	for i, w := range candidates {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, w.Name))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t *Trigger) setPendingConfirm(callerUserID string, w *store.Workflow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[callerUserID] = &pendingState{kind: pendingConfirm, expiresAt: time.Now().Add(confirmationTTL), workflowID: w.ID}
}

func (t *Trigger) setPendingAmbiguous(callerUserID string, candidates []*store.Workflow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[callerUserID] = &pendingState{kind: pendingAmbiguous, expiresAt: time.Now().Add(confirmationTTL), candidates: candidates}
}

// executeByID authorizes, rate-limits, and runs workflowID on behalf of
// callerUserID.
func (t *Trigger) executeByID(ctx context.Context, callerUserID, workflowID string) (*Result, error) {
	w, err := t.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.OwnerID != callerUserID {
		return nil, apperr.New(apperr.Unauthorized, "workflow is not owned by caller")
	}
	if !t.allowExecution(callerUserID) {
		return &Result{Handled: true, Reply: "You're triggering workflows too quickly, try again in a minute."}, nil
	}

	res, err := t.engine.Execute(ctx, workflowID, callerUserID)
	if err != nil {
		return nil, err
	}
	reply := fmt.Sprintf("Ran %q: %s", w.Name, res.Status)
	if res.Status == string(store.RunFailed) {
		reply = fmt.Sprintf("Workflow %q failed: %s", w.Name, res.Error)
	}
	return &Result{Handled: true, Executed: true, RunResult: res, WorkflowID: workflowID, Reply: reply}, nil
}

// allowExecution enforces the sliding 60-second/3-execution rate limit.
// A rejected call does not count against the window.
func (t *Trigger) allowExecution(callerUserID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-rateLimitWindow)

	log := t.execLog[callerUserID]
	kept := log[:0]
	for _, ts := range log {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= rateLimitMax {
		t.execLog[callerUserID] = kept
		return false
	}
	t.execLog[callerUserID] = append(kept, now)
	return true
}
