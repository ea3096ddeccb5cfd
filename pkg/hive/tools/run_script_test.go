package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

func TestRunScriptExecutesNamedUserScript(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "alice")
	if err := repo.CreateScript(ctx, &store.Script{OwnerID: "alice", Name: "double", Source: "function main(input){return {n: input.n*2}}"}); err != nil {
		t.Fatalf("CreateScript() error: %v", err)
	}

	runner := sandbox.New(filepath.Join(t.TempDir(), "runs"))
	tool := RunScriptTool("alice", repo, runner, t.TempDir())

	result, err := tool.Handler(ctx, map[string]any{"name": "double", "input": map[string]any{"n": float64(4)}})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	out := result.(map[string]any)
	if out["n"].(float64) != 8 {
		t.Errorf("n = %v, want 8", out["n"])
	}
}

func TestRunScriptUnknownNameFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "alice")
	runner := sandbox.New(filepath.Join(t.TempDir(), "runs"))
	tool := RunScriptTool("alice", repo, runner, t.TempDir())

	_, err := tool.Handler(ctx, map[string]any{"name": "does-not-exist"})
	if err == nil {
		t.Fatalf("expected error for unknown script name")
	}
}
