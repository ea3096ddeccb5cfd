package tools

import (
	"context"
	"path/filepath"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

type runScriptInput struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// RunScriptTool returns the user-scoped run_script tool. It resolves a
// script by name against the caller's own scripts first, then shared
// scripts, and invokes it through the Script Runner with
// cwd = <userWorkspace>/files, matching the Workflow Engine's script-step
// convention (§4.7).
func RunScriptTool(userID string, repo store.Store, runner *sandbox.Runner, userWorkspace string) executor.Tool {
	return executor.Tool{
		Definition: llm.ToolDefinition{
			Name:        "run_script",
			Description: "Run a stored script by name with a JSON input object.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"input": map[string]any{"type": "object"},
				},
				"required": []string{"name"},
			},
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var in runScriptInput
			if err := decodeInput(raw, &in); err != nil {
				return nil, err
			}
			if in.Name == "" {
				return nil, apperr.New(apperr.Validation, "run_script requires a name")
			}
			sc, err := repo.FindScriptByName(ctx, userID, in.Name)
			if err != nil {
				return nil, err
			}
			result, err := runner.Run(ctx, sc.Source, in.Input, filepath.Join(userWorkspace, "files"))
			if err != nil {
				return nil, err
			}
			if !result.Success {
				return nil, apperr.Newf(apperr.Validation, "script %q failed: %s", in.Name, result.Error)
			}
			return result.Output, nil
		},
	}
}
