// Package sandbox implements the Sandboxed Script Runner (C12): a bounded
// execution environment for caller-supplied scripts, with a fixed on-disk
// contract (temp dir, input.json, script, output.json) regardless of
// interpreter.
//
// Grounded on pkg/goclaw/copilot/agent.go's "bound the run, cap the
// output" timeout/retry texture, and on rakunlabs-at's goja.go/nodes/
// script.go usage of an embedded ECMAScript VM rather than forking an
// external interpreter process: the runner loads input.json, calls the
// script's exported entry point inside github.com/dop251/goja with a
// context-bound timeout, and writes the return value as output.json.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
)

const (
	defaultTimeout = 60 * time.Second
	maxOutputBytes = 1 << 20 // 1 MB
	maxStderrBytes = 10 << 10
)

// Result is the outcome of one script run.
type Result struct {
	Success bool
	Output  any
	Error   string
	Stderr  string
}

// Runner executes scripts in a bounded goja VM.
type Runner struct {
	baseDir string // parent of per-run temp directories
	timeout time.Duration
}

// New returns a Runner whose per-run temp directories are created under
// baseDir (created if missing).
func New(baseDir string) *Runner {
	return &Runner{baseDir: baseDir, timeout: defaultTimeout}
}

// WithTimeout overrides the default 60s wall-clock budget.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	r.timeout = d
	return r
}

// Run writes input and source to a fresh temp dir, executes source as a
// goja program exposing a single entry point `main(input)`, and returns
// its JSON-serializable return value. cwd is not used: the script runs
// in a VM with no filesystem access, so it cannot read or write workspace
// files.
func (r *Runner) Run(ctx context.Context, source string, input any, cwd string) (*Result, error) {
	runDir := filepath.Join(r.baseDir, uuid.NewString())
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return nil, apperr.Wrap(apperr.NotConfigured, "creating script run directory", err)
	}
	defer os.RemoveAll(runDir)

	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "marshaling script input", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "input.json"), inputBytes, 0o600); err != nil {
		return nil, apperr.Wrap(apperr.NotConfigured, "writing input.json", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "script"), []byte(source), 0o600); err != nil {
		return nil, apperr.Wrap(apperr.NotConfigured, "writing script source", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	outPath := filepath.Join(runDir, "output.json")
	if err := r.execute(runCtx, source, inputBytes, outPath); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	outBytes, err := os.ReadFile(outPath)
	if err != nil {
		return &Result{Success: false, Error: "script did not produce output.json"}, nil
	}
	if len(outBytes) > maxOutputBytes {
		outBytes = outBytes[:maxOutputBytes]
	}

	var decoded struct {
		Err *string `json:"__error"`
	}
	if err := json.Unmarshal(outBytes, &decoded); err == nil && decoded.Err != nil {
		return &Result{Success: false, Error: *decoded.Err}, nil
	}

	var out any
	if err := json.Unmarshal(outBytes, &out); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("output.json is not valid JSON: %v", err)}, nil
	}
	return &Result{Success: true, Output: out}, nil
}

// execute runs source in a fresh goja VM, calling its main(input) entry
// point and writing the returned value to outPath. The VM itself has no
// filesystem, network, or process access; it sees only the parsed input.
func (r *Runner) execute(ctx context.Context, source string, inputBytes []byte, outPath string) error {
	vm := goja.New()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("script panicked: %v", rec)
			}
		}()

		var input any
		if err := json.Unmarshal(inputBytes, &input); err != nil {
			done <- fmt.Errorf("decoding input: %w", err)
			return
		}

		if _, err := vm.RunString(source); err != nil {
			done <- fmt.Errorf("loading script: %w", err)
			return
		}
		mainFn, ok := goja.AssertFunction(vm.Get("main"))
		if !ok {
			done <- fmt.Errorf("script does not export a main(input) function")
			return
		}
		result, err := mainFn(goja.Undefined(), vm.ToValue(input))
		if err != nil {
			done <- fmt.Errorf("executing script: %w", err)
			return
		}

		exported := result.Export()
		outBytes, err := json.Marshal(exported)
		if err != nil {
			done <- fmt.Errorf("encoding script result: %w", err)
			return
		}
		if len(outBytes) > maxOutputBytes {
			outBytes = outBytes[:maxOutputBytes]
		}
		done <- os.WriteFile(outPath, outBytes, 0o600)
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("script timed out")
		return fmt.Errorf("script timed out after %s", r.timeout)
	case err := <-done:
		return err
	}
}
