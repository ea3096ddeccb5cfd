package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestRunReturnsMainResult(t *testing.T) {
	r := New(t.TempDir())
	source := `function main(input) { return { doubled: input.n * 2 }; }`

	res, err := r.Run(context.Background(), source, map[string]any{"n": 21}, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Success {
		t.Fatalf("Run() not successful: %s", res.Error)
	}
	out, ok := res.Output.(map[string]any)
	if !ok {
		t.Fatalf("Output type = %T, want map[string]any", res.Output)
	}
	if out["doubled"] != float64(42) {
		t.Errorf("doubled = %v, want 42", out["doubled"])
	}
}

func TestRunHonorsErrorSentinel(t *testing.T) {
	r := New(t.TempDir())
	source := `function main(input) { return { __error: "boom" }; }`

	res, err := r.Run(context.Background(), source, map[string]any{}, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected Success=false for __error sentinel")
	}
	if res.Error != "boom" {
		t.Errorf("Error = %q, want boom", res.Error)
	}
}

func TestRunMissingMainFunction(t *testing.T) {
	r := New(t.TempDir())
	res, err := r.Run(context.Background(), `var x = 1;`, map[string]any{}, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure when script has no main()")
	}
}

func TestRunTimesOut(t *testing.T) {
	r := New(t.TempDir()).WithTimeout(50 * time.Millisecond)
	source := `function main(input) { while (true) {} }`

	res, err := r.Run(context.Background(), source, map[string]any{}, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected timeout failure, got success")
	}
}
