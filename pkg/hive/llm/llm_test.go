package llm

import "testing"

func TestCostCents(t *testing.T) {
	cases := []struct {
		tier  string
		usage Usage
		want  float64
	}{
		{"haiku", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 150},
		{"sonnet", Usage{InputTokens: 1_000_000, OutputTokens: 0}, 300},
		{"opus", Usage{InputTokens: 0, OutputTokens: 1_000_000}, 7500},
		{"unknown", Usage{InputTokens: 1000, OutputTokens: 1000}, 0},
	}
	for _, c := range cases {
		got := CostCents(c.tier, c.usage)
		if got != c.want {
			t.Errorf("CostCents(%q, %+v) = %v, want %v", c.tier, c.usage, got, c.want)
		}
	}
}
