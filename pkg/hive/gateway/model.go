package gateway

import "github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"

// promotedIntents are the intents for which a "simple" routing complexity
// is promoted to "medium" (§4.6 step 12) — these intents tend to need
// more than the cheapest tier even when the Orchestrator judged the
// message itself as simple.
var promotedIntents = map[orchestrator.Intent]bool{
	orchestrator.IntentCode:          true,
	orchestrator.IntentAnalysis:      true,
	orchestrator.IntentCreative:      true,
	orchestrator.IntentBriefing:      true,
	orchestrator.IntentFileOperation: true,
	orchestrator.IntentTaskQuery:     true,
}

// resolveTier maps a routing decision's complexity to a logical model
// tier name ("haiku"/"sonnet"/"opus"), applying the simple→medium
// promotion for certain intents before the mapping.
func resolveTier(intent orchestrator.Intent, complexity orchestrator.Complexity) string {
	if complexity == orchestrator.ComplexitySimple && promotedIntents[intent] {
		complexity = orchestrator.ComplexityMedium
	}
	switch complexity {
	case orchestrator.ComplexitySimple:
		return "haiku"
	case orchestrator.ComplexityComplex:
		return "opus"
	default:
		return "sonnet"
	}
}

// resolveModelID maps a logical tier name to the concrete backend model
// id configured for it, falling back to the tier name itself (useful in
// tests that don't configure a full tier table).
func resolveModelID(tiers map[string]string, tier string) string {
	if id, ok := tiers[tier]; ok && id != "" {
		return id
	}
	return tier
}
