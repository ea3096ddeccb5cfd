package executor

import "github.com/marcsjourneys/hive-assistant/pkg/hive/llm"

// TierModels maps the three logical tiers to a concrete backend model id
// and the Provider instance that serves it, letting model selection be a
// configuration concern rather than a hardcoded vendor binding (§4.3).
type TierModels struct {
	Haiku  ProviderModel
	Sonnet ProviderModel
	Opus   ProviderModel
}

// ProviderModel pairs a concrete backend model id with the provider that
// serves it.
type ProviderModel struct {
	Provider llm.Provider
	ModelID  string
}

// Resolve looks up the provider+model id for a logical tier.
func (t TierModels) Resolve(tier string) (ProviderModel, bool) {
	switch tier {
	case "haiku":
		return t.Haiku, t.Haiku.Provider != nil
	case "sonnet":
		return t.Sonnet, t.Sonnet.Provider != nil
	case "opus":
		return t.Opus, t.Opus.Provider != nil
	default:
		return ProviderModel{}, false
	}
}
