package providers

import "strings"

// ModelInfo describes a known model.
type ModelInfo struct {
	ID            string
	Provider      string
	ContextWindow int
	Aliases       []string
	Default       bool // the provider's default model
}

// Catalog lists the models backend construction can resolve without an
// explicit provider prefix.
var Catalog = []ModelInfo{
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200000, Aliases: []string{"opus", "claude-opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000, Aliases: []string{"sonnet", "claude-sonnet"}, Default: true},
	{ID: "claude-haiku-4-5", Provider: "anthropic", ContextWindow: 200000, Aliases: []string{"haiku", "claude-haiku"}},
	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 1047576, Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: "openai", ContextWindow: 1047576, Aliases: []string{"gpt5-mini"}, Default: true},
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000},
	{ID: "llama3.2", Provider: "ollama", ContextWindow: 131072, Default: true},
	{ID: "mistral-large-latest", Provider: "mistral", ContextWindow: 131072, Aliases: []string{"mistral-large"}, Default: true},
}

// LookupModel finds a catalog entry by ID or alias. Returns nil when the
// model is unknown.
func LookupModel(id string) *ModelInfo {
	needle := strings.ToLower(id)
	for i := range Catalog {
		m := &Catalog[i]
		if strings.ToLower(m.ID) == needle {
			return m
		}
		for _, alias := range m.Aliases {
			if strings.ToLower(alias) == needle {
				return m
			}
		}
	}
	return nil
}

// DefaultModel returns the default model ID for a provider, or "" when the
// provider has no catalog entry.
func DefaultModel(provider string) string {
	needle := strings.ToLower(provider)
	for i := range Catalog {
		if Catalog[i].Provider == needle && Catalog[i].Default {
			return Catalog[i].ID
		}
	}
	return ""
}
