// Package providers implements modelmux.Backend adapters for real LLM
// services. Backends are constructed from "provider:model" specs:
//
//	backend, err := providers.New("anthropic:claude-sonnet-4-5")
//
// Anthropic and OpenAI get native SDK adapters; every other provider spec
// is served through gollm, which covers Ollama, Groq, Mistral, and more.
package providers

import (
	"fmt"
	"strings"

	"github.com/martinemde/modelmux"
)

type settings struct {
	apiKey      string
	maxTokens   int
	temperature float64
	maxRetries  int
}

func defaultSettings() settings {
	return settings{
		maxTokens:   4096,
		temperature: 0.7,
	}
}

// Option configures a backend constructor.
type Option func(*settings)

// WithAPIKey sets the API key. If empty, the provider's usual environment
// variable is consulted.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(n int) Option {
	return func(s *settings) { s.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// WithMaxRetries enables backend-internal retries with exponential backoff.
// This is independent of any failover the caller layers on top: the backend
// retries itself before its failure surfaces.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

func (s settings) retryPolicy() modelmux.RetryPolicy {
	policy := modelmux.DefaultRetryPolicy()
	policy.MaxRetries = s.maxRetries
	return policy
}

// New constructs a backend from a "provider:model" spec. The provider may
// be omitted when the model is in the catalog; a bare provider name selects
// its default model.
func New(spec string, opts ...Option) (modelmux.Backend, error) {
	provider, model, err := ParseModelSpec(spec)
	if err != nil {
		return nil, err
	}
	switch provider {
	case "anthropic":
		return NewAnthropicBackend(model, opts...)
	case "openai":
		return NewOpenAIBackend(model, opts...)
	default:
		return NewGollmBackend(provider, model, opts...)
	}
}

// ParseModelSpec splits "provider:model" into its parts. A spec without a
// colon is resolved through the model catalog ("claude-opus-4-6" infers
// anthropic); a bare provider name resolves to that provider's default
// model.
func ParseModelSpec(spec string) (provider, model string, err error) {
	if spec == "" {
		return "", "", fmt.Errorf("empty model spec")
	}
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		provider, model = spec[:i], spec[i+1:]
		if provider == "" {
			return "", "", fmt.Errorf("model spec %q: empty provider name", spec)
		}
		if model == "" {
			return "", "", fmt.Errorf("model spec %q: empty model name", spec)
		}
		return provider, model, nil
	}
	if info := LookupModel(spec); info != nil {
		return info.Provider, info.ID, nil
	}
	if model := DefaultModel(spec); model != "" {
		return spec, model, nil
	}
	return "", "", fmt.Errorf("model spec %q: unknown model; use provider:model", spec)
}
