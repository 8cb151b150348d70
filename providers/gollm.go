package providers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"

	"github.com/martinemde/modelmux"
)

// GollmBackend serves requests through the gollm library, which covers the
// long tail of providers (Ollama, Groq, Mistral, …) behind one API.
type GollmBackend struct {
	provider string
	model    string
	llm      gollm.LLM
	retry    modelmux.RetryPolicy
}

var _ modelmux.Backend = (*GollmBackend)(nil)

// NewGollmBackend creates a backend for the given provider and model. If no
// API key is supplied, gollm reads the provider's usual environment
// variable.
func NewGollmBackend(provider, model string, opts ...Option) (*GollmBackend, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if model == "" {
		model = DefaultModel(provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by the retry policy
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("gollm backend for %s: %w", provider, err)
	}

	return &GollmBackend{
		provider: provider,
		model:    model,
		llm:      llm,
		retry:    cfg.retryPolicy(),
	}, nil
}

// Name returns the backend's "provider:model" identity.
func (b *GollmBackend) Name() string {
	return b.provider + ":" + b.model
}

// Complete sends a blocking request.
func (b *GollmBackend) Complete(ctx context.Context, req modelmux.Request) (*modelmux.Response, error) {
	prompt := b.buildPrompt(req)
	text, err := modelmux.Retry(ctx, b.retry, func(ctx context.Context) (string, error) {
		out, gerr := b.llm.Generate(ctx, prompt)
		if gerr != nil {
			return "", b.translateError(gerr)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return b.buildResponse(req, text), nil
}

// Stream starts a streaming request. Providers without native streaming get
// the full response replayed as a short event sequence.
func (b *GollmBackend) Stream(ctx context.Context, req modelmux.Request) (modelmux.StreamReader, error) {
	prompt := b.buildPrompt(req)

	if !b.llm.SupportsStreaming() {
		text, err := b.llm.Generate(ctx, prompt)
		if err != nil {
			return nil, b.translateError(err)
		}
		resp := b.buildResponse(req, text)
		return modelmux.Replay(
			modelmux.StreamEvent{Type: modelmux.StreamStart},
			modelmux.StreamEvent{Type: modelmux.TextStart, TextID: "text_0"},
			modelmux.StreamEvent{Type: modelmux.TextDelta, Delta: text, TextID: "text_0"},
			modelmux.StreamEvent{Type: modelmux.TextEnd, TextID: "text_0"},
			modelmux.StreamEvent{Type: modelmux.StreamFinish, FinishReason: &resp.FinishReason, Usage: &resp.Usage, Response: resp},
		), nil
	}

	src, err := b.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, b.translateError(err)
	}

	sctx, cancel := context.WithCancel(ctx)
	items := make(chan gollmItem, 16)
	reader := &gollmStream{items: items, cancel: cancel}

	go func() {
		defer close(items)
		defer src.Close()

		send := func(it gollmItem) bool {
			select {
			case items <- it:
				return true
			case <-sctx.Done():
				return false
			}
		}

		if !send(gollmItem{ev: modelmux.StreamEvent{Type: modelmux.StreamStart}}) {
			return
		}

		started := false
		var full strings.Builder
		for {
			token, err := src.Next(sctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				send(gollmItem{err: b.translateError(err)})
				return
			}
			if token == nil {
				continue
			}
			if !started {
				started = true
				if !send(gollmItem{ev: modelmux.StreamEvent{Type: modelmux.TextStart, TextID: "text_0"}}) {
					return
				}
			}
			full.WriteString(token.Text)
			if !send(gollmItem{ev: modelmux.StreamEvent{Type: modelmux.TextDelta, Delta: token.Text, TextID: "text_0"}}) {
				return
			}
		}
		if started {
			if !send(gollmItem{ev: modelmux.StreamEvent{Type: modelmux.TextEnd, TextID: "text_0"}}) {
				return
			}
		}
		resp := b.buildResponse(req, full.String())
		send(gollmItem{ev: modelmux.StreamEvent{
			Type:         modelmux.StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
			Response:     resp,
		}})
	}()

	return reader, nil
}

type gollmItem struct {
	ev  modelmux.StreamEvent
	err error
}

// gollmStream adapts gollm's token loop to the pull-reader contract. The
// producing goroutine owns the gollm stream; Close cancels it.
type gollmStream struct {
	items  <-chan gollmItem
	cancel context.CancelFunc
	done   bool
	err    error
}

func (s *gollmStream) Recv() (modelmux.StreamEvent, error) {
	if s.done {
		return modelmux.StreamEvent{}, s.err
	}
	it, ok := <-s.items
	if !ok {
		s.done = true
		s.err = io.EOF
		return modelmux.StreamEvent{}, io.EOF
	}
	if it.err != nil {
		s.done = true
		s.err = it.err
		return modelmux.StreamEvent{}, it.err
	}
	return it.ev, nil
}

func (s *gollmStream) Close() error {
	s.cancel()
	if !s.done {
		s.done = true
		s.err = modelmux.ErrClosed
	}
	return nil
}

// buildPrompt flattens the unified message list into a gollm prompt.
func (b *GollmBackend) buildPrompt(req modelmux.Request) *gollm.Prompt {
	var system strings.Builder
	var parts []string

	if req.System != "" {
		system.WriteString(req.System)
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case modelmux.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.TextContent())
		case modelmux.RoleUser:
			parts = append(parts, msg.TextContent())
		case modelmux.RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
		}
	}

	text := strings.Join(parts, "\n")
	if text == "" {
		text = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if system.Len() > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(system.String()), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	return gollm.NewPrompt(text, promptOpts...)
}

func (b *GollmBackend) buildResponse(req modelmux.Request, text string) *modelmux.Response {
	model := req.Model
	if model == "" {
		model = b.model
	}
	return &modelmux.Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Backend:      b.Name(),
		Message:      modelmux.AssistantMessage(text),
		FinishReason: modelmux.FinishReason{Reason: "stop", Raw: "stop"},
		Usage: modelmux.Usage{
			// gollm does not expose usage; estimate from text length.
			InputTokens:  estimateTokens(req),
			OutputTokens: len(text) / 4,
			TotalTokens:  estimateTokens(req) + len(text)/4,
		},
	}
}

// translateError maps a gollm failure onto the typed error hierarchy based
// on the message, since gollm does not surface status codes.
func (b *GollmBackend) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	name := b.Name()
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return modelmux.StatusError(401, msg, name)
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return modelmux.StatusError(403, msg, name)
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return modelmux.StatusError(404, msg, name)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return modelmux.StatusError(429, msg, name)
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return modelmux.StatusError(413, msg, name)
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return modelmux.StatusError(500, msg, name)
	case strings.Contains(lower, "503") || strings.Contains(lower, "overloaded") || strings.Contains(lower, "service unavailable"):
		return modelmux.StatusError(503, msg, name)
	case strings.Contains(lower, "timeout"):
		return modelmux.StatusError(408, msg, name)
	default:
		return &modelmux.BackendError{Message: msg, Backend: name, Cause: err}
	}
}

func estimateTokens(req modelmux.Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Kind == modelmux.ContentText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
