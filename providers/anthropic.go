package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/martinemde/modelmux"
)

// AnthropicBackend serves requests through the official Anthropic SDK.
type AnthropicBackend struct {
	sdk   anthropic.Client
	model string
	cfg   settings
	retry modelmux.RetryPolicy
}

var _ modelmux.Backend = (*AnthropicBackend)(nil)

// NewAnthropicBackend creates a backend for the given Claude model. Without
// an explicit key the SDK reads ANTHROPIC_API_KEY.
func NewAnthropicBackend(model string, opts ...Option) (*AnthropicBackend, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if model == "" {
		model = DefaultModel("anthropic")
	}

	var sdkOpts []option.RequestOption
	if cfg.apiKey != "" {
		sdkOpts = append(sdkOpts, option.WithAPIKey(cfg.apiKey))
	}
	sdkOpts = append(sdkOpts, option.WithMaxRetries(0))

	return &AnthropicBackend{
		sdk:   anthropic.NewClient(sdkOpts...),
		model: model,
		cfg:   cfg,
		retry: cfg.retryPolicy(),
	}, nil
}

// Name returns the backend's "anthropic:model" identity.
func (b *AnthropicBackend) Name() string {
	return "anthropic:" + b.model
}

// Complete performs a blocking generation.
func (b *AnthropicBackend) Complete(ctx context.Context, req modelmux.Request) (*modelmux.Response, error) {
	params := b.buildParams(req)
	msg, err := modelmux.Retry(ctx, b.retry, func(ctx context.Context) (*anthropic.Message, error) {
		out, aerr := b.sdk.Messages.New(ctx, params)
		if aerr != nil {
			return nil, b.mapError(aerr)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return b.convertMessage(msg), nil
}

// Stream opens a native SSE stream and adapts its events.
func (b *AnthropicBackend) Stream(ctx context.Context, req modelmux.Request) (modelmux.StreamReader, error) {
	params := b.buildParams(req)
	src := b.sdk.Messages.NewStreaming(ctx, params)
	if err := src.Err(); err != nil {
		_ = src.Close()
		return nil, b.mapError(err)
	}
	return &anthropicStream{
		b:          b,
		src:        src,
		blockKinds: make(map[int64]string),
	}, nil
}

// anthropicStream adapts the SDK's push iterator to the pull-reader
// contract. Accumulation tracks the full message so the finish event can
// carry the assembled response.
type anthropicStream struct {
	b   *AnthropicBackend
	src *ssestream.Stream[anthropic.MessageStreamEventUnion]

	acc        anthropic.Message
	blockKinds map[int64]string
	pending    []modelmux.StreamEvent
	started    bool
	done       bool
}

func (s *anthropicStream) Recv() (modelmux.StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return modelmux.StreamEvent{}, io.EOF
		}

		if !s.src.Next() {
			s.done = true
			if err := s.src.Err(); err != nil {
				return modelmux.StreamEvent{}, s.b.mapError(err)
			}
			return modelmux.StreamEvent{}, io.EOF
		}

		event := s.src.Current()
		if err := s.acc.Accumulate(event); err != nil {
			s.done = true
			return modelmux.StreamEvent{}, &modelmux.BackendError{
				Message: fmt.Sprintf("accumulate stream event: %v", err),
				Backend: s.b.Name(),
				Cause:   err,
			}
		}
		s.translate(event)
	}
}

// translate appends the unified events for one SDK event to the pending
// queue. Some SDK events map to zero events, some to several.
func (s *anthropicStream) translate(event anthropic.MessageStreamEventUnion) {
	switch variant := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		if !s.started {
			s.started = true
			s.pending = append(s.pending, modelmux.StreamEvent{Type: modelmux.StreamStart})
		}

	case anthropic.ContentBlockStartEvent:
		kind := variant.ContentBlock.Type
		s.blockKinds[variant.Index] = kind
		if kind == "text" {
			s.pending = append(s.pending, modelmux.StreamEvent{
				Type:   modelmux.TextStart,
				TextID: textID(variant.Index),
			})
		}

	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
			s.pending = append(s.pending, modelmux.StreamEvent{
				Type:   modelmux.TextDelta,
				Delta:  delta.Text,
				TextID: textID(variant.Index),
			})
		}

	case anthropic.ContentBlockStopEvent:
		switch s.blockKinds[variant.Index] {
		case "text":
			s.pending = append(s.pending, modelmux.StreamEvent{
				Type:   modelmux.TextEnd,
				TextID: textID(variant.Index),
			})
		case "tool_use":
			// The accumulated message carries the complete tool input.
			if int(variant.Index) < len(s.acc.Content) {
				block := s.acc.Content[variant.Index]
				raw, _ := json.Marshal(block.Input)
				s.pending = append(s.pending, modelmux.StreamEvent{
					Type: modelmux.ToolCall,
					ToolCall: &modelmux.ToolCallData{
						ID:        block.ID,
						Name:      block.Name,
						Arguments: raw,
					},
				})
			}
		}

	case anthropic.MessageStopEvent:
		resp := s.b.convertMessage(&s.acc)
		s.pending = append(s.pending, modelmux.StreamEvent{
			Type:         modelmux.StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
			Response:     resp,
		})
	}
}

func (s *anthropicStream) Close() error {
	s.done = true
	return s.src.Close()
}

func textID(index int64) string {
	return "text_" + strconv.FormatInt(index, 10)
}

func (b *AnthropicBackend) buildParams(req modelmux.Request) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == modelmux.RoleSystem {
			continue
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, part := range m.Content {
			switch part.Kind {
			case modelmux.ContentText:
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case modelmux.ContentToolCall:
				if part.ToolCall != nil {
					var input any
					_ = json.Unmarshal(part.ToolCall.Arguments, &input)
					blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
				}
			case modelmux.ContentToolResult:
				if part.ToolResult != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(
						part.ToolResult.ToolCallID,
						string(part.ToolResult.Content),
						part.ToolResult.IsError,
					))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case modelmux.RoleUser, modelmux.RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		case modelmux.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		}
	}

	model := req.Model
	if model == "" {
		model = b.model
	}
	maxTokens := int64(b.cfg.maxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}

	var system string
	if req.System != "" {
		system = req.System
	}
	for _, m := range req.Messages {
		if m.Role == modelmux.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.TextContent()
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tp := anthropic.ToolParam{
				Name:        t.Name,
				InputSchema: buildInputSchema(t.Parameters),
				Description: param.NewOpt(t.Description),
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &tp})
		}
		params.Tools = tools
	}

	return params
}

func buildInputSchema(schema map[string]interface{}) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{}
	if schema == nil {
		return out
	}
	if props, ok := schema["properties"]; ok {
		out.Properties = props
	}
	if req, ok := schema["required"].([]interface{}); ok {
		strs := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				strs = append(strs, s)
			}
		}
		out.Required = strs
	}
	return out
}

func (b *AnthropicBackend) convertMessage(msg *anthropic.Message) *modelmux.Response {
	parts := make([]modelmux.ContentPart, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			parts = append(parts, modelmux.TextPart(block.Text))
		case "tool_use":
			raw, _ := json.Marshal(block.Input)
			parts = append(parts, modelmux.ContentPart{
				Kind: modelmux.ContentToolCall,
				ToolCall: &modelmux.ToolCallData{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: raw,
				},
			})
		}
	}

	return &modelmux.Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Backend:      b.Name(),
		Message:      modelmux.Message{Role: modelmux.RoleAssistant, Content: parts},
		FinishReason: mapStopReason(string(msg.StopReason)),
		Usage: modelmux.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func mapStopReason(raw string) modelmux.FinishReason {
	reason := "other"
	switch raw {
	case "end_turn", "stop_sequence":
		reason = "stop"
	case "max_tokens":
		reason = "length"
	case "tool_use":
		reason = "tool_calls"
	case "refusal":
		reason = "content_filter"
	}
	return modelmux.FinishReason{Reason: reason, Raw: raw}
}

func (b *AnthropicBackend) mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return modelmux.StatusError(apiErr.StatusCode, apiErr.Error(), b.Name())
	}
	return &modelmux.BackendError{
		Message: fmt.Sprintf("anthropic: %v", err),
		Backend: b.Name(),
		Cause:   err,
	}
}
