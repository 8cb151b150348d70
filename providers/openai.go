package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/martinemde/modelmux"
)

// OpenAIBackend serves requests through the go-openai SDK.
type OpenAIBackend struct {
	sdk   *openai.Client
	model string
	cfg   settings
	retry modelmux.RetryPolicy
}

var _ modelmux.Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend creates a backend for the given model. Without an
// explicit key, OPENAI_API_KEY is consulted.
func NewOpenAIBackend(model string, opts ...Option) (*OpenAIBackend, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if model == "" {
		model = DefaultModel("openai")
	}
	key := cfg.apiKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}

	return &OpenAIBackend{
		sdk:   openai.NewClient(key),
		model: model,
		cfg:   cfg,
		retry: cfg.retryPolicy(),
	}, nil
}

// Name returns the backend's "openai:model" identity.
func (b *OpenAIBackend) Name() string {
	return "openai:" + b.model
}

// Complete performs a blocking generation.
func (b *OpenAIBackend) Complete(ctx context.Context, req modelmux.Request) (*modelmux.Response, error) {
	ccReq := b.buildRequest(req)
	resp, err := modelmux.Retry(ctx, b.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		out, oerr := b.sdk.CreateChatCompletion(ctx, ccReq)
		if oerr != nil {
			return openai.ChatCompletionResponse{}, b.mapError(oerr)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return b.convertResponse(resp), nil
}

// Stream opens a chat completion stream and adapts its chunks.
func (b *OpenAIBackend) Stream(ctx context.Context, req modelmux.Request) (modelmux.StreamReader, error) {
	ccReq := b.buildRequest(req)
	ccReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	src, err := b.sdk.CreateChatCompletionStream(ctx, ccReq)
	if err != nil {
		return nil, b.mapError(err)
	}
	return &openaiStream{
		b:         b,
		src:       src,
		model:     ccReq.Model,
		toolCalls: make(map[int]*modelmux.ToolCallData),
		toolArgs:  make(map[int]*strings.Builder),
		pending:   []modelmux.StreamEvent{{Type: modelmux.StreamStart}},
	}, nil
}

// openaiStream adapts go-openai's chunk stream to the pull-reader contract.
// Tool call arguments arrive as fragments and are assembled until the
// finish chunk.
type openaiStream struct {
	b     *OpenAIBackend
	src   *openai.ChatCompletionStream
	model string

	pending     []modelmux.StreamEvent
	text        strings.Builder
	toolCalls   map[int]*modelmux.ToolCallData
	toolArgs    map[int]*strings.Builder
	id          string
	finish      string
	usage       *modelmux.Usage
	textStarted bool
	done        bool
}

func (s *openaiStream) Recv() (modelmux.StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return modelmux.StreamEvent{}, io.EOF
		}

		chunk, err := s.src.Recv()
		if err == io.EOF {
			s.done = true
			s.flushFinish()
			continue
		}
		if err != nil {
			s.done = true
			return modelmux.StreamEvent{}, s.b.mapError(err)
		}

		if chunk.ID != "" {
			s.id = chunk.ID
		}
		if chunk.Usage != nil {
			s.usage = &modelmux.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !s.textStarted {
				s.textStarted = true
				s.pending = append(s.pending, modelmux.StreamEvent{Type: modelmux.TextStart, TextID: "text_0"})
			}
			s.text.WriteString(choice.Delta.Content)
			s.pending = append(s.pending, modelmux.StreamEvent{
				Type:   modelmux.TextDelta,
				Delta:  choice.Delta.Content,
				TextID: "text_0",
			})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := s.toolCalls[idx]
			if !ok {
				call = &modelmux.ToolCallData{}
				s.toolCalls[idx] = call
				s.toolArgs[idx] = &strings.Builder{}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			s.toolArgs[idx].WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			s.finish = string(choice.FinishReason)
		}
	}
}

// flushFinish queues the trailing events once the chunk stream ends.
func (s *openaiStream) flushFinish() {
	if s.textStarted {
		s.pending = append(s.pending, modelmux.StreamEvent{Type: modelmux.TextEnd, TextID: "text_0"})
	}
	for idx, call := range s.toolCalls {
		call.Arguments = json.RawMessage(s.toolArgs[idx].String())
		s.pending = append(s.pending, modelmux.StreamEvent{Type: modelmux.ToolCall, ToolCall: call})
	}

	finish := mapOpenAIFinish(s.finish)
	usage := modelmux.Usage{}
	if s.usage != nil {
		usage = *s.usage
	}
	parts := []modelmux.ContentPart{}
	if s.text.Len() > 0 {
		parts = append(parts, modelmux.TextPart(s.text.String()))
	}
	for _, call := range s.toolCalls {
		parts = append(parts, modelmux.ContentPart{Kind: modelmux.ContentToolCall, ToolCall: call})
	}
	resp := &modelmux.Response{
		ID:           s.id,
		Model:        s.model,
		Backend:      s.b.Name(),
		Message:      modelmux.Message{Role: modelmux.RoleAssistant, Content: parts},
		FinishReason: finish,
		Usage:        usage,
	}
	s.pending = append(s.pending, modelmux.StreamEvent{
		Type:         modelmux.StreamFinish,
		FinishReason: &resp.FinishReason,
		Usage:        &resp.Usage,
		Response:     resp,
	})
}

func (s *openaiStream) Close() error {
	s.done = true
	return s.src.Close()
}

func (b *OpenAIBackend) buildRequest(req modelmux.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = b.model
	}

	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildOpenAIMessages(req),
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	} else {
		out.MaxTokens = b.cfg.maxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json" {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		out.Tools = tools
	}
	return out
}

func buildOpenAIMessages(req modelmux.Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case modelmux.RoleSystem:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.TextContent(),
			})
		case modelmux.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.TextContent(),
			})
		case modelmux.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.TextContent(),
			}
			for _, part := range m.Content {
				if part.Kind == modelmux.ContentToolCall && part.ToolCall != nil {
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   part.ToolCall.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      part.ToolCall.Name,
							Arguments: string(part.ToolCall.Arguments),
						},
					})
				}
			}
			msgs = append(msgs, msg)
		case modelmux.RoleTool:
			for _, part := range m.Content {
				if part.Kind == modelmux.ContentToolResult && part.ToolResult != nil {
					msgs = append(msgs, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    string(part.ToolResult.Content),
						ToolCallID: part.ToolResult.ToolCallID,
					})
				}
			}
		}
	}
	return msgs
}

func (b *OpenAIBackend) convertResponse(resp openai.ChatCompletionResponse) *modelmux.Response {
	var parts []modelmux.ContentPart
	finish := modelmux.FinishReason{Reason: "other"}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			parts = append(parts, modelmux.TextPart(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			parts = append(parts, modelmux.ContentPart{
				Kind: modelmux.ContentToolCall,
				ToolCall: &modelmux.ToolCallData{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				},
			})
		}
		finish = mapOpenAIFinish(string(choice.FinishReason))
	}

	return &modelmux.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Backend:      b.Name(),
		Message:      modelmux.Message{Role: modelmux.RoleAssistant, Content: parts},
		FinishReason: finish,
		Usage: modelmux.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}

func mapOpenAIFinish(raw string) modelmux.FinishReason {
	reason := "other"
	switch raw {
	case "stop":
		reason = "stop"
	case "length":
		reason = "length"
	case "tool_calls", "function_call":
		reason = "tool_calls"
	case "content_filter":
		reason = "content_filter"
	}
	return modelmux.FinishReason{Reason: reason, Raw: raw}
}

func (b *OpenAIBackend) mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return modelmux.StatusError(apiErr.HTTPStatusCode, apiErr.Message, b.Name())
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return modelmux.StatusError(reqErr.HTTPStatusCode, reqErr.Error(), b.Name())
	}
	return &modelmux.BackendError{
		Message: fmt.Sprintf("openai: %v", err),
		Backend: b.Name(),
		Cause:   err,
	}
}
