package providers

import (
	"errors"
	"testing"

	"github.com/martinemde/modelmux"
)

func TestParseModelSpec(t *testing.T) {
	cases := []struct {
		spec     string
		provider string
		model    string
		wantErr  bool
	}{
		{spec: "anthropic:claude-sonnet-4-5", provider: "anthropic", model: "claude-sonnet-4-5"},
		{spec: "openai:gpt-5.2", provider: "openai", model: "gpt-5.2"},
		{spec: "ollama:llama3.2", provider: "ollama", model: "llama3.2"},
		{spec: "claude-opus-4-6", provider: "anthropic", model: "claude-opus-4-6"},
		{spec: "sonnet", provider: "anthropic", model: "claude-sonnet-4-5"},
		{spec: "GPT5-MINI", provider: "openai", model: "gpt-5.2-mini"},
		{spec: "anthropic", provider: "anthropic", model: "claude-sonnet-4-5"},
		{spec: "mistral", provider: "mistral", model: "mistral-large-latest"},
		{spec: "", wantErr: true},
		{spec: ":model", wantErr: true},
		{spec: "provider:", wantErr: true},
		{spec: "not-a-model", wantErr: true},
	}
	for _, tc := range cases {
		provider, model, err := ParseModelSpec(tc.spec)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tc.spec, err)
			continue
		}
		if provider != tc.provider || model != tc.model {
			t.Errorf("%q: got %s:%s, want %s:%s", tc.spec, provider, model, tc.provider, tc.model)
		}
	}
}

func TestLookupModelByAlias(t *testing.T) {
	info := LookupModel("haiku")
	if info == nil {
		t.Fatal("expected a catalog hit")
	}
	if info.ID != "claude-haiku-4-5" || info.Provider != "anthropic" {
		t.Errorf("unexpected entry: %+v", info)
	}
}

func TestLookupModelUnknown(t *testing.T) {
	if info := LookupModel("gpt-1"); info != nil {
		t.Errorf("expected nil, got %+v", info)
	}
}

func TestDefaultModelUnknownProvider(t *testing.T) {
	if got := DefaultModel("bedrock"); got != "" {
		t.Errorf("expected empty default, got %q", got)
	}
}

func TestGollmTranslateError(t *testing.T) {
	b := &GollmBackend{provider: "ollama", model: "llama3.2"}
	cases := []struct {
		msg    string
		status int
	}{
		{"API error: 401 Unauthorized", 401},
		{"invalid api key provided", 401},
		{"request forbidden", 403},
		{"model not found", 404},
		{"rate limit exceeded, retry later", 429},
		{"prompt exceeds context length", 413},
		{"internal server error", 500},
		{"the model is overloaded", 503},
		{"request timeout", 408},
	}
	for _, tc := range cases {
		err := b.translateError(errors.New(tc.msg))
		var sc modelmux.StatusCoder
		if !errors.As(err, &sc) {
			t.Errorf("%q: expected a status-coded error, got %T", tc.msg, err)
			continue
		}
		if sc.StatusCode() != tc.status {
			t.Errorf("%q: status = %d, want %d", tc.msg, sc.StatusCode(), tc.status)
		}
	}
}

func TestGollmTranslateErrorUnrecognized(t *testing.T) {
	b := &GollmBackend{provider: "ollama", model: "llama3.2"}
	err := b.translateError(errors.New("something odd happened"))
	var be *modelmux.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected a BackendError, got %T", err)
	}
	if be.Backend != "ollama:llama3.2" {
		t.Errorf("unexpected backend tag: %q", be.Backend)
	}
	if be.Status != 0 {
		t.Errorf("expected no status, got %d", be.Status)
	}
}

func TestMapStopReason(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_calls"},
		{"refusal", "content_filter"},
		{"something_new", "other"},
	}
	for _, tc := range cases {
		got := mapStopReason(tc.raw)
		if got.Reason != tc.want {
			t.Errorf("%q: reason = %q, want %q", tc.raw, got.Reason, tc.want)
		}
		if got.Raw != tc.raw {
			t.Errorf("%q: raw not preserved: %q", tc.raw, got.Raw)
		}
	}
}

func TestMapOpenAIFinish(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"stop", "stop"},
		{"length", "length"},
		{"tool_calls", "tool_calls"},
		{"function_call", "tool_calls"},
		{"content_filter", "content_filter"},
		{"", "other"},
	}
	for _, tc := range cases {
		if got := mapOpenAIFinish(tc.raw); got.Reason != tc.want {
			t.Errorf("%q: reason = %q, want %q", tc.raw, got.Reason, tc.want)
		}
	}
}

func TestBuildOpenAIMessages(t *testing.T) {
	req := modelmux.Request{
		System: "be brief",
		Messages: []modelmux.Message{
			modelmux.SystemMessage("and be kind"),
			modelmux.UserMessage("hello"),
			modelmux.AssistantMessage("hi"),
		},
	}
	msgs := buildOpenAIMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be brief" {
		t.Errorf("unexpected leading system message: %+v", msgs[0])
	}
	if msgs[1].Role != "system" || msgs[1].Content != "and be kind" {
		t.Errorf("expected inline system message preserved: %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[3].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", msgs[2].Role, msgs[3].Role)
	}
}

func TestBuildOpenAIMessagesToolRoundTrip(t *testing.T) {
	req := modelmux.Request{
		Messages: []modelmux.Message{
			{
				Role: modelmux.RoleAssistant,
				Content: []modelmux.ContentPart{
					{
						Kind: modelmux.ContentToolCall,
						ToolCall: &modelmux.ToolCallData{
							ID:        "call_1",
							Name:      "get_weather",
							Arguments: []byte(`{"city":"Paris"}`),
						},
					},
				},
			},
			{
				Role: modelmux.RoleTool,
				Content: []modelmux.ContentPart{
					{
						Kind: modelmux.ContentToolResult,
						ToolResult: &modelmux.ToolResultData{
							ToolCallID: "call_1",
							Content:    []byte(`{"temp":21}`),
						},
					},
				},
			},
		},
	}
	msgs := buildOpenAIMessages(req)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("tool call not carried: %+v", msgs[0])
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "call_1" {
		t.Errorf("tool result not carried: %+v", msgs[1])
	}
}

func TestBuildInputSchema(t *testing.T) {
	schema := buildInputSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"city"},
	})
	if schema.Properties == nil {
		t.Error("expected properties to be carried")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "city" {
		t.Errorf("unexpected required list: %v", schema.Required)
	}
}

func TestBuildInputSchemaEmpty(t *testing.T) {
	schema := buildInputSchema(nil)
	if schema.Properties != nil || schema.Required != nil {
		t.Errorf("expected zero-value schema, got %+v", schema)
	}
}
