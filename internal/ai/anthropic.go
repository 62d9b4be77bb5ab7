package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// AnthropicClient implements Client against the Messages API, grounded on
// the reference repo's internal/ai.AnthropicClient net/http calling
// convention. Structured output is enforced by forcing a single tool call
// whose input_schema is the requested TextFormat — Anthropic has no
// native `text.format` equivalent, so a forced tool call is the
// established way to get schema-conformant JSON out of it.
type AnthropicClient struct {
	http   *http.Client
	apiKey string
}

// NewAnthropicClient returns a client carrying apiKey.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{http: &http.Client{}, apiKey: apiKey}
}

const structuredToolName = "emit_result"

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model      string               `json:"model"`
	MaxTokens  int                  `json:"max_tokens"`
	System     string               `json:"system,omitempty"`
	Messages   []anthropicMessage   `json:"messages"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	ToolChoice *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, newError(KindProviderError, "missing Anthropic API key")
	}

	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	payload := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
	}
	if req.TextFormat != nil {
		payload.Tools = []anthropicTool{{
			Name:        structuredToolName,
			Description: "Emit the final structured result for " + req.TextFormat.Name,
			InputSchema: req.TextFormat.Schema,
		}}
		payload.ToolChoice = &anthropicToolChoice{Type: "tool", Name: structuredToolName}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, newError(KindProviderError, "encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, newError(KindProviderError, "build request: %v", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	dur := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, newError(KindTimeout, "%v", err)
		}
		return Response{}, newError(KindProviderError, "%v", err)
	}
	defer resp.Body.Close()

	remaining := parseAnthropicRemaining(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, newError(KindRateLimited, "anthropic rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return Response{}, newError(KindProviderError, "anthropic status %d: %s", resp.StatusCode, string(raw))
	}

	var r anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, newError(KindProviderError, "decode response: %v", err)
	}

	out := Response{
		Model:           r.Model,
		InputTokens:     r.Usage.InputTokens,
		OutputTokens:    r.Usage.OutputTokens,
		FinishReason:    r.StopReason,
		RemainingTokens: remaining,
		DurationSeconds: dur.Seconds(),
	}

	if req.TextFormat != nil {
		var toolInput json.RawMessage
		for _, block := range r.Content {
			if block.Type == "tool_use" && block.Name == structuredToolName {
				toolInput = block.Input
				break
			}
		}
		if len(toolInput) == 0 {
			return Response{}, newError(KindEmptyOutput, "anthropic returned no tool_use block")
		}
		out.Parsed = toolInput
		out.Text = string(toolInput)
		return out, nil
	}

	for _, block := range r.Content {
		if block.Type == "text" {
			out.Text += block.Text
		}
	}
	if out.Text == "" {
		return Response{}, newError(KindEmptyOutput, "anthropic returned empty output")
	}
	return out, nil
}

func parseAnthropicRemaining(h http.Header) *int {
	for _, key := range []string{"anthropic-ratelimit-tokens-remaining", "Anthropic-Ratelimit-Tokens-Remaining"} {
		if v := h.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return &n
			}
		}
	}
	return nil
}
