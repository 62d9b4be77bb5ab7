package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OpenAIClient implements Client against OpenAI's Responses API, the way
// the reference repo's internal/ai.OpenAIClient talks to the Chat
// Completions API directly over net/http — adapted here to the Responses
// API's structured-output (`text.format`) and reasoning-effort knobs that
// spec.md §4.6 requires.
type OpenAIClient struct {
	http   *http.Client
	apiKey string
}

// NewOpenAIClient returns a client carrying apiKey.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{http: &http.Client{}, apiKey: apiKey}
}

type openAITextFormat struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
	Strict bool                   `json:"strict"`
}

type openAIReasoning struct {
	Effort string `json:"effort"`
}

type openAIRequest struct {
	Model           string `json:"model"`
	Input           []openAIInputMessage `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	Text            *struct {
		Format openAITextFormat `json:"format"`
	} `json:"text,omitempty"`
	Reasoning *openAIReasoning `json:"reasoning,omitempty"`
}

type openAIInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIOutputItem struct {
	Type    string                 `json:"type"`
	Content []openAIOutputContent  `json:"content"`
}

type openAIUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	OutputTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
}

type openAIResponse struct {
	Model             string             `json:"model"`
	Output            []openAIOutputItem `json:"output"`
	Usage             openAIUsage        `json:"usage"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

// reasoningCapable names model prefixes whose effort knob OpenAI exposes.
func reasoningCapable(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") || strings.Contains(m, "-reasoning")
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, newError(KindProviderError, "missing OpenAI API key")
	}

	model := req.Model
	if model == "" {
		model = "gpt-4.1"
	}
	payload := openAIRequest{
		Model: model,
		Input: []openAIInputMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.TextFormat != nil {
		payload.Text = &struct {
			Format openAITextFormat `json:"format"`
		}{Format: openAITextFormat{
			Type:   "json_schema",
			Name:   req.TextFormat.Name,
			Schema: req.TextFormat.Schema,
			Strict: true,
		}}
	}
	if req.EffortLevel != "" && reasoningCapable(payload.Model) {
		payload.Reasoning = &openAIReasoning{Effort: req.EffortLevel}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, newError(KindProviderError, "encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/responses", bytes.NewReader(body))
	if err != nil {
		return Response{}, newError(KindProviderError, "build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
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

	remaining := parseRemainingTokens(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, newError(KindRateLimited, "openai rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return Response{}, newError(KindProviderError, "openai status %d: %s", resp.StatusCode, string(raw))
	}

	var r openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, newError(KindProviderError, "decode response: %v", err)
	}

	text := extractOutputText(r.Output)
	finishReason := "stop"
	if r.IncompleteDetails != nil {
		finishReason = r.IncompleteDetails.Reason
	}

	if text == "" {
		return Response{}, newError(KindEmptyOutput, "openai returned empty output")
	}

	out := Response{
		Text:            text,
		Model:           r.Model,
		InputTokens:     r.Usage.InputTokens,
		OutputTokens:    r.Usage.OutputTokens,
		ReasoningTokens: r.Usage.OutputTokensDetails.ReasoningTokens,
		FinishReason:    finishReason,
		RemainingTokens: remaining,
		DurationSeconds: dur.Seconds(),
	}

	if req.TextFormat != nil {
		if !json.Valid([]byte(text)) {
			return Response{}, newError(KindInvalidJSON, "structured output did not validate against schema %q", req.TextFormat.Name)
		}
		out.Parsed = json.RawMessage(text)
	}

	return out, nil
}

func extractOutputText(items []openAIOutputItem) string {
	var b strings.Builder
	for _, item := range items {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
	}
	return b.String()
}

// parseRemainingTokens reads the provider's rate-limit header
// case-insensitively (spec.md §4.6); http.Header lookups are already
// case-insensitive via textproto canonicalization.
func parseRemainingTokens(h http.Header) *int {
	for _, key := range []string{"x-ratelimit-remaining-tokens", "X-RateLimit-Remaining-Tokens"} {
		if v := h.Get(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSuffix(v, "k")); err == nil {
				return &n
			}
		}
	}
	return nil
}
