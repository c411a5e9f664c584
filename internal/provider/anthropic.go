package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelbench/engine/pkg/models"
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicDriver speaks the Messages API wire format.
type AnthropicDriver struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewAnthropicDriver() *AnthropicDriver {
	return &AnthropicDriver{
		BaseURL:    "https://api.anthropic.com/v1",
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *AnthropicDriver) Kind() string { return "anthropic" }

func (d *AnthropicDriver) Call(ctx context.Context, apiKey string, req models.ChatRequest) (models.ChatResult, error) {
	AssertFair(req)

	start := time.Now()
	body := anthropicRequest{
		Model:       req.Model,
		Messages:    toAnthropicMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return models.ChatResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/messages", bytes.NewReader(buf))
	if err != nil {
		return models.ChatResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		return models.ChatResult{}, NewCallError(0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.ChatResult{}, NewCallError(resp.StatusCode, err.Error())
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ChatResult{}, NewCallError(resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return models.ChatResult{}, NewCallError(resp.StatusCode, msg)
	}

	text := ""
	for _, part := range parsed.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}
	text = ExtractText(text)

	tokensOut := parsed.Usage.OutputTokens
	if tokensOut == 0 {
		tokensOut = EstimateTokens(text)
	}

	return models.ChatResult{
		Text:      text,
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: tokensOut,
		LatencyMs: latency,
	}, nil
}

func (d *AnthropicDriver) Canary(ctx context.Context, apiKey, model string) error {
	req := models.ChatRequest{
		Model:       model,
		Messages:    []models.ChatMessage{{Role: "user", Content: "ping"}},
		Temperature: 0.1,
		MaxTokens:   1500,
	}
	_, err := d.Call(ctx, apiKey, req)
	return err
}

func toAnthropicMessages(msgs []models.ChatMessage) []anthropicMessage {
	out := make([]anthropicMessage, len(msgs))
	for i, m := range msgs {
		out[i] = anthropicMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
