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

// openAIRequest mirrors the OpenAI chat-completions wire shape. Only the
// canonical parameters are ever set — callers pass an already-sanitised
// models.ChatRequest.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAICompatibleDriver speaks the OpenAI chat-completions wire format
// against a configurable base URL. One instance, parameterised by
// BaseURL, backs openai, xai, deepseek, kimi, and glm — they all publish
// an OpenAI-compatible completions endpoint, so one request shape can
// be reused against each vendor's own base URL.
type OpenAICompatibleDriver struct {
	VendorName string
	BaseURL    string
	HTTPClient *http.Client
}

func NewOpenAICompatibleDriver(vendor, baseURL string) *OpenAICompatibleDriver {
	return &OpenAICompatibleDriver{
		VendorName: vendor,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *OpenAICompatibleDriver) Kind() string { return d.VendorName }

func (d *OpenAICompatibleDriver) Call(ctx context.Context, apiKey string, req models.ChatRequest) (models.ChatResult, error) {
	AssertFair(req)

	start := time.Now()
	body := openAIRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	raw, status, err := d.post(ctx, apiKey, "/chat/completions", body)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.ChatResult{}, NewCallError(0, err.Error())
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ChatResult{}, NewCallError(status, fmt.Sprintf("decode response: %v", err))
	}
	if status != http.StatusOK {
		msg := string(raw)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return models.ChatResult{}, NewCallError(status, msg)
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}
	text = ExtractText(text)

	tokensIn := parsed.Usage.PromptTokens
	tokensOut := parsed.Usage.CompletionTokens
	if tokensOut == 0 {
		tokensOut = EstimateTokens(text)
	}

	return models.ChatResult{
		Text:      text,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		LatencyMs: latency,
	}, nil
}

func (d *OpenAICompatibleDriver) Canary(ctx context.Context, apiKey, model string) error {
	req := models.ChatRequest{
		Model:       model,
		Messages:    []models.ChatMessage{{Role: "user", Content: "ping"}},
		Temperature: 0.1,
		MaxTokens:   1500,
	}
	_, err := d.Call(ctx, apiKey, req)
	return err
}

func (d *OpenAICompatibleDriver) post(ctx context.Context, apiKey, path string, payload interface{}) ([]byte, int, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func toOpenAIMessages(msgs []models.ChatMessage) []openAIMessage {
	out := make([]openAIMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
