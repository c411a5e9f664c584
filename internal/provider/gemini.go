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

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GeminiDriver speaks the Google Generative Language API wire format.
type GeminiDriver struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewGeminiDriver() *GeminiDriver {
	return &GeminiDriver{
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *GeminiDriver) Kind() string { return "gemini" }

func (d *GeminiDriver) Call(ctx context.Context, apiKey string, req models.ChatRequest) (models.ChatResult, error) {
	AssertFair(req)

	start := time.Now()
	body := geminiRequest{Contents: toGeminiContents(req.Messages)}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	buf, err := json.Marshal(body)
	if err != nil {
		return models.ChatResult{}, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", d.BaseURL, req.Model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return models.ChatResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var parsed geminiResponse
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
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	text = ExtractText(text)

	tokensOut := parsed.UsageMetadata.CandidatesTokenCount
	if tokensOut == 0 {
		tokensOut = EstimateTokens(text)
	}

	return models.ChatResult{
		Text:      text,
		TokensIn:  parsed.UsageMetadata.PromptTokenCount,
		TokensOut: tokensOut,
		LatencyMs: latency,
	}, nil
}

func (d *GeminiDriver) Canary(ctx context.Context, apiKey, model string) error {
	req := models.ChatRequest{
		Model:       model,
		Messages:    []models.ChatMessage{{Role: "user", Content: "ping"}},
		Temperature: 0.1,
		MaxTokens:   1500,
	}
	_, err := d.Call(ctx, apiKey, req)
	return err
}

func toGeminiContents(msgs []models.ChatMessage) []geminiContent {
	out := make([]geminiContent, len(msgs))
	for i, m := range msgs {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		out[i] = geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}}
	}
	return out
}
