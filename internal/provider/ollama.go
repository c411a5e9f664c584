package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/modelbench/engine/pkg/models"
)

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict"`
	} `json:"options"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// OllamaDriver talks to a local Ollama daemon, included in the built-in
// driver set so the whole pipeline can be exercised in
// development without live vendor credentials. Ollama takes no API key;
// Call accepts one for interface symmetry with every other driver and
// ignores it.
type OllamaDriver struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewOllamaDriver() *OllamaDriver {
	base := os.Getenv("OLLAMA_BASE_URL")
	if base == "" {
		base = "http://localhost:11434"
	}
	return &OllamaDriver{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *OllamaDriver) Kind() string { return "ollama" }

func (d *OllamaDriver) Call(ctx context.Context, _ string, req models.ChatRequest) (models.ChatResult, error) {
	AssertFair(req)

	start := time.Now()
	body := ollamaRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   false,
	}
	body.Options.Temperature = req.Temperature
	body.Options.NumPredict = req.MaxTokens

	buf, err := json.Marshal(body)
	if err != nil {
		return models.ChatResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/api/chat", bytes.NewReader(buf))
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

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ChatResult{}, NewCallError(resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = string(raw)
		}
		return models.ChatResult{}, NewCallError(resp.StatusCode, msg)
	}

	text := ExtractText(parsed.Message.Content)
	tokensOut := parsed.EvalCount
	if tokensOut == 0 {
		tokensOut = EstimateTokens(text)
	}

	return models.ChatResult{
		Text:      text,
		TokensIn:  parsed.PromptEvalCount,
		TokensOut: tokensOut,
		LatencyMs: latency,
	}, nil
}

func (d *OllamaDriver) Canary(ctx context.Context, apiKey, model string) error {
	req := models.ChatRequest{
		Model:       model,
		Messages:    []models.ChatMessage{{Role: "user", Content: "ping"}},
		Temperature: 0.1,
		MaxTokens:   1500,
	}
	_, err := d.Call(ctx, apiKey, req)
	return err
}
