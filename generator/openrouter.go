package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	glog "github.com/ethereum/go-ethereum/log"
)

// modelMapping is the provider -> OpenRouter model-id table from
// original_source/backend/app/services/llm_service.py's
// model_mapping. Kept as the one concrete adapter the Generator
// interface needs to be exercised by; spec.md §1 explicitly excludes
// the generative LLM providers themselves from the core, but an
// adapter has to exist for the gateway to be runnable end to end.
var modelMapping = map[string]string{
	"openai":   "openai/gpt-5-mini",
	"grok":     "meta-llama/llama-3.3-70b-instruct:free",
	"claude":   "anthropic/claude-3.7-sonnet",
	"gemini":   "google/gemini-2.5-flash-lite",
	"deepseek": "deepseek/deepseek-chat-v3.1:free",
}

// OpenRouterAdapter calls the OpenRouter chat-completions endpoint,
// grounded on llm_service.py's _call_openrouter: same header set, same
// request shape, and the same "reasoning" fallback for providers that
// return an empty content field alongside a populated reasoning field.
type OpenRouterAdapter struct {
	APIKey     string
	BaseURL    string // defaults to https://openrouter.ai/api/v1
	HTTPClient *http.Client

	// Limiter bounds outbound request rate. A consensus gate fanning a
	// prompt out to several raters, plus concurrent generate calls, can
	// otherwise burst well past OpenRouter's own per-key rate limit.
	Limiter *rate.Limiter
}

// NewOpenRouterAdapter constructs an adapter with a bounded-timeout
// HTTP client, matching the 60s timeout llm_service.py's requests.post
// call used, and a token-bucket limiter capping outbound request rate
// at ratePerSecond (burst of 1; ratePerSecond <= 0 disables
// limiting).
func NewOpenRouterAdapter(apiKey string, ratePerSecond float64) *OpenRouterAdapter {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &OpenRouterAdapter{
		APIKey:  apiKey,
		BaseURL: "https://openrouter.ai/api/v1",
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		Limiter: limiter,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatChoice struct {
	Message struct {
		Content   string `json:"content"`
		Reasoning string `json:"reasoning"`
	} `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Generator. model selects an OpenRouter model id
// via modelMapping when the caller passes one of the short provider
// aliases ("openai", "claude", ...); any other value is sent verbatim,
// so a caller with a model id OpenRouter already understands is not
// forced through the alias table.
func (a *OpenRouterAdapter) Generate(ctx context.Context, model, prompt string, parameters map[string]any) (Result, error) {
	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("generator: rate limit wait: %w", err)
		}
	}

	requestID := uuid.New().String()
	start := time.Now()

	resolvedModel := model
	if mapped, ok := modelMapping[model]; ok {
		resolvedModel = mapped
	}

	temperature := 0.2
	if t, ok := parameters["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := 200
	if mt, ok := parameters["max_tokens"].(float64); ok {
		maxTokens = int(mt)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:       resolvedModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generator: encode openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("generator: build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("HTTP-Referer", "https://tracegate.example")
	httpReq.Header.Set("X-Title", "Verifiable LLM Generation Gateway")

	glog.Debug("generator: dispatching request", "request_id", requestID, "model", resolvedModel)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("generator: openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("generator: read openrouter response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("generator: openrouter returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("generator: decode openrouter response: %w", err)
	}
	if parsed.Error != nil {
		return Result{}, fmt.Errorf("generator: openrouter error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("generator: openrouter response had no choices")
	}

	content := parsed.Choices[0].Message.Content
	if content == "" && parsed.Choices[0].Message.Reasoning != "" {
		content = parsed.Choices[0].Message.Reasoning
	}

	return Result{Content: content, Latency: time.Since(start)}, nil
}
