package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"

	defaultRequestTimeout = 120 * time.Second
)

// OpenAIOptions configures an OpenAI-compatible client.
type OpenAIOptions struct {
	Name       string // provider name reported in errors and usage
	APIKey     string
	Model      string // default model when a request does not name one
	BaseURL    string // API root, e.g. https://openrouter.ai/api/v1
	Timeout    time.Duration
	Headers    map[string]string // extra headers, e.g. OpenRouter attribution
	HTTPClient *http.Client
}

// OpenAIClient implements Provider for OpenAI-compatible chat completion APIs.
// OpenRouter and Groq both speak this dialect.
type OpenAIClient struct {
	name     string
	apiKey   string
	model    string
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewOpenAIClient creates a new OpenAI-compatible API client
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = ProviderOpenRouter
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		client = newHTTPClient(timeout)
	}
	return &OpenAIClient{
		name:     name,
		apiKey:   strings.TrimSpace(opts.APIKey),
		model:    strings.TrimSpace(opts.Model),
		endpoint: chatCompletionsEndpoint(opts.BaseURL),
		headers:  opts.Headers,
		client:   client,
	}
}

// NewOpenRouterClient creates a client for OpenRouter.
func NewOpenRouterClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	return NewOpenAIClient(OpenAIOptions{
		Name:    ProviderOpenRouter,
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: timeout,
		Headers: map[string]string{
			"HTTP-Referer": "https://velto.ai",
			"X-Title":      "Velto AI",
		},
	})
}

// NewGroqClient creates a client for Groq.
func NewGroqClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = groqBaseURL
	}
	return NewOpenAIClient(OpenAIOptions{
		Name:    ProviderGroq,
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: timeout,
	})
}

func chatCompletionsEndpoint(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = openRouterBaseURL
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return c.name
}

// openaiRequest is the request body for the chat completions API
type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiResponse is the response from the chat completions API
type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Error openaiErrorDetail `json:"error"`
}

type openaiErrorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

// Chat sends a chat request to the completion endpoint
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", c.name, ErrMissingAPIKey)
	}

	messages := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openaiMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// Use provided model or fall back to client default
	model := req.Model
	if model == "" {
		model = c.model
	}

	openaiReq := openaiRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		openaiReq.Temperature = req.Temperature
	}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Provider:   c.name,
			Model:      model,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
		var errResp openaiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			apiErr.Message = errResp.Error.Message
			apiErr.Code = strings.Trim(string(errResp.Error.Code), `"`)
			if apiErr.Code == "null" {
				apiErr.Code = ""
			}
		}
		return nil, apiErr
	}

	var openaiResp openaiResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no response choices returned", c.name)
	}

	out := &ChatResponse{
		Content:    openaiResp.Choices[0].Message.Content,
		Model:      openaiResp.Model,
		StopReason: openaiResp.Choices[0].FinishReason,
	}
	if out.Model == "" {
		out.Model = model
	}
	if u := openaiResp.Usage; u != nil && (u.PromptTokens > 0 || u.CompletionTokens > 0) {
		out.Usage = &Usage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
		}
	}
	return out, nil
}
