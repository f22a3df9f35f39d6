package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	openailib "github.com/sashabaranov/go-openai"

	"github.com/conversa/engine/internal/llm"
)

// Client implements llm.Client against any OpenAI-compatible
// chat-completions endpoint, grounded on
// Jint8888-Pocket-Omega/internal/llm/openai/client.go's retry loop and
// Function Calling request/response conversion, adapted to spec.md
// §4.L's single Complete entry point and its exponential backoff
// contract (base 1s, factor 2, up to 3 attempts; no retry on 4xx).
type Client struct {
	client *openailib.Client
	config *Config
	log    *zap.Logger
}

// NewClient builds a Client from an explicit Config.
func NewClient(config *Config, log *zap.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.HTTPTimeout}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
		log:    log,
	}, nil
}

// NewClientFromEnv builds a Client from environment variables.
func NewClientFromEnv(log *zap.Logger) (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading llm config from env: %w", err)
	}
	return NewClient(config, log)
}

// Complete sends req to the upstream chat-completions API, retrying
// transient failures (rate limits, connection errors, upstream 5xx)
// with exponential backoff; 4xx errors are returned immediately.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	openaiReq := c.buildRequest(req)

	var resp openailib.ChatCompletionResponse
	var lastErr error

	maxAttempts := c.config.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, openaiReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return llm.Response{}, fmt.Errorf("llm call failed: %w", lastErr)
		}
		if attempt == maxAttempts-1 {
			break
		}

		wait := c.config.RetryBase * time.Duration(math.Pow(2, float64(attempt)))
		c.log.Warn("retrying llm call", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(lastErr))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	if lastErr != nil {
		return llm.Response{}, fmt.Errorf("llm call failed after %d attempts: %w", maxAttempts, lastErr)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("llm returned no choices")
	}

	return c.buildResponse(resp), nil
}

func (c *Client) buildRequest(req llm.Request) openailib.ChatCompletionRequest {
	messages := make([]openailib.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openailib.ChatCompletionMessage{Role: openailib.ChatMessageRoleSystem, Content: req.SystemPrompt})
	for _, m := range req.Messages {
		messages = append(messages, openailib.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	tools := make([]openailib.Tool, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = openailib.Tool{
			Type: openailib.ToolTypeFunction,
			Function: &openailib.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	return openailib.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
}

func (c *Client) buildResponse(resp openailib.ChatCompletionResponse) llm.Response {
	choice := resp.Choices[0]

	out := llm.Response{
		Text:         choice.Message.Content,
		StopReason:   mapFinishReason(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				c.log.Warn("tool call arguments were not valid JSON, using empty map", zap.String("tool", tc.Function.Name), zap.Error(err))
				args = map[string]any{}
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return out
}

func mapFinishReason(reason openailib.FinishReason) llm.StopReason {
	switch reason {
	case openailib.FinishReasonStop:
		return llm.StopReasonStop
	case openailib.FinishReasonToolCalls, openailib.FinishReasonFunctionCall:
		return llm.StopReasonToolCalls
	case openailib.FinishReasonLength:
		return llm.StopReasonLength
	default:
		return llm.StopReasonOther
	}
}

// isRetryable reports whether err is a transient failure worth
// retrying: rate limits, connection errors, and upstream 5xx. 4xx
// (other than 429) is never retried, per spec.md §4.L.
func isRetryable(err error) bool {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	// No structured API error: treat as a connection-level failure (DNS,
	// timeout, reset) and retry.
	return true
}

// GetName returns the provider identifier for logging/debug_info.
func (c *Client) GetName() string {
	return "openai-compatible"
}
