// Package provider defines the LLM provider abstraction and its concrete
// bindings. A Provider turns a conversation plus an optional tool list into
// a completion; agents stay decoupled from vendor SDKs by depending only on
// this interface.
package provider

import (
	"context"
	"encoding/json"
)

// Provider is the interface implemented by all LLM backends.
type Provider interface {
	// CreateCompletion creates a completion for the given request.
	CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant", "tool"
	Content string `json:"content"` // The message content
}

// Tool represents a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema for parameters
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Model is the model to use (e.g., "gpt-4o-mini", "claude-3-5-sonnet").
	Model string `json:"model,omitempty"`

	// Temperature controls randomness (0.0-2.0).
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Tools available for the model to call.
	Tools []Tool `json:"tools,omitempty"`

	// Additional provider-specific options.
	Extra map[string]any `json:"extra,omitempty"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	// Content is the generated text.
	Content string `json:"content"`

	// FinishReason explains why generation stopped ("stop", "tool_calls", ...).
	FinishReason string `json:"finish_reason"`

	// Usage contains token usage information.
	Usage Usage `json:"usage"`

	// ToolCalls if the model called any tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ProviderError represents a provider-specific error.
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Type          string `json:"type,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

// Unwrap returns the original error.
func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// Common error codes.
const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeAuthentication  = "authentication_error"
	ErrorCodeRateLimit       = "rate_limit_exceeded"
	ErrorCodeServerError     = "server_error"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeModelNotFound   = "model_not_found"
	ErrorCodeContentFiltered = "content_filtered"
	ErrorCodeUnknown         = "unknown_error"
)

// NewProviderError creates a new provider error.
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   isRetryableCode(code),
	}
}

// isRetryableCode determines if an error code is retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// statusToCode maps an HTTP status code to a provider error code.
func statusToCode(status int) string {
	switch status {
	case 401, 403:
		return ErrorCodeAuthentication
	case 429:
		return ErrorCodeRateLimit
	case 400:
		return ErrorCodeInvalidRequest
	case 404:
		return ErrorCodeModelNotFound
	}
	if status >= 500 {
		return ErrorCodeServerError
	}
	return ErrorCodeUnknown
}
