package provider

import (
	"context"
	"sync"
)

func init() {
	RegisterFactory("mock", func(config map[string]any) (Provider, error) {
		name := "mock"
		if n, ok := config["name"].(string); ok && n != "" {
			name = n
		}
		m := NewMockProvider(name)
		if content, ok := config["content"].(string); ok {
			m.AddCompletionResponse(MockCompletionResponse(content))
		}
		return m, nil
	})
}

// MockProvider is a scriptable LLM provider for testing. Responses and
// errors are consumed in order; once exhausted it falls back to a canned
// reply. Safe for concurrent use.
type MockProvider struct {
	name string

	mu sync.Mutex

	// Responses to return for each request
	CompletionResponses []*CompletionResponse
	Errors              []error

	// Track calls
	CompletionCalls []CompletionRequest

	currentIndex int
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:                name,
		CompletionResponses: []*CompletionResponse{},
		Errors:              []error{},
		CompletionCalls:     []CompletionRequest{},
	}
}

// CreateCompletion implements Provider.
func (m *MockProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompletionCalls = append(m.CompletionCalls, request)

	if m.currentIndex < len(m.Errors) && m.Errors[m.currentIndex] != nil {
		err := m.Errors[m.currentIndex]
		m.currentIndex++
		return nil, err
	}

	if m.currentIndex < len(m.CompletionResponses) {
		response := m.CompletionResponses[m.currentIndex]
		m.currentIndex++
		return response, nil
	}

	return &CompletionResponse{
		Content:      "Mock response",
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
		},
	}, nil
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	return m.name
}

// AddCompletionResponse adds a completion response to return.
func (m *MockProvider) AddCompletionResponse(response *CompletionResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletionResponses = append(m.CompletionResponses, response)
	return m
}

// AddError adds an error to return.
func (m *MockProvider) AddError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
	return m
}

// Calls returns a snapshot of the tracked completion calls.
func (m *MockProvider) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]CompletionRequest, len(m.CompletionCalls))
	copy(calls, m.CompletionCalls)
	return calls
}

// Reset resets the mock provider.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletionResponses = []*CompletionResponse{}
	m.Errors = []error{}
	m.CompletionCalls = []CompletionRequest{}
	m.currentIndex = 0
}

// MockCompletionResponse creates a mock completion response.
func MockCompletionResponse(content string) *CompletionResponse {
	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: len(content) / 4, // Rough token estimate
			TotalTokens:      10 + len(content)/4,
		},
	}
}

// MockToolCallResponse creates a mock response that calls a single tool.
func MockToolCallResponse(id, name, arguments string) *CompletionResponse {
	return &CompletionResponse{
		FinishReason: "tool_calls",
		ToolCalls: []ToolCall{
			{ID: id, Name: name, Arguments: []byte(arguments)},
		},
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
		},
	}
}
