package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/aixgo-dev/agora/agent"
	metrics "github.com/aixgo-dev/agora/pkg/observability"
	"github.com/aixgo-dev/agora/provider"
)

// historyWindow bounds how many past turns are replayed to the model.
const historyWindow = 20

func init() {
	agent.RegisterKind("llm", func(def agent.Def, env agent.Env) (*agent.Agent, error) {
		if def.Name == "" {
			return nil, fmt.Errorf("agent name is required")
		}
		p, err := resolveProvider(def, env)
		if err != nil {
			return nil, err
		}
		l := NewLLM(def.Name, def.Role, p, defLLMOptions(def, env)...)
		return l.Agent, nil
	})
}

// LLM is an agent whose task execution delegates to an LLM provider. It
// keeps its own conversation history so consecutive tasks share context;
// incoming bus messages are turned into tasks naming the sender.
type LLM struct {
	*agent.Agent

	provider    provider.Provider
	model       string
	temperature float64
	maxTokens   int

	mu           sync.Mutex
	systemPrompt string
	history      []provider.Message

	// do is the task entry point. Variants swap it to extend the
	// completion loop while sharing handler and history plumbing.
	do func(ctx context.Context, task string) (string, error)
}

type llmConfig struct {
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	agentOpts    []agent.Option
}

// LLMOption configures an LLM agent.
type LLMOption func(*llmConfig)

// WithModel sets the model to request from the provider.
func WithModel(model string) LLMOption {
	return func(c *llmConfig) { c.model = model }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) LLMOption {
	return func(c *llmConfig) { c.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(c *llmConfig) { c.temperature = t }
}

// WithMaxTokens caps the tokens generated per completion.
func WithMaxTokens(n int) LLMOption {
	return func(c *llmConfig) { c.maxTokens = n }
}

// WithAgentOptions forwards options to the underlying agent.
func WithAgentOptions(opts ...agent.Option) LLMOption {
	return func(c *llmConfig) { c.agentOpts = append(c.agentOpts, opts...) }
}

// NewLLM creates an LLM-backed agent.
func NewLLM(name, role string, p provider.Provider, opts ...LLMOption) *LLM {
	var cfg llmConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.systemPrompt == "" {
		cfg.systemPrompt = fmt.Sprintf("You are %s, a %s.", name, role)
	}

	l := &LLM{
		provider:     p,
		model:        cfg.model,
		temperature:  cfg.temperature,
		maxTokens:    cfg.maxTokens,
		systemPrompt: cfg.systemPrompt,
	}
	l.do = l.complete

	agentOpts := append(cfg.agentOpts,
		agent.WithTaskFunc(func(ctx context.Context, task string) (string, error) {
			return l.do(ctx, task)
		}),
		agent.WithHandlerFunc(l.handleMessage),
	)
	l.Agent = agent.New(name, role, agentOpts...)

	return l
}

// Provider returns the underlying LLM provider.
func (l *LLM) Provider() provider.Provider {
	return l.provider
}

// SetSystemPrompt replaces the system prompt.
func (l *LLM) SetSystemPrompt(prompt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.systemPrompt = prompt
}

// ClearHistory discards the conversation history.
func (l *LLM) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = nil
}

// History returns a copy of the conversation history.
func (l *LLM) History() []provider.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := make([]provider.Message, len(l.history))
	copy(history, l.history)
	return history
}

// complete runs one chat completion over the accumulated history.
func (l *LLM) complete(ctx context.Context, task string) (string, error) {
	resp, err := l.createCompletion(ctx, l.buildRequest(task))
	if err != nil {
		return "", err
	}
	l.recordTurn(task, resp.Content)
	return resp.Content, nil
}

// createCompletion calls the provider and records the request metric.
func (l *LLM) createCompletion(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	resp, err := l.provider.CreateCompletion(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderRequest(l.provider.Name(), status)
	return resp, err
}

// buildRequest assembles system prompt, windowed history, and the new turn.
func (l *LLM) buildRequest(task string) provider.CompletionRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	messages := make([]provider.Message, 0, len(l.history)+2)
	messages = append(messages, provider.Message{Role: "system", Content: l.systemPrompt})

	start := 0
	if len(l.history) > historyWindow {
		start = len(l.history) - historyWindow
	}
	messages = append(messages, l.history[start:]...)
	messages = append(messages, provider.Message{Role: "user", Content: task})

	return provider.CompletionRequest{
		Messages:    messages,
		Model:       l.model,
		Temperature: l.temperature,
		MaxTokens:   l.maxTokens,
	}
}

// recordTurn persists a completed exchange. Failed completions are not
// recorded so a retry does not replay the broken turn.
func (l *LLM) recordTurn(task, reply string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history,
		provider.Message{Role: "user", Content: task},
		provider.Message{Role: "assistant", Content: reply},
	)
}

// handleMessage turns an incoming message into a task naming the sender.
func (l *LLM) handleMessage(ctx context.Context, msg *agent.Message) (string, error) {
	return l.do(ctx, fmt.Sprintf("Message from %s: %s", msg.Sender, msg.Content))
}

// defLLMOptions translates a definition into LLM options.
func defLLMOptions(def agent.Def, env agent.Env) []LLMOption {
	opts := []LLMOption{WithAgentOptions(defOptions(def, env)...)}
	if def.Model != "" {
		opts = append(opts, WithModel(def.Model))
	}
	if def.SystemPrompt != "" {
		opts = append(opts, WithSystemPrompt(def.SystemPrompt))
	}
	if def.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(def.MaxTokens))
	}
	if def.Temperature > 0 {
		opts = append(opts, WithTemperature(def.Temperature))
	}
	return opts
}

// resolveProvider builds the provider an LLM definition names, overlaying
// per-agent settings on the shared provider configuration.
func resolveProvider(def agent.Def, env agent.Env) (provider.Provider, error) {
	name := def.Provider
	if name == "" {
		name = "openai"
	}

	config := make(map[string]any)
	for k, v := range env.ProviderConfig[name] {
		config[k] = v
	}
	if def.Model != "" {
		config["model"] = def.Model
	}
	if key := def.GetString("api_key", ""); key != "" {
		config["api_key"] = key
	}
	if baseURL := def.GetString("base_url", ""); baseURL != "" {
		config["base_url"] = baseURL
	}

	return provider.New(name, config)
}
