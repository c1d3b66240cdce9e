package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aixgo-dev/agora/agent"
	"github.com/aixgo-dev/agora/provider"
	"github.com/aixgo-dev/agora/tool"
)

func init() {
	agent.RegisterKind("tools", func(def agent.Def, env agent.Env) (*agent.Agent, error) {
		if def.Name == "" {
			return nil, fmt.Errorf("agent name is required")
		}
		p, err := resolveProvider(def, env)
		if err != nil {
			return nil, err
		}
		tl := NewToolLLM(def.Name, def.Role, p, defLLMOptions(def, env)...)
		if err := registerNamedTools(tl.Agent, def.Tools); err != nil {
			return nil, err
		}
		return tl.Agent, nil
	})
}

// ToolLLM extends LLM with a tool-call round-trip: when the model requests
// tools, they run through the agent's registry and the results go back to
// the model for one final completion.
type ToolLLM struct {
	*LLM
}

// NewToolLLM creates a tool-calling LLM agent.
func NewToolLLM(name, role string, p provider.Provider, opts ...LLMOption) *ToolLLM {
	t := &ToolLLM{LLM: NewLLM(name, role, p, opts...)}
	t.do = t.completeWithTools
	return t
}

func (t *ToolLLM) completeWithTools(ctx context.Context, task string) (string, error) {
	req := t.buildRequest(task)
	for _, spec := range t.Tools().Specs() {
		req.Tools = append(req.Tools, provider.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}

	resp, err := t.createCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.ToolCalls) == 0 {
		t.recordTurn(task, resp.Content)
		return resp.Content, nil
	}

	messages := req.Messages
	if resp.Content != "" {
		messages = append(messages, provider.Message{Role: "assistant", Content: resp.Content})
	}
	for _, call := range resp.ToolCalls {
		messages = append(messages, provider.Message{
			Role:    "tool",
			Content: fmt.Sprintf("%s returned: %s", call.Name, t.runTool(ctx, call)),
		})
	}

	final, err := t.createCompletion(ctx, provider.CompletionRequest{
		Messages:    messages,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	t.recordTurn(task, final.Content)
	return final.Content, nil
}

// runTool executes one tool call. Failures come back as text so the model
// can react to them in the final completion instead of aborting the task.
func (t *ToolLLM) runTool(ctx context.Context, call provider.ToolCall) string {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments: %v", err)
		}
	}

	result, err := t.Tools().Execute(ctx, call.Name, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("%v", result)
}

// registerNamedTools attaches built-in tools to an agent by name.
func registerNamedTools(a *agent.Agent, names []string) error {
	if len(names) == 0 {
		return nil
	}
	builtins := tool.Defaults()
	for _, name := range names {
		t, ok := builtins.Get(name)
		if !ok {
			return fmt.Errorf("unknown tool %q", name)
		}
		a.RegisterTool(t)
	}
	return nil
}
