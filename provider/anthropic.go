package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const defaultAnthropicModel = anthropic.Model("claude-3-5-sonnet-20241022")

func init() {
	RegisterFactory("anthropic", func(config map[string]any) (Provider, error) {
		apiKey := ""
		if key, ok := config["api_key"].(string); ok {
			apiKey = key
		}
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}

		var clientOpts []option.RequestOption
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
		if baseURL, ok := config["base_url"].(string); ok && baseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
		}

		model := ""
		if m, ok := config["model"].(string); ok {
			model = m
		}

		client := anthropic.NewClient(clientOpts...)
		return NewAnthropicFromClient(&client, model), nil
	})
}

// Anthropic implements Provider on top of the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates an Anthropic provider with the default client.
func NewAnthropic(apiKey, model string) *Anthropic {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicFromClient(&client, model)
}

// NewAnthropicFromClient creates an Anthropic provider from an existing client.
func NewAnthropicFromClient(client *anthropic.Client, model string) *Anthropic {
	m := defaultAnthropicModel
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Anthropic{client: client, model: m}
}

// Name returns the provider name.
func (p *Anthropic) Name() string {
	return "anthropic"
}

// CreateCompletion creates a completion.
func (p *Anthropic) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, p.wrapError(err)
	}
	return parseAnthropicMessage(resp), nil
}

func (p *Anthropic) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	model := p.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// Tool results and unknown roles travel as user text.
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	return params
}

func buildAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, t := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: schema.Properties,
			Required:   schema.Required,
		}

		tu := anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
		if tu.OfTool != nil && t.Description != "" {
			tu.OfTool.Description = anthropic.String(t.Description)
		}
		out[i] = tu
	}

	return out
}

func parseAnthropicMessage(resp *anthropic.Message) *CompletionResponse {
	var content string
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}

	finishReason := string(resp.StopReason)
	switch finishReason {
	case "end_turn", "":
		finishReason = "stop"
	case "tool_use":
		finishReason = "tool_calls"
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: finishReason,
		ToolCalls:    toolCalls,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

func (p *Anthropic) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := statusToCode(apiErr.StatusCode)
		return &ProviderError{
			Provider:      "anthropic",
			Code:          code,
			Message:       err.Error(),
			StatusCode:    apiErr.StatusCode,
			IsRetryable:   isRetryableCode(code),
			OriginalError: err,
		}
	}
	return NewProviderError("anthropic", ErrorCodeUnknown, err.Error(), err)
}
