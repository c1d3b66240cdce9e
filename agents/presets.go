package agents

import (
	"github.com/aixgo-dev/agora/provider"
	"github.com/aixgo-dev/agora/tool"
)

const researcherPrompt = `You are a professional researcher. Your responsibilities:
1. Search for and collect relevant information
2. Analyze and organize data
3. Provide objective research reports

Stay professional and objective.`

const writerPrompt = `You are a professional content writer. Your responsibilities:
1. Write articles based on research material
2. Keep the content clear and well structured
3. Use an appropriate tone and style

Produce high-quality content.`

const coderPrompt = `You are a professional programmer. Your responsibilities:
1. Write high-quality code
2. Solve technical problems
3. Review and improve code

Follow best practices.`

// NewResearcher creates a research agent equipped with web search.
func NewResearcher(p provider.Provider, opts ...LLMOption) *ToolLLM {
	opts = append([]LLMOption{WithSystemPrompt(researcherPrompt)}, opts...)
	t := NewToolLLM("Researcher", "researcher", p, opts...)
	t.RegisterTool(tool.SearchTool())
	return t
}

// NewWriter creates a content-writing agent.
func NewWriter(p provider.Provider, opts ...LLMOption) *LLM {
	opts = append([]LLMOption{WithSystemPrompt(writerPrompt)}, opts...)
	return NewLLM("Writer", "writer", p, opts...)
}

// NewCoder creates a programming agent equipped with a calculator and
// file reading.
func NewCoder(p provider.Provider, opts ...LLMOption) *ToolLLM {
	opts = append([]LLMOption{WithSystemPrompt(coderPrompt)}, opts...)
	t := NewToolLLM("Coder", "coder", p, opts...)
	t.RegisterTool(tool.CalculateTool())
	t.RegisterTool(tool.ReadFileTool())
	return t
}
