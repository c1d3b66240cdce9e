package tool

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"os"
	"strings"
)

// maxReadSize caps how much of a file the read_file tool returns.
const maxReadSize = 64 * 1024

// Defaults returns a registry with the built-in general-purpose tools:
// search, calculate, and read_file.
func Defaults() *Registry {
	r := NewRegistry()
	r.Register(SearchTool())
	r.Register(CalculateTool())
	r.Register(ReadFileTool())
	return r
}

type searchArgs struct {
	Query string `json:"query" description:"what to search for"`
}

// SearchTool returns a stand-in search tool. It produces simulated
// results; connect a real search backend for live data.
func SearchTool() Tool {
	return New("search", "Search for information on a topic",
		func(ctx context.Context, a searchArgs) (any, error) {
			return fmt.Sprintf("Simulated search results for %q. Connect a real search backend for live data.", a.Query), nil
		})
}

type calculateArgs struct {
	Expression string `json:"expression" description:"arithmetic expression, e.g. 2 + 3 * 4"`
}

// CalculateTool returns a calculator for arithmetic constant expressions.
func CalculateTool() Tool {
	return New("calculate", "Evaluate an arithmetic expression",
		func(ctx context.Context, a calculateArgs) (any, error) {
			return evaluate(a.Expression)
		})
}

// evaluate computes an arithmetic expression using the constant evaluator
// of the Go type checker. The character allowlist keeps identifiers and
// calls out, so nothing is ever executed.
func evaluate(expr string) (string, error) {
	const allowed = "0123456789+-*/%(). "
	for _, c := range expr {
		if !strings.ContainsRune(allowed, c) {
			return "", fmt.Errorf("unsupported character %q in expression", c)
		}
	}

	tv, err := types.Eval(token.NewFileSet(), nil, token.NoPos, expr)
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	if tv.Value == nil {
		return "", fmt.Errorf("expression %q is not constant", expr)
	}
	return tv.Value.String(), nil
}

type readFileArgs struct {
	Path string `json:"path" description:"path of the file to read"`
}

// ReadFileTool returns a tool that reads a local file, truncated to 64 KiB.
func ReadFileTool() Tool {
	return New("read_file", "Read the contents of a local file",
		func(ctx context.Context, a readFileArgs) (any, error) {
			data, err := os.ReadFile(a.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", a.Path, err)
			}
			if len(data) > maxReadSize {
				return string(data[:maxReadSize]) + "\n... (truncated)", nil
			}
			return string(data), nil
		})
}
