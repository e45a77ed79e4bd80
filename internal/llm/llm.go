package llm

import "context"

// Request describes a single text-generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generator produces a single text completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
