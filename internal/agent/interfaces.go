package agent

import "context"

// Request is one generation call. MaxTokens and Temperature come from the
// selected strategy, not from client defaults.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the generated text plus the token accounting the cost
// ledger is charged from.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Generator produces chapter candidates. Implementations: the HTTP Client
// and MockGenerator for tests and dry runs.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
