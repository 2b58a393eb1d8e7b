package llmclient

import (
	"context"
	"strings"
)

// MockProvider returns canned responses keyed by a substring of the user
// prompt, falling back to a default. Used by tests and --simulate_runs.
type MockProvider struct {
	model    string
	Default  string
	Handlers []MockHandler
	Calls    []Request
}

// MockHandler matches a user prompt by substring and returns the canned
// response text for it.
type MockHandler struct {
	Contains string
	Response string
}

// NewMockProvider builds a MockProvider. handlers are tried in order; the
// first whose Contains substring appears in the prompt wins.
func NewMockProvider(handlers []MockHandler) *MockProvider {
	return &MockProvider{Handlers: handlers, Default: `{}`}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	p.Calls = append(p.Calls, req)
	for _, h := range p.Handlers {
		if h.Contains == "" || strings.Contains(req.UserPrompt, h.Contains) {
			return &Response{Text: h.Response, Model: "mock"}, nil
		}
	}
	return &Response{Text: p.Default, Model: "mock"}, nil
}
