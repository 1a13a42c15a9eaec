package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/maxwelljoslyn/gm-trainer/core"
)

// Request captures the normalized model input for one player turn.
type Request struct {
	ConversationID string          `json:"conversation_id"`
	System         string          `json:"system"`
	History        []core.Exchange `json:"history,omitempty"` // prior exchanges of the same conversation
	Prompt         string          `json:"prompt"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the completed model output.
type Response struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"` // "stop", "length", ...
	Usage        TokenUsage `json:"usage"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface the invoker requires. Any returned error is
// treated as a transient failure by callers.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Outcome is one scripted MockModel result.
type Outcome struct {
	Text string
	Err  error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted outcomes are consumed in call order; once exhausted it answers
// with canned per-prompt responses or an echo of the last prompt line.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	script    []Outcome
	responses map[string]string
	calls     []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted outcomes.
func (m *MockModel) Enqueue(outcomes ...Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, outcomes...)
}

// Respond enqueues successful outcomes.
func (m *MockModel) Respond(texts ...string) {
	for _, t := range texts {
		m.Enqueue(Outcome{Text: t})
	}
}

// Fail enqueues n failing outcomes.
func (m *MockModel) Fail(err error, n int) {
	for i := 0; i < n; i++ {
		m.Enqueue(Outcome{Err: err})
	}
}

// Calls returns a copy of every request received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)

	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	var text string
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		text = next.Text
	} else if canned, ok := m.responses[req.Prompt]; ok {
		text = canned
	} else {
		lines := strings.Split(req.Prompt, "\n")
		text = fmt.Sprintf("Mock response to: %s", lines[len(lines)-1])
	}

	return &Response{
		ID:           fmt.Sprintf("mock-%d", len(m.calls)),
		Model:        m.info.Name,
		Text:         text,
		FinishReason: "stop",
	}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
