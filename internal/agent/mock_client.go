package agent

import (
	"context"
	"sync"

	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// MockGenerator replays scripted responses in order. It records every
// request so tests can assert on prompt composition. Once the script is
// exhausted it keeps returning the final entry, which keeps bounded-retry
// loops deterministic.
type MockGenerator struct {
	mu        sync.Mutex
	script    []*Response
	errscript []error
	calls     int
	Requests  []Request
}

func NewMockGenerator(responses ...*Response) *MockGenerator {
	return &MockGenerator{script: responses}
}

// FailWith queues an error before the scripted responses run out.
func (m *MockGenerator) FailWith(errs ...error) *MockGenerator {
	m.errscriptAppend(errs...)
	return m
}

func (m *MockGenerator) errscriptAppend(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errscript = append(m.errscript, errs...)
}

func (m *MockGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	call := m.calls
	m.calls++

	if call < len(m.errscript) {
		return nil, m.errscript[call]
	}
	idx := call - len(m.errscript)
	if len(m.script) == 0 {
		return nil, serrors.ErrGenerationFailed
	}
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx], nil
}

// Calls reports how many times Generate ran.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
