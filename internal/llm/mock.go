package llm

import (
	"context"
	"sync"
)

// MockResponse is a canned reply for the MockProvider.
type MockResponse struct {
	Text       string
	Usage      Usage
	StopReason StopReason
	Err        error
}

// MockProvider is a deterministic Provider for tests. Replies come from
// Respond when it is set, otherwise from the canned queue in FIFO order.
// Every request is recorded.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     []Request

	// Respond, when set, answers every request and the queue is ignored.
	// It is called with the provider's lock released.
	Respond func(req Request) MockResponse
}

// NewMockProvider creates a MockProvider with the given canned responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

// Generate returns the next reply, or ErrProviderUnavailable once the
// queue is empty.
func (m *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	respond := m.Respond
	var (
		resp MockResponse
		ok   bool
	)
	if respond == nil && len(m.responses) > 0 {
		resp, ok = m.responses[0], true
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	switch {
	case respond != nil:
		resp = respond(req)
	case !ok:
		return nil, &ErrProviderUnavailable{}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	stop := resp.StopReason
	if stop == "" {
		stop = StopEnd
	}
	return &Response{
		Text:       resp.Text,
		Usage:      resp.Usage,
		Model:      "mock",
		StopReason: stop,
	}, nil
}

// ModelID returns "mock".
func (m *MockProvider) ModelID() string {
	return "mock"
}

// AddResponse appends a canned response to the queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// CallCount returns the number of Generate calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Prompts returns the prompt of every recorded call in order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Prompt
	}
	return out
}
