package pipeline

import (
	"context"
	"sync"

	"github.com/JakeFAU/widget-forge/internal/llm"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   [][]llm.Message
}

func (m *scriptedModel) Generate(_ context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llm.Message(nil), messages...))
	i := len(m.calls) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return "", nil
}

func (m *scriptedModel) Calls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubFetcher struct {
	body  string
	err   error
	calls int
	mu    sync.Mutex
}

func (s *stubFetcher) Fetch(_ context.Context, req widget.FetchRequest) (widget.FetchResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return widget.FetchResponse{}, s.err
	}
	return widget.FetchResponse{URL: req.URL, StatusCode: 200, Body: s.body}, nil
}

func (s *stubFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func joinedContent(messages []llm.Message) string {
	out := ""
	for _, m := range messages {
		out += m.Content + "\n"
	}
	return out
}
