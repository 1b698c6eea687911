package oracle

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted oracle for tests. Results and errors are keyed by
// question type; unscripted types fail with a transport-style error.
type MockClient struct {
	mu       sync.Mutex
	Results  map[string]*ClassificationResult
	Errors   map[string]error
	Summary  string
	Calls    []string // question types in call order
	SumCalls int
}

// NewMockClient creates an empty mock oracle.
func NewMockClient() *MockClient {
	return &MockClient{
		Results: make(map[string]*ClassificationResult),
		Errors:  make(map[string]error),
	}
}

// Script registers a successful reply for a question type.
func (m *MockClient) Script(questionType string, result *ClassificationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[questionType] = result
	delete(m.Errors, questionType)
}

// Fail registers a failure for a question type.
func (m *MockClient) Fail(questionType string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[questionType] = err
	delete(m.Results, questionType)
}

// Classify returns the scripted result or error for the group's type.
func (m *MockClient) Classify(ctx context.Context, req ClassificationRequest) (*ClassificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req.QuestionType)

	if err, ok := m.Errors[req.QuestionType]; ok {
		return nil, err
	}
	if result, ok := m.Results[req.QuestionType]; ok {
		if verr := result.Validate(); verr != nil {
			return nil, verr
		}
		return result, nil
	}
	return nil, fmt.Errorf("mock oracle: no script for question type %q", req.QuestionType)
}

// Summarize returns the scripted summary.
func (m *MockClient) Summarize(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.SumCalls++

	if m.Summary == "" {
		return "", fmt.Errorf("mock oracle: no summary scripted")
	}
	return m.Summary, nil
}
