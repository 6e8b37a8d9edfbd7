// Package mocks provides a testify mock of the transport port for
// session and prompter tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/transport"
)

// MockTransport is a mock implementation of transport.Transport.
type MockTransport struct {
	mock.Mock
}

var _ transport.Transport = (*MockTransport)(nil)

// NewMockTransport creates a new mock wired to the test's cleanup, so
// expectations are asserted automatically.
func NewMockTransport(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTransport {
	m := &MockTransport{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockTransport) Initialize(cb transport.Callbacks) {
	m.Called(cb)
}

func (m *MockTransport) SubmitQuery(ctx context.Context, query string, threadID *int64) (transport.SubmitResult, error) {
	args := m.Called(ctx, query, threadID)
	return args.Get(0).(transport.SubmitResult), args.Error(1)
}

func (m *MockTransport) SubmitSearchQuery(ctx context.Context, query string) error {
	args := m.Called(ctx, query)
	return args.Error(0)
}

func (m *MockTransport) GetThreads(ctx context.Context) (transport.ThreadsSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(transport.ThreadsSnapshot), args.Error(1)
}

func (m *MockTransport) GetThreadMessages(ctx context.Context, threadID int64) ([]model.ChatMessage, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChatMessage), args.Error(1)
}

func (m *MockTransport) GiveFeedback(ctx context.Context, messageID int64, rating bool) error {
	args := m.Called(ctx, messageID, rating)
	return args.Error(0)
}

func (m *MockTransport) GiveFollowUpAnswerOnThread(ctx context.Context, threadID int64, responseCodes []int) error {
	args := m.Called(ctx, threadID, responseCodes)
	return args.Error(0)
}

func (m *MockTransport) GetQuestions(ctx context.Context) ([]model.DiscoverQuestion, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DiscoverQuestion), args.Error(1)
}

func (m *MockTransport) IncrementQuestionClick(ctx context.Context, questionID int64) error {
	args := m.Called(ctx, questionID)
	return args.Error(0)
}
