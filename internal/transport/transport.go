package transport

import (
	"context"

	"bc-assistant/core/internal/model"
)

// SubmitResult carries the server-issued identifiers returned when a
// query is accepted.
type SubmitResult struct {
	ThreadID  int64 `json:"thread_id"`
	MessageID int64 `json:"message_id"`
}

// ThreadsSnapshot is the combined payload of the thread list and the
// message history of the most recent thread.
type ThreadsSnapshot struct {
	Threads              []model.Thread      `json:"threads"`
	LatestThreadMessages []model.ChatMessage `json:"latest_thread_messages"`
}

// Callbacks is the surface the transport drives as streamed events
// arrive. The session store implements it; the transport must deliver
// segment and source events in emission order.
type Callbacks interface {
	IsGenerating() bool
	SetGenerating(generating bool)
	SetConnectionStatus(status model.ConnectionStatus)

	// HandleMessageStart opens the single-slot assistant message buffer.
	// It fails when no thread is current or a message is already buffered.
	HandleMessageStart(messageID int64) error
	HandleSegment(segment string)
	HandleSource(source model.AnswerSource)
	HandleMessageEnd()
	HandleReconnect(ctx context.Context)

	HandleSearchSegment(segment string)
	HandleSearchResult(result model.AnswerSource)
}

// Transport is the port to the external assistant service. Implementations
// own the actual network protocol, retries and session handshake; the
// session core treats them as a black box.
//
// Initialize must be called exactly once, before any other method, to
// register the callback surface streamed events are dispatched to.
type Transport interface {
	Initialize(cb Callbacks)

	SubmitQuery(ctx context.Context, query string, threadID *int64) (SubmitResult, error)
	SubmitSearchQuery(ctx context.Context, query string) error
	GetThreads(ctx context.Context) (ThreadsSnapshot, error)
	GetThreadMessages(ctx context.Context, threadID int64) ([]model.ChatMessage, error)
	GiveFeedback(ctx context.Context, messageID int64, rating bool) error
	GiveFollowUpAnswerOnThread(ctx context.Context, threadID int64, responseCodes []int) error
	GetQuestions(ctx context.Context) ([]model.DiscoverQuestion, error)
	IncrementQuestionClick(ctx context.Context, questionID int64) error
}
