package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bc-assistant/core/internal/apperrors"
	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/session"
	"bc-assistant/core/internal/transport"
	mock_transport "bc-assistant/core/internal/transport/mocks"
)

// seedCurrentThread brings the store to a state where a stream can start.
func seedCurrentThread(t *testing.T, store *session.Store, tr *mock_transport.MockTransport, threadID int64) {
	t.Helper()
	tr.On("GetThreads", context.Background()).Return(transport.ThreadsSnapshot{
		Threads: []model.Thread{{ID: threadID, Title: "a thread"}},
	}, nil).Once()
	require.NoError(t, store.FetchThreads(context.Background()))
}

func TestStore_HandleMessageStart(t *testing.T) {
	t.Run("Success - opens the buffer for the current thread", func(t *testing.T) {
		store, tr := setupStore(t)
		seedCurrentThread(t, store, tr, 1)

		require.NoError(t, store.HandleMessageStart(42))

		st := store.Snapshot()
		require.NotNil(t, st.IncomingMessage)
		assert.Equal(t, int64(42), st.IncomingMessage.ID)
		assert.Equal(t, int64(1), st.IncomingMessage.ThreadID)
		assert.Equal(t, model.AuthorAssistant, st.IncomingMessage.Author)
		assert.Empty(t, st.IncomingMessage.Text)
		assert.False(t, st.IncomingMessage.IsGenerationFinished)
	})

	t.Run("Failure - no current thread", func(t *testing.T) {
		store, _ := setupStore(t)
		err := store.HandleMessageStart(42)
		assert.ErrorIs(t, err, apperrors.ErrNoCurrentThread)
	})

	t.Run("Failure - a message is still buffered", func(t *testing.T) {
		store, tr := setupStore(t)
		seedCurrentThread(t, store, tr, 1)

		require.NoError(t, store.HandleMessageStart(42))
		err := store.HandleMessageStart(43)
		assert.ErrorIs(t, err, apperrors.ErrMessageInFlight)

		// The original buffer is untouched.
		st := store.Snapshot()
		require.NotNil(t, st.IncomingMessage)
		assert.Equal(t, int64(42), st.IncomingMessage.ID)
	})
}

// A full stream in delivery order assembles one finished message.
func TestStore_StreamAssembly(t *testing.T) {
	store, tr := setupStore(t)
	seedCurrentThread(t, store, tr, 1)
	store.SetView(model.ViewChat)
	store.SetGenerating(true)

	require.NoError(t, store.HandleMessageStart(42))
	store.HandleSegment("The office ")
	store.HandleSegment("opens at ")
	store.HandleSegment("9am.")
	store.HandleSource(model.AnswerSource{URL: "https://example.com/hours", Title: "Opening hours", Rank: 1})
	store.HandleSource(model.AnswerSource{URL: "https://example.com/faq", Title: "FAQ", Rank: 2})
	store.HandleMessageEnd()

	st := store.Snapshot()
	assert.Nil(t, st.IncomingMessage)
	assert.False(t, st.IsGenerating)
	require.Len(t, st.CurrentThreadMessages, 1)

	msg := st.CurrentThreadMessages[0]
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, "The office opens at 9am.", msg.Text)
	require.Len(t, msg.Sources, 2)
	assert.Equal(t, "https://example.com/hours", msg.Sources[0].URL)
	assert.True(t, msg.IsGenerationFinished)

	// Chat was visible, no unread bump.
	thread, _ := st.Thread(1)
	assert.Zero(t, thread.NrOfUnreadMessages)
}

func TestStore_HandleSegment(t *testing.T) {
	t.Run("No-op for an empty segment", func(t *testing.T) {
		store, tr := setupStore(t)
		seedCurrentThread(t, store, tr, 1)
		require.NoError(t, store.HandleMessageStart(42))

		store.HandleSegment("")
		assert.Empty(t, store.Snapshot().IncomingMessage.Text)
	})

	t.Run("No-op without a buffered message", func(t *testing.T) {
		store, _ := setupStore(t)
		store.HandleSegment("stray segment")
		assert.Nil(t, store.Snapshot().IncomingMessage)
	})
}

func TestStore_HandleSource_NoBuffer(t *testing.T) {
	store, _ := setupStore(t)
	store.HandleSource(model.AnswerSource{URL: "https://example.com"})
	assert.Nil(t, store.Snapshot().IncomingMessage)
}

func TestStore_HandleMessageEnd(t *testing.T) {
	t.Run("Clears the generating flag even without a buffer", func(t *testing.T) {
		store, _ := setupStore(t)
		store.SetGenerating(true)

		store.HandleMessageEnd()

		st := store.Snapshot()
		assert.False(t, st.IsGenerating)
		assert.Empty(t, st.CurrentThreadMessages)
	})

	t.Run("Bumps unread count when chat is not visible", func(t *testing.T) {
		store, tr := setupStore(t)
		seedCurrentThread(t, store, tr, 1)
		store.SetView(model.ViewMinimized)

		require.NoError(t, store.HandleMessageStart(42))
		store.HandleSegment("answer")
		store.HandleMessageEnd()

		thread, _ := store.Snapshot().Thread(1)
		assert.Equal(t, 1, thread.NrOfUnreadMessages)
	})
}

func TestStore_HandleReconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Refetches the current thread", func(t *testing.T) {
		store, tr := setupStore(t)
		seedCurrentThread(t, store, tr, 1)

		tr.On("GetThreadMessages", ctx, int64(1)).Return([]model.ChatMessage{
			{ID: 10, ThreadID: 1, Author: model.AuthorUser, Text: "hi"},
			{ID: 11, ThreadID: 1, Author: model.AuthorAssistant, Text: "hello"},
		}, nil).Once()

		store.HandleReconnect(ctx)
		assert.Len(t, store.Snapshot().CurrentThreadMessages, 2)
	})

	t.Run("No-op without a current thread", func(t *testing.T) {
		store, _ := setupStore(t)
		store.HandleReconnect(ctx)
	})

	t.Run("Discards a half-buffered message from the dropped stream", func(t *testing.T) {
		store, tr := setupStore(t)
		seedCurrentThread(t, store, tr, 1)
		store.SetConnectionStatus(model.ConnectionConnected)
		store.SetGenerating(true)
		require.NoError(t, store.HandleMessageStart(42))
		store.HandleSegment("partial answ")

		// The transport's drop path: unblock submissions, mark the link
		// down. The buffered message stays behind.
		store.SetGenerating(false)
		store.SetConnectionStatus(model.ConnectionDisconnected)

		tr.On("GetThreadMessages", ctx, int64(1)).Return([]model.ChatMessage{
			{ID: 10, ThreadID: 1, Author: model.AuthorUser, Text: "question"},
		}, nil).Once()
		store.SetConnectionStatus(model.ConnectionConnected)
		store.HandleReconnect(ctx)

		st := store.Snapshot()
		assert.Nil(t, st.IncomingMessage)
		assert.Len(t, st.CurrentThreadMessages, 1)

		// The session is fully usable again: a new submission is accepted
		// and its stream can open the buffer.
		threadID := int64(1)
		tr.On("SubmitQuery", ctx, "again", &threadID).
			Return(transport.SubmitResult{ThreadID: 1, MessageID: 43}, nil).Once()
		status, err := store.SubmitQuery(ctx, "again")
		require.NoError(t, err)
		assert.Equal(t, session.SubmitAccepted, status)
		require.NoError(t, store.HandleMessageStart(44))
	})
}

func TestStore_SearchStream(t *testing.T) {
	store, _ := setupStore(t)

	store.HandleSearchSegment("Our plans start ")
	store.HandleSearchSegment("at 10 euro.")
	store.HandleSearchSegment("")
	store.HandleSearchResult(model.AnswerSource{URL: "https://example.com/pricing", Title: "Pricing", Rank: 1})
	store.HandleMessageEnd()

	st := store.Snapshot()
	assert.Equal(t, "Our plans start at 10 euro.", st.SearchAnswer)
	require.Len(t, st.SearchResults, 1)
	assert.False(t, st.IsGenerating)
}

func TestStore_SetConnectionStatus(t *testing.T) {
	store, _ := setupStore(t)
	assert.Equal(t, model.ConnectionNotAttempted, store.Snapshot().ConnectionStatus)

	store.SetConnectionStatus(model.ConnectionConnecting)
	store.SetConnectionStatus(model.ConnectionConnected)
	assert.Equal(t, model.ConnectionConnected, store.Snapshot().ConnectionStatus)
	assert.False(t, store.IsGenerating())
}
