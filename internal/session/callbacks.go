package session

import (
	"context"
	"fmt"

	"bc-assistant/core/internal/apperrors"
	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/telemetry"
	"bc-assistant/core/internal/transport"
)

// The store is the transport's callback surface: streamed events drive
// the single-slot assistant message buffer. Segments and sources are
// applied strictly in delivery order; the buffer has no reordering
// logic, ordered delivery is part of the transport contract.
var _ transport.Callbacks = (*Store)(nil)

// IsGenerating reports whether an answer generation is in flight.
func (s *Store) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsGenerating
}

// SetGenerating sets the generation-in-progress flag.
func (s *Store) SetGenerating(generating bool) {
	s.update(func(st *State) {
		st.IsGenerating = generating
	})
}

// SetConnectionStatus records the transport link state. Query submission
// is only permitted while connected.
func (s *Store) SetConnectionStatus(status model.ConnectionStatus) {
	s.mu.Lock()
	prev := s.state.ConnectionStatus
	s.state.ConnectionStatus = status
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)

	if prev != status {
		s.log.Info().Str("from", string(prev)).Str("to", string(status)).Msg("connection status changed")
	}
}

// HandleMessageStart opens the assistant message buffer for a new
// streamed answer. Starting a message with no current thread, or while
// another message is still buffered, is a caller contract breach and
// fails instead of silently discarding state.
func (s *Store) HandleMessageStart(messageID int64) error {
	s.mu.Lock()
	if s.state.CurrentThreadID == nil {
		s.mu.Unlock()
		return apperrors.ErrNoCurrentThread
	}
	if s.state.IncomingMessage != nil {
		buffered := s.state.IncomingMessage.ID
		s.mu.Unlock()
		return fmt.Errorf("%w: message %d still buffered", apperrors.ErrMessageInFlight, buffered)
	}

	s.state.IncomingMessage = &model.ChatMessage{
		ID:       messageID,
		ThreadID: *s.state.CurrentThreadID,
		Author:   model.AuthorAssistant,
		Sources:  []model.AnswerSource{},
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)
	return nil
}

// HandleSegment appends a streamed text segment to the buffered message.
// No-op when the segment is empty or no message is buffered.
func (s *Store) HandleSegment(segment string) {
	if segment == "" {
		return
	}
	s.mu.Lock()
	if s.state.IncomingMessage == nil {
		s.mu.Unlock()
		return
	}
	s.state.IncomingMessage.Text += segment
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)

	telemetry.SegmentReceived()
}

// HandleSource appends a reference link to the buffered message. No-op
// when no message is buffered.
func (s *Store) HandleSource(source model.AnswerSource) {
	s.mu.Lock()
	if s.state.IncomingMessage == nil {
		s.mu.Unlock()
		return
	}
	s.state.IncomingMessage.Sources = append(s.state.IncomingMessage.Sources, source)
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)

	telemetry.SourceReceived()
}

// HandleMessageEnd commits the buffered message: generation is marked
// finished, the message joins the thread's history, and the buffer is
// cleared. When the chat view is not shown the owning thread's unread
// counter is incremented. The generating flag is always cleared, so a
// search stream's end is handled by the same event.
func (s *Store) HandleMessageEnd() {
	s.mu.Lock()
	committed := s.state.IncomingMessage
	if committed != nil {
		committed.IsGenerationFinished = true
		s.state.CurrentThreadMessages = append(s.state.CurrentThreadMessages, *committed)
		if s.state.View != model.ViewChat {
			incrementUnread(&s.state, committed.ThreadID)
		}
		s.state.IncomingMessage = nil
	}
	s.state.IsGenerating = false
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)

	if committed != nil {
		telemetry.MessageCommitted()
		s.log.Info().Int64("thread_id", committed.ThreadID).Int64("message_id", committed.ID).Msg("assistant message committed")
	}
}

// HandleReconnect refetches the current thread's history after the
// transport re-established a dropped connection. The transport owns the
// reconnection itself; this is only the state recovery. A message left
// half-buffered by the dropped stream is discarded here, the refetched
// history is authoritative and the buffer must be free before the next
// stream starts.
func (s *Store) HandleReconnect(ctx context.Context) {
	s.mu.Lock()
	dropped := s.state.IncomingMessage
	s.state.IncomingMessage = nil
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	if dropped != nil {
		s.publish(snap, subs)
		s.log.Warn().Int64("message_id", dropped.ID).Msg("discarded partially streamed message after reconnect")
	}

	if err := s.FetchMessagesForCurrentThread(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to refetch messages after reconnect")
	}
}

// HandleSearchSegment appends a streamed segment to the search answer.
func (s *Store) HandleSearchSegment(segment string) {
	if segment == "" {
		return
	}
	s.update(func(st *State) {
		st.SearchAnswer += segment
	})
}

// HandleSearchResult appends a streamed search result.
func (s *Store) HandleSearchResult(result model.AnswerSource) {
	s.update(func(st *State) {
		st.SearchResults = append(st.SearchResults, result)
	})
}
