package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"bc-assistant/core/internal/apperrors"
	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/storage"
	"bc-assistant/core/internal/telemetry"
	"bc-assistant/core/internal/transport"
)

// feedbackPromptText is the body of the locally synthesized feedback
// request injected after a period of user inactivity.
const feedbackPromptText = "Was this answer helpful? Let us know how we did."

// maxThreadTitleLen bounds titles derived from the first query of a thread.
const maxThreadTitleLen = 50

// State is an immutable snapshot of the assistant session. Observers
// receive a fresh copy after every mutation; mutating a snapshot has no
// effect on the store.
type State struct {
	View             model.View
	ConnectionStatus model.ConnectionStatus

	Threads               []model.Thread
	ActiveThreadID        *int64
	CurrentThreadID       *int64
	CurrentThreadMessages []model.ChatMessage

	// IncomingMessage is the single in-flight assistant message being
	// assembled from streamed segments. It joins CurrentThreadMessages
	// only when generation ends.
	IncomingMessage *model.ChatMessage

	IsGenerating bool

	SearchAnswer  string
	SearchResults []model.AnswerSource

	DiscoverQuestions []model.DiscoverQuestion
}

// Thread looks up a thread by id in the snapshot.
func (s State) Thread(id int64) (model.Thread, bool) {
	for _, t := range s.Threads {
		if t.ID == id {
			return t, true
		}
	}
	return model.Thread{}, false
}

// HasFeedbackPrompt reports whether the current message list already
// contains a system feedback prompt for the given thread.
func (s State) HasFeedbackPrompt(threadID int64) bool {
	for _, m := range s.CurrentThreadMessages {
		if m.IsFeedbackPrompt() && m.ThreadID == threadID {
			return true
		}
	}
	return false
}

func (s State) clone() State {
	out := s
	out.Threads = append([]model.Thread(nil), s.Threads...)
	out.CurrentThreadMessages = append([]model.ChatMessage(nil), s.CurrentThreadMessages...)
	for i := range out.CurrentThreadMessages {
		out.CurrentThreadMessages[i].Sources = append([]model.AnswerSource(nil), out.CurrentThreadMessages[i].Sources...)
	}
	out.SearchResults = append([]model.AnswerSource(nil), s.SearchResults...)
	out.DiscoverQuestions = append([]model.DiscoverQuestion(nil), s.DiscoverQuestions...)
	out.ActiveThreadID = cloneID(s.ActiveThreadID)
	out.CurrentThreadID = cloneID(s.CurrentThreadID)
	if s.IncomingMessage != nil {
		msg := *s.IncomingMessage
		msg.Sources = append([]model.AnswerSource(nil), s.IncomingMessage.Sources...)
		out.IncomingMessage = &msg
	}
	return out
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// SubmitStatus is the typed outcome of a query submission, so callers
// and tests can assert on the skip reason instead of only on the absence
// of side effects.
type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota
	SubmitSkippedAlreadyGenerating
	SubmitSkippedEmptyQuery
	SubmitSkippedDisconnected
)

func (s SubmitStatus) String() string {
	switch s {
	case SubmitAccepted:
		return "accepted"
	case SubmitSkippedAlreadyGenerating:
		return "skipped_already_generating"
	case SubmitSkippedEmptyQuery:
		return "skipped_empty_query"
	case SubmitSkippedDisconnected:
		return "skipped_disconnected"
	}
	return "unknown"
}

// Store is the single source of truth for the assistant session: which
// view is shown, which thread is active, the streamed message buffer and
// the transport connection status. All mutation goes through its
// methods; consumers observe it via Subscribe.
type Store struct {
	transport transport.Transport
	snapshots storage.SnapshotStore
	log       *zerolog.Logger

	mu    sync.Mutex
	state State

	// nextSystemMsgID issues ids for locally synthesized system messages.
	// They decrement from -1 so they can never collide with server ids.
	nextSystemMsgID int64

	nextSubID int
	subs      map[int]func(State)
}

// NewStore builds a session store around the given transport and local
// snapshot storage. The caller is expected to register the store as the
// transport's callback surface via transport.Initialize.
func NewStore(t transport.Transport, snapshots storage.SnapshotStore, logger *zerolog.Logger) *Store {
	compLog := logger.With().Str("component", "SessionStore").Logger()
	return &Store{
		transport: t,
		snapshots: snapshots,
		log:       &compLog,
		state: State{
			View:             model.ViewClosed,
			ConnectionStatus: model.ConnectionNotAttempted,
		},
		nextSystemMsgID: -1,
		subs:            make(map[int]func(State)),
	}
}

// Subscribe registers an observer called with a state snapshot after
// every mutation. The returned function removes the observer.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// snapshotLocked must be called with s.mu held. It captures the snapshot
// and subscriber list so publication can happen outside the lock.
func (s *Store) snapshotLocked() (State, []func(State)) {
	snap := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return snap, subs
}

func (s *Store) publish(snap State, subs []func(State)) {
	for _, fn := range subs {
		fn(snap)
	}
}

// update applies a mutation and notifies observers.
func (s *Store) update(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)
}

// SetView sets the current view. Transitions from a closed-class view to
// an open-class view emit a modal-opened telemetry event. Any view value
// is accepted; there is no transition guard.
func (s *Store) SetView(view model.View) {
	s.mu.Lock()
	prev := s.state.View
	s.state.View = view
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)

	if !prev.IsOpen() && view.IsOpen() {
		telemetry.ModalOpened()
		s.log.Debug().Str("from", string(prev)).Str("to", string(view)).Msg("assistant modal opened")
	}
}

// SetCurrentThread sets which thread is displayed. The id is not
// validated against the thread list; nil unsets the current thread.
func (s *Store) SetCurrentThread(id *int64) {
	s.update(func(st *State) {
		st.CurrentThreadID = cloneID(id)
	})
}

// ClearCurrentThread unsets the current thread and clears the displayed
// message list. Used when entering the discover view or a fresh chat.
func (s *Store) ClearCurrentThread() {
	s.update(func(st *State) {
		st.CurrentThreadID = nil
		st.CurrentThreadMessages = nil
	})
}

// beginGeneration checks the submission preconditions and, when they all
// hold, sets the generating flag inside the same critical section. This
// closes the window in which two near-simultaneous submissions could
// both pass the precondition check.
func (s *Store) beginGeneration(text string) SubmitStatus {
	s.mu.Lock()
	var status SubmitStatus
	switch {
	case s.state.IsGenerating:
		status = SubmitSkippedAlreadyGenerating
	case text == "":
		status = SubmitSkippedEmptyQuery
	case s.state.ConnectionStatus != model.ConnectionConnected:
		status = SubmitSkippedDisconnected
	default:
		status = SubmitAccepted
		s.state.IsGenerating = true
	}
	if status != SubmitAccepted {
		s.mu.Unlock()
		return status
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)
	return SubmitAccepted
}

// SubmitQuery submits a user query to the transport. Precondition
// failures (already generating, empty text, transport not connected) are
// soft no-ops reported through the returned status. On the first query
// of a session a new thread is created, made active and current, and the
// view transitions to chat. Transport errors reset the generating flag,
// because no generation-end event will arrive for a failed submission,
// and are returned to the caller for UI-level display.
func (s *Store) SubmitQuery(ctx context.Context, text string) (SubmitStatus, error) {
	if status := s.beginGeneration(text); status != SubmitAccepted {
		telemetry.QuerySubmitted(status.String())
		s.log.Debug().Str("status", status.String()).Msg("query submission skipped")
		return status, nil
	}

	s.mu.Lock()
	threadID := cloneID(s.state.CurrentThreadID)
	s.mu.Unlock()

	res, err := s.transport.SubmitQuery(ctx, text, threadID)
	if err != nil {
		s.update(func(st *State) {
			st.IsGenerating = false
		})
		telemetry.QuerySubmitted("transport_error")
		return SubmitAccepted, fmt.Errorf("submit query: %w", err)
	}

	s.update(func(st *State) {
		if st.CurrentThreadID == nil {
			thread := model.Thread{ID: res.ThreadID, Title: truncate(text, maxThreadTitleLen)}
			st.Threads = append([]model.Thread{thread}, st.Threads...)
			id := res.ThreadID
			st.CurrentThreadID = &id
			st.ActiveThreadID = cloneID(&id)
			st.View = model.ViewChat
		}
		st.CurrentThreadMessages = append(st.CurrentThreadMessages, model.ChatMessage{
			ID:       res.MessageID,
			ThreadID: res.ThreadID,
			Author:   model.AuthorUser,
			Text:     text,
		})
	})

	// Snapshot the query for the minimized summary view. The guarded
	// store degrades to a no-op when storage is unavailable or consent
	// is withheld.
	if err := s.snapshots.SaveLastQuery(ctx, text); err != nil {
		s.log.Warn().Err(err).Msg("failed to snapshot last query")
	}

	telemetry.QuerySubmitted(SubmitAccepted.String())
	s.log.Info().Int64("thread_id", res.ThreadID).Int64("message_id", res.MessageID).Msg("query submitted")
	return SubmitAccepted, nil
}

// SubmitSearchQuery submits a search query. It shares SubmitQuery's
// precondition gating but targets the search sub-feature: the previous
// search answer and results are reset and repopulated through the search
// stream callbacks. No thread is created.
func (s *Store) SubmitSearchQuery(ctx context.Context, text string) (SubmitStatus, error) {
	if status := s.beginGeneration(text); status != SubmitAccepted {
		telemetry.SearchQuerySubmitted(status.String())
		s.log.Debug().Str("status", status.String()).Msg("search submission skipped")
		return status, nil
	}

	s.update(func(st *State) {
		st.SearchAnswer = ""
		st.SearchResults = nil
	})

	if err := s.transport.SubmitSearchQuery(ctx, text); err != nil {
		s.update(func(st *State) {
			st.IsGenerating = false
		})
		telemetry.SearchQuerySubmitted("transport_error")
		return SubmitAccepted, fmt.Errorf("submit search query: %w", err)
	}

	telemetry.SearchQuerySubmitted(SubmitAccepted.String())
	return SubmitAccepted, nil
}

// FetchThreads replaces the thread list and the current message list
// with the server's snapshot. The first (most recent) thread becomes
// both active and current.
func (s *Store) FetchThreads(ctx context.Context) error {
	snap, err := s.transport.GetThreads(ctx)
	if err != nil {
		return fmt.Errorf("fetch threads: %w", err)
	}

	s.update(func(st *State) {
		st.Threads = snap.Threads
		st.CurrentThreadMessages = snap.LatestThreadMessages
		if len(snap.Threads) > 0 {
			id := snap.Threads[0].ID
			st.CurrentThreadID = &id
			st.ActiveThreadID = cloneID(&id)
		} else {
			st.CurrentThreadID = nil
			st.ActiveThreadID = nil
		}
	})
	return nil
}

// FetchMessagesForThread replaces the current message list with the
// server-fetched history for a thread, preserving any locally generated
// feedback prompt that has not been rated yet. The fetched history never
// contains system messages, so dropping them here would lose an
// unacknowledged prompt on every refetch.
func (s *Store) FetchMessagesForThread(ctx context.Context, threadID int64) error {
	msgs, err := s.transport.GetThreadMessages(ctx, threadID)
	if err != nil {
		return fmt.Errorf("fetch messages for thread %d: %w", threadID, err)
	}

	s.update(func(st *State) {
		var preserved []model.ChatMessage
		for _, m := range st.CurrentThreadMessages {
			if m.IsFeedbackPrompt() && m.ThreadID == threadID && !threadRated(st, threadID) {
				preserved = append(preserved, m)
			}
		}
		st.CurrentThreadMessages = append(msgs, preserved...)
	})
	return nil
}

// FetchMessagesForCurrentThread refetches the current thread's history.
// No-op when no thread is current.
func (s *Store) FetchMessagesForCurrentThread(ctx context.Context) error {
	s.mu.Lock()
	threadID := cloneID(s.state.CurrentThreadID)
	s.mu.Unlock()
	if threadID == nil {
		return nil
	}
	return s.FetchMessagesForThread(ctx, *threadID)
}

// GiveMessageFeedback records a thumbs up/down on an assistant message
// and updates the local copy in place.
func (s *Store) GiveMessageFeedback(ctx context.Context, messageID int64, rating bool) error {
	if err := s.transport.GiveFeedback(ctx, messageID, rating); err != nil {
		return fmt.Errorf("give message feedback: %w", err)
	}

	s.update(func(st *State) {
		for i := range st.CurrentThreadMessages {
			if st.CurrentThreadMessages[i].ID == messageID {
				r := rating
				st.CurrentThreadMessages[i].Rating = &r
			}
		}
	})
	return nil
}

// AnswerFeedbackPrompt submits the user's response to an injected
// feedback prompt. On success the first response code is recorded as the
// thread's rating, which permanently disqualifies the thread from
// further prompting.
func (s *Store) AnswerFeedbackPrompt(ctx context.Context, threadID int64, responseCodes []int) error {
	s.mu.Lock()
	_, known := s.state.Thread(threadID)
	s.mu.Unlock()
	if !known {
		return fmt.Errorf("answer feedback prompt: %w", apperrors.ErrThreadNotFound)
	}

	if err := s.transport.GiveFollowUpAnswerOnThread(ctx, threadID, responseCodes); err != nil {
		return fmt.Errorf("answer feedback prompt: %w", err)
	}

	s.update(func(st *State) {
		if len(responseCodes) == 0 {
			return
		}
		for i := range st.Threads {
			if st.Threads[i].ID == threadID {
				score := responseCodes[0]
				st.Threads[i].Rating = &score
			}
		}
	})
	return nil
}

// AppendFeedbackPrompt injects a system feedback request into a thread.
// It is idempotent per thread: nothing is appended while the thread is
// already rated or an unanswered prompt exists. Returns whether a prompt
// was appended.
func (s *Store) AppendFeedbackPrompt(threadID int64) bool {
	s.mu.Lock()
	if threadRated(&s.state, threadID) || s.state.HasFeedbackPrompt(threadID) {
		s.mu.Unlock()
		return false
	}

	id := s.nextSystemMsgID
	s.nextSystemMsgID--
	s.state.CurrentThreadMessages = append(s.state.CurrentThreadMessages, model.ChatMessage{
		ID:         id,
		ThreadID:   threadID,
		Author:     model.AuthorSystem,
		Text:       feedbackPromptText,
		SystemType: model.SystemMessageFeedback,
	})
	if s.state.View != model.ViewChat {
		incrementUnread(&s.state, threadID)
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap, subs)

	telemetry.FeedbackPrompted()
	s.log.Info().Int64("thread_id", threadID).Int64("message_id", id).Msg("feedback prompt injected")
	return true
}

// FetchQuestions loads the discover view's suggested questions.
func (s *Store) FetchQuestions(ctx context.Context) error {
	questions, err := s.transport.GetQuestions(ctx)
	if err != nil {
		return fmt.Errorf("fetch questions: %w", err)
	}
	s.update(func(st *State) {
		st.DiscoverQuestions = questions
	})
	return nil
}

// IncrementQuestionClick records a click on a discover question.
func (s *Store) IncrementQuestionClick(ctx context.Context, questionID int64) error {
	if err := s.transport.IncrementQuestionClick(ctx, questionID); err != nil {
		return fmt.Errorf("increment question click: %w", err)
	}
	s.update(func(st *State) {
		for i := range st.DiscoverQuestions {
			if st.DiscoverQuestions[i].ID == questionID {
				st.DiscoverQuestions[i].ClickCount++
			}
		}
	})
	return nil
}

// LastQuery reads the persisted most-recent query text for the minimized
// summary view. Returns "" when storage is unavailable or empty.
func (s *Store) LastQuery(ctx context.Context) string {
	text, _ := s.snapshots.LastQuery(ctx)
	return text
}

// threadRated reports whether the thread carries a numeric rating.
// Unknown threads count as unrated.
func threadRated(st *State, threadID int64) bool {
	for _, t := range st.Threads {
		if t.ID == threadID {
			return t.Rating != nil
		}
	}
	return false
}

func incrementUnread(st *State, threadID int64) {
	for i := range st.Threads {
		if st.Threads[i].ID == threadID {
			st.Threads[i].NrOfUnreadMessages++
		}
	}
}

// truncate shortens a string to a specified number of runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
