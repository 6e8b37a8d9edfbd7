// Package stubserver is a minimal in-process assistant service speaking
// the same HTTP/SSE protocol as the production backend. It exists for
// local development and for exercising the SSE transport client in
// tests; answers are canned and streamed segment by segment.
package stubserver

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/transport"
)

// Options tune the stub's canned behavior.
type Options struct {
	// SegmentDelay is the pause before and between streamed events.
	SegmentDelay time.Duration
	// Answer is the canned assistant answer, streamed in segments.
	Answer string
	// Sources are attached to every streamed answer.
	Sources []model.AnswerSource
	// Questions seed the discover endpoint.
	Questions []model.DiscoverQuestion
}

func (o Options) withDefaults() Options {
	if o.SegmentDelay <= 0 {
		o.SegmentDelay = 25 * time.Millisecond
	}
	if o.Answer == "" {
		o.Answer = "Choosing a broker depends on your trading style, fees and the regulation you need. Compare spreads and platform features before committing."
	}
	if o.Sources == nil {
		o.Sources = []model.AnswerSource{
			{URL: "https://example.com/broker-reviews", Title: "Broker reviews", Rank: 1},
		}
	}
	if o.Questions == nil {
		o.Questions = []model.DiscoverQuestion{
			{ID: 1, Text: "Which broker has the lowest fees?"},
			{ID: 2, Text: "Is my money safe with an offshore broker?"},
		}
	}
	return o
}

type threadState struct {
	thread   model.Thread
	messages []model.ChatMessage
}

// Server holds the stub's in-memory state.
type Server struct {
	opts Options
	log  *zerolog.Logger

	mu            sync.Mutex
	nextThreadID  int64
	nextMessageID int64
	threads       map[int64]*threadState
	order         []int64 // most-recent-first
	questions     []model.DiscoverQuestion
}

func New(logger *zerolog.Logger, opts Options) *Server {
	opts = opts.withDefaults()
	compLog := logger.With().Str("component", "StubServer").Logger()
	return &Server{
		opts:          opts,
		log:           &compLog,
		nextThreadID:  1,
		nextMessageID: 1,
		threads:       make(map[int64]*threadState),
		questions:     append([]model.DiscoverQuestion(nil), opts.Questions...),
	}
}

// Router builds the stub's chi router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/queries", s.handleQuery)
		r.Post("/search", s.handleSearch)
		r.Get("/threads", s.handleGetThreads)
		r.Get("/threads/{threadID}/messages", s.handleGetThreadMessages)
		r.Post("/threads/{threadID}/follow-up", s.handleFollowUp)
		r.Post("/messages/{messageID}/feedback", s.handleFeedback)
		r.Get("/questions", s.handleGetQuestions)
		r.Post("/questions/{questionID}/click", s.handleQuestionClick)
	})

	return r
}

type submitRequest struct {
	Query     string `json:"query" validate:"required,min=1"`
	ThreadID  *int64 `json:"thread_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	var ts *threadState
	if req.ThreadID != nil {
		ts = s.threads[*req.ThreadID]
	}
	if ts == nil {
		id := s.nextThreadID
		s.nextThreadID++
		ts = &threadState{thread: model.Thread{ID: id, Title: req.Query}}
		s.threads[id] = ts
		s.order = append([]int64{id}, s.order...)
	}
	userMsgID := s.nextMessageID
	s.nextMessageID++
	ts.messages = append(ts.messages, model.ChatMessage{
		ID:       userMsgID,
		ThreadID: ts.thread.ID,
		Author:   model.AuthorUser,
		Text:     req.Query,
	})
	assistantMsgID := s.nextMessageID
	s.nextMessageID++
	threadID := ts.thread.ID
	s.mu.Unlock()

	setStreamHeaders(w)
	if err := writeStreamEvent(w, map[string]any{
		"type": "accepted", "thread_id": threadID, "message_id": userMsgID,
	}); err != nil {
		return
	}

	s.streamAnswer(w, r, threadID, assistantMsgID)
}

// streamAnswer plays the canned answer as start/segment/source/end events.
func (s *Server) streamAnswer(w http.ResponseWriter, r *http.Request, threadID, messageID int64) {
	pause := func() bool {
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(s.opts.SegmentDelay):
			return true
		}
	}

	if !pause() {
		return
	}
	if err := writeStreamEvent(w, map[string]any{"type": "start", "message_id": messageID}); err != nil {
		return
	}

	for _, segment := range segments(s.opts.Answer, 4) {
		if !pause() {
			return
		}
		if err := writeStreamEvent(w, map[string]any{"type": "segment", "content": segment}); err != nil {
			return
		}
	}
	for _, src := range s.opts.Sources {
		if err := writeStreamEvent(w, map[string]any{"type": "source", "source": src}); err != nil {
			return
		}
	}
	if err := writeStreamEvent(w, map[string]any{"type": "end"}); err != nil {
		return
	}

	s.mu.Lock()
	if ts := s.threads[threadID]; ts != nil {
		ts.messages = append(ts.messages, model.ChatMessage{
			ID:                   messageID,
			ThreadID:             threadID,
			Author:               model.AuthorAssistant,
			Text:                 s.opts.Answer,
			Sources:              append([]model.AnswerSource(nil), s.opts.Sources...),
			IsGenerationFinished: true,
		})
	}
	s.mu.Unlock()
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	setStreamHeaders(w)
	if err := writeStreamEvent(w, map[string]any{"type": "accepted"}); err != nil {
		return
	}

	for _, segment := range segments(s.opts.Answer, 4) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.opts.SegmentDelay):
		}
		if err := writeStreamEvent(w, map[string]any{"type": "segment", "content": segment}); err != nil {
			return
		}
	}
	for _, src := range s.opts.Sources {
		if err := writeStreamEvent(w, map[string]any{"type": "result", "source": src}); err != nil {
			return
		}
	}
	_ = writeStreamEvent(w, map[string]any{"type": "end"})
}

func (s *Server) handleGetThreads(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snap := transport.ThreadsSnapshot{Threads: []model.Thread{}, LatestThreadMessages: []model.ChatMessage{}}
	for _, id := range s.order {
		snap.Threads = append(snap.Threads, s.threads[id].thread)
	}
	if len(s.order) > 0 {
		snap.LatestThreadMessages = append(snap.LatestThreadMessages, s.threads[s.order[0]].messages...)
	}
	s.mu.Unlock()

	respondWithJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetThreadMessages(w http.ResponseWriter, r *http.Request) {
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	s.mu.Lock()
	ts := s.threads[threadID]
	var msgs []model.ChatMessage
	if ts != nil {
		msgs = append(msgs, ts.messages...)
	}
	s.mu.Unlock()

	if ts == nil {
		respondWithError(w, http.StatusNotFound, "thread not found")
		return
	}
	respondWithJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	threadID, err := strconv.ParseInt(chi.URLParam(r, "threadID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	var req struct {
		ResponseCodes []int `json:"response_codes" validate:"required,min=1"`
	}
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	ts := s.threads[threadID]
	if ts != nil {
		rating := req.ResponseCodes[0]
		ts.thread.Rating = &rating
	}
	s.mu.Unlock()

	if ts == nil {
		respondWithError(w, http.StatusNotFound, "thread not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	var req struct {
		Rating bool `json:"rating"`
	}
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	found := false
	for _, ts := range s.threads {
		for i := range ts.messages {
			if ts.messages[i].ID == messageID {
				rating := req.Rating
				ts.messages[i].Rating = &rating
				found = true
			}
		}
	}
	s.mu.Unlock()

	if !found {
		respondWithError(w, http.StatusNotFound, "message not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetQuestions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	questions := append([]model.DiscoverQuestion(nil), s.questions...)
	s.mu.Unlock()
	respondWithJSON(w, http.StatusOK, questions)
}

func (s *Server) handleQuestionClick(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	s.mu.Lock()
	found := false
	for i := range s.questions {
		if s.questions[i].ID == questionID {
			s.questions[i].ClickCount++
			found = true
		}
	}
	s.mu.Unlock()

	if !found {
		respondWithError(w, http.StatusNotFound, "question not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// segments splits text into n roughly equal chunks, preserving order.
func segments(text string, n int) []string {
	runes := []rune(text)
	if n <= 1 || len(runes) <= n {
		return []string{text}
	}
	size := (len(runes) + n - 1) / n
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeStreamEvent(w http.ResponseWriter, data any) error {
	raw, err := jsonMarshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
		// A write failure is a strong indicator of a closed connection.
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
