// Package sse implements the transport port against the assistant HTTP
// API. Answers stream back as server-sent events which are dispatched,
// in delivery order, to the session callbacks.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bc-assistant/core/internal/model"
	"bc-assistant/core/internal/transport"
)

// streamEvent is a single SSE payload on a query or search stream.
type streamEvent struct {
	Type      string              `json:"type"`
	ThreadID  int64               `json:"thread_id,omitempty"`
	MessageID int64               `json:"message_id,omitempty"`
	Content   string              `json:"content,omitempty"`
	Source    *model.AnswerSource `json:"source,omitempty"`
	Error     string              `json:"error,omitempty"`
}

const (
	eventAccepted = "accepted"
	eventStart    = "start"
	eventSegment  = "segment"
	eventSource   = "source"
	eventResult   = "result"
	eventEnd      = "end"
	eventError    = "error"
)

// Client talks to the assistant service. REST calls use a bounded
// client; the streaming POSTs use an unbounded one, a stream stays open
// for the whole generation.
type Client struct {
	baseURL   string
	sessionID string
	rest      *http.Client
	stream    *http.Client
	cb        transport.Callbacks
	log       *zerolog.Logger
}

var _ transport.Transport = (*Client)(nil)

func NewClient(baseURL string, logger *zerolog.Logger) *Client {
	compLog := logger.With().Str("component", "SSETransport").Logger()
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: uuid.NewString(),
		rest:      &http.Client{Timeout: 30 * time.Second},
		stream:    &http.Client{},
		log:       &compLog,
	}
}

// Initialize registers the callback surface. Must be called once,
// before any other method.
func (c *Client) Initialize(cb transport.Callbacks) {
	c.cb = cb
	cb.SetConnectionStatus(model.ConnectionNotAttempted)
}

// Connect probes the service and reports the resulting connection
// status through the callbacks.
func (c *Client) Connect(ctx context.Context) error {
	c.cb.SetConnectionStatus(model.ConnectionConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.cb.SetConnectionStatus(model.ConnectionFailed)
		return fmt.Errorf("could not create health request: %w", err)
	}
	resp, err := c.rest.Do(req)
	if err != nil {
		c.cb.SetConnectionStatus(model.ConnectionFailed)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.cb.SetConnectionStatus(model.ConnectionFailed)
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	c.cb.SetConnectionStatus(model.ConnectionConnected)
	return nil
}

// Reconnect re-probes the service after a drop and, on success, lets the
// session recover its state.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.cb.HandleReconnect(ctx)
	return nil
}

type submitRequest struct {
	Query     string `json:"query"`
	ThreadID  *int64 `json:"thread_id,omitempty"`
	SessionID string `json:"session_id"`
}

// SubmitQuery posts the query and synchronously reads the acceptance
// event carrying the server-issued ids. The rest of the stream (start,
// segments, sources, end) is dispatched to the callbacks from a
// background goroutine, in delivery order.
func (c *Client) SubmitQuery(ctx context.Context, query string, threadID *int64) (transport.SubmitResult, error) {
	body, resp, err := c.openStream(ctx, "/api/v1/queries", submitRequest{
		Query:     query,
		ThreadID:  threadID,
		SessionID: c.sessionID,
	})
	if err != nil {
		return transport.SubmitResult{}, err
	}

	ack, err := readEvent(body)
	if err != nil || ack.Type != eventAccepted {
		resp.Body.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first event %q", ack.Type)
		}
		if ack.Error != "" {
			err = errors.New(ack.Error)
		}
		return transport.SubmitResult{}, fmt.Errorf("query not accepted: %w", err)
	}

	go c.dispatchAnswerStream(resp.Body, body)

	return transport.SubmitResult{ThreadID: ack.ThreadID, MessageID: ack.MessageID}, nil
}

// SubmitSearchQuery posts a search query; segments and results are
// dispatched to the search callbacks in the background.
func (c *Client) SubmitSearchQuery(ctx context.Context, query string) error {
	body, resp, err := c.openStream(ctx, "/api/v1/search", submitRequest{
		Query:     query,
		SessionID: c.sessionID,
	})
	if err != nil {
		return err
	}

	ack, err := readEvent(body)
	if err != nil || ack.Type != eventAccepted {
		resp.Body.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first event %q", ack.Type)
		}
		return fmt.Errorf("search not accepted: %w", err)
	}

	go c.dispatchSearchStream(resp.Body, body)
	return nil
}

func (c *Client) openStream(ctx context.Context, path string, payload any) (*bufio.Scanner, *http.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("could not marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, string(raw))
	}
	return bufio.NewScanner(resp.Body), resp, nil
}

// readEvent reads the next "data:" line from the stream.
func readEvent(scanner *bufio.Scanner) (streamEvent, error) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return streamEvent{}, fmt.Errorf("could not decode stream event: %w", err)
		}
		return ev, nil
	}
	if err := scanner.Err(); err != nil {
		return streamEvent{}, err
	}
	return streamEvent{}, io.EOF
}

func (c *Client) dispatchAnswerStream(body io.ReadCloser, scanner *bufio.Scanner) {
	defer body.Close()

	for {
		ev, err := readEvent(scanner)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// The stream dropped mid-generation. The session recovers
				// through the reconnect path; unblock submissions here.
				c.log.Warn().Err(err).Msg("answer stream dropped")
				c.cb.SetGenerating(false)
				c.cb.SetConnectionStatus(model.ConnectionDisconnected)
			}
			return
		}
		switch ev.Type {
		case eventStart:
			if err := c.cb.HandleMessageStart(ev.MessageID); err != nil {
				c.log.Error().Err(err).Int64("message_id", ev.MessageID).Msg("rejected message start")
				return
			}
		case eventSegment:
			c.cb.HandleSegment(ev.Content)
		case eventSource:
			if ev.Source != nil {
				c.cb.HandleSource(*ev.Source)
			}
		case eventEnd:
			c.cb.HandleMessageEnd()
			return
		case eventError:
			c.log.Error().Str("error", ev.Error).Msg("stream error event")
			c.cb.HandleMessageEnd()
			return
		default:
			c.log.Warn().Str("type", ev.Type).Msg("unknown stream event")
		}
	}
}

func (c *Client) dispatchSearchStream(body io.ReadCloser, scanner *bufio.Scanner) {
	defer body.Close()

	for {
		ev, err := readEvent(scanner)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn().Err(err).Msg("search stream dropped")
				c.cb.SetGenerating(false)
				c.cb.SetConnectionStatus(model.ConnectionDisconnected)
			}
			return
		}
		switch ev.Type {
		case eventSegment:
			c.cb.HandleSearchSegment(ev.Content)
		case eventResult:
			if ev.Source != nil {
				c.cb.HandleSearchResult(*ev.Source)
			}
		case eventEnd:
			c.cb.HandleMessageEnd()
			return
		default:
			c.log.Warn().Str("type", ev.Type).Msg("unknown search stream event")
		}
	}
}

// GetThreads fetches the thread list and the most recent thread's history.
func (c *Client) GetThreads(ctx context.Context) (transport.ThreadsSnapshot, error) {
	var snap transport.ThreadsSnapshot
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/threads", nil, &snap)
	return snap, err
}

// GetThreadMessages fetches a thread's message history.
func (c *Client) GetThreadMessages(ctx context.Context, threadID int64) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/threads/%d/messages", threadID), nil, &msgs)
	return msgs, err
}

// GiveFeedback records a thumbs up/down on a message.
func (c *Client) GiveFeedback(ctx context.Context, messageID int64, rating bool) error {
	payload := map[string]bool{"rating": rating}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/feedback", messageID), payload, nil)
}

// GiveFollowUpAnswerOnThread submits the response codes chosen on a
// feedback prompt.
func (c *Client) GiveFollowUpAnswerOnThread(ctx context.Context, threadID int64, responseCodes []int) error {
	payload := map[string][]int{"response_codes": responseCodes}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/follow-up", threadID), payload, nil)
}

// GetQuestions fetches the discover view's suggested questions.
func (c *Client) GetQuestions(ctx context.Context) ([]model.DiscoverQuestion, error) {
	var questions []model.DiscoverQuestion
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/questions", nil, &questions)
	return questions, err
}

// IncrementQuestionClick records a click on a discover question.
func (c *Client) IncrementQuestionClick(ctx context.Context, questionID int64) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/questions/%d/click", questionID), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("could not marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.rest.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}
