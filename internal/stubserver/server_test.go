package stubserver_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bc-assistant/core/internal/stubserver"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	return stubserver.New(&logger, stubserver.Options{
		SegmentDelay: time.Millisecond,
		Answer:       "stub answer",
	}).Router()
}

func TestStubServer_Healthz(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStubServer_Query(t *testing.T) {
	t.Run("Success - streams accepted through end", func(t *testing.T) {
		router := setupRouter(t)

		body := strings.NewReader(`{"query": "hello", "session_id": "s1"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		var types []string
		scanner := bufio.NewScanner(rec.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var ev struct {
				Type string `json:"type"`
			}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &ev))
			types = append(types, ev.Type)
		}

		require.GreaterOrEqual(t, len(types), 4)
		assert.Equal(t, "accepted", types[0])
		assert.Equal(t, "start", types[1])
		assert.Equal(t, "end", types[len(types)-1])
	})

	t.Run("Failure - empty query is rejected", func(t *testing.T) {
		router := setupRouter(t)

		body := strings.NewReader(`{"query": "", "session_id": "s1"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Query")
	})

	t.Run("Failure - malformed body", func(t *testing.T) {
		router := setupRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStubServer_UnknownResources(t *testing.T) {
	router := setupRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"thread messages", http.MethodGet, "/api/v1/threads/42/messages", ""},
		{"follow-up", http.MethodPost, "/api/v1/threads/42/follow-up", `{"response_codes": [1]}`},
		{"feedback", http.MethodPost, "/api/v1/messages/42/feedback", `{"rating": true}`},
		{"question click", http.MethodPost, "/api/v1/questions/42/click", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.body != "" {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			} else {
				req = httptest.NewRequest(tc.method, tc.path, nil)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}
