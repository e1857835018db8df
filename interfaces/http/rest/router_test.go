package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ideaflow/application/commands"
	"ideaflow/application/commands/bus"
	"ideaflow/application/queries"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/application/services"
	"ideaflow/domain/config"
	"ideaflow/domain/core/validators"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/infrastructure/messaging/stream"
	"ideaflow/infrastructure/persistence/memory"
	"ideaflow/interfaces/http/rest/handlers"
	"ideaflow/pkg/observability"
	"ideaflow/pkg/ratelimit"
	"ideaflow/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	handler http.Handler
	manager *services.SessionManager
	hub     *stream.Hub
}

func newAPI(t *testing.T, opts RouterOptions) *apiFixture {
	t.Helper()
	cfg := config.DefaultDomainConfig()
	cfg.LatenessWindow = 0
	clock := utils.NewFakeClock(t0)
	store := memory.NewStore(nil, clock, nil)
	manager := services.NewSessionManager(store, services.NewPipeline(config.NewHolder(cfg), nil, nil, clock, nil, nil), nil, nil, nil, nil)

	commandBus := bus.NewCommandBus(bus.TimeoutMiddleware(time.Second))
	require.NoError(t, commands.NewSessionHandlers(manager, validators.NewMessageValidator(cfg.MaxContentLength, cfg.MaxParticipants), nil).Register(commandBus))
	queryBus := querybus.NewQueryBus(nil)
	require.NoError(t, queries.NewSessionQueries(manager, store).Register(queryBus))

	f := &apiFixture{manager: manager}
	if opts.Hub == nil {
		f.hub = stream.NewHub(nil)
		opts.Hub = f.hub
	}
	f.handler = NewRouter(commandBus, queryBus, opts, nil).Setup()
	return f
}

func (f *apiFixture) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))
	if f.hub != nil {
		f.hub.Close()
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Pagination struct {
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"pagination"`
	} `json:"meta"`
	Error struct {
		Code        string `json:"code"`
		Recoverable bool   `json:"recoverable"`
	} `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (f *apiFixture) createSession(t *testing.T) string {
	t.Helper()
	status, env := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"title":        "Billing",
		"participants": []string{"al", "bo", "cy"},
	})
	require.Equal(t, http.StatusCreated, status)
	var created commands.SessionCreated
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created.SessionID
}

func (f *apiFixture) ingest(t *testing.T, sid, author, content string, offset time.Duration) (int, envelope) {
	return f.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/messages", map[string]interface{}{
		"message_id": uuid.NewString(),
		"author":     author,
		"content":    content,
		"timestamp":  t0.Add(offset),
	})
}

func TestRouter_SessionFlow(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newAPI(t, RouterOptions{})
	defer f.close(t)

	sid := f.createSession(t)

	lines := []struct{ author, text string }{
		{"al", "Morning everyone"},
		{"bo", "Hi all, coffee first"},
		{"cy", "I propose we migrate the billing jobs to the queue because cron keeps failing"},
	}
	var ideaID string
	for i, l := range lines {
		status, env := f.ingest(t, sid, l.author, l.text, time.Duration(i)*time.Minute)
		require.Equal(t, http.StatusAccepted, status)
		var receipt services.IngestReceipt
		require.NoError(t, json.Unmarshal(env.Data, &receipt))
		for _, o := range receipt.Processed {
			if o.IdeaID != "" {
				ideaID = string(o.IdeaID)
			}
		}
	}
	require.NotEmpty(t, ideaID)

	status, env := f.do(t, http.MethodGet, "/api/v1/sessions/"+sid+"/messages?page_size=2&order=desc", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, env.Meta.Pagination.Total)
	assert.True(t, env.Meta.Pagination.HasNext)

	status, env = f.do(t, http.MethodGet, "/api/v1/sessions/"+sid+"/ideas", nil)
	require.Equal(t, http.StatusOK, status)
	var ideas []queries.IdeaSummary
	require.NoError(t, json.Unmarshal(env.Data, &ideas))
	require.Len(t, ideas, 1)
	assert.Equal(t, valueobjects.IdeaID(ideaID), ideas[0].ID)

	status, _ = f.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/ideas/"+ideaID+"/engagement", map[string]string{
		"participant": "al",
		"kind":        "support",
	})
	assert.Equal(t, http.StatusOK, status)

	for _, path := range []string{"", "/clusters", "/strengths", "/consensus", "/plan", "/events?limit=5"} {
		status, env = f.do(t, http.MethodGet, "/api/v1/sessions/"+sid+path, nil)
		assert.Equal(t, http.StatusOK, status, path)
		assert.True(t, env.Success, path)
	}

	status, _ = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sid+"?reason=done", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, env = f.ingest(t, sid, "al", "one more thing", 10*time.Minute)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SESSION_CLOSED", env.Error.Code)
}

func TestRouter_Errors(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newAPI(t, RouterOptions{})
	defer f.close(t)
	sid := f.createSession(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/api/v1/sessions/" + uuid.NewString(), nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed session id", http.MethodGet, "/api/v1/sessions/nope/consensus", nil, http.StatusBadRequest, "VALIDATION"},
		{"unknown body field", http.MethodPost, "/api/v1/sessions/" + sid + "/messages", map[string]string{"bogus": "x"}, http.StatusBadRequest, "INVALID_BODY"},
		{"empty content", http.MethodPost, "/api/v1/sessions/" + sid + "/messages", map[string]string{"message_id": "m1", "author": "al", "content": "   "}, http.StatusBadRequest, "EMPTY_CONTENT"},
		{"bad event limit", http.MethodGet, "/api/v1/sessions/" + sid + "/events?limit=x", nil, http.StatusBadRequest, "VALIDATION"},
		{"unknown engagement kind", http.MethodPost, "/api/v1/sessions/" + sid + "/ideas/i1/engagement", map[string]string{"kind": "wave", "participant": "al"}, http.StatusBadRequest, "VALIDATION"},
		{"unknown route", http.MethodGet, "/api/v1/nowhere", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestRouter_IngestRateLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newAPI(t, RouterOptions{IngestLimiter: ratelimit.NewSlidingWindowLimiter(2, time.Minute)})
	defer f.close(t)
	sid := f.createSession(t)

	for i := 0; i < 2; i++ {
		status, _ := f.ingest(t, sid, "al", "message", time.Duration(i)*time.Second)
		require.Equal(t, http.StatusAccepted, status)
	}
	status, env := f.ingest(t, sid, "al", "message", 3*time.Second)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	status, _ = f.do(t, http.MethodGet, "/api/v1/sessions/"+sid, nil)
	assert.Equal(t, http.StatusOK, status, "reads are not limited")
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)
	collector := observability.NewCollector("ideaflow_test")
	f := newAPI(t, RouterOptions{
		Collector: collector,
		Checks: map[string]handlers.Check{
			"store": func(context.Context) error { return errors.New("disk full") },
		},
	})
	defer f.close(t)

	status, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	status, env := f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(env.Data), "disk full")

	f.createSession(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ideaflow_test_http_requests_total")
	assert.Contains(t, body, `status="201"`)
	assert.NotContains(t, body, "unmatched")
}

func TestRouter_Stream(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newAPI(t, RouterOptions{})
	defer f.close(t)
	sid := f.createSession(t)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+uuid.NewString()+"/stream", nil)
	require.Error(t, err, "unknown sessions are rejected before upgrade")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+sid+"/stream", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	id, err := valueobjects.NewSessionIDFromString(sid)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.hub.ConnectionCount(id) == 1 }, time.Second, 10*time.Millisecond)
}
