package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InsulaLabs/skiff/config"
	"github.com/InsulaLabs/skiff/models"
	"github.com/InsulaLabs/skiff/store"
)

/*
	The tests run the real handler stack over httptest, with a badger
	store in a temp directory. Each test builds its own service so
	config mutations (api keys, limits, capacity) stay isolated.
*/

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.GenerateConfig("")
	require.NoError(t, err)
	cfg.SkiffHome = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	snippets, err := store.New(store.Config{
		Logger:         logger,
		BadgerLogLevel: slog.LevelError,
		Directory:      filepath.Join(cfg.SkiffHome, config.SnippetsDirName),
		SnippetTTL:     cfg.Store.SnippetTTL,
	})
	require.NoError(t, err)

	svc, err := New(context.Background(), logger, cfg, snippets)
	require.NoError(t, err)

	svc.registerRoutes()
	server := httptest.NewServer(svc.mux)

	t.Cleanup(func() {
		server.Close()
		svc.parseCache.Stop()
		for _, limiters := range svc.rateLimiters {
			limiters.Stop()
		}
		require.NoError(t, snippets.Close())
	})

	return svc, server
}

func doRequest(t *testing.T, method, url, apiKey string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", apiKey)
	}

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp, data
}

func decodeInto(t *testing.T, data []byte, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, target))
}

func TestPing(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, body := doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/ping", "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.NotEmpty(t, rsp.Header.Get("X-Request-Id"))

	var ping models.PingResponse
	decodeInto(t, body, &ping)
	assert.Equal(t, "ok", ping.Status)
	assert.Equal(t, "skiff", ping.Service)
	assert.Equal(t, []string{"strict", "lazy", "lexical"}, ping.Strategies)

	rsp, _ = doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/ping", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rsp.StatusCode)
}

func TestParse(t *testing.T) {
	_, server := newTestService(t, nil)
	url := server.URL + "/skiff/api/v1/parse"

	rsp, body := doRequest(t, http.MethodPost, url, "", models.ParseRequest{Source: " ( +  1 (* 2 3) ) "})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var parsed models.ParseResponse
	decodeInto(t, body, &parsed)
	assert.Equal(t, "(+ 1 (* 2 3))", parsed.AST)
	assert.Equal(t, "arith", parsed.Kind)
}

func TestParseErrors(t *testing.T) {
	_, server := newTestService(t, nil)
	url := server.URL + "/skiff/api/v1/parse"

	cases := []struct {
		name       string
		payload    any
		wantStatus int
		wantType   string
	}{
		{"syntax error", models.ParseRequest{Source: "((("}, http.StatusUnprocessableEntity, models.ErrorTypeSyntax},
		{"empty source", models.ParseRequest{Source: ""}, http.StatusBadRequest, models.ErrorTypeBadRequest},
		{"oversized source", models.ParseRequest{Source: "(+ 1 " + strings.Repeat("1", 64*1024) + ")"}, http.StatusBadRequest, models.ErrorTypeBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rsp, body := doRequest(t, http.MethodPost, url, "", tc.payload)
			require.Equal(t, tc.wantStatus, rsp.StatusCode)

			var envelope models.ErrorResponse
			decodeInto(t, body, &envelope)
			assert.Equal(t, tc.wantType, envelope.ErrorType)
			assert.NotEmpty(t, envelope.Message)
		})
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, err := http.Post(server.URL+"/skiff/api/v1/parse", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer rsp.Body.Close()

	require.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	var envelope models.ErrorResponse
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&envelope))
	assert.Equal(t, models.ErrorTypeBadRequest, envelope.ErrorType)
	assert.Contains(t, envelope.Message, "invalid JSON payload")
}

func TestEvalStrategies(t *testing.T) {
	_, server := newTestService(t, nil)
	url := server.URL + "/skiff/api/v1/eval"

	// The lambda is built where y is 2 but called where y is 10, so
	// dynamic and lexical scope disagree about the answer.
	scoping := "(let ((y 10)) ((let ((y 2)) (lambda (x) (+ x y))) 5))"

	cases := []struct {
		strategy string
		want     string
	}{
		{"strict", "15"},
		{"lazy", "15"},
		{"lexical", "7"},
	}

	for _, tc := range cases {
		t.Run(tc.strategy, func(t *testing.T) {
			rsp, body := doRequest(t, http.MethodPost, url, "", models.EvalRequest{Source: scoping, Strategy: tc.strategy})
			require.Equal(t, http.StatusOK, rsp.StatusCode)

			var result models.EvalResponse
			decodeInto(t, body, &result)
			assert.Equal(t, tc.want, result.Value)
			assert.Equal(t, tc.strategy, result.Strategy)
		})
	}
}

func TestEvalLazySkipsUnusedArgument(t *testing.T) {
	_, server := newTestService(t, nil)
	url := server.URL + "/skiff/api/v1/eval"
	source := "((lambda (x) 42) oops)"

	rsp, body := doRequest(t, http.MethodPost, url, "", models.EvalRequest{Source: source, Strategy: "strict"})
	require.Equal(t, http.StatusUnprocessableEntity, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeUnbound, envelope.ErrorType)

	rsp, body = doRequest(t, http.MethodPost, url, "", models.EvalRequest{Source: source, Strategy: "lazy"})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var result models.EvalResponse
	decodeInto(t, body, &result)
	assert.Equal(t, "42", result.Value)
}

func TestEvalDefaultsToConfiguredStrategy(t *testing.T) {
	_, server := newTestService(t, func(cfg *config.Config) {
		cfg.DefaultStrategy = "lazy"
	})

	rsp, body := doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/eval", "", models.EvalRequest{Source: "(+ 1 2)"})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var result models.EvalResponse
	decodeInto(t, body, &result)
	assert.Equal(t, "3", result.Value)
	assert.Equal(t, "lazy", result.Strategy)
}

func TestEvalRejectsUnknownStrategy(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, body := doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/eval", "", models.EvalRequest{Source: "(+ 1 2)", Strategy: "eager"})
	require.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeBadRequest, envelope.ErrorType)
	assert.Contains(t, envelope.Message, "eager")
}

func TestEvalRuntimeErrorMapping(t *testing.T) {
	_, server := newTestService(t, nil)
	url := server.URL + "/skiff/api/v1/eval"

	cases := []struct {
		name     string
		source   string
		wantType string
	}{
		{"application of non-lambda", "(1 2)", models.ErrorTypeApplication},
		{"lambda in operand position", "(+ 1 (lambda (x) x))", models.ErrorTypeArithmetic},
		{"unbound variable", "nope", models.ErrorTypeUnbound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rsp, body := doRequest(t, http.MethodPost, url, "", models.EvalRequest{Source: tc.source})
			require.Equal(t, http.StatusUnprocessableEntity, rsp.StatusCode)

			var envelope models.ErrorResponse
			decodeInto(t, body, &envelope)
			assert.Equal(t, tc.wantType, envelope.ErrorType)
		})
	}
}

func TestSnippetLifecycle(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, body := doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/snippets", "", models.SnippetCreateRequest{Source: "(* 2 21)"})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var created models.SnippetResponse
	decodeInto(t, body, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "(* 2 21)", created.Source)

	rsp, body = doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/snippets?id="+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var fetched models.SnippetResponse
	decodeInto(t, body, &fetched)
	assert.Equal(t, created.Source, fetched.Source)

	rsp, body = doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/snippets/eval", "", models.SnippetEvalRequest{ID: created.ID})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var result models.EvalResponse
	decodeInto(t, body, &result)
	assert.Equal(t, "42", result.Value)

	rsp, _ = doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/snippets/delete", "", models.SnippetDeleteRequest{ID: created.ID})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	rsp, body = doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/snippets?id="+created.ID, "", nil)
	require.Equal(t, http.StatusNotFound, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeNotFound, envelope.ErrorType)

	// Deleting an id that is already gone stays a no-op.
	rsp, _ = doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/snippets/delete", "", models.SnippetDeleteRequest{ID: created.ID})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
}

func TestSnippetCreateRejectsUnparsable(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, body := doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/snippets", "", models.SnippetCreateRequest{Source: "(let)"})
	require.Equal(t, http.StatusUnprocessableEntity, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeSyntax, envelope.ErrorType)
}

func TestSnippetEvalUnknownID(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, body := doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/snippets/eval", "", models.SnippetEvalRequest{ID: "no-such-id"})
	require.Equal(t, http.StatusNotFound, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeNotFound, envelope.ErrorType)
}

func TestSnippetGetRequiresID(t *testing.T) {
	_, server := newTestService(t, nil)

	rsp, body := doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/snippets", "", nil)
	require.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Contains(t, envelope.Message, "missing id")
}

func TestApiKeyEnforcement(t *testing.T) {
	_, server := newTestService(t, func(cfg *config.Config) {
		cfg.Service.ApiKeys = []string{"sekrit"}
	})

	rsp, body := doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/ping", "", nil)
	require.Equal(t, http.StatusUnauthorized, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeBadRequest, envelope.ErrorType)

	rsp, _ = doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/ping", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode)

	rsp, _ = doRequest(t, http.MethodGet, server.URL+"/skiff/api/v1/ping", "sekrit", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	// The websocket endpoint checks the key before upgrading.
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/skiff/api/v1/session"
	_, rsp2, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, rsp2)
	assert.Equal(t, http.StatusUnauthorized, rsp2.StatusCode)
}

func TestRateLimitReturnsRetryAfter(t *testing.T) {
	_, server := newTestService(t, func(cfg *config.Config) {
		cfg.Service.RateLimiters.Parse = config.RateLimiterConfig{Limit: 1, Burst: 1}
	})
	url := server.URL + "/skiff/api/v1/parse"

	rsp, _ := doRequest(t, http.MethodPost, url, "", models.ParseRequest{Source: "(+ 1 2)"})
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	rsp, body := doRequest(t, http.MethodPost, url, "", models.ParseRequest{Source: "(+ 3 4)"})
	require.Equal(t, http.StatusTooManyRequests, rsp.StatusCode)
	assert.NotEmpty(t, rsp.Header.Get("Retry-After"))
	assert.NotEmpty(t, rsp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rsp.Header.Get("X-RateLimit-Burst"))

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeRateLimited, envelope.ErrorType)
}

func dialSession(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/skiff/api/v1/session"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, cmd models.SessionCommand) models.SessionResult {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
	var result models.SessionResult
	require.NoError(t, conn.ReadJSON(&result))
	return result
}

func TestSessionLifecycle(t *testing.T) {
	_, server := newTestService(t, nil)
	conn := dialSession(t, server)

	result := roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEval, Source: "(+ 1 2)"})
	require.Nil(t, result.Error)
	assert.Equal(t, models.SessionOpEval, result.Op)
	assert.Equal(t, "3", result.Value)

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpBind, Name: "y", Source: "10"})
	require.Nil(t, result.Error)
	assert.Equal(t, "10", result.Value)

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEnv})
	require.Nil(t, result.Error)
	require.Len(t, result.Bindings, 1)
	assert.Equal(t, "y", result.Bindings[0].Name)
	assert.Equal(t, "10", result.Bindings[0].Value)

	// Strategy switches keep the environment.
	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpStrategy, Strategy: "lazy"})
	require.Nil(t, result.Error)
	assert.Equal(t, "lazy", result.Strategy)

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEval, Source: "((lambda (x) y) oops)"})
	require.Nil(t, result.Error)
	assert.Equal(t, "10", result.Value)

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpReset})
	require.Nil(t, result.Error)

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEnv})
	require.Nil(t, result.Error)
	assert.Empty(t, result.Bindings)

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEval, Source: "y"})
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorTypeUnbound, result.Error.ErrorType)
}

func TestSessionRejectsBadCommands(t *testing.T) {
	_, server := newTestService(t, nil)
	conn := dialSession(t, server)

	result := roundTrip(t, conn, models.SessionCommand{Op: "frobnicate"})
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorTypeBadRequest, result.Error.ErrorType)
	assert.Contains(t, result.Error.Message, "unknown op")

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEval})
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Message, "eval requires source")

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpBind, Source: "1"})
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Message, "bind requires a name")

	result = roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpStrategy, Strategy: "eager"})
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Message, "unknown strategy")
}

func TestSessionCapacity(t *testing.T) {
	_, server := newTestService(t, func(cfg *config.Config) {
		cfg.Service.Sessions.MaxConnections = 1
	})

	conn := dialSession(t, server)
	// A round trip guarantees the first session finished registering.
	result := roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpEval, Source: "1"})
	require.Nil(t, result.Error)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/skiff/api/v1/session"
	_, rsp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, rsp)
	assert.Equal(t, http.StatusServiceUnavailable, rsp.StatusCode)
}

func TestEvalIsStateless(t *testing.T) {
	_, server := newTestService(t, nil)

	// Bind in a session, then prove plain /eval cannot see it.
	conn := dialSession(t, server)
	result := roundTrip(t, conn, models.SessionCommand{Op: models.SessionOpBind, Name: "z", Source: "1"})
	require.Nil(t, result.Error)

	rsp, body := doRequest(t, http.MethodPost, server.URL+"/skiff/api/v1/eval", "", models.EvalRequest{Source: "z"})
	require.Equal(t, http.StatusUnprocessableEntity, rsp.StatusCode)

	var envelope models.ErrorResponse
	decodeInto(t, body, &envelope)
	assert.Equal(t, models.ErrorTypeUnbound, envelope.ErrorType)
}
