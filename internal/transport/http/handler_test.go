package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolodex/internal/message"
	"rolodex/internal/recipient/remap"
	"rolodex/internal/recipient/resolve"
	"rolodex/internal/recipient/service"
	"rolodex/internal/recipient/store"
	"rolodex/internal/session"
	"rolodex/internal/thread"
	txpkg "rolodex/pkg/platform/tx"
)

const testACI = "0000ac01-0000-0000-0000-000000000000"

func newTestHandler(t *testing.T) (*Handler, *TokenService) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	recipients := store.NewInMemoryStore()
	sessions := session.NewInMemoryStore()
	ledger := remap.NewInMemoryLedger()
	writer := service.NewWriter(recipients, thread.NewInMemoryStore(), message.NewInMemoryStore(),
		sessions, ledger, logger, nil)
	orch := service.NewOrchestrator(recipients, sessions, writer, ledger,
		txpkg.Passthrough{}, resolve.Self{}, logger, nil)

	tokens := NewTokenService("test-signing-key", "rolodex-test")
	return NewHandler(orch, tokens, logger), tokens
}

func authedRequest(t *testing.T, tokens *TokenService, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	token, err := tokens.Generate("test-admin", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveRequiresAuth(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/recipients/resolve", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/recipients/resolve", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewTokenService("different-key", "rolodex-test")
		token, err := other.Generate("intruder", time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/recipients/resolve", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestResolveEndpoint(t *testing.T) {
	h, tokens := newTestHandler(t)
	router := h.Router()

	t.Run("inserts a new recipient", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/v1/recipients/resolve",
			resolveRequest{E164: "+15551230100", ACI: testACI}))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp resolveResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "inserted", resp.Outcome)
		assert.Positive(t, resp.ID)
	})

	t.Run("repeat observation matches", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/v1/recipients/resolve",
			resolveRequest{E164: "+15551230100", ACI: testACI}))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp resolveResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "matched", resp.Outcome)
	})

	t.Run("empty tuple is a bad request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/v1/recipients/resolve",
			resolveRequest{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed identifiers are rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/v1/recipients/resolve",
			resolveRequest{E164: "not-a-number"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetEndpoint(t *testing.T) {
	h, tokens := newTestHandler(t)
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/v1/recipients/resolve",
		resolveRequest{E164: "+15551230100", ACI: testACI}))
	require.Equal(t, http.StatusOK, rec.Code)
	var created resolveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	t.Run("returns the record", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodGet,
			fmt.Sprintf("/v1/recipients/%d", created.ID), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp recordResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, created.ID, resp.ID)
		assert.Equal(t, "+15551230100", resp.E164)
		assert.Equal(t, testACI, resp.ACI)
		assert.True(t, resp.Registered)
	})

	t.Run("unknown id is a 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodGet, "/v1/recipients/999", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id is a 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(t, tokens, http.MethodGet, "/v1/recipients/abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
