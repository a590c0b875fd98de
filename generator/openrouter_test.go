package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*OpenRouterAdapter, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	a := NewOpenRouterAdapter("test-key", 0)
	a.BaseURL = srv.URL
	return a, srv.Close
}

func TestGenerateResolvesProviderAlias(t *testing.T) {
	var gotModel string
	a, closeSrv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{{}}})
	})
	defer closeSrv()

	_, err := a.Generate(context.Background(), "openai", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, modelMapping["openai"], gotModel)
}

func TestGenerateUnmappedModelSentVerbatim(t *testing.T) {
	var gotModel string
	a, closeSrv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{{}}})
	})
	defer closeSrv()

	_, err := a.Generate(context.Background(), "some/other-model", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "some/other-model", gotModel)
}

func TestGenerateFallsBackToReasoningWhenContentEmpty(t *testing.T) {
	a, closeSrv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{Choices: []chatChoice{{}}}
		resp.Choices[0].Message.Reasoning = "fallback text"
		json.NewEncoder(w).Encode(resp)
	})
	defer closeSrv()

	result, err := a.Generate(context.Background(), "openai", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "fallback text", result.Content)
}

func TestGenerateSurfacesProviderError(t *testing.T) {
	a, closeSrv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Error = &struct {
			Message string `json:"message"`
		}{Message: "rate limited"}
		json.NewEncoder(w).Encode(resp)
	})
	defer closeSrv()

	_, err := a.Generate(context.Background(), "openai", "hello", nil)
	require.ErrorContains(t, err, "rate limited")
}

func TestGenerateNonOKStatusIsError(t *testing.T) {
	a, closeSrv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	defer closeSrv()

	_, err := a.Generate(context.Background(), "openai", "hello", nil)
	require.Error(t, err)
}

func TestGenerateRespectsRateLimiter(t *testing.T) {
	a, closeSrv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{{}}})
	})
	defer closeSrv()
	a.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Burst of 1: the first call passes immediately; the second is
	// refused by the limiter because its wait would exceed the context
	// deadline.
	_, err := a.Generate(context.Background(), "openai", "first", nil)
	require.NoError(t, err)

	_, err = a.Generate(ctx, "openai", "second", nil)
	require.Error(t, err)
}

func TestRegistryGenerateUnknownProvider(t *testing.T) {
	registry := NewRegistry(map[string]Generator{})
	_, err := registry.Generate(context.Background(), "nope", "m", "p", nil)
	require.ErrorAs(t, err, &ErrUnknownProvider{})
}
