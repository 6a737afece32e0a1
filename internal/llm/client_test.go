package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:   srv.URL + "/",
		APIKey:    "test-key",
		Model:     "openai/gpt-4o-mini",
		MaxTokens: 120,
		Timeout:   2 * time.Second,
	})
}

func TestComplete_Success(t *testing.T) {
	var got ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Good morning, Sam."}}]}`))
	})

	content, err := client.Complete(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Good morning, Sam.", content)
	assert.Equal(t, "openai/gpt-4o-mini", got.Model)
	assert.Equal(t, 120, got.MaxTokens)
	assert.Len(t, got.Messages, 1)
}

func TestComplete_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, KindRateLimited},
		{"quota exhausted", http.StatusPaymentRequired, `{"error":{"message":"insufficient credits"}}`, KindQuotaExhausted},
		{"server error", http.StatusBadGateway, `upstream failed`, KindProviderError},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, KindProviderError},
		{"not json", http.StatusOK, `<html>`, KindMalformedResponse},
		{"no choices", http.StatusOK, `{"choices":[]}`, KindMalformedResponse},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Complete(context.Background(), ChatRequest{})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))

			var ge *GenerationError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tt.status, ge.StatusCode)
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	_, err := client.Complete(context.Background(), ChatRequest{})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestComplete_MissingKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Complete(context.Background(), ChatRequest{})
	assert.Equal(t, KindProviderError, KindOf(err))
}
