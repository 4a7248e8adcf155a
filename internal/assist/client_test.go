package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"expenseflow/pkg/circuitbreaker"
	"expenseflow/pkg/config"
)

func TestClient_DraftNotification(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"title\":\"Cierre de mes\",\"message\":\"Envía tus comprobantes antes del viernes\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.AssistConfig{URL: srv.URL, APIKey: "secret", Model: "gpt-test"}, zap.NewNop())
	draft, err := c.DraftNotification(context.Background(), "cierre contable", "solicitante")

	require.NoError(t, err)
	assert.Equal(t, &Draft{Title: "Cierre de mes", Message: "Envía tus comprobantes antes del viernes"}, draft)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "cierre contable")
	assert.Contains(t, got.Messages[1].Content, "solicitante")
}

func TestClient_DraftNotification_FencedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json" + `\n{\"title\":\"T\",\"message\":\"M\"}\n` + "```" + `"}}]}`))
	}))
	defer srv.Close()

	draft, err := NewClient(config.AssistConfig{URL: srv.URL}, zap.NewNop()).
		DraftNotification(context.Background(), "x", "y")

	require.NoError(t, err)
	assert.Equal(t, "T", draft.Title)
}

func TestClient_DraftNotification_NotConfigured(t *testing.T) {
	_, err := NewClient(config.AssistConfig{}, zap.NewNop()).DraftNotification(context.Background(), "x", "y")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_DraftNotification_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.AssistConfig{URL: srv.URL}, zap.NewNop())
	threshold := circuitbreaker.DefaultConfig().FailureThreshold
	for i := 0; i < threshold; i++ {
		_, err := c.DraftNotification(context.Background(), "x", "y")
		assert.ErrorContains(t, err, "assist gateway 5xx")
	}

	_, err := c.DraftNotification(context.Background(), "x", "y")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(threshold), calls.Load())
}
