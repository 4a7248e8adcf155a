package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expenseflow/pkg/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.PushConfig{
		APIURL:  url,
		AppID:   "app-123",
		APIKey:  "rest-key",
		WebURL:  "https://gastos.example.com",
		IconURL: "https://gastos.example.com/icon.png",
	})
}

func TestClient_Send_RequestShape(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"xyz","recipients":1}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Send(context.Background(), Message{
		SubscriptionIDs: []string{"abcdefghijk"},
		Title:           "Aprobación pendiente",
		Body:            "Tienes una requisición por aprobar",
	})

	require.NoError(t, err)
	assert.Equal(t, "xyz", resp.ID)
	assert.Equal(t, 1, resp.RecipientCount(5))

	assert.Equal(t, "Basic rest-key", auth)
	assert.Equal(t, "app-123", got["app_id"])
	assert.Equal(t, "push", got["target_channel"])
	assert.Equal(t, []any{"abcdefghijk"}, got["include_subscription_ids"])
	assert.Equal(t, map[string]any{"en": "Aprobación pendiente", "es": "Aprobación pendiente"}, got["headings"])
	assert.Equal(t, map[string]any{"en": "Tienes una requisición por aprobar", "es": "Tienes una requisición por aprobar"}, got["contents"])
	assert.Equal(t, "https://gastos.example.com", got["web_url"])
	assert.Equal(t, "https://gastos.example.com/icon.png", got["chrome_web_icon"])
	assert.Equal(t, "https://gastos.example.com/icon.png", got["firefox_icon"])
}

func TestClient_Send_Non2xx(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"string errors", http.StatusInternalServerError, `{"errors":["Invalid app_id"]}`, "Invalid app_id"},
		{"object errors", http.StatusBadRequest, `{"errors":[{"code":"invalid","message":"Bad subscription"}]}`, "Bad subscription"},
		{"no errors field", http.StatusBadGateway, `{}`, GenericErrorMessage},
		{"non json body", http.StatusServiceUnavailable, `<html>down</html>`, GenericErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Send(context.Background(), Message{SubscriptionIDs: []string{"abcdefghijk"}})

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestClient_Send_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Send(context.Background(), Message{SubscriptionIDs: []string{"abcdefghijk"}})
	assert.ErrorContains(t, err, "failed to decode push response")
}

func TestResponse_RecipientCountFallback(t *testing.T) {
	var r Response
	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc"}`), &r))
	assert.Equal(t, 3, r.RecipientCount(3))

	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc","recipients":0}`), &r))
	assert.Equal(t, 0, r.RecipientCount(3))

	var nilResp *Response
	assert.Equal(t, 2, nilResp.RecipientCount(2))
}

func TestErrors_UnmarshalShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Errors
	}{
		{"array of strings", `["a","b"]`, Errors{"a", "b"}},
		{"array of objects", `[{"message":"m1"},{"title":"t2"}]`, Errors{"m1", "t2"}},
		{"object of arrays", `{"invalid_player_ids":["x","y"]}`, Errors{"invalid_player_ids: x, y"}},
		{"single string", `"boom"`, Errors{"boom"}},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Errors
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &e))
			assert.Equal(t, tt.want, e)
		})
	}
}
