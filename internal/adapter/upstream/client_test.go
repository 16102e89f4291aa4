package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/refulearn/cache-service/internal/app/config"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.UpstreamConfig{BaseURL: srv.URL + "/", Token: "tok", Timeout: time.Second})
}

func TestFetchJSON_UnwrapsDataEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":1}]}`))
	})

	got, err := c.FetchJSON(context.Background(), "/api/jobs")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(got))
}

func TestFetchJSON_PlainArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	got, err := c.FetchJSON(context.Background(), "/api/jobs")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
}

func TestFetchJSON_ObjectWithoutData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":4}`))
	})

	got, err := c.FetchJSON(context.Background(), "/api/users/dashboard/stats")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":4}`, string(got))
}

func TestFetchJSON_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.FetchJSON(context.Background(), "/api/jobs")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestFetchJSON_UsesCallerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"courses":[]}}`))
	})

	ctx := entity.WithCaller(context.Background(), entity.Caller{UserID: "u1", Token: "user-token"})
	got, err := c.FetchJSON(ctx, "/api/courses/enrolled/courses")
	require.NoError(t, err)
	assert.JSONEq(t, `{"courses":[]}`, string(got))
}

func TestReplay_SendsMethodAndPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/courses/c1/progress", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"progress":50}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	item, err := entity.NewSyncItem("id-1", "progress", http.MethodPut, "/api/courses/c1/progress", json.RawMessage(`{"progress":50}`))
	require.NoError(t, err)
	item.OwnedBy(entity.Caller{UserID: "u1", Token: "user-token"})
	assert.NoError(t, c.Replay(context.Background(), item))
}

func TestReplay_RefusesItemWithoutOwnerToken(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	item, err := entity.NewSyncItem("id-2", "deleteUser", http.MethodDelete, "/api/users/123", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Replay(context.Background(), item), ErrNoOwnerToken)
	assert.False(t, called)
}
