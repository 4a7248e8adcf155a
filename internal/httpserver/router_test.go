package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"expenseflow/internal/assist"
	"expenseflow/internal/dispatcher"
	"expenseflow/internal/handler"
	"expenseflow/internal/model"
	"expenseflow/internal/repository"
	"expenseflow/internal/service/scheduling"
	"expenseflow/pkg/trace"
	"expenseflow/pkg/util"
)

const testSecret = "test-jwt-secret"

const (
	adminID     = "0b6f3c2e-7a41-4d2b-9e51-1c2d3e4f5a01"
	aprobadorID = "0b6f3c2e-7a41-4d2b-9e51-1c2d3e4f5a02"
	compradorID = "0b6f3c2e-7a41-4d2b-9e51-1c2d3e4f5a03"
	ghostID     = "0b6f3c2e-7a41-4d2b-9e51-1c2d3e4f5a04"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeRoles map[string]string

func (f fakeRoles) GetRole(_ context.Context, userID string) (string, error) {
	role, ok := f[userID]
	if !ok {
		return "", repository.ErrRoleNotFound
	}
	return role, nil
}

type fakeRunner struct{}

func (fakeRunner) Run(context.Context, string) (*dispatcher.Summary, error) {
	return &dispatcher.Summary{Success: true, Results: []dispatcher.Result{}}, nil
}

type fakeScheduling struct{}

func (fakeScheduling) Create(_ context.Context, createdBy string, req scheduling.CreateRequest) (*model.ScheduledNotification, error) {
	return &model.ScheduledNotification{ID: "n-1", CreatedBy: &createdBy, Status: model.StatusPending}, nil
}

func (fakeScheduling) Get(context.Context, string) (*model.ScheduledNotification, error) {
	return nil, repository.ErrNotificationNotFound
}

func (fakeScheduling) List(context.Context, string, int) ([]*model.ScheduledNotification, error) {
	return nil, nil
}

func (fakeScheduling) Requeue(context.Context, string) (*model.ScheduledNotification, error) {
	return nil, repository.ErrNotRequeueable
}

type fakeSubscriptions struct{}

func (fakeSubscriptions) Upsert(_ context.Context, userID, auth string) (*model.PushSubscription, error) {
	return &model.PushSubscription{UserID: userID, Auth: auth}, nil
}

func (fakeSubscriptions) DeleteByUser(context.Context, string) (int64, error) { return 0, nil }

type fakeDrafter struct{}

func (fakeDrafter) DraftNotification(context.Context, string, string) (*assist.Draft, error) {
	return &assist.Draft{Title: "T", Message: "M"}, nil
}

func newTestRouter(pinger fakePinger) *gin.Engine {
	log := zap.NewNop()
	roles := fakeRoles{adminID: "admin", aprobadorID: "aprobador", compradorID: "comprador"}
	h := Handlers{
		Dispatch:     handler.NewDispatchHandler(fakeRunner{}, "", log),
		Notification: handler.NewNotificationHandler(fakeScheduling{}, log),
		Subscription: handler.NewSubscriptionHandler(fakeSubscriptions{}, log),
		Assist:       handler.NewAssistHandler(fakeDrafter{}, log),
	}
	return NewRouter(h, testSecret, pinger, roles, log).Engine
}

func bearer(t *testing.T, userID string) string {
	token, err := util.GenerateJWT(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName()))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestRouter(fakePinger{err: errors.New("dial tcp: refused")})
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_TraceHeaderEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName(), "trace-abc")
	w := httptest.NewRecorder()
	newTestRouter(fakePinger{}).ServeHTTP(w, req)

	assert.Equal(t, "trace-abc", w.Header().Get(trace.HeaderName()))
}

func TestRouter_DispatchIsPublic(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(fakePinger{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/functions/v1/process-scheduled-notifications", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"processed":0,"successful":0,"failed":0,"results":[]}`, w.Body.String())
}

func TestRouter_Permissions(t *testing.T) {
	body := `{"notification_type":"broadcast","title":"t","message":"m"}`
	tests := []struct {
		name       string
		userID     string
		method     string
		path       string
		wantStatus int
	}{
		{"missing token", "", http.MethodPost, "/api/scheduled-notifications", http.StatusUnauthorized},
		{"subject is not a user id", "service-account", http.MethodPost, "/api/scheduled-notifications", http.StatusUnauthorized},
		{"user without role", ghostID, http.MethodPost, "/api/scheduled-notifications", http.StatusForbidden},
		{"comprador cannot schedule", compradorID, http.MethodPost, "/api/scheduled-notifications", http.StatusForbidden},
		{"aprobador can schedule", aprobadorID, http.MethodPost, "/api/scheduled-notifications", http.StatusCreated},
		{"aprobador cannot requeue", aprobadorID, http.MethodPost, "/api/scheduled-notifications/7c9e6679-7425-40de-944b-e07fc1f90ae7/requeue", http.StatusForbidden},
		{"admin requeue conflict", adminID, http.MethodPost, "/api/scheduled-notifications/7c9e6679-7425-40de-944b-e07fc1f90ae7/requeue", http.StatusConflict},
		{"comprador registers subscription", compradorID, http.MethodPost, "/api/push/subscriptions", http.StatusOK},
	}

	r := newTestRouter(fakePinger{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqBody := body
			if tt.path == "/api/push/subscriptions" {
				reqBody = `{"auth":"abcdefghijk"}`
			}
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(reqBody))
			if tt.userID != "" {
				req.Header.Set("Authorization", bearer(t, tt.userID))
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestRouter_AdminRoutesDisabledWithoutHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/outbox/replay?id=1", nil)
	req.Header.Set("Authorization", bearer(t, adminID))
	w := httptest.NewRecorder()
	newTestRouter(fakePinger{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
