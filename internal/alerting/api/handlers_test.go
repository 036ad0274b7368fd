package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/service/scheduler"
)

func newTestRouter(t *testing.T) (*gin.Engine, *scheduler.MemoryQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	q := scheduler.NewMemoryQueue()
	sch := scheduler.New(scheduler.Deps{Queue: q})
	router := gin.New()
	NewApi(router, sch, scheduler.NewIngress(q), nil, q)
	return router, q
}

func TestPostEventEnqueuesUserEvaluation(t *testing.T) {
	router, q := newTestRouter(t)
	body := `{"userId":"u1","eventType":"transaction.posted","payload":{"transactionId":"t1"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	task, err := q.Dequeue(req.Context())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, scheduler.TaskEvaluateUser, task.Kind)
	assert.Equal(t, "u1", task.UserID)
}

func TestPostEventRejectsUnknownType(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events",
		strings.NewReader(`{"userId":"u1","eventType":"bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostEventRequiresUser(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events",
		strings.NewReader(`{"eventType":"transaction.posted"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateAlertEnqueuesTask(t *testing.T) {
	router, q := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts/a-123/evaluate", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	task, err := q.Dequeue(req.Context())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, scheduler.TaskEvaluateAlert, task.Kind)
	assert.Equal(t, "a-123", task.AlertID)
}
