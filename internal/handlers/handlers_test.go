package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailwatch-go/internal/config"
	"mailwatch-go/internal/lock"
	"mailwatch-go/internal/metrics"
	"mailwatch-go/internal/models"
	"mailwatch-go/internal/scheduler"
	"mailwatch-go/internal/spam"
	"mailwatch-go/internal/store"
)

const testSecret = "s3cret"

type noopEngine struct{}

func (noopEngine) IngestTenant(ctx context.Context, tenantID string) models.RunResult {
	return models.RunResult{TenantID: tenantID, Success: true, NewMails: 2, Processed: 2}
}

type noopSweeper struct{}

func (noopSweeper) RetryPending(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, st *store.Memory) (*gin.Engine, *spam.Blacklist) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.SchedulerConfig{
		IntervalMinutes:    5,
		MaxConcurrent:      2,
		RunDeadline:        time.Minute,
		RetrySweepInterval: time.Minute,
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sched := scheduler.NewScheduler(cfg, st, noopEngine{}, noopSweeper{}, lock.NewMemoryLocker(), m)
	blacklist := spam.NewBlacklist("spam.example.com")

	h := NewHandlers(nil, st, sched, blacklist, testSecret)
	router := gin.New()
	h.SetupRoutes(router)
	return router, blacklist
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(TriggerSecretHeader, testSecret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRunAllEndpointReturnsSummary(t *testing.T) {
	st := store.NewMemory()
	st.AddMailbox(models.TenantMailbox{TenantID: "t1", Enabled: true})
	st.AddMailbox(models.TenantMailbox{TenantID: "t2", Enabled: true})
	router, _ := newTestRouter(t, st)

	w := doRequest(router, http.MethodPost, "/api/v1/ingest/run", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool              `json:"success"`
		Summary models.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Summary.Tenants)
	assert.Equal(t, 4, resp.Summary.Processed)
	assert.Equal(t, 0, resp.Summary.Failed)
}

func TestRunTenantEndpoint(t *testing.T) {
	st := store.NewMemory()
	st.AddMailbox(models.TenantMailbox{TenantID: "t1", Enabled: true})
	router, _ := newTestRouter(t, st)

	w := doRequest(router, http.MethodPost, "/api/v1/ingest/run/t1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result models.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "t1", result.TenantID)
	assert.True(t, result.Success)
}

func TestTriggerEndpointsRequireSecret(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemory())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMessagesEndpointPaginates(t *testing.T) {
	st := store.NewMemory()
	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, st.CreateMessage(&models.IngestedMessage{TenantID: "t1", DedupeKey: key}))
	}
	router, _ := newTestRouter(t, st)

	w := doRequest(router, http.MethodGet, "/api/v1/messages?tenant_id=t1&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages   []models.IngestedMessage `json:"messages"`
		Pagination struct {
			Total int64 `json:"total"`
			Limit int   `json:"limit"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 2)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.Limit)
}

func TestBlacklistEndpoints(t *testing.T) {
	router, blacklist := newTestRouter(t, store.NewMemory())

	w := doRequest(router, http.MethodGet, "/api/v1/blacklist", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "spam.example.com")

	w = doRequest(router, http.MethodPost, "/api/v1/blacklist", `{"domain": "bulk.example.net"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, blacklist.Contains("bulk.example.net"))

	w = doRequest(router, http.MethodPost, "/api/v1/blacklist", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodDelete, "/api/v1/blacklist/bulk.example.net", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, blacklist.Contains("bulk.example.net"))
}

func TestRetryNotificationsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemory())

	w := doRequest(router, http.MethodPost, "/api/v1/notifications/retry", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemory())

	w := doRequest(router, http.MethodPost, "/api/v1/scheduler/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "running")

	// Starting twice is an error surfaced to the caller.
	w = doRequest(router, http.MethodPost, "/api/v1/scheduler/start", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/scheduler/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stopped")
}

func TestStatusEndpoint(t *testing.T) {
	st := store.NewMemory()
	now := time.Now()
	st.AddMailbox(models.TenantMailbox{TenantID: "t1", Enabled: true, LastCheckedAt: &now})
	router, _ := newTestRouter(t, st)

	w := doRequest(router, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "is_running")
	assert.Contains(t, resp, "last_check_time_per_tenant")
}
