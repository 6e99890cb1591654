package tc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iklop007/galaxytx/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAdminAPIHealthz(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	api := NewAdminAPI(c, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/healthz", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAPIGetStatusUnknownXIDReturnsNotFound(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	api := NewAdminAPI(c, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/transactions/no-such-xid", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAPIGetStatusKnownXID(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	api := NewAdminAPI(c, nil)

	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/transactions/"+xid, nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(store.StatusBegin))
}

func TestAdminAPIListNonTerminal(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	api := NewAdminAPI(c, nil)

	_, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/transactions", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestAdminAPIRateLimitStatsReportsDisabledWhenNilLimiter(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	api := NewAdminAPI(c, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/stats/ratelimit", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limiting disabled")
}

func TestAdminAPIRateLimitStatsReportsLimiterStats(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	limiter := NewRateLimiter(DefaultRateLimiterConfig())
	defer limiter.Stop()
	api := NewAdminAPI(c, limiter)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/stats/ratelimit", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "RequestsPerSecond")
}
