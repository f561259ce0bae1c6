package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/cctp_transfer/internal/api/middleware"
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/config"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/di"
	"github.com/rail-service/cctp_transfer/pkg/idempotency"
	"github.com/rail-service/cctp_transfer/pkg/logger"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RateLimitPerMin: 1000},
		Circle:      config.CircleConfig{BaseURL: "http://127.0.0.1:0", Timeout: time.Second},
		CCTP: config.CCTPConfig{
			IrisBaseURL: "http://127.0.0.1:0",
			Timeout:     time.Second,
			Chains:      entities.DefaultTestnetChains(),
		},
		Session: config.SessionConfig{Store: "memory", CookieName: "cctp_session", TTL: time.Hour},
	}

	container, err := di.NewContainer(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	assert.Nil(t, container.Sweeper)
	assert.Nil(t, container.JournalReader())

	router, err := SetupRoutes(container, "test")
	require.NoError(t, err)
	return router
}

func TestSetupRoutes(t *testing.T) {
	router := newTestEngine(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ETH-SEPOLIA")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transfer", nil))
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := w.Header().Get(middleware.SessionHeader)
	require.NotEmpty(t, sessionID)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, sessionID, view["session_id"])
	assert.Equal(t, string(entities.TransferStateSetup), view["state"])
}

func TestTransferStepOutOfOrderThroughRouter(t *testing.T) {
	router := newTestEngine(t)

	approve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transfer/approve", strings.NewReader(`{"amount":"10"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.SessionHeader, "6f1c2b8e-3d4a-4b5c-9e7f-0a1b2c3d4e5f")
		req.Header.Set(idempotency.HeaderIdempotencyKey, "approve-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := approve()
	assert.Equal(t, http.StatusConflict, first.Code)

	// failures are not replayed
	second := approve()
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Empty(t, second.Header().Get(idempotency.HeaderReplayed))
}

func TestHistoryDisabledWithoutDatabase(t *testing.T) {
	router := newTestEngine(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transfer/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "HISTORY_DISABLED")
}
