package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/session"
	"github.com/rail-service/cctp_transfer/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sessionRouter(store session.Store) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Session(store, SessionOptions{CookieName: "cctp_session", TTL: time.Hour}, logger.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		sess := TransferSession(c)
		c.JSON(http.StatusOK, gin.H{"id": sess.ID, "state": sess.State})
	})
	return r
}

func TestSessionCreatesAndReusesSession(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	r := sessionRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)

	id := w.Header().Get(SessionHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "cctp_session", cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	saved := entities.NewTransferSession(id)
	saved.State = entities.TransferStateApproved
	require.NoError(t, store.Save(context.Background(), saved))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "cctp_session", Value: id})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"state":"Approved"`)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(SessionHeader, id)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"state":"Approved"`)
}

func TestSessionIgnoresMalformedID(t *testing.T) {
	r := sessionRouter(session.NewMemoryStore(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(SessionHeader, "../../etc/passwd")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "../../etc/passwd", w.Header().Get(SessionHeader))
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*entities.TransferSession, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) Save(context.Context, *entities.TransferSession) error { return nil }
func (brokenStore) Delete(context.Context, string) error                 { return nil }

func TestSessionStoreUnavailable(t *testing.T) {
	r := sessionRouter(brokenStore{})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(SessionHeader, uuid.NewString())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_STORE_UNAVAILABLE")
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:4321"}))
	r.POST("/api/v1/transfer/burn", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transfer/burn", nil)
	req.Header.Set("Origin", "http://localhost:4321")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:4321", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), SessionHeader)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(logger.NewNop()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestLoggerRedactsHeadersOnErrors(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), Logger(logger.NewLogger(zap.New(core), "test")))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/fail"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		req.Header.Set("Accept", "application/json")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.FilterMessage("HTTP Request").All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "headers")

	headers, ok := entries[1].ContextMap()["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "***REDACTED***", headers["Authorization"])
	assert.Equal(t, "application/json", headers["Accept"])
}
