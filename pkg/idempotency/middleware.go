package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyKey is the HTTP header for idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderReplayed marks a response served from the idempotency store
	HeaderReplayed = "Idempotent-Replayed"

	// MaxBodySize is the maximum request body size hashed for idempotency (1MB)
	MaxBodySize = 1 << 20

	// DefaultTTL is how long a stored response can be replayed
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 255
)

// responseWriter wraps gin.ResponseWriter to capture response
type responseWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Options configures the middleware
type Options struct {
	TTL time.Duration
	// ScopeKey is the gin context key whose value namespaces idempotency keys,
	// so two callers reusing the same key never see each other's responses
	ScopeKey string
}

// Middleware replays the stored response for a repeated Idempotency-Key on
// state-changing requests. Requests without the header pass through. Only
// successful responses are stored, so a failed step can be retried with the
// same key.
func Middleware(store Store, opts Options, logger *zap.Logger) gin.HandlerFunc {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return func(c *gin.Context) {
		if !isStateChanging(c.Request.Method) {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			c.Next()
			return
		}

		if err := ValidateKey(idempotencyKey); err != nil {
			abort(c, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", err.Error())
			return
		}

		bodyBytes, err := ReadBody(c.Request.Body, MaxBodySize)
		if err != nil {
			abort(c, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		storeKey := scopedKey(c, opts.ScopeKey, idempotencyKey)
		requestHash := HashRequest(c.Request.Method, c.Request.URL.Path, bodyBytes)

		existing, err := store.Get(c.Request.Context(), storeKey)
		if err != nil {
			// fail open
			logger.Error("Failed to check idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.Next()
			return
		}

		if existing != nil {
			if existing.RequestHash != requestHash {
				logger.Warn("Idempotency key reused with a different request",
					zap.String("idempotency_key", idempotencyKey),
					zap.String("path", c.Request.URL.Path))
				abort(c, http.StatusConflict, "IDEMPOTENCY_KEY_CONFLICT",
					"Idempotency key was already used for a different request")
				return
			}

			logger.Info("Returning cached response",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int("status", existing.Status))
			c.Header(HeaderReplayed, "true")
			c.Data(existing.Status, existing.contentType(), existing.Body)
			c.Abort()
			return
		}

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
			status:         http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		if writer.status < 200 || writer.status >= 300 {
			return
		}

		record := &Record{
			RequestHash: requestHash,
			Status:      writer.status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
			CreatedAt:   time.Now().UTC(),
		}
		// the request context may already be cancelled by a disconnected client
		if err := store.Save(context.WithoutCancel(c.Request.Context()), storeKey, record, opts.TTL); err != nil {
			logger.Error("Failed to store idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			return
		}
		logger.Debug("Stored idempotency key",
			zap.String("idempotency_key", idempotencyKey),
			zap.Int("status", writer.status))
	}
}

// ValidateKey rejects empty, oversized or non-printable keys
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("idempotency key is empty")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("idempotency key exceeds %d characters", maxKeyLength)
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return fmt.Errorf("idempotency key must be printable ASCII without spaces")
		}
	}
	return nil
}

// ReadBody reads at most limit bytes and fails if the body is larger
func ReadBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return data, nil
}

// HashRequest fingerprints the method, path and body of a request
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func scopedKey(c *gin.Context, scopeKey, key string) string {
	if scopeKey == "" {
		return key
	}
	return c.GetString(scopeKey) + ":" + key
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":       code,
		"message":    message,
		"request_id": c.GetString("request_id"),
	})
}
