package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/session"
	"github.com/rail-service/cctp_transfer/pkg/logger"
)

// SessionHeader lets non-browser clients carry the session id without cookies
const SessionHeader = "X-Session-ID"

const sessionContextKey = "transfer_session"

// SessionIDContextKey holds the caller's session id in the gin context
const SessionIDContextKey = "session_id"

// SessionOptions controls the session cookie
type SessionOptions struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Session loads the caller's transfer session, creating a fresh one when the
// id is missing, malformed or expired. The id is echoed as a cookie and header.
func Session(store session.Store, opts SessionOptions, log *logger.Logger) gin.HandlerFunc {
	if opts.CookieName == "" {
		opts.CookieName = "cctp_session"
	}
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			if cookie, err := c.Cookie(opts.CookieName); err == nil {
				id = cookie
			}
		}
		if _, err := uuid.Parse(id); err != nil {
			id = ""
		}

		var sess *entities.TransferSession
		if id != "" {
			loaded, err := store.Get(c.Request.Context(), id)
			switch {
			case err == nil:
				sess = loaded
			case errors.Is(err, domainerrors.ErrSessionNotFound):
			default:
				log.Error("Failed to load transfer session", "session_id", id, "error", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, entities.ErrorResponse{
					Code:    "SESSION_STORE_UNAVAILABLE",
					Message: "Session store is unavailable",
				})
				return
			}
		}
		if sess == nil {
			sess = entities.NewTransferSession(id)
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(opts.CookieName, sess.ID, int(opts.TTL.Seconds()), "/", "", opts.Secure, true)
		c.Header(SessionHeader, sess.ID)
		c.Set(sessionContextKey, sess)
		c.Set(SessionIDContextKey, sess.ID)
		c.Next()
	}
}

// TransferSession returns the session loaded by Session, or nil outside it
func TransferSession(c *gin.Context) *entities.TransferSession {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*entities.TransferSession)
	return sess
}
