package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/cctp_transfer/pkg/logger"
	"github.com/rail-service/cctp_transfer/pkg/security"
)

// Error codes as constants for consistent error responses across handlers
const (
	// Validation errors
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeValidationError = "VALIDATION_ERROR"

	// Resource errors
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"

	// Operation errors
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeUpstreamError      = "UPSTREAM_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeHistoryDisabled    = "HISTORY_DISABLED"
)

// Error messages as constants for consistency
const (
	MsgInvalidRequest     = "Invalid request payload"
	MsgInternalError      = "Internal server error"
	MsgServiceUnavailable = "Service temporarily unavailable"
	MsgUpstreamError      = "Upstream API request failed"
)

// ErrorResponseBuilder provides a fluent interface for building error responses
type ErrorResponseBuilder struct {
	status  int
	code    string
	message string
	details map[string]interface{}
}

// NewError creates a new ErrorResponseBuilder
func NewError(status int, code string) *ErrorResponseBuilder {
	return &ErrorResponseBuilder{
		status: status,
		code:   code,
	}
}

// Message sets the error message
func (e *ErrorResponseBuilder) Message(msg string) *ErrorResponseBuilder {
	e.message = msg
	return e
}

// Detail adds a single detail to the error response
func (e *ErrorResponseBuilder) Detail(key string, value interface{}) *ErrorResponseBuilder {
	if e.details == nil {
		e.details = make(map[string]interface{})
	}
	e.details[key] = value
	return e
}

// Details sets all details at once
func (e *ErrorResponseBuilder) Details(details map[string]interface{}) *ErrorResponseBuilder {
	e.details = details
	return e
}

// Send sends the error response
func (e *ErrorResponseBuilder) Send(c *gin.Context) {
	c.JSON(e.status, entities.ErrorResponse{
		Code:    e.code,
		Message: e.message,
		Details: e.details,
	})
}

// errorFor maps a service error onto an HTTP response. Domain errors keep their
// code and details; upstream failures are reduced to their status so API
// payloads are not echoed to the caller.
func errorFor(err error) *ErrorResponseBuilder {
	var domainErr *domainerrors.DomainError
	hasDomain := errors.As(err, &domainErr)
	fromDomain := func(status int, fallback string) *ErrorResponseBuilder {
		if !hasDomain {
			return NewError(status, fallback).Message(err.Error())
		}
		return NewError(status, domainErr.Code).Message(domainErr.Message).Details(domainErr.Details)
	}

	var circleErr *entities.CircleAPIError
	var irisErr *cctp.ErrorResponse
	var urlErr *url.Error

	switch {
	case errors.Is(err, domainerrors.ErrSessionNotFound):
		return NewError(http.StatusNotFound, ErrCodeSessionNotFound).Message("Transfer session not found")
	case domainerrors.IsPrecondition(err):
		return fromDomain(http.StatusConflict, ErrCodeConflict)
	case domainerrors.IsBadRequest(err):
		return fromDomain(http.StatusBadRequest, ErrCodeValidationError)
	case domainerrors.IsTransactionFailed(err):
		return fromDomain(http.StatusUnprocessableEntity, "TRANSACTION_FAILED")
	case domainerrors.IsTimeout(err):
		return fromDomain(http.StatusGatewayTimeout, ErrCodeTimeout)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(http.StatusGatewayTimeout, ErrCodeTimeout).Message("Request timed out")
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return NewError(http.StatusServiceUnavailable, ErrCodeServiceUnavailable).Message(MsgServiceUnavailable)
	case errors.As(err, &circleErr):
		return NewError(http.StatusBadGateway, ErrCodeUpstreamError).
			Message(MsgUpstreamError).
			Detail("upstream", "circle").
			Detail("status", circleErr.StatusCode).
			Detail("upstream_request_id", circleErr.RequestID)
	case errors.As(err, &irisErr):
		return NewError(http.StatusBadGateway, ErrCodeUpstreamError).
			Message(MsgUpstreamError).
			Detail("upstream", "iris").
			Detail("status", irisErr.StatusCode)
	case errors.As(err, &urlErr):
		// transport failure: the upstream never answered
		resp := NewError(http.StatusBadGateway, ErrCodeUpstreamError).Message(MsgUpstreamError)
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			resp.Detail("upstream_host", u.Host)
		}
		return resp
	default:
		return NewError(http.StatusInternalServerError, ErrCodeInternalError).Message(MsgInternalError)
	}
}

// handleServiceError logs the error at a level matching its category and writes the response
func handleServiceError(c *gin.Context, log *logger.Logger, operation string, err error) {
	resp := errorFor(err)
	fields := []interface{}{
		"operation", operation,
		"request_id", getRequestID(c),
		"status", resp.status,
		"error", err,
	}
	var domainErr *domainerrors.DomainError
	if errors.As(err, &domainErr) {
		fields = append(fields, "retryable", domainErr.IsRetryable())
	}
	if resp.details != nil {
		fields = append(fields, "details", security.MaskMap(resp.details))
	}

	if resp.status >= http.StatusInternalServerError {
		log.Error("Transfer operation failed", fields...)
	} else {
		log.Debug("Transfer operation rejected", fields...)
	}
	_ = c.Error(err)
	resp.Send(c)
}
