package cctp

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a CCTP API error response
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Detail     string `json:"error,omitempty"`
}

func (e *ErrorResponse) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	return fmt.Sprintf("CCTP API error [%d]: %s", e.StatusCode, msg)
}

func (e *ErrorResponse) IsNotFound() bool {
	return e.StatusCode == 404
}

func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsNotFound reports whether err carries an Iris 404
func IsNotFound(err error) bool {
	var resp *ErrorResponse
	return errors.As(err, &resp) && resp.IsNotFound()
}

// ErrNoMessages indicates no messages found for the transaction
var ErrNoMessages = errors.New("no messages found for transaction")

// IsRateLimited reports whether err carries an Iris 429
func IsRateLimited(err error) bool {
	var resp *ErrorResponse
	return errors.As(err, &resp) && resp.IsRateLimited()
}
