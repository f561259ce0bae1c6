package entities

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// === Circle W3S API Models ===

// FeeLevel is the Circle gas fee tier for a contract execution
type FeeLevel string

const (
	FeeLevelLow    FeeLevel = "LOW"
	FeeLevelMedium FeeLevel = "MEDIUM"
	FeeLevelHigh   FeeLevel = "HIGH"
)

// CircleTransactionState is the lifecycle state Circle reports for a transaction
type CircleTransactionState string

const (
	CircleTxStateInitiated CircleTransactionState = "INITIATED"
	CircleTxStateQueued    CircleTransactionState = "QUEUED"
	CircleTxStateSent      CircleTransactionState = "SENT"
	CircleTxStateConfirmed CircleTransactionState = "CONFIRMED"
	CircleTxStateComplete  CircleTransactionState = "COMPLETE"
	CircleTxStateFailed    CircleTransactionState = "FAILED"
	CircleTxStateCancelled CircleTransactionState = "CANCELLED"
	CircleTxStateDenied    CircleTransactionState = "DENIED"
)

// IsSuccess reports a state that carries a usable tx hash
func (s CircleTransactionState) IsSuccess() bool {
	return s == CircleTxStateConfirmed || s == CircleTxStateComplete
}

// IsFailure reports a terminal state that will never confirm
func (s CircleTransactionState) IsFailure() bool {
	return s == CircleTxStateFailed || s == CircleTxStateCancelled || s == CircleTxStateDenied
}

// CircleWalletCreateRequest represents Circle wallet creation request
type CircleWalletCreateRequest struct {
	IdempotencyKey         string   `json:"idempotencyKey"`
	EntitySecretCiphertext string   `json:"entitySecretCiphertext"`
	Blockchains            []string `json:"blockchains"`
	Count                  int      `json:"count,omitempty"`
	AccountType            string   `json:"accountType"`
	WalletSetID            string   `json:"walletSetId"`
}

// CircleWalletCreateResponse represents Circle wallet creation response
type CircleWalletCreateResponse struct {
	Wallets []CircleWalletData `json:"wallets"`
}

// UnmarshalJSON normalizes Circle wallet responses that may wrap data
func (r *CircleWalletCreateResponse) UnmarshalJSON(data []byte) error {
	aux := struct {
		Data *struct {
			Wallets []CircleWalletData `json:"wallets"`
		} `json:"data"`
		Wallets []CircleWalletData `json:"wallets"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch {
	case aux.Data != nil && len(aux.Data.Wallets) > 0:
		r.Wallets = aux.Data.Wallets
	case len(aux.Wallets) > 0:
		r.Wallets = aux.Wallets
	default:
		r.Wallets = []CircleWalletData{}
	}
	return nil
}

// CircleWalletData represents Circle wallet data
type CircleWalletData struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	WalletSetID string    `json:"walletSetId"`
	CustodyType string    `json:"custodyType"`
	AccountType string    `json:"accountType,omitempty"`
	Address     string    `json:"address"`
	Blockchain  string    `json:"blockchain"`
	CreatedDate time.Time `json:"createDate"`
	UpdatedDate time.Time `json:"updateDate"`
}

// CircleContractExecutionRequest submits a contract call from a developer-controlled wallet
type CircleContractExecutionRequest struct {
	IdempotencyKey         string        `json:"idempotencyKey"`
	EntitySecretCiphertext string        `json:"entitySecretCiphertext"`
	WalletID               string        `json:"walletId"`
	ContractAddress        string        `json:"contractAddress"`
	AbiFunctionSignature   string        `json:"abiFunctionSignature"`
	AbiParameters          []interface{} `json:"abiParameters"`
	FeeLevel               FeeLevel      `json:"feeLevel"`
	RefID                  string        `json:"refId,omitempty"`
}

// CircleTransactionData is the subset of Circle transaction fields the transfer flow reads
type CircleTransactionData struct {
	ID           string                 `json:"id"`
	State        CircleTransactionState `json:"state"`
	TxHash       string                 `json:"txHash,omitempty"`
	Blockchain   string                 `json:"blockchain,omitempty"`
	WalletID     string                 `json:"walletId,omitempty"`
	ErrorReason  string                 `json:"errorReason,omitempty"`
	ErrorDetails string                 `json:"errorDetails,omitempty"`
	CreatedDate  time.Time              `json:"createDate"`
	UpdatedDate  time.Time              `json:"updateDate"`
}

// CircleTransactionResponse normalizes both the contract execution response
// ({data:{id,state}}) and the lookup response ({data:{transaction:{...}}})
type CircleTransactionResponse struct {
	Transaction CircleTransactionData `json:"transaction"`
}

// UnmarshalJSON normalizes Circle transaction responses that may wrap data
func (r *CircleTransactionResponse) UnmarshalJSON(data []byte) error {
	aux := struct {
		Data *struct {
			Transaction *CircleTransactionData `json:"transaction"`
			CircleTransactionData
		} `json:"data"`
		Transaction *CircleTransactionData `json:"transaction"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch {
	case aux.Data != nil && aux.Data.Transaction != nil:
		r.Transaction = *aux.Data.Transaction
	case aux.Data != nil && aux.Data.ID != "":
		r.Transaction = aux.Data.CircleTransactionData
	case aux.Transaction != nil:
		r.Transaction = *aux.Transaction
	default:
		r.Transaction = CircleTransactionData{}
	}
	return nil
}

// CirclePublicKeyResponse wraps the entity RSA public key
type CirclePublicKeyResponse struct {
	Data struct {
		PublicKey string `json:"publicKey"`
	} `json:"data"`
}

// CircleFieldError represents field-specific error
type CircleFieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CircleErrorResponse represents Circle API error response body
type CircleErrorResponse struct {
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Errors  []CircleFieldError `json:"errors,omitempty"`
}

// CircleAPIError represents a Circle API error with type information
type CircleAPIError struct {
	StatusCode int                `json:"status_code"`
	Code       int                `json:"code"`
	Message    string             `json:"message"`
	Errors     []CircleFieldError `json:"errors,omitempty"`
	RequestID  string             `json:"request_id,omitempty"`
	RetryAfter *time.Duration     `json:"retry_after,omitempty"`
	Type       string             `json:"type"`
}

// Error implements error interface
func (e *CircleAPIError) Error() string {
	if len(e.Errors) > 0 {
		var details []string
		for _, fieldErr := range e.Errors {
			details = append(details, fmt.Sprintf("%s: %s", fieldErr.Field, fieldErr.Message))
		}
		return fmt.Sprintf("Circle %s error %d: %s (%s)", e.Type, e.StatusCode, e.Message, strings.Join(details, ", "))
	}
	return fmt.Sprintf("Circle %s error %d: %s", e.Type, e.StatusCode, e.Message)
}

// IsRetryable returns true for rate limits and server errors
func (e *CircleAPIError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the retry delay for rate limit errors
func (e *CircleAPIError) GetRetryAfter() time.Duration {
	if e.RetryAfter != nil {
		return *e.RetryAfter
	}
	if e.StatusCode >= 500 {
		return 5 * time.Second
	}
	return 0
}

// NewCircleAPIError creates a Circle API error typed by status code
func NewCircleAPIError(status int, body CircleErrorResponse, requestID string, retryAfter *time.Duration) *CircleAPIError {
	e := &CircleAPIError{
		StatusCode: status,
		Code:       body.Code,
		Message:    body.Message,
		Errors:     body.Errors,
		RequestID:  requestID,
		RetryAfter: retryAfter,
	}
	if e.Message == "" {
		e.Message = "unknown error"
	}

	switch {
	case status == 401 || status == 403:
		e.Type = "auth"
	case status == 400:
		e.Type = "validation"
	case status == 404:
		e.Type = "not_found"
	case status == 409:
		e.Type = "conflict"
	case status == 429:
		e.Type = "rate_limit"
	case status >= 500:
		e.Type = "server"
	default:
		e.Type = "client"
	}
	return e
}
