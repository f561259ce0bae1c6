package circle

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/pkg/security"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	// Circle API URLs
	ProductionBaseURL = "https://api.circle.com"

	// Timeouts and limits
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 5
	defaultBaseBackoff = 1 * time.Second
	maxBackoff         = 32 * time.Second
	jitterRange        = 0.1 // 10% jitter
	defaultRetryAfter  = 5 * time.Second
	maxRetryAfter      = 60 * time.Second
)

// Config represents Circle API configuration
type Config struct {
	APIKey      string        `json:"api_key"`
	BaseURL     string        `json:"base_url"`
	Environment string        `json:"environment"`
	Timeout     time.Duration `json:"timeout"`

	// EntitySecret is the 32-byte hex secret registered with Circle. Every
	// submission attempt carries a freshly encrypted copy.
	EntitySecret string `json:"-"`

	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`

	// OnBreakerChange is told whether the circuit breaker is open after each transition
	OnBreakerChange func(open bool) `json:"-"`

	WalletsEndpoint           string `json:"wallets_endpoint"`
	ContractExecutionEndpoint string `json:"contract_execution_endpoint"`
	TransactionsEndpoint      string `json:"transactions_endpoint"`
	PublicKeyEndpoint         string `json:"public_key_endpoint"`
}

// Client represents a Circle W3S API client for developer-controlled wallets
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
	entitySecret   *entitySecretCipher
}

// NewClient creates a new Circle API client
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = defaultMaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = defaultBaseBackoff
	}
	if config.BaseURL == "" {
		// Circle uses one host for testnet and mainnet, the API key decides
		config.BaseURL = ProductionBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.WalletsEndpoint == "" {
		config.WalletsEndpoint = "/v1/w3s/developer/wallets"
	}
	if config.ContractExecutionEndpoint == "" {
		config.ContractExecutionEndpoint = "/v1/w3s/developer/transactions/contractExecution"
	}
	if config.TransactionsEndpoint == "" {
		config.TransactionsEndpoint = "/v1/w3s/transactions"
	}
	if config.PublicKeyEndpoint == "" {
		config.PublicKeyEndpoint = "/v1/w3s/config/entity/publicKey"
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: security.NewHTTPTransport(),
	}

	st := gobreaker.Settings{
		Name:        "CircleAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// client errors say nothing about Circle's health
			var apiErr *entities.CircleAPIError
			if errors.As(err, &apiErr) {
				return !apiErr.IsRetryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if config.OnBreakerChange != nil {
				config.OnBreakerChange(to == gobreaker.StateOpen)
			}
		},
	}

	c := &Client{
		config:         config,
		httpClient:     httpClient,
		circuitBreaker: gobreaker.NewCircuitBreaker(st),
		logger:         logger,
	}
	c.entitySecret = newEntitySecretCipher(config.EntitySecret, c.GetEntityPublicKey)
	return c
}

// CreateWallets creates developer-controlled wallets and returns them as Circle reports them
func (c *Client) CreateWallets(ctx context.Context, req entities.CircleWalletCreateRequest) ([]entities.CircleWalletData, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	c.logger.Info("Creating developer-controlled wallet",
		zap.String("walletSetId", req.WalletSetID),
		zap.Strings("blockchains", req.Blockchains),
		zap.String("accountType", req.AccountType))

	var response entities.CircleWalletCreateResponse
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return &response, c.doRequestWithRetry(ctx, http.MethodPost, c.config.WalletsEndpoint, func(ctx context.Context) (interface{}, error) {
			attempt := req
			ciphertext, err := c.entitySecret.Ciphertext(ctx)
			if err != nil {
				return nil, err
			}
			attempt.EntitySecretCiphertext = ciphertext
			return attempt, nil
		}, &response)
	})
	if err != nil {
		c.logger.Error("Failed to create developer-controlled wallet",
			zap.String("walletSetId", req.WalletSetID),
			zap.Strings("blockchains", req.Blockchains),
			zap.String("accountType", req.AccountType),
			zap.Error(err))
		return nil, fmt.Errorf("create wallet failed: %w", err)
	}
	if len(response.Wallets) == 0 {
		return nil, fmt.Errorf("create wallet failed: no wallets in response")
	}

	c.logger.Info("Created developer-controlled wallet successfully",
		zap.String("walletSetId", req.WalletSetID),
		zap.String("walletId", response.Wallets[0].ID),
		zap.Strings("blockchains", req.Blockchains))

	return response.Wallets, nil
}

// CreateContractExecution submits a contract call signed by a developer-controlled wallet.
// The returned transaction is usually still INITIATED.
func (c *Client) CreateContractExecution(ctx context.Context, req entities.CircleContractExecutionRequest) (*entities.CircleTransactionData, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	c.logger.Info("Submitting contract execution",
		zap.String("walletId", req.WalletID),
		zap.String("contractAddress", req.ContractAddress),
		zap.String("abiFunctionSignature", req.AbiFunctionSignature),
		zap.String("feeLevel", string(req.FeeLevel)))

	var response entities.CircleTransactionResponse
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return &response, c.doRequestWithRetry(ctx, http.MethodPost, c.config.ContractExecutionEndpoint, func(ctx context.Context) (interface{}, error) {
			attempt := req
			ciphertext, err := c.entitySecret.Ciphertext(ctx)
			if err != nil {
				return nil, err
			}
			attempt.EntitySecretCiphertext = ciphertext
			return attempt, nil
		}, &response)
	})
	if err != nil {
		c.logger.Error("Failed to submit contract execution",
			zap.String("walletId", req.WalletID),
			zap.String("abiFunctionSignature", req.AbiFunctionSignature),
			zap.Error(err))
		return nil, fmt.Errorf("contract execution failed: %w", err)
	}
	if response.Transaction.ID == "" {
		return nil, fmt.Errorf("contract execution failed: no transaction id in response")
	}

	c.logger.Info("Contract execution submitted",
		zap.String("transactionId", response.Transaction.ID),
		zap.String("state", string(response.Transaction.State)))

	return &response.Transaction, nil
}

// GetTransaction retrieves a transaction by ID. Lookups are made once; the
// caller decides whether to poll again.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*entities.CircleTransactionData, error) {
	endpoint := fmt.Sprintf("%s/%s", c.config.TransactionsEndpoint, transactionID)

	var response entities.CircleTransactionResponse
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return &response, c.doRequest(ctx, http.MethodGet, endpoint, nil, &response, uuid.NewString())
	})
	if err != nil {
		c.logger.Error("Failed to get transaction",
			zap.String("transactionId", transactionID),
			zap.Error(err))
		return nil, fmt.Errorf("get transaction failed: %w", err)
	}
	if response.Transaction.ID == "" {
		response.Transaction.ID = transactionID
	}

	c.logger.Debug("Retrieved transaction status",
		zap.String("transactionId", response.Transaction.ID),
		zap.String("state", string(response.Transaction.State)),
		zap.String("txHash", response.Transaction.TxHash))

	return &response.Transaction, nil
}

// GetEntityPublicKey retrieves the entity's RSA public key in PEM form
func (c *Client) GetEntityPublicKey(ctx context.Context) (string, error) {
	var response entities.CirclePublicKeyResponse
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return &response, c.doRequest(ctx, http.MethodGet, c.config.PublicKeyEndpoint, nil, &response, uuid.NewString())
	})
	if err != nil {
		c.logger.Error("Failed to get entity public key", zap.Error(err))
		return "", fmt.Errorf("get entity public key failed: %w", err)
	}
	if response.Data.PublicKey == "" {
		return "", fmt.Errorf("public key not found in response")
	}

	c.logger.Info("Retrieved entity public key successfully")
	return response.Data.PublicKey, nil
}

// HealthCheck performs a health check against Circle API
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+c.config.PublicKeyEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("circle API health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("circle API health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// GetMetrics returns circuit breaker metrics for monitoring
func (c *Client) GetMetrics() map[string]interface{} {
	counts := c.circuitBreaker.Counts()
	return map[string]interface{}{
		"circuit_breaker_state": c.circuitBreaker.State().String(),
		"requests":              counts.Requests,
		"consecutive_successes": counts.ConsecutiveSuccesses,
		"consecutive_failures":  counts.ConsecutiveFailures,
		"total_successes":       counts.TotalSuccesses,
		"total_failures":        counts.TotalFailures,
	}
}

// addJitter adds random jitter to a duration to prevent thundering herd
func addJitter(duration time.Duration) time.Duration {
	randomBytes := make([]byte, 1)
	_, _ = rand.Read(randomBytes)
	randomFloat := float64(randomBytes[0])/255.0*2 - 1 // -1..1

	jitter := time.Duration(float64(duration) * jitterRange * randomFloat)
	return duration + jitter
}

// calculateBackoff calculates exponential backoff with jitter
func calculateBackoff(base time.Duration, attempt int, retryAfter *time.Duration) time.Duration {
	var delay time.Duration

	if retryAfter != nil {
		delay = *retryAfter
		if delay > maxRetryAfter {
			delay = maxRetryAfter
		}
	} else {
		delay = time.Duration(math.Pow(2, float64(attempt))) * base
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return addJitter(delay)
}

// doRequestWithRetry submits a request with exponential backoff retry and jitter.
// buildBody runs once per attempt so each attempt carries its own entity secret
// ciphertext; the idempotency key inside the body stays the same.
func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, buildBody func(ctx context.Context) (interface{}, error), responseBody interface{}) error {
	var lastErr error
	requestID := uuid.NewString()

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			var retryAfter *time.Duration
			var apiErr *entities.CircleAPIError
			if errors.As(lastErr, &apiErr) && apiErr.RetryAfter != nil {
				retryAfter = apiErr.RetryAfter
			}

			backoff := calculateBackoff(c.config.RetryBackoff, attempt-1, retryAfter)

			c.logger.Info("Retrying Circle API request",
				zap.String("request_id", requestID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.String("method", method),
				zap.String("endpoint", endpoint))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		requestBody, err := buildBody(ctx)
		if err != nil {
			return fmt.Errorf("failed to generate entity secret ciphertext: %w", err)
		}

		err = c.doRequest(ctx, method, endpoint, requestBody, responseBody, requestID)
		if err == nil {
			return nil
		}
		lastErr = err

		if !c.shouldRetry(err) {
			c.logger.Warn("Not retrying Circle API request due to error type",
				zap.String("request_id", requestID),
				zap.Error(err),
				zap.String("method", method),
				zap.String("endpoint", endpoint))
			return err
		}

		c.logger.Warn("Circle API request failed, will retry",
			zap.String("request_id", requestID),
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetries", c.config.MaxRetries),
			zap.String("method", method),
			zap.String("endpoint", endpoint))
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request
func (c *Client) doRequest(ctx context.Context, method, endpoint string, requestBody, responseBody interface{}, requestID string) error {
	url := c.config.BaseURL + endpoint

	var reqBody io.Reader
	if requestBody != nil {
		jsonData, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cctp-transfer/1.0")
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("Making Circle API request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("url", url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("Received Circle API response",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.Int("statusCode", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp, body, requestID)
	}

	if responseBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// handleErrorResponse processes Circle API error responses and returns typed errors
func (c *Client) handleErrorResponse(resp *http.Response, body []byte, requestID string) error {
	var retryAfter *time.Duration
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			retryAfter = &d
		}
	}
	if retryAfter == nil && resp.StatusCode == http.StatusTooManyRequests {
		d := defaultRetryAfter
		retryAfter = &d
	}

	var circleErr entities.CircleErrorResponse
	if err := json.Unmarshal(body, &circleErr); err != nil || circleErr.Message == "" {
		circleErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, security.MaskString(strings.TrimSpace(string(body))))
	} else {
		circleErr.Message = security.MaskString(circleErr.Message)
	}
	return entities.NewCircleAPIError(resp.StatusCode, circleErr, requestID, retryAfter)
}

// shouldRetry determines if a request should be retried based on the error
func (c *Client) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *entities.CircleAPIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	// network errors
	return true
}
