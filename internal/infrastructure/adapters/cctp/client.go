package cctp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/cctp_transfer/pkg/security"
)

const (
	defaultTimeout = 30 * time.Second
	// feeRetries bounds the 5xx retry of fee quotes; attestation lookups are never retried here
	feeRetries     = 3
)

// Config represents CCTP client configuration
type Config struct {
	BaseURL     string
	Environment string // "sandbox" or "mainnet"
	APIKey      string // sent as a bearer token when set
	Timeout     time.Duration
	// RetryBackoff is the first delay of the fee quote retry loop, doubled per attempt
	RetryBackoff time.Duration
	// OnBreakerChange is told whether the circuit breaker is open after each transition
	OnBreakerChange func(open bool)
}

// Client represents a CCTP Iris API client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

// NewClient creates a new CCTP Iris API client
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}
	if config.BaseURL == "" {
		if config.Environment == "mainnet" {
			config.BaseURL = IrisMainnetURL
		} else {
			config.BaseURL = IrisSandboxURL
		}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	cbSettings := gobreaker.Settings{
		Name:        "CCTPAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// 404 is the normal "not attested yet" answer while polling and
		// other 4xx answers say nothing about Iris health
		IsSuccessful: func(err error) bool {
			var resp *ErrorResponse
			if errors.As(err, &resp) {
				return resp.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("CCTP circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if config.OnBreakerChange != nil {
				config.OnBreakerChange(to == gobreaker.StateOpen)
			}
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout, Transport: security.NewHTTPTransport()},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(MaxRequestsPerSecond), 1),
		logger:         logger,
	}
}

// GetMessages fetches the messages and attestations for a burn transaction.
// It makes exactly one request; the attestation poller owns retries.
func (c *Client) GetMessages(ctx context.Context, sourceDomain uint32, txHash string) (*MessagesResponse, error) {
	endpoint := fmt.Sprintf("/v2/messages/%d?transactionHash=%s", sourceDomain, url.QueryEscape(txHash))
	var resp MessagesResponse
	if err := c.doRequest(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("get messages failed: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, ErrNoMessages
	}
	return &resp, nil
}

// GetFees retrieves current fees for a transfer between domains
func (c *Client) GetFees(ctx context.Context, sourceDomain, destDomain uint32) ([]Fee, error) {
	endpoint := fmt.Sprintf("/v2/burn/USDC/fees/%d/%d", sourceDomain, destDomain)
	var resp []Fee
	if err := c.doRequestWithRetry(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("get fees failed: %w", err)
	}
	return resp, nil
}

// doRequestWithRetry retries server and transport errors with doubling backoff
func (c *Client) doRequestWithRetry(ctx context.Context, endpoint string, response interface{}) error {
	var err error
	for attempt := 0; attempt <= feeRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = c.doRequest(ctx, endpoint, response)
		if err == nil || !isRetryable(ctx, err) {
			return err
		}
		c.logger.Warn("Iris request failed, will retry",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var resp *ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode >= 500
	}
	return true
}

// doRequest makes a single rate-limited request through the circuit breaker
func (c *Client) doRequest(ctx context.Context, endpoint string, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doRequestInternal(ctx, endpoint, response)
	})
	return err
}

func (c *Client) doRequestInternal(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, &errResp) != nil || (errResp.Message == "" && errResp.Detail == "") {
			errResp.Message = strings.TrimSpace(string(body))
		}
		errResp.Message = security.MaskString(errResp.Message)
		errResp.Detail = security.MaskString(errResp.Detail)
		if resp.StatusCode >= 500 {
			c.logger.Warn("Iris request failed",
				zap.String("endpoint", endpoint),
				zap.Int("statusCode", resp.StatusCode))
		}
		return &errResp
	}

	if response != nil && len(body) > 0 {
		if err := json.Unmarshal(body, response); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
