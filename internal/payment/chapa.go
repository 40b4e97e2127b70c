// Package payment talks to the Chapa hosted-checkout API.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.chapa.co/v1"
	DefaultTimeout = 15 * time.Second

	maxResponseBody = 1 << 20
)

// Gateway is what the order services need from a payment provider.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (string, error)
	Verify(ctx context.Context, txRef string) (*domain.Verification, error)
}

type Config struct {
	BaseURL     string
	SecretKey   string
	Timeout     time.Duration
	CallbackURL string
	Title       string
	Description string
}

type InitializeRequest struct {
	TxRef     string
	Amount    decimal.Decimal
	Currency  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	ReturnURL string
}

type Client struct {
	baseURL     string
	secretKey   string
	timeout     time.Duration
	callbackURL string
	title       string
	description string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[*response]
}

type response struct {
	status int
	body   []byte
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "chapa",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		timeout:     cfg.Timeout,
		callbackURL: cfg.CallbackURL,
		title:       cfg.Title,
		description: cfg.Description,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
	}
}

// NewTxRef returns a fresh provider reference of the form alora-<unix ms>-<8 hex>.
func NewTxRef() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("alora-%d-%s", time.Now().UnixMilli(), id[:8])
}

type customization struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type initializeBody struct {
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Email         string        `json:"email,omitempty"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	PhoneNumber   string        `json:"phone_number,omitempty"`
	TxRef         string        `json:"tx_ref"`
	ReturnURL     string        `json:"return_url,omitempty"`
	CallbackURL   string        `json:"callback_url,omitempty"`
	Customization customization `json:"customization"`
}

type initializeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// Initialize opens a hosted checkout for req and returns its URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	body, err := json.Marshal(initializeBody{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.Phone,
		TxRef:       req.TxRef,
		ReturnURL:   req.ReturnURL,
		CallbackURL: c.callbackURL,
		Customization: customization{
			Title:       c.title,
			Description: c.description,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal initialize request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return "", err
	}
	if resp.status < 200 || resp.status > 299 {
		return "", unavailable("initialize returned status %d", resp.status)
	}

	var out initializeResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", unavailable("decode initialize response: %v", err)
	}
	if out.Status != "success" || out.Data == nil || out.Data.CheckoutURL == "" {
		return "", unavailable("initialize rejected: %s", out.Message)
	}
	return out.Data.CheckoutURL, nil
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		TxRef    string          `json:"tx_ref"`
	} `json:"data"`
}

// Verify asks the provider for the authoritative state of txRef.
// A reference the provider does not know is reported as failed.
func (c *Client) Verify(ctx context.Context, txRef string) (*domain.Verification, error) {
	resp, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+txRef, nil)
	if err != nil {
		return nil, err
	}
	if resp.status >= 400 && resp.status <= 499 {
		if verifiedUnknown(resp) {
			return &domain.Verification{TxRef: txRef, Status: domain.ProviderStatusFailed}, nil
		}
		return nil, unavailable("verify returned status %d", resp.status)
	}
	if resp.status < 200 || resp.status > 299 {
		return nil, unavailable("verify returned status %d", resp.status)
	}

	var out verifyResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, unavailable("decode verify response: %v", err)
	}
	if out.Data == nil {
		return nil, unavailable("verify response carried no data: %s", out.Message)
	}
	// never settle an order on a verdict about some other transaction
	if out.Data.TxRef != txRef {
		return nil, unavailable("verify answered for tx_ref %q, asked %q", out.Data.TxRef, txRef)
	}

	status := domain.ParseProviderStatus(out.Data.Status)
	if status == domain.ProviderStatusUnknown {
		status = domain.ProviderStatusPending
	}
	return &domain.Verification{
		TxRef:    txRef,
		Status:   status,
		Amount:   out.Data.Amount,
		Currency: out.Data.Currency,
	}, nil
}

// verifiedUnknown reports whether a 4xx verify answer is the provider rejecting the reference itself.
// Credential and rate-limit rejections say nothing about the transaction.
func verifiedUnknown(resp *response) bool {
	switch resp.status {
	case http.StatusNotFound:
		return true
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	var out verifyResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return false
	}
	return out.Status == "failed"
}

// do runs one request through the breaker. Transport errors and 5xx responses count as failures;
// any other status is handed back to the caller.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.breaker.Execute(func() (*response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
		if err != nil {
			return nil, err
		}
		if httpResp.StatusCode >= 500 {
			return nil, fmt.Errorf("provider status %d", httpResp.StatusCode)
		}
		return &response{status: httpResp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, unavailable("circuit %s", c.breaker.State())
		}
		return nil, unavailable("%s %s: %v", method, path, err)
	}
	return resp, nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, fmt.Sprintf(format, args...))
}

// SplitName turns a single customer name into the first/last pair the provider expects.
func SplitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "Customer", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
