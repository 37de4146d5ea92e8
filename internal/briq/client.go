package briq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	sessionFieldsQuery = "moduleStatus,captures,refunds"
	maxErrorBodyBytes  = 4 * 1024
)

// Logger defines the logging contract for provider API operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// APIError describes a non-2xx response from the provider, preserving status and
// body for forensics before the caller decides how to degrade.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("briq: %s failed with status %d: %s", e.Operation, e.Status, e.Body)
}

// ErrSessionNotFound is returned when the provider no longer knows the session.
var ErrSessionNotFound = errors.New("briq: session not found")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures the provider API client.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	HTTP     httpDoer
	Logger   Logger
}

// Client calls the provider session API over HTTP Basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	http     httpDoer
	logger   Logger
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("briq: base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme != "https" {
		return nil, fmt.Errorf("briq: base url must be https, got %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, errors.New("briq: basic auth credentials are required")
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Client{
		baseURL:  base,
		username: strings.TrimSpace(cfg.Username),
		password: strings.TrimSpace(cfg.Password),
		http:     httpClient,
		logger:   logger,
	}, nil
}

// CreateSession creates a new provider session from the mapped cart.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	var session Session
	if err := c.call(ctx, http.MethodPost, "/session", nil, req, &session); err != nil {
		return Session{}, err
	}
	c.logger(ctx, "briq.session.created", map[string]any{
		"sessionId": session.SessionID,
		"amount":    session.Order.AmountIncVAT,
		"currency":  session.Order.Currency,
	})
	return session, nil
}

// UpdateSession patches an existing session with freshly mapped cart data.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, req SessionRequest) (Session, error) {
	id, err := escapeID(sessionID)
	if err != nil {
		return Session{}, err
	}
	var session Session
	if err := c.call(ctx, http.MethodPatch, "/session/"+id, nil, req, &session); err != nil {
		return Session{}, err
	}
	c.logger(ctx, "briq.session.updated", map[string]any{
		"sessionId": session.SessionID,
		"amount":    session.Order.AmountIncVAT,
	})
	return session, nil
}

// GetSession fetches a session, explicitly requesting the status, capture, and
// refund projections so local state can be cross-checked against provider truth.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	id, err := escapeID(sessionID)
	if err != nil {
		return Session{}, err
	}
	query := url.Values{"fields": []string{sessionFieldsQuery}}
	var session Session
	if err := c.call(ctx, http.MethodGet, "/session/"+id, query, nil, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// CaptureOrder collects the authorized funds for a session order.
func (c *Client) CaptureOrder(ctx context.Context, sessionID string, req OrderOperationRequest) (OrderOperationResponse, error) {
	return c.orderOperation(ctx, sessionID, "capture", req)
}

// RefundOrder returns captured funds for a session order.
func (c *Client) RefundOrder(ctx context.Context, sessionID string, req OrderOperationRequest) (OrderOperationResponse, error) {
	return c.orderOperation(ctx, sessionID, "refund", req)
}

// CancelOrder releases an uncaptured authorization.
func (c *Client) CancelOrder(ctx context.Context, sessionID string, req OrderOperationRequest) (OrderOperationResponse, error) {
	return c.orderOperation(ctx, sessionID, "cancel", req)
}

// MakeDecision forwards the merchant's allow/reject verdict to the provider.
func (c *Client) MakeDecision(ctx context.Context, sessionID string, req DecisionRequest) error {
	id, err := escapeID(sessionID)
	if err != nil {
		return err
	}
	if err := c.call(ctx, http.MethodPost, "/session/"+id+"/decision", nil, req, nil); err != nil {
		return err
	}
	c.logger(ctx, "briq.session.decision", map[string]any{
		"sessionId": sessionID,
		"decision":  req.Decision,
	})
	return nil
}

func (c *Client) orderOperation(ctx context.Context, sessionID, operation string, req OrderOperationRequest) (OrderOperationResponse, error) {
	id, err := escapeID(sessionID)
	if err != nil {
		return OrderOperationResponse{}, err
	}
	var resp OrderOperationResponse
	if err := c.call(ctx, http.MethodPost, "/session/"+id+"/order/"+operation, nil, req, &resp); err != nil {
		return OrderOperationResponse{}, err
	}
	c.logger(ctx, "briq.order."+operation, map[string]any{
		"sessionId": sessionID,
		"status":    resp.Status,
		"amount":    req.Amount,
	})
	return resp, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return errors.New("briq: client is nil")
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("briq: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("briq: build request %s %s: %w", method, path, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("briq: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := &APIError{
			Operation: method + " " + path,
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(string(raw)),
		}
		c.logger(ctx, "briq.api.error", map[string]any{
			"operation": apiErr.Operation,
			"status":    apiErr.Status,
			"body":      apiErr.Body,
		})
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, apiErr.Body)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("briq: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func escapeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", errors.New("briq: session id is required")
	}
	return url.PathEscape(trimmed), nil
}
