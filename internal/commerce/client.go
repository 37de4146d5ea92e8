package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/briq-connect/api/internal/domain"
)

const (
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 4 * 1024
)

// Logger defines the logging contract for platform API operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// APIError describes a non-2xx platform response.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("commerce: %s failed with status %d: %s", e.Operation, e.Status, e.Body)
}

// ClientConfig configures the platform API client. Credentials are exchanged
// for a bearer token via the OAuth client-credentials grant; token refresh is
// handled transparently.
type ClientConfig struct {
	ProjectKey   string
	APIBaseURL   string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// HTTP overrides the transport used for both token and API calls.
	HTTP   *http.Client
	Logger Logger
}

// Client implements the connector's platform interfaces over the project REST
// API. One Client serves all resource families; it is safe for concurrent use.
type Client struct {
	baseURL    string
	projectKey string
	http       *http.Client
	logger     Logger
}

var (
	_ CartClient     = (*Client)(nil)
	_ PaymentClient  = (*Client)(nil)
	_ TypeClient     = (*Client)(nil)
	_ DiscountClient = (*Client)(nil)
	_ TaxClient      = (*Client)(nil)
)

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		return nil, errors.New("commerce: api base url is required")
	}
	auth := strings.TrimRight(strings.TrimSpace(cfg.AuthURL), "/")
	if auth == "" {
		return nil, errors.New("commerce: auth url is required")
	}
	if strings.TrimSpace(cfg.ProjectKey) == "" {
		return nil, errors.New("commerce: project key is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("commerce: client credentials are required")
	}

	creds := clientcredentials.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		TokenURL:     auth + "/oauth/token",
		Scopes:       cfg.Scopes,
	}

	tokenCtx := context.Background()
	if cfg.HTTP != nil {
		tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, cfg.HTTP)
	}
	httpClient := creds.Client(tokenCtx)
	httpClient.Timeout = defaultTimeout

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Client{
		baseURL:    base,
		projectKey: strings.TrimSpace(cfg.ProjectKey),
		http:       httpClient,
		logger:     logger,
	}, nil
}

// GetCart fetches a cart by id.
func (c *Client) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return domain.Cart{}, fmt.Errorf("%w: empty id", ErrCartNotFound)
	}
	var wire wireCart
	err := c.call(ctx, http.MethodGet, "/carts/"+url.PathEscape(trimmed), nil, nil, &wire)
	if err != nil {
		return domain.Cart{}, mapNotFound(err, ErrCartNotFound, trimmed)
	}
	return wire.toDomain(), nil
}

// SetCustomField writes one custom field on the cart. A non-empty typeID means
// the cart has no custom type yet, so the field is written through a
// set-custom-type action instead.
func (c *Client) SetCustomField(ctx context.Context, cartID string, version int64, typeID, name string, value any) (domain.Cart, error) {
	var action map[string]any
	if typeID != "" {
		action = map[string]any{
			"action": "setCustomType",
			"type":   map[string]any{"typeId": "type", "id": typeID},
			"fields": map[string]any{name: value},
		}
	} else {
		action = map[string]any{
			"action": "setCustomField",
			"name":   name,
			"value":  value,
		}
	}

	body := map[string]any{"version": version, "actions": []map[string]any{action}}
	var wire wireCart
	err := c.call(ctx, http.MethodPost, "/carts/"+url.PathEscape(cartID), nil, body, &wire)
	if err != nil {
		return domain.Cart{}, mapNotFound(err, ErrCartNotFound, cartID)
	}
	return wire.toDomain(), nil
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	var wire wirePayment
	err := c.call(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, nil, &wire)
	if err != nil {
		return domain.Payment{}, mapNotFound(err, ErrPaymentNotFound, id)
	}
	return wire.toDomain(), nil
}

// GetPaymentByInterfaceID queries payments by their provider-side session id.
func (c *Client) GetPaymentByInterfaceID(ctx context.Context, interfaceID string) (domain.Payment, error) {
	query := url.Values{
		"where": []string{fmt.Sprintf("interfaceId=%q", interfaceID)},
		"limit": []string{"1"},
	}
	var page struct {
		Results []wirePayment `json:"results"`
	}
	if err := c.call(ctx, http.MethodGet, "/payments", query, nil, &page); err != nil {
		return domain.Payment{}, err
	}
	if len(page.Results) == 0 {
		return domain.Payment{}, fmt.Errorf("%w: interface id %s", ErrPaymentNotFound, interfaceID)
	}
	return page.Results[0].toDomain(), nil
}

// CreatePayment creates a payment from the draft.
func (c *Client) CreatePayment(ctx context.Context, draft domain.PaymentDraft) (domain.Payment, error) {
	body := map[string]any{
		"amountPlanned":     moneyToWire(draft.AmountPlanned),
		"interfaceId":       draft.InterfaceID,
		"paymentMethodInfo": map[string]any{"method": draft.PaymentMethod},
	}
	if len(draft.Transactions) > 0 {
		txs := make([]map[string]any, 0, len(draft.Transactions))
		for _, tx := range draft.Transactions {
			txs = append(txs, transactionDraftToWire(tx))
		}
		body["transactions"] = txs
	}

	var wire wirePayment
	if err := c.call(ctx, http.MethodPost, "/payments", nil, body, &wire); err != nil {
		return domain.Payment{}, err
	}
	c.logger(ctx, "commerce.payment.created", map[string]any{
		"payment_id":   wire.ID,
		"interface_id": draft.InterfaceID,
	})
	return wire.toDomain(), nil
}

// AddTransaction appends a transaction to the payment.
func (c *Client) AddTransaction(ctx context.Context, paymentID string, version int64, draft domain.TransactionDraft) (domain.Payment, error) {
	return c.updatePayment(ctx, paymentID, version, map[string]any{
		"action":      "addTransaction",
		"transaction": transactionDraftToWire(draft),
	})
}

// ChangeTransactionState transitions an existing transaction.
func (c *Client) ChangeTransactionState(ctx context.Context, paymentID string, version int64, transactionID string, state domain.TransactionState) (domain.Payment, error) {
	return c.updatePayment(ctx, paymentID, version, map[string]any{
		"action":        "changeTransactionState",
		"transactionId": transactionID,
		"state":         string(state),
	})
}

// SetInterfaceText updates the human-readable status text on the payment.
func (c *Client) SetInterfaceText(ctx context.Context, paymentID string, version int64, text string) (domain.Payment, error) {
	return c.updatePayment(ctx, paymentID, version, map[string]any{
		"action":        "setStatusInterfaceText",
		"interfaceText": text,
	})
}

// GetTypeByKey resolves a custom type definition by its key.
func (c *Client) GetTypeByKey(ctx context.Context, key string) (domain.TypeReference, error) {
	var wire struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	err := c.call(ctx, http.MethodGet, "/types/key="+url.PathEscape(key), nil, nil, &wire)
	if err != nil {
		return domain.TypeReference{}, mapNotFound(err, ErrTypeNotFound, key)
	}
	return domain.TypeReference{ID: wire.ID, Key: wire.Key}, nil
}

// DiscountNames resolves display names for cart discounts in one query.
func (c *Client) DiscountNames(ctx context.Context, ids []string, locale string) (map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, fmt.Sprintf("%q", id))
	}
	query := url.Values{
		"where": []string{"id in (" + strings.Join(quoted, ", ") + ")"},
		"limit": []string{fmt.Sprintf("%d", len(ids))},
	}
	var page struct {
		Results []struct {
			ID   string            `json:"id"`
			Name map[string]string `json:"name"`
		} `json:"results"`
	}
	if err := c.call(ctx, http.MethodGet, "/cart-discounts", query, nil, &page); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(page.Results))
	for _, d := range page.Results {
		if name := resolveLocalized(d.Name, locale); name != "" {
			names[d.ID] = name
		}
	}
	return names, nil
}

// TaxCategoryRates returns the rates declared on a tax category.
func (c *Client) TaxCategoryRates(ctx context.Context, taxCategoryID string) ([]domain.TaxRate, error) {
	var wire struct {
		Rates []wireTaxRate `json:"rates"`
	}
	err := c.call(ctx, http.MethodGet, "/tax-categories/"+url.PathEscape(taxCategoryID), nil, nil, &wire)
	if err != nil {
		return nil, err
	}
	rates := make([]domain.TaxRate, 0, len(wire.Rates))
	for _, r := range wire.Rates {
		rates = append(rates, r.toDomain())
	}
	return rates, nil
}

func (c *Client) updatePayment(ctx context.Context, paymentID string, version int64, action map[string]any) (domain.Payment, error) {
	body := map[string]any{"version": version, "actions": []map[string]any{action}}
	var wire wirePayment
	err := c.call(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID), nil, body, &wire)
	if err != nil {
		return domain.Payment{}, mapNotFound(err, ErrPaymentNotFound, paymentID)
	}
	return wire.toDomain(), nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + "/" + c.projectKey + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("commerce: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("commerce: build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := &APIError{
			Operation: method + " " + path,
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(string(raw)),
		}
		c.logger(ctx, "commerce.api.error", map[string]any{
			"operation": apiErr.Operation,
			"status":    apiErr.Status,
		})
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, apiErr.Operation)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("commerce: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// mapNotFound rewrites a 404 APIError into the resource-specific sentinel.
func mapNotFound(err error, sentinel error, id string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}

// resolveLocalized picks a value from a locale-keyed map: exact locale, the
// locale's base language, English, then the first remaining key.
func resolveLocalized(values map[string]string, locale string) string {
	if len(values) == 0 {
		return ""
	}
	if v := values[locale]; v != "" {
		return v
	}
	if base, _, ok := strings.Cut(locale, "-"); ok {
		if v := values[base]; v != "" {
			return v
		}
	}
	if v := values["en"]; v != "" {
		return v
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if values[k] != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return values[keys[0]]
}
