// Package provider implements the engagement order provider client. The
// provider exposes a conventional SMM panel API: a single form-encoded
// endpoint where "action" selects the operation and responses carry either
// an order identifier or an error message. Orders are fire-and-forget; the
// monitor records success or failure per batch and nothing else.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/soundlift/promo-monitor/internal/config"
	"github.com/soundlift/promo-monitor/internal/pkg/httpretry"
)

// CommentSeparator joins comment lines in an order payload. The panel
// requires CRLF between lines.
const CommentSeparator = "\r\n"

// Client is an order provider API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates an order provider client from configuration.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// apiResponse is the provider's uniform envelope: exactly one of order or
// error is populated. Order identifiers arrive as numbers or strings
// depending on the panel version.
type apiResponse struct {
	Order json.Number `json:"order"`
	Error string      `json:"error"`
}

// OrderLikes submits one like order of the given quantity and returns the
// provider's order identifier.
func (c *Client) OrderLikes(ctx context.Context, serviceID int, link string, quantity int) (int64, error) {
	if quantity < 1 {
		return 0, fmt.Errorf("quantity must be at least 1, got %d", quantity)
	}
	form := url.Values{}
	form.Set("action", "add")
	form.Set("service", strconv.Itoa(serviceID))
	form.Set("link", link)
	form.Set("quantity", strconv.Itoa(quantity))
	return c.submit(ctx, form)
}

// OrderComments submits one comment order. The texts are joined with CRLF;
// the panel derives the quantity from the line count.
func (c *Client) OrderComments(ctx context.Context, serviceID int, link string, comments []string) (int64, error) {
	if len(comments) == 0 {
		return 0, fmt.Errorf("comment order requires at least one comment")
	}
	form := url.Values{}
	form.Set("action", "add")
	form.Set("service", strconv.Itoa(serviceID))
	form.Set("link", link)
	form.Set("comments", strings.Join(comments, CommentSeparator))
	return c.submit(ctx, form)
}

func (c *Client) submit(ctx context.Context, form url.Values) (int64, error) {
	body, err := c.doRequest(ctx, form)
	if err != nil {
		return 0, err
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parsing order response: %w", err)
	}
	if parsed.Error != "" {
		return 0, fmt.Errorf("provider rejected order: %s", parsed.Error)
	}
	id, err := parsed.Order.Int64()
	if err != nil {
		return 0, fmt.Errorf("parsing order id %q: %w", parsed.Order.String(), err)
	}
	return id, nil
}

// Balance is the provider account's remaining spend.
type Balance struct {
	Balance  float64 `json:"balance,string"`
	Currency string  `json:"currency"`
}

// Balance queries the account balance so operators can check headroom
// before launching campaigns.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	form := url.Values{}
	form.Set("action", "balance")

	body, err := c.doRequest(ctx, form)
	if err != nil {
		return nil, err
	}

	var errCheck apiResponse
	if json.Unmarshal(body, &errCheck) == nil && errCheck.Error != "" {
		return nil, fmt.Errorf("provider error: %s", errCheck.Error)
	}

	var bal Balance
	if err := json.Unmarshal(body, &bal); err != nil {
		return nil, fmt.Errorf("parsing balance response: %w", err)
	}
	return &bal, nil
}

// OrderStatus is the provider's view of a submitted order. The runner never
// polls this (orders are fire-and-forget); it exists for the operator
// surface.
type OrderStatus struct {
	Status     string      `json:"status"`
	Charge     string      `json:"charge"`
	StartCount json.Number `json:"start_count"`
	Remains    json.Number `json:"remains"`
}

// OrderStatus queries one order by identifier.
func (c *Client) OrderStatus(ctx context.Context, orderID int64) (*OrderStatus, error) {
	form := url.Values{}
	form.Set("action", "status")
	form.Set("order", strconv.FormatInt(orderID, 10))

	body, err := c.doRequest(ctx, form)
	if err != nil {
		return nil, err
	}

	var errCheck apiResponse
	if json.Unmarshal(body, &errCheck) == nil && errCheck.Error != "" {
		return nil, fmt.Errorf("provider error: %s", errCheck.Error)
	}

	var st OrderStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("parsing status response: %w", err)
	}
	return &st, nil
}

func (c *Client) doRequest(ctx context.Context, form url.Values) ([]byte, error) {
	form.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
