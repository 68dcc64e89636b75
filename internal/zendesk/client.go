package zendesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zxperience/deskbridge/internal/governor"
	"github.com/zxperience/deskbridge/internal/types"
)

// DefaultTimeout bounds each HTTP call.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from Zendesk.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zendesk API returned %d: %s", e.StatusCode, e.Body)
}

// Client provides HTTP access to one Zendesk tenant. Every call goes
// through the shared governor.
type Client struct {
	BaseURL    string
	Email      string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger

	gov *governor.Governor
}

// BaseURL returns the API root for the credentials: the explicit base URL
// when set, otherwise https://<subdomain>.zendesk.com.
func BaseURL(creds types.Credentials) string {
	if creds.BaseURL != "" {
		return strings.TrimSuffix(creds.BaseURL, "/")
	}
	return "https://" + creds.Subdomain + ".zendesk.com"
}

// NewClient creates a client. A nil governor gets a private default one.
func NewClient(baseURL, email, token string, gov *governor.Governor) *Client {
	if gov == nil {
		gov = governor.New("zendesk")
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Email:      email,
		Token:      token,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		gov:        gov,
	}
}

// SearchLinkedTickets returns every non-closed ticket with a value in the
// given custom field. A page that fails to load ends the listing; the
// tickets gathered so far are returned with the error.
func (c *Client) SearchLinkedTickets(ctx context.Context, fieldID string) ([]Ticket, error) {
	params := url.Values{
		"query": {fmt.Sprintf("type:ticket custom_field_%s:* status<closed", fieldID)},
	}
	return listPages[Ticket](ctx, c, "/api/v2/search.json?"+params.Encode(), "results")
}

// GetGroup fetches a single group.
func (c *Client) GetGroup(ctx context.Context, id int64) (*Group, error) {
	var resp struct {
		Group Group `json:"group"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v2/groups/%d.json", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}
	return &resp.Group, nil
}

// ListComments returns all comments of a ticket, oldest first. Like
// SearchLinkedTickets it returns a partial list alongside a page error.
func (c *Client) ListComments(ctx context.Context, ticketID int64) ([]Comment, error) {
	return listPages[Comment](ctx, c, fmt.Sprintf("/api/v2/tickets/%d/comments.json", ticketID), "comments")
}

// UpdateCustomFields writes a batch of custom field values in one request
// and returns, for each requested field, the value the ticket holds after
// the update (nil when the response omits the field).
func (c *Client) UpdateCustomFields(ctx context.Context, ticketID int64, fields []CustomField) ([]CustomField, error) {
	payload := map[string]any{
		"ticket": map[string]any{"custom_fields": fields},
	}
	var resp struct {
		Ticket Ticket `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v2/tickets/%d.json", ticketID), payload, &resp); err != nil {
		return nil, fmt.Errorf("update ticket %d custom fields: %w", ticketID, err)
	}

	result := make([]CustomField, 0, len(fields))
	for _, f := range fields {
		v, _ := resp.Ticket.CustomField(strconv.FormatInt(f.ID, 10))
		result = append(result, CustomField{ID: f.ID, Value: v})
	}
	return result, nil
}

// AddPrivateComment appends an internal note with the given HTML body and
// returns the ticket id echoed by Zendesk.
func (c *Client) AddPrivateComment(ctx context.Context, ticketID int64, html string) (int64, error) {
	payload := map[string]any{
		"ticket": map[string]any{
			"comment": map[string]any{
				"html_body": html,
				"public":    false,
			},
		},
	}
	var resp struct {
		Ticket struct {
			ID int64 `json:"id"`
		} `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v2/tickets/%d.json", ticketID), payload, &resp); err != nil {
		return 0, fmt.Errorf("add comment to ticket %d: %w", ticketID, err)
	}
	return resp.Ticket.ID, nil
}

// listPages follows next_page links. Only the path and query of each link
// are used; the host is always the configured base URL.
func listPages[T any](ctx context.Context, c *Client, path, key string) ([]T, error) {
	var all []T
	for page := 1; path != ""; page++ {
		var resp map[string]json.RawMessage
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			c.Logger.Warn("zendesk page fetch failed", "path", path, "page", page, "collected", len(all), "error", err)
			return all, fmt.Errorf("list %s page %d: %w", key, page, err)
		}

		var items []T
		if raw, ok := resp[key]; ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &items); err != nil {
				return all, fmt.Errorf("parse %s page %d: %w", key, page, err)
			}
		}
		all = append(all, items...)
		c.Logger.Debug("zendesk page fetched", "key", key, "page", page, "items", len(items))

		var next string
		if raw, ok := resp["next_page"]; ok {
			_ = json.Unmarshal(raw, &next)
		}
		path = ""
		if next != "" {
			u, err := url.Parse(next)
			if err != nil {
				return all, fmt.Errorf("parse next_page %q: %w", next, err)
			}
			path = u.RequestURI()
		}
	}
	return all, nil
}

// do runs one request through the governor and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.gov.Execute(ctx, func(ctx context.Context) error {
		body, err := c.doRequest(ctx, method, c.BaseURL+path, data)
		if err != nil {
			return err
		}
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	})
}

// doRequest executes an authenticated HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("zendesk URL not configured")
	}
	if c.Token == "" {
		return nil, fmt.Errorf("zendesk API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.SetBasicAuth(c.Email+"/token", c.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "deskbridge/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if te := governor.ThrottledFromResponse(resp, apiErr); te != nil {
			return nil, te
		}
		return nil, apiErr
	}

	return respBody, nil
}
