package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zxperience/deskbridge/internal/governor"
	"github.com/zxperience/deskbridge/internal/types"
)

// API constants
const (
	DefaultTimeout = 30 * time.Second
	MaxPageSize    = 100
)

// APIError is a non-2xx response from Jira.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API returned %d: %s", e.StatusCode, e.Body)
}

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	HTTPClient *http.Client
	Logger     *slog.Logger

	gov *governor.Governor
}

// BaseURL returns the API root for the credentials: the explicit base URL
// when set, otherwise https://<subdomain>.atlassian.net.
func BaseURL(creds types.Credentials) string {
	if creds.BaseURL != "" {
		return strings.TrimSuffix(creds.BaseURL, "/")
	}
	return "https://" + creds.Subdomain + ".atlassian.net"
}

// NewClient creates a new Jira client. A nil governor gets a private default one.
func NewClient(url, username, apiToken string, gov *governor.Governor) *Client {
	if gov == nil {
		gov = governor.New("jira")
	}
	return &Client{
		URL:        strings.TrimSuffix(url, "/"),
		Username:   username,
		APIToken:   apiToken,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		gov:        gov,
	}
}

// GetIssue fetches a single Jira issue by key (e.g., "PROJ-123") with all fields.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.URL, url.PathEscape(key))

	var issue Issue
	if err := c.do(ctx, http.MethodGet, apiURL, nil, &issue); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	return &issue, nil
}

// ListComments returns every comment on an issue. The startAt cursor is
// advanced by the page size until it reaches the reported total or a page
// comes back empty. A failed page ends the listing and the comments
// gathered so far are returned with the error.
func (c *Client) ListComments(ctx context.Context, key string) ([]Comment, error) {
	var all []Comment
	startAt := 0

	for {
		params := url.Values{
			"startAt":    {fmt.Sprintf("%d", startAt)},
			"maxResults": {fmt.Sprintf("%d", MaxPageSize)},
		}
		apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/comment?%s", c.URL, url.PathEscape(key), params.Encode())

		var page commentPage
		if err := c.do(ctx, http.MethodGet, apiURL, nil, &page); err != nil {
			c.Logger.Warn("jira comment page fetch failed", "issue", key, "startAt", startAt, "collected", len(all), "error", err)
			return all, fmt.Errorf("list comments of %s: %w", key, err)
		}

		all = append(all, page.Comments...)
		if len(page.Comments) == 0 || startAt+len(page.Comments) >= page.Total {
			break
		}
		startAt += len(page.Comments)
	}

	return all, nil
}

// UpdateField sets one field on an issue. With a non-empty valueProperty
// the value is nested as {valueProperty: value}; array values have each
// element nested that way (e.g. fixVersions as [{"name": "1.2"}]).
func (c *Client) UpdateField(ctx context.Context, key, fieldID string, value any, valueProperty string) error {
	payload := map[string]any{
		"fields": map[string]any{fieldID: NestValue(value, valueProperty)},
	}
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.URL, url.PathEscape(key))

	if err := c.do(ctx, http.MethodPut, apiURL, payload, nil); err != nil {
		return fmt.Errorf("update issue %s field %s: %w", key, fieldID, err)
	}
	return nil
}

// NestValue wraps value under property for a Jira write. Nil values and an
// empty property pass through unchanged.
func NestValue(value any, property string) any {
	if property == "" || value == nil {
		return value
	}
	if items, ok := value.([]any); ok {
		nested := make([]any, 0, len(items))
		for _, item := range items {
			nested = append(nested, map[string]any{property: item})
		}
		return nested
	}
	return map[string]any{property: value}
}

// do runs one request through the governor and decodes the response into out.
func (c *Client) do(ctx context.Context, method, apiURL string, payload, out any) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.gov.Execute(ctx, func(ctx context.Context) error {
		body, err := c.doRequest(ctx, method, apiURL, data)
		if err != nil {
			return err
		}
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse Jira response: %w", err)
		}
		return nil
	})
}

// doRequest executes an authenticated HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
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

	// PUT returns 204 No Content on success
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
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

// setAuth uses Basic auth (email:token) when a username is configured and
// falls back to a bearer token for personal access tokens.
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
}
