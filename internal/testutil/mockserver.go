// Package testutil provides an HTTP mock server shared by the Zendesk and
// Jira client tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// MockResponse represents a configured response for the mock server.
type MockResponse struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

// MockServer records requests and replies with configured responses.
// Responses are looked up by "METHOD path?query", then "METHOD path", then
// "path"; unmatched requests get a 404.
type MockServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests  []RecordedRequest
	responses map[string]MockResponse
	handler   func(w http.ResponseWriter, r *http.Request)

	rateLimited int
	retryAfter  string
}

// NewMockServer starts a mock server. Close it when done.
func NewMockServer() *MockServer {
	m := &MockServer{responses: make(map[string]MockResponse)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	throttle := m.rateLimited > 0
	if throttle {
		m.rateLimited--
	}
	retryAfter := m.retryAfter
	m.mu.Unlock()

	if throttle {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limited"})
		return
	}

	m.mu.RLock()
	resp, found := m.lookup(r)
	handler := m.handler
	m.mu.RUnlock()

	if found {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, resp.Body)
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

func (m *MockServer) lookup(r *http.Request) (MockResponse, bool) {
	keys := []string{r.Method + " " + r.URL.RequestURI(), r.Method + " " + r.URL.Path, r.URL.Path}
	for _, k := range keys {
		if resp, ok := m.responses[k]; ok {
			return resp, true
		}
	}
	return MockResponse{}, false
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.Server.Close()
}

// SetResponse configures the reply for a route key (see MockServer).
func (m *MockServer) SetResponse(key string, statusCode int, body any) {
	m.SetResponseWithHeaders(key, statusCode, body, nil)
}

// SetResponseWithHeaders configures a reply with custom headers.
func (m *MockServer) SetResponseWithHeaders(key string, statusCode int, body any, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = MockResponse{StatusCode: statusCode, Body: body, Headers: headers}
}

// SetHandler sets a custom handler for unmatched requests.
func (m *MockServer) SetHandler(handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// SetRateLimit makes the next n requests fail with 429 and the given
// Retry-After header (omitted when empty).
func (m *MockServer) SetRateLimit(n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = n
	m.retryAfter = retryAfter
}

// Requests returns all recorded requests.
func (m *MockServer) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// RequestCount returns the number of recorded requests.
func (m *MockServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// DecodeBody unmarshals a recorded request body.
func (r RecordedRequest) DecodeBody(v any) error {
	return json.Unmarshal(r.Body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
