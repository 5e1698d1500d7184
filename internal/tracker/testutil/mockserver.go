// Package testutil provides an HTTP mock server for remote client tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
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

// DecodeBody unmarshals the recorded JSON body into v.
func (r RecordedRequest) DecodeBody(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// MockResponse represents a configured response for the mock server.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	Headers    map[string]string
}

// MockServer records requests and serves canned responses keyed by
// "METHOD /path". It can also simulate auth failures, rate limiting and
// server errors for every route.
type MockServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests  []RecordedRequest
	responses map[string]MockResponse
	handlers  map[string]http.HandlerFunc

	authError   bool
	serverError bool

	// rateLimited is the number of upcoming requests answered with 429.
	rateLimited int
	retryAfter  int
}

// NewMockServer starts a mock server. Callers must Close it.
func NewMockServer() *MockServer {
	m := &MockServer{
		responses: make(map[string]MockResponse),
		handlers:  make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

func routeKey(method, path string) string {
	return method + " " + path
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	authError, serverError := m.authError, m.serverError
	limited := m.rateLimited > 0
	if limited {
		m.rateLimited--
	}
	retryAfter := m.retryAfter
	key := routeKey(r.Method, r.URL.Path)
	resp, found := m.responses[key]
	handler := m.handlers[key]
	m.mu.Unlock()

	switch {
	case authError:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	case limited:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "rate limited"})
		return
	case serverError:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}
	if found {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if resp.Body == nil {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, resp.Body)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.Server.Close()
}

// SetResponse configures the response for method and path.
func (m *MockServer) SetResponse(method, path string, statusCode int, body interface{}) {
	m.SetResponseWithHeaders(method, path, statusCode, body, nil)
}

// SetResponseWithHeaders configures a response with custom headers.
func (m *MockServer) SetResponseWithHeaders(method, path string, statusCode int, body interface{}, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[routeKey(method, path)] = MockResponse{StatusCode: statusCode, Body: body, Headers: headers}
}

// Handle installs a handler for method and path. Handlers take priority
// over canned responses.
func (m *MockServer) Handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[routeKey(method, path)] = h
}

// SetAuthError makes every request fail with 401.
func (m *MockServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// SetRateLimited answers the next n requests with 429 and the given
// Retry-After seconds.
func (m *MockServer) SetRateLimited(n, retryAfterSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = n
	m.retryAfter = retryAfterSeconds
}

// SetServerError makes every request fail with 500.
func (m *MockServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// Requests returns all recorded requests.
func (m *MockServer) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsFor returns the recorded requests for method and path.
func (m *MockServer) RequestsFor(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of recorded requests.
func (m *MockServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Reset clears recorded requests, responses and error simulation.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responses = make(map[string]MockResponse)
	m.handlers = make(map[string]http.HandlerFunc)
	m.authError = false
	m.serverError = false
	m.rateLimited = 0
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
