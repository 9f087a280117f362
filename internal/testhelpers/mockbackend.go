// Package testhelpers provides a configurable mock backend server and an
// in-memory persistent store for client tests.
package testhelpers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Response scripts a single reply from the mock backend. A zero Status
// means 200. Data is wrapped in the standard response envelope unless an
// error Code is set, in which case an error envelope is written.
type Response struct {
	Status  int
	Data    any
	Code    string
	Message string
}

// RecordedRequest captures one request received by the mock backend.
type RecordedRequest struct {
	Method     string
	Path       string
	AuthHeader string
	Body       []byte
}

type script struct {
	responses []Response
	next      int
}

// MockBackend is a scriptable finly API server. Routes are keyed by
// method and path; each route serves its scripted responses in order,
// repeating the last one. Unrouted requests get a 404 error envelope.
type MockBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	routes   map[string]*script
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// SetupMockBackend creates a mock backend server. The server is closed
// automatically when the test finishes.
func SetupMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mock := &MockBackend{
		routes:   make(map[string]*script),
		handlers: make(map[string]http.HandlerFunc),
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.serve))
	t.Cleanup(mock.Server.Close)
	return mock
}

// URL returns the mock server's base URL.
func (m *MockBackend) URL() string {
	return m.Server.URL
}

// Handle scripts responses for a method and path. Each call replaces any
// previous script for the route.
func (m *MockBackend) Handle(method, path string, responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = &script{responses: responses}
}

// HandleFunc routes a method and path to a raw handler, for behaviour the
// Response scripting cannot express (e.g. replies conditional on the
// Authorization header). Requests are still recorded.
func (m *MockBackend) HandleFunc(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = handler
}

// RequestCount reports how many requests matched the method and path.
func (m *MockBackend) RequestCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent request for the method and path.
func (m *MockBackend) LastRequest(method, path string) (RecordedRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].Method == method && m.requests[i].Path == path {
			return m.requests[i], true
		}
	}
	return RecordedRequest{}, false
}

func (m *MockBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		AuthHeader: r.Header.Get("Authorization"),
		Body:       body,
	})

	if handler, ok := m.handlers[r.Method+" "+r.URL.Path]; ok {
		m.mu.Unlock()
		handler(w, r)
		return
	}

	sc, ok := m.routes[r.Method+" "+r.URL.Path]
	if !ok || len(sc.responses) == 0 {
		m.mu.Unlock()
		WriteEnvelopeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
		return
	}

	resp := sc.responses[sc.next]
	if sc.next < len(sc.responses)-1 {
		sc.next++
	}
	m.mu.Unlock()

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if resp.Code != "" || status >= 400 {
		WriteEnvelopeError(w, status, resp.Code, resp.Message)
		return
	}
	WriteEnvelope(w, status, resp.Data)
}

// WriteEnvelope writes a success envelope with the given data payload.
func WriteEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

// WriteEnvelopeError writes an error envelope.
func WriteEnvelopeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":       code,
			"message":    message,
			"statusCode": status,
		},
	})
}
