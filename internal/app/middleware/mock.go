package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// MockResponse is the canned response returned when a mock rule
// matches, grounded on aws_operation_mock.py's AwsMockResponse.
type MockResponse struct {
	Status      int
	Headers     map[string]string
	Body        interface{}
	ContentType string
	DelayMs     int
}

// MockRule is one mock rule: an operation name, optional header
// filters, and the response to return on a match.
type MockRule struct {
	Operation    string
	MatchHeaders map[string]string
	Response     MockResponse
}

// MockConfig is one service's mock-rule table.
type MockConfig struct {
	Service string
	Enabled bool
	Rules   []MockRule
}

// MockState holds a service's live mock configuration behind an atomic
// pointer, mirroring ChaosState.
type MockState struct {
	value atomic.Value // MockConfig
}

// NewMockState constructs mock state starting disabled with no rules.
func NewMockState(service string) *MockState {
	s := &MockState{}
	s.value.Store(MockConfig{Service: service})
	return s
}

// Get returns the current configuration.
func (s *MockState) Get() MockConfig {
	return s.value.Load().(MockConfig)
}

// Set replaces the current configuration.
func (s *MockState) Set(cfg MockConfig) {
	s.value.Store(cfg)
}

func findMatchingRule(operation string, r *http.Request, rules []MockRule) *MockRule {
	for i := range rules {
		rule := &rules[i]
		if rule.Operation != operation {
			continue
		}
		if headersMatch(r, rule.MatchHeaders) {
			return rule
		}
	}
	return nil
}

func headersMatch(r *http.Request, match map[string]string) bool {
	for key, expected := range match {
		if r.Header.Get(key) != expected {
			return false
		}
	}
	return true
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.DelayMs > 0 {
		time.Sleep(time.Duration(resp.DelayMs) * time.Millisecond)
	}

	var body []byte
	switch v := resp.Body.(type) {
	case nil:
		body = nil
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		encoded, err := json.Marshal(v)
		if err == nil {
			body = encoded
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Mock returns a middleware enforcing the operation-mocking chain step
// (spec.md 4.8 step 2): the first rule whose operation and header
// filters match short-circuits the chain with its canned response.
func Mock(state *MockState, service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := state.Get()
			if !cfg.Enabled || IsInternalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))

			operation := ExtractOperation(r, service, body)
			if operation == "" {
				next.ServeHTTP(w, r)
				return
			}

			if rule := findMatchingRule(operation, r, cfg.Rules); rule != nil {
				writeMockResponse(w, rule.Response)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
