package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockDisabledPassesThrough(t *testing.T) {
	state := NewMockState("sqs")
	called := false
	handler := Mock(state, "sqs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/?Action=SendMessage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to run when mocking disabled")
	}
}

func TestMockMatchingRuleShortCircuits(t *testing.T) {
	state := NewMockState("sqs")
	state.Set(MockConfig{
		Service: "sqs",
		Enabled: true,
		Rules: []MockRule{{
			Operation: "send-message",
			Response:  MockResponse{Status: 503, Body: map[string]string{"__type": "ServiceUnavailableException"}},
		}},
	})
	called := false
	handler := Mock(state, "sqs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/?Action=SendMessage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected mock rule to short-circuit the handler")
	}
	if rec.Code != 503 {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMockHeaderFilterMustMatch(t *testing.T) {
	state := NewMockState("sqs")
	state.Set(MockConfig{
		Service: "sqs",
		Enabled: true,
		Rules: []MockRule{{
			Operation:    "send-message",
			MatchHeaders: map[string]string{"X-Test": "only-this"},
			Response:     MockResponse{Status: 503},
		}},
	})
	called := false
	handler := Mock(state, "sqs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/?Action=SendMessage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to run when header filter does not match")
	}
}

func TestFindMatchingRuleFirstMatchWins(t *testing.T) {
	rules := []MockRule{
		{Operation: "get-item", Response: MockResponse{Status: 200}},
		{Operation: "get-item", Response: MockResponse{Status: 500}},
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rule := findMatchingRule("get-item", req, rules)
	if rule == nil || rule.Response.Status != 200 {
		t.Fatalf("expected first matching rule to win, got %+v", rule)
	}
}
