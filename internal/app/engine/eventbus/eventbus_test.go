package eventbus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func newFakeInvoker(expect int) *fakeInvoker {
	return &fakeInvoker{done: make(chan struct{}, expect)}
}

func (f *fakeInvoker) InvokeAsync(functionName string, event interface{}) {
	f.mu.Lock()
	f.calls = append(f.calls, functionName)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeInvoker) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-time.After(time.Second):
			t.Fatalf("expected %d dispatches, only saw %d", n, i)
		}
	}
}

func TestPutEventsMatchesPatternAndDispatchesTargets(t *testing.T) {
	invoker := newFakeInvoker(1)
	e := New(invoker, nil)

	exact := "OrderPlaced"
	if _, err := e.PutRule(DefaultBusName, Rule{
		Name:    "orders",
		Pattern: Pattern{"detail-type": {{Exact: &exact}}},
		Enabled: true,
	}); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	if err := e.PutTargets(DefaultBusName, "orders", []string{"handleOrder"}); err != nil {
		t.Fatalf("put targets: %v", err)
	}

	detail, _ := json.Marshal(map[string]string{"orderId": "42"})
	if _, err := e.PutEvents([]PutEventsEntry{
		{Source: "custom.shop", DetailType: "OrderPlaced", Detail: detail},
	}); err != nil {
		t.Fatalf("put events: %v", err)
	}

	invoker.waitFor(t, 1)
	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if len(invoker.calls) != 1 || invoker.calls[0] != "handleOrder" {
		t.Fatalf("unexpected dispatch calls: %+v", invoker.calls)
	}
}

func TestPutEventsSkipsNonMatchingRule(t *testing.T) {
	invoker := newFakeInvoker(0)
	e := New(invoker, nil)

	exact := "OrderCancelled"
	if _, err := e.PutRule(DefaultBusName, Rule{
		Name:    "cancels",
		Pattern: Pattern{"detail-type": {{Exact: &exact}}},
		Enabled: true,
	}); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	if err := e.PutTargets(DefaultBusName, "cancels", []string{"handleCancel"}); err != nil {
		t.Fatalf("put targets: %v", err)
	}

	detail, _ := json.Marshal(map[string]string{})
	if _, err := e.PutEvents([]PutEventsEntry{
		{Source: "custom.shop", DetailType: "OrderPlaced", Detail: detail},
	}); err != nil {
		t.Fatalf("put events: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if len(invoker.calls) != 0 {
		t.Fatalf("expected no dispatch for non-matching rule, got %+v", invoker.calls)
	}
}

func TestDisabledRuleNeverDispatches(t *testing.T) {
	invoker := newFakeInvoker(0)
	e := New(invoker, nil)

	if _, err := e.PutRule(DefaultBusName, Rule{
		Name:    "disabled",
		Pattern: Pattern{"source": {{Exact: strPtr("custom.shop")}}},
		Enabled: false,
	}); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	if err := e.PutTargets(DefaultBusName, "disabled", []string{"fn"}); err != nil {
		t.Fatalf("put targets: %v", err)
	}

	detail, _ := json.Marshal(map[string]string{})
	if _, err := e.PutEvents([]PutEventsEntry{
		{Source: "custom.shop", DetailType: "Anything", Detail: detail},
	}); err != nil {
		t.Fatalf("put events: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if len(invoker.calls) != 0 {
		t.Fatalf("expected disabled rule to never dispatch, got %+v", invoker.calls)
	}
}

func strPtr(s string) *string { return &s }

// An unknown bus or rule must resolve to a NotFound-class wire response, not
// the 500 that formaction/jsonrpc.WriteError render for anything
// apperrors.Wrap can't recognize as a *ServiceError.
func TestUnknownBusAndRuleErrorsResolveToNotFoundStatus(t *testing.T) {
	e := New(nil, nil)

	if err := e.PutTargets("ghost-bus", "ghost-rule", []string{"fn"}); err == nil {
		t.Fatal("expected put-targets on unknown bus to fail")
	} else if status := apperrors.StatusFor(apperrors.Wrap(err)); status != 404 {
		t.Fatalf("expected 404 for unknown bus, got %d", status)
	}

	if _, err := e.ListRules("ghost-bus"); err == nil {
		t.Fatal("expected list-rules on unknown bus to fail")
	} else if status := apperrors.StatusFor(apperrors.Wrap(err)); status != 404 {
		t.Fatalf("expected 404 for unknown bus, got %d", status)
	}

	if err := e.DeleteEventBus("ghost-bus"); err == nil {
		t.Fatal("expected delete of unknown bus to fail")
	} else if status := apperrors.StatusFor(apperrors.Wrap(err)); status != 404 {
		t.Fatalf("expected 404 for unknown bus, got %d", status)
	}

	if _, err := e.PutRule(DefaultBusName, Rule{Name: "has-no-targets-yet"}); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	if err := e.PutTargets(DefaultBusName, "ghost-rule", []string{"fn"}); err == nil {
		t.Fatal("expected put-targets on unknown rule to fail")
	} else if status := apperrors.StatusFor(apperrors.Wrap(err)); status != 404 {
		t.Fatalf("expected 404 for unknown rule, got %d", status)
	}
}
