package compute

import (
	"context"
	"testing"
	"time"
)

func TestInvokeReturnsHandlerResult(t *testing.T) {
	e := New(nil)
	e.Register(FunctionConfig{
		Name:    "echo",
		Source:  `function(event) { return {seen: event.value}; }`,
		Timeout: time.Second,
	})

	result, err := e.Invoke(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	out, ok := result.Output.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map output, got %T: %+v", result.Output, result.Output)
	}
	if out["seen"] != "hi" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestInvokeOnUnknownFunctionFails(t *testing.T) {
	e := New(nil)
	if _, err := e.Invoke(context.Background(), "ghost", nil); err == nil {
		t.Fatal("expected error for unregistered function")
	}
}

func TestInvokeTimesOutOnInfiniteLoop(t *testing.T) {
	e := New(nil)
	e.Register(FunctionConfig{
		Name:    "loop",
		Source:  `function() { while (true) {} }`,
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	if _, err := e.Invoke(context.Background(), "loop", nil); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("invoke took too long to time out: %v", elapsed)
	}
}

func TestConsoleLogIsCaptured(t *testing.T) {
	e := New(nil)
	e.Register(FunctionConfig{
		Name:    "logger",
		Source:  `function() { console.log("hello", 42); return null; }`,
		Timeout: time.Second,
	})

	result, err := e.Invoke(context.Background(), "logger", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "hello 42" {
		t.Fatalf("unexpected logs: %+v", result.Logs)
	}
}
