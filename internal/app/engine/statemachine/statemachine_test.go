package statemachine

import (
	"context"
	"testing"
	"time"
)

// Scenario 6: state machine express sync.
func TestExpressSyncPassState(t *testing.T) {
	e := New(nil, time.Second, nil)

	def := []byte(`{
		"StartAt": "P",
		"States": {
			"P": {"Type": "Pass", "Result": {"greeting": "hello"}, "End": true}
		}
	}`)
	if _, err := e.CreateStateMachine("greeter", def, true); err != nil {
		t.Fatalf("create state machine: %v", err)
	}

	exec, err := e.StartSyncExecution(context.Background(), "greeter", "", map[string]interface{}{})
	if err != nil {
		t.Fatalf("start sync execution: %v", err)
	}
	if exec.Status != StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (error=%s cause=%s)", exec.Status, exec.Error, exec.Cause)
	}
	out, ok := exec.Output.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map output, got %T: %+v", exec.Output, exec.Output)
	}
	if out["greeting"] != "hello" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestChoiceStateFailsWithoutDefaultOnNoMatch(t *testing.T) {
	e := New(nil, time.Second, nil)

	def := []byte(`{
		"StartAt": "Branch",
		"States": {
			"Branch": {
				"Type": "Choice",
				"Choices": [
					{"Variable": "$.value", "StringEquals": "a", "Next": "Fail"}
				]
			},
			"Fail": {"Type": "Fail", "Error": "Unreachable", "Cause": "should not get here"}
		}
	}`)
	if _, err := e.CreateStateMachine("router", def, true); err != nil {
		t.Fatalf("create state machine: %v", err)
	}

	exec, err := e.StartSyncExecution(context.Background(), "router", "", map[string]interface{}{"value": "b"})
	if err != nil {
		t.Fatalf("start sync execution: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("expected FAILED for no-match without Default, got %s", exec.Status)
	}
}

func TestDescribeExecutionTracksHistory(t *testing.T) {
	e := New(nil, time.Second, nil)
	def := []byte(`{
		"StartAt": "P",
		"States": {"P": {"Type": "Pass", "End": true}}
	}`)
	if _, err := e.CreateStateMachine("m", def, true); err != nil {
		t.Fatalf("create state machine: %v", err)
	}
	exec, err := e.StartSyncExecution(context.Background(), "m", "run-1", "input")
	if err != nil {
		t.Fatalf("start sync execution: %v", err)
	}

	described, err := e.DescribeExecution(exec.ARN)
	if err != nil {
		t.Fatalf("describe execution: %v", err)
	}
	if described.Status != StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", described.Status)
	}

	list, err := e.ListExecutions("m")
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(list) != 1 || list[0].ARN != exec.ARN {
		t.Fatalf("unexpected execution history: %+v", list)
	}
}
