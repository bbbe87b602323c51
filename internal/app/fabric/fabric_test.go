package fabric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/corestack-dev/corestack/internal/app/engine/compute"
	"github.com/corestack-dev/corestack/internal/app/engine/queue"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []queue.ReceivedMessage
	deleted  []string
	calls    int
}

func (f *fakeQueue) Receive(name string, max int, wait time.Duration) ([]queue.ReceivedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.messages) == 0 {
		return nil, nil
	}
	out := f.messages
	f.messages = nil
	return out, nil
}

func (f *fakeQueue) Delete(name, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type fakeCompute struct {
	invocations int
}

func (f *fakeCompute) Invoke(ctx context.Context, functionName string, event interface{}) (*compute.InvocationResult, error) {
	f.invocations++
	return &compute.InvocationResult{}, nil
}

func TestRegistryPublishSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Publish("queue", []string{"q1", "q2"})
	r.Publish("table", []string{"t1"})

	snap := r.Snapshot()
	if len(snap["queue"]) != 2 || len(snap["table"]) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestPollerDeliversAndDeletesOnSuccess(t *testing.T) {
	fq := &fakeQueue{messages: []queue.ReceivedMessage{{ID: "m1", Body: "hi", ReceiptHandle: "rh1"}}}
	fc := &fakeCompute{}
	m := New(fq, fc, PollerHooks{}, nil)
	m.AddEventSourceMapping(EventSourceMapping{QueueName: "q1", ComputeName: "fn1", Enabled: true})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fq.mu.Lock()
		done := len(fq.deleted) == 1
		fq.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if fc.invocations == 0 {
		t.Fatalf("expected compute invocation")
	}
	if len(fq.deleted) != 1 || fq.deleted[0] != "rh1" {
		t.Fatalf("expected message rh1 deleted, got %+v", fq.deleted)
	}
}

func TestDisabledMappingCreatesNoPoller(t *testing.T) {
	fq := &fakeQueue{}
	fc := &fakeCompute{}
	m := New(fq, fc, PollerHooks{}, nil)
	m.AddEventSourceMapping(EventSourceMapping{QueueName: "q1", ComputeName: "fn1", Enabled: false})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if fc.invocations != 0 {
		t.Fatalf("expected no invocations for disabled mapping")
	}
}

func TestBuildRecordsEvent(t *testing.T) {
	event := buildRecordsEvent([]queue.ReceivedMessage{{ID: "m1", Body: "body"}})
	records, ok := event["Records"].([]map[string]interface{})
	if !ok || len(records) != 1 {
		t.Fatalf("unexpected event shape: %+v", event)
	}
	if records[0]["messageId"] != "m1" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}
