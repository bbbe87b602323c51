package queue

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *int64) {
	t.Helper()
	var nowMillis int64
	e := New()
	e.WithClock(func() time.Time {
		return time.UnixMilli(atomic.LoadInt64(&nowMillis))
	})
	return e, &nowMillis
}

func advance(now *int64, d time.Duration) {
	atomic.AddInt64(now, int64(d/time.Millisecond))
}

// Scenario 1: queue basic.
func TestQueueBasicVisibility(t *testing.T) {
	e, now := newTestEngine(t)
	if err := e.Create(Attributes{Name: "q1", VisibilityTimeout: 30 * time.Second}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Send("q1", "hello", nil, 0, "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := e.Receive("q1", 1, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" || msgs[0].ReceiveCount != 1 {
		t.Fatalf("unexpected receive result: %+v", msgs)
	}

	again, err := e.Receive("q1", 1, 0)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second receive, got %+v", again)
	}

	advance(now, 31*time.Second)
	third, err := e.Receive("q1", 1, 0)
	if err != nil {
		t.Fatalf("third receive: %v", err)
	}
	if len(third) != 1 || third[0].Body != "hello" || third[0].ReceiveCount != 2 {
		t.Fatalf("expected redelivery with receive-count 2, got %+v", third)
	}
}

// Scenario 2: FIFO dedup.
func TestFIFODedup(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Create(Attributes{Name: "q.fifo", FIFO: true, ContentBasedDedup: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	idA, err := e.Send("q.fifo", "X", nil, 0, "g1", "")
	if err != nil {
		t.Fatalf("send 1: %v", err)
	}
	idB, err := e.Send("q.fifo", "X", nil, 0, "g1", "")
	if err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if idA != idB {
		t.Fatalf("expected same message id for duplicate send, got %s vs %s", idA, idB)
	}

	msgs, err := e.Receive("q.fifo", 10, 0)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "X" {
		t.Fatalf("expected exactly one message, got %+v", msgs)
	}
}

func TestFIFOGroupIsolation(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Create(Attributes{Name: "q.fifo", FIFO: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Send("q.fifo", "m1", nil, 0, "g1", "dedup-1"); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if _, err := e.Send("q.fifo", "m2", nil, 0, "g1", "dedup-2"); err != nil {
		t.Fatalf("send 2: %v", err)
	}

	first, err := e.Receive("q.fifo", 1, 0)
	if err != nil || len(first) != 1 {
		t.Fatalf("first receive: %v %+v", err, first)
	}

	// m2 is in the same group as the now in-flight m1; it must not be
	// returned until m1 is deleted or its visibility expires.
	second, err := e.Receive("q.fifo", 1, 0)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected group isolation to block m2, got %+v", second)
	}

	if err := e.Delete("q.fifo", first[0].ReceiptHandle); err != nil {
		t.Fatalf("delete: %v", err)
	}
	third, err := e.Receive("q.fifo", 1, 0)
	if err != nil || len(third) != 1 || third[0].Body != "m2" {
		t.Fatalf("expected m2 after group unblocked: %v %+v", err, third)
	}
}

func TestDeadLetterRedrive(t *testing.T) {
	e, now := newTestEngine(t)
	if err := e.Create(Attributes{Name: "dlq"}); err != nil {
		t.Fatalf("create dlq: %v", err)
	}
	if err := e.Create(Attributes{Name: "src", VisibilityTimeout: time.Millisecond, DeadLetterTarget: "dlq", MaxReceiveCount: 2}); err != nil {
		t.Fatalf("create src: %v", err)
	}
	if _, err := e.Send("src", "payload", nil, 0, "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	for i := 0; i < 2; i++ {
		msgs, err := e.Receive("src", 1, 0)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("receive %d: %v %+v", i, err, msgs)
		}
		advance(now, 2*time.Millisecond)
	}

	// Third receive should find the message past its threshold and divert
	// it to the dead-letter queue instead of returning it.
	msgs, err := e.Receive("src", 1, 0)
	if err != nil {
		t.Fatalf("third receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected message to be routed to DLQ, got %+v", msgs)
	}

	dlqMsgs, err := e.Receive("dlq", 1, 0)
	if err != nil || len(dlqMsgs) != 1 || dlqMsgs[0].Body != "payload" {
		t.Fatalf("expected redriven message in dlq: %v %+v", err, dlqMsgs)
	}
}

func TestDeleteUnknownReceiptIsNoop(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Create(Attributes{Name: "q1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Delete("q1", "does-not-exist"); err != nil {
		t.Fatalf("expected silent no-op, got error: %v", err)
	}
}

func TestDestroyDropsInFlightMessages(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Create(Attributes{Name: "q1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Send("q1", "body", nil, 0, "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := e.Receive("q1", 1, 0); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := e.Destroy("q1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, _, err := e.Attributes("q1"); err == nil {
		t.Fatalf("expected queue to be gone after destroy")
	}
}

func TestReceiveOnUnknownQueueFailsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Receive("ghost", 1, 0); err == nil {
		t.Fatalf("expected NotFound error for unknown queue")
	}
}

func TestLongPollWakesOnSend(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Create(Attributes{Name: "q1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan []ReceivedMessage, 1)
	errs := make(chan error, 1)
	go func() {
		msgs, err := e.Receive("q1", 1, 2*time.Second)
		if err != nil {
			errs <- err
			return
		}
		done <- msgs
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := e.Send("q1", "woken", nil, 0, "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case err := <-errs:
		t.Fatalf("receive errored: %v", err)
	case msgs := <-done:
		if len(msgs) != 1 || msgs[0].Body != "woken" {
			t.Fatalf("expected woken message, got %+v", msgs)
		}
	case <-time.After(time.Second):
		t.Fatal("long poll did not wake on send")
	}
}
