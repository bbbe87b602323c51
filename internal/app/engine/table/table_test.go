package table

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestEngine() (*Engine, *Dispatcher) {
	d := NewDispatcher(20*time.Millisecond, 100, nil)
	return New(d), d
}

// Scenario 4: table change stream.
func TestChangeStreamBatchingOrder(t *testing.T) {
	e, d := newTestEngine()
	d.Start()
	defer d.Stop()

	if err := e.CreateTable("U", KeySchema{PartitionKey: "id"}, &StreamConfig{View: ViewNewAndOld}); err != nil {
		t.Fatalf("create table: %v", err)
	}

	var mu sync.Mutex
	var kinds []EventKind
	done := make(chan struct{})
	e.Subscribe("U", Subscriber{
		Name: "recorder",
		Handler: func(batch []Record) error {
			mu.Lock()
			for _, r := range batch {
				kinds = append(kinds, r.Kind)
			}
			n := len(kinds)
			mu.Unlock()
			if n >= 3 {
				close(done)
			}
			return nil
		},
	})

	if _, err := e.Put("U", Item{"id": StringValue("1"), "v": StringValue("a")}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := e.Put("U", Item{"id": StringValue("1"), "v": StringValue("b")}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if err := e.Delete("U", Item{"id": StringValue("1")}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never observed all three records")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 3 || kinds[0] != EventInsert || kinds[1] != EventModify || kinds[2] != EventRemove {
		t.Fatalf("unexpected record sequence: %+v", kinds)
	}
}

// Scenario 5: transact-write failure leaves state clean.
func TestTransactWriteConditionFailureLeavesStateClean(t *testing.T) {
	e, d := newTestEngine()
	d.Start()
	defer d.Stop()

	if err := e.CreateTable("items", KeySchema{PartitionKey: "pk"}, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	ops := []TransactWriteOp{
		{
			Kind:          TransactConditionCheck,
			Table:         "items",
			Key:           Item{"pk": StringValue("exists")},
			ConditionExpr: "attribute_exists(pk)",
		},
		{
			Kind:  TransactPut,
			Table: "items",
			Item:  Item{"pk": StringValue("new-item")},
		},
	}

	err := e.TransactWrite(ops)
	if err == nil {
		t.Fatal("expected transaction to be canceled")
	}
	canceled, ok := err.(*TransactionCanceledError)
	if !ok {
		t.Fatalf("expected *TransactionCanceledError, got %T: %v", err, err)
	}
	if len(canceled.Reasons) != 2 || canceled.Reasons[0] != "ConditionalCheckFailed" || canceled.Reasons[1] != "None" {
		t.Fatalf("unexpected reason codes: %+v", canceled.Reasons)
	}

	_, found, err := e.Get("items", Item{"pk": StringValue("new-item")})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected no-op Put to not have executed")
	}
}

func TestQueryAndScanRespectLimit(t *testing.T) {
	e, d := newTestEngine()
	d.Start()
	defer d.Stop()

	if err := e.CreateTable("events", KeySchema{PartitionKey: "pk", SortKey: "sk"}, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < 5; i++ {
		item := Item{"pk": StringValue("p"), "sk": NumberValue(fmt.Sprintf("%d", i))}
		if _, err := e.Put("events", item); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	queried, err := e.Query("events", "pk = :pk", nil, map[string]AttributeValue{":pk": StringValue("p")}, "", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(queried) != 2 {
		t.Fatalf("expected Query to honor Limit=2, got %d items", len(queried))
	}

	scanned, err := e.Scan("events", "", nil, nil, 3)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(scanned) != 3 {
		t.Fatalf("expected Scan to honor Limit=3, got %d items", len(scanned))
	}

	all, err := e.Scan("events", "", nil, nil, 0)
	if err != nil {
		t.Fatalf("scan without limit: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected Scan without a limit to fall back to the default page size and return all 5 items, got %d", len(all))
	}
}
