package objectstore

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	e := New()
	if err := e.CreateBucket("b1"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	body := []byte("payload")
	if err := e.Put("b1", "a/b.txt", body, "text/plain", nil, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, found, err := e.Get("b1", "a/b.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected object to be found")
	}
	if !bytes.Equal(obj.Body, body) || obj.ContentType != "text/plain" {
		t.Fatalf("unexpected object: %+v", obj)
	}
}

func TestListIsLexicographic(t *testing.T) {
	e := New()
	if err := e.CreateBucket("b1"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	for _, key := range []string{"c", "a", "b"} {
		if err := e.Put("b1", key, []byte("x"), "", nil, nil); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	listed, err := e.List("b1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 || listed[0].Key != "a" || listed[1].Key != "b" || listed[2].Key != "c" {
		t.Fatalf("expected lexicographic order, got %+v", listed)
	}
}

func TestNotificationMatchesGlobAndPrefixSuffix(t *testing.T) {
	e := New()
	if err := e.CreateBucket("b1"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	var mu sync.Mutex
	var got []Notification
	done := make(chan struct{}, 1)
	if err := e.Subscribe("b1", NotificationSubscription{
		ID:           "sub1",
		EventGlob:    "ObjectCreated:*",
		PrefixFilter: "images/",
		SuffixFilter: ".png",
		Handler: func(n Notification) {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			done <- struct{}{}
		},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := e.Put("b1", "images/cat.png", []byte("x"), "", nil, nil); err != nil {
		t.Fatalf("put matching: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected matching put to notify subscriber")
	}

	if err := e.Put("b1", "docs/cat.txt", []byte("x"), "", nil, nil); err != nil {
		t.Fatalf("put non-matching: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].EventType != "ObjectCreated:Put" || got[0].Key != "images/cat.png" {
		t.Fatalf("expected exactly one matching notification, got %+v", got)
	}
}

func TestDeleteEmitsObjectRemoved(t *testing.T) {
	e := New()
	if err := e.CreateBucket("b1"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if err := e.Put("b1", "k", []byte("x"), "", nil, nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	var mu sync.Mutex
	var events []string
	done := make(chan struct{}, 1)
	if err := e.Subscribe("b1", NotificationSubscription{
		ID:        "sub1",
		EventGlob: "ObjectRemoved:*",
		Handler: func(n Notification) {
			mu.Lock()
			events = append(events, n.EventType)
			mu.Unlock()
			done <- struct{}{}
		},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := e.Delete("b1", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected delete to notify subscriber")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "ObjectRemoved:Delete" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
