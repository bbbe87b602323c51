package topic

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corestack-dev/corestack/internal/app/engine/queue"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// Scenario 3: topic -> queue fan-out.
func TestPublishToQueueSubscriptionDeliversEnvelope(t *testing.T) {
	q := queue.New()
	if err := q.Create(queue.Attributes{Name: "Q"}); err != nil {
		t.Fatalf("create queue: %v", err)
	}

	e := New(q, nil, nil)
	arn := e.CreateTopic("T")
	if _, err := e.Subscribe("T", ProtocolQueue, "Q", nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := e.Publish("T", "hello", "", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := q.Receive("Q", 1, 2*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(msgs))
	}

	var envelope Envelope
	if err := json.Unmarshal([]byte(msgs[0].Body), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Type != "Notification" || envelope.Message != "hello" || envelope.TopicArn != arn {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestFilterPolicyMatchingIsPerSubscription(t *testing.T) {
	q := queue.New()
	if err := q.Create(queue.Attributes{Name: "matching"}); err != nil {
		t.Fatalf("create matching queue: %v", err)
	}
	if err := q.Create(queue.Attributes{Name: "nonmatching"}); err != nil {
		t.Fatalf("create nonmatching queue: %v", err)
	}

	e := New(q, nil, nil)
	e.CreateTopic("T")

	matchValue := "gold"
	if _, err := e.Subscribe("T", ProtocolQueue, "matching", FilterPolicy{
		"tier": {{Exact: &matchValue}},
	}); err != nil {
		t.Fatalf("subscribe matching: %v", err)
	}
	otherValue := "silver"
	if _, err := e.Subscribe("T", ProtocolQueue, "nonmatching", FilterPolicy{
		"tier": {{Exact: &otherValue}},
	}); err != nil {
		t.Fatalf("subscribe nonmatching: %v", err)
	}

	if _, err := e.Publish("T", "body", "", map[string]string{"tier": "gold"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	matched, err := q.Receive("matching", 1, 2*time.Second)
	if err != nil || len(matched) != 1 {
		t.Fatalf("expected matching subscriber to receive exactly one delivery: %v %+v", err, matched)
	}
	unmatched, err := q.Receive("nonmatching", 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("receive nonmatching: %v", err)
	}
	if len(unmatched) != 0 {
		t.Fatalf("expected non-matching subscriber to receive nothing, got %+v", unmatched)
	}
}

func TestSubscribeToUnknownTopicFails(t *testing.T) {
	q := queue.New()
	require.NoError(t, q.Create(queue.Attributes{Name: "Q"}))

	e := New(q, nil, nil)
	_, err := e.Subscribe("ghost-topic", ProtocolQueue, "Q", nil)
	require.Error(t, err)
}

func TestPublishToUnknownTopicFails(t *testing.T) {
	e := New(nil, nil, nil)
	_, err := e.Publish("ghost-topic", "body", "", nil)
	require.Error(t, err)
}

// An unknown topic must resolve to a NotFound-class wire response, not the
// 500 that formaction.WriteError renders for anything apperrors.Wrap can't
// recognize as a *ServiceError.
func TestUnknownTopicErrorResolvesToNotFoundStatus(t *testing.T) {
	e := New(nil, nil, nil)

	_, subErr := e.Subscribe("ghost-topic", ProtocolQueue, "Q", nil)
	require.Equal(t, 404, apperrors.StatusFor(apperrors.Wrap(subErr)))

	_, pubErr := e.Publish("ghost-topic", "body", "", nil)
	require.Equal(t, 404, apperrors.StatusFor(apperrors.Wrap(pubErr)))
}
