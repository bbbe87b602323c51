// Package topic implements the pub/sub topic service engine: topics own
// subscriptions, publish evaluates each subscription's filter policy and
// dispatches matching deliveries concurrently.
//
// Grounded on _examples/original_source/src/ldk/providers/sns/provider.py
// (SnsProvider): publish resolves the topic, asks it for subscribers whose
// filter policy matches the message attributes, then fires one dispatch
// task per match; one subscriber's dispatch failure is logged and never
// blocks or cancels the others.
package topic

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// Protocol names a subscription's delivery shape.
type Protocol string

const (
	ProtocolQueue   Protocol = "queue"
	ProtocolCompute Protocol = "compute"
)

// Subscription is one topic subscriber.
type Subscription struct {
	ARN          string
	Protocol     Protocol
	Endpoint     string
	FilterPolicy FilterPolicy
}

// Envelope is the standard topic-notification envelope delivered to
// queue-protocol subscribers as the message body, and embedded in the
// records-array event delivered to compute-protocol subscribers.
type Envelope struct {
	Type              string            `json:"Type"`
	MessageID         string            `json:"MessageId"`
	TopicArn          string            `json:"TopicArn"`
	Subject           string            `json:"Subject,omitempty"`
	Message           string            `json:"Message"`
	Timestamp         string            `json:"Timestamp"`
	MessageAttributes map[string]string `json:"MessageAttributes,omitempty"`
}

// QueueSender is the narrow capability topic dispatch needs from the
// queue engine: enqueue an envelope as a message body.
type QueueSender interface {
	Send(queueName, body string, attrs map[string]string, delay time.Duration, groupID, dedupID string) (string, error)
}

// ComputeInvoker is the narrow capability topic dispatch needs from the
// compute engine: invoke a function with a records-array event.
type ComputeInvoker interface {
	InvokeAsync(functionName string, event interface{})
}

type topicState struct {
	arn  string
	mu   sync.RWMutex
	subs []Subscription
}

// Engine owns every topic.
type Engine struct {
	mu     sync.RWMutex
	topics map[string]*topicState

	queues   QueueSender
	compute  ComputeInvoker
	log      *logrus.Entry
}

// New constructs a topic engine. queues/compute resolve delivery targets
// by name at dispatch time, never cached as pointers (spec.md 4.7).
func New(queues QueueSender, compute ComputeInvoker, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		topics:  make(map[string]*topicState),
		queues:  queues,
		compute: compute,
		log:     log,
	}
}

// CreateTopic declares a topic, returning its ARN. Re-declaring an
// existing name is idempotent and returns the existing ARN.
func (e *Engine) CreateTopic(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.topics[name]; ok {
		return t.arn
	}
	arn := fmt.Sprintf("arn:aws:sns:us-east-1:000000000000:%s", name)
	e.topics[name] = &topicState{arn: arn}
	return arn
}

func (e *Engine) lookup(name string) (*topicState, error) {
	e.mu.RLock()
	t, ok := e.topics[name]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("NotFoundException", "topic does not exist: "+name)
	}
	return t, nil
}

// Subscribe registers a subscription on a topic, returning its ARN.
func (e *Engine) Subscribe(topicName string, protocol Protocol, endpoint string, policy FilterPolicy) (string, error) {
	t, err := e.lookup(topicName)
	if err != nil {
		return "", err
	}
	subARN := fmt.Sprintf("%s:%s", t.arn, uuid.NewString())
	t.mu.Lock()
	t.subs = append(t.subs, Subscription{ARN: subARN, Protocol: protocol, Endpoint: endpoint, FilterPolicy: policy})
	t.mu.Unlock()
	return subARN, nil
}

// Publish validates the topic exists, assigns a message-id, evaluates
// every subscription's filter policy against attributes, and dispatches a
// delivery task for each match concurrently. Dispatch errors are logged
// and never fail the publish or block peer deliveries.
func (e *Engine) Publish(topicName, message, subject string, attrs map[string]string) (string, error) {
	t, err := e.lookup(topicName)
	if err != nil {
		return "", err
	}
	messageID := uuid.NewString()

	t.mu.RLock()
	subs := append([]Subscription(nil), t.subs...)
	t.mu.RUnlock()

	envelope := Envelope{
		Type:              "Notification",
		MessageID:         messageID,
		TopicArn:          t.arn,
		Subject:           subject,
		Message:           message,
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		MessageAttributes: attrs,
	}

	for _, sub := range subs {
		if !sub.FilterPolicy.Matches(attrs) {
			continue
		}
		go e.dispatch(sub, envelope)
	}

	return messageID, nil
}

func (e *Engine) dispatch(sub Subscription, envelope Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("endpoint", sub.Endpoint).Errorf("topic dispatch panicked: %v", r)
		}
	}()
	switch sub.Protocol {
	case ProtocolQueue:
		e.dispatchQueue(sub, envelope)
	case ProtocolCompute:
		e.dispatchCompute(sub, envelope)
	default:
		e.log.WithField("protocol", sub.Protocol).Warn("unsupported subscription protocol")
	}
}

func (e *Engine) dispatchQueue(sub Subscription, envelope Envelope) {
	if e.queues == nil {
		return
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		e.log.WithError(err).Error("marshal topic envelope for queue delivery")
		return
	}
	if _, err := e.queues.Send(sub.Endpoint, string(body), nil, 0, "", ""); err != nil {
		e.log.WithField("queue", sub.Endpoint).WithError(err).Error("topic to queue delivery failed")
	}
}

func (e *Engine) dispatchCompute(sub Subscription, envelope Envelope) {
	if e.compute == nil {
		return
	}
	event := map[string]interface{}{
		"Records": []map[string]interface{}{
			{
				"EventSource":      "corestack:sns",
				"EventSubscriptionArn": sub.ARN,
				"Sns":              envelope,
			},
		},
	}
	e.compute.InvokeAsync(sub.Endpoint, event)
}

// Names returns the sorted topic-name registry entries the dispatch
// fabric consults for name resolution.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.topics))
	for name := range e.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
