// Package queue implements the visibility-timeout, FIFO-ordering,
// deduplication, and dead-letter-redrive semantics of the message queue
// service engine.
//
// Grounded on _examples/original_source/src/lws/providers/sqs/queue.py
// (LocalQueue): one mutex per queue guards every state-mutating step, a
// single pass over the message vector computes which FIFO groups are
// currently blocked before selecting any message, and the FIFO dedup cache
// expires entries against a monotonic clock.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// DefaultVisibilityTimeout is used when a queue is created without an
// explicit visibility window.
const DefaultVisibilityTimeout = 30 * time.Second

// dedupWindow is the FIFO content/explicit-dedup cache lifetime. The source
// implementation uses a 5-minute monotonic window; this emulator follows
// that choice (see DESIGN.md Open Question decisions).
const dedupWindow = 5 * time.Minute

// Message is one item owned by exactly one queue.
type Message struct {
	ID               string
	Body             string
	Attributes       map[string]string
	GroupID          string
	DedupID          string
	ReceiptHandle    string
	ReceiveCount     int
	NotVisibleUntil  time.Time
	SentAt           time.Time
}

func (m *Message) inFlight(now time.Time) bool {
	return m.ReceiptHandle != "" && m.NotVisibleUntil.After(now)
}

// Attributes describes a queue's configuration, returned by the
// attributes operation and used at creation time.
type Attributes struct {
	Name              string
	VisibilityTimeout time.Duration
	FIFO              bool
	ContentBasedDedup bool
	DeadLetterTarget  string
	MaxReceiveCount   int
}

// Counts reports the approximate message counts the wire dialect exposes.
type Counts struct {
	Visible   int
	InFlight  int
}

type dedupEntry struct {
	messageID string
	expiresAt time.Time
}

// Queue is a single named queue: one mutex, one wake channel, one message
// vector, matching the concurrency model spec.md 4.1 requires.
type Queue struct {
	attrs Attributes

	mu       sync.Mutex
	wake     chan struct{}
	messages []*Message
	dedup    map[string]dedupEntry
}

func newQueue(attrs Attributes) *Queue {
	if attrs.VisibilityTimeout <= 0 {
		attrs.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Queue{
		attrs: attrs,
		wake:  make(chan struct{}),
		dedup: make(map[string]dedupEntry),
	}
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Engine owns every queue. Clock is injectable for deterministic tests; it
// defaults to time.Now.
type Engine struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	clock  func() time.Time
}

// New constructs an empty queue engine.
func New() *Engine {
	return &Engine{
		queues: make(map[string]*Queue),
		clock:  time.Now,
	}
}

// WithClock overrides the engine's clock; intended for tests.
func (e *Engine) WithClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	clock := e.clock
	e.mu.RUnlock()
	return clock()
}

// Create declares a new queue. Re-declaring an existing name is idempotent
// and leaves the queue's current messages untouched.
func (e *Engine) Create(attrs Attributes) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queues[attrs.Name]; ok {
		return nil
	}
	e.queues[attrs.Name] = newQueue(attrs)
	return nil
}

// Destroy removes a queue and silently drops any in-flight or visible
// messages it held (matches original_source: no special-case teardown for
// in-flight messages).
func (e *Engine) Destroy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queues[name]; !ok {
		return apperrors.NotFound("QueueDoesNotExist", "queue does not exist: "+name)
	}
	delete(e.queues, name)
	return nil
}

// Purge removes every message from a queue without destroying it.
func (e *Engine) Purge(name string) error {
	q, err := e.lookup(name)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.messages = nil
	q.dedup = make(map[string]dedupEntry)
	q.mu.Unlock()
	return nil
}

// Attributes returns a queue's configuration and approximate counts.
func (e *Engine) Attributes(name string) (Attributes, Counts, error) {
	q, err := e.lookup(name)
	if err != nil {
		return Attributes{}, Counts{}, err
	}
	now := e.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var counts Counts
	for _, m := range q.messages {
		if m.inFlight(now) {
			counts.InFlight++
		} else {
			counts.Visible++
		}
	}
	return q.attrs, counts, nil
}

func (e *Engine) lookup(name string) (*Queue, error) {
	e.mu.RLock()
	q, ok := e.queues[name]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("QueueDoesNotExist", "queue does not exist: "+name)
	}
	return q, nil
}

// Send appends a message to the named queue, applying FIFO deduplication
// before allocating a new message-id. delay may be zero.
func (e *Engine) Send(name, body string, attrs map[string]string, delay time.Duration, groupID, explicitDedupID string) (string, error) {
	q, err := e.lookup(name)
	if err != nil {
		return "", err
	}

	now := e.now()
	dedupID := resolveDedupID(q.attrs, body, explicitDedupID)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.purgeDedupLocked(now)

	if dedupID != "" {
		if existing, ok := q.dedup[dedupID]; ok {
			return existing.messageID, nil
		}
	}

	msg := &Message{
		ID:              uuid.NewString(),
		Body:            body,
		Attributes:      attrs,
		GroupID:         groupID,
		DedupID:         dedupID,
		NotVisibleUntil: now.Add(delay),
		SentAt:          now,
	}
	q.messages = append(q.messages, msg)

	if dedupID != "" {
		q.dedup[dedupID] = dedupEntry{messageID: msg.ID, expiresAt: now.Add(dedupWindow)}
	}

	q.broadcastLocked()

	return msg.ID, nil
}

func resolveDedupID(attrs Attributes, body, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if attrs.FIFO && attrs.ContentBasedDedup {
		sum := sha256.Sum256([]byte(body))
		return hex.EncodeToString(sum[:])
	}
	return ""
}

func (q *Queue) purgeDedupLocked(now time.Time) {
	for id, entry := range q.dedup {
		if !entry.expiresAt.After(now) {
			delete(q.dedup, id)
		}
	}
}

// ReceivedMessage is what Receive returns to callers: the subset of message
// state a wire adapter needs to render, decoupled from internal pointers.
type ReceivedMessage struct {
	ID            string
	ReceiptHandle string
	Body          string
	Attributes    map[string]string
	ReceiveCount  int
}

// Receive implements the long-poll receive selection algorithm of
// spec.md 4.1: an immediate walk, and if empty and wait > 0, repeated
// walks woken by Send, Delete or a dead-letter arrival on this queue, plus
// one final walk at the deadline. A visibility timeout lapsing mid-wait
// does not wake the walk by itself.
func (e *Engine) Receive(name string, max int, wait time.Duration) ([]ReceivedMessage, error) {
	if max <= 0 {
		max = 1
	}
	q, err := e.lookup(name)
	if err != nil {
		return nil, err
	}

	deadline := e.now().Add(wait)
	for {
		result, err := e.collectVisible(q, max)
		if err != nil {
			return nil, err
		}
		if len(result) > 0 || wait <= 0 {
			return result, nil
		}

		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return result, nil
		}

		q.mu.Lock()
		wakeCh := q.wake
		q.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// collectVisible runs a single walk: computes blocked FIFO groups once,
// selects up to max eligible messages in insertion order, redirects any
// message past its receive threshold to the dead-letter target, and marks
// the rest received.
func (e *Engine) collectVisible(q *Queue, max int) ([]ReceivedMessage, error) {
	now := e.now()

	q.mu.Lock()

	blockedGroups := make(map[string]bool)
	if q.attrs.FIFO {
		for _, m := range q.messages {
			if m.inFlight(now) && m.GroupID != "" {
				blockedGroups[m.GroupID] = true
			}
		}
	}
	q.purgeDedupLocked(now)

	var result []ReceivedMessage
	var toRoute []*Message
	kept := q.messages[:0:0]

	for _, m := range q.messages {
		if len(result) >= max {
			kept = append(kept, m)
			continue
		}
		if m.inFlight(now) {
			kept = append(kept, m)
			continue
		}
		if q.attrs.FIFO && m.GroupID != "" && blockedGroups[m.GroupID] {
			kept = append(kept, m)
			continue
		}

		if q.attrs.MaxReceiveCount > 0 && q.attrs.DeadLetterTarget != "" && m.ReceiveCount >= q.attrs.MaxReceiveCount {
			toRoute = append(toRoute, m)
			continue // dropped from kept: silently moved to the DLQ below
		}

		m.ReceiveCount++
		m.ReceiptHandle = uuid.NewString()
		m.NotVisibleUntil = now.Add(q.attrs.VisibilityTimeout)
		kept = append(kept, m)
		result = append(result, ReceivedMessage{
			ID:            m.ID,
			ReceiptHandle: m.ReceiptHandle,
			Body:          m.Body,
			Attributes:    m.Attributes,
			ReceiveCount:  m.ReceiveCount,
		})
	}
	q.messages = kept
	target := q.attrs.DeadLetterTarget
	q.mu.Unlock()

	for _, m := range toRoute {
		if err := e.routeToDeadLetter(target, m); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// routeToDeadLetter moves a message into its queue's dead-letter target,
// acquired under the target's own lock (acquired separately from the
// source to avoid cycles; DLQ chains are validated acyclic at
// configuration time).
func (e *Engine) routeToDeadLetter(targetName string, m *Message) error {
	target, err := e.lookup(targetName)
	if err != nil {
		return err
	}
	target.mu.Lock()
	m.ReceiptHandle = ""
	m.NotVisibleUntil = time.Time{}
	target.messages = append(target.messages, m)
	target.broadcastLocked()
	target.mu.Unlock()
	return nil
}

// Delete removes a message by receipt handle. A mismatched or already-gone
// receipt handle is a silent no-op, matching cloud behavior.
func (e *Engine) Delete(name, receiptHandle string) error {
	q, err := e.lookup(name)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.messages {
		if m.ReceiptHandle != "" && m.ReceiptHandle == receiptHandle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			q.broadcastLocked()
			return nil
		}
	}
	return nil
}

// Names returns the sorted queue-name registry entries the dispatch fabric
// consults for name resolution.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.queues))
	for name := range e.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
