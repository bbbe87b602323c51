// Package fabric implements the cross-service dispatch fabric: it is not
// a separate engine but a set of wiring and background loops (spec.md
// 4.7). It owns the queue event-source-mapping pollers and the name
// registry every "/_ldk/resources" control-plane query reads from.
//
// Grounded on the teacher's internal/app/system.Manager lifecycle shape
// (Start/Stop ordering, context-scoped goroutines) and
// internal/services/automation.Scheduler's ticker-driven background loop
// pattern, generalized here to one goroutine per event-source mapping
// instead of one shared ticker, since each mapping polls an independent
// queue on its own cadence.
package fabric

import (
	"context"
	"sync"
	"time"

	core "github.com/corestack-dev/corestack/internal/app/core/service"
	"github.com/corestack-dev/corestack/internal/app/engine/compute"
	"github.com/corestack-dev/corestack/internal/app/engine/queue"
	"github.com/sirupsen/logrus"
)

// QueueReceiver is the narrow capability a poller needs from the queue
// engine; satisfied directly by *queue.Engine.
type QueueReceiver interface {
	Receive(name string, max int, wait time.Duration) ([]queue.ReceivedMessage, error)
	Delete(name, receiptHandle string) error
}

// ComputeInvoker is the narrow capability a poller needs from the
// compute engine; satisfied directly by *compute.Engine.
type ComputeInvoker interface {
	Invoke(ctx context.Context, functionName string, event interface{}) (*compute.InvocationResult, error)
}

// EventSourceMapping is one configured queue-to-compute poller, matching
// spec.md 4.7's "(queue-name, compute-name, batch-size, enabled)" tuple.
type EventSourceMapping struct {
	QueueName   string
	ComputeName string
	BatchSize   int
	Enabled     bool
}

// PollWait bounds each long-poll receive call issued by a poller.
const PollWait = 5 * time.Second

// invocationRetryPolicy bounds the transient-failure retries a poller
// gives a compute invocation before leaving the batch for redelivery on
// the queue's own visibility timeout.
var invocationRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2,
}

// Registry is the fabric's name registry: every engine publishes its
// owned resource names here at wiring time so "/_ldk/resources" (and any
// future cross-engine name resolution) has one place to query.
type Registry struct {
	mu    sync.RWMutex
	names map[string][]string // service -> resource names
}

// NewRegistry constructs an empty name registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string][]string)}
}

// Publish registers the current set of resource names owned by service.
// Callers typically invoke this once at startup with a snapshot from the
// owning engine's Names() method; it is safe to call again to refresh.
func (r *Registry) Publish(service string, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[service] = append([]string(nil), names...)
}

// Snapshot returns a copy of the full registry, service name -> owned
// resource names.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.names))
	for k, v := range r.names {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// PollerHooks lets callers observe each poll cycle (in-flight gauge,
// duration histogram), matching the observation-hooks contract the rest
// of the codebase's background loops use.
type PollerHooks = core.ObservationHooks

// poller drives one event-source mapping's receive/invoke/delete loop.
type poller struct {
	mapping EventSourceMapping
	queue   QueueReceiver
	compute ComputeInvoker
	hooks   PollerHooks
	log     *logrus.Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every queue poller and the shared name registry. It
// implements system.Service so the application wiring can start/stop it
// alongside every engine.
type Manager struct {
	log      *logrus.Entry
	registry *Registry
	queue    QueueReceiver
	compute  ComputeInvoker
	hooks    PollerHooks

	mu       sync.Mutex
	pollers  []*poller
	mappings []EventSourceMapping
	running  bool
}

// New constructs a dispatch fabric manager. queue and compute resolve
// mapping targets by name at poll time.
func New(queue QueueReceiver, compute ComputeInvoker, hooks PollerHooks, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		log:      log,
		registry: NewRegistry(),
		queue:    queue,
		compute:  compute,
		hooks:    hooks,
	}
}

// Registry returns the fabric's name registry.
func (m *Manager) Registry() *Registry { return m.registry }

// AddEventSourceMapping registers a queue-to-compute poller. If the
// manager has already started and the mapping is enabled, the poller
// goroutine launches immediately.
func (m *Manager) AddEventSourceMapping(mapping EventSourceMapping) {
	if mapping.BatchSize <= 0 {
		mapping.BatchSize = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = append(m.mappings, mapping)
	if !mapping.Enabled {
		return
	}
	p := &poller{
		mapping: mapping,
		queue:   m.queue,
		compute: m.compute,
		hooks:   m.hooks,
		log:     m.log.WithField("queue", mapping.QueueName).WithField("function", mapping.ComputeName),
	}
	m.pollers = append(m.pollers, p)
	if m.running {
		p.start()
	}
}

// Name identifies this service for system.Manager.
func (m *Manager) Name() string { return "dispatch-fabric" }

// Start launches a background goroutine for every enabled event-source
// mapping registered so far.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	for _, p := range m.pollers {
		p.start()
	}
	return nil
}

// Stop cancels and waits for every poller goroutine to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	pollers := append([]*poller(nil), m.pollers...)
	m.running = false
	m.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
	return nil
}

// Descriptor advertises this service's placement for /_ldk/resources.
func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "dispatch-fabric",
		Domain: "fabric",
		Layer:  core.LayerFabric,
	}.WithCapabilities("queue-event-source-mapping")
}

func (p *poller) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

func (p *poller) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// run repeatedly calls receive_messages on the mapping's queue and, on a
// non-empty batch, builds a records-array event for the target compute
// function. A successful invocation deletes every delivered message; a
// failed one does nothing, letting the queue's visibility timeout make
// the messages re-available for a later poll, per spec.md 4.7.
func (p *poller) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		complete := core.StartObservation(ctx, p.hooks, map[string]string{"queue": p.mapping.QueueName})
		messages, err := p.queue.Receive(p.mapping.QueueName, p.mapping.BatchSize, PollWait)
		if err != nil {
			complete(err)
			p.log.WithError(err).Warn("queue poll failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(messages) == 0 {
			complete(nil)
			continue
		}

		event := buildRecordsEvent(messages)
		invokeErr := core.Retry(ctx, invocationRetryPolicy, func() error {
			_, err := p.compute.Invoke(ctx, p.mapping.ComputeName, event)
			return err
		})
		complete(invokeErr)
		if invokeErr != nil {
			p.log.WithError(invokeErr).Warn("event-source mapping invocation failed, leaving messages for redelivery")
			continue
		}
		for _, m := range messages {
			if err := p.queue.Delete(p.mapping.QueueName, m.ReceiptHandle); err != nil {
				p.log.WithField("message", m.ID).WithError(err).Warn("failed to delete delivered message")
			}
		}
	}
}

// buildRecordsEvent renders a batch of received messages as the
// records-array event shape compute functions expect, mirroring the
// envelope topic.Engine builds for its compute-protocol subscribers.
func buildRecordsEvent(messages []queue.ReceivedMessage) map[string]interface{} {
	records := make([]map[string]interface{}, len(messages))
	for i, m := range messages {
		records[i] = map[string]interface{}{
			"messageId":     m.ID,
			"body":          m.Body,
			"attributes":    m.Attributes,
			"receiptHandle": m.ReceiptHandle,
		}
	}
	return map[string]interface{}{"Records": records}
}
