// Package eventbus implements the event-bus service engine: buses own
// rules, put_events evaluates each enabled rule's pattern against a
// canonical event envelope and dispatches matching targets concurrently.
// Rules carrying a schedule expression are driven by a background
// scheduler instead of put_events.
//
// Grounded on _examples/original_source/src/lws/providers/eventbridge/
// provider.py (EventBridgeProvider): a "default" bus always exists,
// put_rule/put_targets/create_event_bus are idempotent-by-name, and
// put_events builds one envelope per entry before routing it against
// every enabled rule on the named bus.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// DefaultBusName is the bus every eventbus engine creates at construction.
const DefaultBusName = "default"

// ComputeInvoker is the narrow capability the event bus needs from the
// compute engine: invoke a function with an arbitrary event payload.
type ComputeInvoker interface {
	InvokeAsync(functionName string, event interface{})
}

// Rule is one event-bus rule.
type Rule struct {
	Name     string
	Bus      string
	Pattern  Pattern
	Schedule string // "rate(...)" or "cron(...)"; empty means event-triggered only
	Enabled  bool
	Targets  []string
}

type bus struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// Envelope is the canonical event shape every rule pattern is matched
// against and every target receives.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Time       string          `json:"time"`
	Region     string          `json:"region"`
	Account    string          `json:"account"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// Engine owns every bus.
type Engine struct {
	mu      sync.RWMutex
	buses   map[string]*bus
	compute ComputeInvoker
	log     *logrus.Entry

	scheduler *Scheduler
}

// New constructs an event-bus engine with its default bus already
// present, and the scheduler that drives scheduled rules (spec.md 4.5).
// The scheduler does not run until Start is called.
func New(compute ComputeInvoker, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Engine{
		buses:   map[string]*bus{DefaultBusName: {rules: make(map[string]*Rule)}},
		compute: compute,
		log:     log,
	}
	e.scheduler = newScheduler(e, log)
	return e
}

// Start launches the scheduler's background tick loop.
func (e *Engine) Start() { e.scheduler.Start() }

// Stop halts the scheduler's background tick loop.
func (e *Engine) Stop() { e.scheduler.Stop() }

// CreateEventBus declares a bus. Re-declaring an existing name is
// idempotent. Returns the bus ARN.
func (e *Engine) CreateEventBus(name string) string {
	e.mu.Lock()
	if _, ok := e.buses[name]; !ok {
		e.buses[name] = &bus{rules: make(map[string]*Rule)}
	}
	e.mu.Unlock()
	return fmt.Sprintf("arn:aws:events:us-east-1:000000000000:event-bus/%s", name)
}

// DeleteEventBus removes a bus. The default bus cannot be deleted.
func (e *Engine) DeleteEventBus(name string) error {
	if name == DefaultBusName {
		return fmt.Errorf("cannot delete the default event bus")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buses[name]; !ok {
		return apperrors.NotFound("ResourceNotFoundException", "event bus not found: "+name)
	}
	delete(e.buses, name)
	return nil
}

func (e *Engine) lookupBus(name string) (*bus, error) {
	e.mu.RLock()
	b, ok := e.buses[name]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("ResourceNotFoundException", "event bus not found: "+name)
	}
	return b, nil
}

// PutRule creates or replaces a rule on busName, returning the rule ARN.
// Registering (or re-registering) a rule with a schedule expression
// (re)computes its next fire time in the scheduler.
func (e *Engine) PutRule(busName string, rule Rule) (string, error) {
	b, err := e.lookupBus(busName)
	if err != nil {
		return "", err
	}
	rule.Bus = busName
	b.mu.Lock()
	b.rules[rule.Name] = &rule
	b.mu.Unlock()

	if rule.Schedule != "" {
		if err := e.scheduler.register(busName, rule); err != nil {
			return "", err
		}
	} else {
		e.scheduler.unregister(busName, rule.Name)
	}

	return fmt.Sprintf("arn:aws:events:us-east-1:000000000000:rule/%s", rule.Name), nil
}

// PutTargets appends targets to an existing rule.
func (e *Engine) PutTargets(busName, ruleName string, targets []string) error {
	b, err := e.lookupBus(busName)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rule, ok := b.rules[ruleName]
	if !ok {
		return apperrors.NotFound("ResourceNotFoundException", "rule not found: "+ruleName)
	}
	rule.Targets = append(rule.Targets, targets...)
	return nil
}

// ListRules returns every rule on a bus.
func (e *Engine) ListRules(busName string) ([]Rule, error) {
	b, err := e.lookupBus(busName)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Rule, 0, len(b.rules))
	for _, r := range b.rules {
		out = append(out, *r)
	}
	return out, nil
}

// PutEventsEntry is one event to publish, matching spec.md 4.5's entry
// shape.
type PutEventsEntry struct {
	Source     string
	DetailType string
	Detail     json.RawMessage
	EventBus   string // defaults to "default"
}

// PutEventsResult reports the assigned event-id per entry.
type PutEventsResult struct {
	EventID string
}

// PutEvents builds a canonical envelope per entry, evaluates it against
// every enabled, non-empty-pattern rule on the entry's bus, and
// dispatches matching targets concurrently. Per spec.md 5, there is no
// ordering guarantee across rules or, within one rule, across targets.
func (e *Engine) PutEvents(entries []PutEventsEntry) ([]PutEventsResult, error) {
	results := make([]PutEventsResult, len(entries))
	for i, entry := range entries {
		busName := entry.EventBus
		if busName == "" {
			busName = DefaultBusName
		}
		envelope := Envelope{
			ID:         uuid.NewString(),
			Source:     entry.Source,
			Time:       time.Now().UTC().Format(time.RFC3339Nano),
			Region:     "us-east-1",
			Account:    "000000000000",
			DetailType: entry.DetailType,
			Detail:     entry.Detail,
		}
		results[i] = PutEventsResult{EventID: envelope.ID}
		e.route(busName, envelope)
	}
	return results, nil
}

func (e *Engine) route(busName string, envelope Envelope) {
	b, err := e.lookupBus(busName)
	if err != nil {
		e.log.WithField("bus", busName).Warn("put_events targeted an unknown bus")
		return
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		e.log.WithError(err).Error("marshal event envelope")
		return
	}

	b.mu.RLock()
	rules := make([]Rule, 0, len(b.rules))
	for _, r := range b.rules {
		rules = append(rules, *r)
	}
	b.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled || len(rule.Pattern) == 0 {
			continue
		}
		if !rule.Pattern.Matches(gjson.ParseBytes(raw)) {
			continue
		}
		e.dispatchTargets(rule, envelope)
	}
}

func (e *Engine) dispatchTargets(rule Rule, envelope Envelope) {
	for _, target := range rule.Targets {
		go e.invokeTarget(target, envelope)
	}
}

func (e *Engine) invokeTarget(functionName string, envelope Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("function", functionName).Errorf("event bus dispatch panicked: %v", r)
		}
	}()
	if e.compute == nil {
		return
	}
	e.compute.InvokeAsync(functionName, envelope)
}

// fireScheduled builds a synthetic "Scheduled Event" envelope and
// dispatches it to a rule's targets, called by the scheduler on fire.
func (e *Engine) fireScheduled(rule Rule) {
	detail, _ := json.Marshal(map[string]string{})
	envelope := Envelope{
		ID:         uuid.NewString(),
		Source:     "corestack.scheduler",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Region:     "us-east-1",
		Account:    "000000000000",
		DetailType: "Scheduled Event",
		Detail:     detail,
	}
	e.dispatchTargets(rule, envelope)
}

// Names returns the sorted bus-name registry entries the dispatch fabric
// consults for name resolution.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.buses))
	for name := range e.buses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
