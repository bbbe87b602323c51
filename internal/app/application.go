// Package app wires every engine, protocol adapter, and background loop
// into one running emulator instance.
//
// Grounded on the teacher's internal/app/httpapi/service.go for the
// per-listener system.Service shape and on cmd/gateway/main.go for the
// overall "construct engines, construct adapters, register with a
// system.Manager, start" sequencing.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corestack-dev/corestack/internal/app/adapters/formaction"
	"github.com/corestack-dev/corestack/internal/app/adapters/jsonrpc"
	"github.com/corestack-dev/corestack/internal/app/adapters/restpath"
	"github.com/corestack-dev/corestack/internal/app/controlplane"
	"github.com/corestack-dev/corestack/internal/app/engine/compute"
	"github.com/corestack-dev/corestack/internal/app/engine/eventbus"
	"github.com/corestack-dev/corestack/internal/app/engine/identity"
	"github.com/corestack-dev/corestack/internal/app/engine/objecttables"
	"github.com/corestack-dev/corestack/internal/app/engine/objectstore"
	"github.com/corestack-dev/corestack/internal/app/engine/parameterstore"
	"github.com/corestack-dev/corestack/internal/app/engine/queue"
	"github.com/corestack-dev/corestack/internal/app/engine/secretstore"
	"github.com/corestack-dev/corestack/internal/app/engine/statemachine"
	"github.com/corestack-dev/corestack/internal/app/engine/table"
	"github.com/corestack-dev/corestack/internal/app/engine/topic"
	"github.com/corestack-dev/corestack/internal/app/fabric"
	"github.com/corestack-dev/corestack/internal/app/httpserver"
	"github.com/corestack-dev/corestack/internal/app/logstream"
	"github.com/corestack-dev/corestack/internal/app/metrics"
	"github.com/corestack-dev/corestack/internal/app/middleware"
	"github.com/corestack-dev/corestack/internal/app/system"
	"github.com/corestack-dev/corestack/internal/config"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// serviceMiddlewareKey maps each engine's config name to the AWS-style
// key middleware.ServiceExtractors and the wire error format expect.
var serviceMiddlewareKey = map[string]string{
	"queue":          "sqs",
	"table":          "dynamodb",
	"objectstore":    "s3",
	"objecttables":   "s3tables",
	"topic":          "sns",
	"eventbus":       "events",
	"statemachine":   "stepfunctions",
	"parameterstore": "ssm",
	"secretstore":    "secretsmanager",
	"identity":       "identity",
}

var serviceErrorFormat = map[string]middleware.ErrorFormat{
	"sqs":            middleware.ErrorFormatXMLIAM,
	"sns":            middleware.ErrorFormatXMLIAM,
	"dynamodb":       middleware.ErrorFormatJSON,
	"s3":             middleware.ErrorFormatXMLS3,
	"s3tables":       middleware.ErrorFormatJSON,
	"events":         middleware.ErrorFormatJSON,
	"stepfunctions":  middleware.ErrorFormatJSON,
	"ssm":            middleware.ErrorFormatJSON,
	"secretsmanager": middleware.ErrorFormatJSON,
	"identity":       middleware.ErrorFormatXMLIAM,
}

// funcService adapts a pair of start/stop closures (the shape every
// background-loop-owning engine exposes, e.g. table.Dispatcher and
// eventbus.Engine's scheduler) to system.Service.
type funcService struct {
	name  string
	start func()
	stop  func()
}

func (s funcService) Name() string { return s.name }
func (s funcService) Start(ctx context.Context) error {
	s.start()
	return nil
}
func (s funcService) Stop(ctx context.Context) error {
	s.stop()
	return nil
}

// Application owns every engine, adapter, and background service that
// make up one running emulator instance.
type Application struct {
	cfg *config.Config
	log *logrus.Entry

	manager *system.Manager
	fabric  *fabric.Manager
	hub     *logstream.Hub

	Queue          *queue.Engine
	Table          *table.Engine
	ObjectStore    *objectstore.Engine
	ObjectTables   *objecttables.Engine
	Topic          *topic.Engine
	EventBus       *eventbus.Engine
	StateMachine   *statemachine.Engine
	Compute        *compute.Engine
	ParameterStore *parameterstore.Engine
	SecretStore    *secretstore.Engine
	Identity       *identity.Engine

	chaosStates controlplane.ChaosStates
	mockStates  controlplane.MockStates
}

// New constructs every engine, wires cross-service capabilities, applies
// configured resources, and registers every listener and background
// loop with the lifecycle manager. It does not start anything.
func New(cfg *config.Config, log *logrus.Entry) (*Application, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{
		cfg:         cfg,
		log:         log,
		manager:     system.NewManager(),
		hub:         logstream.NewHub(log.WithField("component", "logstream")),
		chaosStates: controlplane.ChaosStates{},
		mockStates:  controlplane.MockStates{},
	}

	a.Compute = compute.New(log.WithField("engine", "compute"))
	a.Queue = queue.New()
	a.ObjectStore = objectstore.New()
	a.ObjectTables = objecttables.New()
	a.Topic = topic.New(a.Queue, a.Compute, log.WithField("engine", "topic"))
	a.EventBus = eventbus.New(a.Compute, log.WithField("engine", "eventbus"))
	a.StateMachine = statemachine.New(a.Compute, 0, log.WithField("engine", "statemachine"))
	a.ParameterStore = parameterstore.New()
	a.SecretStore = secretstore.New()

	a.Identity = identity.New(cfg.Identity.SigningSecret, time.Duration(cfg.Identity.TokenTTLSecs)*time.Second)

	dispatcher := table.NewDispatcher(0, 0, log.WithField("engine", "table-stream"))
	a.Table = table.New(dispatcher)

	a.fabric = fabric.New(a.Queue, a.Compute, metrics.QueuePollerHooks(), log.WithField("component", "fabric"))

	if err := a.applyResources(); err != nil {
		return nil, err
	}
	a.publishRegistry()

	if err := a.registerBackgroundServices(dispatcher); err != nil {
		return nil, err
	}
	if err := a.registerListeners(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Application) publishRegistry() {
	reg := a.fabric.Registry()
	reg.Publish("queue", a.Queue.Names())
	reg.Publish("table", a.Table.Names())
	reg.Publish("objectstore", a.ObjectStore.Names())
	reg.Publish("objecttables", a.ObjectTables.Names())
	reg.Publish("topic", a.Topic.Names())
	reg.Publish("eventbus", a.EventBus.Names())
	reg.Publish("statemachine", a.StateMachine.Names())
	reg.Publish("parameterstore", a.ParameterStore.Names())
	reg.Publish("secretstore", a.SecretStore.Names())
	reg.Publish("identity", a.Identity.Names())
}

func (a *Application) registerBackgroundServices(dispatcher *table.Dispatcher) error {
	if err := a.manager.Register(funcService{name: "table-stream-dispatcher", start: dispatcher.Start, stop: dispatcher.Stop}); err != nil {
		return err
	}
	if err := a.manager.Register(funcService{name: "eventbus-scheduler", start: a.EventBus.Start, stop: a.EventBus.Stop}); err != nil {
		return err
	}
	if err := a.manager.Register(a.fabric); err != nil {
		return err
	}
	return nil
}

func (a *Application) registerListeners() error {
	for name, svcCfg := range a.cfg.Services {
		if !svcCfg.Enabled {
			continue
		}
		handler, err := a.buildAdapter(name, svcCfg)
		if err != nil {
			return err
		}
		if handler == nil {
			continue
		}
		addr := fmt.Sprintf(":%d", svcCfg.Port)
		srv := httpserver.New(name, addr, handler, a.log.WithField("listener", name))
		if err := a.manager.Register(srv); err != nil {
			return err
		}
	}

	controlHandler := http.StripPrefix("/_ldk", controlplane.Handler{
		Manager:  a.manager,
		Registry: a.fabric.Registry(),
		Chaos:    a.chaosStates,
		Mock:     a.mockStates,
	}.Mount())
	controlAddr := fmt.Sprintf(":%d", a.cfg.Global.ControlPlanePort)
	if err := a.manager.Register(httpserver.New("control-plane", controlAddr, controlHandler, a.log.WithField("listener", "control-plane"))); err != nil {
		return err
	}
	if err := a.manager.Register(httpserver.New("logstream", ":9099", a.hub, a.log.WithField("listener", "logstream"))); err != nil {
		return err
	}

	if a.cfg.Global.MetricsEnabled {
		metricsAddr := fmt.Sprintf(":%d", a.cfg.Global.MetricsPort)
		if err := a.manager.Register(httpserver.New("metrics", metricsAddr, metrics.Handler(), a.log.WithField("listener", "metrics"))); err != nil {
			return err
		}
	}

	return nil
}

func (a *Application) buildAdapter(name string, svcCfg config.ServiceConfig) (http.Handler, error) {
	middlewareKey, ok := serviceMiddlewareKey[name]
	if !ok {
		return nil, fmt.Errorf("service %q has no known middleware key", name)
	}

	chaosState := middleware.NewChaosState()
	mockState := middleware.NewMockState(name)
	a.chaosStates[middlewareKey] = chaosState
	a.mockStates[middlewareKey] = mockState

	authMode := middleware.AuthModeDisabled
	if a.cfg.Identity.Enabled {
		if a.cfg.Identity.EnforceMode {
			authMode = middleware.AuthModeEnforce
		} else {
			authMode = middleware.AuthModeAudit
		}
	}

	chain := middleware.ServiceChain{
		Service: middlewareKey,
		Chaos:   chaosState,
		Mock:    mockState,
		Auth: middleware.AuthConfig{
			Mode:            authMode,
			IdentityHeader:  a.cfg.Identity.HeaderName,
			DefaultIdentity: a.cfg.Identity.DefaultActor,
		},
		Identity:  a.Identity,
		ErrorFmt:  serviceErrorFormat[middlewareKey],
		Publisher: a.hub,
		Log:       a.log.WithField("service", name),
	}

	raw, err := a.mountEngine(name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	wrapped := chain.Wrap(raw)
	return metrics.InstrumentHandler(middlewareKey, wrapped), nil
}

func (a *Application) mountEngine(name string) (http.Handler, error) {
	switch name {
	case "queue":
		return formaction.MountQueue(a.Queue), nil
	case "table":
		return jsonrpc.MountTable(a.Table), nil
	case "objectstore":
		return restpath.MountObjectStore(a.ObjectStore), nil
	case "objecttables":
		return restpath.MountObjectTables(a.ObjectTables), nil
	case "topic":
		return formaction.MountTopic(a.Topic), nil
	case "eventbus":
		return jsonrpc.MountEvents(a.EventBus), nil
	case "statemachine":
		return jsonrpc.MountStateMachine(a.StateMachine), nil
	case "parameterstore":
		return jsonrpc.MountParameterStore(a.ParameterStore), nil
	case "secretstore":
		return jsonrpc.MountSecretStore(a.SecretStore), nil
	case "identity":
		return formaction.MountIdentity(a.Identity), nil
	default:
		return nil, apperrors.Validation("UnknownServiceException", "unknown service: "+name)
	}
}

// applyResources declares every resource named in the configuration
// document against its owning engine, and registers compute functions and
// queue-sourced event source mappings. Identity policies in the document
// are not applied: no identity is created or given a policy here.
func (a *Application) applyResources() error {
	for _, fn := range a.cfg.Functions {
		a.Compute.Register(compute.FunctionConfig{
			Name:    fn.Name,
			Handler: fn.Handler,
			Source:  fn.Source,
			Timeout: time.Duration(fn.TimeoutSeconds) * time.Second,
			Env:     fn.Env,
		})
	}

	for _, q := range a.cfg.Resources.Queues {
		if err := a.Queue.Create(queueAttrsFrom(q)); err != nil {
			return fmt.Errorf("declare queue %q: %w", q.Name, err)
		}
	}

	for _, t := range a.cfg.Resources.Tables {
		if err := a.declareTable(t); err != nil {
			return err
		}
	}

	for _, b := range a.cfg.Resources.Buckets {
		if err := a.ObjectStore.CreateBucket(b.Name); err != nil {
			return fmt.Errorf("declare bucket %q: %w", b.Name, err)
		}
	}

	for _, tb := range a.cfg.Resources.TableBuckets {
		if err := a.declareTableBucket(tb); err != nil {
			return err
		}
	}

	for _, tp := range a.cfg.Resources.Topics {
		arn := a.Topic.CreateTopic(tp.Name)
		for _, sub := range tp.Subscriptions {
			if _, err := a.Topic.Subscribe(arn, topic.Protocol(sub.Protocol), sub.Endpoint, filterPolicyFromMap(sub.FilterPolicy)); err != nil {
				return fmt.Errorf("declare subscription on topic %q: %w", tp.Name, err)
			}
		}
	}

	for _, b := range a.cfg.Resources.EventBuses {
		busArn := a.EventBus.CreateEventBus(b.Name)
		_ = busArn
		for _, rule := range b.Rules {
			if _, err := a.EventBus.PutRule(b.Name, eventbus.Rule{
				Name:     rule.Name,
				Pattern:  patternFromMap(rule.Pattern),
				Schedule: rule.Schedule,
				Enabled:  rule.Enabled,
			}); err != nil {
				return fmt.Errorf("declare rule %q on bus %q: %w", rule.Name, b.Name, err)
			}
			if len(rule.Targets) > 0 {
				if err := a.EventBus.PutTargets(b.Name, rule.Name, rule.Targets); err != nil {
					return fmt.Errorf("declare targets for rule %q: %w", rule.Name, err)
				}
			}
		}
	}

	for _, sm := range a.cfg.Resources.StateMachines {
		if _, err := a.StateMachine.CreateStateMachine(sm.Name, sm.Definition, sm.Express); err != nil {
			return fmt.Errorf("declare state machine %q: %w", sm.Name, err)
		}
	}

	for _, p := range a.cfg.Resources.Parameters {
		if _, err := a.ParameterStore.Put(p.Name, p.Value, parameterstore.ValueType(p.Type)); err != nil {
			return fmt.Errorf("declare parameter %q: %w", p.Name, err)
		}
	}

	for _, s := range a.cfg.Resources.Secrets {
		if _, err := a.SecretStore.CreateOrUpdate(s.Name, s.Value); err != nil {
			return fmt.Errorf("declare secret %q: %w", s.Name, err)
		}
	}

	for _, policy := range a.cfg.Identity.Policies {
		_ = policy // configured policy documents are not attached to any identity
	}

	for _, mapping := range a.cfg.EventSourceMappings {
		if mapping.SourceType != "queue" {
			continue
		}
		a.fabric.AddEventSourceMapping(fabric.EventSourceMapping{
			QueueName:   mapping.SourceName,
			ComputeName: mapping.Function,
			BatchSize:   mapping.BatchSize,
			Enabled:     mapping.Enabled,
		})
	}

	return nil
}

func patternFromMap(raw map[string]interface{}) eventbus.Pattern {
	if len(raw) == 0 {
		return nil
	}
	pattern := make(eventbus.Pattern, len(raw))
	for k, v := range raw {
		if list, ok := v.([]interface{}); ok {
			specs := make([]eventbus.PatternSpec, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					value := s
					specs = append(specs, eventbus.PatternSpec{Exact: &value})
				}
			}
			pattern[k] = specs
		}
	}
	return pattern
}

func queueAttrsFrom(q config.QueueResource) queue.Attributes {
	return queue.Attributes{
		Name:              q.Name,
		VisibilityTimeout: time.Duration(q.VisibilityTimeout) * time.Second,
		FIFO:              q.FIFO,
		ContentBasedDedup: q.ContentBasedDedup,
		DeadLetterTarget:  q.DeadLetterTarget,
		MaxReceiveCount:   q.MaxReceiveCount,
	}
}

func (a *Application) declareTableBucket(tb config.TableBucketResource) error {
	if _, err := a.ObjectTables.CreateTableBucket(tb.Name); err != nil {
		return fmt.Errorf("declare table bucket %q: %w", tb.Name, err)
	}
	for _, ns := range tb.Namespaces {
		if _, err := a.ObjectTables.CreateNamespace(tb.Name, []string{ns.Name}); err != nil {
			return fmt.Errorf("declare namespace %q on table bucket %q: %w", ns.Name, tb.Name, err)
		}
		for _, t := range ns.Tables {
			if _, err := a.ObjectTables.CreateTable(tb.Name, ns.Name, t.Name, t.Format); err != nil {
				return fmt.Errorf("declare table %q in namespace %q: %w", t.Name, ns.Name, err)
			}
		}
	}
	return nil
}

func (a *Application) declareTable(t config.TableResource) error {
	schema := table.KeySchema{PartitionKey: t.PartitionKey, SortKey: t.SortKey}
	var stream *table.StreamConfig
	if t.StreamViewType != "" {
		stream = &table.StreamConfig{View: table.ViewType(t.StreamViewType)}
	}
	return a.Table.CreateTable(t.Name, schema, stream)
}

// filterPolicyFromMap converts a subscription's generically-decoded
// FilterPolicy document (string attribute name to list of accepted
// exact-match values) into an engine-level exact-match FilterPolicy.
func filterPolicyFromMap(raw map[string]interface{}) topic.FilterPolicy {
	if len(raw) == 0 {
		return nil
	}
	policy := make(topic.FilterPolicy, len(raw))
	for attr, v := range raw {
		list, ok := v.([]interface{})
		if !ok {
			continue
		}
		specs := make([]topic.MatchSpec, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				value := s
				specs = append(specs, topic.MatchSpec{Exact: &value})
			}
		}
		if len(specs) > 0 {
			policy[attr] = specs
		}
	}
	return policy
}

// Start brings up every registered background service and listener.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop tears down every registered service in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Manager exposes the lifecycle manager for callers that need direct
// access (tests, the control plane's own resource inventory).
func (a *Application) Manager() *system.Manager { return a.manager }
