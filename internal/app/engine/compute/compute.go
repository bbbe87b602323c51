// Package compute implements the local stand-in for the subprocess-based
// compute-function runner spec.md section 1 places out of scope ("we
// define only the invocation contract"): an in-process goja JavaScript
// runtime per invocation, bounded by the function's configured timeout.
//
// Grounded on the teacher's internal/services/functions/tee_executor.go:
// one goja.Runtime per call, a console shim collecting log lines, a
// goroutine that calls rt.Interrupt when the invocation's context is
// done, and the function source wrapped so both plain-value and
// function-expression handlers work uniformly.
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// FunctionConfig describes one registered compute function.
type FunctionConfig struct {
	Name    string
	Handler string
	Source  string // inline JS source; the exported handler is invoked with (event, context)
	Timeout time.Duration
	Env     map[string]string
}

// InvocationResult is what a synchronous invoke returns.
type InvocationResult struct {
	Output interface{}
	Logs   []string
}

// Engine owns every registered function and runs invocations against
// goja runtimes.
type Engine struct {
	log       *logrus.Entry
	functions map[string]FunctionConfig
}

// New constructs an empty compute engine.
func New(log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{log: log, functions: make(map[string]FunctionConfig)}
}

// Register declares a function. Re-declaring an existing name replaces
// its configuration.
func (e *Engine) Register(cfg FunctionConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	e.functions[cfg.Name] = cfg
}

func (e *Engine) lookup(name string) (FunctionConfig, error) {
	cfg, ok := e.functions[name]
	if !ok {
		return FunctionConfig{}, apperrors.NotFound("ResourceNotFoundException", "function does not exist: "+name)
	}
	return cfg, nil
}

// Invoke runs functionName synchronously against event, returning its
// exported return value. The call is bounded by the function's
// configured timeout; on expiry the runtime is interrupted and a Timeout
// error is returned, matching the absolute-deadline-per-invocation model
// of spec.md 5.
func (e *Engine) Invoke(ctx context.Context, functionName string, event interface{}) (*InvocationResult, error) {
	cfg, err := e.lookup(functionName)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	rt := goja.New()
	logs := attachConsole(rt)
	if err := rt.Set("event", event); err != nil {
		return nil, apperrors.Internal("InternalServerError", "bind event", err)
	}
	if err := rt.Set("env", cfg.Env); err != nil {
		return nil, apperrors.Internal("InternalServerError", "bind env", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-runCtx.Done():
			rt.Interrupt(runCtx.Err())
		case <-stop:
		}
	}()

	script := fmt.Sprintf(`(function() {
	const handler = (%s);
	if (typeof handler === 'function') {
		return handler(event, {functionName: %q});
	}
	return handler;
})();`, cfg.Source, functionName)

	val, runErr := rt.RunString(script)
	if runErr != nil {
		if runCtx.Err() != nil {
			return nil, apperrors.Timeout("ServiceUnavailableException", "function invocation timed out")
		}
		return nil, apperrors.Internal("InternalServerError", runtimeErrorMessage(runErr), runErr)
	}

	return &InvocationResult{Output: val.Export(), Logs: *logs}, nil
}

// InvokeAsync runs functionName in a background goroutine, discarding its
// result. Used by dispatch-fabric fan-outs (topic, event bus, queue
// poller) that must not block the caller on a compute invocation.
// Failures are logged, never surfaced to the publisher/sender.
func (e *Engine) InvokeAsync(functionName string, event interface{}) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("function", functionName).Errorf("compute invocation panicked: %v", r)
			}
		}()
		if _, err := e.Invoke(context.Background(), functionName, event); err != nil {
			e.log.WithField("function", functionName).WithError(err).Error("async compute invocation failed")
		}
	}()
}

func attachConsole(rt *goja.Runtime) *[]string {
	logs := &[]string{}
	console := rt.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		*logs = append(*logs, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("info", logFn)
	_ = console.Set("warn", logFn)
	_ = console.Set("error", logFn)
	_ = rt.Set("console", console)
	return logs
}

func runtimeErrorMessage(err error) string {
	if exc, ok := err.(*goja.Exception); ok {
		return exc.Error()
	}
	return err.Error()
}

// MarshalEvent renders an arbitrary Go value as the JSON a function
// source would see via JSON.stringify(event); used by adapters building
// human-readable invocation logs.
func MarshalEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}
