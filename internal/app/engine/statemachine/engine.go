package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Status is an execution's monotonic lifecycle stage.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusAborted   Status = "ABORTED"
)

// StateMachine is one registered definition.
type StateMachine struct {
	Name       string
	ARN        string
	Definition Definition
	Express    bool
}

// Execution is one tracked run.
type Execution struct {
	ARN             string
	StateMachineARN string
	Name            string
	Status          Status
	Input           interface{}
	Output          interface{}
	Error           string
	Cause           string
	StartedAt       time.Time
	StoppedAt       time.Time
}

// maxHistory bounds the number of tracked executions per state machine,
// matching spec.md 4.6's "bounded history of executions".
const maxHistory = 200

// Engine owns every registered state machine and its execution history.
type Engine struct {
	log     *logrus.Entry
	compute ComputeInvoker
	maxWait time.Duration

	mu          sync.RWMutex
	machines    map[string]*StateMachine
	executions  map[string][]*Execution // state machine ARN -> executions, newest last
	executionByARN map[string]*Execution
}

// New constructs an empty state-machine engine. maxWait bounds every
// Wait-state sleep and retry backoff within an execution, matching the
// caller-supplied wait ceiling spec.md 4.6 calls for in tests.
func New(compute ComputeInvoker, maxWait time.Duration, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &Engine{
		log:            log,
		compute:        compute,
		maxWait:        maxWait,
		machines:       make(map[string]*StateMachine),
		executions:     make(map[string][]*Execution),
		executionByARN: make(map[string]*Execution),
	}
}

func stateMachineARN(name string) string {
	return "arn:aws:states:us-east-1:000000000000:stateMachine:" + name
}

func executionARN(machineName, executionName string) string {
	return "arn:aws:states:us-east-1:000000000000:execution:" + machineName + ":" + executionName
}

// CreateStateMachine registers (or replaces) a definition.
func (e *Engine) CreateStateMachine(name string, raw json.RawMessage, express bool) (string, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return "", fmt.Errorf("parse state machine definition: %w", err)
	}
	if def.StartAt == "" || len(def.States) == 0 {
		return "", fmt.Errorf("definition missing StartAt or States")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	arn := stateMachineARN(name)
	e.machines[name] = &StateMachine{Name: name, ARN: arn, Definition: def, Express: express}
	return arn, nil
}

func (e *Engine) lookup(name string) (*StateMachine, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.machines[name]
	if !ok {
		return nil, fmt.Errorf("state machine does not exist: %s", name)
	}
	return m, nil
}

// StartExecution launches a standard (asynchronous) execution and
// returns immediately with its ARN; the run proceeds in the background.
func (e *Engine) StartExecution(ctx context.Context, machineName, executionName string, input interface{}) (*Execution, error) {
	machine, err := e.lookup(machineName)
	if err != nil {
		return nil, err
	}
	if executionName == "" {
		executionName = uuid.NewString()
	}
	exec := &Execution{
		ARN:             executionARN(machineName, executionName),
		StateMachineARN: machine.ARN,
		Name:            executionName,
		Status:          StatusRunning,
		Input:           input,
		StartedAt:       time.Now(),
	}
	e.track(machine.ARN, exec)

	go e.execute(context.Background(), machine, exec)
	return exec, nil
}

// StartSyncExecution runs an express state machine to completion and
// returns its final status, blocking the caller.
func (e *Engine) StartSyncExecution(ctx context.Context, machineName, executionName string, input interface{}) (*Execution, error) {
	machine, err := e.lookup(machineName)
	if err != nil {
		return nil, err
	}
	if executionName == "" {
		executionName = uuid.NewString()
	}
	exec := &Execution{
		ARN:             executionARN(machineName, executionName),
		StateMachineARN: machine.ARN,
		Name:            executionName,
		Status:          StatusRunning,
		Input:           input,
		StartedAt:       time.Now(),
	}
	e.track(machine.ARN, exec)
	e.execute(ctx, machine, exec)
	return exec, nil
}

func (e *Engine) execute(ctx context.Context, machine *StateMachine, exec *Execution) {
	r := &runner{compute: e.compute, maxWait: e.maxWait}
	out, err := r.run(ctx, machine.Definition, exec.Input)

	e.mu.Lock()
	defer e.mu.Unlock()
	exec.StoppedAt = time.Now()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			exec.Status = StatusTimedOut
		} else {
			exec.Status = StatusFailed
		}
		if se, ok := err.(*stateError); ok {
			exec.Error, exec.Cause = se.Name, se.Cause
		} else {
			exec.Error = "States.TaskFailed"
			exec.Cause = err.Error()
		}
		e.log.WithField("execution", exec.ARN).WithError(err).Warn("state machine execution failed")
		return
	}
	exec.Status = StatusSucceeded
	exec.Output = out
}

func (e *Engine) track(machineARN string, exec *Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := append(e.executions[machineARN], exec)
	if len(list) > maxHistory {
		list = list[len(list)-maxHistory:]
	}
	e.executions[machineARN] = list
	e.executionByARN[exec.ARN] = exec
}

// DescribeExecution returns a snapshot of one tracked execution.
func (e *Engine) DescribeExecution(arn string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executionByARN[arn]
	if !ok {
		return nil, fmt.Errorf("execution does not exist: %s", arn)
	}
	cp := *exec
	return &cp, nil
}

// ListExecutions returns every tracked execution for a state machine,
// newest first.
func (e *Engine) ListExecutions(machineName string) ([]Execution, error) {
	machine, err := e.lookup(machineName)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.executions[machine.ARN]
	out := make([]Execution, len(list))
	for i := range list {
		out[len(list)-1-i] = *list[i]
	}
	return out, nil
}

// ListStateMachines returns every registered state machine, sorted by
// name.
func (e *Engine) ListStateMachines() []StateMachine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]StateMachine, 0, len(e.machines))
	for _, m := range e.machines {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every state machine name, sorted, for the dispatch
// fabric's name registry.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.machines))
	for name := range e.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
