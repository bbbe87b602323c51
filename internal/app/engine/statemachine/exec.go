package statemachine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/corestack-dev/corestack/internal/app/engine/compute"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// ComputeInvoker abstracts the compute engine so a Task state can invoke
// a function by name; satisfied directly by *compute.Engine.
type ComputeInvoker interface {
	Invoke(ctx context.Context, functionName string, event interface{}) (*compute.InvocationResult, error)
}

// stateError is the internal representation of a failed state, carrying
// the two fields AWS-style Fail states and Catch envelopes expose.
type stateError struct {
	Name  string
	Cause string
}

func (e *stateError) Error() string { return fmt.Sprintf("%s: %s", e.Name, e.Cause) }

func errorEnvelope(err error) map[string]interface{} {
	var name, cause string
	if se, ok := err.(*stateError); ok {
		name, cause = se.Name, se.Cause
	} else {
		name, cause = "States.TaskFailed", err.Error()
	}
	return map[string]interface{}{"Error": name, "Cause": cause}
}

// runner walks one Definition against an input, bounded by maxWait for
// any Wait-state sleep (test determinism) and invoking Task resources
// through compute.
type runner struct {
	compute ComputeInvoker
	maxWait time.Duration
}

// mapContext is the "$$" context object available to Map iteration
// Parameters, per _examples/original_source test
// test_stepfunctions_engine_map_state.py ("value.$": "$$.Map.Item.Value").
func mapContext(index int, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"Map": map[string]interface{}{
			"Item": map[string]interface{}{
				"Index": index,
				"Value": value,
			},
		},
	}
}

// run executes def starting at def.StartAt with the given input,
// returning the final output or an unrecovered error.
func (r *runner) run(ctx context.Context, def Definition, input interface{}) (interface{}, error) {
	current := def.StartAt
	value := input
	for {
		state, ok := def.States[current]
		if !ok {
			return nil, fmt.Errorf("no such state %q", current)
		}
		next, out, err := r.step(ctx, current, state, value)
		if err != nil {
			return nil, err
		}
		value = out
		if next == "" {
			return value, nil
		}
		current = next
	}
}

// step executes a single state, returning the name of the next state
// ("" if terminal) and the value to carry forward.
func (r *runner) step(ctx context.Context, name string, state State, input interface{}) (string, interface{}, error) {
	switch state.Type {
	case "Pass":
		return r.stepPass(state, input)
	case "Task":
		return r.stepTask(ctx, state, input)
	case "Choice":
		return r.stepChoice(state, input)
	case "Wait":
		return r.stepWait(ctx, state, input)
	case "Parallel":
		return r.stepParallel(ctx, state, input)
	case "Map":
		return r.stepMap(ctx, state, input)
	case "Succeed":
		return "", input, nil
	case "Fail":
		return "", nil, &stateError{Name: valueOr(state.Error, "States.Fail"), Cause: state.Cause}
	default:
		return "", nil, fmt.Errorf("state %q: unsupported type %q", name, state.Type)
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (r *runner) stepPass(state State, input interface{}) (string, interface{}, error) {
	projected, err := applyInputPath(state.InputPath, input)
	if err != nil {
		return "", nil, err
	}
	var result interface{} = projected
	if literal, present, err := decodeResult(state.Result); err != nil {
		return "", nil, err
	} else if present {
		result = literal
	} else if len(state.Parameters) > 0 {
		result, err = applyParameters(state.Parameters, projected, nil)
		if err != nil {
			return "", nil, err
		}
	}
	merged, err := applyResultPath(state.ResultPath, projected, result)
	if err != nil {
		return "", nil, err
	}
	output, err := applyOutputPath(state.OutputPath, merged)
	if err != nil {
		return "", nil, err
	}
	return terminalNext(state), output, nil
}

func terminalNext(state State) string {
	if state.End {
		return ""
	}
	return state.Next
}

func (r *runner) stepTask(ctx context.Context, state State, input interface{}) (string, interface{}, error) {
	projected, err := applyInputPath(state.InputPath, input)
	if err != nil {
		return "", nil, err
	}
	taskInput := projected
	if len(state.Parameters) > 0 {
		taskInput, err = applyParameters(state.Parameters, projected, nil)
		if err != nil {
			return "", nil, err
		}
	}

	result, taskErr := r.invokeWithRetry(ctx, state, taskInput)
	if taskErr != nil {
		if next, output, caught := r.catch(state.Catch, projected, taskErr); caught {
			return next, output, nil
		}
		return "", nil, taskErr
	}

	merged, err := applyResultPath(state.ResultPath, projected, result)
	if err != nil {
		return "", nil, err
	}
	output, err := applyOutputPath(state.OutputPath, merged)
	if err != nil {
		return "", nil, err
	}
	return terminalNext(state), output, nil
}

// invokeWithRetry calls the Task's resource, applying the retry catalog
// on failure: in order, the first matching entry (by ErrorEquals or the
// States.ALL wildcard) governs up to MaxAttempts re-executions with
// IntervalSeconds * BackoffRate^attempt backoff, bounded by maxWait. Each
// retry rule tracks its own attempt count across the life of this call,
// since a single task invocation can fail with different error names on
// successive attempts and match a different catalog entry each time.
func (r *runner) invokeWithRetry(ctx context.Context, state State, input interface{}) (interface{}, error) {
	attempts := make([]int, len(state.Retry))
	for {
		out, err := r.invokeResource(ctx, state.Resource, input)
		if err == nil {
			return out, nil
		}
		idx := matchRetryRule(state.Retry, err)
		if idx < 0 || attempts[idx] >= maxAttempts(state.Retry[idx]) {
			return nil, err
		}
		rule := state.Retry[idx]
		rate := rule.BackoffRate
		if rate <= 0 {
			rate = 1
		}
		wait := time.Duration(rule.IntervalSec*math.Pow(rate, float64(attempts[idx]))) * time.Second
		if r.maxWait > 0 && wait > r.maxWait {
			wait = r.maxWait
		}
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		attempts[idx]++
	}
}

func maxAttempts(rule RetryRule) int {
	if rule.MaxAttempts <= 0 {
		return 3
	}
	return rule.MaxAttempts
}

func matchRetryRule(rules []RetryRule, err error) int {
	name := errorName(err)
	for i := range rules {
		if errorEqualsMatches(rules[i].ErrorEquals, name) {
			return i
		}
	}
	return -1
}

func errorName(err error) string {
	if se, ok := err.(*stateError); ok {
		return se.Name
	}
	return "States.TaskFailed"
}

func (r *runner) catch(rules []CatchRule, input interface{}, taskErr error) (string, interface{}, bool) {
	name := errorName(taskErr)
	for _, rule := range rules {
		if errorEqualsMatches(rule.ErrorEquals, name) {
			envelope, err := applyResultPath(rule.ResultPath, input, errorEnvelope(taskErr))
			if err != nil {
				return "", nil, false
			}
			return rule.Next, envelope, true
		}
	}
	return "", nil, false
}

func (r *runner) invokeResource(ctx context.Context, resource string, input interface{}) (interface{}, error) {
	if r.compute == nil {
		return nil, &stateError{Name: "States.TaskFailed", Cause: "no compute invoker configured"}
	}
	out, err := r.compute.Invoke(ctx, resource, input)
	if err != nil {
		if se, ok := err.(*apperrors.ServiceError); ok {
			return nil, &stateError{Name: string(se.Code), Cause: se.Message}
		}
		return nil, &stateError{Name: "States.TaskFailed", Cause: err.Error()}
	}
	return out.Output, nil
}

func (r *runner) stepChoice(state State, input interface{}) (string, interface{}, error) {
	projected, err := applyInputPath(state.InputPath, input)
	if err != nil {
		return "", nil, err
	}
	next, err := firstMatch(state.Choices, state.Default, projected)
	if err != nil {
		return "", nil, err
	}
	return next, projected, nil
}

func (r *runner) stepWait(ctx context.Context, state State, input interface{}) (string, interface{}, error) {
	projected, err := applyInputPath(state.InputPath, input)
	if err != nil {
		return "", nil, err
	}
	wait := r.waitDuration(state, projected)
	if r.maxWait > 0 && wait > r.maxWait {
		wait = r.maxWait
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	output, err := applyOutputPath(state.OutputPath, projected)
	if err != nil {
		return "", nil, err
	}
	return terminalNext(state), output, nil
}

func (r *runner) waitDuration(state State, input interface{}) time.Duration {
	if state.Seconds != nil {
		return time.Duration(*state.Seconds) * time.Second
	}
	if state.SecondsPath != nil {
		if v, err := evalPath(*state.SecondsPath, input); err == nil {
			if n, ok := v.(float64); ok {
				return time.Duration(n) * time.Second
			}
		}
	}
	if state.Timestamp != nil {
		if t, err := time.Parse(time.RFC3339, *state.Timestamp); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

func (r *runner) stepParallel(ctx context.Context, state State, input interface{}) (string, interface{}, error) {
	projected, err := applyInputPath(state.InputPath, input)
	if err != nil {
		return "", nil, err
	}

	outputs := make([]interface{}, len(state.Branches))
	errs := make([]error, len(state.Branches))
	var wg sync.WaitGroup
	for i, branch := range state.Branches {
		wg.Add(1)
		go func(i int, branch Definition) {
			defer wg.Done()
			out, err := r.run(ctx, branch, projected)
			outputs[i] = out
			errs[i] = err
		}(i, branch)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			if next, output, caught := r.catch(state.Catch, projected, err); caught {
				return next, output, nil
			}
			return "", nil, err
		}
	}

	merged, err := applyResultPath(state.ResultPath, projected, outputs)
	if err != nil {
		return "", nil, err
	}
	output, err := applyOutputPath(state.OutputPath, merged)
	if err != nil {
		return "", nil, err
	}
	return terminalNext(state), output, nil
}

func (r *runner) stepMap(ctx context.Context, state State, input interface{}) (string, interface{}, error) {
	projected, err := applyInputPath(state.InputPath, input)
	if err != nil {
		return "", nil, err
	}
	itemsPath := "$"
	if state.ItemsPath != nil {
		itemsPath = *state.ItemsPath
	}
	itemsVal, err := evalPath(itemsPath, projected)
	if err != nil {
		return "", nil, err
	}
	items, ok := itemsVal.([]interface{})
	if !ok {
		return "", nil, fmt.Errorf("Map state ItemsPath did not resolve to an array")
	}
	if state.Iterator == nil {
		return "", nil, fmt.Errorf("Map state missing Iterator")
	}

	concurrency := state.MaxConcurrency
	if concurrency <= 0 {
		concurrency = len(items)
		if concurrency == 0 {
			concurrency = 1
		}
	}

	outputs := make([]interface{}, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		itemInput := item
		if len(state.Parameters) > 0 {
			rendered, err := applyParameters(state.Parameters, item, mapContext(i, item))
			if err != nil {
				return "", nil, err
			}
			itemInput = rendered
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, itemInput interface{}) {
			defer wg.Done()
			defer func() { <-sem }()
			out, err := r.run(ctx, *state.Iterator, itemInput)
			outputs[i] = out
			errs[i] = err
		}(i, itemInput)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			if next, output, caught := r.catch(state.Catch, projected, err); caught {
				return next, output, nil
			}
			return "", nil, err
		}
	}

	merged, err := applyResultPath(state.ResultPath, projected, outputs)
	if err != nil {
		return "", nil, err
	}
	output, err := applyOutputPath(state.OutputPath, merged)
	if err != nil {
		return "", nil, err
	}
	return terminalNext(state), output, nil
}
