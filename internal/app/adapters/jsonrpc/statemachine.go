package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/corestack-dev/corestack/internal/app/engine/statemachine"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

type createStateMachineRequest struct {
	Name       string          `json:"name"`
	Definition string          `json:"definition"`
	Type       string          `json:"type"` // "STANDARD" | "EXPRESS"
}

type startExecutionRequest struct {
	StateMachineArn string          `json:"stateMachineArn"`
	Name            string          `json:"name,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
}

type describeExecutionRequest struct {
	ExecutionArn string `json:"executionArn"`
}

type listExecutionsRequest struct {
	StateMachineArn string `json:"stateMachineArn"`
}

// MountStateMachine wires every Step Functions-dialect operation onto the
// handler. Per SPEC_FULL.md's original_source confirmation, the state
// machine name is taken as the trailing segment of stateMachineArn where
// one is supplied on execution calls.
func MountStateMachine(engine *statemachine.Engine) http.Handler {
	r := NewRouter()
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		switch TargetOperation(req) {
		case "CreateStateMachine":
			var body createStateMachineRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			arn, err := engine.CreateStateMachine(body.Name, json.RawMessage(body.Definition), body.Type == "EXPRESS")
			if err != nil {
				WriteError(w, statemachineValidationError(err))
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"stateMachineArn": arn, "creationDate": time.Now().UTC()})

		case "StartExecution":
			var body startExecutionRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			var input interface{}
			if len(body.Input) > 0 {
				_ = json.Unmarshal(body.Input, &input)
			}
			exec, err := engine.StartExecution(req.Context(), machineNameFromARN(body.StateMachineArn), body.Name, input)
			if err != nil {
				WriteError(w, statemachineValidationError(err))
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"executionArn": exec.ARN, "startDate": exec.StartedAt.UTC()})

		case "StartSyncExecution":
			var body startExecutionRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			var input interface{}
			if len(body.Input) > 0 {
				_ = json.Unmarshal(body.Input, &input)
			}
			ctx, cancel := context.WithTimeout(req.Context(), 30*time.Second)
			defer cancel()
			exec, err := engine.StartSyncExecution(ctx, machineNameFromARN(body.StateMachineArn), body.Name, input)
			if err != nil {
				WriteError(w, statemachineValidationError(err))
				return
			}
			outBytes, _ := json.Marshal(exec.Output)
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"executionArn": exec.ARN, "status": string(exec.Status),
				"output": string(outBytes), "error": exec.Error, "cause": exec.Cause,
			})

		case "DescribeExecution":
			var body describeExecutionRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			exec, err := engine.DescribeExecution(body.ExecutionArn)
			if err != nil {
				WriteError(w, statemachineValidationError(err))
				return
			}
			inBytes, _ := json.Marshal(exec.Input)
			outBytes, _ := json.Marshal(exec.Output)
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"executionArn": exec.ARN, "stateMachineArn": exec.StateMachineARN,
				"name": exec.Name, "status": string(exec.Status),
				"input": string(inBytes), "output": string(outBytes),
				"error": exec.Error, "cause": exec.Cause,
			})

		case "ListExecutions":
			var body listExecutionsRequest
			if err := DecodeBody(req, &body); err != nil {
				WriteError(w, err)
				return
			}
			execs, err := engine.ListExecutions(machineNameFromARN(body.StateMachineArn))
			if err != nil {
				WriteError(w, statemachineValidationError(err))
				return
			}
			WriteJSON(w, http.StatusOK, map[string]interface{}{"executions": execs})

		case "ListStateMachines":
			WriteJSON(w, http.StatusOK, map[string]interface{}{"stateMachines": engine.ListStateMachines()})

		default:
			WriteError(w, UnknownOperation(TargetOperation(req)))
		}
	})
	return r
}

// machineNameFromARN trims "arn:aws:states:...:stateMachine:{name}" down
// to the trailing name segment; a bare name passes through unchanged.
func machineNameFromARN(arn string) string {
	for i := len(arn) - 1; i >= 0; i-- {
		if arn[i] == ':' {
			return arn[i+1:]
		}
	}
	return arn
}

// statemachineValidationError maps the engine's plain "does not exist"
// errors onto the named exceptions original_source's stepfunctions/
// routes.py returns (StateMachineDoesNotExist, ExecutionDoesNotExist),
// since statemachine.Engine returns fmt.Errorf rather than *ServiceError.
func statemachineValidationError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "state machine does not exist"):
		return apperrors.NotFound("StateMachineDoesNotExist", msg)
	case strings.Contains(msg, "execution does not exist"):
		return apperrors.NotFound("ExecutionDoesNotExist", msg)
	case strings.Contains(msg, "parse state machine definition") || strings.Contains(msg, "definition missing"):
		return apperrors.Validation("InvalidDefinition", msg)
	default:
		return err
	}
}
