// Package statemachine implements the state-machine service engine: a
// parsed directed graph of typed states executed against an input value,
// matching the node's document describing Pass/Task/Choice/Wait/Parallel/
// Map/Succeed/Fail states.
//
// Grounded on _examples/original_source/src/lws/providers/stepfunctions
// (routes.py for the operation surface and ARN format) and the state
// semantics exercised by original_source/tests/unit/providers/
// test_stepfunctions_engine_*.py, since the engine/asl_parser modules
// those tests exercise were not themselves present in the retrieval pack.
package statemachine

import "encoding/json"

// Definition is a parsed state-machine document.
type Definition struct {
	StartAt string           `json:"StartAt"`
	States  map[string]State `json:"States"`
}

// State is one node in the graph. Only the fields relevant to its Type
// are meaningful; the zero value of an irrelevant field is ignored.
type State struct {
	Type    string `json:"Type"`
	Comment string `json:"Comment,omitempty"`
	Next    string `json:"Next,omitempty"`
	End     bool   `json:"End,omitempty"`

	InputPath  *string `json:"InputPath,omitempty"`
	OutputPath *string `json:"OutputPath,omitempty"`
	ResultPath *string `json:"ResultPath,omitempty"`

	// Pass
	Result json.RawMessage `json:"Result,omitempty"`

	// Pass / Task / Map
	Parameters json.RawMessage `json:"Parameters,omitempty"`

	// Task
	Resource string        `json:"Resource,omitempty"`
	Retry    []RetryRule   `json:"Retry,omitempty"`
	Catch    []CatchRule   `json:"Catch,omitempty"`
	TimeoutS int           `json:"TimeoutSeconds,omitempty"`

	// Choice
	Choices []ChoiceRule `json:"Choices,omitempty"`
	Default string       `json:"Default,omitempty"`

	// Wait
	Seconds     *int    `json:"Seconds,omitempty"`
	Timestamp   *string `json:"Timestamp,omitempty"`
	SecondsPath *string `json:"SecondsPath,omitempty"`

	// Parallel
	Branches []Definition `json:"Branches,omitempty"`

	// Map
	ItemsPath      *string    `json:"ItemsPath,omitempty"`
	MaxConcurrency int        `json:"MaxConcurrency,omitempty"`
	Iterator       *Definition `json:"Iterator,omitempty"`

	// Fail
	Error string `json:"Error,omitempty"`
	Cause string `json:"Cause,omitempty"`
}

// RetryRule is one entry of a Task state's retry catalog.
type RetryRule struct {
	ErrorEquals    []string `json:"ErrorEquals"`
	IntervalSec    float64  `json:"IntervalSeconds"`
	MaxAttempts    int      `json:"MaxAttempts"`
	BackoffRate    float64  `json:"BackoffRate"`
}

// CatchRule is one entry of a Task/Parallel/Map state's catch catalog.
type CatchRule struct {
	ErrorEquals []string `json:"ErrorEquals"`
	ResultPath  *string  `json:"ResultPath,omitempty"`
	Next        string   `json:"Next"`
}

// ChoiceRule is one branch of a Choice state: a comparison, or a
// combinator (And/Or/Not) over nested rules.
type ChoiceRule struct {
	Variable string `json:"Variable,omitempty"`
	Next     string `json:"Next,omitempty"`

	StringEquals  *string  `json:"StringEquals,omitempty"`
	NumericEquals *float64 `json:"NumericEquals,omitempty"`
	NumericGreaterThan *float64 `json:"NumericGreaterThan,omitempty"`
	NumericGreaterThanEquals *float64 `json:"NumericGreaterThanEquals,omitempty"`
	NumericLessThan *float64 `json:"NumericLessThan,omitempty"`
	NumericLessThanEquals *float64 `json:"NumericLessThanEquals,omitempty"`
	BooleanEquals *bool `json:"BooleanEquals,omitempty"`
	IsPresent     *bool `json:"IsPresent,omitempty"`

	And []ChoiceRule `json:"And,omitempty"`
	Or  []ChoiceRule `json:"Or,omitempty"`
	Not *ChoiceRule  `json:"Not,omitempty"`
}

// errorEqualsMatches reports whether name matches one of equals, honoring
// the States.ALL wildcard.
func errorEqualsMatches(equals []string, name string) bool {
	for _, e := range equals {
		if e == "States.ALL" || e == name {
			return true
		}
	}
	return false
}
