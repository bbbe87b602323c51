package eventbus

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// Pattern is a mapping keyed by envelope field path (nested structurally,
// dotted for gjson lookup, e.g. "detail.state"), each leaf a list of
// match specs. An event matches a pattern iff every leaf-list is
// satisfied by the corresponding envelope value, evaluated with gjson
// against the envelope's JSON encoding (spec.md 4.5).
type Pattern map[string][]PatternSpec

// PatternSpec is one leaf test, sharing shape with topic.MatchSpec plus a
// suffix test (spec.md 4.5: "same shape and supported ops as topic filter
// policies, plus suffix").
type PatternSpec struct {
	Exact       *string
	Prefix      *string
	Suffix      *string
	Numeric     *PatternNumericTest
	AnythingBut []string
	Exists      *bool
}

// PatternNumericTest compares a numeric envelope field using a comparator
// (one of "=", "!=", "<", "<=", ">", ">=").
type PatternNumericTest struct {
	Operator string
	Operand  float64
}

// Matches evaluates every leaf of the pattern against the parsed
// envelope JSON.
func (p Pattern) Matches(event gjson.Result) bool {
	for path, specs := range p {
		field := event.Get(path)
		if !matchesAnySpec(specs, field) {
			return false
		}
	}
	return true
}

func matchesAnySpec(specs []PatternSpec, field gjson.Result) bool {
	for _, spec := range specs {
		if spec.matches(field) {
			return true
		}
	}
	return false
}

func (s PatternSpec) matches(field gjson.Result) bool {
	present := field.Exists()
	if s.Exists != nil {
		if *s.Exists {
			return present
		}
		return !present
	}
	if !present {
		return false
	}
	value := field.String()
	if s.Exact != nil {
		return value == *s.Exact
	}
	if s.Prefix != nil {
		return len(value) >= len(*s.Prefix) && value[:len(*s.Prefix)] == *s.Prefix
	}
	if s.Suffix != nil {
		return len(value) >= len(*s.Suffix) && value[len(value)-len(*s.Suffix):] == *s.Suffix
	}
	if s.Numeric != nil {
		return s.Numeric.matches(value)
	}
	if len(s.AnythingBut) > 0 {
		for _, excluded := range s.AnythingBut {
			if value == excluded {
				return false
			}
		}
		return true
	}
	return false
}

func (n PatternNumericTest) matches(value string) bool {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	switch n.Operator {
	case "=":
		return v == n.Operand
	case "!=":
		return v != n.Operand
	case "<":
		return v < n.Operand
	case "<=":
		return v <= n.Operand
	case ">":
		return v > n.Operand
	case ">=":
		return v >= n.Operand
	default:
		return false
	}
}
