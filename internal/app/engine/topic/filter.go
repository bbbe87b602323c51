package topic

import "strconv"

// MatchSpec is one leaf test in a filter policy's attribute-name → specs
// mapping. Supported shapes mirror spec.md 4.4: exact-string,
// numeric-comparison, prefix, anything-but-set, exists-true, exists-false.
type MatchSpec struct {
	Exact       *string
	Prefix      *string
	Numeric     *NumericTest
	AnythingBut []string
	Exists      *bool
}

// NumericTest compares an attribute value (parsed as a float) against an
// operand using a comparator (one of "=", "!=", "<", "<=", ">", ">=").
type NumericTest struct {
	Operator string
	Operand  float64
}

// FilterPolicy is a mapping from attribute name to the list of specs an
// incoming value must satisfy at least one of. A policy with no
// attributes matches everything.
type FilterPolicy map[string][]MatchSpec

// Matches reports whether attrs satisfies every attribute in the policy:
// for each policy attribute there must exist at least one matching spec
// against the corresponding (possibly absent) attribute value.
func (p FilterPolicy) Matches(attrs map[string]string) bool {
	for name, specs := range p {
		value, present := attrs[name]
		if !matchesAny(specs, value, present) {
			return false
		}
	}
	return true
}

func matchesAny(specs []MatchSpec, value string, present bool) bool {
	for _, spec := range specs {
		if spec.matches(value, present) {
			return true
		}
	}
	return false
}

func (s MatchSpec) matches(value string, present bool) bool {
	if s.Exists != nil {
		if *s.Exists {
			return present
		}
		return !present
	}
	if !present {
		return false
	}
	if s.Exact != nil {
		return value == *s.Exact
	}
	if s.Prefix != nil {
		return len(value) >= len(*s.Prefix) && value[:len(*s.Prefix)] == *s.Prefix
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

func (n NumericTest) matches(value string) bool {
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
