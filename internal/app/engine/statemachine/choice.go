package statemachine

import "fmt"

// evaluateChoice evaluates one choice rule against input, resolving its
// Variable by path when the rule is a leaf comparison, or recursing
// through And/Or/Not combinators.
func evaluateChoice(rule ChoiceRule, input interface{}) (bool, error) {
	if len(rule.And) > 0 {
		for _, sub := range rule.And {
			ok, err := evaluateChoice(sub, input)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	if len(rule.Or) > 0 {
		for _, sub := range rule.Or {
			ok, err := evaluateChoice(sub, input)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if rule.Not != nil {
		ok, err := evaluateChoice(*rule.Not, input)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	value, err := evalPath(rule.Variable, input)
	if err != nil {
		if rule.IsPresent != nil {
			return !*rule.IsPresent, nil
		}
		return false, nil
	}
	if rule.IsPresent != nil {
		return (value != nil) == *rule.IsPresent, nil
	}
	switch {
	case rule.StringEquals != nil:
		s, ok := value.(string)
		return ok && s == *rule.StringEquals, nil
	case rule.BooleanEquals != nil:
		b, ok := value.(bool)
		return ok && b == *rule.BooleanEquals, nil
	case rule.NumericEquals != nil:
		return numericCompare(value, *rule.NumericEquals, func(a, b float64) bool { return a == b })
	case rule.NumericGreaterThan != nil:
		return numericCompare(value, *rule.NumericGreaterThan, func(a, b float64) bool { return a > b })
	case rule.NumericGreaterThanEquals != nil:
		return numericCompare(value, *rule.NumericGreaterThanEquals, func(a, b float64) bool { return a >= b })
	case rule.NumericLessThan != nil:
		return numericCompare(value, *rule.NumericLessThan, func(a, b float64) bool { return a < b })
	case rule.NumericLessThanEquals != nil:
		return numericCompare(value, *rule.NumericLessThanEquals, func(a, b float64) bool { return a <= b })
	}
	return false, fmt.Errorf("choice rule for %s has no recognized comparator", rule.Variable)
}

func numericCompare(value interface{}, operand float64, cmp func(a, b float64) bool) (bool, error) {
	n, ok := value.(float64)
	if !ok {
		return false, nil
	}
	return cmp(n, operand), nil
}

// firstMatch evaluates an ordered Choice state's rules, returning the
// Next of the first that matches.
func firstMatch(rules []ChoiceRule, def string, input interface{}) (string, error) {
	for _, rule := range rules {
		ok, err := evaluateChoice(rule, input)
		if err != nil {
			return "", err
		}
		if ok {
			return rule.Next, nil
		}
	}
	if def != "" {
		return def, nil
	}
	return "", fmt.Errorf("States.NoChoiceMatched")
}
