package table

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyUpdateExpression mutates a clone of item in place according to a
// DynamoDB-style UpdateExpression with SET, REMOVE, ADD, and DELETE
// clauses, and returns the resulting item. item may be nil, in which case
// SET/ADD clauses create a new item from scratch (an upsert).
func ApplyUpdateExpression(item Item, expr string, ctx *ExpressionContext) (Item, error) {
	if item == nil {
		item = Item{}
	} else {
		item = item.Clone()
	}
	ctx.Item = item

	clauses, err := splitClauses(expr)
	if err != nil {
		return nil, err
	}
	for _, c := range clauses {
		switch c.verb {
		case "SET":
			if err := applySet(item, c.body, ctx); err != nil {
				return nil, err
			}
		case "REMOVE":
			if err := applyRemove(item, c.body, ctx); err != nil {
				return nil, err
			}
		case "ADD":
			if err := applyAdd(item, c.body, ctx); err != nil {
				return nil, err
			}
		case "DELETE":
			if err := applyDelete(item, c.body, ctx); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported update clause %q", c.verb)
		}
	}
	return item, nil
}

type updateClause struct {
	verb string
	body string
}

var updateVerbs = []string{"SET", "REMOVE", "ADD", "DELETE"}

// splitClauses breaks "SET a = :v, b = :w REMOVE c ADD d :x" into clauses
// keyed by verb, without needing a full tokenizer: each verb only ever
// starts a new clause at word boundaries outside of nesting, which holds
// for the subset of expressions this engine accepts (no nested function
// calls spanning a verb keyword).
func splitClauses(expr string) ([]updateClause, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty update expression")
	}

	var markers []clauseMarker
	upper := strings.ToUpper(expr)
	for _, verb := range updateVerbs {
		start := 0
		for {
			idx := strings.Index(upper[start:], verb)
			if idx < 0 {
				break
			}
			pos := start + idx
			before := pos == 0 || upper[pos-1] == ' '
			afterPos := pos + len(verb)
			after := afterPos >= len(upper) || upper[afterPos] == ' '
			if before && after {
				markers = append(markers, clauseMarker{verb: verb, pos: pos})
			}
			start = pos + len(verb)
		}
	}
	if len(markers) == 0 {
		return nil, fmt.Errorf("update expression has no recognized clause")
	}
	sortMarkers(markers)

	var clauses []updateClause
	for i, m := range markers {
		bodyStart := m.pos + len(m.verb)
		bodyEnd := len(expr)
		if i+1 < len(markers) {
			bodyEnd = markers[i+1].pos
		}
		clauses = append(clauses, updateClause{verb: m.verb, body: strings.TrimSpace(expr[bodyStart:bodyEnd])})
	}
	return clauses, nil
}

type clauseMarker struct {
	verb string
	pos  int
}

func sortMarkers(markers []clauseMarker) {
	for i := 1; i < len(markers); i++ {
		for j := i; j > 0 && markers[j-1].pos > markers[j].pos; j-- {
			markers[j-1], markers[j] = markers[j], markers[j-1]
		}
	}
}

func splitTopLevelCommas(body string) []string {
	var parts []string
	depth := 0
	last := 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(body[last:i]))
				last = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(body[last:]))
	return parts
}

func applySet(item Item, body string, ctx *ExpressionContext) error {
	for _, assignment := range splitTopLevelCommas(body) {
		eq := strings.Index(assignment, "=")
		if eq < 0 {
			return fmt.Errorf("malformed SET assignment %q", assignment)
		}
		pathTok := strings.TrimSpace(assignment[:eq])
		rhs := strings.TrimSpace(assignment[eq+1:])
		name := ctx.resolveName(pathTok)

		value, err := evalSetOperand(item, rhs, ctx)
		if err != nil {
			return err
		}
		item[name] = value
	}
	return nil
}

// evalSetOperand resolves a SET right-hand side: a value placeholder, or
// a numeric "path + :value" / "path - :value" increment referencing the
// item's current value for path (falling back to zero when absent, the
// DynamoDB convention for initializing counters).
func evalSetOperand(item Item, rhs string, ctx *ExpressionContext) (AttributeValue, error) {
	for _, op := range []string{"+", "-"} {
		if idx := strings.Index(rhs, op); idx > 0 {
			leftTok := strings.TrimSpace(rhs[:idx])
			rightTok := strings.TrimSpace(rhs[idx+1:])
			left, err := resolveOperand(item, leftTok, ctx)
			if err != nil {
				return AttributeValue{}, err
			}
			right, err := resolveOperand(item, rightTok, ctx)
			if err != nil {
				return AttributeValue{}, err
			}
			return addNumbers(left, right, op == "-")
		}
	}
	return resolveOperand(item, rhs, ctx)
}

func resolveOperand(item Item, tok string, ctx *ExpressionContext) (AttributeValue, error) {
	if strings.HasPrefix(tok, ":") {
		return ctx.resolveValue(tok)
	}
	name := ctx.resolveName(tok)
	if v, ok := item[name]; ok {
		return v, nil
	}
	return NumberValue("0"), nil
}

func addNumbers(a, b AttributeValue, subtract bool) (AttributeValue, error) {
	if a.Kind != KindNumber || b.Kind != KindNumber {
		return AttributeValue{}, fmt.Errorf("arithmetic operands must be numbers")
	}
	af, err := strconv.ParseFloat(a.N, 64)
	if err != nil {
		return AttributeValue{}, err
	}
	bf, err := strconv.ParseFloat(b.N, 64)
	if err != nil {
		return AttributeValue{}, err
	}
	result := af + bf
	if subtract {
		result = af - bf
	}
	return NumberValue(strconv.FormatFloat(result, 'f', -1, 64)), nil
}

func applyRemove(item Item, body string, ctx *ExpressionContext) error {
	for _, pathTok := range splitTopLevelCommas(body) {
		name := ctx.resolveName(strings.TrimSpace(pathTok))
		delete(item, name)
	}
	return nil
}

// applyAdd implements the ADD clause: numeric accumulation, or inserting
// elements into a list treated as a set.
func applyAdd(item Item, body string, ctx *ExpressionContext) error {
	for _, assignment := range splitTopLevelCommas(body) {
		fields := strings.Fields(assignment)
		if len(fields) != 2 {
			return fmt.Errorf("malformed ADD clause %q", assignment)
		}
		name := ctx.resolveName(fields[0])
		delta, err := ctx.resolveValue(fields[1])
		if err != nil {
			return err
		}
		switch delta.Kind {
		case KindNumber:
			current, ok := item[name]
			if !ok {
				current = NumberValue("0")
			}
			sum, err := addNumbers(current, delta, false)
			if err != nil {
				return err
			}
			item[name] = sum
		case KindList:
			current := item[name]
			current.Kind = KindList
			current.L = append(current.L, delta.L...)
			item[name] = current
		default:
			return fmt.Errorf("ADD is only supported for numbers and lists")
		}
	}
	return nil
}

// applyDelete removes matching elements from a list-valued attribute,
// treating it as a set (DynamoDB's DELETE clause semantics for set types).
func applyDelete(item Item, body string, ctx *ExpressionContext) error {
	for _, assignment := range splitTopLevelCommas(body) {
		fields := strings.Fields(assignment)
		if len(fields) != 2 {
			return fmt.Errorf("malformed DELETE clause %q", assignment)
		}
		name := ctx.resolveName(fields[0])
		toRemove, err := ctx.resolveValue(fields[1])
		if err != nil {
			return err
		}
		current, ok := item[name]
		if !ok || current.Kind != KindList {
			continue
		}
		var kept []AttributeValue
		for _, v := range current.L {
			remove := false
			for _, r := range toRemove.L {
				if Equal(v, r) {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, v)
			}
		}
		current.L = kept
		item[name] = current
	}
	return nil
}
