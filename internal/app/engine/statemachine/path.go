package statemachine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// applyInputPath extracts the sub-value at path from input. A nil path
// forwards input unchanged; a path of "$" also forwards it unchanged.
// A path given as the string "null" discards the input entirely. A JSON
// null in the definition decodes to a nil path, so it forwards input
// unchanged rather than discarding it.
func applyInputPath(path *string, input interface{}) (interface{}, error) {
	if path == nil || *path == "$" {
		return input, nil
	}
	if *path == "null" {
		return nil, nil
	}
	return evalPath(*path, input)
}

// applyOutputPath projects the final value the same way InputPath
// projects the initial one.
func applyOutputPath(path *string, value interface{}) (interface{}, error) {
	return applyInputPath(path, value)
}

// applyResultPath merges result into input at path. A nil path replaces
// input with result outright (the default when a state has no
// ResultPath); the string "null" discards result and preserves input
// unchanged; any other path sets the addressed field. A JSON null
// ResultPath decodes to a nil path and so replaces input with result.
func applyResultPath(path *string, input, result interface{}) (interface{}, error) {
	if path == nil {
		return result, nil
	}
	if *path == "null" {
		return input, nil
	}
	if *path == "$" {
		return result, nil
	}
	return setAtPath(input, *path, result)
}

// applyParameters renders a Parameters template against input and the
// Map/Parallel context object. Keys ending in ".$" are path references
// (evaluated against input, or against the context object when prefixed
// "$$."); all other keys are taken literally.
func applyParameters(raw json.RawMessage, input interface{}, context map[string]interface{}) (interface{}, error) {
	if len(raw) == 0 {
		return input, nil
	}
	var template map[string]interface{}
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, fmt.Errorf("parse Parameters: %w", err)
	}
	return renderTemplate(template, input, context)
}

func renderTemplate(template map[string]interface{}, input interface{}, context map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(template))
	for key, value := range template {
		if strings.HasSuffix(key, ".$") {
			expr, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s: .$ value must be a path string", key)
			}
			resolved, err := resolveDollarPath(expr, input, context)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", key, err)
			}
			out[strings.TrimSuffix(key, ".$")] = resolved
			continue
		}
		if nested, ok := value.(map[string]interface{}); ok {
			rendered, err := renderTemplate(nested, input, context)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
			continue
		}
		out[key] = value
	}
	return out, nil
}

func resolveDollarPath(expr string, input interface{}, context map[string]interface{}) (interface{}, error) {
	if strings.HasPrefix(expr, "$$.") {
		return evalPath("$."+strings.TrimPrefix(expr, "$$."), context)
	}
	return evalPath(expr, input)
}

func evalPath(path string, data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	v, err := jsonpath.Get(path, data)
	if err != nil {
		if strings.Contains(err.Error(), "unknown key") {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// setAtPath sets value at a dotted "$.a.b.c" path within input, creating
// intermediate maps as needed. input must be nil or a
// map[string]interface{}.
func setAtPath(input interface{}, path string, value interface{}) (map[string]interface{}, error) {
	root, ok := input.(map[string]interface{})
	if !ok {
		if input == nil {
			root = map[string]interface{}{}
		} else {
			return nil, fmt.Errorf("ResultPath requires an object input, got %T", input)
		}
	} else {
		root = cloneMap(root)
	}
	if !strings.HasPrefix(path, "$.") {
		return nil, fmt.Errorf("unsupported ResultPath %q", path)
	}
	segments := strings.Split(strings.TrimPrefix(path, "$."), ".")
	cursor := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cursor[seg] = value
			break
		}
		next, ok := cursor[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cursor[seg] = next
		} else {
			next = cloneMap(next)
			cursor[seg] = next
		}
		cursor = next
	}
	return root, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// decodeResult parses a state's literal Result field, if present.
func decodeResult(raw json.RawMessage) (interface{}, bool, error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}
