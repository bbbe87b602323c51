// Package table implements the keyed-item table engine and its
// change-stream dispatcher.
//
// Grounded on _examples/original_source/src/lws/providers/dynamodb/routes.py
// for the operation surface (GetItem/PutItem/UpdateItem/Query/Scan/
// BatchGetItem/BatchWriteItem) and on
// _examples/original_source/src/lws/providers/dynamodb/streams.py for the
// change-stream dispatcher (batching window, view-type filtering, grouped
// concurrent delivery with per-subscriber error isolation).
package table

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind names the single type tag present on every attribute value, per
// spec.md 3 ("an attribute value is encoded as a single-entry mapping whose
// key names the type").
type Kind string

const (
	KindString Kind = "S"
	KindNumber Kind = "N"
	KindBool   Kind = "BOOL"
	KindNull   Kind = "NULL"
	KindList   Kind = "L"
	KindMap    Kind = "M"
)

// AttributeValue is a single typed attribute. Exactly one of the fields
// below is meaningful, selected by Kind.
type AttributeValue struct {
	Kind Kind
	S    string
	N    string
	Bool bool
	L    []AttributeValue
	M    map[string]AttributeValue
}

func StringValue(s string) AttributeValue { return AttributeValue{Kind: KindString, S: s} }
func NumberValue(n string) AttributeValue { return AttributeValue{Kind: KindNumber, N: n} }
func BoolValue(b bool) AttributeValue     { return AttributeValue{Kind: KindBool, Bool: b} }
func NullValue() AttributeValue           { return AttributeValue{Kind: KindNull} }
func ListValue(items []AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindList, L: items}
}
func MapValue(m map[string]AttributeValue) AttributeValue {
	return AttributeValue{Kind: KindMap, M: m}
}

// Item is the attribute-name to attribute-value mapping making up one
// table row.
type Item map[string]AttributeValue

// Clone performs a deep copy so callers and the stored item never alias
// the same backing maps/slices.
func (i Item) Clone() Item {
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v.clone()
	}
	return out
}

func (v AttributeValue) clone() AttributeValue {
	switch v.Kind {
	case KindList:
		cp := make([]AttributeValue, len(v.L))
		for i, e := range v.L {
			cp[i] = e.clone()
		}
		return AttributeValue{Kind: KindList, L: cp}
	case KindMap:
		cp := make(map[string]AttributeValue, len(v.M))
		for k, e := range v.M {
			cp[k] = e.clone()
		}
		return AttributeValue{Kind: KindMap, M: cp}
	default:
		return v
	}
}

// Equal reports whether two attribute values are identical in kind and
// content.
func Equal(a, b AttributeValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.S == b.S
	case KindNumber:
		af, aerr := strconv.ParseFloat(a.N, 64)
		bf, berr := strconv.ParseFloat(b.N, 64)
		if aerr == nil && berr == nil {
			return af == bf
		}
		return a.N == b.N
	case KindBool:
		return a.Bool == b.Bool
	case KindNull:
		return true
	case KindList:
		if len(a.L) != len(b.L) {
			return false
		}
		for i := range a.L {
			if !Equal(a.L[i], b.L[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.M) != len(b.M) {
			return false
		}
		for k, av := range a.M {
			bv, ok := b.M[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two scalar attribute values; it returns an error for
// composite kinds or mismatched kinds, since DynamoDB-style comparisons
// only apply to scalars of the same type.
func Compare(a, b AttributeValue) (int, error) {
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("cannot compare %s to %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindString:
		switch {
		case a.S < b.S:
			return -1, nil
		case a.S > b.S:
			return 1, nil
		default:
			return 0, nil
		}
	case KindNumber:
		af, err := strconv.ParseFloat(a.N, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", a.N)
		}
		bf, err := strconv.ParseFloat(b.N, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", b.N)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("kind %s is not orderable", a.Kind)
	}
}

// MarshalJSON renders the attribute value in the single-entry typed-map
// wire shape, e.g. {"S":"foo"}, {"N":"3"}, {"NULL":true}.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(map[string]string{"S": v.S})
	case KindNumber:
		return json.Marshal(map[string]string{"N": v.N})
	case KindBool:
		return json.Marshal(map[string]bool{"BOOL": v.Bool})
	case KindNull:
		return json.Marshal(map[string]bool{"NULL": true})
	case KindList:
		return json.Marshal(map[string][]AttributeValue{"L": v.L})
	case KindMap:
		return json.Marshal(map[string]map[string]AttributeValue{"M": v.M})
	default:
		return nil, fmt.Errorf("unknown attribute kind %q", v.Kind)
	}
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw["S"]; ok {
		v.Kind = KindString
		return json.Unmarshal(s, &v.S)
	}
	if n, ok := raw["N"]; ok {
		v.Kind = KindNumber
		return json.Unmarshal(n, &v.N)
	}
	if b, ok := raw["BOOL"]; ok {
		v.Kind = KindBool
		return json.Unmarshal(b, &v.Bool)
	}
	if _, ok := raw["NULL"]; ok {
		v.Kind = KindNull
		return nil
	}
	if l, ok := raw["L"]; ok {
		v.Kind = KindList
		return json.Unmarshal(l, &v.L)
	}
	if m, ok := raw["M"]; ok {
		v.Kind = KindMap
		return json.Unmarshal(m, &v.M)
	}
	return fmt.Errorf("attribute value has no recognized type key")
}
