package plogwatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind is the kind of a decoded stats document node.
type Kind uint8

const (
	// KindMissing marks a lookup that found nothing.
	KindMissing Kind = iota
	// KindNull is a JSON null, or a value the decoder produced that has no other kind.
	KindNull
	// KindBool is a JSON boolean.
	KindBool
	// KindNumber is a JSON number.
	KindNumber
	// KindString is a JSON string.
	KindString
	// KindArray is a JSON array.
	KindArray
	// KindObject is a JSON object.
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a read-only node of a decoded stats document. The zero Value is KindMissing.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
	arr  []Value
	obj  map[string]Value
}

// DecodeDocument decodes a stats reply body. The root of the document must be a JSON object.
func DecodeDocument(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, &DecodeError{Err: errors.New("empty reply")}
	}

	var raw any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return Value{}, &DecodeError{Err: err}
	}

	doc := valueOf(raw)
	if doc.kind != KindObject {
		return Value{}, &DecodeError{Err: fmt.Errorf("document root is %s, want object", doc.kind)}
	}
	return doc, nil
}

// valueOf converts the generic decoder output into a Value tree.
func valueOf(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Value{kind: KindNull}
	case bool:
		return Value{kind: KindBool, b: v}
	case float64:
		return Value{kind: KindNumber, num: v}
	case int64:
		return Value{kind: KindNumber, num: float64(v)}
	case uint64:
		return Value{kind: KindNumber, num: float64(v)}
	case string:
		return Value{kind: KindString, str: v}
	case []any:
		arr := make([]Value, len(v))
		for i, elem := range v {
			arr[i] = valueOf(elem)
		}
		return Value{kind: KindArray, arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for key, elem := range v {
			obj[key] = valueOf(elem)
		}
		return Value{kind: KindObject, obj: obj}
	default:
		// Anything else the decoder may hand back is treated as an opaque non-number.
		return Value{kind: KindNull}
	}
}

// Kind returns the kind of the node.
func (v Value) Kind() Kind { return v.kind }

// Exists reports whether the node was found.
func (v Value) Exists() bool { return v.kind != KindMissing }

// Float64 returns the numeric value and whether the node is a number.
func (v Value) Float64() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Str returns the string value and whether the node is a string.
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Len returns the number of elements of an array or keys of an object, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Index returns the i-th element of an array, or a missing Value.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Get returns the member key of an object, or a missing Value.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Value{}
	}
	return v.obj[key]
}

// Keys returns the keys of an object in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for key := range v.obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Lookup walks a dotted path of object keys, e.g. "kafka.messageRate.rate".
func (v Value) Lookup(path string) Value {
	node := v
	for _, key := range strings.Split(path, ".") {
		node = node.Get(key)
		if !node.Exists() {
			return Value{}
		}
	}
	return node
}
