package eval

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/petal-labs/monkeyml/ast"
)

// ValueType identifies the variant of a runtime Value.
type ValueType string

const (
	IntegerType  ValueType = "integer"
	BooleanType  ValueType = "boolean"
	StringType   ValueType = "string"
	ArrayType    ValueType = "array"
	HashType     ValueType = "hash"
	FunctionType ValueType = "function"
	BuiltinType  ValueType = "builtin"
	ReturnType   ValueType = "return"
	NullType     ValueType = "null"
)

// Value is a runtime value. The set of implementations is closed; String
// returns the printed form used by print, string concatenation and hash keys.
type Value interface {
	Type() ValueType
	String() string
	value() // marker method
}

// Integer is a 32-bit signed integer.
type Integer int32

func (Integer) Type() ValueType  { return IntegerType }
func (v Integer) String() string { return strconv.FormatInt(int64(v), 10) }
func (Integer) value()           {}

// Boolean is true or false.
type Boolean bool

func (Boolean) Type() ValueType  { return BooleanType }
func (v Boolean) String() string { return strconv.FormatBool(bool(v)) }
func (Boolean) value()           {}

// String is a text value. Its printed form is the raw text.
type String string

func (String) Type() ValueType  { return StringType }
func (v String) String() string { return string(v) }
func (String) value()           {}

// Array is an ordered sequence of values. Arrays are never mutated after
// construction; builtins that "modify" one return a copy.
type Array []Value

func (Array) Type() ValueType { return ArrayType }
func (v Array) String() string {
	parts := make([]string, len(v))
	for i, el := range v {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
func (Array) value() {}

// Hash maps printed keys to values. Two keys with the same printed form
// (true and "true", 1 and "1") address the same entry.
type Hash struct {
	Pairs map[string]Value
}

// NewHash returns an empty hash.
func NewHash() *Hash {
	return &Hash{Pairs: make(map[string]Value)}
}

// HashKey returns the key under which v is stored in a hash.
func HashKey(v Value) string {
	return v.String()
}

// Get looks up key by its printed form.
func (h *Hash) Get(key Value) (Value, bool) {
	v, ok := h.Pairs[HashKey(key)]
	return v, ok
}

// With returns a copy of h with key set to val.
func (h *Hash) With(key, val Value) *Hash {
	out := &Hash{Pairs: maps.Clone(h.Pairs)}
	if out.Pairs == nil {
		out.Pairs = make(map[string]Value, 1)
	}
	out.Pairs[HashKey(key)] = val
	return out
}

func (*Hash) Type() ValueType { return HashType }
func (h *Hash) String() string {
	keys := slices.Sorted(maps.Keys(h.Pairs))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + h.Pairs[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
func (*Hash) value() {}

// Function is a user-defined function. It records only its parameters and
// body; calls evaluate the body in a copy of the caller's state.
type Function struct {
	Params []string
	Body   ast.Statement
}

func (*Function) Type() ValueType  { return FunctionType }
func (f *Function) String() string { return "fn(" + strings.Join(f.Params, ", ") + ")" }
func (*Function) value()           {}

// BuiltinFunc is a native routine. It returns its result and any text to
// write to the output sink.
type BuiltinFunc func(args []Value) (Value, string)

// Builtin is a named native routine.
type Builtin struct {
	Name string
	Fn   BuiltinFunc
}

func (*Builtin) Type() ValueType  { return BuiltinType }
func (b *Builtin) String() string { return "builtin(" + b.Name + ")" }
func (*Builtin) value()           {}

// ReturnValue marks an early return in flight. Blocks stop when they see one
// and call sites unwrap it.
type ReturnValue struct {
	Value Value
}

func (*ReturnValue) Type() ValueType  { return ReturnType }
func (r *ReturnValue) String() string { return r.Value.String() }
func (*ReturnValue) value()           {}

// Null is the absence or failure value.
type Null struct{}

func (Null) Type() ValueType { return NullType }
func (Null) String() string  { return "null" }
func (Null) value()          {}

// NullValue is the single null value.
var NullValue Value = Null{}

// IsNull reports whether v is null or absent.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

func unwrapReturn(v Value) Value {
	if r, ok := v.(*ReturnValue); ok {
		return r.Value
	}
	return v
}

// orNull turns "no value" into null.
func orNull(v Value) Value {
	if v == nil {
		return NullValue
	}
	return v
}
