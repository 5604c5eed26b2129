package eval

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// builtins are the native routines seeded into every session state.
var builtins = map[string]*Builtin{
	"len":     {Name: "len", Fn: builtinLen},
	"print":   {Name: "print", Fn: builtinPrint},
	"println": {Name: "println", Fn: builtinPrintln},
	"insert":  {Name: "insert", Fn: builtinInsert},
}

// LookupBuiltin returns the native routine registered under name.
func LookupBuiltin(name string) (*Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

func builtinLen(args []Value) (Value, string) {
	if len(args) != 1 {
		return NullValue, ""
	}
	switch v := args[0].(type) {
	case String:
		return Integer(utf8.RuneCountInString(string(v))), ""
	case Array:
		return Integer(len(v)), ""
	}
	return NullValue, ""
}

func builtinPrint(args []Value) (Value, string) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(a.String())
	}
	return NullValue, sb.String()
}

func builtinPrintln(args []Value) (Value, string) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(a.String())
		sb.WriteByte('\n')
	}
	return NullValue, sb.String()
}

// builtinInsert returns an updated copy of a hash or array:
//
//	insert(hash, key, value)   sets key
//	insert(array, i, value)    replaces element i, or appends when i == len
func builtinInsert(args []Value) (Value, string) {
	if len(args) != 3 {
		return NullValue, ""
	}
	switch target := args[0].(type) {
	case *Hash:
		return target.With(args[1], args[2]), ""
	case Array:
		i, ok := args[1].(Integer)
		if !ok || i < 0 || int(i) > len(target) {
			return NullValue, ""
		}
		if int(i) == len(target) {
			return append(slices.Clip(target), args[2]), ""
		}
		out := slices.Clone(target)
		out[i] = args[2]
		return out, ""
	}
	return NullValue, ""
}
