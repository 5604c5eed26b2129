package eval

import (
	"maps"
	"slices"
)

// State is the flat name-to-value table a program runs against. A call
// evaluates its body in a full copy of the caller's state, so a State is
// never shared between frames.
type State struct {
	bindings map[string]Value
}

// NewState returns an empty state with no builtins.
func NewState() *State {
	return &State{bindings: make(map[string]Value)}
}

// NewSessionState returns a state seeded with the native builtins and the
// bootstrap library (first, last, tail, push, map).
func NewSessionState() *State {
	s := NewState()
	for name, b := range builtins {
		s.bindings[name] = b
	}
	loadBootstrap(s)
	return s
}

// Get returns the value bound to name.
func (s *State) Get(name string) (Value, bool) {
	v, ok := s.bindings[name]
	return v, ok
}

// Set binds name to v, replacing any previous binding.
func (s *State) Set(name string, v Value) {
	s.bindings[name] = v
}

// Clone returns an independent copy of the table. Values themselves are
// immutable and are shared.
func (s *State) Clone() *State {
	return &State{bindings: maps.Clone(s.bindings)}
}

// Names returns the bound names in sorted order.
func (s *State) Names() []string {
	return slices.Sorted(maps.Keys(s.bindings))
}

// Len returns the number of bindings.
func (s *State) Len() int {
	return len(s.bindings)
}
