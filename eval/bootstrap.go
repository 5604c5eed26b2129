package eval

import (
	"fmt"
	"sync"

	"github.com/petal-labs/monkeyml/ast"
	"github.com/petal-labs/monkeyml/parser"
)

// bootstrapSources define the library functions written in the language
// itself. Each is evaluated into every new session state, in order.
var bootstrapSources = []struct {
	name string
	src  string
}{
	{"first", `let first = fn(arr) { arr[0] };`},
	{"last", `let last = fn(arr) { arr[len(arr) - 1] };`},
	{"push", `let push = fn(arr, x) { insert(arr, len(arr), x) };`},
	{"tail", `let tail = fn(arr) {
	let step = fn(i, acc) {
		if (i < len(arr)) { step(i + 1, push(acc, arr[i])) } else { acc }
	};
	step(1, [])
};`},
	{"map", `let map = fn(arr, f) {
	let step = fn(i, acc) {
		if (i < len(arr)) { step(i + 1, push(acc, f(arr[i]))) } else { acc }
	};
	step(0, [])
};`},
}

// Parsed once per process; syntax trees are read-only during evaluation.
var bootstrapPrograms = sync.OnceValue(func() []*ast.Program {
	progs := make([]*ast.Program, 0, len(bootstrapSources))
	for _, b := range bootstrapSources {
		prog, err := parser.Parse(b.src)
		if err != nil {
			panic(fmt.Sprintf("eval: bootstrap %s: %v", b.name, err))
		}
		progs = append(progs, prog)
	}
	return progs
})

// BootstrapNames lists the functions defined by the bootstrap layer.
func BootstrapNames() []string {
	names := make([]string, len(bootstrapSources))
	for i, b := range bootstrapSources {
		names[i] = b.name
	}
	return names
}

func loadBootstrap(s *State) {
	for _, prog := range bootstrapPrograms() {
		ev := &evaluator{}
		ev.evalStatements(prog.Statements, s)
	}
}
