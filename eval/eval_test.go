package eval

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// evalSource evaluates src in a fresh session state and returns the result
// and the emitted output.
func evalSource(t *testing.T, src string) (Value, string) {
	t.Helper()
	var out strings.Builder
	v, err := Evaluate(NewSessionState(), src, &out)
	if err != nil {
		t.Fatalf("Evaluate(%q) unexpected error: %v", src, err)
	}
	return v, out.String()
}

func assertInteger(t *testing.T, label string, got Value, want int32) {
	t.Helper()
	i, ok := got.(Integer)
	if !ok {
		t.Fatalf("%s: expected integer, got %T (%v)", label, got, got)
	}
	if int32(i) != want {
		t.Fatalf("%s: got %d, want %d", label, i, want)
	}
}

func assertBoolean(t *testing.T, label string, got Value, want bool) {
	t.Helper()
	b, ok := got.(Boolean)
	if !ok {
		t.Fatalf("%s: expected boolean, got %T (%v)", label, got, got)
	}
	if bool(b) != want {
		t.Fatalf("%s: got %v, want %v", label, b, want)
	}
}

func assertString(t *testing.T, label string, got Value, want string) {
	t.Helper()
	s, ok := got.(String)
	if !ok {
		t.Fatalf("%s: expected string, got %T (%v)", label, got, got)
	}
	if string(s) != want {
		t.Fatalf("%s: got %q, want %q", label, s, want)
	}
}

func assertNull(t *testing.T, label string, got Value) {
	t.Helper()
	if _, ok := got.(Null); !ok {
		t.Fatalf("%s: expected null, got %T (%v)", label, got, got)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

func TestEval_IntegerArithmetic(t *testing.T) {
	tests := []struct {
		input string
		want  int32
	}{
		{"5", 5},
		{"-5", -5},
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"-1-2-3", -6},
		{"10 / 3", 3},
		{"-7 / 2", -3},
		{"2147483647 + 1", -2147483648},
		{"--5", 5},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _ := evalSource(t, tt.input)
			assertInteger(t, tt.input, got, tt.want)
		})
	}
}

func TestEval_Comparison(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1 + 2 * 3 / 4 - 5 == 0", false},
		{"1 + 2 * 3 / 4 - 2 == 0", true},
		{"1 < 2", true},
		{"1 > 2", false},
		{"3 != 4", true},
		{"!true", false},
		{"!(1 < 2)", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _ := evalSource(t, tt.input)
			assertBoolean(t, tt.input, got, tt.want)
		})
	}
}

func TestEval_TypeMismatchYieldsNull(t *testing.T) {
	inputs := []string{
		"5 + true",
		"true + false",
		"-true",
		"!5",
		`"a" - 1`,
		"true == true",
		`"a" == "a"`,
		"[1] * 2",
		"missing",
		"missing + 1",
		"5(1)",
		`"s"(1)`,
		"[1, 2][5]",
		"[1, 2][-1]",
		`[1, 2]["0"]`,
		`"abc"[0]`,
		"if (1) { 2 }",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, _ := evalSource(t, in)
			assertNull(t, in, got)
		})
	}
}

func TestEval_DivisionByZeroFaults(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected 5 / 0 to fault")
		}
	}()
	_, _ = Evaluate(NewSessionState(), "5 / 0", nil)
}

// ---------------------------------------------------------------------------
// Strings, arrays, hashes
// ---------------------------------------------------------------------------

func TestEval_StringConcatenation(t *testing.T) {
	got, _ := evalSource(t, `" hello " + "world " + 1`)
	assertString(t, "concat", got, " hello world 1")

	got, _ = evalSource(t, `1 + "a" + true`)
	assertString(t, "mixed", got, "1atrue")

	got, _ = evalSource(t, `"xs: " + [1, 2]`)
	assertString(t, "array", got, "xs: [1, 2]")
}

func TestEval_ArrayLiteral(t *testing.T) {
	got, _ := evalSource(t, "[1, 1 + 1, true + 1]")
	arr, ok := got.(Array)
	if !ok {
		t.Fatalf("expected array, got %T", got)
	}
	if len(arr) != 3 {
		t.Fatalf("got %d elements, want 3", len(arr))
	}
	assertInteger(t, "arr[0]", arr[0], 1)
	assertInteger(t, "arr[1]", arr[1], 2)
	assertNull(t, "arr[2]", arr[2])
	if got.String() != "[1, 2, null]" {
		t.Fatalf("String() = %q", got.String())
	}
}

func TestEval_HashIndexUsesPrintedKey(t *testing.T) {
	src := `let h = {"a": 1, true: 2, 3: "three"};`

	got, _ := evalSource(t, src+` h[true]`)
	assertInteger(t, "h[true]", got, 2)

	got, _ = evalSource(t, src+` h["true"]`)
	assertInteger(t, `h["true"]`, got, 2)

	got, _ = evalSource(t, src+` h[true] == h["true"]`)
	assertBoolean(t, "agree", got, true)

	got, _ = evalSource(t, src+` h["3"]`)
	assertString(t, `h["3"]`, got, "three")

	got, _ = evalSource(t, src+` h["missing"]`)
	assertNull(t, "missing", got)
}

func TestEval_HashString(t *testing.T) {
	got, _ := evalSource(t, `let h = {"b": 2, "a": [1], true: "x"}; h`)
	if got.String() != "{a: [1], b: 2, true: x}" {
		t.Fatalf("String() = %q", got.String())
	}
}

// ---------------------------------------------------------------------------
// Statements, control flow, calls
// ---------------------------------------------------------------------------

func TestEval_LetProducesNoValue(t *testing.T) {
	got, _ := evalSource(t, "let x = 1;")
	if got != nil {
		t.Fatalf("expected no value, got %v", got)
	}
	got, _ = evalSource(t, "")
	if got != nil {
		t.Fatalf("expected no value for empty program, got %v", got)
	}
}

func TestEval_LetShadows(t *testing.T) {
	got, _ := evalSource(t, "let x = 1; let x = x + 1; x")
	assertInteger(t, "x", got, 2)
}

func TestEval_FrameCopyCall(t *testing.T) {
	got, _ := evalSource(t, "let x = 10; let f = fn (x) { let x = 2*x+1; x }; let y = f(x); y + x;")
	assertInteger(t, "result", got, 31)
}

func TestEval_EarlyReturn(t *testing.T) {
	got, _ := evalSource(t, "let abs = fn (x) { if (x > 0) { return x; } return -x; }; abs(1) + abs(-1);")
	assertInteger(t, "abs", got, 2)
}

func TestEval_NestedBlockReturn(t *testing.T) {
	src := `let f = fn() { if (true) { if (true) { return 1; } 2 } 3 }; f()`
	got, _ := evalSource(t, src)
	assertInteger(t, "f()", got, 1)
}

func TestEval_LetStripsReturn(t *testing.T) {
	src := `let f = fn() { let x = if (true) { return 5; }; x + 1 }; f()`
	got, _ := evalSource(t, src)
	assertInteger(t, "f()", got, 6)
}

func TestEval_TopLevelReturn(t *testing.T) {
	got, _ := evalSource(t, "1; return 2; 3")
	assertInteger(t, "program", got, 2)
}

func TestEval_Fibonacci(t *testing.T) {
	got, _ := evalSource(t, "let fib = fn (x) { if (x < 2) { return x; } else { fib(x-1) + fib(x-2); } }; fib(10);")
	assertInteger(t, "fib(10)", got, 55)
}

func TestEval_CallSeesCallerScope(t *testing.T) {
	src := `
let show = fn() { y };
let caller = fn() { let y = 42; show() };
caller()`
	got, _ := evalSource(t, src)
	assertInteger(t, "caller()", got, 42)

	// The definition site is not captured.
	src = `
let make = fn() { let secret = 7; fn() { secret } };
let g = make();
g()`
	got, _ = evalSource(t, src)
	assertNull(t, "g()", got)
}

func TestEval_CallDoesNotLeakIntoCaller(t *testing.T) {
	got, _ := evalSource(t, "let f = fn() { let leaked = 1; leaked }; f(); leaked")
	assertNull(t, "leaked", got)
}

func TestEval_ArgumentCountMismatch(t *testing.T) {
	got, _ := evalSource(t, "let f = fn(a, b) { a }; f(1, 2, 3)")
	assertInteger(t, "extra", got, 1)

	got, _ = evalSource(t, "let f = fn(a, b) { b }; f(1)")
	assertNull(t, "missing", got)

	got, _ = evalSource(t, "let b = 9; let f = fn(a, b) { b }; f(1)")
	assertInteger(t, "missing falls back to caller", got, 9)
}

func TestEval_ExtraArgumentsNotEvaluated(t *testing.T) {
	_, out := evalSource(t, `let f = fn(a) { a }; f(1, println("side effect"))`)
	if out != "" {
		t.Fatalf("expected no output, got %q", out)
	}
}

func TestEval_IfWithoutElse(t *testing.T) {
	got, _ := evalSource(t, "if (false) { 1 }")
	assertNull(t, "no else", got)

	got, _ = evalSource(t, "if (1 > 0) 10 else 20")
	assertInteger(t, "bare branches", got, 10)
}

func TestEval_FunctionString(t *testing.T) {
	got, _ := evalSource(t, "fn(a, b) { a + b }")
	if got.String() != "fn(a, b)" {
		t.Fatalf("String() = %q", got.String())
	}
	got, _ = evalSource(t, "len")
	if got.String() != "builtin(len)" {
		t.Fatalf("String() = %q", got.String())
	}
}

// ---------------------------------------------------------------------------
// Builtins and bootstrap library
// ---------------------------------------------------------------------------

func TestBuiltin_Len(t *testing.T) {
	tests := []struct {
		input string
		want  int32
	}{
		{`len("")`, 0},
		{`len("hello")`, 5},
		{`len("héllo")`, 5},
		{`len([1, 2, 3])`, 3},
		{`len([])`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _ := evalSource(t, tt.input)
			assertInteger(t, tt.input, got, tt.want)
		})
	}

	got, _ := evalSource(t, "len(1)")
	assertNull(t, "len(1)", got)
	got, _ = evalSource(t, `len("a", "b")`)
	assertNull(t, "arity", got)
}

func TestBuiltin_PrintAndPrintln(t *testing.T) {
	got, out := evalSource(t, `print("a", 1, true); println("b", [1, 2]); print()`)
	assertNull(t, "print result", got)
	if out != "a1trueb\n[1, 2]\n" {
		t.Fatalf("output = %q", out)
	}
}

func TestBuiltin_OutputWrittenAfterCompletion(t *testing.T) {
	var out strings.Builder
	func() {
		defer func() { _ = recover() }()
		_, _ = Evaluate(NewSessionState(), `println("before"); 1 / 0`, &out)
	}()
	if out.Len() != 0 {
		t.Fatalf("expected buffered output to be discarded on fault, got %q", out.String())
	}
}

func TestBuiltin_InsertHash(t *testing.T) {
	src := `let h = {"a": 1}; let h2 = insert(h, "b", 2);`

	got, _ := evalSource(t, src+` h2["b"]`)
	assertInteger(t, "h2[b]", got, 2)

	got, _ = evalSource(t, src+` h["b"]`)
	assertNull(t, "original untouched", got)

	got, _ = evalSource(t, src+` insert(h, true, 3)["true"]`)
	assertInteger(t, "printed key", got, 3)
}

func TestBuiltin_InsertArray(t *testing.T) {
	got, _ := evalSource(t, `insert([1, 2], 2, 3)`)
	if got.String() != "[1, 2, 3]" {
		t.Fatalf("append: %v", got)
	}
	got, _ = evalSource(t, `insert([1, 2], 0, 9)`)
	if got.String() != "[9, 2]" {
		t.Fatalf("replace: %v", got)
	}
	got, _ = evalSource(t, `insert([1, 2], 5, 9)`)
	assertNull(t, "out of range", got)
	got, _ = evalSource(t, `insert(1, 0, 9)`)
	assertNull(t, "not a collection", got)
}

func TestBootstrap_Library(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"first([1, 2, 3])", "1"},
		{"first([])", "null"},
		{"last([1, 2, 3])", "3"},
		{"last([])", "null"},
		{"tail([1, 2, 3])", "[2, 3]"},
		{"tail([1])", "[]"},
		{"tail([])", "[]"},
		{"push([1, 2], 3)", "[1, 2, 3]"},
		{"push([], 1)", "[1]"},
		{"map([1,2,3,4], fn(x) x*2+1)", "[3, 5, 7, 9]"},
		{"map([], fn(x) x)", "[]"},
		{`map(["a", "b"], fn(s) s + "!")`, "[a!, b!]"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _ := evalSource(t, tt.input)
			if got.String() != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBootstrap_PushDoesNotMutate(t *testing.T) {
	got, _ := evalSource(t, "let a = [1]; let b = push(a, 2); len(a) + len(b)")
	assertInteger(t, "lengths", got, 3)
}

func TestNewSessionState_Seeded(t *testing.T) {
	s := NewSessionState()
	for _, name := range []string{"len", "print", "println", "insert"} {
		v, ok := s.Get(name)
		if !ok {
			t.Fatalf("missing builtin %q", name)
		}
		if v.Type() != BuiltinType {
			t.Fatalf("%s: got %s, want builtin", name, v.Type())
		}
	}
	for _, name := range BootstrapNames() {
		v, ok := s.Get(name)
		if !ok {
			t.Fatalf("missing bootstrap function %q", name)
		}
		if v.Type() != FunctionType {
			t.Fatalf("%s: got %s, want function", name, v.Type())
		}
	}
}

// ---------------------------------------------------------------------------
// Session state
// ---------------------------------------------------------------------------

func TestState_PreSeededBindings(t *testing.T) {
	s := NewSessionState()
	s.Set("get", NewHash().With(String("name"), String("ada")))
	var out strings.Builder
	v, err := Evaluate(s, `println("hi " + get["name"]); get["name"]`, &out)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	assertString(t, "result", v, "ada")
	if out.String() != "hi ada\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestState_PersistsAcrossEvaluations(t *testing.T) {
	s := NewSessionState()
	if _, err := Evaluate(s, "let x = 40;", nil); err != nil {
		t.Fatal(err)
	}
	v, err := Evaluate(s, "x + 2", nil)
	if err != nil {
		t.Fatal(err)
	}
	assertInteger(t, "x + 2", v, 42)
}

func TestState_CloneIsIndependent(t *testing.T) {
	s := NewState()
	s.Set("a", Integer(1))
	c := s.Clone()
	c.Set("a", Integer(2))
	v, _ := s.Get("a")
	assertInteger(t, "original", v, 1)
}

func TestEvaluate_Idempotent(t *testing.T) {
	src := `let xs = map([1, 2, 3], fn(x) x * x); println(xs); let h = {"k": xs}; h`
	v1, out1 := evalSource(t, src)
	v2, out2 := evalSource(t, src)
	if v1.String() != v2.String() {
		t.Fatalf("results differ: %v vs %v", v1, v2)
	}
	if out1 != out2 {
		t.Fatalf("outputs differ: %q vs %q", out1, out2)
	}
}

func TestEvaluate_ParseErrorIsFatal(t *testing.T) {
	inputs := []string{
		"let = 5",
		"let x 5",
		"(1 + 2",
		"1 @ 2",
		"99999999999",
		`"unterminated`,
		"fn(1) { }",
		"{",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			var out strings.Builder
			v, err := Evaluate(NewSessionState(), `println("never"); `+in, &out)
			if err == nil {
				t.Fatalf("expected parse error, got value %v", v)
			}
			if out.Len() != 0 {
				t.Fatalf("expected no output on parse error, got %q", out.String())
			}
		})
	}
}
