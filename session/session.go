// Package session runs monkeyml programs against a long-lived state and
// reports what happened as a stream of events.
//
// The evaluator itself treats integer division by zero as a native fault
// and panics. A Session is the boundary where that fault is recovered: the
// evaluation returns an error wrapping ErrFault and the session is marked
// failed.
package session

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/monkeyml/ast"
	"github.com/petal-labs/monkeyml/eval"
	"github.com/petal-labs/monkeyml/parser"
)

// Session errors
var (
	ErrFault  = errors.New("runtime fault")
	ErrClosed = errors.New("session closed")
)

// Origin names the collaborator that created a session.
type Origin string

const (
	OriginREPL     Origin = "repl"
	OriginScript   Origin = "script"
	OriginHTTP     Origin = "http"
	OriginSchedule Origin = "schedule"
)

// Session status values reported in the session.finished payload.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Failure reasons reported in the eval.failed payload.
const (
	ReasonParse  = "parse"
	ReasonFault  = "fault"
	ReasonOutput = "output"
)

// Options controls how a session is created.
type Options struct {
	// Name is a human-readable label (script path, schedule name, URL path).
	Name string

	// Seed binds additional names on top of the builtins and bootstrap
	// library, for example the get and post hashes of an HTTP request.
	Seed map[string]eval.Value

	// EventHandler receives every event.
	EventHandler EventHandler

	// EventBus distributes events to subscribers.
	EventBus EventPublisher

	// EventEmitterDecorator wraps the internal emitter.
	EventEmitterDecorator EventEmitterDecorator

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// Session is one evaluation session: a state plus the evaluations run
// against it. Evaluations on a session are serialized.
type Session struct {
	id     string
	origin Origin
	name   string

	now     func() time.Time
	started time.Time
	emit    EventEmitter

	mu     sync.Mutex
	state  *eval.State
	steps  int
	failed bool
	closed bool
}

// New creates a session with a fresh session state and emits
// session.started.
func New(origin Origin, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		id:     uuid.NewString(),
		origin: origin,
		name:   opts.Name,
		now:    opts.Now,
		state:  eval.NewSessionState(),
	}
	for _, name := range slices.Sorted(maps.Keys(opts.Seed)) {
		s.state.Set(name, opts.Seed[name])
	}

	var seq atomic.Uint64
	emit := func(e Event) {
		e.Seq = seq.Add(1)
		if opts.EventBus != nil {
			opts.EventBus.Publish(e)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}
	s.emit = emit

	s.started = s.now()
	s.emit(s.event(EventSessionStarted).
		WithPayload("origin", string(origin)).
		WithPayload("name", opts.Name))
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Origin returns where the session came from.
func (s *Session) Origin() Origin { return s.origin }

// Name returns the session label.
func (s *Session) Name() string { return s.name }

// State returns the session state. It must not be used concurrently with
// an evaluation.
func (s *Session) State() *eval.State { return s.state }

// Steps returns the number of evaluations run so far.
func (s *Session) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Failed reports whether an evaluation faulted or the session was closed
// with an error.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Eval parses src and evaluates it against the session state. The result
// is nil when the last statement produced no value.
func (s *Session) Eval(src string, out io.Writer) (eval.Value, error) {
	return s.run(out, func() (*ast.Program, error) {
		return parser.Parse(src)
	})
}

// EvalProgram evaluates an already parsed program against the session
// state.
func (s *Session) EvalProgram(prog *ast.Program, out io.Writer) (eval.Value, error) {
	return s.run(out, func() (*ast.Program, error) {
		return prog, nil
	})
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if c.w != nil {
		n, err = c.w.Write(p)
	} else {
		n = len(p)
	}
	c.n += n
	return n, err
}

func (s *Session) run(out io.Writer, load func() (*ast.Program, error)) (eval.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	s.steps++
	step := s.steps

	evalStart := s.now()
	s.emit(s.event(EventEvalStarted).WithStep(step))

	fail := func(reason string, err error) (eval.Value, error) {
		s.emit(s.event(EventEvalFailed).
			WithStep(step).
			WithElapsed(s.now().Sub(evalStart)).
			WithPayload("reason", reason).
			WithPayload("error", err.Error()))
		return nil, err
	}

	prog, err := load()
	if err != nil {
		return fail(ReasonParse, err)
	}

	cw := &countingWriter{w: out}
	result, err := evalRecover(s.state, prog, cw)
	if err != nil {
		reason := ReasonOutput
		if errors.Is(err, ErrFault) {
			reason = ReasonFault
			s.failed = true
		}
		return fail(reason, err)
	}

	finished := s.event(EventEvalFinished).
		WithStep(step).
		WithElapsed(s.now().Sub(evalStart)).
		WithPayload("output_bytes", cw.n)
	if result != nil {
		finished = finished.WithPayload("result", result.String())
	}
	s.emit(finished)
	return result, nil
}

// evalRecover evaluates prog and converts a native fault into an error.
func evalRecover(state *eval.State, prog *ast.Program, out io.Writer) (result eval.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrFault, r)
		}
	}()
	return eval.EvalProgram(state, prog, out)
}

// Close finishes the session and emits session.finished. A non-nil err
// marks the session failed. Closing twice is a no-op.
func (s *Session) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if err != nil {
		s.failed = true
	}

	finished := s.event(EventSessionFinished).
		WithElapsed(s.now().Sub(s.started)).
		WithPayload("steps", s.steps)
	if s.failed {
		finished = finished.WithPayload("status", StatusFailed)
	} else {
		finished = finished.WithPayload("status", StatusCompleted)
	}
	if err != nil {
		finished = finished.WithPayload("error", err.Error())
	}
	s.emit(finished)
}

func (s *Session) event(kind EventKind) Event {
	e := NewEvent(kind, s.id).WithOrigin(s.origin)
	e.Time = s.now()
	return e
}
