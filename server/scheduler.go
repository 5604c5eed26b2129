package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/monkeyml/ast"
	"github.com/petal-labs/monkeyml/parser"
	"github.com/petal-labs/monkeyml/session"
	"github.com/petal-labs/monkeyml/template"
)

const defaultSchedulePollInterval = time.Second

// Schedule run statuses reported by ScriptScheduler.Status.
const (
	ScheduleRunStatusPending        = "pending"
	ScheduleRunStatusRunning        = "running"
	ScheduleRunStatusCompleted      = "completed"
	ScheduleRunStatusFailed         = "failed"
	ScheduleRunStatusSkippedOverlap = "skipped_overlap"
)

// ScriptSchedule runs the script at Script whenever Cron fires.
type ScriptSchedule struct {
	Name   string
	Cron   string
	Script string
}

// ScheduleStatus is a snapshot of one schedule's state.
type ScheduleStatus struct {
	Name          string     `json:"name"`
	Cron          string     `json:"cron"`
	Script        string     `json:"script"`
	NextRunAt     time.Time  `json:"next_run_at"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastSessionID string     `json:"last_session_id,omitempty"`
	LastStatus    string     `json:"last_status"`
	LastError     string     `json:"last_error,omitempty"`
}

// ScriptSchedulerConfig configures the background script runner.
type ScriptSchedulerConfig struct {
	Schedules []ScriptSchedule

	// Pool runs the scripts. If nil, each run evaluates on its own goroutine.
	Pool *Pool

	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger

	Bus           session.EventPublisher
	SessionEvents session.EventHandler
	EmitDecorator session.EventEmitterDecorator
}

type scheduleEntry struct {
	spec   ScriptSchedule
	cron   *CronSchedule
	status ScheduleStatus
	active bool
}

// ScriptScheduler periodically runs scripts on cron schedules. Each run is
// a fresh session; a schedule whose previous run is still active is
// skipped until its next firing.
type ScriptScheduler struct {
	pool          *Pool
	pollInterval  time.Duration
	now           func() time.Time
	logger        *slog.Logger
	bus           session.EventPublisher
	sessionEvents session.EventHandler
	emitDecorator session.EventEmitterDecorator

	mu      sync.Mutex
	entries []*scheduleEntry
	cancel  context.CancelFunc
	done    chan struct{}
	runs    sync.WaitGroup
}

// NewScriptScheduler validates the schedules and computes their first run
// times.
func NewScriptScheduler(cfg ScriptSchedulerConfig) (*ScriptScheduler, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &ScriptScheduler{
		pool:          cfg.Pool,
		pollInterval:  cfg.PollInterval,
		now:           cfg.Now,
		logger:        cfg.Logger,
		bus:           cfg.Bus,
		sessionEvents: cfg.SessionEvents,
		emitDecorator: cfg.EmitDecorator,
	}

	now := cfg.Now().UTC()
	seen := make(map[string]struct{}, len(cfg.Schedules))
	for _, spec := range cfg.Schedules {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, errors.New("schedule name is required")
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("schedule %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if spec.Script == "" {
			return nil, fmt.Errorf("schedule %q: script is required", spec.Name)
		}
		sched, err := ParseCron(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", spec.Name, err)
		}
		s.entries = append(s.entries, &scheduleEntry{
			spec: spec,
			cron: sched,
			status: ScheduleStatus{
				Name:       spec.Name,
				Cron:       sched.String(),
				Script:     spec.Script,
				NextRunAt:  sched.Next(now),
				LastStatus: ScheduleRunStatusPending,
			},
		})
	}
	return s, nil
}

// Start starts background polling. Calling Start on a running scheduler is
// a no-op.
func (s *ScriptScheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop stops background polling and waits for in-flight runs, or until ctx
// is done.
func (s *ScriptScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	waited := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every run started so far has finished.
func (s *ScriptScheduler) Wait() { s.runs.Wait() }

// RunOnce starts every schedule that is due. Runs proceed in the
// background; use Wait to block on them.
func (s *ScriptScheduler) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.status.NextRunAt.After(now) {
			continue
		}
		e.status.NextRunAt = e.cron.Next(now)
		if e.active {
			e.status.LastStatus = ScheduleRunStatusSkippedOverlap
			e.status.LastError = "skipped because prior scheduled run is still active"
			s.logger.Warn("schedule skipped", "schedule", e.spec.Name, "reason", "overlap")
			continue
		}
		e.active = true
		e.status.LastStatus = ScheduleRunStatusRunning
		e.status.LastError = ""
		s.runs.Add(1)
		go s.run(ctx, e)
	}
}

// Status returns a snapshot of every schedule in configuration order.
func (s *ScriptScheduler) Status() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleStatus, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.status
		if e.status.LastRunAt != nil {
			t := *e.status.LastRunAt
			out[i].LastRunAt = &t
		}
	}
	return out
}

func (s *ScriptScheduler) run(ctx context.Context, e *scheduleEntry) {
	defer s.runs.Done()

	sessionID, runErr := s.execute(ctx, e.spec)

	finish := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	e.active = false
	e.status.LastRunAt = &finish
	e.status.LastSessionID = sessionID
	if runErr != nil {
		e.status.LastStatus = ScheduleRunStatusFailed
		e.status.LastError = runErr.Error()
		s.logger.Error("scheduled run failed", "schedule", e.spec.Name, "session_id", sessionID, "error", runErr)
		return
	}
	e.status.LastStatus = ScheduleRunStatusCompleted
}

func (s *ScriptScheduler) execute(ctx context.Context, spec ScriptSchedule) (string, error) {
	prog, err := loadScript(spec.Script)
	if err != nil {
		return "", err
	}

	var (
		sessionID string
		buf       bytes.Buffer
	)
	fn := func() error {
		sess := session.New(session.OriginSchedule, session.Options{
			Name:                  spec.Name,
			EventHandler:          s.sessionEvents,
			EventBus:              s.bus,
			EventEmitterDecorator: s.emitDecorator,
		})
		sessionID = sess.ID()
		_, evalErr := sess.EvalProgram(prog, &buf)
		sess.Close(evalErr)
		return evalErr
	}
	if s.pool != nil {
		err = s.pool.Do(ctx, fn)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// The run may still be executing on a worker.
			return "", err
		}
	} else {
		err = fn()
	}
	if err != nil {
		return sessionID, err
	}

	if buf.Len() > 0 {
		s.logger.Info("scheduled run output", "schedule", spec.Name, "session_id", sessionID, "output", buf.String())
	}
	return sessionID, nil
}

// loadScript parses a script file. Files with the template extension are
// parsed as templates.
func loadScript(path string) (*ast.Program, error) {
	// #nosec G304 -- script paths come from the operator's config file.
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if template.IsTemplate(path) {
		return template.Parse(string(src))
	}
	return parser.Parse(string(src))
}
