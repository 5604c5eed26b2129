// Package server serves a directory of static files and .ml templates over
// HTTP, and runs scheduled scripts.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/petal-labs/monkeyml/bus"
	"github.com/petal-labs/monkeyml/session"
	"github.com/petal-labs/monkeyml/sse"
)

// Defaults applied by NewServer.
const (
	DefaultRoot    = "public"
	DefaultIndex   = "index.ml"
	DefaultMaxBody = 1 << 20
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	// Root is the directory files are served from. Requests never escape it.
	Root string

	// Index is the file served for "/".
	Index string

	// Pool runs template evaluations. If nil, the server creates one with
	// Workers workers and closes it in Close.
	Pool    *Pool
	Workers int

	// Bus receives the events of every template session. When it is a
	// bus.EventBus, /-/sessions/{id}/stream serves its events as SSE.
	Bus session.EventPublisher

	// EventStore backs the /-/sessions endpoints. Nil disables them.
	EventStore bus.EventStore

	// SessionEvents receives the events of every template session.
	SessionEvents session.EventHandler

	// EmitDecorator wraps each session's emitter.
	EmitDecorator session.EventEmitterDecorator

	// MetricsReader backs /-/metrics. Nil disables it.
	MetricsReader sdkmetric.Reader

	// Scheduler backs /-/schedules. Nil disables it.
	Scheduler *ScriptScheduler

	MaxBody int64
	Logger  *slog.Logger
}

// Server is the monkeyml HTTP server.
type Server struct {
	root          string
	index         string
	pool          *Pool
	ownsPool      bool
	bus           session.EventPublisher
	eventStore    bus.EventStore
	sessionEvents session.EventHandler
	emitDecorator session.EventEmitterDecorator
	metricsReader sdkmetric.Reader
	scheduler     *ScriptScheduler
	maxBody       int64
	logger        *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		root:          cfg.Root,
		index:         cfg.Index,
		pool:          cfg.Pool,
		bus:           cfg.Bus,
		eventStore:    cfg.EventStore,
		sessionEvents: cfg.SessionEvents,
		emitDecorator: cfg.EmitDecorator,
		metricsReader: cfg.MetricsReader,
		scheduler:     cfg.Scheduler,
		maxBody:       cfg.MaxBody,
		logger:        cfg.Logger,
	}
	if s.root == "" {
		s.root = DefaultRoot
	}
	if s.index == "" {
		s.index = DefaultIndex
	}
	if s.pool == nil {
		s.pool = NewPool(cfg.Workers)
		s.ownsPool = true
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBody
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.maxBodyMiddleware(handler)
	return handler
}

// RegisterRoutes mounts the server routes onto mux. Paths under /-/ are
// reserved for the server itself; everything else is a file under Root.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /-/health", s.handleHealth)
	mux.HandleFunc("GET /-/sessions", s.handleListSessions)
	mux.HandleFunc("GET /-/sessions/{id}/events", s.handleSessionEvents)
	if eb, ok := s.bus.(bus.EventBus); ok {
		mux.Handle("GET /-/sessions/{id}/stream", sse.NewHandler(s.eventStore, eb))
	}
	mux.HandleFunc("GET /-/metrics", s.handleMetrics)
	mux.HandleFunc("GET /-/schedules", s.handleSchedules)
	mux.HandleFunc("/", s.handleFile)
}

// Close releases the worker pool if the server created it.
func (s *Server) Close() {
	if s.ownsPool {
		s.pool.Close()
	}
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}
