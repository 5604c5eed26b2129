package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/monkeyml/bus"
	"github.com/petal-labs/monkeyml/config"
	mlotel "github.com/petal-labs/monkeyml/otel"
	"github.com/petal-labs/monkeyml/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory of templates over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", config.DefaultPort, "Listen port")
	cmd.Flags().String("host", config.DefaultHost, "Listen host")
	cmd.Flags().String("root", config.DefaultRoot, "Directory to serve")
	cmd.Flags().String("index", config.DefaultIndex, "File served for /")
	cmd.Flags().Int("workers", config.DefaultWorkers, "Number of evaluation workers")
	cmd.Flags().String("config", "", "Path to monkeyml.yaml")
	cmd.Flags().String("sqlite-path", "", "Persist session events to this SQLite database")
	cmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint")
	cmd.Flags().Int64("max-body", config.DefaultMaxBody, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Duration("schedule-poll", config.DefaultSchedulePoll, "Scheduled script poll interval")

	return cmd
}

// loadServeConfig discovers the config file and applies flag overrides.
func loadServeConfig(cmd *cobra.Command) (*config.File, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := config.Discover(explicit)
	if err != nil {
		return nil, exitError(exitUsage, "%v", err)
	}

	cfg := config.Default()
	if found {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, exitError(exitUsage, "%v", err)
		}
		slog.Info("loaded config", "path", path, "schedules", len(cfg.Schedules))
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("root") {
		cfg.Server.Root, _ = flags.GetString("root")
	}
	if flags.Changed("index") {
		cfg.Server.Index, _ = flags.GetString("index")
	}
	if flags.Changed("workers") {
		cfg.Server.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("max-body") {
		cfg.Server.MaxBody, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("sqlite-path") {
		cfg.Events.SQLitePath, _ = flags.GetString("sqlite-path")
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(exitUsage, "%v", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := mlotel.Setup(ctx, mlotel.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Register:     true,
	})
	if err != nil {
		return exitError(exitUsage, "initializing telemetry: %v", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer func() {
		_ = eb.Close()
	}()

	var eventStore bus.EventStore
	if cfg.Events.SQLitePath != "" {
		retention, _ := cfg.Events.RetentionAge()
		es, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
			DSN:               cfg.Events.SQLitePath,
			RetentionAge:      retention,
			RetentionSessions: cfg.Events.RetentionSessions,
		})
		if err != nil {
			return exitError(exitUsage, "opening sqlite event store: %v", err)
		}
		defer func() {
			_ = es.Close()
		}()
		eventStore = es

		drainCtx, cancelDrain := context.WithCancel(context.Background())
		defer cancelDrain()
		go bus.NewStoreSubscriber(es, logger).Drain(drainCtx, eb.SubscribeAll())
	}

	pool := server.NewPool(cfg.Server.Workers)
	defer pool.Close()

	schedules := make([]server.ScriptSchedule, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		schedules[i] = server.ScriptSchedule{Name: s.Name, Cron: s.Cron, Script: s.Script}
	}
	scheduler, err := server.NewScriptScheduler(server.ScriptSchedulerConfig{
		Schedules:     schedules,
		Pool:          pool,
		PollInterval:  schedulePoll,
		Logger:        logger,
		Bus:           eb,
		SessionEvents: telemetry.Handler(),
		EmitDecorator: telemetry.Decorator(),
	})
	if err != nil {
		return exitError(exitUsage, "creating scheduler: %v", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("scheduler stop", "error", err)
		}
	}()

	srv := server.NewServer(server.ServerConfig{
		Root:          cfg.Server.Root,
		Index:         cfg.Server.Index,
		Pool:          pool,
		Bus:           eb,
		EventStore:    eventStore,
		SessionEvents: telemetry.Handler(),
		EmitDecorator: telemetry.Decorator(),
		MetricsReader: telemetry.Reader,
		Scheduler:     scheduler,
		MaxBody:       cfg.Server.MaxBody,
		Logger:        logger,
	})
	defer srv.Close()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "monkeyml serving %s on %s\n", cfg.Server.Root, addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitFault, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitFault, "server error: %v", err)
		}
		return nil
	}
}
