// Package config loads monkeyml.yaml, the optional configuration file of
// the server and its scheduled scripts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "monkeyml.yaml"
	homeConfigDir     = ".monkeyml"
	homeConfigName    = "config.yaml"
)

// Defaults applied by Load and Default.
const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8080
	DefaultRoot         = "public"
	DefaultIndex        = "index.ml"
	DefaultWorkers      = 4
	DefaultMaxBody      = 1 << 20
	DefaultSchedulePoll = time.Second
)

// Config errors
var (
	ErrNotFound = errors.New("config file not found")
	ErrInvalid  = errors.New("invalid config")
)

// File is the shape of monkeyml.yaml.
type File struct {
	Server    ServerConfig     `yaml:"server"`
	Events    EventsConfig     `yaml:"events"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ServerConfig configures the template server.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Root    string `yaml:"root"`
	Index   string `yaml:"index"`
	Workers int    `yaml:"workers"`
	MaxBody int64  `yaml:"max_body"`
}

// EventsConfig configures session event persistence.
type EventsConfig struct {
	// SQLitePath is the event database. Empty disables persistence.
	SQLitePath string `yaml:"sqlite_path"`

	// Retention is a duration such as "72h"; older events are pruned.
	Retention string `yaml:"retention"`

	// RetentionSessions keeps the events of at most this many sessions.
	RetentionSessions int `yaml:"retention_sessions"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// ScheduleConfig declares one scheduled script.
type ScheduleConfig struct {
	Name   string `yaml:"name"`
	Cron   string `yaml:"cron"`
	Script string `yaml:"script"`
}

// RetentionAge parses Retention. An empty value means no age limit.
func (e EventsConfig) RetentionAge() (time.Duration, error) {
	if strings.TrimSpace(e.Retention) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(e.Retention))
	if err != nil {
		return 0, fmt.Errorf("%w: events.retention %q: %v", ErrInvalid, e.Retention, err)
	}
	return d, nil
}

// Default returns a configuration with every default applied.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.Server.Host == "" {
		f.Server.Host = DefaultHost
	}
	if f.Server.Port == 0 {
		f.Server.Port = DefaultPort
	}
	if f.Server.Root == "" {
		f.Server.Root = DefaultRoot
	}
	if f.Server.Index == "" {
		f.Server.Index = DefaultIndex
	}
	if f.Server.Workers <= 0 {
		f.Server.Workers = DefaultWorkers
	}
	if f.Server.MaxBody <= 0 {
		f.Server.MaxBody = DefaultMaxBody
	}
}

// Discover resolves the config file location with first-match semantics:
// the explicit path, then ./monkeyml.yaml, then ~/.monkeyml/config.yaml.
// It reports found=false when no implicit candidate exists.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is Discover with explicit working and home directories.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)

	var candidates []string
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(os.ExpandEnv(explicit)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, true, nil
		case err == nil, errors.Is(err, os.ErrNotExist):
			if explicit != "" {
				return "", false, fmt.Errorf("%w: %q", ErrNotFound, candidate)
			}
		default:
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads and validates a config file. Relative paths in the file are
// resolved against the file's directory, after ${ENV} expansion.
func Load(path string) (*File, error) {
	// #nosec G304 -- path comes from explicit flag or discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	f, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return f, nil
}

// Parse decodes config data. baseDir anchors relative paths.
func Parse(data []byte, baseDir string) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if f.Server.Root != "" {
		f.Server.Root = resolvePath(baseDir, f.Server.Root)
	}
	if f.Events.SQLitePath != "" {
		f.Events.SQLitePath = resolvePath(baseDir, f.Events.SQLitePath)
	}
	f.Telemetry.OTLPEndpoint = strings.TrimSpace(os.ExpandEnv(f.Telemetry.OTLPEndpoint))
	for i := range f.Schedules {
		f.Schedules[i].Name = strings.TrimSpace(f.Schedules[i].Name)
		f.Schedules[i].Cron = strings.TrimSpace(f.Schedules[i].Cron)
		if f.Schedules[i].Script != "" {
			f.Schedules[i].Script = resolvePath(baseDir, f.Schedules[i].Script)
		}
	}
	f.applyDefaults()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the fields Load cannot default.
func (f *File) Validate() error {
	if f.Server.Port < 0 || f.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, f.Server.Port)
	}
	if _, err := f.Events.RetentionAge(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(f.Schedules))
	for i, s := range f.Schedules {
		switch {
		case s.Name == "":
			return fmt.Errorf("%w: schedules[%d]: name is required", ErrInvalid, i)
		case seen[s.Name]:
			return fmt.Errorf("%w: schedules[%d]: duplicate name %q", ErrInvalid, i, s.Name)
		case s.Cron == "":
			return fmt.Errorf("%w: schedule %q: cron is required", ErrInvalid, s.Name)
		case s.Script == "":
			return fmt.Errorf("%w: schedule %q: script is required", ErrInvalid, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func resolvePath(baseDir, p string) string {
	clean := filepath.Clean(os.ExpandEnv(strings.TrimSpace(p)))
	if filepath.IsAbs(clean) || baseDir == "" {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
