package epochflow

import (
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/randalmurphal/epochflow/pkg/epochflow/changelog"
	"github.com/randalmurphal/epochflow/pkg/epochflow/config"
	"github.com/randalmurphal/epochflow/pkg/epochflow/epoch"
	"github.com/randalmurphal/epochflow/pkg/epochflow/observability"
)

// runConfig holds configuration for a dataflow run.
type runConfig struct {
	store          changelog.Store
	epochs         epoch.Config
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
	runID          string
	clock          clock.Clock
	retry          changelog.RetryPolicy
}

// defaultRunConfig returns the default run configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		epochs:  epoch.PerItem(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		clock:   clock.New(),
		retry:   changelog.NoRetry,
	}
}

// RunOption configures a run.
type RunOption func(*runConfig)

// WithRecovery sets the recovery store. The run resumes from the store's
// resume epoch and records its progress there. The caller owns the store
// and closes it.
//
// Without a store every run starts fresh and progress is kept in memory
// for the duration of the run only.
func WithRecovery(store changelog.Store) RunOption {
	return func(c *runConfig) {
		c.store = store
	}
}

// WithEpochConfig selects how the input's stream is cut into epochs.
// Default: epoch.PerItem().
func WithEpochConfig(cfg epoch.Config) RunOption {
	return func(c *runConfig) {
		c.epochs = cfg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for the run.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and each worker.
func WithTracing() RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = true
		c.spans = observability.NewSpanManager()
	}
}

// WithRunID sets the run ID attached to logs and spans. Default: a new
// UUID per run.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithClock sets the clock used for periodic epochs and stall warnings.
func WithClock(clk clock.Clock) RunOption {
	return func(c *runConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithStoreRetry retries transient recovery store write failures.
// Default: changelog.NoRetry.
func WithStoreRetry(p changelog.RetryPolicy) RunOption {
	return func(c *runConfig) {
		c.retry = p
	}
}

// Settings is a run configuration read from a config file.
type Settings struct {
	Workers int
	Epochs  epoch.Config
	Backend string
	Path    string
	Retry   changelog.RetryPolicy
}

// SettingsFromConfig reads run settings from cfg:
//
//	workers: 2
//	epoch:
//	  mode: periodic        # per_item | testing | periodic
//	  length: 5s
//	  stall_warning: 30s
//	recovery:
//	  backend: sqlite       # memory | sqlite | pebble
//	  path: ./recovery.db
//	  retry:
//	    max_attempts: 4
//	    backoff: 10ms
//	    max_backoff: 250ms
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	s := Settings{
		Workers: cfg.Int("workers", 1),
		Backend: cfg.String("recovery.backend", changelog.BackendMemory),
		Path:    cfg.String("recovery.path", ""),
	}
	if s.Workers < 1 {
		return Settings{}, fmt.Errorf("%w: %d", ErrInvalidWorkers, s.Workers)
	}

	ec := cfg.Sub("epoch")
	epochs, err := epoch.ParseConfig(
		ec.String("mode", ""),
		ec.Duration("length", 0),
		ec.Duration("stall_warning", 0),
	)
	if err != nil {
		return Settings{}, err
	}
	s.Epochs = epochs

	s.Retry = changelog.NoRetry
	if cfg.Has("recovery.retry") {
		rc := cfg.Sub("recovery.retry")
		s.Retry = changelog.RetryPolicy{
			MaxAttempts:    rc.Int("max_attempts", changelog.DefaultRetry.MaxAttempts),
			InitialBackoff: rc.Duration("backoff", changelog.DefaultRetry.InitialBackoff),
			MaxBackoff:     rc.Duration("max_backoff", changelog.DefaultRetry.MaxBackoff),
			BackoffFactor:  changelog.DefaultRetry.BackoffFactor,
		}
	}
	return s, nil
}

// OpenStore opens the configured recovery store.
func (s Settings) OpenStore() (changelog.Store, error) {
	return changelog.Open(s.Backend, s.Path)
}

// Options returns run options for these settings and an already opened
// store.
func (s Settings) Options(store changelog.Store) []RunOption {
	return []RunOption{
		WithRecovery(store),
		WithEpochConfig(s.Epochs),
		WithStoreRetry(s.Retry),
	}
}
