package ecs

import (
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	// MinChunkBytes is the smallest accepted chunk byte budget.
	MinChunkBytes = 1 << 10
	// MaxChunkRowsLimit bounds the rows of a chunk so locations fit in 32 bits.
	MaxChunkRowsLimit = 1 << 20
)

// worldConfig holds the configuration for a World instance.
// Configuration can be set via environment variables with the specified defaults.
type worldConfig struct {
	// Target size in bytes of one chunk across all of its columns.
	ChunkBytes int `env:"ECS_CHUNK_BYTES" envDefault:"16384"`

	// Lower bound on rows per chunk, used for archetypes with very wide rows.
	MinChunkRows int `env:"ECS_MIN_CHUNK_ROWS" envDefault:"16"`

	// Upper bound on rows per chunk, used for archetypes with very narrow rows.
	MaxChunkRows int `env:"ECS_MAX_CHUNK_ROWS" envDefault:"4096"`

	// Run the systems of a batch concurrently.
	Parallel bool `env:"ECS_PARALLEL" envDefault:"false"`
}

// loadWorldConfig loads the world configuration from environment variables.
func loadWorldConfig() (worldConfig, error) {
	cfg := worldConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse world config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *worldConfig) validate() error {
	return validateChunkLayout(cfg.ChunkBytes, cfg.MinChunkRows, cfg.MaxChunkRows)
}

// applyToOptions applies the configuration values to the given WorldOptions.
func (cfg *worldConfig) applyToOptions(opt *WorldOptions) {
	opt.ChunkBytes = cfg.ChunkBytes
	opt.MinChunkRows = cfg.MinChunkRows
	opt.MaxChunkRows = cfg.MaxChunkRows
	if cfg.Parallel {
		opt.Execution = ExecutionParallel
	} else {
		opt.Execution = ExecutionSequential
	}
}

// ExecutionMode selects how the systems of one batch are run.
type ExecutionMode uint8

const (
	ExecutionUndefined  ExecutionMode = iota // Used as the zero value
	ExecutionSequential                      // Systems run one after another in registration order
	ExecutionParallel                        // Systems of a batch run concurrently
)

func (m ExecutionMode) String() string {
	switch m {
	case ExecutionUndefined:
		return "undefined"
	case ExecutionSequential:
		return "sequential"
	case ExecutionParallel:
		return "parallel"
	default:
		return "undefined"
	}
}

type WorldOptions struct {
	ChunkBytes   int             // Target bytes per chunk
	MinChunkRows int             // Lower bound on rows per chunk
	MaxChunkRows int             // Upper bound on rows per chunk
	Execution    ExecutionMode   // Batch execution mode
	Name         string          // Service name used in logs and spans
	Logger       *zerolog.Logger // Optional logger, built from the environment when nil
}

// newDefaultWorldOptions creates WorldOptions with default values.
func newDefaultWorldOptions() WorldOptions {
	// Set these to invalid values to force users to pass in the correct options.
	return WorldOptions{
		ChunkBytes:   0,
		MinChunkRows: 0,
		MaxChunkRows: 0,
		Execution:    ExecutionUndefined,
		Name:         "ecs",
		Logger:       nil,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *WorldOptions) apply(newOpt WorldOptions) {
	if newOpt.ChunkBytes != 0 {
		opt.ChunkBytes = newOpt.ChunkBytes
	}
	if newOpt.MinChunkRows != 0 {
		opt.MinChunkRows = newOpt.MinChunkRows
	}
	if newOpt.MaxChunkRows != 0 {
		opt.MaxChunkRows = newOpt.MaxChunkRows
	}
	if newOpt.Execution != ExecutionUndefined {
		opt.Execution = newOpt.Execution
	}
	if newOpt.Name != "" {
		opt.Name = newOpt.Name
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
}

// validate checks that all required options are set and valid.
func (opt *WorldOptions) validate() error {
	if err := validateChunkLayout(opt.ChunkBytes, opt.MinChunkRows, opt.MaxChunkRows); err != nil {
		return err
	}
	if opt.Execution == ExecutionUndefined {
		return eris.New("execution mode must be specified")
	}
	if opt.Name == "" {
		return eris.New("name cannot be empty")
	}
	return nil
}

func validateChunkLayout(chunkBytes, minRows, maxRows int) error {
	if chunkBytes < MinChunkBytes {
		return eris.Errorf("chunk bytes must be at least %d", MinChunkBytes)
	}
	if minRows < 1 {
		return eris.New("min chunk rows must be at least 1")
	}
	if maxRows < minRows {
		return eris.New("max chunk rows cannot be less than min chunk rows")
	}
	if maxRows > MaxChunkRowsLimit {
		return eris.Errorf("max chunk rows cannot exceed %d", MaxChunkRowsLimit)
	}
	return nil
}
