package ecs

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
)

// System is a function that contains game logic. It receives a pointer to its state struct, whose
// fields declare everything the system reads and writes.
type System[T any] func(state *T) error

// CoroutineStatus is returned by a coroutine to say whether it wants to run again.
type CoroutineStatus uint8

const (
	// Running keeps the coroutine scheduled for the next tick.
	Running CoroutineStatus = iota
	// Done retires the coroutine. It is never called again.
	Done
)

func (s CoroutineStatus) String() string {
	if s == Done {
		return "done"
	}
	return "running"
}

// Coroutine is a system that runs across several ticks. Its state struct is preserved between
// calls, so Local fields can carry progress from one tick to the next.
type Coroutine[T any] func(state *T) (CoroutineStatus, error)

// systemConfig holds all configurable options for system registration.
type systemConfig struct {
	// The stage that determines when the system should be executed.
	stage Stage
	// Name used in logs, errors and the schedule description.
	name string
}

// newSystemConfig creates a new system config with default values.
func newSystemConfig() systemConfig {
	return systemConfig{
		stage: Update,
		name:  "",
	}
}

// SystemOption is a function that configures a SystemConfig.
type SystemOption func(*systemConfig)

// Stage defines when a system should be executed in the update cycle.
type Stage uint8

const (
	// PreUpdate runs before the main update.
	PreUpdate Stage = 0
	// Update runs during the main update phase.
	Update Stage = 1
	// PostUpdate runs after the main update.
	PostUpdate Stage = 2
	// Init runs once, at the start of the first tick.
	Init Stage = 3
)

// stageCount is the number of stages that run every tick.
const stageCount = 3

func (s Stage) String() string {
	switch s {
	case PreUpdate:
		return "pre_update"
	case Update:
		return "update"
	case PostUpdate:
		return "post_update"
	case Init:
		return "init"
	default:
		return "unknown"
	}
}

// WithStage returns an option to set the system stage.
func WithStage(stage Stage) SystemOption {
	return func(cfg *systemConfig) { cfg.stage = stage }
}

// WithName returns an option to set the system name. The default is the function's name.
func WithName(name string) SystemOption {
	return func(cfg *systemConfig) { cfg.name = name }
}

// RegisterSystem registers a system with the world. The state struct is allocated and its fields
// initialized once, here; the dependency sets derived from the fields decide how the system is
// ordered against the other systems of its stage. Systems must be registered outside of a tick.
func RegisterSystem[T any](w *World, system System[T], opts ...SystemOption) error {
	return registerSystem(w, funcName(system), opts, func(state *T) func() (bool, error) {
		return func() (bool, error) {
			return false, system(state)
		}
	})
}

// RegisterCoroutine registers a system that keeps running each tick until it returns Done.
func RegisterCoroutine[T any](w *World, co Coroutine[T], opts ...SystemOption) error {
	return registerSystem(w, funcName(co), opts, func(state *T) func() (bool, error) {
		return func() (bool, error) {
			status, err := co(state)
			return status == Done, err
		}
	})
}

func registerSystem[T any](
	w *World,
	defaultName string,
	opts []SystemOption,
	bind func(state *T) func() (bool, error),
) error {
	if err := w.state.checkUnlocked(); err != nil {
		return err
	}

	cfg := newSystemConfig()
	cfg.name = defaultName
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.stage > Init {
		return eris.Errorf("invalid stage %d for system %s", cfg.stage, cfg.name)
	}

	state := new(T)
	meta := newSystemInitMetadata(w, cfg.name)
	if err := initializeSystemState(state, &meta); err != nil {
		return eris.Wrapf(err, "failed to register system %s", cfg.name)
	}

	sys := &systemMetadata{
		name:     cfg.name,
		stage:    cfg.stage,
		deps:     meta.deps,
		commands: meta.commands,
		run:      bind(state),
	}
	w.schedulerFor(cfg.stage).register(sys)

	w.logger.Debug().
		Str("system", cfg.name).
		Stringer("stage", cfg.stage).
		Msg("registered system")
	return nil
}

// funcName returns the short name of a function value, e.g. "movement" for main.movement.
func funcName(fn any) string {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return full
}
