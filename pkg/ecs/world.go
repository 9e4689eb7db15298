package ecs

import (
	"context"
	"reflect"

	"github.com/Refsa/pollus-sub003/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// World represents the root ECS state: the archetype store, resources, events and the systems
// that run on every tick.
type World struct {
	state   *worldState
	options WorldOptions

	// Systems.
	initDone    bool                        // Tracks if init systems have been executed
	initSystems systemScheduler             // Initialization systems, run once on the first tick
	scheduler   [stageCount]systemScheduler // Systems schedulers (PreUpdate, Update, PostUpdate)
	ticking     bool                        // Set while Tick runs

	resources resourceManager    // World-global singletons
	events    systemEventManager // Manages system events

	telemetry     telemetry.Telemetry
	logger        zerolog.Logger
	commandLogger zerolog.Logger
	tracer        trace.Tracer
}

// NewWorld creates a new World. Options are read from the environment first and then overridden
// by the non-zero fields of opts.
func NewWorld(opts WorldOptions) (*World, error) {
	cfg, err := loadWorldConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load world config")
	}

	options := newDefaultWorldOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}

	var tel telemetry.Telemetry
	if options.Logger != nil {
		tel = telemetry.Nop(options.Name)
		tel.Logger = *options.Logger
	} else {
		tel, err = telemetry.New(telemetry.Options{ServiceName: options.Name})
		if err != nil {
			return nil, eris.Wrap(err, "failed to create telemetry")
		}
	}

	world := &World{
		state:         newWorldState(options),
		options:       options,
		initSystems:   newSystemScheduler(Init),
		resources:     newResourceManager(),
		events:        newSystemEventManager(),
		telemetry:     tel,
		logger:        tel.GetLogger("world"),
		commandLogger: tel.GetLogger("commands"),
		tracer:        tel.Tracer,
	}
	for i := range world.scheduler {
		world.scheduler[i] = newSystemScheduler(Stage(i))
	}

	world.state.onNewArchetype = func(arch *archetype) {
		world.logger.Debug().
			Int("archetype", arch.id).
			Strs("components", archetypeNames(arch)).
			Int("chunk_capacity", arch.chunkCap).
			Msg("created archetype")
	}

	world.logger.Debug().
		Int("chunk_bytes", options.ChunkBytes).
		Int("min_chunk_rows", options.MinChunkRows).
		Int("max_chunk_rows", options.MaxChunkRows).
		Stringer("execution", options.Execution).
		Msg("created world")
	return world, nil
}

func (w *World) schedulerFor(stage Stage) *systemScheduler {
	if stage == Init {
		return &w.initSystems
	}
	return &w.scheduler[stage]
}

// Init builds the schedules of every stage. Calling it is optional; Tick builds any schedule that
// is out of date.
func (w *World) Init() {
	w.initSystems.createSchedule()
	for i := range w.scheduler {
		w.scheduler[i].createSchedule()
		w.logSchedule(&w.scheduler[i])
	}
}

// Tick runs one pass of the scheduler. See TickContext.
func (w *World) Tick() error {
	return w.TickContext(context.Background())
}

// TickContext runs the init systems if this is the first tick, then every stage in order. Each
// stage runs its batches, flushing deferred commands after every batch. When all stages are done,
// events and the removal log are cleared and the world tick advances. If a system returns an error
// the tick stops, the tick counter is not advanced, and the error is returned.
func (w *World) TickContext(ctx context.Context) error {
	if w.ticking || w.state.locked() {
		return eris.Wrap(ErrWorldLocked, "tick called while the world is locked")
	}
	w.ticking = true
	defer func() { w.ticking = false }()

	tick := w.state.tick
	ctx, span := w.tracer.Start(ctx, "ecs.tick", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()

	if !w.initDone {
		if err := w.runStage(ctx, &w.initSystems); err != nil {
			w.tickFailed(ctx, span, err, "init systems failed")
			return eris.Wrap(err, "init stage failed")
		}
		w.initDone = true
	}

	for i := range w.scheduler {
		if err := w.runStage(ctx, &w.scheduler[i]); err != nil {
			w.tickFailed(ctx, span, err, "system failed")
			return eris.Wrapf(err, "%s stage failed", w.scheduler[i].stage)
		}
	}

	w.events.clear()
	w.state.advance()
	return nil
}

func (w *World) tickFailed(ctx context.Context, span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger := w.telemetry.GetLoggerWithTrace(ctx, "world")
	logger.Error().Err(err).Uint32("tick", w.state.tick).Msg(msg)
}

func (w *World) runStage(ctx context.Context, s *systemScheduler) error {
	if len(s.systems) == 0 {
		return nil
	}
	ctx, span := w.tracer.Start(ctx, "ecs.stage", trace.WithAttributes(attribute.String("stage", s.stage.String())))
	defer span.End()

	if err := s.run(ctx, w); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// CurrentTick returns the world tick. It starts at 1 and advances at the end of every Tick.
func (w *World) CurrentTick() uint32 {
	return w.state.tick
}

// EntityCount returns the number of live entities, including spawns still pending in command
// buffers.
func (w *World) EntityCount() int {
	return w.state.entities.count()
}

// ArchetypeCount returns the number of archetypes created so far, including the empty one.
func (w *World) ArchetypeCount() int {
	return len(w.state.archetypes)
}

// Validate reports pairs of systems that share a batch while conflicting. It is always empty;
// it exists to check the scheduler in tests and while debugging.
func (w *World) Validate() []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, w.initSystems.validate()...)
	for i := range w.scheduler {
		conflicts = append(conflicts, w.scheduler[i].validate()...)
	}
	return conflicts
}

// Schedule describes the batches of every stage in execution order, init stage first.
func (w *World) Schedule() []BatchInfo {
	var out []BatchInfo
	out = append(out, w.initSystems.describe()...)
	for i := range w.scheduler {
		out = append(out, w.scheduler[i].describe()...)
	}
	return out
}

// ComponentTypes returns the Go type of every registered component keyed by name.
func (w *World) ComponentTypes() map[string]reflect.Type {
	infos := registry.all()
	out := make(map[string]reflect.Type, len(infos))
	for _, info := range infos {
		out[info.name] = info.typ
	}
	return out
}

// Logger returns the world's logger.
func (w *World) Logger() *zerolog.Logger {
	return &w.logger
}

func archetypeNames(arch *archetype) []string {
	names := make([]string, len(arch.infos))
	for i, info := range arch.infos {
		names[i] = info.name
	}
	return names
}
