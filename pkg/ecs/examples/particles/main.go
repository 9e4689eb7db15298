// Particles is a small simulation that drives the ecs package end to end: an emitter spawns
// particles through deferred commands, systems integrate and age them in parallel batches, and
// expired particles are despawned and reported as events.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Refsa/pollus-sub003/pkg/ecs"
	"github.com/Refsa/pollus-sub003/pkg/telemetry"
)

type Position struct{ X, Y float64 }

func (Position) Name() string { return "Position" }

type Velocity struct{ X, Y float64 }

func (Velocity) Name() string { return "Velocity" }

type Lifetime struct{ Ticks int }

func (Lifetime) Name() string { return "Lifetime" }

type Resting struct{}

func (Resting) Name() string { return "Resting" }

// Stats is a world resource updated by the bookkeeping system.
type Stats struct {
	Spawned int
	Expired int
}

// Expired is emitted when a particle's lifetime runs out.
type Expired struct {
	Entity ecs.EntityID
	At     Position
}

const (
	gravity      = -0.5
	burstSize    = 64
	bursts       = 4
	lifetime     = 12
	ticksToRun   = 30
	floorHeight  = 0.0
	launchHeight = 10.0
)

type emitterState struct {
	Commands ecs.Commands
	Bursts   ecs.Local[int]
}

// emitter spawns one burst per tick until it has spawned them all.
func emitter(state *emitterState) (ecs.CoroutineStatus, error) {
	n := state.Bursts.Get()
	for i := range burstSize {
		angle := float64(i) / burstSize
		state.Commands.Spawn(
			Position{Y: launchHeight},
			Velocity{X: angle - 0.5, Y: 1 + angle},
			Lifetime{Ticks: lifetime},
		)
	}
	*n++
	if *n == bursts {
		return ecs.Done, nil
	}
	return ecs.Running, nil
}

type integrateState struct {
	Particles ecs.Query[struct {
		Pos ecs.Ref[Position]
		Vel ecs.Ref[Velocity]
	}] `filter:"NONE(Resting)"`
	Commands ecs.Commands
}

// integrate moves every flying particle and lays it to rest when it hits the floor.
func integrate(state *integrateState) error {
	for entities, p := range state.Particles.Chunks() {
		positions := p.Pos.Slice()
		velocities := p.Vel.Slice()
		for i := range positions {
			velocities[i].Y += gravity
			positions[i].X += velocities[i].X
			positions[i].Y += velocities[i].Y
			if positions[i].Y <= floorHeight {
				positions[i].Y = floorHeight
				state.Commands.Add(entities[i], Resting{})
			}
		}
	}
	return nil
}

type ageState struct {
	Particles ecs.Query[struct {
		Life ecs.Ref[Lifetime]
		Pos  ecs.Read[Position]
	}]
	Commands ecs.Commands
	Expired  ecs.WithEventEmitter[Expired]
}

// age counts down lifetimes and despawns particles that run out.
func age(state *ageState) error {
	for eid, p := range state.Particles.Iter() {
		life := p.Life.Ptr()
		life.Ticks--
		if life.Ticks <= 0 {
			state.Commands.Despawn(eid)
			state.Expired.Emit(Expired{Entity: eid, At: p.Pos.Get()})
		}
	}
	return nil
}

type bookkeepingState struct {
	Stats   ecs.Resource[Stats]
	Expired ecs.WithEventReceiver[Expired]
	Living  ecs.Query[struct{ Life ecs.Read[Lifetime] }]
}

// bookkeeping tallies spawns and expirations.
func bookkeeping(state *bookkeepingState) error {
	stats := state.Stats.Get()
	stats.Expired += state.Expired.Len()
	for _, p := range state.Living.Iter() {
		if p.Life.Added() {
			stats.Spawned++
		}
	}
	return nil
}

type reportState struct {
	ecs.BaseSystemState
	Stats ecs.ReadResource[Stats]
}

func report(state *reportState) error {
	if state.Tick()%10 != 0 {
		return nil
	}
	stats := state.Stats.Get()
	state.Logger().Info().
		Uint32("tick", state.Tick()).
		Int("alive", state.World().EntityCount()).
		Int("spawned", stats.Spawned).
		Int("expired", stats.Expired).
		Msg("particles")
	return nil
}

func run(ctx context.Context) error {
	world, err := ecs.NewWorld(ecs.WorldOptions{Name: "particles"})
	if err != nil {
		return err
	}
	ecs.Register[Position]()
	ecs.Register[Velocity]()
	ecs.Register[Lifetime]()
	ecs.Register[Resting]()

	if err := ecs.InsertResource(world, Stats{}); err != nil {
		return err
	}
	if err := ecs.RegisterCoroutine(world, emitter, ecs.WithStage(ecs.PreUpdate)); err != nil {
		return err
	}
	if err := ecs.RegisterSystem(world, integrate); err != nil {
		return err
	}
	if err := ecs.RegisterSystem(world, age); err != nil {
		return err
	}
	if err := ecs.RegisterSystem(world, bookkeeping, ecs.WithStage(ecs.PostUpdate)); err != nil {
		return err
	}
	if err := ecs.RegisterSystem(world, report, ecs.WithStage(ecs.PostUpdate)); err != nil {
		return err
	}

	for range ticksToRun {
		if err := world.TickContext(ctx); err != nil {
			return err
		}
	}

	dump, err := world.DumpJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(dump))
	return nil
}

func main() {
	logger := telemetry.GetGlobalLogger("particles")
	if err := run(context.Background()); err != nil {
		logger.Error().Err(err).Msg("simulation failed")
		os.Exit(1)
	}
}
