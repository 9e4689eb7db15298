package ecs

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// systemMetadata contains the metadata for a system.
type systemMetadata struct {
	name     string                // The name of the system
	stage    Stage                 // The stage the system runs in
	deps     systemDeps            // What the system reads and writes
	commands []*Commands           // Command buffers flushed after the system's batch
	run      func() (bool, error)  // Runs the system, returns true when a coroutine is done
	retired  bool                  // Set once a coroutine returned Done
}

// systemScheduler runs the systems of one stage. Systems are split into ordered batches: a system
// goes in the batch after the latest batch holding an earlier system it conflicts with, so
// conflicting systems keep their registration order and every batch is free of conflicts.
type systemScheduler struct {
	stage   Stage
	systems []*systemMetadata // The systems to run, in registration order
	batches [][]int           // System indices per batch, ascending within a batch
	dirty   bool              // Set when a system is registered after the schedule was built
}

// newSystemScheduler creates a new system scheduler.
func newSystemScheduler(stage Stage) systemScheduler {
	return systemScheduler{
		stage:   stage,
		systems: make([]*systemMetadata, 0),
		batches: make([][]int, 0),
	}
}

// register registers a system with the scheduler.
func (s *systemScheduler) register(system *systemMetadata) {
	s.systems = append(s.systems, system)
	s.dirty = true
}

// createSchedule assigns every system to a batch.
func (s *systemScheduler) createSchedule() {
	s.batches = s.batches[:0]
	batchOf := make([]int, len(s.systems))
	for i, system := range s.systems {
		batch := 0
		for j := range i {
			if system.deps.conflicts(&s.systems[j].deps) {
				batch = max(batch, batchOf[j]+1)
			}
		}
		batchOf[i] = batch
		for len(s.batches) <= batch {
			s.batches = append(s.batches, make([]int, 0, 4))
		}
		s.batches[batch] = append(s.batches[batch], i)
	}
	s.dirty = false
}

// validate returns every pair of systems placed in the same batch that conflict. It is empty for a
// schedule built by createSchedule.
func (s *systemScheduler) validate() []Conflict {
	var conflicts []Conflict
	for _, batch := range s.batches {
		for a := range batch {
			for b := a + 1; b < len(batch); b++ {
				sa, sb := s.systems[batch[a]], s.systems[batch[b]]
				if sa.deps.conflicts(&sb.deps) {
					conflicts = append(conflicts, Conflict{Stage: s.stage, First: sa.name, Second: sb.name})
				}
			}
		}
	}
	return conflicts
}

// run executes the batches in order. After each batch the world is unlocked and the command
// buffers of the batch's systems are flushed in registration order. The first system error stops
// the stage; the failed batch's commands are discarded.
func (s *systemScheduler) run(ctx context.Context, w *World) error {
	if s.dirty {
		s.createSchedule()
		w.logSchedule(s)
	}

	for bi, batch := range s.batches {
		_, span := w.tracer.Start(ctx, "ecs.batch", trace.WithAttributes(
			attribute.String("stage", s.stage.String()),
			attribute.Int("batch", bi),
			attribute.Int("systems", len(batch)),
		))

		err := s.runBatch(w, batch)
		if err != nil {
			for _, id := range batch {
				for _, c := range s.systems[id].commands {
					c.discard()
				}
			}
			span.RecordError(err)
			span.End()
			return err
		}

		flushed := 0
		for _, id := range batch {
			for _, c := range s.systems[id].commands {
				flushed += c.flush(&w.commandLogger)
			}
		}
		span.SetAttributes(attribute.Int("commands", flushed))
		span.End()
	}
	return nil
}

func (s *systemScheduler) runBatch(w *World, batch []int) error {
	w.state.lock()
	defer w.state.unlock()

	if w.options.Execution != ExecutionParallel || len(batch) == 1 {
		for _, id := range batch {
			if err := s.runSystem(s.systems[id]); err != nil {
				return err
			}
		}
		return nil
	}

	g := new(errgroup.Group)
	for _, id := range batch {
		system := s.systems[id]
		g.Go(func() error {
			return s.runSystem(system)
		})
	}
	return g.Wait()
}

func (s *systemScheduler) runSystem(system *systemMetadata) error {
	if system.retired {
		return nil
	}
	done, err := system.run()
	if err != nil {
		return eris.Wrapf(err, "system %s failed", system.name)
	}
	if done {
		system.retired = true
	}
	return nil
}

// describe returns the batches of the schedule with the system names.
func (s *systemScheduler) describe() []BatchInfo {
	if s.dirty {
		s.createSchedule()
	}
	out := make([]BatchInfo, len(s.batches))
	for i, batch := range s.batches {
		names := make([]string, len(batch))
		for j, id := range batch {
			names[j] = s.systems[id].name
		}
		out[i] = BatchInfo{Stage: s.stage, Index: i, Systems: names}
	}
	return out
}

// Conflict names two systems that would touch the same data while running concurrently.
type Conflict struct {
	Stage  Stage
	First  string
	Second string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s conflicts with %s", c.Stage, c.First, c.Second)
}

// BatchInfo describes one batch of a stage's schedule.
type BatchInfo struct {
	Stage   Stage    `json:"stage"`
	Index   int      `json:"index"`
	Systems []string `json:"systems"`
}

func (w *World) logSchedule(s *systemScheduler) {
	if w.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	for _, batch := range s.describe() {
		w.logger.Debug().
			Stringer("stage", batch.Stage).
			Int("batch", batch.Index).
			Strs("systems", batch.Systems).
			Msg("scheduled batch")
	}
}
