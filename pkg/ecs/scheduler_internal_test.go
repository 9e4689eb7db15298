package ecs

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	. "github.com/Refsa/pollus-sub003/pkg/ecs/internal/testutils"
	"github.com/Refsa/pollus-sub003/pkg/testutils"
	"github.com/kelindar/bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------------------------------------------------------------------------------
// Concurrent systems fuzz
// -------------------------------------------------------------------------------------------------
// This test verifies that the scheduler's run method maintains correct concurrent execution
// behavior. We generate random system configurations with random dependencies, instrument each
// system with a logical clock to track execution ordering, and verify that all systems execute
// exactly once per run and that a system always starts after every earlier system it conflicts
// with has finished.
// -------------------------------------------------------------------------------------------------

func TestScheduler_RunFuzzConcurrent(t *testing.T) {
	t.Parallel()

	const (
		opsMax     = 1 << 8 // 256 test cases
		systemsMax = 50
		ticksMax   = 5
	)

	synctest.Test(t, func(t *testing.T) {
		prng := testutils.NewRand(t)
		w := newTestWorld(t, WorldOptions{Execution: ExecutionParallel})

		for range opsMax {
			numSystems := prng.IntN(systemsMax) + 1

			// We use a logical clock (atomic counter) to track execution ordering, where each system
			// records its start/end time by incrementing the clock. If B conflicts with an earlier A,
			// then B's start time must be after A's end time.
			var clock atomic.Int64
			var mu sync.Mutex
			events := make([]struct{ start, end int64 }, numSystems)

			scheduler := newSystemScheduler(Update)
			for i := range numSystems {
				systemID := i
				scheduler.register(&systemMetadata{
					name:  fmt.Sprintf("system_%d", i),
					stage: Update,
					deps:  randDeps(prng),
					run: func() (bool, error) {
						start := clock.Add(2)
						// In synctest.Test the time package uses a fake clock, so this sleep only forces
						// goroutine interleaving and returns immediately.
						time.Sleep(2 * time.Second)
						end := clock.Add(1)

						mu.Lock()
						defer mu.Unlock()
						assert.Zero(t, events[systemID], "system %d executed more than once", systemID)
						events[systemID] = struct{ start, end int64 }{start: start, end: end}
						return false, nil
					},
				})
			}

			for range ticksMax {
				clock.Store(0)
				for i := range events {
					events[i] = struct{ start, end int64 }{}
				}

				require.NoError(t, scheduler.run(context.Background(), w))

				// Property: all systems execute exactly once.
				for i, ev := range events {
					assert.NotZero(t, ev.start, "system %d did not execute", i)
					assert.Less(t, ev.start, ev.end, "system %d has invalid timing", i)
				}

				// Property: conflicting systems run in registration order without overlapping.
				for b := range scheduler.systems {
					for a := range b {
						if !scheduler.systems[a].deps.conflicts(&scheduler.systems[b].deps) {
							continue
						}
						assert.Less(t, events[a].end, events[b].start,
							"conflict violated: system %d (end=%d) should complete before system %d (start=%d)",
							a, events[a].end, b, events[b].start)
					}
				}
			}
			assert.Empty(t, scheduler.validate())
			assert.False(t, w.state.locked(), "run must release the world lock")
		}
	})
}

// -------------------------------------------------------------------------------------------------
// Schedule batch fuzz
// -------------------------------------------------------------------------------------------------
// This test verifies createSchedule by generating random system configurations and checking the
// structural properties every schedule must satisfy: every system is in exactly one batch, batches
// are conflict free, conflicting systems keep registration order, and each system sits in the
// earliest batch that order allows.
// -------------------------------------------------------------------------------------------------

func TestScheduler_BatchFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	const (
		opsMax     = 1 << 12 // 4096 iterations
		systemsMax = 100
	)

	for range opsMax {
		scheduler := newSystemScheduler(Update)
		for i := range prng.IntN(systemsMax) + 1 {
			scheduler.register(&systemMetadata{name: fmt.Sprintf("s%d", i), deps: randDeps(prng)})
		}
		scheduler.createSchedule()

		batchOf := make(map[int]int)
		for bi, batch := range scheduler.batches {
			// Property: no batch is empty.
			assert.NotEmpty(t, batch, "batch %d is empty", bi)
			for _, id := range batch {
				_, dup := batchOf[id]
				assert.False(t, dup, "system %d scheduled twice", id)
				batchOf[id] = bi
			}
		}

		// Property: every system is scheduled.
		assert.Len(t, batchOf, len(scheduler.systems))

		// Property: batches are conflict free.
		assert.Empty(t, scheduler.validate())

		systems := scheduler.systems
		for b := range systems {
			earliest := 0
			for a := range b {
				if systems[a].deps.conflicts(&systems[b].deps) {
					// Property: conflicting systems keep registration order.
					assert.Less(t, batchOf[a], batchOf[b], "system %d must run before %d", a, b)
					earliest = max(earliest, batchOf[a]+1)
				}
			}
			// Property: a system is never delayed past the batch after its last conflict.
			assert.Equal(t, earliest, batchOf[b], "system %d is not in its earliest batch", b)
		}

		// Property: rebuilding produces the same schedule.
		before := scheduler.describe()
		scheduler.createSchedule()
		assert.Equal(t, before, scheduler.describe())
	}
}

// randDeps creates random dependencies over a small ID space so conflicts are common.
func randDeps(prng *rand.Rand) systemDeps {
	const (
		maxDeps = 6
		maxID   = 24
	)
	var d systemDeps
	for range prng.IntN(maxDeps) {
		id := uint32(prng.IntN(maxID)) //nolint:gosec // small
		switch prng.IntN(6) {
		case 0:
			d.componentWrites.Set(id)
		case 1:
			d.resourceReads.Set(id)
		case 2:
			d.resourceWrites.Set(id)
		case 3:
			d.eventWrites.Set(id)
		case 4:
			d.eventReads.Set(id)
		default:
			d.componentReads.Set(id)
		}
	}
	d.exclusive = prng.IntN(50) == 0
	return d
}

// -------------------------------------------------------------------------------------------------
// Schedule examples test
// -------------------------------------------------------------------------------------------------
// This test complements the fuzz test above with explicit, readable examples. These serve more as
// documentation and as regression tests for known bugs.
// -------------------------------------------------------------------------------------------------

func TestScheduler_BatchExamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		systems []systemMetadata
		want    [][]string
	}{
		{
			name:    "zero systems",
			systems: []systemMetadata{},
			want:    [][]string{},
		},
		{
			name: "readers share a batch",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(ids(1, 2), nil)},
				{name: "B", deps: compDeps(ids(1), nil)},
				{name: "C", deps: compDeps(ids(2), nil)},
			},
			want: [][]string{{"A", "B", "C"}},
		},
		{
			name: "writer after reader",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(ids(1), nil)},
				{name: "B", deps: compDeps(nil, ids(1))},
			},
			want: [][]string{{"A"}, {"B"}},
		},
		{
			name: "reader after writer",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(nil, ids(1))},
				{name: "B", deps: compDeps(ids(1), nil)},
			},
			want: [][]string{{"A"}, {"B"}},
		},
		{
			name: "independent writers",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(nil, ids(1))},
				{name: "B", deps: compDeps(nil, ids(2))},
			},
			want: [][]string{{"A", "B"}},
		},
		{
			name: "chain (A->B->C)",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(nil, ids(1))},
				{name: "B", deps: compDeps(ids(1), ids(2))},
				{name: "C", deps: compDeps(ids(2), nil)},
			},
			want: [][]string{{"A"}, {"B"}, {"C"}},
		},
		{
			name: "join (A->C | B->C)",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(nil, ids(1))},
				{name: "B", deps: compDeps(nil, ids(2))},
				{name: "C", deps: compDeps(ids(1, 2), nil)},
			},
			want: [][]string{{"A", "B"}, {"C"}},
		},
		{
			name: "later independent system fills an earlier batch",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(nil, ids(1))},
				{name: "B", deps: compDeps(ids(1), nil)},
				{name: "C", deps: compDeps(nil, ids(2))},
			},
			want: [][]string{{"A", "C"}, {"B"}},
		},
		{
			name: "exclusive system runs alone",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(ids(1), nil)},
				{name: "B", deps: systemDeps{exclusive: true}},
				{name: "C", deps: compDeps(ids(2), nil)},
			},
			want: [][]string{{"A"}, {"B"}, {"C"}},
		},
		{
			name: "resource writers conflict",
			systems: []systemMetadata{
				{name: "A", deps: systemDeps{resourceWrites: ids(1)}},
				{name: "B", deps: systemDeps{resourceReads: ids(1)}},
				{name: "C", deps: systemDeps{resourceReads: ids(1)}},
			},
			want: [][]string{{"A"}, {"B", "C"}},
		},
		{
			name: "event emitter before receiver",
			systems: []systemMetadata{
				{name: "A", deps: systemDeps{eventWrites: ids(1)}},
				{name: "B", deps: systemDeps{eventReads: ids(1)}},
			},
			want: [][]string{{"A"}, {"B"}},
		},
		{
			name: "component and resource IDs are separate spaces",
			systems: []systemMetadata{
				{name: "A", deps: compDeps(nil, ids(1))},
				{name: "B", deps: systemDeps{resourceWrites: ids(1)}},
			},
			want: [][]string{{"A", "B"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			scheduler := newSystemScheduler(Update)
			for i := range tt.systems {
				scheduler.register(&tt.systems[i])
			}
			scheduler.createSchedule()

			got := make([][]string, 0)
			for _, batch := range scheduler.describe() {
				got = append(got, batch.Systems)
			}
			assert.Equal(t, tt.want, got)
			assert.Empty(t, scheduler.validate())
		})
	}
}

func ids(componentIDs ...uint32) bitmap.Bitmap {
	b := bitmap.Bitmap{}
	for _, id := range componentIDs {
		b.Set(id)
	}
	return b
}

func compDeps(reads, writes bitmap.Bitmap) systemDeps {
	return systemDeps{componentReads: reads, componentWrites: writes}
}

// -------------------------------------------------------------------------------------------------
// World level scheduling
// -------------------------------------------------------------------------------------------------

func TestScheduler_DepsFromState(t *testing.T) {
	t.Parallel()

	type moverState struct {
		Movers Query[struct {
			P Ref[Position]
			V Read[Velocity]
		}]
	}
	type velocityReaderState struct {
		Velocities Query[struct{ V Read[Velocity] }]
	}
	type positionReaderState struct {
		Positions Query[struct{ P Read[Position] }]
		Score     ReadResource[Score]
	}
	type scoreState struct {
		Score Resource[Score]
	}

	w := newTestWorld(t)
	require.NoError(t, RegisterSystem(w, func(*moverState) error { return nil }, WithName("mover")))
	require.NoError(t, RegisterSystem(w, func(*velocityReaderState) error { return nil }, WithName("velocity_reader")))
	require.NoError(t, RegisterSystem(w, func(*positionReaderState) error { return nil }, WithName("position_reader")))
	require.NoError(t, RegisterSystem(w, func(*scoreState) error { return nil }, WithName("score")))

	w.Init()
	assert.Empty(t, w.Validate())

	var update [][]string
	for _, batch := range w.Schedule() {
		if batch.Stage == Update {
			update = append(update, batch.Systems)
		}
	}
	// score conflicts only with position_reader but must keep running after it.
	assert.Equal(t, [][]string{
		{"mover", "velocity_reader"},
		{"position_reader"},
		{"score"},
	}, update)
}

func TestScheduler_ParallelWorldTick(t *testing.T) {
	t.Parallel()

	type moveState struct {
		Movers Query[struct {
			P Ref[Position]
			V Read[Velocity]
		}]
	}
	type healState struct {
		Healths Query[struct{ H Ref[Health] }]
	}

	synctest.Test(t, func(t *testing.T) {
		w := newTestWorld(t, WorldOptions{Execution: ExecutionParallel})
		_, err := SpawnBatch(w, 100, Position{}, Velocity{X: 1})
		require.NoError(t, err)
		_, err = SpawnBatch(w, 100, Health{})
		require.NoError(t, err)

		var running, overlapped atomic.Int32
		track := func() func() {
			if running.Add(1) > 1 {
				overlapped.Store(1)
			}
			time.Sleep(time.Second)
			return func() { running.Add(-1) }
		}

		require.NoError(t, RegisterSystem(w, func(s *moveState) error {
			defer track()()
			for _, m := range s.Movers.Iter() {
				m.P.Ptr().X += m.V.Get().X
			}
			return nil
		}))
		require.NoError(t, RegisterSystem(w, func(s *healState) error {
			defer track()()
			for _, h := range s.Healths.Iter() {
				h.H.Ptr().Value++
			}
			return nil
		}))

		for range 3 {
			require.NoError(t, w.Tick())
		}

		// Property: systems without conflicts ran concurrently.
		assert.Equal(t, int32(1), overlapped.Load())

		q, err := NewQuery[struct{ P Read[Position] }](w)
		require.NoError(t, err)
		for _, r := range q.Iter() {
			assert.Equal(t, 3, r.P.Get().X)
		}
	})
}

func TestScheduler_ErrorStopsBatch(t *testing.T) {
	t.Parallel()

	type state struct {
		Counter Local[int]
	}

	for _, mode := range []ExecutionMode{ExecutionSequential, ExecutionParallel} {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()

			w := newTestWorld(t, WorldOptions{Execution: mode})
			nextBatch := 0
			require.NoError(t, RegisterSystem(w, func(*state) error {
				return assert.AnError
			}, WithName("broken")))
			require.NoError(t, RegisterSystem(w, func(*struct{ BaseSystemState }) error {
				nextBatch++
				return nil
			}, WithName("after")))

			err := w.Tick()
			require.ErrorIs(t, err, assert.AnError)
			assert.Contains(t, err.Error(), "broken")
			assert.Zero(t, nextBatch)
			assert.Equal(t, uint32(1), w.CurrentTick())
			assert.False(t, w.state.locked())
		})
	}
}
