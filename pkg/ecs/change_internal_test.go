package ecs

import (
	"testing"

	. "github.com/Refsa/pollus-sub003/pkg/ecs/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChange_AddedAndChangedAcrossTicks(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	eid, err := Spawn(w, Health{Value: 1})
	require.NoError(t, err)

	// Spawned this tick: both added and changed.
	assert.True(t, Added[Health](w, eid))
	assert.True(t, Changed[Health](w, eid))

	require.NoError(t, w.Tick())
	assert.False(t, Added[Health](w, eid))
	assert.False(t, Changed[Health](w, eid))

	require.NoError(t, Set(w, eid, Health{Value: 2}))
	assert.False(t, Added[Health](w, eid))
	assert.True(t, Changed[Health](w, eid))

	require.NoError(t, w.Tick())
	p, err := GetMut[Health](w, eid)
	require.NoError(t, err)
	p.Value = 3
	assert.True(t, Changed[Health](w, eid))

	// Reads never stamp.
	require.NoError(t, w.Tick())
	_, err = Get[Health](w, eid)
	require.NoError(t, err)
	assert.False(t, Changed[Health](w, eid))

	// Unknown components and entities report false.
	assert.False(t, Changed[Position](w, eid))
	assert.False(t, Added[Health](w, InvalidEntity))
}

func TestChange_AddStampsOnlyNewComponent(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	eid, err := Spawn(w, Health{})
	require.NoError(t, err)
	require.NoError(t, w.Tick())

	require.NoError(t, Add(w, eid, Position{}))
	assert.True(t, Added[Position](w, eid))
	assert.False(t, Added[Health](w, eid), "moving archetypes keeps the old stamps")
	assert.False(t, Changed[Health](w, eid))

	// Adding a component the entity already has overwrites it.
	require.NoError(t, w.Tick())
	require.NoError(t, Add(w, eid, Health{Value: 9}))
	assert.False(t, Added[Health](w, eid))
	assert.True(t, Changed[Health](w, eid))
	got, err := Get[Health](w, eid)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Value)
}

func TestChange_SetChangedAfterUnsafeWrite(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	eid, err := Spawn(w, Position{})
	require.NoError(t, err)
	require.NoError(t, w.Tick())

	q, err := NewQuery[struct{ P Ref[Position] }](w)
	require.NoError(t, err)
	r, ok := q.Get(eid)
	require.True(t, ok)
	r.P.UnsafePtr().X = 5

	assert.False(t, Changed[Position](w, eid), "UnsafePtr must not stamp")
	require.NoError(t, SetChanged[Position](w, eid))
	assert.True(t, Changed[Position](w, eid))
	assert.True(t, r.P.Changed())

	require.ErrorIs(t, SetChanged[Velocity](w, eid), ErrComponentNotFound)
}

func TestChange_Removed(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	a, err := Spawn(w, Health{}, Position{})
	require.NoError(t, err)
	b, err := Spawn(w, Health{})
	require.NoError(t, err)

	require.NoError(t, Remove[Position](w, a))
	require.NoError(t, Despawn(w, b))

	assert.True(t, Removed[Position](w, a))
	assert.False(t, Removed[Health](w, a))
	assert.True(t, Removed[Health](w, b), "despawned entities report their components as removed")
	require.ErrorIs(t, Remove[Position](w, a), ErrComponentNotFound)

	require.NoError(t, w.Tick())
	assert.False(t, Removed[Position](w, a))
	assert.False(t, Removed[Health](w, b))
}

// -------------------------------------------------------------------------------------------------
// Change detection between systems
// -------------------------------------------------------------------------------------------------

func TestChange_VisibleToLaterSystems(t *testing.T) {
	t.Parallel()

	type writerState struct {
		Healths Query[struct{ H Ref[Health] }]
		Round   Local[int]
	}
	type readerState struct {
		Healths Query[struct{ H Read[Health] }]
	}

	w := newTestWorld(t)
	eids, err := SpawnBatch(w, 10, Health{})
	require.NoError(t, err)
	require.NoError(t, w.Tick())

	require.NoError(t, RegisterSystem(w, func(s *writerState) error {
		round := s.Round.Get()
		*round++
		if *round > 1 {
			return nil
		}
		for eid, r := range s.Healths.Iter() {
			if eid.Index()%2 == 0 {
				r.H.Set(Health{Value: 1})
			}
		}
		return nil
	}))

	var changed [][]EntityID
	require.NoError(t, RegisterSystem(w, func(s *readerState) error {
		var round []EntityID
		for eid, r := range s.Healths.Iter() {
			if r.H.Changed() {
				round = append(round, eid)
			}
		}
		changed = append(changed, round)
		return nil
	}, WithStage(PostUpdate)))

	require.NoError(t, w.Tick())
	require.NoError(t, w.Tick())

	var even []EntityID
	for _, eid := range eids {
		if eid.Index()%2 == 0 {
			even = append(even, eid)
		}
	}
	require.Len(t, changed, 2)
	assert.ElementsMatch(t, even, changed[0])
	assert.Empty(t, changed[1], "stamps from the previous tick are not changes")
}

func TestChange_RemovedVisibleInSameTick(t *testing.T) {
	t.Parallel()

	type despawnState struct {
		Targets  Query[struct{ _ With[Dead] }]
		Commands Commands
	}
	type observerState struct {
		BaseSystemState
	}

	w := newTestWorld(t)
	victim, err := Spawn(w, Health{}, Dead{})
	require.NoError(t, err)

	require.NoError(t, RegisterSystem(w, func(s *despawnState) error {
		for eid := range s.Targets.Iter() {
			s.Commands.Despawn(eid)
		}
		return nil
	}))

	var observed []bool
	require.NoError(t, RegisterSystem(w, func(s *observerState) error {
		observed = append(observed, Removed[Health](s.World(), victim))
		return nil
	}, WithStage(PostUpdate)))

	require.NoError(t, w.Tick())
	require.NoError(t, w.Tick())
	assert.Equal(t, []bool{true, false}, observed)
	assert.False(t, Alive(w, victim))
}
