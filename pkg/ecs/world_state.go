package ecs

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// worldState is the archetype store. It owns the entity allocator, every archetype, the removal
// log of the current tick, and the world tick used for change stamps.
type worldState struct {
	entities   entityManager
	archetypes []*archetype           // Index is the archetype ID, append only
	lookup     map[string]archetypeID // Signature key to archetype
	removed    map[ComponentID]map[EntityID]struct{}
	tick       uint32
	locks      atomic.Int32 // Running batches and live query iterations

	chunkBytes   int
	minChunkRows int
	maxChunkRows int

	onNewArchetype func(*archetype)
}

func newWorldState(opts WorldOptions) *worldState {
	ws := &worldState{
		entities:     newEntityManager(),
		archetypes:   make([]*archetype, 0, 16),
		lookup:       make(map[string]archetypeID),
		removed:      make(map[ComponentID]map[EntityID]struct{}),
		tick:         1,
		chunkBytes:   opts.ChunkBytes,
		minChunkRows: opts.MinChunkRows,
		maxChunkRows: opts.MaxChunkRows,
	}
	// The empty archetype always exists with ID 0 so component-less entities have a home.
	ws.findOrCreateArchetype(bitmap.Bitmap{})
	return ws
}

// signatureKey encodes a signature with trailing zero words trimmed, so equal sets give equal keys.
func signatureKey(components bitmap.Bitmap) string {
	n := len(components)
	for n > 0 && components[n-1] == 0 {
		n--
	}
	buf := make([]byte, n*8)
	for i := range n {
		binary.LittleEndian.PutUint64(buf[i*8:], components[i])
	}
	return string(buf)
}

// findOrCreateArchetype returns the archetype with exactly the given signature, creating it if it
// doesn't exist yet.
func (ws *worldState) findOrCreateArchetype(components bitmap.Bitmap) *archetype {
	key := signatureKey(components)
	if aid, ok := ws.lookup[key]; ok {
		return ws.archetypes[aid]
	}

	infos := make([]*componentInfo, 0, components.Count())
	components.Range(func(x uint32) {
		infos = append(infos, registry.info(x))
	})

	aid := archetypeID(len(ws.archetypes))
	capacity := chunkCapacity(infos, ws.chunkBytes, ws.minChunkRows, ws.maxChunkRows)
	arch := newArchetype(aid, components.Clone(nil), infos, capacity)
	ws.archetypes = append(ws.archetypes, arch)
	ws.lookup[key] = aid

	if ws.onNewArchetype != nil {
		ws.onNewArchetype(arch)
	}
	return arch
}

// archetypesMatching returns the archetypes, from index start on, that contain every required
// component and pass the filter. A nil filter passes everything. The result is a snapshot:
// archetypes created after the call are not part of it.
func (ws *worldState) archetypesMatching(start int, required bitmap.Bitmap, filter Filter) []*archetype {
	snapshot := ws.archetypes[min(start, len(ws.archetypes)):]
	var out []*archetype
	for _, arch := range snapshot {
		if !arch.hasAll(required) {
			continue
		}
		if filter != nil && !filter.matches(arch) {
			continue
		}
		out = append(out, arch)
	}
	return out
}

// archetypeFor returns the archetype of a set of boxed components.
func (ws *worldState) archetypeFor(values []Component) (*archetype, error) {
	var components bitmap.Bitmap
	for _, value := range values {
		id, err := registry.idOf(value)
		if err != nil {
			return nil, err
		}
		if components.Contains(id) {
			return nil, eris.Wrapf(ErrDuplicateComponent, "component %s", registry.info(id).name)
		}
		components.Set(id)
	}
	return ws.findOrCreateArchetype(components), nil
}

// transition returns the archetype reached from arch by adding or removing one component, using
// and filling the edge cache.
func (ws *worldState) transition(arch *archetype, id ComponentID, add bool) *archetype {
	if add {
		if to, ok := arch.addEdge(id); ok {
			return ws.archetypes[to]
		}
	} else if to, ok := arch.removeEdge(id); ok {
		return ws.archetypes[to]
	}

	components := arch.components.Clone(nil)
	if add {
		components.Set(id)
	} else {
		components.Remove(id)
	}
	to := ws.findOrCreateArchetype(components)

	if add {
		arch.setAddEdge(id, to.id)
		to.setRemoveEdge(id, arch.id)
	} else {
		arch.setRemoveEdge(id, to.id)
		to.setAddEdge(id, arch.id)
	}
	return to
}

// lock forbids structural changes until the matching unlock.
func (ws *worldState) lock() {
	ws.locks.Add(1)
}

func (ws *worldState) unlock() {
	n := ws.locks.Add(-1)
	assert.That(n >= 0, "unbalanced world unlock")
}

func (ws *worldState) locked() bool {
	return ws.locks.Load() > 0
}

func (ws *worldState) checkUnlocked() error {
	if ws.locked() {
		return eris.Wrap(ErrWorldLocked, "structural change rejected")
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// Entity operations
// -------------------------------------------------------------------------------------------------

// spawn creates an entity with the given components.
func (ws *worldState) spawn(values []Component) (EntityID, error) {
	arch, err := ws.archetypeFor(values)
	if err != nil {
		return InvalidEntity, err
	}
	eid := ws.entities.reserve()
	ws.place(eid, arch, values)
	return eid, nil
}

// spawnBatch creates n entities with identical components.
func (ws *worldState) spawnBatch(n int, values []Component) ([]EntityID, error) {
	arch, err := ws.archetypeFor(values)
	if err != nil {
		return nil, err
	}
	eids := make([]EntityID, n)
	for i := range n {
		eids[i] = ws.entities.reserve()
		ws.place(eids[i], arch, values)
	}
	return eids, nil
}

// spawnReserved places an entity whose ID was reserved by a deferred spawn. The reservation is
// released if the components are invalid.
func (ws *worldState) spawnReserved(eid EntityID, values []Component) error {
	if !ws.entities.pending(eid) {
		return eris.Wrapf(ErrEntityNotAlive, "entity %s is not a pending spawn", eid)
	}
	arch, err := ws.archetypeFor(values)
	if err != nil {
		ws.entities.release(eid)
		return err
	}
	ws.place(eid, arch, values)
	return nil
}

func (ws *worldState) place(eid EntityID, arch *archetype, values []Component) {
	ci, row := arch.newEntity(eid, ws.tick)
	ch := arch.chunks[ci]
	for _, value := range values {
		id, err := registry.idOf(value)
		assert.That(err == nil, "unregistered component reached place")
		ch.columns[arch.slot(id)].setAbstract(row, value, ws.tick)
	}
	ws.entities.place(eid, arch.id, ci, row)
}

// despawn removes an entity and all its components. Every component counts as removed this tick.
func (ws *worldState) despawn(eid EntityID) error {
	if ws.entities.pending(eid) {
		ws.entities.release(eid)
		return nil
	}
	loc, ok := ws.entities.location(eid)
	if !ok {
		return eris.Wrapf(ErrEntityNotAlive, "entity %s", eid)
	}

	arch := ws.archetypes[loc.arch]
	for _, id := range arch.ids {
		ws.logRemoved(id, eid)
	}
	ws.detach(arch, loc)
	ws.entities.release(eid)
	return nil
}

// detach removes the row at loc from arch and patches the entity moved into the hole.
func (ws *worldState) detach(arch *archetype, loc entityLocation) {
	moved := arch.removeEntity(int(loc.chunk), int(loc.row))
	if moved != InvalidEntity {
		ws.entities.place(moved, arch.id, int(loc.chunk), int(loc.row))
	}
}

// addComponent adds a component to an entity, moving it to the archetype with the extra component.
// If the entity already has the component, the value is overwritten and stamped as changed.
func (ws *worldState) addComponent(eid EntityID, id ComponentID, value Component) error {
	loc, err := ws.locate(eid)
	if err != nil {
		return err
	}

	arch := ws.archetypes[loc.arch]
	if s := arch.slot(id); s >= 0 {
		arch.chunks[loc.chunk].columns[s].setAbstract(int(loc.row), value, ws.tick)
		return nil
	}

	dst := ws.transition(arch, id, true)
	ci, row := dst.moveIn(eid, arch, int(loc.chunk), int(loc.row), ws.tick)
	dst.chunks[ci].columns[dst.slot(id)].setAbstract(row, value, ws.tick)
	ws.detach(arch, loc)
	ws.entities.place(eid, dst.id, ci, row)
	return nil
}

// removeComponent removes a component from an entity, moving it to the archetype without it.
func (ws *worldState) removeComponent(eid EntityID, id ComponentID) error {
	loc, err := ws.locate(eid)
	if err != nil {
		return err
	}

	arch := ws.archetypes[loc.arch]
	if !arch.has(id) {
		return eris.Wrapf(ErrComponentNotFound, "entity %s, component %s", eid, registry.info(id).name)
	}

	dst := ws.transition(arch, id, false)
	ci, row := dst.moveIn(eid, arch, int(loc.chunk), int(loc.row), ws.tick)
	ws.detach(arch, loc)
	ws.entities.place(eid, dst.id, ci, row)
	ws.logRemoved(id, eid)
	return nil
}

// locate returns the location of a placed entity.
func (ws *worldState) locate(eid EntityID) (entityLocation, error) {
	loc, ok := ws.entities.location(eid)
	if !ok {
		if ws.entities.pending(eid) {
			return entityLocation{}, eris.Wrapf(ErrEntityNotAlive, "entity %s has not been spawned yet", eid)
		}
		return entityLocation{}, eris.Wrapf(ErrEntityNotAlive, "entity %s", eid)
	}
	return loc, nil
}

// column returns the column and row holding component id of an entity.
func (ws *worldState) column(eid EntityID, id ComponentID) (abstractColumn, int, error) {
	loc, err := ws.locate(eid)
	if err != nil {
		return nil, 0, err
	}
	arch := ws.archetypes[loc.arch]
	s := arch.slot(id)
	if s < 0 {
		return nil, 0, eris.Wrapf(ErrComponentNotFound, "entity %s, component %s", eid, registry.info(id).name)
	}
	return arch.chunks[loc.chunk].columns[s], int(loc.row), nil
}

// -------------------------------------------------------------------------------------------------
// Change tracking
// -------------------------------------------------------------------------------------------------

func (ws *worldState) logRemoved(id ComponentID, eid EntityID) {
	set, ok := ws.removed[id]
	if !ok {
		set = make(map[EntityID]struct{})
		ws.removed[id] = set
	}
	set[eid] = struct{}{}
}

func (ws *worldState) wasRemoved(id ComponentID, eid EntityID) bool {
	_, ok := ws.removed[id][eid]
	return ok
}

// advance clears the per-tick removal log and moves to the next tick.
func (ws *worldState) advance() {
	for _, set := range ws.removed {
		clear(set)
	}
	ws.tick++
	if ws.tick == 0 {
		ws.tick = 1
	}
}
