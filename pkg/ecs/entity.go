package ecs

import (
	"fmt"
	"math"
	"sync"

	"github.com/Refsa/pollus-sub003/pkg/assert"
)

// EntityID is a generational handle to an entity. The low 32 bits hold the slot index and the
// high 32 bits hold the generation of that slot. A handle stays valid until the entity it names is
// despawned; after that the slot may be reused with a higher generation and the old handle reports
// as not alive.
type EntityID uint64

// InvalidEntity is never issued by a world.
const InvalidEntity EntityID = 0

func newEntityID(index, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

// Index returns the slot index of the entity.
func (e EntityID) Index() uint32 { return uint32(e) } //nolint:gosec // truncation intended

// Generation returns the generation of the slot at the time the handle was issued.
func (e EntityID) Generation() uint32 { return uint32(e >> 32) } //nolint:gosec // truncation intended

func (e EntityID) String() string {
	return fmt.Sprintf("%dv%d", e.Index(), e.Generation())
}

const (
	locationFree    = -2 // slot is on the free list
	locationPending = -1 // id was reserved by a deferred spawn and has no row yet
)

// entityLocation is where an entity's row lives.
type entityLocation struct {
	arch  archetypeID
	chunk int32
	row   int32
}

// entityManager hands out entity IDs and tracks where each live entity is stored. It is guarded by
// a mutex so deferred spawns can reserve IDs from systems running in parallel while other systems
// resolve handles.
type entityManager struct {
	mu          sync.Mutex
	generations []uint32         // Current generation per slot
	locations   []entityLocation // Location per slot
	free        []uint32         // FIFO list of free slots
	alive       int              // Number of live entities (placed or pending)
}

// count returns the number of live entities, including pending ones.
func (em *entityManager) count() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.alive
}

func newEntityManager() entityManager {
	return entityManager{
		generations: make([]uint32, 0, 64),
		locations:   make([]entityLocation, 0, 64),
		free:        make([]uint32, 0),
	}
}

// reserve allocates a new entity ID. The entity is alive from this point on but has no row until
// place is called. Freed slots are reused in FIFO order to delay reuse of recently freed indices.
func (em *entityManager) reserve() EntityID {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.alive++
	if len(em.free) > 0 {
		index := em.free[0]
		em.free = em.free[1:]
		em.locations[index] = entityLocation{arch: locationPending}
		return newEntityID(index, em.generations[index])
	}

	assert.That(len(em.generations) < math.MaxUint32, "entity index space exhausted")
	index := uint32(len(em.generations)) //nolint:gosec // checked above
	em.generations = append(em.generations, 1)
	em.locations = append(em.locations, entityLocation{arch: locationPending})
	return newEntityID(index, 1)
}

// valid reports whether the handle matches the current generation of a slot in use.
func (em *entityManager) valid(eid EntityID) bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.validLocked(eid)
}

func (em *entityManager) validLocked(eid EntityID) bool {
	index := int(eid.Index())
	if index >= len(em.generations) {
		return false
	}
	return em.generations[index] == eid.Generation() && em.locations[index].arch != locationFree
}

// location returns the row of a placed entity. Pending and stale handles return false.
func (em *entityManager) location(eid EntityID) (entityLocation, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if !em.validLocked(eid) {
		return entityLocation{}, false
	}
	loc := em.locations[eid.Index()]
	if loc.arch == locationPending {
		return entityLocation{}, false
	}
	return loc, true
}

// pending reports whether the handle was reserved and has not been placed yet.
func (em *entityManager) pending(eid EntityID) bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.validLocked(eid) && em.locations[eid.Index()].arch == locationPending
}

func (em *entityManager) place(eid EntityID, arch archetypeID, chunk, row int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	assert.That(em.validLocked(eid), "placing entity %s that is not alive", eid)
	em.locations[eid.Index()] = entityLocation{arch: arch, chunk: int32(chunk), row: int32(row)} //nolint:gosec // bounded by chunk sizes
}

// release frees the slot and bumps its generation so outstanding handles become stale.
func (em *entityManager) release(eid EntityID) {
	em.mu.Lock()
	defer em.mu.Unlock()

	assert.That(em.validLocked(eid), "releasing entity %s that is not alive", eid)
	index := eid.Index()
	gen := em.generations[index] + 1
	if gen == 0 {
		gen = 1
	}
	em.generations[index] = gen
	em.locations[index] = entityLocation{arch: locationFree}
	em.free = append(em.free, index)
	em.alive--
}
