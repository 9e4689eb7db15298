package ecs

import (
	"slices"

	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/kamstrup/intmap"
	"github.com/kelindar/bitmap"
)

// archetypeID is the unique identifier for an archetype. It is the archetype's index in the
// store's archetype list and is never reused.
type archetypeID = int

// archetype holds every entity with exactly one particular set of component types. Its rows are
// split across fixed-capacity chunks. Every chunk except the last one is full, so a removal from an
// inner chunk is filled from the tail of the last chunk.
// NOTE: slots is indexed by component ID instead of searching ids because column lookup is on the
// hot path of every structural change and every query bind.
type archetype struct {
	id         archetypeID      // Corresponds to the index in the archetypes array
	components bitmap.Bitmap    // Signature of the archetype
	ids        []ComponentID    // Component IDs in ascending order, same order as chunk columns
	infos      []*componentInfo // Descriptors, same order as ids
	slots      []int            // Column slot per component ID, -1 if absent
	chunks     []*chunk         // Non-empty chunks
	spare      []*chunk         // Emptied chunks kept for reuse
	chunkCap   int              // Rows per chunk
	count      int              // Number of entities across all chunks

	addEdges    *intmap.Map[ComponentID, archetypeID] // Archetype reached by adding a component
	removeEdges *intmap.Map[ComponentID, archetypeID] // Archetype reached by removing a component
}

// newArchetype creates an archetype for the given sorted component types.
func newArchetype(aid archetypeID, components bitmap.Bitmap, infos []*componentInfo, chunkCap int) *archetype {
	assert.That(components.Count() == len(infos), "mismatched number of infos and components")
	assert.That(chunkCap > 0, "chunk capacity must be positive")

	ids := make([]ComponentID, len(infos))
	maxID := -1
	for i, info := range infos {
		ids[i] = info.id
		maxID = max(maxID, int(info.id))
	}
	assert.That(slices.IsSorted(ids), "archetype components must be sorted")

	slots := make([]int, maxID+1)
	for i := range slots {
		slots[i] = -1
	}
	for i, id := range ids {
		slots[id] = i
	}

	return &archetype{
		id:          aid,
		components:  components,
		ids:         ids,
		infos:       infos,
		slots:       slots,
		chunks:      make([]*chunk, 0, 1),
		chunkCap:    chunkCap,
		addEdges:    intmap.New[ComponentID, archetypeID](4),
		removeEdges: intmap.New[ComponentID, archetypeID](4),
	}
}

// chunkCapacity returns how many rows of the given components fit in chunkBytes. Each row also
// stores its entity ID and two change ticks per component.
func chunkCapacity(infos []*componentInfo, chunkBytes, minRows, maxRows int) int {
	rowBytes := 8 // EntityID
	for _, info := range infos {
		rowBytes += int(info.size) + 8 //nolint:gosec // component sizes are small
	}
	return min(max(chunkBytes/rowBytes, minRows), maxRows)
}

// slot returns the column index of a component, or -1 if the archetype doesn't have it.
func (a *archetype) slot(id ComponentID) int {
	if int(id) >= len(a.slots) {
		return -1
	}
	return a.slots[id]
}

func (a *archetype) has(id ComponentID) bool {
	return a.slot(id) >= 0
}

// exact returns true if the archetype's signature equals the given set.
func (a *archetype) exact(components bitmap.Bitmap) bool {
	if len(a.ids) != components.Count() {
		return false
	}
	return a.hasAll(components)
}

// hasAll returns true if the archetype contains every component in the set.
func (a *archetype) hasAll(components bitmap.Bitmap) bool {
	for i, word := range components {
		var own uint64
		if i < len(a.components) {
			own = a.components[i]
		}
		if word&own != word {
			return false
		}
	}
	return true
}

// hasAny returns true if the archetype contains at least one component in the set.
func (a *archetype) hasAny(components bitmap.Bitmap) bool {
	n := min(len(components), len(a.components))
	for i := range n {
		if components[i]&a.components[i] != 0 {
			return true
		}
	}
	return false
}

// hasNone returns true if the archetype contains none of the components in the set.
func (a *archetype) hasNone(components bitmap.Bitmap) bool {
	return !a.hasAny(components)
}

// -------------------------------------------------------------------------------------------------
// Row operations
// -------------------------------------------------------------------------------------------------

// tail returns the chunk new rows are appended to, allocating one if the last chunk is full.
func (a *archetype) tail() (int, *chunk) {
	if n := len(a.chunks); n > 0 && !a.chunks[n-1].full() {
		return n - 1, a.chunks[n-1]
	}
	var ch *chunk
	if n := len(a.spare); n > 0 {
		ch = a.spare[n-1]
		a.spare = a.spare[:n-1]
	} else {
		ch = newChunk(a.infos, a.chunkCap)
	}
	a.chunks = append(a.chunks, ch)
	return len(a.chunks) - 1, ch
}

// newEntity appends a row with zero-valued components stamped as added at tick and returns its
// location. The caller writes the component values.
func (a *archetype) newEntity(eid EntityID, tick uint32) (int, int) {
	ci, ch := a.tail()
	row := ch.push(eid, tick)
	a.count++
	return ci, row
}

// moveIn appends a row for an entity coming from another archetype. Components present in both
// archetypes keep their values and change stamps, components new to the entity start zeroed and
// are stamped as added at tick.
func (a *archetype) moveIn(eid EntityID, src *archetype, srcChunk, srcRow int, tick uint32) (int, int) {
	ci, ch := a.tail()
	from := src.chunks[srcChunk]

	ch.entities = append(ch.entities, eid)
	for i, id := range a.ids {
		if s := src.slot(id); s >= 0 {
			ch.columns[i].pushFrom(from.columns[s], srcRow)
		} else {
			ch.columns[i].extend(tick)
		}
	}
	a.count++
	return ci, ch.len() - 1
}

// removeEntity removes the row at the given location. If another entity was moved to fill the
// hole, it returns that entity so the caller can update its location, which is the same location
// as the removed row.
func (a *archetype) removeEntity(ci, row int) EntityID {
	assert.That(ci >= 0 && ci < len(a.chunks), "chunk %d out of bounds", ci)
	last := len(a.chunks) - 1
	target := a.chunks[ci]

	var moved EntityID
	if ci == last {
		moved = target.swapRemove(row)
	} else {
		// Fill the hole from the end of the last chunk so inner chunks stay full.
		tail := a.chunks[last]
		tailRow := tail.len() - 1
		moved = tail.entities[tailRow]
		target.entities[row] = moved
		for i, col := range target.columns {
			col.copyRow(row, tail.columns[i], tailRow)
		}
		tail.pop()
	}

	a.count--
	if tail := a.chunks[last]; tail.len() == 0 {
		a.chunks[last] = nil
		a.chunks = a.chunks[:last]
		a.spare = append(a.spare, tail)
	}
	return moved
}

// -------------------------------------------------------------------------------------------------
// Edges
// -------------------------------------------------------------------------------------------------

func (a *archetype) addEdge(id ComponentID) (archetypeID, bool) {
	return a.addEdges.Get(id)
}

func (a *archetype) removeEdge(id ComponentID) (archetypeID, bool) {
	return a.removeEdges.Get(id)
}

func (a *archetype) setAddEdge(id ComponentID, to archetypeID) {
	a.addEdges.Put(id, to)
}

func (a *archetype) setRemoveEdge(id ComponentID, to archetypeID) {
	a.removeEdges.Put(id, to)
}
