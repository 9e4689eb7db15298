package ecs

import (
	"github.com/Refsa/pollus-sub003/pkg/assert"
)

// columnFactory creates an empty column able to hold capacity rows.
type columnFactory func(id ComponentID, capacity int) abstractColumn

// abstractColumn is the type-erased view of a column used by chunk and archetype code that does
// not know the component type.
type abstractColumn interface {
	componentID() ComponentID
	len() int

	// extend appends a zero value stamped as added and changed at tick.
	extend(tick uint32)
	// pushFrom appends row of src, carrying over its value and change stamps.
	pushFrom(src abstractColumn, row int)
	// copyRow overwrites dst with row of src, carrying over its value and change stamps.
	copyRow(dst int, src abstractColumn, row int)
	// remove swap-removes row.
	remove(row int)
	// truncate drops the last row.
	truncate()

	getAbstract(row int) Component
	setAbstract(row int, value Component, tick uint32)
	markChanged(row int, tick uint32)
	addedAt(row int) uint32
	changedAt(row int) uint32
}

var _ abstractColumn = &column[struct{}]{}

// column stores the values of one component type for the rows of one chunk, together with the
// tick each row was added and last changed. All three slices have the same length, equal to the
// number of rows in the chunk. The capacity is fixed at creation so pointers into data stay valid
// until the row is removed.
type column[T any] struct {
	id      ComponentID
	data    []T
	added   []uint32
	changed []uint32
}

// newColumn creates an empty column with room for capacity rows.
func newColumn[T any](id ComponentID, capacity int) column[T] {
	return column[T]{
		id:      id,
		data:    make([]T, 0, capacity),
		added:   make([]uint32, 0, capacity),
		changed: make([]uint32, 0, capacity),
	}
}

// newColumnFactory returns a function that constructs a new column of type T.
func newColumnFactory[T any]() columnFactory {
	return func(id ComponentID, capacity int) abstractColumn {
		col := newColumn[T](id, capacity)
		return &col
	}
}

func (c *column[T]) componentID() ComponentID {
	return c.id
}

func (c *column[T]) len() int {
	return len(c.data)
}

func (c *column[T]) extend(tick uint32) {
	assert.That(len(c.data) < cap(c.data), "column %d is full", c.id)
	var zero T
	c.data = append(c.data, zero)
	c.added = append(c.added, tick)
	c.changed = append(c.changed, tick)
}

func (c *column[T]) pushFrom(src abstractColumn, row int) {
	other := c.same(src)
	assert.That(len(c.data) < cap(c.data), "column %d is full", c.id)
	c.data = append(c.data, other.data[row])
	c.added = append(c.added, other.added[row])
	c.changed = append(c.changed, other.changed[row])
}

func (c *column[T]) copyRow(dst int, src abstractColumn, row int) {
	other := c.same(src)
	c.data[dst] = other.data[row]
	c.added[dst] = other.added[row]
	c.changed[dst] = other.changed[row]
}

func (c *column[T]) same(src abstractColumn) *column[T] {
	other, ok := src.(*column[T])
	assert.That(ok, "column type mismatch for component %d", c.id)
	return other
}

// remove swaps the last row into row and truncates. The caller patches the moved entity.
func (c *column[T]) remove(row int) {
	assert.That(row >= 0 && row < len(c.data), "row %d out of bounds", row)
	last := len(c.data) - 1
	c.data[row] = c.data[last]
	c.added[row] = c.added[last]
	c.changed[row] = c.changed[last]
	c.truncate()
}

func (c *column[T]) truncate() {
	last := len(c.data) - 1
	// Clear the vacated slot so values holding references can be collected.
	var zero T
	c.data[last] = zero
	c.data = c.data[:last]
	c.added = c.added[:last]
	c.changed = c.changed[:last]
}

// set writes a value and stamps the row as changed.
func (c *column[T]) set(row int, value T, tick uint32) {
	assert.That(row >= 0 && row < len(c.data), "row %d out of bounds", row)
	c.data[row] = value
	c.changed[row] = tick
}

// get returns the value at row.
func (c *column[T]) get(row int) T {
	assert.That(row >= 0 && row < len(c.data), "row %d out of bounds", row)
	return c.data[row]
}

// ptr returns a pointer to the value at row without stamping it.
func (c *column[T]) ptr(row int) *T {
	assert.That(row >= 0 && row < len(c.data), "row %d out of bounds", row)
	return &c.data[row]
}

func (c *column[T]) getAbstract(row int) Component {
	return c.get(row)
}

func (c *column[T]) setAbstract(row int, value Component, tick uint32) {
	concrete, ok := value.(T)
	assert.That(ok, "component %d set with a value of the wrong type %T", c.id, value)
	c.set(row, concrete, tick)
}

func (c *column[T]) markChanged(row int, tick uint32) {
	c.changed[row] = tick
}

func (c *column[T]) addedAt(row int) uint32 {
	return c.added[row]
}

func (c *column[T]) changedAt(row int) uint32 {
	return c.changed[row]
}
