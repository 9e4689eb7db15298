package ecs

import "github.com/Refsa/pollus-sub003/pkg/assert"

// chunk is a fixed-capacity block of rows of one archetype. Row i of every column belongs to
// entities[i]. Rows are dense: there are never gaps below len().
type chunk struct {
	entities []EntityID
	columns  []abstractColumn // Same order as archetype.ids
}

func newChunk(infos []*componentInfo, capacity int) *chunk {
	columns := make([]abstractColumn, len(infos))
	for i, info := range infos {
		columns[i] = info.factory(info.id, capacity)
	}
	return &chunk{
		entities: make([]EntityID, 0, capacity),
		columns:  columns,
	}
}

func (c *chunk) len() int {
	return len(c.entities)
}

func (c *chunk) capacity() int {
	return cap(c.entities)
}

func (c *chunk) full() bool {
	return len(c.entities) == cap(c.entities)
}

// push appends a row with zero-valued components stamped as added at tick.
func (c *chunk) push(eid EntityID, tick uint32) int {
	assert.That(!c.full(), "chunk is full")
	c.entities = append(c.entities, eid)
	for _, col := range c.columns {
		col.extend(tick)
		assert.That(col.len() == len(c.entities), "column length doesn't match entities")
	}
	return len(c.entities) - 1
}

// swapRemove removes row by moving the last row into it. Returns the entity that now occupies row,
// or InvalidEntity if row was the last row.
func (c *chunk) swapRemove(row int) EntityID {
	assert.That(row >= 0 && row < len(c.entities), "row %d out of bounds", row)
	last := len(c.entities) - 1
	for _, col := range c.columns {
		col.remove(row)
	}
	moved := InvalidEntity
	if row != last {
		moved = c.entities[last]
		c.entities[row] = moved
	}
	c.entities = c.entities[:last]
	return moved
}

// pop drops the last row.
func (c *chunk) pop() {
	for _, col := range c.columns {
		col.truncate()
	}
	c.entities = c.entities[:len(c.entities)-1]
}
