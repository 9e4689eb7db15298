// Package ecs is an archetype based entity component system. Entities with the same set of
// component types share an archetype, whose rows are stored column by column in fixed-size chunks.
// Queries walk the archetypes matching a signature, and systems declare their queries and
// resources in a state struct so the scheduler can order them by what they read and write.
package ecs

import (
	"github.com/rotisserie/eris"
)

// Spawn creates an entity with the given components. Passing the full set at once avoids the row
// moves of adding them one by one.
//
// Components arrive boxed, so their column type can't be derived here: every component type must
// already be registered, otherwise Spawn returns ErrComponentNotRegistered. Register, TypeOf, the
// typed helpers such as Add and Get, and the fields of a query all register on first use.
func Spawn(w *World, components ...Component) (EntityID, error) {
	if err := w.state.checkUnlocked(); err != nil {
		return InvalidEntity, err
	}
	return w.state.spawn(components)
}

// SpawnBatch creates n entities with the same components. Like Spawn, it requires registered
// component types.
func SpawnBatch(w *World, n int, components ...Component) ([]EntityID, error) {
	if err := w.state.checkUnlocked(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, eris.Errorf("cannot spawn %d entities", n)
	}
	return w.state.spawnBatch(n, components)
}

// Despawn deletes an entity and all its components. Despawning an entity that is not alive returns
// ErrEntityNotAlive.
func Despawn(w *World, eid EntityID) error {
	if err := w.state.checkUnlocked(); err != nil {
		return err
	}
	return w.state.despawn(eid)
}

// Alive reports whether an entity exists in the world.
func Alive(w *World, eid EntityID) bool {
	_, ok := w.state.entities.location(eid)
	return ok
}

// Add adds a component to an entity, moving the entity to the archetype that has it. If the entity
// already has a component of that type, its value is overwritten and marked as changed.
func Add[T any](w *World, eid EntityID, component T) error {
	if err := w.state.checkUnlocked(); err != nil {
		return err
	}
	return w.state.addComponent(eid, Register[T](), component)
}

// Remove removes a component from an entity.
// Returns an error if the entity or the component to remove doesn't exist.
func Remove[T any](w *World, eid EntityID) error {
	if err := w.state.checkUnlocked(); err != nil {
		return err
	}
	return w.state.removeComponent(eid, Register[T]())
}

// Get gets a component from an entity.
// Returns an error if the entity doesn't exist or doesn't contain the component type.
func Get[T any](w *World, eid EntityID) (T, error) {
	col, row, err := typedColumn[T](w, eid)
	if err != nil {
		var zero T
		return zero, err
	}
	return col.get(row), nil
}

// TryGet gets a component from an entity, returning false if the entity isn't alive or doesn't
// have it.
func TryGet[T any](w *World, eid EntityID) (T, bool) {
	v, err := Get[T](w, eid)
	return v, err == nil
}

// GetMut returns a pointer to a component of an entity and marks it as changed. The pointer is
// valid until the next structural change.
func GetMut[T any](w *World, eid EntityID) (*T, error) {
	col, row, err := typedColumn[T](w, eid)
	if err != nil {
		return nil, err
	}
	col.markChanged(row, w.state.tick)
	return col.ptr(row), nil
}

// Set overwrites a component the entity already has and marks it as changed. Unlike Add it never
// changes the entity's archetype.
func Set[T any](w *World, eid EntityID, component T) error {
	col, row, err := typedColumn[T](w, eid)
	if err != nil {
		return err
	}
	col.set(row, component, w.state.tick)
	return nil
}

// Has checks if an entity has a specific component type.
// Returns false if either the entity doesn't exist or doesn't have the component.
func Has[T any](w *World, eid EntityID) bool {
	loc, ok := w.state.entities.location(eid)
	if !ok {
		return false
	}
	return w.state.archetypes[loc.arch].has(Register[T]())
}

// SetChanged marks a component as changed in the current tick. Use it after writing through an
// untracked path such as Ref.UnsafePtr.
func SetChanged[T any](w *World, eid EntityID) error {
	col, row, err := w.state.column(eid, Register[T]())
	if err != nil {
		return err
	}
	col.markChanged(row, w.state.tick)
	return nil
}

// Changed reports whether an entity's component was written during the current tick.
func Changed[T any](w *World, eid EntityID) bool {
	col, row, err := w.state.column(eid, Register[T]())
	if err != nil {
		return false
	}
	return col.changedAt(row) == w.state.tick
}

// Added reports whether a component was added to the entity during the current tick.
func Added[T any](w *World, eid EntityID) bool {
	col, row, err := w.state.column(eid, Register[T]())
	if err != nil {
		return false
	}
	return col.addedAt(row) == w.state.tick
}

// Removed reports whether a component was removed from the entity during the current tick,
// including by despawning it. It works for entities that are no longer alive.
func Removed[T any](w *World, eid EntityID) bool {
	return w.state.wasRemoved(Register[T](), eid)
}

// ComponentsOf returns the component types of an entity in ID order.
func ComponentsOf(w *World, eid EntityID) ([]ComponentType, error) {
	loc, err := w.state.locate(eid)
	if err != nil {
		return nil, err
	}
	arch := w.state.archetypes[loc.arch]
	out := make([]ComponentType, len(arch.ids))
	for i, id := range arch.ids {
		out[i] = ComponentType{id: id}
	}
	return out, nil
}

func typedColumn[T any](w *World, eid EntityID) (*column[T], int, error) {
	col, row, err := w.state.column(eid, Register[T]())
	if err != nil {
		return nil, 0, err
	}
	typed, ok := col.(*column[T])
	if !ok {
		return nil, 0, eris.Errorf("column type mismatch for %T", *new(T))
	}
	return typed, row, nil
}
