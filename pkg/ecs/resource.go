package ecs

import (
	"reflect"

	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/rotisserie/eris"
)

// resourceID is a unique identifier for a resource type within one world.
type resourceID = uint32

// resourceManager stores world-global singletons keyed by type. The registry only grows during
// system registration and InsertResource, never while systems run.
type resourceManager struct {
	registry map[reflect.Type]resourceID // Resource type -> resource ID
	values   []any                       // Resource ID -> *T, nil until inserted
	names    []string                    // Resource ID -> type name
}

func newResourceManager() resourceManager {
	return resourceManager{
		registry: make(map[reflect.Type]resourceID),
		values:   make([]any, 0),
		names:    make([]string, 0),
	}
}

// register returns the ID of resource type T, assigning one if needed.
func registerResource[T any](r *resourceManager) resourceID {
	typ := reflect.TypeFor[T]()
	if id, ok := r.registry[typ]; ok {
		return id
	}
	id := resourceID(len(r.values)) //nolint:gosec // bounded by number of types
	r.registry[typ] = id
	r.values = append(r.values, nil)
	r.names = append(r.names, typ.String())
	assert.That(len(r.values) == len(r.names), "resource tables out of sync")
	return id
}

func resourcePtr[T any](r *resourceManager, id resourceID) (*T, bool) {
	value := r.values[id]
	if value == nil {
		return nil, false
	}
	ptr, ok := value.(*T)
	assert.That(ok, "resource %s has the wrong type", r.names[id])
	return ptr, true
}

// InsertResource stores a resource in the world, replacing any previous value of the same type.
func InsertResource[T any](w *World, value T) error {
	if err := w.state.checkUnlocked(); err != nil {
		return err
	}
	id := registerResource[T](&w.resources)
	ptr := new(T)
	*ptr = value
	w.resources.values[id] = ptr
	return nil
}

// GetResource returns a pointer to the resource of type T.
func GetResource[T any](w *World) (*T, error) {
	id, ok := w.resources.registry[reflect.TypeFor[T]()]
	if !ok {
		return nil, eris.Wrapf(ErrResourceNotFound, "type %s", reflect.TypeFor[T]())
	}
	ptr, ok := resourcePtr[T](&w.resources, id)
	if !ok {
		return nil, eris.Wrapf(ErrResourceNotFound, "type %s", reflect.TypeFor[T]())
	}
	return ptr, nil
}

// RemoveResource deletes the resource of type T. Systems that declared it stay valid and see it as
// missing.
func RemoveResource[T any](w *World) error {
	if err := w.state.checkUnlocked(); err != nil {
		return err
	}
	if id, ok := w.resources.registry[reflect.TypeFor[T]()]; ok {
		w.resources.values[id] = nil
	}
	return nil
}
