package ecs

import (
	"math"
	"reflect"
	"sync"

	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/rotisserie/eris"
)

// Component is any plain value type stored on entities. Components are identified by their Go
// type. A type may implement Name() string to choose the name used in filters, search and logs;
// otherwise its qualified type name is used.
type Component = any

// ComponentID is a dense process-wide identifier assigned to each component type on first use.
type ComponentID = uint32

// maxComponents bounds the number of component types so archetype slot tables stay small.
const maxComponents = math.MaxUint16

type namedComponent interface {
	Name() string
}

// componentInfo is the type-erased descriptor of a registered component type.
type componentInfo struct {
	id      ComponentID
	name    string
	typ     reflect.Type
	size    uintptr
	align   uintptr
	factory columnFactory
}

// componentRegistry is the process-wide mapping between component types and their IDs. IDs are
// stable for the lifetime of the process and shared by every world.
type componentRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]ComponentID
	byName map[string]ComponentID
	infos  []*componentInfo
}

var registry = newComponentRegistry() //nolint:gochecknoglobals // component IDs are process-wide

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{
		byType: make(map[reflect.Type]ComponentID),
		byName: make(map[string]ComponentID),
		infos:  make([]*componentInfo, 0, 64),
	}
}

// Register returns the ID of component type T, assigning one on first use. Calling it again for the
// same type returns the same ID.
func Register[T any]() ComponentID {
	typ := reflect.TypeFor[T]()
	if id, ok := registry.lookupType(typ); ok {
		return id
	}
	return registry.register(typ, componentName[T](typ), newColumnFactory[T]())
}

func componentName[T any](typ reflect.Type) string {
	var zero T
	if named, ok := any(zero).(namedComponent); ok {
		if name := named.Name(); name != "" {
			return name
		}
	}
	return typ.String()
}

func (r *componentRegistry) lookupType(typ reflect.Type) (ComponentID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[typ]
	return id, ok
}

func (r *componentRegistry) lookupName(name string) (ComponentID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

func (r *componentRegistry) register(typ reflect.Type, name string, factory columnFactory) ComponentID {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have won the race between lookupType and here.
	if id, ok := r.byType[typ]; ok {
		return id
	}

	assert.That(typ.Kind() != reflect.Interface, "component type %s must be a concrete type", typ)
	assert.That(len(r.infos) < maxComponents, "too many component types")

	id := ComponentID(len(r.infos)) //nolint:gosec // bounded by maxComponents
	if other, exists := r.byName[name]; exists {
		assert.That(false, "component name %q is used by both %s and %s", name, r.infos[other].typ, typ)
		// Keep the first owner of the name in release builds and fall back to the type name.
		name = typ.String()
	}

	r.infos = append(r.infos, &componentInfo{
		id:      id,
		name:    name,
		typ:     typ,
		size:    typ.Size(),
		align:   uintptr(typ.Align()),
		factory: factory,
	})
	r.byType[typ] = id
	r.byName[name] = id
	return id
}

// info returns the descriptor of a registered component. The descriptor is immutable.
func (r *componentRegistry) info(id ComponentID) *componentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.That(int(id) < len(r.infos), "component %d is not registered", id)
	return r.infos[id]
}

// idOf returns the component ID of a boxed value.
func (r *componentRegistry) idOf(value Component) (ComponentID, error) {
	typ := reflect.TypeOf(value)
	if typ == nil {
		return 0, eris.Wrap(ErrComponentNotRegistered, "nil component")
	}
	id, ok := r.lookupType(typ)
	if !ok {
		return 0, eris.Wrapf(ErrComponentNotRegistered, "type %s", typ)
	}
	return id, nil
}

func (r *componentRegistry) all() []*componentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*componentInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

// -------------------------------------------------------------------------------------------------
// Component types
// -------------------------------------------------------------------------------------------------

// ComponentType is a handle to a registered component type, used to build filters and to name
// components without a value.
type ComponentType struct {
	id ComponentID
}

// TypeOf registers T if needed and returns its handle.
func TypeOf[T any]() ComponentType {
	return ComponentType{id: Register[T]()}
}

// LookupComponent returns the handle of the component registered under name.
func LookupComponent(name string) (ComponentType, bool) {
	id, ok := registry.lookupName(name)
	return ComponentType{id: id}, ok
}

// ComponentTypes returns every registered component type in ID order.
func ComponentTypes() []ComponentType {
	infos := registry.all()
	out := make([]ComponentType, len(infos))
	for i, info := range infos {
		out[i] = ComponentType{id: info.id}
	}
	return out
}

// ID returns the component ID.
func (c ComponentType) ID() ComponentID { return c.id }

// Name returns the registered name of the component.
func (c ComponentType) Name() string { return registry.info(c.id).name }

// Type returns the Go type of the component.
func (c ComponentType) Type() reflect.Type { return registry.info(c.id).typ }

// Size returns the size in bytes of one component value.
func (c ComponentType) Size() uintptr { return registry.info(c.id).size }

// Align returns the alignment in bytes of the component type.
func (c ComponentType) Align() uintptr { return registry.info(c.id).align }

func (c ComponentType) String() string { return c.Name() }

// ComponentInfoOf returns the descriptor of a registered component ID.
func ComponentInfoOf(id ComponentID) (ComponentInfo, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if int(id) >= len(registry.infos) {
		return ComponentInfo{}, false
	}
	info := registry.infos[id]
	return ComponentInfo{
		ID:    info.id,
		Name:  info.name,
		Type:  info.typ.String(),
		Size:  info.size,
		Align: info.align,
	}, true
}
