package ecs

import (
	"iter"
	"reflect"

	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// systemStateField is implemented by every field type allowed in a system state struct. init binds
// the field to the world and records what it reads and writes.
type systemStateField interface {
	init(meta *systemInitMetadata) error
}

var _ systemStateField = &BaseSystemState{}
var _ systemStateField = &Query[struct{}]{}
var _ systemStateField = &Resource[struct{}]{}
var _ systemStateField = &ReadResource[struct{}]{}
var _ systemStateField = &Local[struct{}]{}
var _ systemStateField = &Commands{}
var _ systemStateField = &WithEventEmitter[struct{}]{}
var _ systemStateField = &WithEventReceiver[struct{}]{}

// systemDeps is what a system touches. Two systems conflict when one writes something the other
// reads or writes, or when either needs exclusive access to the world.
type systemDeps struct {
	componentReads  bitmap.Bitmap
	componentWrites bitmap.Bitmap
	resourceReads   bitmap.Bitmap
	resourceWrites  bitmap.Bitmap
	eventReads      bitmap.Bitmap
	eventWrites     bitmap.Bitmap
	exclusive       bool
}

func (d *systemDeps) conflicts(other *systemDeps) bool {
	if d.exclusive || other.exclusive {
		return true
	}
	return writeConflict(d.componentWrites, other.componentReads, other.componentWrites) ||
		writeConflict(other.componentWrites, d.componentReads, d.componentWrites) ||
		writeConflict(d.resourceWrites, other.resourceReads, other.resourceWrites) ||
		writeConflict(other.resourceWrites, d.resourceReads, d.resourceWrites) ||
		writeConflict(d.eventWrites, other.eventReads, other.eventWrites) ||
		writeConflict(other.eventWrites, d.eventReads, d.eventWrites)
}

func writeConflict(writes, reads, otherWrites bitmap.Bitmap) bool {
	return intersects(writes, reads) || intersects(writes, otherWrites)
}

func intersects(a, b bitmap.Bitmap) bool {
	n := min(len(a), len(b))
	for i := range n {
		if a[i]&b[i] != 0 {
			return true
		}
	}
	return false
}

// systemInitMetadata is passed to every field of a system state during registration.
type systemInitMetadata struct {
	world    *World
	name     string            // System name
	tag      reflect.StructTag // Tag of the field being initialized
	deps     systemDeps
	commands []*Commands

	// Seen lists used to reject multiple fields of the same kind on the same type.
	emitters  bitmap.Bitmap
	receivers bitmap.Bitmap
}

func newSystemInitMetadata(w *World, name string) systemInitMetadata {
	return systemInitMetadata{world: w, name: name}
}

// Helper function to initialize fields when registering systems.
func initializeSystemState[T any](state *T, meta *systemInitMetadata) error {
	value := reflect.ValueOf(state).Elem()
	if value.Kind() != reflect.Struct {
		return eris.Errorf("system state %s must be a struct", value.Type())
	}

	for i := range value.NumField() {
		field := value.Field(i)
		fieldType := value.Type().Field(i)

		// If the field is not exported, return an error.
		if !fieldType.IsExported() {
			return eris.Errorf("field %s must be exported", fieldType.Name)
		}

		// If the field doesn't implement systemStateField, return an error. This shouldn't happen
		// as long as the user sticks to the provided system state field types.
		stateField, ok := field.Addr().Interface().(systemStateField)
		if !ok {
			return eris.Errorf("field %s must be a system state field", fieldType.Name)
		}

		meta.tag = fieldType.Tag
		if err := stateField.init(meta); err != nil {
			return eris.Wrapf(err, "failed to initialize field %s", fieldType.Name)
		}
	}
	meta.tag = ""
	return nil
}

// -------------------------------------------------------------------------------------------------
// Base System State Field
// -------------------------------------------------------------------------------------------------

// BaseSystemState gives a system direct access to the world. Because the world can be used to
// touch anything, a system with this field conflicts with every other system of its stage and
// always runs alone.
//
// Example:
//
//	type DebugSystemState struct {
//	    ecs.BaseSystemState
//	}
//
//	func DebugSystem(state *DebugSystemState) error {
//	    state.Logger().Info().Uint32("tick", state.Tick()).Msg("tick")
//	    return nil
//	}
type BaseSystemState struct {
	world  *World
	logger zerolog.Logger
}

func (b *BaseSystemState) init(meta *systemInitMetadata) error {
	b.world = meta.world
	b.logger = meta.world.telemetry.GetLogger("system").With().Str("system", meta.name).Logger()
	meta.deps.exclusive = true
	return nil
}

// World returns the world the system runs in. Structural changes must still go through Commands
// while the tick is running.
func (b *BaseSystemState) World() *World {
	return b.world
}

// Logger returns a logger tagged with the system name.
func (b *BaseSystemState) Logger() *zerolog.Logger {
	return &b.logger
}

// Tick returns the current world tick.
func (b *BaseSystemState) Tick() uint32 {
	return b.world.state.tick
}

// -------------------------------------------------------------------------------------------------
// Query Field
// -------------------------------------------------------------------------------------------------

// init binds a query field of a system state. A `filter` struct tag adds a filter expression, see
// ParseFilter.
//
// Example:
//
//	type MovementState struct {
//	    Movers ecs.Query[Mover] `filter:"NONE(Frozen)"`
//	}
func (q *Query[T]) init(meta *systemInitMetadata) error {
	var filter Filter
	if expr, ok := meta.tag.Lookup("filter"); ok {
		f, err := ParseFilter(expr)
		if err != nil {
			return err
		}
		filter = f
	}
	if err := q.initQuery(meta.world.state, filter); err != nil {
		return err
	}
	meta.deps.componentReads.Or(q.reads)
	meta.deps.componentWrites.Or(q.writes)
	return nil
}

// -------------------------------------------------------------------------------------------------
// Resource Fields
// -------------------------------------------------------------------------------------------------

// Resource gives read and write access to a world resource of type T.
//
// Example:
//
//	type ScoreState struct {
//	    Score ecs.Resource[Score]
//	}
//
//	func ScoreSystem(state *ScoreState) error {
//	    state.Score.Get().Points++
//	    return nil
//	}
type Resource[T any] struct {
	resources *resourceManager
	id        resourceID
}

func (r *Resource[T]) init(meta *systemInitMetadata) error {
	r.resources = &meta.world.resources
	r.id = registerResource[T](r.resources)
	meta.deps.resourceWrites.Set(r.id)
	return nil
}

// Get returns a pointer to the resource. Panics in dev builds if it was never inserted.
func (r *Resource[T]) Get() *T {
	ptr, ok := resourcePtr[T](r.resources, r.id)
	assert.That(ok, "resource %s was not inserted", reflect.TypeFor[T]())
	return ptr
}

// TryGet returns a pointer to the resource and whether it exists.
func (r *Resource[T]) TryGet() (*T, bool) {
	return resourcePtr[T](r.resources, r.id)
}

// ReadResource gives read-only access to a world resource of type T. Systems that only read a
// resource can run alongside each other.
type ReadResource[T any] struct {
	resources *resourceManager
	id        resourceID
}

func (r *ReadResource[T]) init(meta *systemInitMetadata) error {
	r.resources = &meta.world.resources
	r.id = registerResource[T](r.resources)
	meta.deps.resourceReads.Set(r.id)
	return nil
}

// Get returns a copy of the resource. Panics in dev builds if it was never inserted.
func (r *ReadResource[T]) Get() T {
	ptr, ok := resourcePtr[T](r.resources, r.id)
	assert.That(ok, "resource %s was not inserted", reflect.TypeFor[T]())
	return *ptr
}

// TryGet returns a copy of the resource and whether it exists.
func (r *ReadResource[T]) TryGet() (T, bool) {
	ptr, ok := resourcePtr[T](r.resources, r.id)
	if !ok {
		var zero T
		return zero, false
	}
	return *ptr, true
}

// Local is a value owned by one system that persists across ticks. It has no dependencies.
type Local[T any] struct {
	value T
}

func (l *Local[T]) init(*systemInitMetadata) error {
	return nil
}

// Get returns a pointer to the value.
func (l *Local[T]) Get() *T {
	return &l.value
}

// -------------------------------------------------------------------------------------------------
// System Event Fields
// -------------------------------------------------------------------------------------------------

// WithEventEmitter lets a system emit events of type E for systems that run later in the same
// tick. Systems emitting E run before the systems receiving E that were registered after them.
//
// Example:
//
//	type CombatState struct {
//	    Deaths ecs.WithEventEmitter[PlayerDeath]
//	}
//
//	func CombatSystem(state *CombatState) error {
//	    state.Deaths.Emit(PlayerDeath{Nickname: "bob"})
//	    return nil
//	}
type WithEventEmitter[E any] struct {
	channel *typedEventChannel[E]
}

func (s *WithEventEmitter[E]) init(meta *systemInitMetadata) error {
	id, ch := registerEvent[E](&meta.world.events)
	if meta.emitters.Contains(id) {
		return eris.New("systems cannot declare multiple WithEventEmitter fields of the same event type")
	}
	meta.emitters.Set(id)
	meta.deps.eventWrites.Set(id)
	s.channel = ch
	return nil
}

// Emit emits an event.
func (s *WithEventEmitter[E]) Emit(event E) {
	s.channel.events = append(s.channel.events, event)
}

// WithEventReceiver lets a system read the events of type E emitted earlier in the tick.
//
// Example:
//
//	type GraveyardState struct {
//	    Deaths ecs.WithEventReceiver[PlayerDeath]
//	}
//
//	func GraveyardSystem(state *GraveyardState) error {
//	    for death := range state.Deaths.Iter() {
//	        _ = death.Nickname
//	    }
//	    return nil
//	}
type WithEventReceiver[E any] struct {
	channel *typedEventChannel[E]
}

func (s *WithEventReceiver[E]) init(meta *systemInitMetadata) error {
	id, ch := registerEvent[E](&meta.world.events)
	if meta.receivers.Contains(id) {
		return eris.New("systems cannot declare multiple WithEventReceiver fields of the same event type")
	}
	meta.receivers.Set(id)
	meta.deps.eventReads.Set(id)
	s.channel = ch
	return nil
}

// Iter returns an iterator over the events emitted so far this tick, in emission order.
func (s *WithEventReceiver[E]) Iter() iter.Seq[E] {
	return func(yield func(E) bool) {
		for _, event := range s.channel.events {
			if !yield(event) {
				return
			}
		}
	}
}

// Len returns the number of events emitted so far this tick.
func (s *WithEventReceiver[E]) Len() int {
	return len(s.channel.events)
}
