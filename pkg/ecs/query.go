package ecs

import (
	"iter"
	"reflect"

	"github.com/Refsa/pollus-sub003/pkg/assert"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// fieldAccess describes how a query field touches its component.
type fieldAccess uint8

const (
	accessRead     fieldAccess = iota // Required, read only
	accessWrite                       // Required, read and write
	accessWith                        // Required, no data
	accessWithout                     // Excluded, no data
	accessOptional                    // Not required, read only when present
)

// cursor is the row shared by every field of a query result. Advancing it moves all fields to the
// next entity at once.
type cursor struct {
	row int
}

// queryView is one binding of a result struct. Every pass over a query owns a view, so nested
// passes over the same query don't move each other's rows.
type queryView[T any] struct {
	result T
	fields []queryField
	cur    cursor
}

func newQueryView[T any]() (*queryView[T], error) {
	v := &queryView[T]{}
	fields, err := queryFields(&v.result)
	if err != nil {
		return nil, err
	}
	v.fields = fields
	return v, nil
}

// queryField is implemented by the field types allowed in a query result struct.
type queryField interface {
	// component registers the field's component type and returns its ID.
	component() ComponentID
	access() fieldAccess
	// bind points the field at a chunk column. col is nil when the archetype lacks the component.
	bind(col abstractColumn, cur *cursor, tick uint32)
}

// Query iterates every entity whose archetype matches a component signature. T is a struct whose
// exported fields are Ref, Read, With, Without or Optional. Each yielded T is bound to the current
// row of its own pass; it must not be kept after the loop body returns. Passes may nest.
//
// Example:
//
//	type movers struct {
//		Pos ecs.Ref[Position]
//		Vel ecs.Read[Velocity]
//		_   ecs.Without[Frozen]
//	}
//
//	q, _ := ecs.NewQuery[movers](world)
//	for _, m := range q.Iter() {
//		p := m.Pos.Ptr()
//		p.X += m.Vel.Get().X
//	}
type Query[T any] struct {
	ws *worldState

	views []*queryView[T] // Idle views, reused by later passes

	// lookup is the binding used by Get. Each Get points it at a fresh cursor.
	lookup       T
	lookupFields []queryField

	ids      []ComponentID
	required bitmap.Bitmap
	excluded bitmap.Bitmap
	filter   Filter
	match    Filter // filter plus the excluded components

	reads  bitmap.Bitmap
	writes bitmap.Bitmap

	matched []queryArchetype
	index   map[archetypeID]int
	scanned int // Number of archetypes already tested against the query
}

type queryArchetype struct {
	arch  *archetype
	slots []int // Column slot per field, -1 if absent
}

// NewQuery builds a query over the world. Extra filters restrict the matched archetypes further.
// The component types named by T are registered if needed.
func NewQuery[T any](w *World, filters ...Filter) (*Query[T], error) {
	q := &Query[T]{}
	var filter Filter
	if len(filters) == 1 {
		filter = filters[0]
	} else if len(filters) > 1 {
		filter = Multi(filters...)
	}
	if err := q.initQuery(w.state, filter); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Query[T]) initQuery(ws *worldState, filter Filter) error {
	q.ws = ws
	q.filter = filter
	q.index = make(map[archetypeID]int)

	view, err := newQueryView[T]()
	if err != nil {
		return err
	}
	q.views = append(q.views, view)
	fields := view.fields
	if q.lookupFields, err = queryFields(&q.lookup); err != nil {
		return err
	}

	var data bitmap.Bitmap
	var excluded []ComponentType
	q.ids = make([]ComponentID, len(fields))
	for i, f := range fields {
		id := f.component()
		q.ids[i] = id

		switch f.access() {
		case accessWrite, accessRead, accessOptional:
			if data.Contains(id) {
				return eris.Wrapf(ErrDuplicateComponent, "query %s accesses %s twice", reflect.TypeFor[T](), registry.info(id).name)
			}
			data.Set(id)
		case accessWith, accessWithout:
		}

		switch f.access() {
		case accessWrite:
			q.required.Set(id)
			q.writes.Set(id)
		case accessRead:
			q.required.Set(id)
			q.reads.Set(id)
		case accessOptional:
			q.reads.Set(id)
		case accessWith:
			q.required.Set(id)
		case accessWithout:
			q.excluded.Set(id)
			excluded = append(excluded, ComponentType{id: id})
		}
	}

	overlap := q.required.Clone(nil)
	overlap.And(q.excluded)
	if overlap.Count() > 0 {
		return eris.Errorf("query %s both requires and excludes the same component", reflect.TypeFor[T]())
	}

	q.match = filter
	if len(excluded) > 0 {
		q.match = None(excluded...)
		if filter != nil {
			q.match = Multi(q.match, filter)
		}
	}
	return nil
}

// queryFields collects the fields of a result struct as queryField values pointing into it.
func queryFields[T any](result *T) ([]queryField, error) {
	v := reflect.ValueOf(result).Elem()
	if v.Kind() != reflect.Struct {
		return nil, eris.Errorf("query type %s must be a struct", v.Type())
	}

	fields := make([]queryField, 0, v.NumField())
	for i := range v.NumField() {
		sf := v.Type().Field(i)
		if sf.Name == "_" {
			// Blank fields hold no data, so a fresh value stands in for them.
			f, ok := reflect.New(sf.Type).Interface().(queryField)
			if !ok || (f.access() != accessWith && f.access() != accessWithout) {
				return nil, eris.Errorf("blank field of query %s must be With or Without", v.Type())
			}
			fields = append(fields, f)
			continue
		}
		if !sf.IsExported() {
			return nil, eris.Errorf("field %s of query %s must be exported", sf.Name, v.Type())
		}
		f, ok := v.Field(i).Addr().Interface().(queryField)
		if !ok {
			return nil, eris.Errorf("field %s of query %s is not a query field", sf.Name, v.Type())
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// refresh tests archetypes created since the last call. Archetypes are never removed, so matched
// only grows.
func (q *Query[T]) refresh() {
	if q.scanned == len(q.ws.archetypes) {
		return
	}
	start := q.scanned
	q.scanned = len(q.ws.archetypes)
	for _, arch := range q.ws.archetypesMatching(start, q.required, q.match) {
		slots := make([]int, len(q.ids))
		for i, id := range q.ids {
			slots[i] = arch.slot(id)
		}
		q.index[arch.id] = len(q.matched)
		q.matched = append(q.matched, queryArchetype{arch: arch, slots: slots})
	}
}

// acquire takes an idle view or builds a new one. The result type was validated by initQuery.
func (q *Query[T]) acquire() *queryView[T] {
	if n := len(q.views); n > 0 {
		v := q.views[n-1]
		q.views = q.views[:n-1]
		return v
	}
	v, err := newQueryView[T]()
	assert.That(err == nil, "query view: %v", err)
	return v
}

func (q *Query[T]) release(v *queryView[T]) {
	q.views = append(q.views, v)
}

func bindFields(fields []queryField, qa *queryArchetype, ch *chunk, cur *cursor, tick uint32) {
	for i, f := range fields {
		var col abstractColumn
		if s := qa.slots[i]; s >= 0 {
			col = ch.columns[s]
		}
		f.bind(col, cur, tick)
	}
}

// Iter yields every matching entity with its result bound to the entity's row. Structural changes
// are rejected with ErrWorldLocked until the loop ends.
func (q *Query[T]) Iter() iter.Seq2[EntityID, T] {
	assert.That(q.ws != nil, "query used before initialization")
	return func(yield func(EntityID, T) bool) {
		q.ws.lock()
		defer q.ws.unlock()
		v := q.acquire()
		defer q.release(v)

		q.refresh()
		tick := q.ws.tick
		for i := range q.matched {
			qa := &q.matched[i]
			for _, ch := range qa.arch.chunks {
				bindFields(v.fields, qa, ch, &v.cur, tick)
				for row, eid := range ch.entities {
					v.cur.row = row
					if !yield(eid, v.result) {
						return
					}
				}
			}
		}
	}
}

// Chunks yields every non-empty chunk of the matching archetypes. The result is bound to row 0;
// use Ref.Slice and Read.Slice to reach all rows. The entity slice and the component slices have
// the same length.
func (q *Query[T]) Chunks() iter.Seq2[[]EntityID, T] {
	assert.That(q.ws != nil, "query used before initialization")
	return func(yield func([]EntityID, T) bool) {
		q.ws.lock()
		defer q.ws.unlock()
		v := q.acquire()
		defer q.release(v)

		q.refresh()
		tick := q.ws.tick
		for i := range q.matched {
			qa := &q.matched[i]
			for _, ch := range qa.arch.chunks {
				bindFields(v.fields, qa, ch, &v.cur, tick)
				v.cur.row = 0
				if !yield(ch.entities, v.result) {
					return
				}
			}
		}
	}
}

// Get returns the result bound to a single entity. It returns false if the entity is not alive or
// doesn't match the query. Each result keeps its own row, so several may be held at once and Get
// may be called while iterating the same query. A result is valid until the next structural change.
func (q *Query[T]) Get(eid EntityID) (T, bool) {
	loc, ok := q.ws.entities.location(eid)
	if !ok {
		var zero T
		return zero, false
	}
	q.refresh()
	idx, ok := q.index[loc.arch]
	if !ok {
		var zero T
		return zero, false
	}
	qa := &q.matched[idx]
	cur := &cursor{row: int(loc.row)}
	bindFields(q.lookupFields, qa, qa.arch.chunks[loc.chunk], cur, q.ws.tick)
	return q.lookup, true
}

// Contains reports whether the entity is alive and matches the query.
func (q *Query[T]) Contains(eid EntityID) bool {
	loc, ok := q.ws.entities.location(eid)
	if !ok {
		return false
	}
	q.refresh()
	_, ok = q.index[loc.arch]
	return ok
}

// Count returns the number of matching entities.
func (q *Query[T]) Count() int {
	q.refresh()
	n := 0
	for _, qa := range q.matched {
		n += qa.arch.count
	}
	return n
}

// Entities returns the matching entities in iteration order.
func (q *Query[T]) Entities() []EntityID {
	out := make([]EntityID, 0, q.Count())
	for eid := range q.Iter() {
		out = append(out, eid)
	}
	return out
}

// Single returns the only matching entity. It returns false if there are zero or many matches.
func (q *Query[T]) Single() (EntityID, T, bool) {
	var zero T
	if q.Count() != 1 {
		return InvalidEntity, zero, false
	}
	eid := q.Entities()[0]
	v, ok := q.Get(eid)
	return eid, v, ok
}

// -------------------------------------------------------------------------------------------------
// Query fields
// -------------------------------------------------------------------------------------------------

// Ref gives read and write access to a required component. Writes through Set, Ptr and Slice stamp
// the row as changed.
type Ref[T any] struct {
	col  *column[T]
	cur  *cursor
	tick uint32
}

func (r *Ref[T]) component() ComponentID { return Register[T]() }
func (r *Ref[T]) access() fieldAccess    { return accessWrite }
func (r *Ref[T]) bind(col abstractColumn, cur *cursor, tick uint32) {
	r.col, _ = col.(*column[T])
	r.cur = cur
	r.tick = tick
}

// Get returns a copy of the component.
func (r *Ref[T]) Get() T {
	return r.col.get(r.cur.row)
}

// Set overwrites the component and stamps it as changed.
func (r *Ref[T]) Set(value T) {
	r.col.set(r.cur.row, value, r.tick)
}

// Ptr stamps the component as changed and returns a pointer to it. The pointer is valid until the
// next structural change.
func (r *Ref[T]) Ptr() *T {
	r.col.markChanged(r.cur.row, r.tick)
	return r.col.ptr(r.cur.row)
}

// UnsafePtr returns a pointer to the component without stamping it as changed.
func (r *Ref[T]) UnsafePtr() *T {
	return r.col.ptr(r.cur.row)
}

// Slice stamps every row of the bound chunk as changed and returns the chunk's component values.
func (r *Ref[T]) Slice() []T {
	for i := range r.col.changed {
		r.col.changed[i] = r.tick
	}
	return r.col.data
}

// UnsafeSlice returns the chunk's component values without stamping them.
func (r *Ref[T]) UnsafeSlice() []T {
	return r.col.data
}

// Changed reports whether the component was written during the current tick.
func (r *Ref[T]) Changed() bool {
	return r.col.changedAt(r.cur.row) == r.tick
}

// Added reports whether the component was added during the current tick.
func (r *Ref[T]) Added() bool {
	return r.col.addedAt(r.cur.row) == r.tick
}

// Read gives read-only access to a required component. Systems that only read a component can run
// alongside each other.
type Read[T any] struct {
	col  *column[T]
	cur  *cursor
	tick uint32
}

func (r *Read[T]) component() ComponentID { return Register[T]() }
func (r *Read[T]) access() fieldAccess    { return accessRead }
func (r *Read[T]) bind(col abstractColumn, cur *cursor, tick uint32) {
	r.col, _ = col.(*column[T])
	r.cur = cur
	r.tick = tick
}

// Get returns a copy of the component.
func (r *Read[T]) Get() T {
	return r.col.get(r.cur.row)
}

// Slice returns the chunk's component values. The slice must not be written to.
func (r *Read[T]) Slice() []T {
	return r.col.data
}

// Changed reports whether the component was written during the current tick.
func (r *Read[T]) Changed() bool {
	return r.col.changedAt(r.cur.row) == r.tick
}

// Added reports whether the component was added during the current tick.
func (r *Read[T]) Added() bool {
	return r.col.addedAt(r.cur.row) == r.tick
}

// Optional gives read-only access to a component the entity may not have.
type Optional[T any] struct {
	col *column[T]
	cur *cursor
}

func (o *Optional[T]) component() ComponentID { return Register[T]() }
func (o *Optional[T]) access() fieldAccess    { return accessOptional }
func (o *Optional[T]) bind(col abstractColumn, cur *cursor, _ uint32) {
	o.col, _ = col.(*column[T])
	o.cur = cur
}

// Get returns the component and true if the entity has it.
func (o *Optional[T]) Get() (T, bool) {
	if o.col == nil {
		var zero T
		return zero, false
	}
	return o.col.get(o.cur.row), true
}

// Has reports whether the entity has the component.
func (o *Optional[T]) Has() bool {
	return o.col != nil
}

// With requires a component without accessing it.
type With[T any] struct{}

func (With[T]) component() ComponentID               { return Register[T]() }
func (With[T]) access() fieldAccess                  { return accessWith }
func (With[T]) bind(abstractColumn, *cursor, uint32) {}

// Without excludes entities that have a component.
type Without[T any] struct{}

func (Without[T]) component() ComponentID               { return Register[T]() }
func (Without[T]) access() fieldAccess                  { return accessWithout }
func (Without[T]) bind(abstractColumn, *cursor, uint32) {}
