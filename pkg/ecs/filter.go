package ecs

import (
	"strings"

	"github.com/kelindar/bitmap"
)

// Filter decides which archetypes a query visits. Filters are evaluated once per archetype, never
// per entity.
type Filter interface {
	// matches returns true if entities of the archetype pass the filter.
	matches(arch *archetype) bool
	// String renders the filter in the syntax accepted by ParseFilter.
	String() string
}

func typesBitmap(types []ComponentType) bitmap.Bitmap {
	var b bitmap.Bitmap
	for _, t := range types {
		b.Set(t.id)
	}
	return b
}

func typeNames(types []ComponentType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name()
	}
	return strings.Join(names, ", ")
}

type allFilter struct {
	types      []ComponentType
	components bitmap.Bitmap
}

// All matches archetypes that contain every one of the given components.
func All(types ...ComponentType) Filter {
	return &allFilter{types: types, components: typesBitmap(types)}
}

func (f *allFilter) matches(arch *archetype) bool { return arch.hasAll(f.components) }
func (f *allFilter) String() string               { return "ALL(" + typeNames(f.types) + ")" }

type anyFilter struct {
	types      []ComponentType
	components bitmap.Bitmap
}

// Any matches archetypes that contain at least one of the given components. Any with no components
// matches every archetype.
func Any(types ...ComponentType) Filter {
	return &anyFilter{types: types, components: typesBitmap(types)}
}

func (f *anyFilter) matches(arch *archetype) bool {
	return len(f.types) == 0 || arch.hasAny(f.components)
}
func (f *anyFilter) String() string { return "ANY(" + typeNames(f.types) + ")" }

type noneFilter struct {
	types      []ComponentType
	components bitmap.Bitmap
}

// None matches archetypes that contain none of the given components.
func None(types ...ComponentType) Filter {
	return &noneFilter{types: types, components: typesBitmap(types)}
}

func (f *noneFilter) matches(arch *archetype) bool { return arch.hasNone(f.components) }
func (f *noneFilter) String() string               { return "NONE(" + typeNames(f.types) + ")" }

type exactFilter struct {
	types      []ComponentType
	components bitmap.Bitmap
}

// Exact matches the archetype whose components are exactly the given ones.
func Exact(types ...ComponentType) Filter {
	return &exactFilter{types: types, components: typesBitmap(types)}
}

func (f *exactFilter) matches(arch *archetype) bool { return arch.exact(f.components) }
func (f *exactFilter) String() string               { return "EXACT(" + typeNames(f.types) + ")" }

type multiFilter struct {
	filters []Filter
}

// Multi matches archetypes that pass every one of the given filters. Multi with no filters matches
// every archetype.
func Multi(filters ...Filter) Filter {
	return &multiFilter{filters: filters}
}

func (f *multiFilter) matches(arch *archetype) bool {
	for _, filter := range f.filters {
		if !filter.matches(arch) {
			return false
		}
	}
	return true
}

func (f *multiFilter) String() string { return joinFilters(f.filters, " & ") }

type orFilter struct {
	filters []Filter
}

// Or matches archetypes that pass at least one of the given filters.
func Or(filters ...Filter) Filter {
	return &orFilter{filters: filters}
}

func (f *orFilter) matches(arch *archetype) bool {
	for _, filter := range f.filters {
		if filter.matches(arch) {
			return true
		}
	}
	return false
}

func (f *orFilter) String() string { return joinFilters(f.filters, " | ") }

type notFilter struct {
	filter Filter
}

// Not inverts a filter.
func Not(filter Filter) Filter {
	return &notFilter{filter: filter}
}

func (f *notFilter) matches(arch *archetype) bool { return !f.filter.matches(arch) }
func (f *notFilter) String() string               { return "!(" + f.filter.String() + ")" }

func joinFilters(filters []Filter, sep string) string {
	parts := make([]string, len(filters))
	for i, filter := range filters {
		parts[i] = "(" + filter.String() + ")"
	}
	return strings.Join(parts, sep)
}
