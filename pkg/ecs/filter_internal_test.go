package ecs

import (
	"testing"

	. "github.com/Refsa/pollus-sub003/pkg/ecs/internal/testutils"
	"github.com/Refsa/pollus-sub003/pkg/testutils"
	"github.com/kelindar/bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// filterTypes are four components whose 16 subsets make up every archetype in the filter tests.
func filterTypes() []ComponentType {
	return []ComponentType{TypeOf[Health](), TypeOf[Position](), TypeOf[Velocity](), TypeOf[Level]()}
}

func subsetOf(types []ComponentType, mask int) []ComponentType {
	var out []ComponentType
	for i, ct := range types {
		if mask&(1<<i) != 0 {
			out = append(out, ct)
		}
	}
	return out
}

// allArchetypes returns one archetype per subset of types, indexed by mask.
func allArchetypes(t *testing.T, types []ComponentType) []*archetype {
	t.Helper()
	ws := newTestWorldState(t)
	archs := make([]*archetype, 1<<len(types))
	for mask := range archs {
		var sig bitmap.Bitmap
		for _, ct := range subsetOf(types, mask) {
			sig.Set(ct.id)
		}
		archs[mask] = ws.findOrCreateArchetype(sig)
	}
	return archs
}

// -------------------------------------------------------------------------------------------------
// Exhaustive filter semantics
// -------------------------------------------------------------------------------------------------
// Every filter kind over every component subset is checked against every archetype, using plain
// mask arithmetic as the model. The rendered form of each filter is parsed back and must select the
// same archetypes.
// -------------------------------------------------------------------------------------------------

func TestFilter_Exhaustive(t *testing.T) {
	t.Parallel()

	types := filterTypes()
	archs := allArchetypes(t, types)
	full := len(archs) - 1

	// Filter kinds drawn below: All, Any, None and Exact. Intn is inclusive.
	const filterKinds = 4

	for g := testutils.NewGen(); !g.Done(); {
		op := g.Intn(filterKinds - 1)
		mask := g.Intn(full)
		set := subsetOf(types, mask)

		var filter Filter
		var model func(arch int) bool
		switch op {
		case 0:
			filter = All(set...)
			model = func(arch int) bool { return arch&mask == mask }
		case 1:
			filter = Any(set...)
			model = func(arch int) bool { return mask == 0 || arch&mask != 0 }
		case 2:
			filter = None(set...)
			model = func(arch int) bool { return arch&mask == 0 }
		case 3:
			filter = Exact(set...)
			model = func(arch int) bool { return arch == mask }
		}

		parsed, err := ParseFilter(filter.String())
		require.NoError(t, err, "parse %q", filter.String())

		for arch := range archs {
			want := model(arch)
			assert.Equal(t, want, filter.matches(archs[arch]), "%s on archetype %04b", filter, arch)
			assert.Equal(t, want, parsed.matches(archs[arch]), "parsed %s on archetype %04b", filter, arch)
			assert.Equal(t, !want, Not(filter).matches(archs[arch]), "!%s on archetype %04b", filter, arch)
		}
	}
}

func TestFilter_Combinators(t *testing.T) {
	t.Parallel()

	types := filterTypes()
	archs := allArchetypes(t, types)
	h, p, v, l := types[0], types[1], types[2], types[3]
	// Mask bits: 1 Health, 2 Position, 4 Velocity, 8 Level.

	multi := Multi(All(h), None(v))
	or := Or(Exact(p), All(h, l))

	for mask, arch := range archs {
		hasH, hasV, hasL := mask&1 != 0, mask&4 != 0, mask&8 != 0
		assert.Equal(t, hasH && !hasV, multi.matches(arch), "multi on %04b", mask)
		assert.Equal(t, mask == 2 || (hasH && hasL), or.matches(arch), "or on %04b", mask)
	}

	assert.True(t, Multi().matches(archs[0]), "empty Multi matches everything")
	assert.False(t, Or().matches(archs[0]), "empty Or matches nothing")
}

func TestParseFilter(t *testing.T) {
	t.Parallel()

	types := filterTypes()
	archs := allArchetypes(t, types)

	tests := []struct {
		name  string
		src   string
		model func(mask int) bool
	}{
		{
			name:  "single call",
			src:   "ALL(Health, Position)",
			model: func(m int) bool { return m&3 == 3 },
		},
		{
			name:  "and binds tighter than or",
			src:   "ALL(Health) & NONE(Velocity) | EXACT(Level)",
			model: func(m int) bool { return (m&1 != 0 && m&4 == 0) || m == 8 },
		},
		{
			name:  "parentheses group",
			src:   "ALL(Health) & (NONE(Velocity) | EXACT(Level))",
			model: func(m int) bool { return m&1 != 0 && (m&4 == 0 || m == 8) },
		},
		{
			name:  "not",
			src:   "!ANY(Health, Velocity)",
			model: func(m int) bool { return m&5 == 0 },
		},
		{
			name:  "double not",
			src:   "!!ALL(Level)",
			model: func(m int) bool { return m&8 != 0 },
		},
		{
			name:  "empty any",
			src:   "ANY()",
			model: func(int) bool { return true },
		},
		{
			name:  "whitespace is ignored",
			src:   "  ALL( Health ,Position )&NONE(Level)  ",
			model: func(m int) bool { return m&3 == 3 && m&8 == 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := ParseFilter(tt.src)
			require.NoError(t, err)
			for mask, arch := range archs {
				assert.Equal(t, tt.model(mask), f.matches(arch), "%q on %04b", tt.src, mask)
			}

			// Property: the rendered filter parses to an equivalent filter.
			again, err := ParseFilter(f.String())
			require.NoError(t, err, "reparse %q", f.String())
			for mask, arch := range archs {
				assert.Equal(t, tt.model(mask), again.matches(arch), "%q on %04b", f.String(), mask)
			}
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	t.Parallel()
	registerTestComponents()

	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"unknown operator", "SOME(Health)"},
		{"unknown component", "ALL(NotAComponent)"},
		{"missing paren", "ALL(Health"},
		{"dangling and", "ALL(Health) &"},
		{"lowercase operator", "all(Health)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseFilter(tt.src)
			require.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestParseFilter_TypeNames(t *testing.T) {
	t.Parallel()
	registerTestComponents()

	// Unnamed components are looked up by their qualified type name.
	f, err := ParseFilter("ALL(" + TypeOf[Unnamed]().Name() + ")")
	require.NoError(t, err)
	assert.Contains(t, f.String(), "Unnamed")
}

func TestQuery_FilterTag(t *testing.T) {
	t.Parallel()

	type state struct {
		Alive Query[struct{ H Read[Health] }] `filter:"NONE(Dead)"`
	}

	w := newTestWorld(t)
	alive, err := Spawn(w, Health{})
	require.NoError(t, err)
	_, err = Spawn(w, Health{}, Dead{})
	require.NoError(t, err)

	var seen []EntityID
	require.NoError(t, RegisterSystem(w, func(s *state) error {
		seen = s.Alive.Entities()
		return nil
	}))
	require.NoError(t, w.Tick())
	assert.Equal(t, []EntityID{alive}, seen)
}

func TestQuery_BadFilterTag(t *testing.T) {
	t.Parallel()

	type state struct {
		Q Query[struct{ H Read[Health] }] `filter:"NONE(Dead"`
	}

	w := newTestWorld(t)
	err := RegisterSystem(w, func(*state) error { return nil })
	require.ErrorIs(t, err, ErrInvalidFilter)
}
