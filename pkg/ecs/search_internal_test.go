package ecs

import (
	"strconv"
	"testing"

	. "github.com/Refsa/pollus-sub003/pkg/ecs/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	weak, err := Spawn(w, Health{Value: 50}, PlayerTag{Tag: "weak"})
	require.NoError(t, err)
	strong, err := Spawn(w, Health{Value: 500}, PlayerTag{Tag: "strong"})
	require.NoError(t, err)
	leveled, err := Spawn(w, Health{Value: 300}, PlayerTag{Tag: "leveled"}, Level{Value: 2})
	require.NoError(t, err)

	tests := []struct {
		name   string
		params SearchParam
		want   []EntityID
	}{
		{
			name:   "contains",
			params: SearchParam{Find: []string{"Health"}, Match: MatchContains},
			want:   []EntityID{weak, strong, leveled},
		},
		{
			name:   "exact",
			params: SearchParam{Find: []string{"Health", "PlayerTag"}, Match: MatchExact},
			want:   []EntityID{weak, strong},
		},
		{
			name:   "where clause",
			params: SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: "Health.Value > 200"},
			want:   []EntityID{strong, leveled},
		},
		{
			name:   "where on string field",
			params: SearchParam{Find: []string{"PlayerTag"}, Match: MatchContains, Where: `PlayerTag.Tag == "weak"`},
			want:   []EntityID{weak},
		},
		{
			name:   "where on id",
			params: SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: "_id == " + strconv.FormatUint(uint64(leveled), 10)},
			want:   []EntityID{leveled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			results, err := w.Search(tt.params)
			require.NoError(t, err)
			got := make([]EntityID, len(results))
			for i, r := range results {
				got[i] = EntityID(r["_id"].(uint64)) //nolint:forcetypeassert // set by entityToMap
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	t.Run("result holds components", func(t *testing.T) {
		t.Parallel()

		results, err := w.Search(SearchParam{Find: []string{"Level"}, Match: MatchContains})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, Level{Value: 2}, results[0]["Level"])
		assert.Equal(t, Health{Value: 300}, results[0]["Health"])
	})

	t.Run("limit", func(t *testing.T) {
		t.Parallel()

		results, err := w.Search(SearchParam{Find: []string{"Health"}, Match: MatchContains, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestSearch_InvalidParams(t *testing.T) {
	t.Parallel()

	w := newTestWorld(t)
	_, err := Spawn(w, Health{Value: 1})
	require.NoError(t, err)

	tests := []struct {
		name   string
		params SearchParam
	}{
		{"empty find", SearchParam{Match: MatchContains}},
		{"bad match", SearchParam{Find: []string{"Health"}, Match: "some"}},
		{"negative limit", SearchParam{Find: []string{"Health"}, Match: MatchContains, Limit: -1}},
		{"unknown component", SearchParam{Find: []string{"Nope"}, Match: MatchContains}},
		{"syntax error", SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: "Health.Value >"}},
		{"non boolean where", SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: "1 + 2"}},
		{"runtime error", SearchParam{Find: []string{"Health"}, Match: MatchContains, Where: "Health.Missing.X > 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := w.Search(tt.params)
			require.Error(t, err)
		})
	}
}
