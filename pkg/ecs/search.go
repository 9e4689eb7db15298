package ecs

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// SearchParam contains parameters for a search query.
// We use expr lang for the where clause to filter the entities, please refer to its documentation
// for more details: https://expr-lang.org/docs/getting-started.
type SearchParam struct {
	Find  []string    // List of component names to search for
	Match SearchMatch // A match type to use for the search
	Where string      // Optional expr language string to filter the results.
	Limit int         // Maximum number of results, 0 means no limit
}

// validateAndGetFilter validates the search parameters and returns an expr VM program compiled
// from the where clause.
func (s *SearchParam) validateAndGetFilter() (*vm.Program, error) {
	if len(s.Find) == 0 {
		return nil, eris.New("component list cannot be empty")
	}

	if s.Match != MatchExact && s.Match != MatchContains {
		return nil, eris.Errorf("invalid `match` value: must be either '%s' or '%s'", MatchExact, MatchContains)
	}

	if s.Limit < 0 {
		return nil, eris.New("limit cannot be negative")
	}

	// If no expression is provided, return a nil program
	if len(s.Where) == 0 {
		return nil, nil //nolint:nilnil // no filter
	}

	// Compile the expression and check that the return type is boolean.
	filter, err := expr.Compile(s.Where, expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse where clause")
	}

	return filter, nil
}

// SearchMatch is the type of match to use for the search.
type SearchMatch string

const (
	// MatchExact matches entities that have exactly the specified components.
	MatchExact SearchMatch = "exact"
	// MatchContains matches entities that contains the specified components, but may have other
	// components as well.
	MatchContains SearchMatch = "contains"
)

// Search returns a map per entity that matches the given search parameters. Each map holds the
// entity's components keyed by component name, plus the entity ID under "_id". Search must not be
// called while systems are running in parallel with writers of the searched components.
func (w *World) Search(params SearchParam) ([]map[string]any, error) {
	filter, err := params.validateAndGetFilter()
	if err != nil {
		return nil, eris.Wrap(err, "invalid search params")
	}

	archs, err := w.searchArchetypes(params.Find, params.Match)
	if err != nil {
		return nil, eris.Wrap(err, "failed to get archetypes from components")
	}

	results := make([]map[string]any, 0)
	for _, arch := range archs {
		for _, ch := range arch.chunks {
			for row, eid := range ch.entities {
				entityMap := entityToMap(eid, arch, ch, row)

				// If there's no filter, include all entities.
				if filter != nil {
					// Run the filter expression. We set the entity map as the environment for `Run` so
					// the vm program has access to the entity data to filter.
					output, err := expr.Run(filter, entityMap)
					if err != nil {
						return nil, eris.Wrap(err, "failed to run filter expression")
					}

					// expr.Compile can't fully check the result type without the environment,
					// e.g. for Health.Value > 200 the type of Health.Value is only known here.
					isMatchFilter, ok := output.(bool)
					if !ok {
						return nil, eris.New("invalid where clause")
					}
					if !isMatchFilter {
						continue
					}
				}

				results = append(results, entityMap)
				if params.Limit > 0 && len(results) == params.Limit {
					return results, nil
				}
			}
		}
	}

	return results, nil
}

// searchArchetypes returns the archetypes that match the given components and match type.
func (w *World) searchArchetypes(compNames []string, match SearchMatch) ([]*archetype, error) {
	components := bitmap.Bitmap{}
	for _, name := range compNames {
		id, exists := registry.lookupName(name)
		if !exists {
			return nil, eris.Errorf("component %s not registered", name)
		}
		components.Set(id)
	}

	switch match {
	case MatchExact:
		return w.state.archetypesMatching(0, components, &exactFilter{components: components}), nil
	case MatchContains:
		return w.state.archetypesMatching(0, components, nil), nil
	}
	return nil, nil
}

// entityToMap converts an entity to a map of its components. A "_id" key is added to the map
// to store the entity ID.
func entityToMap(eid EntityID, arch *archetype, ch *chunk, row int) map[string]any {
	data := make(map[string]any, len(arch.ids)+1)

	// Stored as a plain integer so expressions like `_id == 3` compare without conversion.
	data["_id"] = uint64(eid)

	for i, info := range arch.infos {
		data[info.name] = ch.columns[i].getAbstract(row)
	}

	return data
}
