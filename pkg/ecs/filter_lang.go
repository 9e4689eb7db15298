package ecs

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/rotisserie/eris"
)

// Filter expressions combine the filter functions with & (and), | (or) and ! (not). & binds
// tighter than |, and parentheses group. Component names are the registered names.
//
// Example:
//
//	ALL(Position, Velocity) & !ANY(Frozen, Sleeping) | EXACT(Marker)

type filterExpr struct {
	Or []*filterAnd `parser:"@@ ( \"|\" @@ )*"`
}

type filterAnd struct {
	And []*filterUnary `parser:"@@ ( \"&\" @@ )*"`
}

type filterUnary struct {
	Not   *filterUnary `parser:"  \"!\" @@"`
	Group *filterExpr  `parser:"| \"(\" @@ \")\""`
	Call  *filterCall  `parser:"| @@"`
}

type filterCall struct {
	Op    string   `parser:"@( \"ALL\" | \"ANY\" | \"NONE\" | \"EXACT\" )"`
	Names []string `parser:"\"(\" ( @Ident ( \",\" @Ident )* )? \")\""`
}

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{ //nolint:gochecknoglobals // immutable grammar
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.\-]*`},
	{Name: "Punct", Pattern: `[!&|(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var filterParser = participle.MustBuild[filterExpr]( //nolint:gochecknoglobals // immutable grammar
	participle.Lexer(filterLexer),
	participle.Elide("Whitespace"),
)

// ParseFilter compiles a filter expression. Component names that are not registered yet produce
// ErrInvalidFilter, so the component types must be registered first.
func ParseFilter(src string) (Filter, error) {
	ast, err := filterParser.ParseString("", src)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidFilter, "%q: %s", src, err.Error())
	}
	filter, err := ast.compile()
	if err != nil {
		return nil, eris.Wrapf(err, "%q", src)
	}
	return filter, nil
}

func (e *filterExpr) compile() (Filter, error) {
	filters := make([]Filter, 0, len(e.Or))
	for _, and := range e.Or {
		f, err := and.compile()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return Or(filters...), nil
}

func (e *filterAnd) compile() (Filter, error) {
	filters := make([]Filter, 0, len(e.And))
	for _, unary := range e.And {
		f, err := unary.compile()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return Multi(filters...), nil
}

func (e *filterUnary) compile() (Filter, error) {
	switch {
	case e.Not != nil:
		f, err := e.Not.compile()
		if err != nil {
			return nil, err
		}
		return Not(f), nil
	case e.Group != nil:
		return e.Group.compile()
	case e.Call != nil:
		return e.Call.compile()
	default:
		return nil, eris.Wrap(ErrInvalidFilter, "empty expression")
	}
}

func (e *filterCall) compile() (Filter, error) {
	types := make([]ComponentType, len(e.Names))
	for i, name := range e.Names {
		t, ok := LookupComponent(name)
		if !ok {
			return nil, eris.Wrapf(ErrInvalidFilter, "unknown component %q", name)
		}
		types[i] = t
	}
	switch e.Op {
	case "ALL":
		return All(types...), nil
	case "ANY":
		return Any(types...), nil
	case "NONE":
		return None(types...), nil
	case "EXACT":
		return Exact(types...), nil
	default:
		return nil, eris.Wrapf(ErrInvalidFilter, "unknown operator %q", e.Op)
	}
}
