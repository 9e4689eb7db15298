package testutils

import "github.com/Refsa/pollus-sub003/pkg/assert"

// maxDepth is the number of values a single Gen iteration can draw.
const maxDepth = 32

// Gen enumerates every sequence of bounded values a test draws, one sequence per iteration of
//
//	for g := testutils.NewGen(); !g.Done(); {
//		op := g.Intn(3)
//		...
//	}
//
// It records each drawn value together with its bound. Done advances to the next sequence by
// incrementing the rightmost value still below its bound and forgetting every value after it, so
// later draws start over from zero. Enumeration ends when no value can be incremented.
//
// See: <https://matklad.github.io/2021/11/07/generate-all-the-things.html>
type Gen struct {
	started bool
	draws   [maxDepth]struct{ value, bound uint32 }
	pos     int // Index of the next draw in the current sequence
	depth   int // Number of draws recorded by the previous sequence
}

// NewGen creates a generator positioned before the first sequence.
func NewGen() *Gen {
	return &Gen{}
}

// Done moves to the next sequence and reports whether all of them have been visited.
func (g *Gen) Done() bool {
	if !g.started {
		g.started = true
		return false
	}
	for i := g.depth - 1; i >= 0; i-- {
		if g.draws[i].value < g.draws[i].bound {
			g.draws[i].value++
			g.depth = i + 1
			g.pos = 0
			return false
		}
	}
	return true
}

// Intn returns an int in range [0, bound] (inclusive).
func (g *Gen) Intn(bound int) int {
	assert.That(g.pos < maxDepth, "exhaustigen: more than %d draws in one sequence", maxDepth)
	if g.pos == g.depth {
		g.draws[g.pos].value = 0
		g.depth++
	}
	g.draws[g.pos].bound = uint32(bound) //nolint:gosec // bounds are small in tests
	v := g.draws[g.pos].value
	g.pos++
	return int(v)
}
