package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainGraph() *Graph {
	return NewGraph(map[Key][]Key{
		"a": {"b"},
		"b": {"c"},
		"x": {"y", "z"},
	})
}

func TestGraph_ExpandFollowsChains(t *testing.T) {
	g := chainGraph()

	got := g.Expand(NewSet("a"))

	assert.True(t, got.Equal(NewSet("a", "b", "c")), "got %v", got.Sorted())
}

func TestGraph_ExpandIsSupersetAndIdempotent(t *testing.T) {
	g := chainGraph()

	inputs := []Set{
		NewSet(),
		NewSet("a"),
		NewSet("b", "x"),
		NewSet("c", "unknown"),
		NewSet("a", "b", "c", "x", "y", "z"),
	}

	for _, in := range inputs {
		once := g.Expand(in)
		twice := g.Expand(once)

		for k := range in {
			assert.True(t, once.Has(k), "expand(%v) lost %s", in.Sorted(), k)
		}
		assert.True(t, once.Equal(twice), "expand not idempotent for %v", in.Sorted())
	}
}

func TestGraph_ExpandDoesNotMutateInput(t *testing.T) {
	g := chainGraph()
	in := NewSet("a")

	_ = g.Expand(in)

	assert.Equal(t, 1, len(in))
}

func TestGraph_ExpandTerminatesOnCycles(t *testing.T) {
	g := NewGraph(map[Key][]Key{
		"a": {"b"},
		"b": {"a", "c"},
	})

	got := g.Expand(NewSet("a"))

	assert.True(t, got.Equal(NewSet("a", "b", "c")))
}

func TestGraph_UnknownKeysImplyNothing(t *testing.T) {
	g := chainGraph()

	assert.Empty(t, g.Implies("not_in_catalog"))
	assert.True(t, g.Expand(NewSet("not_in_catalog")).Equal(NewSet("not_in_catalog")))
}

func TestGraph_NewGraphCopiesEdges(t *testing.T) {
	edges := map[Key][]Key{"a": {"b"}}
	g := NewGraph(edges)

	edges["a"][0] = "mutated"
	edges["q"] = []Key{"r"}

	assert.Equal(t, []Key{"b"}, g.Implies("a"))
	assert.Empty(t, g.Implies("q"))
}

func TestGraph_DependencyWarnings(t *testing.T) {
	g := chainGraph()

	warnings := g.DependencyWarnings(NewSet("a", "x", "y"))

	require.Len(t, warnings, 3)
	assert.Equal(t, DependencyWarning{Permission: "b", RequiredBy: []Key{"a"}}, warnings[0])
	assert.Equal(t, DependencyWarning{Permission: "c", RequiredBy: []Key{"a"}}, warnings[1])
	assert.Equal(t, DependencyWarning{Permission: "z", RequiredBy: []Key{"x"}}, warnings[2])
}

func TestGraph_DependencyWarningsSkipsSelected(t *testing.T) {
	g := chainGraph()

	warnings := g.DependencyWarnings(NewSet("a", "b", "c"))

	assert.Empty(t, warnings)
}

func TestGraph_DependencyWarningsMultipleSources(t *testing.T) {
	g := NewGraph(map[Key][]Key{
		"manage_forms": {"view_forms"},
		"export_forms": {"view_forms"},
	})

	warnings := g.DependencyWarnings(NewSet("manage_forms", "export_forms"))

	require.Len(t, warnings, 1)
	assert.Equal(t, Key("view_forms"), warnings[0].Permission)
	assert.Equal(t, []Key{"export_forms", "manage_forms"}, warnings[0].RequiredBy)
}

func TestGraph_HasCycle(t *testing.T) {
	_, cyclic := chainGraph().hasCycle()
	assert.False(t, cyclic)

	_, cyclic = NewGraph(map[Key][]Key{"a": {"b"}, "b": {"c"}, "c": {"a"}}).hasCycle()
	assert.True(t, cyclic)
}
