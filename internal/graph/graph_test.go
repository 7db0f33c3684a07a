package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexOf returns the position of name in order, or -1.
func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

// assertValidOrder checks the topological contract: every dependency
// precedes its dependent.
func assertValidOrder(t *testing.T, order []string, deps map[string][]string) {
	t.Helper()
	for entity, dl := range deps {
		for _, d := range dl {
			di, ei := indexOf(order, d), indexOf(order, entity)
			require.GreaterOrEqual(t, di, 0, "dependency %s missing from order", d)
			require.GreaterOrEqual(t, ei, 0, "entity %s missing from order", entity)
			assert.Less(t, di, ei, "%s must precede %s in %v", d, entity, order)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		order, err := Resolve(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, order)
	})

	t.Run("single root with no dependencies", func(t *testing.T) {
		order, err := Resolve([]string{"users"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"users"}, order)
	})

	t.Run("chain", func(t *testing.T) {
		deps := map[string][]string{
			"orders":   {"users"},
			"invoices": {"orders"},
		}
		order, err := Resolve([]string{"invoices", "orders", "users"}, deps)
		require.NoError(t, err)
		assert.Equal(t, []string{"users", "orders", "invoices"}, order)
	})

	t.Run("diamond", func(t *testing.T) {
		deps := map[string][]string{
			"reports":  {"orders", "payments"},
			"orders":   {"users"},
			"payments": {"users"},
		}
		order, err := Resolve([]string{"reports", "orders", "payments", "users"}, deps)
		require.NoError(t, err)
		require.Len(t, order, 4)
		assertValidOrder(t, order, deps)
	})

	t.Run("roots appear before all dependents", func(t *testing.T) {
		deps := map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		}
		order, err := Resolve([]string{"d", "c", "b", "a"}, deps)
		require.NoError(t, err)
		assert.Equal(t, "a", order[0])
		assertValidOrder(t, order, deps)
	})

	t.Run("two node cycle", func(t *testing.T) {
		deps := map[string][]string{
			"A": {"B"},
			"B": {"A"},
		}
		order, err := Resolve([]string{"A", "B"}, deps)
		assert.Nil(t, order, "no partial result on cycle")
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Contains(t, []string{"A", "B"}, cycleErr.Entity)
	})

	t.Run("self cycle", func(t *testing.T) {
		_, err := Resolve([]string{"A"}, map[string][]string{"A": {"A"}})
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, "A", cycleErr.Entity)
	})

	t.Run("cycle reachable from acyclic prefix", func(t *testing.T) {
		deps := map[string][]string{
			"top": {"x"},
			"x":   {"y"},
			"y":   {"x"},
		}
		order, err := Resolve([]string{"top", "x", "y"}, deps)
		assert.Nil(t, order)
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		deps := map[string][]string{"orders": {"ghosts"}}
		_, err := Resolve([]string{"orders"}, deps)
		var unknownErr *UnknownDependencyError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "orders", unknownErr.Entity)
		assert.Equal(t, "ghosts", unknownErr.Dependency)
	})

	t.Run("unknown dependency reported before cycle", func(t *testing.T) {
		deps := map[string][]string{
			"A": {"B"},
			"B": {"A", "missing"},
		}
		_, err := Resolve([]string{"A", "B"}, deps)
		var unknownErr *UnknownDependencyError
		assert.ErrorAs(t, err, &unknownErr)
	})
}

func TestResolveRandomizedAcyclic(t *testing.T) {
	// Layered random DAGs: edges only point from later layers to
	// earlier ones, so the graph is acyclic by construction.
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(30)
		entities := make([]string, n)
		for i := range entities {
			entities[i] = fmt.Sprintf("e%d", i)
		}
		deps := make(map[string][]string)
		for i := 1; i < n; i++ {
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps[entities[i]] = append(deps[entities[i]], entities[j])
				}
			}
		}

		order, err := Resolve(entities, deps)
		require.NoError(t, err)
		require.Len(t, order, n)
		assertValidOrder(t, order, deps)
	}
}

func TestValidate(t *testing.T) {
	err := Validate([]string{"a", "b"}, map[string][]string{"a": {"b"}})
	assert.NoError(t, err)

	err = Validate([]string{"a"}, map[string][]string{"a": {"b"}})
	var unknownErr *UnknownDependencyError
	require.True(t, errors.As(err, &unknownErr))
}
