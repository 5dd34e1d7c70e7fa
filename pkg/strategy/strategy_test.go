package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

func enabledOp(id uint64, name string) *operation.Operation {
	op := operation.New(id, name)
	op.Status = operation.StatusEnabled
	return op
}

func ownerOp(id uint64, name string, group int64) *operation.Operation {
	op := enabledOp(id, name)
	op.GroupID = group
	op.IsGroupOwner = true
	return op
}

func TestEnabledOpsFiltersBlocked(t *testing.T) {
	a := enabledOp(0, "a")
	b := enabledOp(1, "b")
	b.Status = operation.StatusBlockedOnReceive
	c := enabledOp(2, "c")
	c.Status = operation.StatusCompleted

	got := enabledOps([]*operation.Operation{a, b, c})
	require.Len(t, got, 1)
	assert.Same(t, a, got[0])
}

func TestFisherYatesSampleBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	assert.Nil(t, fisherYatesSample(rng, 0, 3))
	assert.Nil(t, fisherYatesSample(rng, 5, 0))
	assert.Nil(t, fisherYatesSample(rng, 5, -1))

	got := fisherYatesSample(rng, 10, 3)
	require.Len(t, got, 3)
	seen := make(map[int]bool)
	for _, v := range got {
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 10)
		assert.False(t, seen[v], "sample must not repeat indices")
		seen[v] = true
	}

	// Asking for more than n yields exactly n distinct indices
	got = fisherYatesSample(rng, 4, 100)
	assert.Len(t, got, 4)
}

func TestFisherYatesSampleDeterministic(t *testing.T) {
	a := fisherYatesSample(rand.New(rand.NewSource(11)), 20, 5)
	b := fisherYatesSample(rand.New(rand.NewSource(11)), 20, 5)
	assert.Equal(t, a, b)
}
