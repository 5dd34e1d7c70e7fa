package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

func TestPCTDeterminism(t *testing.T) {
	mkOps := func() []*operation.Operation {
		return []*operation.Operation{
			enabledOp(0, "main"),
			ownerOp(1, "task", 0),
		}
	}

	s1 := NewPCTStrategy(0, 3, 42)
	s2 := NewPCTStrategy(0, 3, 42)
	ops1, ops2 := mkOps(), mkOps()

	for i := 0; i < 30; i++ {
		n1, ok1 := s1.GetNextOperation(ops1, nil, false)
		n2, ok2 := s2.GetNextOperation(ops2, nil, false)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, n1.ID, n2.ID, "step %d diverged", i)
	}
}

func TestPCTDeadlockDetection(t *testing.T) {
	s := NewPCTStrategy(0, 3, 1)
	op := enabledOp(0, "main")
	op.Status = operation.StatusBlockedOnReceive

	next, ok := s.GetNextOperation([]*operation.Operation{op}, nil, false)
	assert.False(t, ok)
	assert.Nil(t, next)
}

func TestPCTWinnerIsStableWithoutChangePoints(t *testing.T) {
	// Iteration 0 has no change points, so with no yields the same
	// highest-priority operation wins every step.
	s := NewPCTStrategy(0, 3, 7)
	ops := []*operation.Operation{
		enabledOp(0, "main"),
		ownerOp(1, "task", 0),
	}

	first, ok := s.GetNextOperation(ops, nil, false)
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		next, ok := s.GetNextOperation(ops, first, false)
		require.True(t, ok)
		assert.Same(t, first, next, "winner changed at step %d", i)
	}
}

func TestPCTYieldDemotesCurrentGroup(t *testing.T) {
	s := NewPCTStrategy(0, 3, 7)
	ops := []*operation.Operation{
		enabledOp(0, "main"),
		ownerOp(1, "task", 0),
	}

	cur, ok := s.GetNextOperation(ops, nil, false)
	require.True(t, ok)

	// Yielding hands the win to the other group, then back again.
	next, ok := s.GetNextOperation(ops, cur, true)
	require.True(t, ok)
	assert.NotSame(t, cur, next)

	back, ok := s.GetNextOperation(ops, next, true)
	require.True(t, ok)
	assert.Same(t, cur, back)
}

func TestPCTYieldWithSingleEnabledOperation(t *testing.T) {
	s := NewPCTStrategy(0, 3, 7)
	op := enabledOp(0, "main")

	// A yield with nothing else enabled reschedules the yielder.
	first, ok := s.GetNextOperation([]*operation.Operation{op}, nil, false)
	require.True(t, ok)
	next, ok := s.GetNextOperation([]*operation.Operation{op}, first, true)
	require.True(t, ok)
	assert.Same(t, first, next)
}

func TestPCTChangePointsDrawnFromObservedLength(t *testing.T) {
	s := NewPCTStrategy(0, 2, 3)
	ops := []*operation.Operation{
		enabledOp(0, "main"),
		ownerOp(1, "task", 0),
	}

	assert.True(t, s.InitializeNextIteration(0))
	assert.Equal(t, 0, s.changePoints.Cardinality(), "first iteration has no change points")

	steps := 12
	for i := 0; i < steps; i++ {
		_, ok := s.GetNextOperation(ops, nil, false)
		require.True(t, ok)
	}

	require.True(t, s.InitializeNextIteration(1))
	assert.Equal(t, 0, s.StepCount())

	// d-1 change points inside the observed schedule length
	assert.Equal(t, 1, s.changePoints.Cardinality())
	for _, p := range s.changePoints.ToSlice() {
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, steps)
	}
}

func TestPCTDepthOneNeverChangesPriorities(t *testing.T) {
	s := NewPCTStrategy(0, 1, 3)
	ops := []*operation.Operation{
		enabledOp(0, "main"),
		ownerOp(1, "task", 0),
	}

	for i := 0; i < 10; i++ {
		_, ok := s.GetNextOperation(ops, nil, false)
		require.True(t, ok)
	}
	require.True(t, s.InitializeNextIteration(1))
	assert.Equal(t, 0, s.changePoints.Cardinality(), "d=1 samples no change points")
}

func TestPCTStepCountingAcrossChoiceKinds(t *testing.T) {
	s := NewPCTStrategy(5, 3, 1)
	ops := []*operation.Operation{enabledOp(0, "main")}

	s.GetNextOperation(ops, nil, false)
	s.GetNextBooleanChoice(nil, 2)
	s.GetNextIntegerChoice(nil, 4)
	assert.Equal(t, 3, s.StepCount())
	assert.False(t, s.IsMaxStepsReached())

	s.GetNextBooleanChoice(nil, 2)
	s.GetNextBooleanChoice(nil, 2)
	assert.True(t, s.IsMaxStepsReached())
}

func TestPCTResetReproducesSchedule(t *testing.T) {
	mkOps := func() []*operation.Operation {
		return []*operation.Operation{
			enabledOp(0, "main"),
			ownerOp(1, "task", 0),
		}
	}

	s := NewPCTStrategy(0, 3, 99)
	ops := mkOps()
	var first []uint64
	for i := 0; i < 15; i++ {
		n, _ := s.GetNextOperation(ops, nil, false)
		first = append(first, n.ID)
	}

	s.Reset()
	ops = mkOps()
	for i := 0; i < 15; i++ {
		n, _ := s.GetNextOperation(ops, nil, false)
		assert.Equal(t, first[i], n.ID, "step %d after Reset diverged", i)
	}
}

func TestPCTMetadata(t *testing.T) {
	s := NewPCTStrategy(0, 3, 42)
	assert.False(t, s.IsFair())
	assert.Equal(t, "pct[seed '42']", s.Description())
}
