// Package strategy implements the systematic exploration strategies that
// decide, at every scheduling point, which enabled operation runs next and
// which nondeterministic choices are taken. Strategies are pure-in,
// pure-out: given the same seed and the same sequence of calls they
// reproduce the same schedule.
package strategy

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// Strategy decides the schedule of one exploration iteration at a time.
// Implementations own their state exclusively; the runtime serializes all
// calls.
type Strategy interface {
	// InitializeNextIteration resets per-iteration state. The return
	// value reports whether another iteration is meaningful.
	InitializeNextIteration(iteration uint64) bool

	// GetNextOperation selects the next operation to resume out of ops,
	// the complete set of live operations. It returns ok=false iff no
	// operation is enabled, which the runtime interprets as deadlock.
	GetNextOperation(ops []*operation.Operation, current *operation.Operation, isYielding bool) (*operation.Operation, bool)

	// GetNextBooleanChoice returns true with probability 1/maxValue.
	GetNextBooleanChoice(current *operation.Operation, maxValue int) bool

	// GetNextIntegerChoice returns a value in [0, maxValue).
	GetNextIntegerChoice(current *operation.Operation, maxValue int) int

	// StepCount reports the number of choices made this iteration.
	StepCount() int

	// IsMaxStepsReached reports whether the step budget is exhausted.
	// A budget of zero never exhausts.
	IsMaxStepsReached() bool

	// IsFair reports whether every enabled operation keeps a positive
	// probability of being scheduled at every step.
	IsFair() bool

	// Description returns a stable human-readable tag.
	Description() string

	// Reset restores the strategy to its freshly-constructed state,
	// including its random source.
	Reset()
}

var logger = zap.NewNop()

// SetLogger installs a logger for scheduling-decision tracing. Strategies
// log at Debug level only, so a nop or production logger costs nothing.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// enabledOps filters ops down to the schedulable ones.
func enabledOps(ops []*operation.Operation) []*operation.Operation {
	var enabled []*operation.Operation
	for _, op := range ops {
		if op.Status == operation.StatusEnabled {
			enabled = append(enabled, op)
		}
	}
	return enabled
}

// fisherYatesSample shuffles [0, n) and returns the first min(k, n)
// indices. k <= 0 yields an empty sample.
func fisherYatesSample(rng *rand.Rand, n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	if k < n {
		idx = idx[:k]
	}
	return idx
}
