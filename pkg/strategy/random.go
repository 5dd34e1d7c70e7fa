package strategy

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// RandomStrategy picks uniformly at random among the enabled operations at
// every scheduling point. It is the only fair strategy in this package:
// every enabled operation has positive probability at every step.
type RandomStrategy struct {
	maxSteps  int
	seed      int64
	rng       *rand.Rand
	stepCount int
}

// NewRandomStrategy creates a uniform-random strategy. seed controls the
// schedule (use the same seed for reproducibility); maxSteps of zero means
// unlimited.
func NewRandomStrategy(maxSteps int, seed int64) *RandomStrategy {
	return &RandomStrategy{
		maxSteps: maxSteps,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// InitializeNextIteration resets the step counter. The random source is
// deliberately carried across iterations so that successive iterations
// explore different schedules from one seed.
func (s *RandomStrategy) InitializeNextIteration(iteration uint64) bool {
	s.stepCount = 0
	return true
}

// GetNextOperation picks uniformly among the enabled candidates.
func (s *RandomStrategy) GetNextOperation(ops []*operation.Operation, current *operation.Operation, isYielding bool) (*operation.Operation, bool) {
	enabled := enabledOps(ops)
	if len(enabled) == 0 {
		return nil, false
	}
	next := enabled[s.rng.Intn(len(enabled))]
	s.stepCount++
	logger.Debug("random: scheduled operation",
		zap.Uint64("op", next.ID),
		zap.Int("step", s.stepCount),
		zap.Int("enabled", len(enabled)))
	return next, true
}

// GetNextBooleanChoice returns true with probability 1/maxValue.
func (s *RandomStrategy) GetNextBooleanChoice(current *operation.Operation, maxValue int) bool {
	s.stepCount++
	return s.rng.Intn(maxValue) == 0
}

// GetNextIntegerChoice returns a value in [0, maxValue).
func (s *RandomStrategy) GetNextIntegerChoice(current *operation.Operation, maxValue int) int {
	s.stepCount++
	return s.rng.Intn(maxValue)
}

func (s *RandomStrategy) StepCount() int {
	return s.stepCount
}

func (s *RandomStrategy) IsMaxStepsReached() bool {
	return s.maxSteps > 0 && s.stepCount >= s.maxSteps
}

func (s *RandomStrategy) IsFair() bool {
	return true
}

func (s *RandomStrategy) Description() string {
	return fmt.Sprintf("random[seed '%d']", s.seed)
}

// Reset restores the pristine state, reseeding the random source.
func (s *RandomStrategy) Reset() {
	s.rng = rand.New(rand.NewSource(s.seed))
	s.stepCount = 0
}
