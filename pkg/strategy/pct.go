package strategy

import (
	"fmt"
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// pctCore holds the machinery shared by the PCT strategies: the group
// scheduler, the change-point set, and the schedule-length bookkeeping
// that seeds the change-point draw.
type pctCore struct {
	maxSteps     int
	switchPoints int
	seed         int64
	rng          *rand.Rand

	stepCount      int
	scheduleLength int

	sched        *groupScheduler
	changePoints mapset.Set[int]
}

func newPCTCore(maxSteps, switchPoints int, seed int64) pctCore {
	rng := rand.New(rand.NewSource(seed))
	return pctCore{
		maxSteps:     maxSteps,
		switchPoints: switchPoints,
		seed:         seed,
		rng:          rng,
		sched:        newGroupScheduler(rng),
		changePoints: mapset.NewSet[int](),
	}
}

func (c *pctCore) getNextOperation(ops []*operation.Operation, current *operation.Operation, isYielding bool) (*operation.Operation, bool) {
	enabled := enabledOps(ops)
	if len(enabled) == 0 {
		return nil, false
	}
	c.sched.register(ops)

	if len(enabled) > 1 {
		if c.changePoints.Contains(c.stepCount) {
			c.sched.deprioritize(c.sched.highestEnabledGroup())
			logger.Debug("pct: priority change point", zap.Int("step", c.stepCount))
		} else if isYielding && current != nil {
			if g, ok := c.sched.groupOf(current); ok {
				c.sched.deprioritize(g)
			}
		}
	}

	next := c.sched.selectNext()
	c.stepCount++
	logger.Debug("pct: scheduled operation",
		zap.Uint64("op", next.ID),
		zap.Int("step", c.stepCount),
		zap.Int("enabled", len(enabled)))
	return next, true
}

func (c *pctCore) getNextBooleanChoice(maxValue int) bool {
	c.stepCount++
	return c.rng.Intn(maxValue) == 0
}

func (c *pctCore) getNextIntegerChoice(maxValue int) int {
	c.stepCount++
	return c.rng.Intn(maxValue)
}

func (c *pctCore) StepCount() int {
	return c.stepCount
}

func (c *pctCore) IsMaxStepsReached() bool {
	return c.maxSteps > 0 && c.stepCount >= c.maxSteps
}

func (c *pctCore) IsFair() bool {
	return false
}

func (c *pctCore) reset() {
	c.rng = rand.New(rand.NewSource(c.seed))
	c.sched = newGroupScheduler(c.rng)
	c.changePoints = mapset.NewSet[int]()
	c.stepCount = 0
	c.scheduleLength = 0
}

// PCTStrategy is a probabilistic priority-based scheduler over operation
// groups. Each logical task receives a random priority; at up to d-1
// random step indices the highest-priority runnable task is demoted. With
// n tasks and schedules of length k this finds any bug of depth d with
// probability at least 1/(n * k^(d-1)).
type PCTStrategy struct {
	pctCore
}

// NewPCTStrategy creates a PCT strategy. switchPoints is the bug-depth
// parameter d; a value of 1 disables priority changes entirely. maxSteps
// of zero means unlimited.
func NewPCTStrategy(maxSteps, switchPoints int, seed int64) *PCTStrategy {
	return &PCTStrategy{pctCore: newPCTCore(maxSteps, switchPoints, seed)}
}

// InitializeNextIteration clears the per-iteration state and, from the
// second iteration on, draws a fresh change-point set over the longest
// schedule observed so far.
func (s *PCTStrategy) InitializeNextIteration(iteration uint64) bool {
	if iteration > 0 && s.stepCount > s.scheduleLength {
		s.scheduleLength = s.stepCount
	}
	s.changePoints = mapset.NewSet[int]()
	if iteration > 0 {
		for _, idx := range fisherYatesSample(s.rng, s.scheduleLength, s.switchPoints-1) {
			s.changePoints.Add(idx)
		}
	}
	s.stepCount = 0
	s.sched.reset()
	return true
}

func (s *PCTStrategy) GetNextOperation(ops []*operation.Operation, current *operation.Operation, isYielding bool) (*operation.Operation, bool) {
	return s.getNextOperation(ops, current, isYielding)
}

func (s *PCTStrategy) GetNextBooleanChoice(current *operation.Operation, maxValue int) bool {
	return s.getNextBooleanChoice(maxValue)
}

func (s *PCTStrategy) GetNextIntegerChoice(current *operation.Operation, maxValue int) int {
	return s.getNextIntegerChoice(maxValue)
}

func (s *PCTStrategy) Description() string {
	return fmt.Sprintf("pct[seed '%d']", s.seed)
}

func (s *PCTStrategy) Reset() {
	s.reset()
}
