package strategy

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// PCTCPStrategy is PCT with priority-change points anchored at
// synchronization events. During each iteration it records the step
// indices at which a send, receive, join, yield, or create operation was
// scheduled; the next iteration demotes priorities at up to d-1 of those
// indices instead of uniformly-random ones. This concentrates priority
// reversals at communication boundaries, which pays off on
// message-passing programs.
type PCTCPStrategy struct {
	pctCore
	syncSteps []int
}

// NewPCTCPStrategy creates a PCT-CP strategy with the same parameters as
// PCT.
func NewPCTCPStrategy(maxSteps, switchPoints int, seed int64) *PCTCPStrategy {
	return &PCTCPStrategy{pctCore: newPCTCore(maxSteps, switchPoints, seed)}
}

// InitializeNextIteration clears the per-iteration state and samples the
// next change-point set from the synchronization steps of the iteration
// that just ended.
func (s *PCTCPStrategy) InitializeNextIteration(iteration uint64) bool {
	if iteration > 0 && s.stepCount > s.scheduleLength {
		s.scheduleLength = s.stepCount
	}
	s.changePoints = mapset.NewSet[int]()
	if iteration > 0 {
		for _, i := range fisherYatesSample(s.rng, len(s.syncSteps), s.switchPoints-1) {
			s.changePoints.Add(s.syncSteps[i])
		}
	}
	s.syncSteps = nil
	s.stepCount = 0
	s.sched.reset()
	return true
}

func (s *PCTCPStrategy) GetNextOperation(ops []*operation.Operation, current *operation.Operation, isYielding bool) (*operation.Operation, bool) {
	next, ok := s.getNextOperation(ops, current, isYielding)
	if ok && next.Type.IsSynchronizing() {
		s.syncSteps = append(s.syncSteps, s.stepCount-1)
	}
	return next, ok
}

func (s *PCTCPStrategy) GetNextBooleanChoice(current *operation.Operation, maxValue int) bool {
	return s.getNextBooleanChoice(maxValue)
}

func (s *PCTCPStrategy) GetNextIntegerChoice(current *operation.Operation, maxValue int) int {
	return s.getNextIntegerChoice(maxValue)
}

func (s *PCTCPStrategy) Description() string {
	return fmt.Sprintf("pctcp[seed '%d']", s.seed)
}

func (s *PCTCPStrategy) Reset() {
	s.reset()
	s.syncSteps = nil
}
