package strategy

import (
	"fmt"

	"github.com/amirkhaki/mycroft/pkg/operation"
	"github.com/amirkhaki/mycroft/pkg/trace"
)

// ReplayStrategy replays a recorded schedule decision by decision. The
// program under test must be deterministic modulo scheduling; divergence
// from the recorded schedule is fatal because it means the program
// changed since the schedule was recorded.
type ReplayStrategy struct {
	schedule  *trace.Schedule
	idx       int
	stepCount int
}

// NewReplayStrategy creates a strategy that reproduces the given
// schedule.
func NewReplayStrategy(s *trace.Schedule) *ReplayStrategy {
	return &ReplayStrategy{schedule: s}
}

// InitializeNextIteration rewinds to the start of the schedule. Only one
// meaningful iteration exists; subsequent ones report false.
func (s *ReplayStrategy) InitializeNextIteration(iteration uint64) bool {
	s.idx = 0
	s.stepCount = 0
	return iteration == 0
}

func (s *ReplayStrategy) next(kind trace.Kind) trace.Decision {
	if s.idx >= len(s.schedule.Decisions) {
		panic(fmt.Sprintf("replay: schedule exhausted at step %d", s.stepCount))
	}
	d := s.schedule.Decisions[s.idx]
	if d.Kind != kind {
		panic(fmt.Sprintf("replay: schedule diverged at step %d: recorded %s, program asked for %s", s.stepCount, d.Kind, kind))
	}
	s.idx++
	return d
}

// GetNextOperation resumes the operation the recorded schedule resumed at
// this step.
func (s *ReplayStrategy) GetNextOperation(ops []*operation.Operation, current *operation.Operation, isYielding bool) (*operation.Operation, bool) {
	if len(enabledOps(ops)) == 0 {
		return nil, false
	}
	d := s.next(trace.KindSchedule)
	for _, op := range ops {
		if op.ID == d.OpID {
			if op.Status != operation.StatusEnabled {
				panic(fmt.Sprintf("replay: schedule diverged at step %d: recorded operation %s is %s", s.stepCount, op, op.Status))
			}
			s.stepCount++
			return op, true
		}
	}
	panic(fmt.Sprintf("replay: schedule diverged at step %d: recorded operation %d does not exist", s.stepCount, d.OpID))
}

func (s *ReplayStrategy) GetNextBooleanChoice(current *operation.Operation, maxValue int) bool {
	d := s.next(trace.KindBool)
	s.stepCount++
	return d.Value != 0
}

func (s *ReplayStrategy) GetNextIntegerChoice(current *operation.Operation, maxValue int) int {
	d := s.next(trace.KindInt)
	s.stepCount++
	return int(d.Value)
}

func (s *ReplayStrategy) StepCount() int {
	return s.stepCount
}

func (s *ReplayStrategy) IsMaxStepsReached() bool {
	return s.idx >= len(s.schedule.Decisions)
}

func (s *ReplayStrategy) IsFair() bool {
	return false
}

func (s *ReplayStrategy) Description() string {
	return fmt.Sprintf("replay[run '%s']", s.schedule.Header.RunID)
}

func (s *ReplayStrategy) Reset() {
	s.idx = 0
	s.stepCount = 0
}
