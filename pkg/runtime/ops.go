package runtime

import (
	"github.com/amirkhaki/mycroft/pkg/operation"
	"github.com/amirkhaki/mycroft/pkg/trace"
)

// spawn creates a plain goroutine operation. The spawn itself is a
// scheduling point of the creating operation.
func (r *Runtime) spawn(name string, f func()) {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		panic(errIterationStop)
	}
	self := r.current
	self.Type = operation.TypeCreate
	op := r.newOperationLocked(name, self)
	op.Type = operation.TypeStart
	r.wg.Add(1)
	go r.runOperation(op, f)
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	r.park(self)
}

// yield voluntarily relinquishes execution; the strategy may demote the
// yielding operation's group.
func (r *Runtime) yield() {
	r.interleave(operation.TypeYield, true)
}

// delay models a timer: a delay operation is created and the caller stays
// delayed until it has been scheduled and completed. The duration is
// irrelevant under controlled time.
func (r *Runtime) delay() {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		panic(errIterationStop)
	}
	self := r.current
	self.Type = operation.TypeDelay
	d := r.newOperationLocked("delay", self)
	d.Type = operation.TypeDelay
	d.IsDelay = true
	r.wg.Add(1)
	go r.runOperation(d, func() {})
	self.Status = operation.StatusDelayed
	r.ready[self.ID] = func() bool { return d.Status == operation.StatusCompleted }
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	r.park(self)
}

// nextBool draws a controlled boolean that is true with probability
// 1/maxValue.
func (r *Runtime) nextBool(maxValue int) bool {
	r.mu.Lock()
	v := r.strategy.GetNextBooleanChoice(r.current, maxValue)
	if r.recorder != nil {
		var iv int64
		if v {
			iv = 1
		}
		r.recorder.Append(trace.Decision{
			Step:  r.strategy.StepCount() - 1,
			Kind:  trace.KindBool,
			Value: iv,
		})
	}
	r.mu.Unlock()
	return v
}

// nextInt draws a controlled integer in [0, maxValue).
func (r *Runtime) nextInt(maxValue int) int {
	r.mu.Lock()
	v := r.strategy.GetNextIntegerChoice(r.current, maxValue)
	if r.recorder != nil {
		r.recorder.Append(trace.Decision{
			Step:  r.strategy.StepCount() - 1,
			Kind:  trace.KindInt,
			Value: int64(v),
		})
	}
	r.mu.Unlock()
	return v
}
