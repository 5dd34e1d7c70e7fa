package runtime

import (
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/goid"
	"github.com/amirkhaki/mycroft/pkg/operation"
	"github.com/amirkhaki/mycroft/pkg/strategy"
	"github.com/amirkhaki/mycroft/pkg/trace"
)

// errIterationStop unwinds an operation's goroutine when the iteration is
// aborted (deadlock, exhausted step budget, or a bug elsewhere).
var errIterationStop = new(int)

// Failure describes a bug surfaced by an operation of the program under
// test.
type Failure struct {
	Op    string
	Value any
	Stack []byte
}

func (f *Failure) Error() string {
	return fmt.Sprintf("operation %s panicked: %v", f.Op, f.Value)
}

// chanState tracks how many operations are committed to either side of a
// real (uncontrolled) channel, so the scheduler can tell when a send or
// receive on it would make progress.
type chanState struct {
	externalSenders  int
	waitingReceivers int
}

// Runtime serializes the goroutines of one exploration iteration so that
// exactly one advances between two strategy calls, and performs all
// status and group bookkeeping the strategies depend on.
type Runtime struct {
	mu       sync.Mutex
	strategy strategy.Strategy
	logger   *zap.Logger
	recorder *trace.Schedule

	ops    map[uint64]*operation.Operation
	order  []*operation.Operation
	resume map[uint64]chan struct{}
	ready  map[uint64]func() bool
	chans  map[uintptr]*chanState
	locks  map[*sync.Mutex]*Mutex

	current     *operation.Operation
	nextOpID    uint64
	nextGroupID int64

	// externals counts operations blocked inside a real channel
	// operation, outside the serialized world.
	externals       int
	pendingSchedule bool

	abort       chan struct{}
	aborted     bool
	failure     *Failure
	deadlock    bool
	maxStepsHit bool

	// callerRoot is set when the root operation runs on the caller's own
	// goroutine (instrumented binaries). That goroutine cannot be
	// unwound by a panic, so aborts terminate the process instead.
	callerRoot   *operation.Operation
	scheduleFile string

	wg sync.WaitGroup
}

func newRuntime(strat strategy.Strategy, logger *zap.Logger, recorder *trace.Schedule) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		strategy: strat,
		logger:   logger,
		recorder: recorder,
		ops:      make(map[uint64]*operation.Operation),
		resume:   make(map[uint64]chan struct{}),
		ready:    make(map[uint64]func() bool),
		chans:    make(map[uintptr]*chanState),
		locks:    make(map[*sync.Mutex]*Mutex),
		abort:    make(chan struct{}),
	}
}

func (r *Runtime) newOperationLocked(name string, parent *operation.Operation) *operation.Operation {
	op := operation.New(r.nextOpID, name)
	r.nextOpID++
	op.Parent = parent
	op.Status = operation.StatusEnabled
	r.ops[op.ID] = op
	r.order = append(r.order, op)
	r.resume[op.ID] = make(chan struct{}, 1)
	return op
}

// currentOp resolves the operation bound to the calling goroutine.
func (r *Runtime) currentOp() *operation.Operation {
	r.mu.Lock()
	op, ok := r.ops[goid.Get()]
	r.mu.Unlock()
	if !ok {
		panic("mycroft: goroutine is not managed by the controlled runtime")
	}
	return op
}

// scheduleNextLocked is the single scheduling-point implementation: it
// wakes blocked operations whose wait condition now holds, asks the
// strategy for the next operation, and transfers control to it.
func (r *Runtime) scheduleNextLocked(yielding bool) {
	if r.aborted {
		return
	}

	for id, pred := range r.ready {
		if pred() {
			r.ops[id].Status = operation.StatusEnabled
			delete(r.ready, id)
		}
	}

	var candidates []*operation.Operation
	for _, op := range r.order {
		if op.Status != operation.StatusCompleted {
			candidates = append(candidates, op)
		}
	}
	if len(candidates) == 0 {
		return
	}

	if r.strategy.IsMaxStepsReached() {
		r.logger.Debug("iteration reached its step budget",
			zap.Int("steps", r.strategy.StepCount()))
		r.maxStepsHit = true
		r.stopLocked()
		return
	}

	next, ok := r.strategy.GetNextOperation(candidates, r.current, yielding)
	if !ok {
		if r.externals > 0 {
			// Progress is pending outside the serialized world;
			// reschedule once an external operation re-enters.
			r.pendingSchedule = true
			return
		}
		r.logger.Debug("deadlock: no operation is enabled",
			zap.Int("live", len(candidates)))
		r.deadlock = true
		r.stopLocked()
		return
	}

	if r.recorder != nil {
		r.recorder.Append(trace.Decision{
			Step: r.strategy.StepCount() - 1,
			Kind: trace.KindSchedule,
			OpID: next.ID,
			Op:   next.String(),
		})
	}
	r.current = next
	r.resume[next.ID] <- struct{}{}
}

func (r *Runtime) stopLocked() {
	if r.aborted {
		return
	}
	r.aborted = true
	close(r.abort)
}

// park blocks the calling operation until it is scheduled again.
func (r *Runtime) park(op *operation.Operation) {
	r.mu.Lock()
	ch := r.resume[op.ID]
	r.mu.Unlock()
	select {
	case <-ch:
	case <-r.abort:
		r.stopOperation(op)
	}
	r.mu.Lock()
	stopped := r.aborted
	r.mu.Unlock()
	if stopped {
		r.stopOperation(op)
	}
}

// stopOperation unwinds the calling operation after an abort. The caller
// root cannot unwind, so it reports the abort cause and exits.
func (r *Runtime) stopOperation(op *operation.Operation) {
	r.mu.Lock()
	isCallerRoot := op == r.callerRoot && r.callerRoot != nil
	r.mu.Unlock()
	if isCallerRoot {
		r.reportAndExit()
	}
	panic(errIterationStop)
}

// interleave is a plain scheduling point: the current operation stays
// enabled and control may move to any enabled operation, itself included.
func (r *Runtime) interleave(typ operation.Type, yielding bool) {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		panic(errIterationStop)
	}
	self := r.current
	self.Type = typ
	r.scheduleNextLocked(yielding)
	r.mu.Unlock()
	r.park(self)
}

// waitUntil is a scheduling point at which the current operation may also
// have to wait for a condition. The condition is re-checked every time
// the operation is scheduled, because another operation can invalidate it
// between wake-up and selection.
func (r *Runtime) waitUntil(typ operation.Type, status operation.Status, pred func() bool) {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		panic(errIterationStop)
	}
	self := r.current
	self.Type = typ
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	r.park(self)

	r.mu.Lock()
	for !pred() {
		self.Status = status
		r.ready[self.ID] = pred
		r.scheduleNextLocked(false)
		r.mu.Unlock()
		r.park(self)
		r.mu.Lock()
	}
	r.mu.Unlock()
}

// beginExternal hands the scheduling token away before the calling
// operation blocks in a real channel operation.
func (r *Runtime) beginExternal(typ operation.Type, status operation.Status) *operation.Operation {
	r.mu.Lock()
	self := r.current
	self.Type = typ
	self.Status = status
	r.externals++
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	return self
}

// endExternal re-enters the serialized world after a real channel
// operation completed, and waits to be scheduled.
func (r *Runtime) endExternal(self *operation.Operation) {
	r.mu.Lock()
	r.externals--
	self.Status = operation.StatusEnabled
	if r.pendingSchedule {
		r.pendingSchedule = false
		r.scheduleNextLocked(false)
	}
	r.mu.Unlock()
	r.park(self)
}

func (r *Runtime) chanStateLocked(key uintptr) *chanState {
	st, ok := r.chans[key]
	if !ok {
		st = new(chanState)
		r.chans[key] = st
	}
	return st
}

// runOperation is the lifecycle wrapper of every controlled goroutine.
func (r *Runtime) runOperation(op *operation.Operation, body func()) {
	defer r.wg.Done()
	goid.Assign(op.ID)
	defer goid.Delete()
	defer func() {
		p := recover()
		if p == nil || p == errIterationStop {
			return
		}
		r.mu.Lock()
		if r.failure == nil {
			r.failure = &Failure{Op: op.String(), Value: p, Stack: debug.Stack()}
			r.logger.Debug("operation failed",
				zap.String("op", op.String()),
				zap.Any("value", p))
		}
		r.stopLocked()
		r.mu.Unlock()
	}()

	r.park(op)
	body()
	r.complete(op)
}

// complete marks the calling operation finished and hands control to the
// next one. The goroutine ends afterwards, so it does not park.
func (r *Runtime) complete(op *operation.Operation) {
	r.mu.Lock()
	op.Status = operation.StatusCompleted
	op.Type = operation.TypeComplete
	if !r.aborted {
		r.scheduleNextLocked(false)
	}
	r.mu.Unlock()
}

// runIteration executes one iteration: the body becomes the root
// operation, and the call returns when every controlled goroutine has
// finished or the iteration was aborted.
func (r *Runtime) runIteration(body func()) {
	goid.Reset()
	r.mu.Lock()
	root := r.newOperationLocked("main", nil)
	root.Type = operation.TypeStart
	r.wg.Add(1)
	go r.runOperation(root, body)
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	r.wg.Wait()
}
