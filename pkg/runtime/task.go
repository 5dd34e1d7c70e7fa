package runtime

import (
	"github.com/amirkhaki/mycroft/pkg/operation"
)

// Task is a unit of structured concurrency: its operations form a group
// that the strategy schedules as one chain. The zero value is not usable;
// create tasks with SpawnTask.
type Task struct {
	r       *Runtime
	owner   *operation.Operation
	groupID int64
	done    bool
	// completer is the operation that finished the task body. Awaiters
	// resume as its continuations.
	completer *operation.Operation
}

// spawnTask starts a task whose root operation owns a fresh group.
func (r *Runtime) spawnTask(name string, f func()) *Task {
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		panic(errIterationStop)
	}
	self := r.current
	self.Type = operation.TypeCreate

	t := &Task{r: r, groupID: r.nextGroupID}
	r.nextGroupID++

	op := r.newOperationLocked(name, self)
	op.Type = operation.TypeStart
	op.GroupID = t.groupID
	op.IsGroupOwner = true
	t.owner = op

	r.wg.Add(1)
	go r.runOperation(op, func() {
		f()
		r.mu.Lock()
		t.done = true
		t.completer = r.current
		r.mu.Unlock()
	})
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	r.park(self)
	return t
}

// Done reports whether the task body has finished.
func (t *Task) Done() bool {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	return t.done
}

// Await blocks until the task completes. If the caller had to wait, it
// resumes as a continuation of the operation that completed the task, and
// the group scheduler of the PCT strategies moves it into that operation's
// group at the next scheduling point. An operation that owns the group it
// is in stays pinned there.
func (t *Task) Await() {
	r := t.r
	self := r.currentOp()
	r.mu.Lock()
	blocked := !t.done
	r.mu.Unlock()

	r.waitUntil(operation.TypeJoin, operation.StatusBlockedOnWaitAll, func() bool {
		return t.done
	})

	if blocked {
		r.mu.Lock()
		if t.completer != nil {
			self.Parent = t.completer
			self.LastMoveNextHandled = false
		}
		r.mu.Unlock()
	}
}

// waitTasks blocks until the predicate over the given tasks holds.
func (r *Runtime) waitTasks(status operation.Status, tasks []*Task, pred func() bool) {
	r.waitUntil(operation.TypeJoin, status, pred)
}

// WaitAll blocks until every given task has completed.
func (r *Runtime) waitAll(tasks []*Task) {
	r.waitTasks(operation.StatusBlockedOnWaitAll, tasks, func() bool {
		for _, t := range tasks {
			if !t.done {
				return false
			}
		}
		return true
	})
}

// WaitAny blocks until at least one of the given tasks has completed.
func (r *Runtime) waitAny(tasks []*Task) {
	r.waitTasks(operation.StatusBlockedOnWaitAny, tasks, func() bool {
		for _, t := range tasks {
			if t.done {
				return true
			}
		}
		return false
	})
}

// ContinueWith schedules f to run after the task completes. The
// continuation starts inside the task's group and remigrates into the
// completing operation's group once it first runs.
func (t *Task) ContinueWith(name string, f func()) {
	r := t.r
	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		panic(errIterationStop)
	}
	self := r.current
	self.Type = operation.TypeCreate

	op := r.newOperationLocked(name, self)
	op.Type = operation.TypeStart
	op.GroupID = t.groupID
	op.IsContinuation = true
	op.LastMoveNextHandled = false
	if t.done {
		op.Parent = t.completer
	} else {
		op.Parent = t.owner
		op.Status = operation.StatusBlockedOnWaitAll
		r.ready[op.ID] = func() bool {
			if !t.done {
				return false
			}
			op.Parent = t.completer
			op.LastMoveNextHandled = false
			return true
		}
	}
	r.wg.Add(1)
	go r.runOperation(op, f)
	r.scheduleNextLocked(false)
	r.mu.Unlock()
	r.park(self)
}
