package runtime

import (
	"sync"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// Mutex is a controlled mutual-exclusion lock. Contention is expressed as
// a scheduler wait condition, so lock-ordering bugs surface as scheduler
// deadlocks instead of hanging the process.
type Mutex struct {
	r      *Runtime
	holder *operation.Operation
}

// NewMutex creates a controlled mutex bound to the active runtime.
func NewMutex() *Mutex {
	return &Mutex{r: get()}
}

// Lock acquires the mutex, blocking while another operation holds it.
// While held, the owner is marked synchronized so strategies can tell
// critical sections apart.
func (m *Mutex) Lock() {
	r := m.r
	r.waitUntil(operation.TypeAcquire, operation.StatusBlockedOnResource, func() bool {
		return m.holder == nil
	})
	r.mu.Lock()
	m.holder = r.current
	m.holder.Scope = operation.ScopeSynchronized
	r.mu.Unlock()
}

// Unlock releases the mutex. Unlocking a mutex the calling operation does
// not hold is a bug in the program under test.
func (m *Mutex) Unlock() {
	r := m.r
	r.mu.Lock()
	if m.holder == nil || m.holder != r.current {
		r.mu.Unlock()
		panic("mycroft: unlock of a mutex not held by the calling operation")
	}
	m.holder.Scope = operation.ScopeDefault
	m.holder = nil
	r.mu.Unlock()
	r.interleave(operation.TypeRelease, false)
}

// controlledMutex resolves the controlled counterpart of a real
// sync.Mutex, creating it on first use.
func (r *Runtime) controlledMutex(mu *sync.Mutex) *Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[mu]
	if !ok {
		m = &Mutex{r: r}
		r.locks[mu] = m
	}
	return m
}

// MutexLock locks a real sync.Mutex through its controlled counterpart.
// The real mutex is never locked; exclusion is enforced by the scheduler.
func MutexLock(mu *sync.Mutex) {
	r := get()
	r.controlledMutex(mu).Lock()
}

// MutexUnlock unlocks a real sync.Mutex through its controlled
// counterpart.
func MutexUnlock(mu *sync.Mutex) {
	r := get()
	r.controlledMutex(mu).Unlock()
}
