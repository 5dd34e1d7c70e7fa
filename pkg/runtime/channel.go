package runtime

import (
	"reflect"

	"github.com/amirkhaki/mycroft/pkg/operation"
)

// Chan is a controlled channel. Its blocking behavior is expressed as
// scheduler wait conditions, so every send/receive interleaving is
// reachable by the strategy. Capacity 0 behaves as capacity 1 because
// rendezvous is modeled as a one-slot buffer under serialized execution.
type Chan[T any] struct {
	r        *Runtime
	buf      []T
	capacity int
}

// NewChan creates a controlled channel bound to the active runtime.
func NewChan[T any](capacity int) *Chan[T] {
	r := get()
	if capacity < 1 {
		capacity = 1
	}
	return &Chan[T]{r: r, capacity: capacity}
}

// Send enqueues v, blocking while the channel is full.
func (c *Chan[T]) Send(v T) {
	r := c.r
	r.waitUntil(operation.TypeSend, operation.StatusBlockedOnResource, func() bool {
		return len(c.buf) < c.capacity
	})
	r.mu.Lock()
	c.buf = append(c.buf, v)
	r.mu.Unlock()
}

// Recv dequeues a value, blocking while the channel is empty.
func (c *Chan[T]) Recv() T {
	r := c.r
	r.waitUntil(operation.TypeReceive, operation.StatusBlockedOnReceive, func() bool {
		return len(c.buf) > 0
	})
	r.mu.Lock()
	v := c.buf[0]
	c.buf = c.buf[1:]
	r.mu.Unlock()
	return v
}

// Len reports the number of buffered values.
func (c *Chan[T]) Len() int {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return len(c.buf)
}

// chanKey collapses directional channel views onto one identity.
func chanKey(ch any) uintptr {
	return reflect.ValueOf(ch).Pointer()
}

// chanSend performs a send on a real Go channel under control. The
// operation is enabled once the send cannot block indefinitely: either
// buffer space exists or a controlled receiver is committed. The send
// itself happens outside the serialized world.
func chanSend[T any](r *Runtime, ch chan<- T, v T) {
	key := chanKey(ch)
	r.mu.Lock()
	st := r.chanStateLocked(key)
	r.mu.Unlock()

	r.waitUntil(operation.TypeSend, operation.StatusBlockedOnResource, func() bool {
		return len(ch) < cap(ch) || st.waitingReceivers > 0
	})

	// Commit as a sender before handing the token away, so the scheduling
	// point in beginExternal can already enable a waiting receiver.
	r.mu.Lock()
	st.externalSenders++
	r.mu.Unlock()
	self := r.beginExternal(operation.TypeSend, operation.StatusBlockedOnResource)

	ch <- v

	r.mu.Lock()
	st.externalSenders--
	if st.waitingReceivers > 0 {
		st.waitingReceivers--
	}
	r.mu.Unlock()
	r.endExternal(self)
}

// chanRecv performs a receive on a real Go channel under control,
// symmetric to chanSend.
func chanRecv[T any](r *Runtime, ch <-chan T) T {
	key := chanKey(ch)
	r.mu.Lock()
	st := r.chanStateLocked(key)
	st.waitingReceivers++
	r.mu.Unlock()

	r.waitUntil(operation.TypeReceive, operation.StatusBlockedOnReceive, func() bool {
		return len(ch) > 0 || st.externalSenders > 0
	})

	self := r.beginExternal(operation.TypeReceive, operation.StatusBlockedOnReceive)
	v := <-ch
	r.endExternal(self)
	return v
}

// ChanSend sends on a real Go channel through the active runtime.
func ChanSend[T any](ch chan<- T, v T) {
	chanSend(get(), ch, v)
}

// ChanRecv receives from a real Go channel through the active runtime.
func ChanRecv[T any](ch <-chan T) T {
	return chanRecv(get(), ch)
}
