// Package goid maintains logical goroutine identities. The controlled
// runtime assigns a logical id to every goroutine it manages and looks the
// id up from instrumentation hooks, which receive no explicit handle.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	mu      sync.Mutex
	ids     = make(map[uint64]uint64)
	counter atomic.Uint64
)

// realID parses the current goroutine's runtime id from the stack header.
// The header has the form "goroutine 18 [running]:".
func realID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		panic("goid: cannot parse goroutine id: " + err.Error())
	}
	return id
}

// Gen allocates a fresh logical id.
func Gen() uint64 {
	return counter.Add(1)
}

// Assign binds the calling goroutine to the given logical id.
func Assign(id uint64) {
	rid := realID()
	mu.Lock()
	ids[rid] = id
	mu.Unlock()
}

// Get returns the logical id of the calling goroutine, assigning a fresh
// one if it has none yet.
func Get() uint64 {
	rid := realID()
	mu.Lock()
	id, ok := ids[rid]
	if !ok {
		id = Gen()
		ids[rid] = id
	}
	mu.Unlock()
	return id
}

// Delete removes the calling goroutine's binding.
func Delete() {
	rid := realID()
	mu.Lock()
	delete(ids, rid)
	mu.Unlock()
}

// Reset clears all bindings and restarts id generation. Used between
// exploration iterations so logical ids are stable across runs.
func Reset() {
	mu.Lock()
	ids = make(map[uint64]uint64)
	mu.Unlock()
	counter.Store(0)
}
