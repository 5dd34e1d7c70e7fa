package goid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignAndGet(t *testing.T) {
	Reset()
	Assign(42)
	assert.Equal(t, uint64(42), Get())
	Delete()
}

func TestGetAssignsFreshID(t *testing.T) {
	Reset()
	id := Get()
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, id, Get(), "repeated lookups return the same id")
	Delete()
}

func TestGenIsMonotonic(t *testing.T) {
	Reset()
	a := Gen()
	b := Gen()
	assert.Greater(t, b, a)
}

func TestDeleteUnbinds(t *testing.T) {
	Reset()
	Assign(5)
	require.Equal(t, uint64(5), Get())
	Delete()
	assert.NotEqual(t, uint64(5), Get(), "a deleted binding is not resurrected")
	Delete()
}

func TestResetRestartsGeneration(t *testing.T) {
	Reset()
	Gen()
	Gen()
	Reset()
	assert.Equal(t, uint64(1), Gen())
}

func TestDistinctGoroutinesGetDistinctIDs(t *testing.T) {
	Reset()
	mine := Get()

	var theirs uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		theirs = Get()
		Delete()
	}()
	wg.Wait()

	assert.NotEqual(t, mine, theirs)
	Delete()
}
