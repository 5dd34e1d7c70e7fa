package runtime_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirkhaki/mycroft/pkg/runtime"
	"github.com/amirkhaki/mycroft/pkg/strategy"
)

func TestMutexMutualExclusion(t *testing.T) {
	violated := false
	res, err := runtime.Explore(runtime.Options{
		Strategy:   strategy.NewRandomStrategy(0, 21),
		Iterations: 50,
	}, func() {
		mu := runtime.NewMutex()
		counter := 0
		inc := func() {
			for i := 0; i < 5; i++ {
				mu.Lock()
				v := counter
				runtime.Yield()
				counter = v + 1
				mu.Unlock()
			}
		}
		t1 := runtime.SpawnTask("first", inc)
		t2 := runtime.SpawnTask("second", inc)
		runtime.WaitAll(t1, t2)
		if counter != 10 {
			violated = true
		}
	})
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.False(t, violated, "the critical section must serialize the increments")
}

func TestMutexUnlockNotHeldIsAFailure(t *testing.T) {
	res, err := runtime.Explore(runtime.Options{
		Strategy:   strategy.NewRandomStrategy(0, 1),
		Iterations: 1,
	}, func() {
		m := runtime.NewMutex()
		m.Unlock()
	})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Contains(t, res.Failure.Error(), "unlock of a mutex not held")
}

func TestRealMutexHooks(t *testing.T) {
	violated := false
	res, err := runtime.Explore(runtime.Options{
		Strategy:   strategy.NewRandomStrategy(0, 8),
		Iterations: 50,
	}, func() {
		var mu sync.Mutex
		counter := 0
		inc := func() {
			runtime.MutexLock(&mu)
			v := counter
			runtime.Yield()
			counter = v + 1
			runtime.MutexUnlock(&mu)
		}
		t1 := runtime.SpawnTask("first", inc)
		t2 := runtime.SpawnTask("second", inc)
		runtime.WaitAll(t1, t2)
		if counter != 2 {
			violated = true
		}
	})
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.False(t, violated)
}

func TestRealMutexIdentityIsStable(t *testing.T) {
	res, err := runtime.Explore(runtime.Options{
		Strategy:   strategy.NewRandomStrategy(0, 2),
		Iterations: 1,
	}, func() {
		var mu sync.Mutex
		runtime.MutexLock(&mu)
		runtime.MutexUnlock(&mu)
		runtime.MutexLock(&mu)
		runtime.MutexUnlock(&mu)
	})
	require.NoError(t, err)
	assert.False(t, res.Failed(), "relocking after unlock uses the same controlled mutex")
}
