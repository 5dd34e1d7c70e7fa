// Package runtime serializes the goroutines of a program under test so
// that a strategy controls every interleaving. It is used two ways: an
// instrumented binary calls Initialize/Finalize around its main body and
// the package-level hooks at each concurrency point, or a test drives
// Explore directly with a body function.
package runtime

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/goid"
	"github.com/amirkhaki/mycroft/pkg/operation"
	"github.com/amirkhaki/mycroft/pkg/strategy"
	"github.com/amirkhaki/mycroft/pkg/trace"
)

// Environment variables configuring an instrumented binary. One process
// execution is one iteration; an exploration driver re-runs the binary
// with fresh seeds.
const (
	EnvMode         = "MYCROFT_MODE"
	EnvStrategy     = "MYCROFT_STRATEGY"
	EnvSeed         = "MYCROFT_SEED"
	EnvMaxSteps     = "MYCROFT_MAX_STEPS"
	EnvSwitchPoints = "MYCROFT_SWITCH_POINTS"
	EnvSchedule     = "MYCROFT_SCHEDULE"
	EnvDebug        = "MYCROFT_DEBUG"
)

var (
	globalMu sync.Mutex
	global   *Runtime
)

func get() *Runtime {
	globalMu.Lock()
	r := global
	globalMu.Unlock()
	if r == nil {
		panic("mycroft: runtime is not initialized")
	}
	return r
}

func setGlobal(r *Runtime) {
	globalMu.Lock()
	global = r
	globalMu.Unlock()
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mycroft: invalid %s %q: %v\n", key, v, err)
		os.Exit(1)
	}
	return n
}

// NewStrategy constructs a strategy by name. Supported names are
// "random", "pct", and "pctcp".
func NewStrategy(name string, maxSteps, switchPoints int, seed int64) (strategy.Strategy, error) {
	switch name {
	case "random":
		return strategy.NewRandomStrategy(maxSteps, seed), nil
	case "pct":
		return strategy.NewPCTStrategy(maxSteps, switchPoints, seed), nil
	case "pctcp":
		return strategy.NewPCTCPStrategy(maxSteps, switchPoints, seed), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Initialize sets up the controlled runtime for an instrumented binary
// and binds the calling goroutine as the root operation. Configuration
// is read from the MYCROFT_* environment variables. The call must be
// paired with a deferred Finalize.
func Initialize() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		mode = "record"
	}

	logger := zap.NewNop()
	if os.Getenv(EnvDebug) != "" {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "mycroft: failed to create logger: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	strategy.SetLogger(logger)

	seed := int64(envInt(EnvSeed, int(time.Now().UnixNano())))
	maxSteps := envInt(EnvMaxSteps, 10000)
	switchPoints := envInt(EnvSwitchPoints, 3)
	stratName := os.Getenv(EnvStrategy)
	if stratName == "" {
		stratName = "random"
	}
	scheduleFile := os.Getenv(EnvSchedule)

	var strat strategy.Strategy
	var recorder *trace.Schedule
	switch mode {
	case "record":
		s, err := NewStrategy(stratName, maxSteps, switchPoints, seed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mycroft: %v\n", err)
			os.Exit(1)
		}
		strat = s
		recorder = trace.New(s.Description(), seed, 0)
	case "replay":
		if scheduleFile == "" {
			fmt.Fprintf(os.Stderr, "mycroft: replay mode requires %s\n", EnvSchedule)
			os.Exit(1)
		}
		sched, err := trace.Load(scheduleFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mycroft: %v\n", err)
			os.Exit(1)
		}
		strat = strategy.NewReplayStrategy(sched)
	default:
		fmt.Fprintf(os.Stderr, "mycroft: unknown mode %q\n", mode)
		os.Exit(1)
	}
	strat.InitializeNextIteration(0)

	r := newRuntime(strat, logger, recorder)
	if mode == "record" {
		r.scheduleFile = scheduleFile
	}

	goid.Reset()
	r.mu.Lock()
	root := r.newOperationLocked("main", nil)
	root.Type = operation.TypeStart
	r.current = root
	r.callerRoot = root
	r.mu.Unlock()
	goid.Assign(root.ID)

	setGlobal(r)
}

// Finalize completes the root operation, waits for every controlled
// goroutine, and reports the outcome. A surfaced failure, deadlock, or
// exhausted step budget terminates the process with a non-zero status.
func Finalize() {
	r := get()
	self := r.currentOp()
	r.complete(self)
	r.wg.Wait()
	goid.Delete()

	r.mu.Lock()
	failed := r.failure != nil || r.deadlock || r.maxStepsHit
	r.mu.Unlock()
	if failed {
		r.reportAndExit()
	}
	r.saveSchedule()
	setGlobal(nil)
}

func (r *Runtime) saveSchedule() {
	if r.recorder == nil || r.scheduleFile == "" {
		return
	}
	if err := trace.Save(r.scheduleFile, r.recorder); err != nil {
		fmt.Fprintf(os.Stderr, "mycroft: failed to save schedule: %v\n", err)
		os.Exit(1)
	}
}

// reportAndExit prints the abort cause, persists the recorded schedule
// so the run can be replayed, and exits.
func (r *Runtime) reportAndExit() {
	r.mu.Lock()
	failure := r.failure
	deadlock := r.deadlock
	maxSteps := r.maxStepsHit
	r.mu.Unlock()

	switch {
	case failure != nil:
		fmt.Fprintf(os.Stderr, "mycroft: %v\n%s\n", failure, failure.Stack)
	case deadlock:
		fmt.Fprintln(os.Stderr, "mycroft: deadlock: no operation is enabled")
	case maxSteps:
		fmt.Fprintln(os.Stderr, "mycroft: iteration exceeded its step budget")
	}
	r.saveSchedule()
	os.Exit(1)
}

// Spawn starts a controlled goroutine, replacing a go statement.
func Spawn(name string, f func()) {
	get().spawn(name, f)
}

// SpawnTask starts a task whose operations form a schedulable group.
func SpawnTask(name string, f func()) *Task {
	return get().spawnTask(name, f)
}

// WaitAll blocks until every given task has completed.
func WaitAll(tasks ...*Task) {
	get().waitAll(tasks)
}

// WaitAny blocks until at least one of the given tasks has completed.
func WaitAny(tasks ...*Task) {
	get().waitAny(tasks)
}

// Yield marks a voluntary scheduling point, replacing runtime.Gosched.
func Yield() {
	get().yield()
}

// Delay models a timer, replacing time.Sleep. The duration is ignored
// under controlled time.
func Delay(d time.Duration) {
	_ = d
	get().delay()
}

// NextBool draws a controlled boolean that is true with probability
// 1/maxValue.
func NextBool(maxValue int) bool {
	return get().nextBool(maxValue)
}

// NextInt draws a controlled integer in [0, maxValue).
func NextInt(maxValue int) int {
	return get().nextInt(maxValue)
}
