package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/amirkhaki/mycroft/pkg/strategy"
	"github.com/amirkhaki/mycroft/pkg/trace"
)

// Options configures an in-process exploration.
type Options struct {
	// Strategy drives every iteration. Required.
	Strategy strategy.Strategy
	// Seed is recorded in schedule headers for reproduction.
	Seed int64
	// Iterations bounds the exploration. The strategy may stop it
	// earlier by refusing the next iteration.
	Iterations int
	// ScheduleFile, when non-empty, receives the schedule of the first
	// failing iteration.
	ScheduleFile string
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Result summarizes an exploration.
type Result struct {
	// Iterations is the number of iterations actually executed.
	Iterations int
	// Failure is the first surfaced bug, if any.
	Failure *Failure
	// Deadlock reports whether an iteration reached a state with no
	// enabled operation.
	Deadlock bool
	// FailingIteration is the index of the aborted iteration, valid
	// when Failure is non-nil or Deadlock is true.
	FailingIteration int
	// Schedule is the recorded schedule of the failing iteration.
	Schedule *trace.Schedule
	// MaxStepsHits counts iterations that exhausted their step budget.
	MaxStepsHits int
}

// Failed reports whether the exploration surfaced a bug.
func (res *Result) Failed() bool {
	return res.Failure != nil || res.Deadlock
}

func (res *Result) String() string {
	switch {
	case res.Failure != nil:
		return fmt.Sprintf("failure at iteration %d: %v", res.FailingIteration, res.Failure)
	case res.Deadlock:
		return fmt.Sprintf("deadlock at iteration %d", res.FailingIteration)
	default:
		return fmt.Sprintf("no failure in %d iterations", res.Iterations)
	}
}

// Explore runs body under the configured strategy until a bug surfaces,
// the strategy declines another iteration, or the iteration budget is
// spent. The body must reach every concurrency operation through the
// package-level hooks or the controlled types.
func Explore(opts Options, body func()) (*Result, error) {
	if opts.Strategy == nil {
		return nil, fmt.Errorf("explore: a strategy is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy.SetLogger(logger)

	res := &Result{}
	for i := 0; i < opts.Iterations; i++ {
		if !opts.Strategy.InitializeNextIteration(uint64(i)) {
			break
		}
		recorder := trace.New(opts.Strategy.Description(), opts.Seed, i)
		r := newRuntime(opts.Strategy, logger, recorder)
		setGlobal(r)
		logger.Debug("starting iteration", zap.Int("iteration", i))
		r.runIteration(body)
		setGlobal(nil)
		res.Iterations = i + 1

		if r.maxStepsHit {
			res.MaxStepsHits++
		}
		if r.failure != nil || r.deadlock {
			res.Failure = r.failure
			res.Deadlock = r.deadlock
			res.FailingIteration = i
			res.Schedule = recorder
			if opts.ScheduleFile != "" {
				if err := trace.Save(opts.ScheduleFile, recorder); err != nil {
					return res, fmt.Errorf("explore: %w", err)
				}
			}
			return res, nil
		}
	}
	return res, nil
}

// Replay re-executes body under a previously recorded schedule and
// returns the iteration outcome.
func Replay(schedule *trace.Schedule, body func()) (*Result, error) {
	strat := strategy.NewReplayStrategy(schedule)
	return Explore(Options{
		Strategy:   strat,
		Seed:       schedule.Header.Seed,
		Iterations: 1,
	}, body)
}

// ReplayFile loads a schedule file and replays body under it.
func ReplayFile(filename string, body func()) (*Result, error) {
	sched, err := trace.Load(filename)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return Replay(sched, body)
}
