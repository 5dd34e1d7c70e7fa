package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amirkhaki/mycroft/pkg/runtime"
)

// exploreCmd runs an instrumented binary repeatedly, one process per
// iteration, until a schedule surfaces a bug or the iteration budget is
// spent. Iterations are independent, so they run in parallel.
var exploreCmd = &cobra.Command{
	Use:   "explore <binary>",
	Short: "explore the interleavings of an instrumented binary",
	Long: `explore runs an instrumented binary under fresh seeds. Each run records
its schedule; the schedule of the first failing run is kept so it can be
replayed with 'mycroft replay'.`,
	Args: cobra.ExactArgs(1),
	RunE: runExplore,
}

var (
	exploreStrategy     string
	exploreSeed         int64
	exploreIterations   int
	exploreMaxSteps     int
	exploreSwitchPoints int
	exploreParallelism  int
	exploreOutDir       string
)

func init() {
	rootCmd.AddCommand(exploreCmd)

	exploreCmd.Flags().StringVarP(&exploreStrategy, "strategy", "s", "random",
		"exploration strategy (random, pct, pctcp)")
	exploreCmd.Flags().Int64Var(&exploreSeed, "seed", 0,
		"base seed; iteration i uses seed+i (0 means time-based)")
	exploreCmd.Flags().IntVarP(&exploreIterations, "iterations", "n", 100,
		"number of iterations")
	exploreCmd.Flags().IntVar(&exploreMaxSteps, "max-steps", 10000,
		"per-iteration step budget")
	exploreCmd.Flags().IntVarP(&exploreSwitchPoints, "switch-points", "d", 3,
		"number of priority change points for pct strategies")
	exploreCmd.Flags().IntVarP(&exploreParallelism, "parallel", "j", 4,
		"iterations to run concurrently")
	exploreCmd.Flags().StringVarP(&exploreOutDir, "out", "o", "",
		"directory for failing schedules (default: a temp directory)")
}

func runExplore(cmd *cobra.Command, args []string) error {
	binary, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("binary %s: %w", args[0], err)
	}

	// Validate the strategy name before spending iterations on it.
	if _, err := runtime.NewStrategy(exploreStrategy, exploreMaxSteps, exploreSwitchPoints, 0); err != nil {
		return err
	}

	seed := exploreSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	outDir := exploreOutDir
	if outDir == "" {
		outDir, err = os.MkdirTemp("", "mycroft_explore_*")
		if err != nil {
			return err
		}
	} else if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(exploreParallelism)

	for i := 0; i < exploreIterations; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			scheduleFile := filepath.Join(outDir, fmt.Sprintf("schedule_%d.json", i))
			run := exec.CommandContext(ctx, binary)
			run.Env = append(os.Environ(),
				runtime.EnvMode+"=record",
				runtime.EnvStrategy+"="+exploreStrategy,
				runtime.EnvSeed+"="+strconv.FormatInt(seed+int64(i), 10),
				runtime.EnvMaxSteps+"="+strconv.Itoa(exploreMaxSteps),
				runtime.EnvSwitchPoints+"="+strconv.Itoa(exploreSwitchPoints),
				runtime.EnvSchedule+"="+scheduleFile,
			)
			out, err := run.CombinedOutput()
			if err == nil {
				os.Remove(scheduleFile)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("iteration %d (seed %d) failed, schedule saved to %s\n%s",
				i, seed+int64(i), scheduleFile, out)
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "mycroft: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("no failure in %d iterations (strategy %s, base seed %d)\n",
		exploreIterations, exploreStrategy, seed)
	return nil
}

// replayCmd re-runs an instrumented binary under a recorded schedule.
var replayCmd = &cobra.Command{
	Use:   "replay <binary> <schedule>",
	Short: "replay a recorded schedule against an instrumented binary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		binary, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		schedule, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		run := exec.CommandContext(cmd.Context(), binary)
		run.Env = append(os.Environ(),
			runtime.EnvMode+"=replay",
			runtime.EnvSchedule+"="+schedule,
		)
		run.Stdout = os.Stdout
		run.Stderr = os.Stderr
		if err := run.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				os.Exit(exitErr.ExitCode())
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
