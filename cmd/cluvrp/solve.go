package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cluvrp/internal/gvrp"
	"cluvrp/internal/model"
	"cluvrp/internal/opt"
	"cluvrp/internal/runner"
)

type solveFlags struct {
	instance   string
	iterations int
	workers    int
	seed       int64
	timeBudget time.Duration
	warmStart  string
	moves      []string
}

func newSolveCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Run the VNS for one instance",
	}
	cmd.AddCommand(newVariantCmd(g, model.Strong), newVariantCmd(g, model.Weak))
	return cmd
}

func newVariantCmd(g *globals, v model.Variant) *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   string(v),
		Short: fmt.Sprintf("Solve the %s variant", v),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSolve(cmd, g, f, v)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.instance, "instance", "i", "", "GVRP instance file")
	fl.IntVar(&f.iterations, "iterations", 0, "VNS restarts (default from config)")
	fl.IntVar(&f.workers, "workers", 0, "Concurrent restarts (default GOMAXPROCS)")
	fl.Int64Var(&f.seed, "seed", 0, "Base seed; 0 picks one from the clock")
	fl.DurationVar(&f.timeBudget, "time-budget", 0, "Stop after this long and keep the best found")
	fl.StringSliceVar(&f.moves, "moves", nil, "Descent operators in order (default per variant)")
	if v == model.Weak {
		fl.StringVar(&f.warmStart, "warm-start", "", "Strong or weak solution file to start from")
	}
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func runSolve(cmd *cobra.Command, g *globals, f *solveFlags, v model.Variant) error {
	cfg, st, closeStore, err := g.openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	inst, p, err := gvrp.Load(f.instance)
	if err != nil {
		return err
	}
	sc := cfg.Solver
	job := runner.Job{
		ID:      uuid.NewString(),
		Name:    inst.Name,
		Key:     gvrp.LedgerKey(f.instance),
		Variant: v,
		Problem: p,
		Options: opt.Options{
			Iterations:    runner.FirstPositive(f.iterations, sc.Iterations),
			Workers:       runner.FirstPositive(f.workers, sc.Workers),
			Seed:          f.seed,
			PackAttempts:  sc.PackAttempts,
			ShakeAttempts: sc.ShakeAttempts,
			Moves:         sc.Moves,
		},
		TimeBudget: sc.TimeBudget,
	}
	if len(f.moves) > 0 {
		job.Options.Moves = f.moves
	}
	if f.timeBudget > 0 {
		job.TimeBudget = f.timeBudget
	}
	if job.Options.Seed == 0 {
		job.Options.Seed = sc.Seed
	}
	if job.Options.Seed == 0 {
		job.Options.Seed = time.Now().UnixNano()
	}
	if f.warmStart != "" {
		if job.Warm, err = loadWarmStart(p, f.warmStart); err != nil {
			return err
		}
	}
	job.Options.Observer = progressLogger(job)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := runner.New(st).Run(ctx, job)
	if err != nil {
		return err
	}
	writeReport(cmd.OutOrStdout(), inst, f.instance, job.Options.Iterations, res)
	return nil
}

// loadWarmStart reads a solution file of either variant as a weak start.
func loadWarmStart(p *opt.Problem, path string) (*opt.WeakSolution, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	rec, err := gvrp.ReadSolution(file, model.Weak)
	if err != nil {
		return nil, fmt.Errorf("warm start %s: %w", path, err)
	}
	w, err := opt.WeakFromRecord(p, rec)
	if err != nil {
		return nil, fmt.Errorf("warm start %s: %w", path, err)
	}
	return w, nil
}

func progressLogger(job runner.Job) func(opt.Event) {
	log := logrus.WithFields(logrus.Fields{"instance": job.Name, "variant": job.Variant})
	return func(e opt.Event) {
		switch e.Kind {
		case opt.EventImproved:
			log.WithFields(logrus.Fields{
				"iteration": e.Iteration,
				"elapsed":   e.Elapsed.Round(10 * time.Millisecond).String(),
				"best":      e.BestDistance,
			}).Info("new best solution")
		case opt.EventCheckpoint:
			log.WithFields(logrus.Fields{
				"iteration": e.Iteration,
				"elapsed":   e.Elapsed.Round(time.Second).String(),
				"best":      e.BestDistance,
			}).Info("checkpoint")
		}
	}
}
