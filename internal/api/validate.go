package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cluvrp/internal/gvrp"
	"cluvrp/internal/model"
	"cluvrp/internal/opt"
	"cluvrp/internal/runner"
)

const maxWorkers = 256

func validateRunRequest(req *model.RunRequest) error {
	if strings.TrimSpace(req.Instance) == "" {
		return errors.New("instance is required")
	}
	if req.Variant == "" {
		req.Variant = model.Strong
	}
	v, err := model.ParseVariant(string(req.Variant))
	if err != nil {
		return err
	}
	req.Variant = v
	if req.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0")
	}
	if req.Workers < 0 || req.Workers > maxWorkers {
		return fmt.Errorf("workers must be in [0,%d]", maxWorkers)
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if req.WarmStart != "" && req.Variant != model.Weak {
		return fmt.Errorf("warmStart applies to the weak variant only")
	}
	return nil
}

// buildJob parses the request payloads into a solver job, filling unset
// search options from the solver configuration.
func (s *Server) buildJob(req model.RunRequest) (runner.Job, error) {
	inst, err := gvrp.Parse(strings.NewReader(req.Instance))
	if err != nil {
		return runner.Job{}, err
	}
	if req.Name != "" {
		inst.Name = req.Name
	}
	p, err := opt.NewProblem(inst)
	if err != nil {
		return runner.Job{}, err
	}
	sc := s.Config.Solver
	job := runner.Job{
		Name:    inst.Name,
		Key:     gvrp.LedgerKey(inst.Name),
		Variant: req.Variant,
		Problem: p,
		Options: opt.Options{
			Iterations:    runner.FirstPositive(req.Iterations, sc.Iterations),
			Workers:       runner.FirstPositive(req.Workers, sc.Workers),
			Seed:          req.Seed,
			PackAttempts:  sc.PackAttempts,
			ShakeAttempts: sc.ShakeAttempts,
			Moves:         sc.Moves,
		},
		TimeBudget: sc.TimeBudget,
	}
	if job.Options.Seed == 0 {
		job.Options.Seed = sc.Seed
	}
	if req.TimeBudgetMs > 0 {
		job.TimeBudget = time.Duration(req.TimeBudgetMs) * time.Millisecond
	}
	if req.WarmStart != "" {
		rec, err := gvrp.ReadSolution(strings.NewReader(req.WarmStart), model.Weak)
		if err != nil {
			return runner.Job{}, fmt.Errorf("warmStart: %w", err)
		}
		if job.Warm, err = opt.WeakFromRecord(p, rec); err != nil {
			return runner.Job{}, fmt.Errorf("warmStart: %w", err)
		}
	}
	return job, nil
}
