// Package runner executes one solve end to end: warm start resolution, the
// search itself, and recording the outcome in the ledger, the solution store,
// run metrics and Prometheus.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"cluvrp/internal/metrics"
	"cluvrp/internal/model"
	"cluvrp/internal/opt"
	"cluvrp/internal/store"
)

type Job struct {
	ID      string
	Name    string
	Key     string
	Variant model.Variant
	Problem *opt.Problem
	// Warm seeds a weak search. Nil loads the stored strong best for Key and
	// falls back to a fresh construction.
	Warm       *opt.WeakSolution
	Options    opt.Options
	TimeBudget time.Duration
}

type Result struct {
	Solution model.Solution
	Metrics  opt.Metrics
	// Previous is the ledger distance before the run.
	Previous int
	Improved bool
	Saved    bool
}

type Runner struct {
	Store store.Store
}

func New(s store.Store) *Runner { return &Runner{Store: s} }

// FirstPositive returns the first value above zero, or zero. Callers list a
// request setting before its configured default.
func FirstPositive(vs ...int) int {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}

func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	log := logrus.WithFields(logrus.Fields{"run": job.ID, "instance": job.Name, "variant": job.Variant})
	res := Result{Previous: store.DefaultBestDistance}
	if job.Key != "" {
		prev, err := r.Store.BestDistance(ctx, job.Key, job.Variant)
		if err != nil {
			log.WithError(err).Warn("ledger read failed")
		} else {
			res.Previous = prev
		}
	}
	if job.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.TimeBudget)
		defer cancel()
	}

	opts := job.Options
	variant := string(job.Variant)
	observer := opts.Observer
	opts.Observer = func(e opt.Event) {
		if e.Kind == opt.EventRestart {
			metrics.ObserveRestart(variant, e.Duration, e.Improvements)
		}
		if observer != nil {
			observer(e)
		}
	}

	switch job.Variant {
	case model.Strong:
		out, err := opt.SolveStrong(ctx, job.Problem, opts)
		if err != nil {
			return r.fail(log, job, err)
		}
		res.Solution, res.Metrics = out.Best.Record(), out.Metrics
	case model.Weak:
		warm := job.Warm
		if warm == nil {
			var err error
			if warm, err = r.WarmStart(ctx, job); err != nil {
				return r.fail(log, job, err)
			}
		}
		out, err := opt.SolveWeak(ctx, job.Problem, warm, opts)
		if err != nil {
			return r.fail(log, job, err)
		}
		res.Solution, res.Metrics = out.Best.Record(), out.Metrics
	default:
		return r.fail(log, job, fmt.Errorf("unknown variant %q", job.Variant))
	}

	metrics.Runs.WithLabelValues(variant, string(model.RunCompleted)).Inc()
	metrics.BestDistance.WithLabelValues(job.Key, variant).Set(float64(res.Solution.Distance))
	opt.RecordMetrics(job.Key, variant, res.Metrics)
	r.record(ctx, log, job, &res)
	log.WithFields(logrus.Fields{
		"best":       res.Solution.Distance,
		"iterations": res.Metrics.Iterations,
		"elapsed":    res.Metrics.Elapsed.String(),
		"stopped":    res.Metrics.Stopped,
	}).Info("run finished")
	return res, nil
}

// record stores the outcome. Failures are logged and never fail the run.
func (r *Runner) record(ctx context.Context, log *logrus.Entry, job Job, res *Result) {
	m := res.Metrics
	rm := model.RunMetrics{
		RunID:            job.ID,
		Key:              job.Key,
		Variant:          job.Variant,
		Iterations:       m.Iterations,
		Improvements:     m.Improvements,
		InitialDistance:  m.InitialDistance,
		BestDistance:     m.BestDistance,
		ElapsedMs:        m.Elapsed.Milliseconds(),
		Stopped:          m.Stopped,
		MoveImprovements: m.MoveImprovements,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.Store.SaveRunMetrics(ctx, rm); err != nil {
		log.WithError(err).Warn("saving run metrics failed")
	}
	if job.Key == "" {
		return
	}
	var err error
	if res.Improved, err = r.Store.RecordBest(ctx, job.Key, job.Variant, res.Solution.Distance); err != nil {
		log.WithError(err).Warn("ledger update failed")
	}
	if res.Saved, err = r.Store.SaveSolution(ctx, job.Key, res.Solution); err != nil {
		log.WithError(err).Warn("saving solution failed")
	}
}

func (r *Runner) fail(log *logrus.Entry, job Job, err error) (Result, error) {
	metrics.Runs.WithLabelValues(string(job.Variant), string(model.RunFailed)).Inc()
	log.WithError(err).Error("run failed")
	return Result{}, err
}

// WarmStart returns the stored strong best for the job's key as a weak
// solution, or a fresh random one when nothing usable is stored.
func (r *Runner) WarmStart(ctx context.Context, job Job) (*opt.WeakSolution, error) {
	log := logrus.WithFields(logrus.Fields{"run": job.ID, "instance": job.Name})
	if job.Key != "" {
		rec, err := r.Store.GetSolution(ctx, job.Key, model.Strong)
		switch {
		case err == nil:
			s, err := opt.StrongFromRecord(job.Problem, rec)
			if err == nil {
				log.WithField("distance", s.Distance).Info("warm start from stored strong solution")
				return opt.WeakFromStrong(s), nil
			}
			log.WithError(err).Warn("stored strong solution does not fit the instance")
		case !errors.Is(err, store.ErrNotFound):
			log.WithError(err).Warn("loading stored strong solution failed")
		}
	}
	seed := job.Options.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	attempts := job.Options.PackAttempts
	if attempts <= 0 {
		attempts = opt.DefaultPackAttempts
	}
	log.Info("no strong solution stored, constructing a warm start")
	return opt.NewWeakSolution(job.Problem, rand.New(rand.NewSource(seed)), attempts)
}
