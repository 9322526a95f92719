package opt

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"runtime"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultCheckpoints are the elapsed-time marks reported during a run.
var DefaultCheckpoints = []time.Duration{
	time.Second, 10 * time.Second, 30 * time.Second,
	time.Minute, 5 * time.Minute, 30 * time.Minute,
}

type Options struct {
	Iterations    int
	Workers       int
	Seed          int64
	PackAttempts  int
	ShakeAttempts int
	// Moves names the descent operators in order; nil keeps the variant
	// default.
	Moves       []string
	Checkpoints []time.Duration
	// Observer receives progress events from a single goroutine.
	Observer func(Event)
}

func (o Options) withDefaults() Options {
	if o.Iterations <= 0 {
		o.Iterations = 1000
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.PackAttempts <= 0 {
		o.PackAttempts = DefaultPackAttempts
	}
	if o.ShakeAttempts <= 0 {
		o.ShakeAttempts = DefaultShakeAttempts
	}
	if o.Checkpoints == nil {
		o.Checkpoints = DefaultCheckpoints
	}
	return o
}

type EventKind string

const (
	EventRestart    EventKind = "restart"
	EventImproved   EventKind = "improved"
	EventCheckpoint EventKind = "checkpoint"
	EventDone       EventKind = "done"
)

// Event reports driver progress. Iteration counts completed restarts.
type Event struct {
	Kind         EventKind
	Iteration    int
	Elapsed      time.Duration
	BestDistance int
	// Restart events only.
	Distance     int
	Duration     time.Duration
	Improvements map[string]int
}

type Checkpoint struct {
	Iteration    int
	Elapsed      time.Duration
	BestDistance int
}

type Metrics struct {
	Seed             int64
	Iterations       int
	Improvements     int
	InitialDistance  int
	BestDistance     int
	Elapsed          time.Duration
	Stopped          bool
	MoveImprovements map[string]int
	Snapshots        []Checkpoint
}

type StrongResult struct {
	Best    *StrongSolution
	Metrics Metrics
}

type WeakResult struct {
	Best    *WeakSolution
	Metrics Metrics
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

// streamRNG derives an independent generator per named stream, so a run is
// reproducible from its seed whatever the worker count.
func streamRNG(seed int64, name string) *rand.Rand {
	return rand.New(rand.NewSource(seed ^ fnv1a64(name)))
}

// SolveStrong runs a multi-start search: every restart builds a fresh random
// solution and descends to a local optimum. The first constructed solution
// seeds the best.
func SolveStrong(ctx context.Context, p *Problem, opts Options) (StrongResult, error) {
	opts = opts.withDefaults()
	ops, err := StrongOperators(opts.Moves)
	if err != nil {
		return StrongResult{}, err
	}
	initial, err := NewStrongSolution(p, streamRNG(opts.Seed, "initial"), opts.PackAttempts)
	if err != nil {
		return StrongResult{}, err
	}
	best, m, err := drive(ctx, opts, initial, func(s *StrongSolution) int { return s.Distance },
		func(rng *rand.Rand) (*StrongSolution, DescentStats, error) {
			s, err := NewStrongSolution(p, rng, opts.PackAttempts)
			if err != nil {
				return nil, DescentStats{}, err
			}
			return s, Descend(p, s, ops), nil
		})
	return StrongResult{Best: best, Metrics: m}, err
}

// SolveWeak runs an iterated search from warm: every iteration copies warm,
// shakes it once and descends.
func SolveWeak(ctx context.Context, p *Problem, warm *WeakSolution, opts Options) (WeakResult, error) {
	opts = opts.withDefaults()
	ops, err := WeakOperators(opts.Moves)
	if err != nil {
		return WeakResult{}, err
	}
	if err := warm.Validate(p); err != nil {
		return WeakResult{}, fmt.Errorf("%w: warm start: %v", ErrInvalidInstance, err)
	}
	best, m, err := drive(ctx, opts, warm.Clone(), func(s *WeakSolution) int { return s.Distance },
		func(rng *rand.Rand) (*WeakSolution, DescentStats, error) {
			s := warm.Clone()
			if err := Shake(p, s, rng, opts.ShakeAttempts); err != nil {
				if !errors.Is(err, ErrNoFeasibleShake) {
					return nil, DescentStats{}, err
				}
				logrus.WithField("instance", p.Name).Debug("no feasible shake, descending from the warm start")
			}
			return s, Descend(p, s, ops), nil
		})
	return WeakResult{Best: best, Metrics: m}, err
}

type outcome[S any] struct {
	sol      S
	stats    DescentStats
	duration time.Duration
}

// drive fans restarts out to a worker pool and funnels every result through
// the calling goroutine, which alone owns the best solution. ctx is checked
// before each restart; a restart already running completes.
func drive[S any](ctx context.Context, opts Options, best S, distance func(S) int,
	restart func(rng *rand.Rand) (S, DescentStats, error)) (S, Metrics, error) {
	start := time.Now()
	m := Metrics{
		Seed:             opts.Seed,
		InitialDistance:  distance(best),
		BestDistance:     distance(best),
		MoveImprovements: map[string]int{},
	}
	emit := func(e Event) {
		if opts.Observer != nil {
			opts.Observer(e)
		}
	}

	jobs := make(chan int)
	results := make(chan outcome[S], opts.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < opts.Iterations; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < opts.Workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				t0 := time.Now()
				sol, st, err := restart(streamRNG(opts.Seed, "restart/"+strconv.Itoa(i)))
				if err != nil {
					return err
				}
				results <- outcome[S]{sol: sol, stats: st, duration: time.Since(t0)}
			}
			return nil
		})
	}
	errc := make(chan error, 1)
	go func() {
		errc <- g.Wait()
		close(results)
	}()

	every := (opts.Iterations + 9) / 10
	passed := make([]bool, len(opts.Checkpoints))
	checkpoint := func(elapsed time.Duration) {
		cp := Checkpoint{Iteration: m.Iterations, Elapsed: elapsed, BestDistance: m.BestDistance}
		m.Snapshots = append(m.Snapshots, cp)
		emit(Event{Kind: EventCheckpoint, Iteration: cp.Iteration, Elapsed: elapsed, BestDistance: cp.BestDistance})
	}
	for r := range results {
		m.Iterations++
		for k, v := range r.stats.Improvements {
			m.MoveImprovements[k] += v
		}
		elapsed := time.Since(start)
		d := distance(r.sol)
		emit(Event{Kind: EventRestart, Iteration: m.Iterations, Elapsed: elapsed, BestDistance: m.BestDistance,
			Distance: d, Duration: r.duration, Improvements: r.stats.Improvements})
		if d < m.BestDistance {
			best = r.sol
			m.BestDistance = d
			m.Improvements++
			emit(Event{Kind: EventImproved, Iteration: m.Iterations, Elapsed: elapsed, BestDistance: d})
		}
		for i, t := range opts.Checkpoints {
			if !passed[i] && elapsed > t {
				passed[i] = true
				checkpoint(elapsed)
			}
		}
		if elapsed > time.Minute && m.Iterations%every == 0 {
			checkpoint(elapsed)
		}
	}
	err := <-errc
	m.Elapsed = time.Since(start)
	m.Stopped = err == nil && m.Iterations < opts.Iterations
	emit(Event{Kind: EventDone, Iteration: m.Iterations, Elapsed: m.Elapsed, BestDistance: m.BestDistance})
	return best, m, err
}
