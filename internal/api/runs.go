package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cluvrp/internal/model"
	"cluvrp/internal/opt"
	"cluvrp/internal/runner"
)

// Progress event types streamed over SSE and WebSocket.
const (
	EventStatus     = "status"
	EventImproved   = "improved"
	EventCheckpoint = "checkpoint"
	EventDone       = "done"
)

// DefaultKeepRuns is how many finished runs a registry retains.
const DefaultKeepRuns = 1000

// RunRegistry holds the read model of the runs this process started. Queued
// and running runs are always kept; only the newest keep finished runs are.
type RunRegistry struct {
	mu     sync.Mutex
	keep   int
	runs   map[string]*model.Run
	cancel map[string]context.CancelFunc
	order  []string
}

// NewRunRegistry keeps at most keep finished runs, DefaultKeepRuns when keep
// is not positive.
func NewRunRegistry(keep int) *RunRegistry {
	if keep <= 0 {
		keep = DefaultKeepRuns
	}
	return &RunRegistry{keep: keep, runs: map[string]*model.Run{}, cancel: map[string]context.CancelFunc{}}
}

func (g *RunRegistry) Add(run model.Run, cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[run.ID] = &run
	g.cancel[run.ID] = cancel
	g.order = append(g.order, run.ID)
	g.evict()
}

// evict drops the oldest finished runs beyond keep. Callers hold g.mu.
func (g *RunRegistry) evict() {
	finished := 0
	for _, id := range g.order {
		if terminal(g.runs[id].Status) {
			finished++
		}
	}
	if finished <= g.keep {
		return
	}
	kept := g.order[:0]
	for _, id := range g.order {
		if finished > g.keep && terminal(g.runs[id].Status) {
			delete(g.runs, id)
			delete(g.cancel, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	g.order = kept
}

func (g *RunRegistry) Get(id string) (model.Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[id]
	if !ok {
		return model.Run{}, false
	}
	return *r, true
}

// List returns runs newest first, optionally filtered by status.
func (g *RunRegistry) List(status model.RunStatus) []model.Run {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []model.Run{}
	for i := len(g.order) - 1; i >= 0; i-- {
		r := g.runs[g.order[i]]
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out
}

// Update applies fn under the lock and returns the updated run.
func (g *RunRegistry) Update(id string, fn func(*model.Run)) (model.Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[id]
	if !ok {
		return model.Run{}, false
	}
	fn(r)
	if terminal(r.Status) {
		g.evict()
	}
	return *r, true
}

// Cancel stops a queued or running run. It reports whether the run exists.
func (g *RunRegistry) Cancel(id string) bool {
	g.mu.Lock()
	cancel, ok := g.cancel[id]
	g.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
	return ok
}

func (g *RunRegistry) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cancel := range g.cancel {
		if cancel != nil {
			cancel()
		}
	}
}

func terminal(s model.RunStatus) bool {
	return s == model.RunCompleted || s == model.RunFailed
}

// doneEvent summarizes a finished run for late followers.
func doneEvent(run model.Run) SSEEvent {
	return SSEEvent{Type: EventDone, Data: map[string]any{
		"runId": run.ID, "status": run.Status, "bestDistance": run.BestDistance, "iterations": run.Completed,
	}}
}

// startRun registers the run and solves it in the background.
func (s *Server) startRun(job runner.Job, iterations int) model.Run {
	ctx, cancel := context.WithCancel(context.Background())
	run := model.Run{
		ID:         uuid.NewString(),
		Name:       job.Name,
		Key:        job.Key,
		Variant:    job.Variant,
		Status:     model.RunQueued,
		Iterations: iterations,
		CreatedAt:  time.Now().UTC(),
	}
	job.ID = run.ID
	s.Runs.Add(run, cancel)
	go func() {
		defer cancel()
		s.execute(ctx, run, job)
	}()
	return run
}

func (s *Server) execute(ctx context.Context, run model.Run, job runner.Job) {
	id := run.ID
	run, _ = s.Runs.Update(id, func(r *model.Run) { r.Status = model.RunRunning })
	s.Broker.Publish(id, SSEEvent{Type: EventStatus, Data: map[string]any{"runId": id, "status": run.Status}})

	job.Options.Observer = func(e opt.Event) {
		switch e.Kind {
		case opt.EventRestart:
			s.Runs.Update(id, func(r *model.Run) {
				r.Completed = e.Iteration
				r.BestDistance = e.BestDistance
			})
		case opt.EventImproved:
			cur, _ := s.Runs.Update(id, func(r *model.Run) { r.BestDistance = e.BestDistance })
			s.Broker.Publish(id, SSEEvent{Type: EventImproved, Data: map[string]any{
				"runId": id, "iteration": e.Iteration, "distance": e.BestDistance, "elapsedMs": e.Elapsed.Milliseconds(),
			}})
			s.Pub.SolutionImproved(context.Background(), cur, e.Iteration, e.BestDistance)
		case opt.EventCheckpoint:
			s.Broker.Publish(id, SSEEvent{Type: EventCheckpoint, Data: map[string]any{
				"runId": id, "iteration": e.Iteration, "best": e.BestDistance, "elapsedMs": e.Elapsed.Milliseconds(),
			}})
		}
	}

	res, err := s.Runner.Run(ctx, job)
	now := time.Now().UTC()
	final, _ := s.Runs.Update(id, func(r *model.Run) {
		r.FinishedAt = &now
		if err != nil {
			r.Status = model.RunFailed
			r.Error = err.Error()
			return
		}
		sol := res.Solution
		m := res.Metrics
		r.Status = model.RunCompleted
		r.Completed = m.Iterations
		r.BestDistance = sol.Distance
		r.Solution = &sol
		r.Metrics = &model.RunMetrics{
			RunID:            id,
			Key:              r.Key,
			Variant:          r.Variant,
			Iterations:       m.Iterations,
			Improvements:     m.Improvements,
			InitialDistance:  m.InitialDistance,
			BestDistance:     m.BestDistance,
			ElapsedMs:        m.Elapsed.Milliseconds(),
			Stopped:          m.Stopped,
			MoveImprovements: m.MoveImprovements,
			CreatedAt:        now,
		}
	})
	data := map[string]any{"runId": id, "status": final.Status, "bestDistance": final.BestDistance, "iterations": final.Completed}
	if final.Error != "" {
		data["error"] = final.Error
	}
	if err == nil {
		data["ledgerImproved"] = res.Improved
	}
	s.Broker.Publish(id, SSEEvent{Type: EventDone, Data: data})
	s.Pub.RunCompleted(context.Background(), final)
}
