package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cluvrp/internal/gvrp"
	"cluvrp/internal/model"
	"cluvrp/internal/opt"
	"cluvrp/internal/store"
)

const maxRequestBytes = 8 << 20

// RunsHandler handles POST/GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		if _, ok := s.requireWriter(w, r); !ok {
			return
		}
		var req model.RunRequest
		if !decodeJSON(w, r, &req, maxRequestBytes) {
			return
		}
		if err := validateRunRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
			return
		}
		job, err := s.buildJob(req)
		if err != nil {
			title := "Invalid instance"
			if gvrp.IsParseError(err) {
				title = "Malformed instance file"
			}
			writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
			return
		}
		run := s.startRun(job, job.Options.Iterations)
		w.Header().Set("Location", "/v1/runs/"+run.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{"runId": run.ID, "status": run.Status})
	case http.MethodGet:
		status := model.RunStatus(r.URL.Query().Get("status"))
		items := s.Runs.List(status)
		for i := range items {
			items[i].Solution = nil
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RunByIDHandler handles GET/DELETE /v1/runs/{id}, GET /v1/runs/{id}/solution
// and the SSE stream at /v1/runs/{id}/events/stream.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	run, ok := s.Runs.Get(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Run not found", id, path)
		return
	}
	switch {
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamRun(w, r, id)
	case len(parts) == 2 && parts[1] == "solution":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if run.Solution == nil {
			writeProblem(w, http.StatusConflict, "No solution yet", string(run.Status), path)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+gvrp.SolutionFileName(run.Key, run.Variant)+`"`)
		_ = gvrp.WriteSolution(w, *run.Solution)
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, run)
		case http.MethodDelete:
			if _, ok := s.requireWriter(w, r); !ok {
				return
			}
			if terminal(run.Status) {
				writeProblem(w, http.StatusConflict, "Run already finished", string(run.Status), path)
				return
			}
			s.Runs.Cancel(id)
			writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "cancelled": true})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// streamRun writes run progress as server-sent events until the run is done
// or the client goes away.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	send := func(evt SSEEvent) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	// the snapshot is taken after subscribing so no transition is missed
	run, _ := s.Runs.Get(id)
	send(SSEEvent{Type: EventStatus, Data: map[string]any{
		"runId": id, "status": run.Status, "completed": run.Completed, "bestDistance": run.BestDistance,
	}})
	if terminal(run.Status) {
		send(doneEvent(run))
		return
	}
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if evt.Type == EventDone {
				return
			}
		case <-heartbeat.C:
			run, ok := s.Runs.Get(id)
			if !ok {
				return
			}
			if terminal(run.Status) {
				send(doneEvent(run))
				return
			}
			send(SSEEvent{Type: "heartbeat", Data: map[string]any{"runId": id, "ts": time.Now().UTC().Format(time.RFC3339)}})
		}
	}
}

// LedgerHandler handles GET /v1/ledger. With key and variant it returns the
// single entry and the stored solution; otherwise it lists entries.
func (s *Server) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var v model.Variant
	if raw := q.Get("variant"); raw != "" {
		parsed, err := model.ParseVariant(raw)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid variant", err.Error(), r.URL.Path)
			return
		}
		v = parsed
	}
	key := q.Get("key")
	if key == "" || v == "" {
		items, err := s.Store.ListBest(r.Context(), v)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List ledger failed", err.Error(), r.URL.Path)
			return
		}
		if key != "" {
			filtered := items[:0]
			for _, e := range items {
				if e.Key == key {
					filtered = append(filtered, e)
				}
			}
			items = filtered
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	d, err := s.Store.BestDistance(r.Context(), key, v)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Ledger lookup failed", err.Error(), r.URL.Path)
		return
	}
	out := map[string]any{"key": key, "variant": v, "distance": d}
	sol, err := s.Store.GetSolution(r.Context(), key, v)
	switch {
	case err == nil:
		out["solution"] = sol
	case !errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusInternalServerError, "Solution lookup failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if !decodeJSON(w, r, &req, 64<<10) {
			return
		}
		if err := validateSubscription(req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, queryLimit(r))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeProblem(w, status, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), q.Get("status"), q.Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeProblem(w, status, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// RunMetricsHandler handles GET /v1/admin/run-metrics?key=&variant=. It
// returns stored run summaries and the latest in-process search metrics.
func (s *Server) RunMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var v model.Variant
	if raw := q.Get("variant"); raw != "" {
		parsed, err := model.ParseVariant(raw)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid variant", err.Error(), r.URL.Path)
			return
		}
		v = parsed
	}
	key := q.Get("key")
	items, err := s.Store.ListRunMetrics(r.Context(), key, v)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List run metrics failed", err.Error(), r.URL.Path)
		return
	}
	out := map[string]any{"items": items}
	if key != "" {
		latest := map[string]any{}
		for variant, m := range opt.GetMetrics(key) {
			latest[variant] = map[string]any{
				"iterations":       m.Iterations,
				"improvements":     m.Improvements,
				"initialDistance":  m.InitialDistance,
				"bestDistance":     m.BestDistance,
				"elapsedMs":        m.Elapsed.Milliseconds(),
				"moveImprovements": m.MoveImprovements,
				"snapshots":        len(m.Snapshots),
			}
		}
		out["latest"] = latest
	}
	writeJSON(w, http.StatusOK, out)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func validateSubscription(req model.SubscriptionRequest) error {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return fmt.Errorf("url must be http(s): %q", req.URL)
	}
	if len(req.Events) == 0 {
		return errors.New("events must not be empty")
	}
	for _, e := range req.Events {
		if e != model.EventSolutionImproved && e != model.EventRunCompleted {
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}

func queryLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	return limit
}
