package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluvrp/internal/auth"
	"cluvrp/internal/config"
	"cluvrp/internal/model"
	"cluvrp/internal/webhooks"
)

const sampleInstance = `NAME : A-n6-k2
DIMENSION : 6
VEHICLES : 2
GVRP_SETS : 3
CAPACITY : 10
EDGE_WEIGHT_TYPE : EUC_2D
NODE_COORD_SECTION
1 0 0
2 3 4
3 6 8
4 -3 4
5 -6 8
6 0 10
GVRP_SET_SECTION
1 2 3 -1
2 4 5 -1
3 6 -1
DEMAND_SECTION
1 4
2 5
3 3
EOF
`

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Rate.RPS = 0
	cfg.Solver.Iterations = 20
	cfg.Solver.Workers = 1
	cfg.Webhooks.Interval = 10 * time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func submit(t *testing.T, h http.Handler, req model.RunRequest) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/runs", req, "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var out struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotEmpty(t, out.RunID)
	return out.RunID
}

func waitFinished(t *testing.T, s *Server, id string) model.Run {
	t.Helper()
	var run model.Run
	require.Eventually(t, func() bool {
		run, _ = s.Runs.Get(id)
		return terminal(run.Status)
	}, 10*time.Second, 5*time.Millisecond)
	return run
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSubmitRunCompletesAndRecordsLedger(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	id := submit(t, h, model.RunRequest{Instance: sampleInstance, Variant: model.Strong, Seed: 3})
	run := waitFinished(t, s, id)
	require.Equal(t, model.RunCompleted, run.Status, run.Error)
	assert.Equal(t, "A", run.Key)
	assert.Equal(t, 20, run.Completed)
	require.NotNil(t, run.Solution)
	require.NotNil(t, run.Metrics)

	rr := do(t, h, http.MethodGet, "/v1/runs/"+id, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, run.BestDistance, got.BestDistance)

	rr = do(t, h, http.MethodGet, "/v1/runs/"+id+"/solution", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), strconv.Itoa(run.BestDistance)+"\n"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "A_StrongSolution.txt")

	rr = do(t, h, http.MethodGet, "/v1/ledger?key=A&variant=strong", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var entry struct {
		Distance int             `json:"distance"`
		Solution *model.Solution `json:"solution"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entry))
	assert.Equal(t, run.BestDistance, entry.Distance)
	require.NotNil(t, entry.Solution)

	rr = do(t, h, http.MethodGet, "/v1/runs?status=completed", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Items []model.Run `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Nil(t, list.Items[0].Solution, "listings omit solutions")

	rr = do(t, h, http.MethodGet, "/v1/admin/run-metrics?key=A", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"latest":{"strong"`)
}

func TestWeakRunUsesWarmStart(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	strong := waitFinished(t, s, submit(t, h, model.RunRequest{Instance: sampleInstance, Variant: model.Strong, Seed: 1}))
	require.Equal(t, model.RunCompleted, strong.Status)

	weak := waitFinished(t, s, submit(t, h, model.RunRequest{Instance: sampleInstance, Variant: model.Weak, Seed: 1}))
	require.Equal(t, model.RunCompleted, weak.Status, weak.Error)
	assert.LessOrEqual(t, weak.BestDistance, strong.BestDistance)
	assert.Equal(t, strong.BestDistance, weak.Metrics.InitialDistance, "weak search starts from the stored strong best")
}

func TestSubmitRunRejectsBadInput(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	cases := []struct {
		name  string
		body  any
		title string
	}{
		{"not json", "{", "Invalid JSON"},
		{"unknown field", `{"instance":"x","colour":"red"}`, "Invalid JSON"},
		{"trailing data", `{"instance":"x"} {}`, "Invalid JSON"},
		{"no instance", model.RunRequest{Variant: model.Strong}, "Invalid run request"},
		{"bad variant", model.RunRequest{Instance: sampleInstance, Variant: "medium"}, "Invalid run request"},
		{"negative iterations", model.RunRequest{Instance: sampleInstance, Iterations: -1}, "Invalid run request"},
		{"warm start on strong", model.RunRequest{Instance: sampleInstance, Variant: model.Strong, WarmStart: "1\n1\n2\n"}, "Invalid run request"},
		{"malformed instance", model.RunRequest{Instance: "NAME : X\nDIMENSION : two\n"}, "Malformed instance file"},
		{"bad warm start", model.RunRequest{Instance: sampleInstance, Variant: model.Weak, WarmStart: "10\n1\n2 3\n"}, "Invalid instance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rr *httptest.ResponseRecorder
			if raw, ok := tc.body.(string); ok {
				req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(raw))
				rr = httptest.NewRecorder()
				h.ServeHTTP(rr, req)
			} else {
				rr = do(t, h, http.MethodPost, "/v1/runs", tc.body, "")
			}
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			var p Problem
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Equal(t, tc.title, p.Title)
		})
	}
	assert.Empty(t, s.Runs.List(""))
}

func TestInfeasibleRunFails(t *testing.T) {
	s := newTestServer(t, testConfig())
	inst := strings.Replace(sampleInstance, "CAPACITY : 10", "CAPACITY : 6", 1)
	run := waitFinished(t, s, submit(t, s.Handler(), model.RunRequest{Instance: inst}))
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Contains(t, run.Error, "capacity")

	rr := do(t, s.Handler(), http.MethodGet, "/v1/runs/"+run.ID+"/solution", nil, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	id := submit(t, h, model.RunRequest{Instance: sampleInstance, Iterations: 10_000_000})
	rr := do(t, h, http.MethodDelete, "/v1/runs/"+id, nil, "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	run := waitFinished(t, s, id)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.True(t, run.Metrics.Stopped)
	assert.Less(t, run.Completed, 10_000_000)

	rr = do(t, h, http.MethodDelete, "/v1/runs/"+id, nil, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/runs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunEventStream(t *testing.T) {
	s := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := submit(t, s.Handler(), model.RunRequest{Instance: sampleInstance, Iterations: 200})

	resp, err := ts.Client().Get(ts.URL + "/v1/runs/" + id + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if ev, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, ev)
		}
	}
	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[0])
	assert.Equal(t, EventDone, events[len(events)-1])
}

func TestWebSocketFollowsRun(t *testing.T) {
	s := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := submit(t, s.Handler(), model.RunRequest{Instance: sampleInstance, Iterations: 200})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connection_ack", msg.Type)

	pl, _ := json.Marshal(subscribePayload{RunID: id})
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}))
	var last SSEEvent
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "complete" {
			break
		}
		require.Equal(t, "next", msg.Type, string(msg.Payload))
		require.NoError(t, json.Unmarshal(msg.Payload, &last))
	}
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, id, last.Data["runId"])

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "2", Payload: []byte(`{"runId":"nope"}`)}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, string(msg.Payload), "run not found")
}

func TestAuthInHMACMode(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "hmac"
	cfg.Auth.HMACSecret = "k"
	s := newTestServer(t, cfg)
	h := s.Handler()
	body := model.RunRequest{Instance: sampleInstance}

	rr := do(t, h, http.MethodPost, "/v1/runs", body, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/runs", body, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	user, err := auth.SignHS256([]byte("k"), map[string]any{"sub": "u1"})
	require.NoError(t, err)
	rr = do(t, h, http.MethodPost, "/v1/runs", body, user)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/subscriptions", nil, user)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin, err := auth.SignHS256([]byte("k"), map[string]any{"sub": "ops", "role": "admin"})
	require.NoError(t, err)
	rr = do(t, h, http.MethodGet, "/v1/subscriptions", nil, admin)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/ledger", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code, "reads stay open")
}

func TestSubscriptionsLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	rr := do(t, h, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "ftp://x", Events: []string{model.EventRunCompleted}}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "http://x", Events: []string{"route.updated"}}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "http://x", Events: []string{model.EventRunCompleted}}, "")
	require.Equal(t, http.StatusCreated, rr.Code)
	var sub model.Subscription
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))

	rr = do(t, h, http.MethodGet, "/v1/subscriptions?limit=10", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), sub.ID)

	rr = do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries?status=failed", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/admin/webhook-deliveries/missing/retry", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunCompletedWebhookIsDelivered(t *testing.T) {
	var mu sync.Mutex
	var got []string
	var signed bool
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := webhooks.VerifyRequest("shh", r)
		mu.Lock()
		defer mu.Unlock()
		signed = ok
		var evt struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(body, &evt)
		got = append(got, evt.Type)
	}))
	defer hook.Close()

	s := newTestServer(t, testConfig())
	h := s.Handler()
	rr := do(t, h, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: hook.URL, Events: []string{model.EventRunCompleted}, Secret: "shh"}, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	worker := s.NewWebhookWorker()
	worker.Start()
	defer close(worker.Stop)

	waitFinished(t, s, submit(t, h, model.RunRequest{Instance: sampleInstance}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{model.EventRunCompleted}, got)
	assert.True(t, signed)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.RPS = 0.001
	cfg.Rate.Burst = 1
	s := newTestServer(t, cfg)
	h := s.Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/ledger", nil, "").Code)
	rr := do(t, h, http.MethodGet, "/v1/ledger", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil, "").Code)
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowOrigins = "https://ops.example"
	h := newTestServer(t, cfg).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/v1/runs", nil)
	req.Header.Set("Origin", "https://ops.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://ops.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpsEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	waitFinished(t, s, submit(t, h, model.RunRequest{Instance: sampleInstance}))

	rr := do(t, h, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vns_runs_total")
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="POST",path="/v1/runs",status="202"}`)

	rr = do(t, h, http.MethodGet, "/debug/info", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Contains(t, info, "build")
	assert.NotContains(t, rr.Body.String(), "hmac_secret")

	rr = do(t, h, http.MethodGet, "/openapi.yaml", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "openapi: 3"))

	rr = do(t, h, http.MethodGet, "/docs", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "swagger-ui")
}

func TestRouteLabel(t *testing.T) {
	for path, want := range map[string]string{
		"/v1/runs":                             "/v1/runs",
		"/v1/runs/abc":                         "/v1/runs/{id}",
		"/v1/runs/abc/events/stream":           "/v1/runs/{id}/events/stream",
		"/v1/runs/abc/solution":                "/v1/runs/{id}/solution",
		"/v1/subscriptions/s1":                 "/v1/subscriptions/{id}",
		"/v1/admin/webhook-deliveries/x/retry": "/v1/admin/webhook-deliveries/{id}/retry",
		"/wp-login.php":                        "other",
	} {
		assert.Equal(t, want, routeLabel(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}
}
