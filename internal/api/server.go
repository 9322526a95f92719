package api

import (
	"context"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cluvrp/internal/auth"
	"cluvrp/internal/config"
	"cluvrp/internal/metrics"
	"cluvrp/internal/runner"
	"cluvrp/internal/store"
	"cluvrp/internal/webhooks"
)

type Server struct {
	Config  config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Runs    *RunRegistry
	Runner  *runner.Runner
	limiter *rate.Limiter
}

// NewServer wires a Server from cfg. The store follows cfg.Store; progress
// events fan out through Redis when cfg.Redis.URL is set and reachable.
func NewServer(cfg config.Config) (*Server, error) {
	s, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	var broker EventBroker = NewBroker()
	if cfg.Redis.URL != "" {
		if rb, err := NewRedisBroker(cfg.Redis.URL); err == nil {
			broker = rb
		} else {
			logrus.WithError(err).Warn("redis broker unavailable, using in-process broker")
		}
	}
	metrics.RegisterDefault()
	srv := &Server{
		Config: cfg,
		Store:  s,
		Pub:    webhooks.NewPublisher(s),
		Auth:   auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker: broker,
		Runs:   NewRunRegistry(cfg.Server.KeepRuns),
		Runner: runner.New(s),
	}
	if cfg.Rate.RPS > 0 {
		burst := cfg.Rate.Burst
		if burst <= 0 {
			burst = 1
		}
		srv.limiter = rate.NewLimiter(rate.Limit(cfg.Rate.RPS), burst)
	}
	return srv, nil
}

// Handler routes every endpoint behind logging, metrics, CORS and rate
// limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Runs
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /events/stream, /solution
	mux.HandleFunc("/v1/ws", s.WSHandler)

	// Ledger
	mux.HandleFunc("/v1/ledger", s.LedgerHandler)

	// Webhooks
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/run-metrics", s.RunMetricsHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.SwaggerHandler)

	return logMiddleware(metrics.Middleware(routeLabel, s.corsMiddleware(s.rateLimit(mux))))
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	w := webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts)
	if s.Config.Webhooks.Interval > 0 {
		w.Interval = s.Config.Webhooks.Interval
	}
	return w
}

// Shutdown cancels running solves and releases the store and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Runs.CancelAll()
	if c, ok := s.Broker.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := s.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
