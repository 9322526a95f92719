package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

// unlimited paths stay reachable for probes and scrapers.
var unlimited = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !unlimited[r.URL.Path] && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows the comma separated origins in AllowOrigins; "*"
// allows any.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range strings.Split(s.Config.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	if len(allowed) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

var knownRoutes = map[string]bool{
	"/v1/runs": true, "/v1/ws": true, "/v1/ledger": true, "/v1/subscriptions": true,
	"/v1/admin/webhook-deliveries": true, "/v1/admin/run-metrics": true,
	"/healthz": true, "/readyz": true, "/metrics": true, "/debug/info": true,
	"/openapi.yaml": true, "/docs": true,
}

// routeLabel maps a request to a bounded metrics label.
func routeLabel(r *http.Request) string {
	p := r.URL.Path
	switch {
	case knownRoutes[p]:
		return p
	case strings.HasPrefix(p, "/v1/runs/"):
		switch {
		case strings.HasSuffix(p, "/events/stream"):
			return "/v1/runs/{id}/events/stream"
		case strings.HasSuffix(p, "/solution"):
			return "/v1/runs/{id}/solution"
		}
		return "/v1/runs/{id}"
	case strings.HasPrefix(p, "/v1/subscriptions/"):
		return "/v1/subscriptions/{id}"
	case strings.HasPrefix(p, "/v1/admin/webhook-deliveries/"):
		return "/v1/admin/webhook-deliveries/{id}/retry"
	}
	return "other"
}
