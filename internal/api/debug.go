package api

import (
	"net/http"
	"time"

	"cluvrp/internal/buildinfo"
	"cluvrp/internal/model"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	counts := map[model.RunStatus]int{}
	for _, run := range s.Runs.List("") {
		counts[run.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.Config.Summary(),
		"runs":   counts,
	})
}
