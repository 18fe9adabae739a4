package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/cuemby/dismerge/pkg/health"
	"github.com/cuemby/dismerge/pkg/metrics"
)

// Server exposes the readiness and status endpoints of §4.9, plus
// Prometheus metrics, over HTTP — one listener for listen_metrics_urls,
// mirroring the teacher's HealthServer mux (which bundles /health,
// /ready and /metrics behind a single http.ServeMux the same way).
type Server struct {
	checker *Checker
	act     *actor.Actor
	pers    persister.Persister
	mux     *http.ServeMux
}

// NewServer builds a Server answering /readyz, /statusz and /metrics.
func NewServer(checker *Checker, act *actor.Actor, pers persister.Persister) *Server {
	s := &Server{checker: checker, act: act, pers: pers, mux: http.NewServeMux()}
	s.mux.HandleFunc("/readyz", s.readyHandler)
	s.mux.HandleFunc("/statusz", s.statusHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Handler returns the HTTP handler for embedding in another server or
// for ListenAndServe directly.
func (s *Server) Handler() http.Handler { return s.mux }

type readyResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	result := s.checker.Check(r.Context())

	resp := readyResponse{Timestamp: result.CheckedAt}
	code := http.StatusOK
	if result.Healthy {
		resp.Status = "ready"
	} else {
		resp.Status = "not ready"
		resp.Message = result.Message
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := BuildStatus(r.Context(), s.act, s.pers)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

var _ health.Checker = (*Checker)(nil)
