package httpapi

import (
	"context"
	"fmt"
	"net/http"
)

// hello is a trivial query-param echo endpoint kept as a smoke test.
func (s *Server) hello(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeErr(w, http.StatusBadRequest, "no name query parameter provided, can't say hello to you", "missing_name")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Hello %s!", name)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	toJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports readiness; stores with external connectivity expose Ready.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if readier, ok := s.store.(interface{ Ready(context.Context) error }); ok {
		if err := readier.Ready(r.Context()); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "store not ready", "not_ready")
			return
		}
	}
	toJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
