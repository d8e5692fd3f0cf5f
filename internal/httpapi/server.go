// Package httpapi wires the HTTP surface of the tally service. Handlers act
// as the external client of the document store: plain reads and writes, no
// transactions. The aggregation engine reacts to these writes through the
// store's change feed, so totals and timestamps materialize asynchronously.
package httpapi

import (
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tinoosan/tally/internal/docstore"
)

// Server wires handlers and middleware using Chi.
type Server struct {
	store docstore.Store
	log   *slog.Logger
	rt    *chi.Mux
}

// New constructs the HTTP server with routes and middleware. The logger is
// used by request/response logging and panic recovery.
func New(store docstore.Store, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	s := &Server{store: store, log: logger, rt: r}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints.
func (s *Server) routes() {
	// Reports
	s.rt.Post("/v1/reports", s.postReport)
	s.rt.Get("/v1/reports/{id}", s.getReport)
	s.rt.Delete("/v1/reports/{id}", s.deleteReport)
	// Expenses
	s.rt.Post("/v1/expenses", s.postExpense)
	s.rt.Get("/v1/expenses/{id}", s.getExpense)
	s.rt.Patch("/v1/expenses/{id}", s.patchExpense)
	s.rt.Delete("/v1/expenses/{id}", s.deleteExpense)
	// Misc
	s.rt.Get("/hello", s.hello)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
}
