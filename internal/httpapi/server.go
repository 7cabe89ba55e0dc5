// Package httpapi exposes the core's HTTP ingress (spec.md §6): tracker
// CRUD, revision listing/forcing/clearing, and a status probe, all routed
// through go-chi/chi the way the JakeFAU-realtime-cpi-crawler corpus wires
// its internal/api package (request-id/logging/recover middleware chain,
// writeJSON/writeError response helpers).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/internal/log"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/orchestrator"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// Version is reported by GET /api/status.
const Version = "0.1.0"

// Server wires the HTTP handlers to the Persistence Layer, the Job
// Scheduler, and the Tracker Orchestrator.
type Server struct {
	router              chi.Router
	store               storage.Store
	sched               *scheduler.Scheduler
	revisions           *revisions.Store
	orch                *orchestrator.Orchestrator
	logger              log.Logger
	defaultMaxRevisions int
}

// NewServer constructs a Server with its middleware chain and routes
// mounted, per spec.md §6's enumerated surface. defaultMaxRevisions backs
// tracker creation/update when a request omits config.revisionsRetained,
// sourced from the operator-configured trackers.max_revisions (spec.md §6).
func NewServer(store storage.Store, sched *scheduler.Scheduler, revStore *revisions.Store, orch *orchestrator.Orchestrator, defaultMaxRevisions int) *Server {
	if defaultMaxRevisions <= 0 {
		defaultMaxRevisions = models.DefaultRevisionsRetained
	}
	s := &Server{
		store:               store,
		sched:               sched,
		revisions:           revStore,
		orch:                orch,
		logger:              log.For(log.Fields{Component: "httpapi"}),
		defaultMaxRevisions: defaultMaxRevisions,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Route("/trackers", func(r chi.Router) {
			r.Post("/", s.createTracker)
			r.Get("/", s.listTrackers)
			r.Delete("/", s.deleteTrackersByTag)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getTracker)
				r.Put("/", s.updateTracker)
				r.Delete("/", s.deleteTracker)
				r.Route("/revisions", func(r chi.Router) {
					r.Get("/", s.listRevisions)
					r.Post("/", s.runNow)
					r.Delete("/", s.dropRevisions)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Infof("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError implements spec.md §7's user-visible API error envelope:
// `{ message }` for validation/404/explicit client errors.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}
