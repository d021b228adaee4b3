// Package api exposes the conflict detection engine and its stores over
// HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/terracoord/digcheck/internal/conflict"
	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/store"
)

// Server wires the HTTP routes to the engine and store.
type Server struct {
	store     store.Store
	validator *geometry.Validator
	detector  *conflict.Detector
	limiter   *ipLimiter
}

// New creates a Server. rps and burst configure the per-client rate limit on
// conflict checks; rps <= 0 disables limiting.
func New(st store.Store, v *geometry.Validator, d *conflict.Detector, rps float64, burst int) *Server {
	return &Server{
		store:     st,
		validator: v,
		detector:  d,
		limiter:   newIPLimiter(rps, burst),
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.With(s.limiter.middleware).Post("/conflicts/check", s.handleCheck)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Get("/{id}", s.handleGetProject)
			r.Delete("/{id}", s.handleDeleteProject)
		})

		r.Route("/moratoriums", func(r chi.Router) {
			r.Post("/", s.handleCreateMoratorium)
			r.Get("/", s.handleListMoratoriums)
			r.Post("/{id}/exceptions", s.handleRecordException)
		})

		r.Delete("/exceptions/{id}", s.handleRevokeException)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
