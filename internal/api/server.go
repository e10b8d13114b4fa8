// Package api exposes the mesh node's runtime over an authenticated HTTP
// surface. Grounded on the teacher's api_node.go / http_gateway patterns:
// chi router, chi's built-in Logger/Recoverer middleware, a bespoke API-key
// auth layer, and a token-bucket rate limiter in front of every /api/v1 route.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"synnergy-network/core"
)

// ServerConfig configures the HTTP surface's auth and rate-limit behavior.
type ServerConfig struct {
	APIKey          string
	RateLimitPerSec int
}

// Server wires chi to a Runtime. It holds no state of its own beyond what is
// needed to serve requests; all mutable state lives in the Runtime.
type Server struct {
	rt     *core.Runtime
	cfg    ServerConfig
	log    *logrus.Logger
	router chi.Router
}

// NewServer builds the chi router and registers every route.
func NewServer(rt *core.Runtime, cfg ServerConfig, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 20
	}
	s := &Server{rt: rt, cfg: cfg, log: log}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(s.cfg.RateLimitPerSec))
		r.Use(s.authMiddleware)

		r.Get("/node/info", s.handleNodeInfo)

		r.Route("/dag", func(r chi.Router) {
			r.Post("/blocks", s.handleDagPut)
			r.Get("/blocks/{cid}", s.handleDagGet)
			r.Post("/blocks/{cid}/pin", s.handleDagPin)
			r.Post("/blocks/{cid}/unpin", s.handleDagUnpin)
			r.Post("/prune", s.handleDagPrune)
			r.Get("/status", s.handleDagStatus)
		})

		r.Route("/mana", func(r chi.Router) {
			r.Get("/{did}/balance", s.handleManaBalance)
		})

		r.Route("/mesh", func(r chi.Router) {
			r.Post("/jobs", s.handleSubmitJob)
			r.Get("/jobs/{cid}", s.handleGetJob)
			r.Post("/jobs/{cid}/receipts", s.handleSubmitReceipt)
		})

		r.Route("/governance", func(r chi.Router) {
			r.Post("/proposals", s.handleGovSubmit)
			r.Get("/proposals/{id}", s.handleGovGet)
			r.Post("/proposals/{id}/votes", s.handleGovVote)
			r.Post("/proposals/{id}/close", s.handleGovClose)
		})

		r.Route("/federation", func(r chi.Router) {
			r.Get("/status", s.handleFederationStatus)
		})
	})

	return r
}

// writeError emits the standard {error, message, details, timestamp} shape.
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     http.StatusText(status),
		"message":   err.Error(),
		"details":   nil,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForErr(err error) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsInvalidInput(err):
		return http.StatusBadRequest
	case core.IsUnauthorized(err):
		return http.StatusUnauthorized
	case core.IsBackpressure(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// authMiddleware accepts either "X-API-Key: <key>" or "Authorization:
// Bearer <key>", matching cfg.APIKey. An empty configured key disables auth
// (local development only).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				key = auth[7:]
			}
		}
		if key != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, core.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a single shared token bucket to every /api/v1
// request, before auth runs and whether or not the request carries a key;
// /healthz and /readyz are not limited. Grounded on the teacher's
// golang.org/x/time/rate use
// in virtual_machine.go for gas-adjacent throttling.
func rateLimitMiddleware(perSec int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(perSec), perSec)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, core.ErrBackpressure)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reqCtx(r *http.Request) context.Context { return r.Context() }
