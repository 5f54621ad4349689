// Package api is the thin HTTP shell over the engine: one turn endpoint
// plus health/version. Transport concerns stay out of the engine itself.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/closerlabs/convoengine/internal/api/middleware"
	"github.com/closerlabs/convoengine/internal/config"
	"github.com/closerlabs/convoengine/internal/engine"
	"github.com/closerlabs/convoengine/pkg/models"
)

// NewRouter creates the HTTP router.
func NewRouter(cfg *config.Config, eng *engine.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/{sessionID}/turn", turnHandler(eng))
	})

	return r
}

func turnHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		req.SessionID = chi.URLParam(r, "sessionID")
		if req.SessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id required"})
			return
		}

		resp := eng.ProcessTurn(r.Context(), &req)
		writeJSON(w, http.StatusOK, resp)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": cfg.Version})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
