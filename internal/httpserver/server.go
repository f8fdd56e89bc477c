package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/variantlabs/experiment-controller/internal/auth"
	"github.com/variantlabs/experiment-controller/internal/models"
	"github.com/variantlabs/experiment-controller/internal/stats"
	"github.com/variantlabs/experiment-controller/internal/store"
	"github.com/variantlabs/experiment-controller/internal/sweep"
)

type Server struct {
	sweeper *sweep.Sweeper
	store   store.Store
	// authSecret guards the sweep trigger; empty disables the guard.
	authSecret string
	// sweepTimeout bounds one triggered sweep end to end.
	sweepTimeout time.Duration
}

func New(sweeper *sweep.Sweeper, st store.Store, authSecret string, sweepTimeout time.Duration) *Server {
	if sweepTimeout <= 0 {
		sweepTimeout = 5 * time.Minute
	}
	return &Server{
		sweeper:      sweeper,
		store:        st,
		authSecret:   authSecret,
		sweepTimeout: sweepTimeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/experiments/{id}/significance", s.handleSignificance)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(s.authSecret))
		r.Post("/sweep/run", s.handleRunSweep)
	})

	return r
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.sweepTimeout)
	defer cancel()

	report, err := s.sweeper.Run(ctx, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleSignificance is the canonical read path for display surfaces: the
// same aggregation and the same CDF approximation the sweep uses, so charts
// and badges never re-derive confidence on their own.
func (s *Server) handleSignificance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exp, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "experiment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var scoped []models.Event
	for _, ev := range events {
		if ev.ExperimentID == exp.ID {
			scoped = append(scoped, ev)
		}
	}

	statsByVariant := stats.Aggregate(exp.Variants, scoped)
	verdict := stats.Evaluate(exp.Variants, statsByVariant)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"experimentId": exp.ID,
		"status":       exp.Status,
		"stats":        statsByVariant,
		"verdict":      verdict,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
