package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"formbot/internal/forms"
	"formbot/internal/schedule"
	"formbot/internal/storage"
	"formbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

// Runner executes one entry synchronously (force bypasses gating).
type Runner interface {
	Execute(ctx context.Context, id string, force bool) (forms.Result, error)
}

// TimerSource exposes the pending wake-up registrations.
type TimerSource interface {
	Timers() []schedule.Registration
}

// History reads the execution audit trail.
type History interface {
	RecentExecutions(ctx context.Context, formID string, limit int) ([]storage.ExecutionRecord, error)
}

// Server is the local control surface: run-now, entry listing, timer
// introspection, health. It is not an outward-facing API; bind it to
// localhost.
type Server struct {
	cfg     Config
	log     logx.Logger
	store   *forms.Store
	runner  Runner
	timers  TimerSource
	history History

	srv *http.Server
}

func New(cfg Config, store *forms.Store, runner Runner, timers TimerSource, history History, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, store: store, runner: runner, timers: timers, history: history}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/forms", s.handleListForms)
		r.Post("/forms/{id}/run", s.handleRun)
		r.Get("/forms/{id}/history", s.handleHistory)
		r.Get("/timers", s.handleTimers)
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := s.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8750"
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("api listening", logx.String("addr", addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(sctx)
	s.srv = nil
}

// ---- handlers ----

type runResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.runner.Execute(r.Context(), id, true)
	if err != nil {
		if errors.Is(err, forms.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown form id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Success: res.Success, Message: res.Message()})
}

func (s *Server) handleListForms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

type timerView struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

func (s *Server) handleTimers(w http.ResponseWriter, _ *http.Request) {
	regs := s.timers.Timers()
	out := make([]timerView, 0, len(regs))
	for _, reg := range regs {
		out = append(out, timerView{Key: reg.Key, At: reg.At})
	}
	writeJSON(w, http.StatusOK, out)
}

type historyView struct {
	At      time.Time `json:"at"`
	Forced  bool      `json:"forced"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.store.Find(id); !ok {
		writeError(w, http.StatusNotFound, "unknown form id")
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, []historyView{})
		return
	}
	recs, err := s.history.RecentExecutions(r.Context(), id, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]historyView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyView{At: rec.At, Forced: rec.Forced, Success: rec.Success, Message: rec.Message})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
