package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/feedvault/feedvault/internal/archive"
	"github.com/feedvault/feedvault/internal/ingestion"
	"github.com/feedvault/feedvault/internal/ledger"
	"github.com/feedvault/feedvault/internal/scheduler"
)

// poller is the part of the scheduler the handlers use.
type poller interface {
	Trigger() error
	LastRun() (time.Time, error)
}

// pinger is implemented by ledgers backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	store  *archive.Store
	poller poller
	ledger ledger.Recorder
	logger *zap.Logger
}

func newServer(store *archive.Store, p poller, ledger ledger.Recorder, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{store: store, poller: p, ledger: ledger, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /internal/poll", s.handlePoll)
	mux.HandleFunc("GET /api/posts/{postID}", s.handleGetPost)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.ledger.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "ledger unreachable")
			return
		}
	}

	resp := map[string]any{"status": "ok"}
	last, err := s.poller.LastRun()
	if !last.IsZero() {
		resp["last_poll"] = last.UTC().Format(time.RFC3339)
	}
	if err != nil {
		resp["last_poll_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if err := s.poller.Trigger(); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrPassRunning):
			writeError(w, http.StatusConflict, "poll already running")
			return
		case errors.Is(err, scheduler.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		s.logger.Error("poll trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "poll trigger failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postID")
	view, err := ingestion.Lookup(s.store, postID)
	if err != nil {
		var corrupt *archive.CorruptIndexError
		if errors.As(err, &corrupt) {
			s.logger.Error("corrupt index", zap.String("path", corrupt.Path), zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !view.Known && view.Info == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
