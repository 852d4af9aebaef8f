package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njchilds90/symcore"
	"github.com/njchilds90/symcore/internal/store"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type server struct {
	pool     *symcore.Pool
	store    store.Store
	log      *slog.Logger
	gatherer prometheus.Gatherer
}

// newHandler routes:
//
//	POST   /tool         execute a tool call
//	GET    /schema       tool schema for agent registration
//	GET    /health       liveness
//	GET    /metrics      Prometheus metrics
//	GET    /store        stored keys
//	POST   /store        evaluate and store under a fresh key
//	PUT    /store/{key}  evaluate and store under key
//	GET    /store/{key}  stored expression
//	DELETE /store/{key}
func newHandler(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Post("/tool", s.handleTool)
	r.Get("/schema", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, symcore.ToolSpec())
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"workers": s.pool.Size(),
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/store", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleSave)
		r.Put("/{key}", s.handleSave)
		r.Get("/{key}", s.handleLoad)
		r.Delete("/{key}", s.handleDelete)
	})
	return r
}

func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads a single JSON value and rejects unknown fields and
// trailing data.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("invalid JSON: trailing data")
	}
	return nil
}

func (s *server) handleTool(w http.ResponseWriter, r *http.Request) {
	var req symcore.ToolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var resp symcore.ToolResponse
	err := s.pool.Do(r.Context(), func(k *symcore.Kernel) error {
		resp = symcore.HandleToolCall(k, req)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if resp.Error != "" {
		s.log.Debug("tool call failed", "tool", req.Tool, "kind", resp.Kind, "err", resp.Error)
	}
	writeJSON(w, http.StatusOK, resp)
}

type storeEntry struct {
	Key  string `json:"key,omitempty"`
	Expr string `json:"expr"`
}

// canonical parses and evaluates text on the pool and returns the printed
// normal form.
func (s *server) canonical(ctx context.Context, text string) (string, error) {
	var out string
	err := s.pool.Do(ctx, func(k *symcore.Kernel) error {
		e, err := k.ParseEval(text)
		if err != nil {
			return err
		}
		out, err = k.Stringify(e)
		return err
	})
	return out, err
}

func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	var body storeEntry
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	var text string
	key, err := store.SaveExpr(ctx, s.store, chi.URLParam(r, "key"), func() (string, error) {
		var err error
		text, err = s.canonical(ctx, body.Expr)
		return text, err
	})
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, storeEntry{Key: key, Expr: text})
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var out string
	err := store.LoadExpr(r.Context(), s.store, key, func(text string) (err error) {
		out, err = s.canonical(r.Context(), text)
		return err
	})
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, storeEntry{Key: key, Expr: out})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case symcore.KindOf(err) != 0:
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, symcore.ErrPoolClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
