// Package router implements the HTTP request router named in spec.md
// §4.1: a single-binding local server that classifies inbound text
// (route_text), dispatches background agent workers, and exposes the
// question-rendezvous and Google-façade endpoints. Style grounded on the
// teacher's internal/api/api.go (Server bundling deps, NewServer,
// Start(ctx) error, http.NewServeMux, writeJSON/writeError helpers,
// goroutine-driven graceful shutdown).
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nrlabs/ashleyd/internal/commands"
	"github.com/nrlabs/ashleyd/internal/config"
	"github.com/nrlabs/ashleyd/internal/dispatch"
	"github.com/nrlabs/ashleyd/internal/google"
	"github.com/nrlabs/ashleyd/internal/jobs"
	"github.com/nrlabs/ashleyd/internal/memory"
	"github.com/nrlabs/ashleyd/internal/rendezvous"
)

// Server is the HTTP router.
type Server struct {
	Cfg        *config.Config
	Pipelines  *dispatch.Pipelines
	Rendezvous *rendezvous.Store
	Memory     *memory.Store
	Jobs       *jobs.Compiler
	Commands   *commands.Handlers
	Google     google.Client
	Logger     *slog.Logger

	httpServer *http.Server
	startTime  time.Time
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start begins listening on the configured loopback port, per spec.md §4.1.
// Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()
	mux := http.NewServeMux()

	mux.HandleFunc("/route", s.withAccessLog(s.handleRoute))
	mux.HandleFunc("/owner-message", s.withAccessLog(s.handleOwnerMessage))
	mux.HandleFunc("/ask-owner", s.withAccessLog(s.handleAskOwner))
	mux.HandleFunc("/reply", s.withAccessLog(s.handleReply))
	mux.HandleFunc("/pending", s.withAccessLog(s.handlePending))
	mux.HandleFunc("/healthz", s.withAccessLog(s.handleHealthz))

	mux.HandleFunc("/gmail/unread", s.withAccessLog(s.handleGmailUnread))
	mux.HandleFunc("/gmail/inbox", s.withAccessLog(s.handleGmailInbox))
	mux.HandleFunc("/gmail/send", s.withAccessLog(s.handleGmailSend))
	mux.HandleFunc("/gmail/read", s.withAccessLog(s.handleGmailRead))
	mux.HandleFunc("/gmail/search", s.withAccessLog(s.handleGmailSearch))
	mux.HandleFunc("/calendar/today", s.withAccessLog(s.handleCalendarToday))
	mux.HandleFunc("/calendar/week", s.withAccessLog(s.handleCalendarWeek))
	mux.HandleFunc("/calendar/create", s.withAccessLog(s.handleCalendarCreate))
	mux.HandleFunc("/calendar/delete", s.withAccessLog(s.handleCalendarDelete))

	addr := fmt.Sprintf("127.0.0.1:%d", s.Cfg.General.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     recoverMiddleware(s.logger())(mux),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger().Info("router starting", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// recoverMiddleware recovers a panicking handler, logs it, and responds
// with 500 instead of crashing the process.
func recoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in handler", "path", r.URL.Path, "panic", rec)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withAccessLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.logger().Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// GET /healthz — liveness endpoint for process supervision (ambient, not
// in spec.md's endpoint table).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":        true,
		"uptime_s":  time.Since(s.startTime).Seconds(),
	})
}
