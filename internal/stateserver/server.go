// Package stateserver exposes the state engine over a loopback-only JSON
// HTTP API: one GET to read the current snapshot, three POSTs to trigger
// engine actions, and a 404 for anything else.
package stateserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/softlynn/lighthouse-coach/internal/httputil"
	"github.com/softlynn/lighthouse-coach/internal/stateengine"
)

// ANSI escape codes for status-code-colored access logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status, and duration for every
// request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		portPrefix := ""
		if host := r.Host; host != "" {
			if _, p, err := net.SplitHostPort(host); err == nil {
				portPrefix = ":" + p
			}
		}
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, portPrefix+r.URL.Path, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Server is the loopback HTTP front end over a stateengine.Engine.
type Server struct {
	engine *stateengine.Engine
	mux    *http.ServeMux

	shutdownCh chan struct{}
}

// New builds a Server over engine. The engine is assumed already started;
// Server never calls Start or Stop on it. /shutdown only unblocks a
// concurrent Server.Start's context wait — it does not stop the engine.
func New(engine *stateengine.Engine) *Server {
	return &Server{
		engine:     engine,
		shutdownCh: make(chan struct{}, 1),
	}
}

// ServeMux returns the server's handler, building it on first call so
// callers can register additional routes before Start without losing them.
func (s *Server) ServeMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/run_diagnostic", s.handleRunDiagnostic)
	mux.HandleFunc("/recompute", s.handleRecompute)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	mux.HandleFunc("/", s.handleNotFound)
	s.mux = mux
	return mux
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	httputil.WriteJSONOK(w, s.engine.Snapshot())
}

func (s *Server) handleRunDiagnostic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	started, reason := s.engine.TriggerDiagnostic()
	if !started {
		httputil.WriteJSONOK(w, map[string]interface{}{"ok": false, "error": reason})
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.ForceRecompute()
	httputil.WriteJSONOK(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"ok": true})
	select {
	case s.shutdownCh <- struct{}{}:
	default:
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	httputil.NotFound(w, "not found")
}

// Start runs the HTTP server on listen (normally 127.0.0.1:<port>) until ctx
// is canceled, a client POSTs /shutdown, or ListenAndServe itself fails.
// ListenAndServe runs in a goroutine reporting to errCh, and the select
// below races ctx.Done, the in-process shutdown signal, and that error
// channel.
func (s *Server) Start(ctx context.Context, listen string) error {
	mux := s.ServeMux()
	server := &http.Server{
		Addr:    listen,
		Handler: LoggingMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("state server shutdown error: %v", err)
			if closeErr := server.Close(); closeErr != nil {
				return fmt.Errorf("force close state server: %w", closeErr)
			}
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return shutdown()
	case <-s.shutdownCh:
		return shutdown()
	case err := <-errCh:
		return err
	}
}
