package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"portenta-bridge/internal/config"
	"portenta-bridge/internal/events"
	"portenta-bridge/internal/hub"
	"portenta-bridge/internal/registry"
)

type Server struct {
	http    *http.Server
	cfg     config.WebConfig
	store   *registry.Store
	evbuf   events.Buffer
	peers   *hub.Hub
	started time.Time
}

func New(cfg config.WebConfig, store *registry.Store, evbuf events.Buffer, peers *hub.Hub) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		evbuf:   evbuf,
		peers:   peers,
		started: time.Now(),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           withCommonHeaders(s.Handler()),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the API routes without the common headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/signals", s.handleSignals)
	mux.HandleFunc("/api/v1/events/stream", s.handleEventsStream)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Printf("[web] listening on http://%s", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shCtx); err != nil {
			log.Printf("[web] shutdown error: %v", err)
		} else {
			log.Printf("[web] stopped")
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS заголовки
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
