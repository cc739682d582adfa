package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatinbox/internal/metrics"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	WebhookPath  string // default: /webhook
	RealtimePath string // default: /ws
	MetricsPath  string // "" disables the metrics endpoint
	Ingest       *Ingest
	Hub          *Hub
	Logger       *slog.Logger
}

// Server mounts the ingest endpoint, the realtime hub, metrics and health.
type Server struct {
	addr    string
	handler http.Handler
	hub     *Hub
	logger  *slog.Logger
	server  *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.RealtimePath == "" {
		cfg.RealtimePath = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+strings.TrimSuffix(cfg.WebhookPath, "/")+"/{tenant}", cfg.Ingest)
	if cfg.Hub != nil {
		mux.Handle("GET "+cfg.RealtimePath, cfg.Hub)
	}
	if cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, metrics.Default.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"mode":   cfg.Ingest.Mode(),
			"uptime": int64(metrics.Default.Uptime().Seconds()),
		})
	})

	return &Server{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		handler: recoverMiddleware(mux, cfg.Logger),
		hub:     cfg.Hub,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func recoverMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic serving request", "path", r.URL.Path, "panic", p)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
