package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the standalone metrics HTTP server.
type ServerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Address string        `yaml:"address"`
	Port    int           `yaml:"port"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultServerConfig returns sane defaults for the metrics server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
		Path:    "/metrics",
		Timeout: 30 * time.Second,
	}
}

// Server serves a Metrics instance's /metrics and /health endpoints.
type Server struct {
	http *http.Server
	addr string
}

// NewServer builds a Server exposing m's registry per cfg. Call Start to
// begin serving.
func NewServer(cfg ServerConfig, m *Metrics) *Server {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		http: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
			IdleTimeout:  cfg.Timeout,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully, waiting at most 5 seconds for
// in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string { return s.addr }
