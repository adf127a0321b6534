// Package server exposes registered deployments over the OpenAI-compatible
// HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr              string
	HeartbeatInterval time.Duration
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

type Option func(*Server)

// WithTap records every exchange on t.
func WithTap(t Tap) Option {
	return func(s *Server) { s.tap = t }
}

type Server struct {
	cfg     Config
	router  *Router
	tap     Tap
	handler http.Handler
}

func New(cfg Config, router *Router, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg.withDefaults(),
		router: router,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /openai/deployments/{deployment_id}/chat/completions", s.handleChatCompletion)
	mux.HandleFunc("POST /openai/deployments/{deployment_id}/rate", s.handleRate)
	mux.HandleFunc("POST /openai/deployments/{deployment_id}/tokenize", s.handleTokenize)
	mux.HandleFunc("POST /openai/deployments/{deployment_id}/truncate_prompt", s.handleTruncatePrompt)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.handler = requestID(accessLog(recovery(mux)))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.handler,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Strs("deployments", s.router.Deployments()).Msg("chatkit server started")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
