// Package server exposes a listening link over HTTP: the websocket endpoint
// peers dial, a status view of the channel registry, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/framechan/internal/auth"
	"github.com/danmuck/framechan/internal/link"
	"github.com/danmuck/framechan/internal/observability"
	"github.com/danmuck/framechan/internal/transport/wsport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Server struct {
	svc      *link.Service
	hub      *wsport.Hub
	router   *gin.Engine
	logger   zerolog.Logger
	started  time.Time
	linkAuth auth.Validator
	certFile string
	keyFile  string
}

type Option func(*Server)

// WithLinkAuth requires v to accept the token presented on /link.
func WithLinkAuth(v auth.Validator) Option {
	return func(s *Server) {
		s.linkAuth = v
	}
}

// WithTLS serves HTTPS from the given PEM files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// New builds the router for svc, which must be subscribed to hub.
func New(svc *link.Service, hub *wsport.Hub, opts ...Option) *Server {
	observability.RegisterMetrics()
	logger := log.Logger.With().Str("component", "server").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(svc.Identity()))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		svc:     svc,
		hub:     hub,
		router:  r,
		logger:  logger,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		tls := s.certFile != "" && s.keyFile != ""
		s.logger.Info().
			Str("addr", addr).
			Str("identity", s.svc.Identity()).
			Bool("tls", tls).
			Bool("link_auth", s.linkAuth != nil).
			Msg("listening")
		if tls {
			errCh <- srv.ListenAndServeTLS(s.certFile, s.keyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
