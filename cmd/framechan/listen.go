package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/framechan/internal/auth"
	"github.com/danmuck/framechan/internal/config"
	"github.com/danmuck/framechan/internal/link"
	"github.com/danmuck/framechan/internal/server"
	"github.com/danmuck/framechan/internal/transport/wsport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func listenCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept a peer and print the messages it sends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLinkConfig(path)
			if err != nil {
				return err
			}
			if err := cfg.ValidateListen(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "framechan.toml", "path to link config")
	return cmd
}

// lineWriter serializes handler output.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) print(data json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.out, string(data))
	return err
}

func hubLogger(cfg config.LinkConfig) zerolog.Logger {
	return log.Logger.With().Str("component", "wsport").Str("origin", cfg.Origin).Logger()
}

func newResponder(cfg config.LinkConfig, hub *wsport.Hub, out io.Writer) (*link.Service, error) {
	lc := link.FromSession(cfg.Session())
	lc.Identity = cfg.Identity
	svc, err := link.New(hub, lc)
	if err != nil {
		return nil, err
	}
	w := &lineWriter{out: out}
	if _, err := svc.AddHandler(w.print); err != nil {
		_ = svc.Close()
		return nil, err
	}
	if err := svc.Start(); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

func runListen(ctx context.Context, cfg config.LinkConfig, out io.Writer) error {
	hub := wsport.NewHub(cfg.Origin, wsport.WithLogger(hubLogger(cfg)))
	svc, err := newResponder(cfg, hub, out)
	if err != nil {
		return err
	}
	defer svc.Close()

	go func() {
		select {
		case <-svc.Ready():
			log.Info().Str("identity", svc.Identity()).Msg("channel initialized")
		case <-ctx.Done():
		}
	}()
	var opts []server.Option
	if cfg.LinkToken != "" {
		opts = append(opts, server.WithLinkAuth(auth.StaticToken{Token: cfg.LinkToken}))
	}
	if cfg.TLS.Enabled() {
		opts = append(opts, server.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	return server.New(svc, hub, opts...).ListenAndServe(ctx, cfg.ListenAddr)
}
