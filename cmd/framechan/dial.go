package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/framechan/internal/auth"
	"github.com/danmuck/framechan/internal/config"
	"github.com/danmuck/framechan/internal/link"
	"github.com/danmuck/framechan/internal/transport/wsport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errConnLost = errors.New("connection lost")

func dialCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a listener and send stdin lines as messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLinkConfig(path)
			if err != nil {
				return err
			}
			if err := cfg.ValidateDial(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDial(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "framechan.toml", "path to link config")
	return cmd
}

// runDial posts each input line as a JSON string once the channel is up and
// prints replies to out. It returns at EOF, on ctx cancellation, or when the
// connection drops.
func runDial(ctx context.Context, cfg config.LinkConfig, in io.Reader, out io.Writer) error {
	tlsCfg, err := cfg.ClientTLS()
	if err != nil {
		return err
	}
	hub := wsport.NewHub(cfg.Origin,
		wsport.WithLogger(hubLogger(cfg)),
		wsport.WithTLSConfig(tlsCfg),
		wsport.WithDialHeader(auth.Header(cfg.LinkToken)))
	defer hub.Close()
	conn, err := hub.Dial(ctx, cfg.DialURL)
	if err != nil {
		return err
	}

	lc := link.FromSession(cfg.Session())
	lc.Frame = conn
	lc.Identity = cfg.Identity
	svc, err := link.New(hub, lc, link.WithErrorHandler(func(err error) {
		log.Error().Err(err).Msg("link error")
	}))
	if err != nil {
		return err
	}
	defer svc.Close()
	w := &lineWriter{out: out}
	if _, err := svc.AddHandler(w.print); err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	select {
	case <-svc.Ready():
		log.Info().Str("identity", svc.Identity()).Str("target", cfg.TargetOrigin).Msg("channel initialized")
	case <-conn.Done():
		return errConnLost
	case <-ctx.Done():
		return nil
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := svc.PostMessage(line); err != nil {
				log.Warn().Err(err).Msg("post failed")
			}
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case <-conn.Done():
			return errConnLost
		case <-ctx.Done():
			return nil
		}
	}
}
