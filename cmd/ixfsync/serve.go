package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ixf-sync/pkg/api"
	"ixf-sync/pkg/auth"
	"ixf-sync/pkg/ixf"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Interval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and optionally import on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().DurationVar(&opts.Interval, "import-interval", 0, "import every ready exchange LAN this often, 0 disables")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	sc := a.cfg.Server
	if opts.Addr != "" {
		sc.Addr = opts.Addr
	}
	if sc.AdminUser == "" {
		a.logger.Warn("no admin user configured, login is disabled")
	}
	s := &api.Server{
		Importer: a.importer,
		Signer:   auth.NewSigner(sc.JWTSecret, sc.TokenTTL),
		Admin:    api.Admin{Username: sc.AdminUser, PasswordHash: sc.AdminPasswordHash},
		Hub:      a.hub,
		Logger:   a.logger,
	}
	tlsFiles := api.TLSFiles{Cert: sc.TLSCert, Key: sc.TLSKey, ClientCA: sc.ClientCA}
	tlsCfg, err := api.ServerTLSConfig(tlsFiles)
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
	}

	if opts.Interval > 0 {
		go scheduleImports(ctx, a, opts.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("admin api listening", "addr", sc.Addr, "tls", tlsFiles.Enabled(), "mtls", tlsFiles.ClientCA != "")
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduleImports runs a saving import of every ready LAN each interval
// until ctx ends. The LAN locks keep replicas from importing the same LAN
// at once.
func scheduleImports(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := a.importer.UpdateAll(ctx, ixf.Options{Save: true})
			if err != nil {
				a.logger.Error("scheduled import failed", "err", err)
				continue
			}
			a.logger.Info("scheduled import done", "lans", len(results), "failed", countFailed(results))
		}
	}
}
