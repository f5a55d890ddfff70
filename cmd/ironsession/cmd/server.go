package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/api"
	"github.com/jmcleod/ironsession/internal/app"
	"github.com/jmcleod/ironsession/web"
)

var (
	addr    string
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the session server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = addr
		}
		if tlsCert != "" || tlsKey != "" {
			cfg.Server.TLSCert, cfg.Server.TLSKey = tlsCert, tlsKey
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.Store.Encrypt || cfg.CSRF.EncryptCookies {
			if err := a.Keys.CreateIfAbsent(); err != nil {
				return err
			}
		}

		handler, err := newRouter(a, logger)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		useTLS := cfg.Server.TLSCert != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("starting server", "addr", cfg.Server.Addr, "tls", useTLS, "store", a.StorePath())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// newRouter mounts the JSON API under /api/v1 and the demo form at /.
func newRouter(a *app.App, logger *slog.Logger) (http.Handler, error) {
	pages, err := web.New(a.CSRF, web.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", api.New(a.CSRF, api.WithLogger(logger)).Router())
	r.Mount("/", pages.Router())
	return r, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
