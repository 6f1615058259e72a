// Command server runs an HTTP service that resolves the caller of every
// request with the configured strategy (session, local or remote) and
// exposes the result on GET /v1/whoami.
//
// Configuration is read from a YAML file and PRINCIPAL_* environment
// variables; see pkg/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rhuss/principal/pkg/config"
	"github.com/rhuss/principal/pkg/debug"
)

func main() {
	configPath := pflag.String("config", "", "path to the YAML config file")
	logLevel := pflag.String("log-level", "", "log level: TRACE, DEBUG, INFO, WARN or ERROR")
	debugCategories := pflag.String("debug", "", "comma-separated debug categories (auth, credential, session, store, remote, config, all)")
	pflag.Parse()

	debug.Init(*debugCategories, *logLevel)

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Log("config", "configuration loaded",
		"strategy", cfg.Auth.Strategy,
		"required", cfg.Auth.Required,
		"credentials", cfg.Auth.Credentials.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := newDeps(slog.Default())
	defer deps.close()

	handler, err := newHandler(ctx, cfg, deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "strategy", cfg.Auth.Strategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
