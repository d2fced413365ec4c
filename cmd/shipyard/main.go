// Command shipyard serves the grant round ledger over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/shipyard/internal/app"
	"github.com/R3E-Network/shipyard/internal/app/httpapi"
	"github.com/R3E-Network/shipyard/internal/config"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("SHIPYARD_CONFIG"), "path to YAML config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "shipyard: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Logging)

	application, err := app.NewFromConfig(cfg, log.Module("app"))
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		AdminTokens:    cfg.Server.AdminTokens,
		AuditCapacity:  cfg.Server.AuditCapacity,
		AuditLogPath:   cfg.Server.AuditLogPath,
	}, log.Module("http"))
	if err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("build handler: %w", err)
	}
	defer handler.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	handler.StartCleanup(ctx)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("shipyard listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			result = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		result = errors.Join(result, fmt.Errorf("shutdown server: %w", err))
	}
	if err := application.Stop(shutdownCtx); err != nil {
		result = errors.Join(result, fmt.Errorf("stop application: %w", err))
	}
	return result
}
