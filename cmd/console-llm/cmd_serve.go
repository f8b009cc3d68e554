package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swingft/console-llm/internal/config"
	domain "github.com/swingft/console-llm/internal/domain/analysis"
	"github.com/swingft/console-llm/internal/infra/httpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a sidecar HTTP service with the model kept warm",
	Long: `Loads the model once and keeps it resident, then accepts analysis
requests over HTTP. Useful when the obfuscator pipeline triggers repeated
runs: the multi-minute model load is paid once instead of per invocation.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, domain.ModeExclude, true)
	if err != nil {
		return err
	}
	defer eng.close()

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpserver.NewRouter(eng.svc, httpserver.Options{
			AuthToken: cfg.Server.AuthToken,
			Checks:    eng.healthChecks(),
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("event=server_start port=%d", cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("event=server_shutdown reason=signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("event=server_shutdown_error error=%v", err)
	}
	return nil
}
