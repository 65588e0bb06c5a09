package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/msto63/mediaprep/internal/api"
	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/internal/store"
	"github.com/msto63/mediaprep/internal/text"
	"github.com/msto63/mediaprep/internal/text/mlm"
	"github.com/msto63/mediaprep/pkg/core/cache"
	"github.com/msto63/mediaprep/pkg/core/config"
	"github.com/msto63/mediaprep/pkg/core/health"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

var (
	servePort    int
	serveNoStore bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the mediaprep HTTP server.

Routes:
  POST /preprocess, /augment, /preprocess-image, ...   legacy endpoints
  POST /api/v1/{modality}/{preprocess|augment}         versioned endpoints
  GET  /api/v1/ws                                      step streaming
  GET  /api/v1/health, /api/v1/pipelines, /api/v1/runs

Examples:
  mediaprep serve
  mediaprep serve --port 8080 --no-store`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides the config)")
	serveCmd.Flags().BoolVar(&serveNoStore, "no-store", false, "disable the run history")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveNoStore {
		cfg.Store.Enabled = false
	}

	logger := logging.New("mediaprep")

	var (
		runs   store.RunStore
		checks []health.Checker
	)
	if cfg.Store.Enabled {
		s, err := store.NewSQLiteRunStore(store.SQLiteConfig{Path: cfg.Store.Path})
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer s.Close()
		runs = s
		checks = append(checks, health.PingCheck("store", health.StatusUnhealthy, s.Ping))
		logger.Info("Run history enabled", "path", cfg.Store.Path)
	}

	filler, check := maskFiller(cfg)
	if check != nil {
		checks = append(checks, check)
		logger.Info("Mask filler enabled", "url", cfg.MLM.URL, "model", cfg.MLM.Model)
	}

	svc, err := service.New(service.Config{Filler: filler, Store: runs, Logger: logger})
	if err != nil {
		return err
	}
	srv := api.New(api.ConfigFrom(cfg.Server), svc, checks...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("mediaprep")+" "+mutedStyle.Render("listening on http://"+srv.Address()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout.Duration)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

// maskFiller builds the MLM client when enabled. The returned check reports
// degraded while the endpoint is unreachable.
func maskFiller(cfg *config.Config) (text.MaskFiller, health.Checker) {
	if !cfg.MLM.Enabled {
		return nil, nil
	}
	client := mlm.NewClient(mlm.Config{
		BaseURL: cfg.MLM.URL,
		Model:   cfg.MLM.Model,
		Timeout: cfg.MLM.Timeout.Duration,
	})
	filler := mlm.NewCachedFiller(client, cache.Config{
		MaxItems: cfg.MLM.CacheSize,
		TTL:      cfg.MLM.CacheTTL.Duration,
	})
	return filler, health.HTTPCheck("mlm", client.HealthURL(), cfg.MLM.Timeout.Duration, health.StatusDegraded)
}
