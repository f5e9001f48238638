package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stonetify/auth"
	"stonetify/config"
	"stonetify/kvstore"
	"stonetify/routes"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the HTTP API. Configuration comes from the environment and an
optional .env file in the working directory.

Without REDIS_ADDR, OAuth state, one-time codes and cached access tokens live
in process memory and a background sweeper drops expired entries.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	missing := config.PrintOAuthConfigSummary(a.logger, a.cfg)
	if len(missing) > 0 && a.cfg.IsProduction() {
		a.logger.Warn("some providers are unavailable", zap.Int("count", len(missing)))
	}

	sessions, err := auth.NewSessions(a.cfg.Security.SessionSecret, a.cfg.Security.SessionTTL)
	if err != nil {
		return err
	}
	a.deps.Sessions = sessions

	for _, store := range a.kv.all() {
		kvstore.StartSweeper(ctx, store, a.cfg.Security.SweepInterval, func(removed int, err error) {
			if err != nil {
				a.logger.Warn("expired entry sweep failed", zap.Error(err))
				return
			}
			if removed > 0 {
				a.logger.Debug("swept expired entries", zap.Int("removed", removed))
			}
		})
	}

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(routes.RequestLogger(a.logger.Named("http")))
	routes.SetupRoutes(r, a.deps, routes.Options{
		DB:           a.db,
		RateLimitRPM: a.cfg.HTTP.RateLimitRPM,
	})

	port := a.cfg.HTTP.Port
	if servePort != "" {
		port = servePort
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server exited")
	return nil
}
