package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/class-grouper/internal/application/query"
	"github.com/alem-hub/class-grouper/internal/infrastructure/messaging"
	httpapi "github.com/alem-hub/class-grouper/internal/interface/http"
	"github.com/alem-hub/class-grouper/internal/interface/http/handlers"
	"github.com/alem-hub/class-grouper/pkg/logger"
	"github.com/alem-hub/class-grouper/pkg/telemetry"
)

// serveCmd runs the HTTP API and, when NATS_URL is set, the NATS responder.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and NATS responder",
	Long: `Run the grouping service.

The HTTP API listens on HTTP_HOST:HTTP_PORT. When NATS_URL is set, grouping
requests on NATS_SUBJECT are answered as well, sharing the NATS_QUEUE queue
group with other instances. SIGINT or SIGTERM triggers a graceful shutdown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	log.Info("starting class grouper",
		logger.String("version", cfg.App.Version),
		logger.String("roster_source", string(cfg.Roster.Source)),
	)

	shutdownTracing, err := telemetry.Setup(telemetry.Options{
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Enabled:        cfg.Observability.TracingEnabled,
		Output:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Infrastructure
	// ─────────────────────────────────────────────────────────────────────────
	var in infra
	defer func() {
		log.Info("closing connections...")
		in.close()
	}()

	if err := in.openRosterSource(ctx, cfg, log); err != nil {
		return err
	}
	limiter, err := in.openRateLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := in.openNATS(ctx, cfg, log); err != nil {
		return err
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if in.db != nil {
		health.AddCheck("postgres", in.db.Check)
	}
	if in.redis != nil {
		health.AddCheck("redis", handlers.NewPingCheck(in.redis))
	}
	if in.nc != nil {
		health.AddCheck("nats", handlers.NewConnectedCheck(in.nc))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Application
	// ─────────────────────────────────────────────────────────────────────────
	groupHandler := newGroupStudentsHandler(cfg, 0, in.rosters, log)

	server := httpapi.NewServer(httpConfig(), httpapi.Dependencies{
		GroupStudentsHandler: groupHandler,
		GetRosterHandler:     query.NewGetRosterHandler(in.rosters),
		ListRostersHandler:   query.NewListRostersHandler(in.rosters),
		RateLimiter:          limiter,
		Logger:               log,
		HealthChecker:        health,
		Version:              cfg.App.Version,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Run until a signal arrives or a component fails
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if in.nc != nil {
		responder := messaging.NewResponder(in.nc, groupHandler, natsConfig(cfg), log)
		g.Go(func() error { return responder.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

func httpConfig() httpapi.Config {
	hc := httpapi.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	hc.AllowedOrigins = cfg.HTTP.CORSOrigins
	hc.EnableCORS = len(cfg.HTTP.CORSOrigins) > 0
	hc.EnableTracing = cfg.Observability.TracingEnabled
	hc.TrustedProxies = cfg.HTTP.TrustedProxies
	return hc
}
