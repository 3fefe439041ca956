package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veltoai/founder-launch/internal/ai/cost"
	"github.com/veltoai/founder-launch/internal/ai/gateway"
	"github.com/veltoai/founder-launch/internal/ai/providers"
	"github.com/veltoai/founder-launch/internal/api"
	"github.com/veltoai/founder-launch/internal/billing"
	"github.com/veltoai/founder-launch/internal/config"
	"github.com/veltoai/founder-launch/internal/logging"
)

var shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the credits API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(parent context.Context) error {
	// Baseline logger for early startup messages
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "velto"})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "velto"})
	log.Info().Str("version", Version).Str("data_dir", cfg.DataDir).Msg("Starting Velto credits server")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.registry.Start(ctx); err != nil {
		return fmt.Errorf("start credit registry: %w", err)
	}

	usage := cost.NewStore(cfg.Credits.UsageRetentionDays)
	if err := usage.SetPersistence(cost.NewDocumentPersistence(svc.store)); err != nil {
		log.Warn().Err(err).Msg("Failed to load AI usage history")
	}

	deps := api.Deps{
		Registry: svc.registry,
		Usage:    usage,
		Version:  Version,
	}

	if set, err := providers.NewFromConfig(&cfg.AI); err != nil {
		log.Warn().Err(err).Msg("Completion gateway disabled")
	} else {
		gw, err := gateway.New(gateway.Options{Providers: set, Usage: usage, AI: &cfg.AI})
		if err != nil {
			return fmt.Errorf("create completion gateway: %w", err)
		}
		deps.Gateway = gw
		log.Info().Strs("providers", set.Names()).Str("default", set.Default()).Msg("Completion gateway ready")

		if cfg.RoutingFile != "" {
			watcher, err := config.NewRoutingWatcher(cfg.RoutingFile, gw.Router().Apply)
			if err != nil {
				return fmt.Errorf("create routing watcher: %w", err)
			}
			watcher.Reload()
			if err := watcher.Start(); err != nil {
				return fmt.Errorf("start routing watcher: %w", err)
			}
			defer watcher.Stop()
		}
	}

	var verifier api.TokenVerifier
	if cfg.Auth.Enabled() {
		verifier, err = api.NewOIDCVerifier(ctx, cfg.Auth)
		if err != nil {
			return fmt.Errorf("configure OIDC: %w", err)
		}
		log.Info().Str("issuer", cfg.Auth.OIDCIssuer).Msg("Bearer token identity enabled")
	}
	deps.Identity = api.NewIdentityResolver(verifier, cfg.Auth.AdminToken)

	prices := billing.NewPriceTable(cfg.Billing.PriceTiers)
	if cfg.Billing.Enabled() {
		deps.Webhook = billing.NewWebhookHandler(cfg.Billing.StripeWebhookSecret, prices, svc.registry)
	}
	if cfg.Billing.StripeSecretKey != "" {
		deps.Checkout = billing.NewCheckout(cfg.Billing, prices)
	}

	handler, err := api.NewRouter(deps)
	if err != nil {
		return fmt.Errorf("create API router: %w", err)
	}

	// ReadHeaderTimeout rather than ReadTimeout: a read deadline would outlive
	// the websocket upgrade on the credit stream.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.AI.GetRequestTimeout() + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdownServer(srv, "API")
	})
	if cfg.MetricsAddr != "" {
		metricsSrv := newMetricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(metricsSrv, "metrics")
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.registry.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("pending", len(svc.registry.Outbox().Pending())).Msg("Credit writes still pending at shutdown")
	}
	if err := usage.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to flush AI usage history")
	}
	log.Info().Msg("Velto credits server stopped")
	return runErr
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

func shutdownServer(srv *http.Server, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Str("server", name).Msg("Server did not shut down cleanly")
		return err
	}
	return nil
}
