// Package server assembles the ShopBot services and runs the HTTP server
// alongside its background workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/shopbot/internal/api"
	"github.com/rcourtman/shopbot/internal/auth"
	"github.com/rcourtman/shopbot/internal/billing"
	"github.com/rcourtman/shopbot/internal/chat"
	"github.com/rcourtman/shopbot/internal/config"
	"github.com/rcourtman/shopbot/internal/llm"
	"github.com/rcourtman/shopbot/internal/logging"
	"github.com/rcourtman/shopbot/internal/payments"
	"github.com/rcourtman/shopbot/internal/promo"
	"github.com/rcourtman/shopbot/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Run starts the API server with graceful shutdown.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "shopbot",
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}
	return serve(ctx, cfg, version, ln, payments.NewStripeGateway(cfg.StripeSecretKey))
}

func serve(ctx context.Context, cfg *config.Config, version string, ln net.Listener, gateway payments.Gateway) error {
	defer ln.Close()

	log.Info().Str("version", version).Str("environment", cfg.Environment).Msg("Starting ShopBot API")

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	tokens, err := auth.NewIssuer(cfg.SecretKey, cfg.JWTAlgorithm, cfg.AccessTokenTTL())
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}

	dialer := llm.NewCachingDialer()
	anthropic := llm.NewAnthropicClientWithBaseURL(cfg.AnthropicAPIKey, cfg.DefaultAIModel, cfg.AnthropicBaseURL, cfg.AITimeout, dialer)
	breaker := llm.NewBreaker(anthropic, llm.BreakerSettings{})

	promos := promo.NewService(db)
	reconciler := billing.NewReconciler(db, cfg.TrialDays)

	deps := &api.Deps{
		Config: cfg,
		Store:  db,
		Chat: chat.NewService(breaker, db, billing.NewUsageGate(db), chat.Config{
			Model:       cfg.DefaultAIModel,
			MaxTokens:   cfg.AIMaxTokens,
			Temperature: cfg.AITemperature,
		}),
		Promos: promos,
		Checkout: payments.NewCheckout(db, promos, gateway, payments.CheckoutConfig{
			PriceID:    cfg.StripePriceIDBasic,
			TrialDays:  cfg.TrialDays,
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
		}),
		Webhook: payments.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler, db),
		Tokens:  tokens,
		Breaker: breaker,
		Version: version,
	}
	if cfg.StripeWebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set; webhook endpoint will answer 503")
	}

	srv := &http.Server{
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("ShopBot API listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	g.Go(func() error {
		billing.NewGraceEnforcer(db, cfg.GraceDays).Run(gctx)
		return nil
	})

	g.Go(func() error {
		billing.RunStatusMetrics(gctx, db)
		return nil
	})

	g.Go(func() error {
		dialer.RunRefresh(gctx, 0)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("ShopBot API stopped")
	return err
}
