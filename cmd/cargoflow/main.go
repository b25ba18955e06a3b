// Package main запускает HTTP-сервер сервиса cargoflow.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avoronin/cargoflow/internal/config"
	"github.com/avoronin/cargoflow/internal/handler"
	"github.com/avoronin/cargoflow/internal/middleware"
	"github.com/avoronin/cargoflow/internal/model"
	"github.com/avoronin/cargoflow/internal/notify"
	"github.com/avoronin/cargoflow/internal/payment"
	"github.com/avoronin/cargoflow/internal/repository"
	"github.com/avoronin/cargoflow/internal/service"
)

const reaperInterval = time.Minute

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	providers := make(map[model.PaymentMethod]payment.Provider)

	if cfg.StripeAPIKey != "" {
		stripe, err := payment.NewStripeProvider(payment.StripeConfig{
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.StripeSuccessURL,
			CancelURL:     cfg.StripeCancelURL,
		})
		if err != nil {
			sugar.Fatalw("stripe initialization error", "error", err.Error())
		}
		providers[model.PaymentMethodCard] = stripe
	}

	if cfg.CryptoGatewayAddress != "" {
		providers[model.PaymentMethodCrypto] = payment.NewCryptoProvider(
			cfg.CryptoGatewayAddress, cfg.CryptoGatewayKey, cfg.CryptoWebhookSecret)
	}

	if cfg.SBPMerchantID != "" {
		providers[model.PaymentMethodSBP] = payment.NewSBPProvider(
			"", cfg.SBPMerchantID, cfg.SBPWebhookSecret)
	}

	svc := service.NewService(repo, payment.NewRegistry(providers), notify.NewLogNotifier(logger))
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.DefaultUserID)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая отмена транзакций, зависших в PENDING
	g.Go(func() error {
		svc.StartPendingReaper(ctx, cfg.PendingTransactionTTL, reaperInterval, logger)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting cargoflow server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
