package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_pay/internal/cache"
	"github.com/fjod/go_pay/internal/cart"
	"github.com/fjod/go_pay/internal/config"
	admingrpc "github.com/fjod/go_pay/internal/grpc"
	h "github.com/fjod/go_pay/internal/http"
	"github.com/fjod/go_pay/internal/invoice"
	"github.com/fjod/go_pay/internal/metrics"
	"github.com/fjod/go_pay/internal/order"
	"github.com/fjod/go_pay/internal/payment"
	"github.com/fjod/go_pay/internal/publisher"
	"github.com/fjod/go_pay/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRelay(cfg *config.Config, store repository.Store, log *slog.Logger) *publisher.OutboxRelay {
	return publisher.NewOutboxRelay(store, log, cfg.KafkaTopic, cfg.KafkaBrokers...).
		WithInterval(cfg.RelayInterval)
}

func newInvoiceTrigger(cfg *config.Config, store repository.Store, log *slog.Logger, m *metrics.Metrics) (*invoice.Trigger, error) {
	files, err := invoice.NewFileStore(cfg.InvoiceDir)
	if err != nil {
		return nil, err
	}
	return invoice.NewTrigger(store, invoice.NewHTMLRenderer(cfg.InvoiceIssuer), files, log, m), nil
}

// newCartCache returns the Redis cache when an address is configured, the no-op cache otherwise.
func newCartCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, cart cache disabled")
		return cache.Noop{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
	return cache.NewRedisCache(client), func() { _ = client.Close() }, nil
}

func serveCmd(load loader) *cobra.Command {
	var withRelay bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			if cfg.WebhookSecret == "" {
				return errors.New("payment_webhook_secret is required")
			}
			return serve(cfg, log, withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "with-relay", false, "also run the outbox relay in this process")
	return cmd
}

func serve(cfg *config.Config, log *slog.Logger, withRelay bool) error {
	ctx, stop := signalContext()
	defer stop()

	rules, err := openTaxRules(cfg)
	if err != nil {
		return fmt.Errorf("tax rules: %w", err)
	}
	defer rules.Close()

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()

	cartCache, closeCache, err := newCartCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	m := metrics.New()
	calc := newCalculator(cfg, rules)

	carts := cart.NewService(store, cartCache, calc, log)
	orders := order.NewService(store, calc, carts, cfg.Currency, log, m)

	provider := payment.NewHTTPProvider(payment.HTTPProviderConfig{
		Name:    cfg.PaymentProviderName,
		BaseURL: cfg.PaymentProviderURL,
		APIKey:  cfg.PaymentProviderKey,
		Timeout: cfg.PaymentTimeout,
	})
	trigger, err := newInvoiceTrigger(cfg, store, log, m)
	if err != nil {
		return err
	}
	reconciler := payment.NewReconciler(store, payment.NewVerifier(cfg.WebhookSecret), trigger, log, m)

	router := h.NewRouter(h.Handlers{
		Cart:     h.NewCartHandler(carts, cfg.RequestTimeout),
		Orders:   h.NewOrdersHandler(orders, cfg.RequestTimeout),
		Payments: h.NewPaymentsHandler(payment.NewIntents(store, provider, log), payment.NewMethods(store, provider, log), cfg.RequestTimeout),
		Webhooks: h.NewWebhookHandler(reconciler),
	}, m, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	admin := admingrpc.NewAdminServer(store, cfg.HealthInterval, log)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		admin.Watch(ctx)
	}()

	go func() {
		log.Info("admin gRPC listening", "port", cfg.GRPCPort)
		if err := admin.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	go func() {
		log.Info("billing API listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if withRelay {
		relay := newRelay(cfg, store, log)
		defer relay.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", "error", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	admin.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("background workers did not stop in time")
	}

	log.Info("billing service stopped")
	return runErr
}
