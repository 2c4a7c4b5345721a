package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
	"github.com/tienda-flor/storefront-api/internal/events"
	"github.com/tienda-flor/storefront-api/internal/gateways"
	"github.com/tienda-flor/storefront-api/internal/handlers"
	"github.com/tienda-flor/storefront-api/internal/platform/auth"
	"github.com/tienda-flor/storefront-api/internal/platform/config"
	pfirestore "github.com/tienda-flor/storefront-api/internal/platform/firestore"
	"github.com/tienda-flor/storefront-api/internal/platform/observability"
	firestoreRepo "github.com/tienda-flor/storefront-api/internal/repositories/firestore"
	"github.com/tienda-flor/storefront-api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	sessionRepo, err := firestoreRepo.NewSessionRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise session repository", zap.Error(err))
	}
	finalizationRepo, err := firestoreRepo.NewFinalizationRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise finalization repository", zap.Error(err))
	}

	cartClient := gateways.NewCartClient(cfg.Cart.BaseURL, gateways.WithTimeout(cfg.Cart.Timeout))
	geocoderClient := gateways.NewGeocoderClient(cfg.Geocoder.BaseURL, cfg.Geocoder.CountryHint, cfg.Geocoder.MaxCandidates, gateways.WithTimeout(cfg.Geocoder.Timeout))
	shippingClient := gateways.NewShippingClient(cfg.Shipping.BaseURL, gateways.WithTimeout(cfg.Shipping.Timeout))
	guestClient := gateways.NewGuestClient(cfg.Identity.BaseURL, gateways.WithTimeout(cfg.Identity.Timeout))
	orderClient := gateways.NewOrderClient(cfg.Orders.BaseURL, gateways.WithTimeout(cfg.Orders.Timeout))

	publisher, pubsubClient, err := newFinalizedPublisher(ctx, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.SigningSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	sessionService, err := services.NewSessionService(services.SessionServiceDeps{
		Sessions: sessionRepo,
		Cart:     cartClient,
		Currency: cfg.Checkout.Currency,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("sessions")),
	})
	if err != nil {
		logger.Fatal("failed to initialise session service", zap.Error(err))
	}

	addressService, err := services.NewAddressService(services.AddressServiceDeps{
		Sessions:       sessionRepo,
		Geocoder:       geocoderClient,
		Debounce:       cfg.Checkout.DebounceInterval,
		MinQueryLength: cfg.Checkout.MinQueryLength,
		Clock:          time.Now,
		Logger:         observability.EventLogger(logger.Named("address")),
	})
	if err != nil {
		logger.Fatal("failed to initialise address service", zap.Error(err))
	}

	shippingService, err := services.NewShippingService(services.ShippingServiceDeps{
		Sessions: sessionRepo,
		Cart:     cartClient,
		Rater:    shippingClient,
		Currency: cfg.Checkout.Currency,
		Debounce: cfg.Checkout.DebounceInterval,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("shipping")),
	})
	if err != nil {
		logger.Fatal("failed to initialise shipping service", zap.Error(err))
	}

	identityService, err := services.NewIdentityService(services.IdentityServiceDeps{
		Sessions: sessionRepo,
		Guests:   guestClient,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("identity")),
	})
	if err != nil {
		logger.Fatal("failed to initialise identity service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Sessions: sessionRepo,
		Cart:     cartClient,
		Orders:   orderClient,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	statusDeps := services.PaymentStatusServiceDeps{
		Sessions:      sessionRepo,
		Finalizations: finalizationRepo,
		Cart:          cartClient,
		Guests:        guestClient,
		Clock:         time.Now,
		Logger:        observability.EventLogger(logger.Named("payments")),
	}
	if publisher != nil {
		statusDeps.Publisher = publisher
	}
	paymentStatusService, err := services.NewPaymentStatusService(statusDeps)
	if err != nil {
		logger.Fatal("failed to initialise payment status service", zap.Error(err))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(sessionService, addressService, shippingService, identityService, orderService)
	paymentHandlers := handlers.NewPaymentHandlers(paymentStatusService, transferDetails(cfg.Transfer))

	healthHandlers := handlers.NewHealthHandlers()

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(authenticator.OptionalShopper()),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	healthHandlers.SetReady(true)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	healthHandlers.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if publisher != nil {
		publisher.Stop()
	}
}

// newFinalizedPublisher builds the order-finalized event publisher. An empty
// project id disables publishing rather than failing startup.
func newFinalizedPublisher(ctx context.Context, cfg config.EventsConfig) (*events.PubSubOrderFinalizedPublisher, *pubsub.Client, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := events.NewPubSubOrderFinalizedPublisher(client.Topic(cfg.FinalizedTopic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, client, nil
}

func transferDetails(cfg config.TransferConfig) *domain.BankDetails {
	if strings.TrimSpace(cfg.CBU) == "" {
		return nil
	}
	return &domain.BankDetails{
		BankName: cfg.BankName,
		CBU:      cfg.CBU,
		Alias:    cfg.Alias,
		Holder:   cfg.Holder,
	}
}
