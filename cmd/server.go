package cmd

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

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/globals"
	"github.com/SanteonNL/orca/smarthost/healthcheck"
	"github.com/SanteonNL/orca/smarthost/lib/coolfhir"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/lib/otel"
	"github.com/SanteonNL/orca/smarthost/messaging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/SanteonNL/orca/smarthost/smart/handler"
	"github.com/SanteonNL/orca/smarthost/smart/launch"
	"github.com/SanteonNL/orca/smarthost/smart/manifest"
	"github.com/SanteonNL/orca/smarthost/smart/shell"
	"github.com/SanteonNL/orca/smarthost/sse"
	"github.com/SanteonNL/orca/smarthost/user"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Start sets up the SMART app host and serves it until the context is cancelled or the process receives SIGINT/SIGTERM.
func Start(ctx context.Context, config Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	globals.StrictMode = config.StrictMode
	logging.Configure(config.LogLevel)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tracerProvider, err := otel.Initialize(ctx, config.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown OpenTelemetry")
		}
	}()

	// Set up dependencies
	httpHandler := http.NewServeMux()
	health := healthcheck.New()
	messageBroker, err := messaging.New(config.Messaging, broker.Entities())
	if err != nil {
		return fmt.Errorf("failed to create message broker: %w", err)
	}
	defer func() {
		if err := messageBroker.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to close message broker")
		}
	}()
	eventManager := events.NewManager(messageBroker)

	smartBroker := broker.New(eventManager, config.Smart.RequestTTL)
	if err := smartBroker.Start(); err != nil {
		return fmt.Errorf("failed to start SMART message broker: %w", err)
	}
	defer smartBroker.Stop()
	dispatcher := handler.NewDispatcher(eventManager, config.Smart.RequestTTL)
	cdsHooks := handler.NewCdsHookHandler(dispatcher)
	dispatcher.Register(cdsHooks)
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start SMART message handlers: %w", err)
	}

	plugins := manifest.NewRegistry()
	manifest.Locator{Dirs: config.Smart.Manifests}.Locate(plugins)
	log.Info().Msgf("Registered %d SMART app(s)", plugins.Len())

	// Register services
	services := []Service{health}
	var binder launch.Binder
	switch config.Smart.Binder.Type {
	case launch.BinderTypeRemote:
		log.Info().Msgf("Binding SMART launch context using remote launch binder: %s", config.Smart.Binder.URL)
		binder = launch.NewHTTPBinder(config.Smart.Binder)
	default:
		store := newLaunchStore(config, health)
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close SMART launch store")
			}
		}()
		storeBinder := launch.NewStoreBinder(store)
		services = append(services, launch.NewBinderService(storeBinder, config.Smart.Binder))
		binder = storeBinder
	}
	contextService := launch.NewContextService(config.Smart.BaseURL, config.FHIR.BaseURL, config.Public.URL, binder)

	fhirClient, err := coolfhir.NewClient(ctx, config.FHIR)
	if err != nil {
		return fmt.Errorf("failed to create FHIR client: %w", err)
	}
	sessionManager := user.NewSessionManager[shell.Desktop](config.Session.Lifetime)
	shellService := shell.New(config.Shell, sessionManager, plugins, contextService, smartBroker, sse.New(), cdsHooks, fhirClient, config.Public.ParseURL())
	services = append(services, shellService)
	pruneCtx, stopPruning := context.WithCancel(ctx)
	defer stopPruning()
	sessionManager.StartPruning(pruneCtx, config.Session.PruneInterval)

	for _, service := range services {
		service.RegisterHandlers(httpHandler)
	}

	// Start HTTP server
	listener, err := net.Listen("tcp", config.Public.Address)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	server := &http.Server{
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Public interface listens on %s", listener.Addr())
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	// Destroying the desktops closes the open event streams, which would otherwise keep the server from shutting down.
	shellService.DestroyAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func newLaunchStore(config Config, health *healthcheck.Service) launch.Store {
	storeConfig := config.Smart.Binder.Store
	if storeConfig.Type == launch.StoreTypeRedis {
		log.Info().Msgf("Storing SMART launch context in Redis: %s", config.Redis.Address)
		store := launch.NewRedisStore(launch.NewRedisClient(config.Redis), storeConfig.TTL)
		health.Register("redis", store.Ping)
		return store
	}
	return launch.NewMemoryStore(storeConfig.TTL)
}

type Service interface {
	RegisterHandlers(mux *http.ServeMux)
}
