// cmd/server/main.go
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

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/events"
	"modbus-connector/internal/handler"
	"modbus-connector/internal/protocol"
	"modbus-connector/internal/routes"
	"modbus-connector/internal/service"
	"modbus-connector/internal/utils"
)

const shutdownTimeout = 30 * time.Second

// Application represents the main application
type Application struct {
	config   *config.Config
	loader   *config.Loader
	logger   *zap.Logger
	server   *http.Server
	registry *prometheus.Registry

	bus       *events.Bus
	manager   *connection.Manager
	wsHandler *handler.WebSocketHandler

	// Services
	connectionService *service.ConnectionService
	operationService  *service.OperationService
}

func main() {
	Execute()
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	loader := config.NewLoader(configPath)

	// Load configuration
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		loader: loader,
		logger: logger,
	}

	app.initializeMetrics()
	app.initializeConnections()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeMetrics sets up the prometheus registry
func (app *Application) initializeMetrics() {
	if !app.config.Metrics.Enabled {
		return
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// initializeConnections creates the event bus and the connection manager
func (app *Application) initializeConnections() {
	app.bus = events.NewBus(app.logger)

	var metrics *connection.Metrics
	if app.registry != nil {
		metrics = connection.NewMetrics(app.registry, app.config.Metrics.Namespace)
	}

	app.manager = connection.NewManager(
		app.config.Connections,
		protocol.NewDefaultRegistry(app.logger),
		app.logger,
		app.bus,
		metrics,
	)

	app.logger.Info("Connection manager initialized",
		zap.Int("connections", len(app.config.Connections)),
	)
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	app.connectionService = service.NewConnectionService(app.manager, app.config, app.logger)
	app.operationService = service.NewOperationService(app.manager, app.config, app.logger)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.wsHandler = handler.NewWebSocketHandler(
		app.connectionService,
		app.bus,
		app.config.Security.AllowedOrigins,
		app.logger,
	)

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.connectionService,
		app.operationService,
		app.wsHandler,
		app.registry,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// Start starts the application and blocks until a shutdown signal arrives
func (app *Application) Start() error {
	defer utils.LogPanic(app.logger)

	go app.bus.Start()
	go app.wsHandler.Run()

	if err := app.connectionService.Start(); err != nil {
		return fmt.Errorf("failed to start connections: %w", err)
	}

	if app.config.App.WatchConfig {
		app.watchConfig()
	}

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(app.config.Server.TLS.CertFile, app.config.Server.TLS.KeyFile)
		} else {
			err = app.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		app.Shutdown("server error")
		return fmt.Errorf("failed to serve HTTP: %w", err)
	case sig := <-quit:
		app.Shutdown(sig.String())
	}
	return nil
}

// watchConfig applies connection changes from the config file while running
func (app *Application) watchConfig() {
	app.loader.Watch(func(cfg *config.Config, event fsnotify.Event, err error) {
		if err != nil {
			app.logger.Error("Ignoring invalid configuration change",
				zap.String("file", event.Name),
				zap.Error(err),
			)
			return
		}

		app.logger.Info("Configuration changed", zap.String("file", event.Name))
		if err := app.connectionService.ApplyConfig(cfg); err != nil {
			app.logger.Error("Failed to apply configuration change", zap.Error(err))
		}
	})

	app.logger.Info("Watching configuration file", zap.String("file", app.loader.ConfigFile()))
}

// Shutdown gracefully stops the server and every connection
func (app *Application) Shutdown(reason string) {
	app.logger.Info("Shutting down application", zap.String("reason", reason))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	app.wsHandler.Stop()

	if err := app.connectionService.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop connections", zap.Error(err))
	}

	app.bus.Close()

	utils.NewServiceLogger(app.logger, app.config.App.Name).LogServiceStop(reason)
	_ = utils.CloseLogger(app.logger)
}
