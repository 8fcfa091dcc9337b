// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/handler"
	"modbus-connector/internal/middleware"
	"modbus-connector/internal/service"
	"modbus-connector/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config            *config.Config
	logger            *zap.Logger
	connectionService *service.ConnectionService
	operationService  *service.OperationService
	wsHandler         *handler.WebSocketHandler
	registry          *prometheus.Registry
}

// NewRouter creates a new router instance. registry may be nil when metrics are disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	connectionService *service.ConnectionService,
	operationService *service.OperationService,
	wsHandler *handler.WebSocketHandler,
	registry *prometheus.Registry,
) *Router {
	return &Router{
		config:            config,
		logger:            logger,
		connectionService: connectionService,
		operationService:  operationService,
		wsHandler:         wsHandler,
		registry:          registry,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	switch {
	case r.config.IsDevelopment():
		gin.SetMode(gin.DebugMode)
	case r.config.App.Environment == "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, "/live", "/ready", r.config.Metrics.Path))

	if r.registry != nil {
		router.Use(middleware.MetricsMiddleware(middleware.NewHTTPMetrics(r.registry, r.config.Metrics.Namespace)))
	}

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.connectionService, r.config, r.logger)
	connectionHandler := handler.NewConnectionHandler(r.connectionService, r.operationService, r.logger)

	healthHandler.RegisterRoutes(&router.RouterGroup)

	apiV1 := router.Group("/api/v1")
	connectionHandler.RegisterRoutes(apiV1)

	if r.wsHandler != nil {
		r.wsHandler.RegisterRoutes(router.Group("/ws"))
	}

	r.addMetricsRoute(router)
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addMetricsRoute exposes the prometheus registry
func (r *Router) addMetricsRoute(router *gin.Engine) {
	if r.registry == nil {
		return
	}
	metricsHandler := promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
	router.GET(r.config.Metrics.Path, gin.WrapH(metricsHandler))
}

// addDocumentationRoutes serves the swagger UI
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
