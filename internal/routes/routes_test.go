package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/events"
	"modbus-connector/internal/handler"
	"modbus-connector/internal/middleware"
	"modbus-connector/internal/protocol/protocoltest"
	"modbus-connector/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{RequestTimeout: time.Second},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "modbus"},
		App:     config.AppConfig{Name: "modbus-connector", Environment: "test", ConsumerID: "test"},
		Connections: []config.ConnectionConfig{{
			Name:         "plc",
			ClientType:   config.ClientTypeTCP,
			TCP:          config.TCPConfig{Host: "127.0.0.1"},
			StartupDelay: time.Millisecond,
		}},
	}
}

func setupRouter(t *testing.T, registry *prometheus.Registry) http.Handler {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	bus := events.NewBus(logger)
	go bus.Start()

	manager := connection.NewManager(cfg.Connections, protocoltest.NewFactory(), logger, bus, nil)
	connSvc := service.NewConnectionService(manager, cfg, logger)
	opSvc := service.NewOperationService(manager, cfg, logger)
	wsHandler := handler.NewWebSocketHandler(connSvc, bus, nil, logger)
	go wsHandler.Run()

	require.NoError(t, connSvc.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsHandler.Stop()
		_ = connSvc.Stop(ctx)
		bus.Close()
	})

	return NewRouter(cfg, logger, connSvc, opSvc, wsHandler, registry).SetupRouter()
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoutesAreRegistered(t *testing.T) {
	router := setupRouter(t, prometheus.NewRegistry())

	assert.Equal(t, http.StatusOK, get(router, "/live").Code)
	assert.Equal(t, http.StatusOK, get(router, "/api/v1/connections").Code)
	assert.Equal(t, http.StatusOK, get(router, "/api/v1/connections/plc").Code)
	assert.Equal(t, http.StatusOK, get(router, "/ws/stats").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/api/v1/devices").Code)

	w := get(router, "/live")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t, prometheus.NewRegistry())

	get(router, "/api/v1/connections")
	w := get(router, "/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `modbus_http_requests_total{method="GET",route="/api/v1/connections",status="200"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	router := setupRouter(t, nil)

	assert.Equal(t, http.StatusNotFound, get(router, "/metrics").Code)
}

func TestSwaggerUI(t *testing.T) {
	router := setupRouter(t, nil)

	w := get(router, "/swagger/index.html")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger-ui")

	w = get(router, "/docs")
	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "/swagger/index.html", w.Header().Get("Location"))
}
