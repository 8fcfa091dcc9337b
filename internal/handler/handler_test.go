package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/protocol/protocoltest"
	"modbus-connector/internal/service"
	"modbus-connector/internal/utils"
)

type testServer struct {
	router      *gin.Engine
	factory     *protocoltest.Factory
	connections *service.ConnectionService
}

func tcpConnection(name string) config.ConnectionConfig {
	return config.ConnectionConfig{
		Name:             name,
		ClientType:       config.ClientTypeTCP,
		TCP:              config.TCPConfig{Host: "127.0.0.1"},
		StartupDelay:     time.Millisecond,
		ReconnectTimeout: 20 * time.Millisecond,
		ClientTimeout:    100 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, connections ...config.ConnectionConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		Server:      config.ServerConfig{RequestTimeout: time.Second},
		App:         config.AppConfig{Name: "modbus-connector", Version: "test", ConsumerID: "test"},
		Connections: connections,
	}
	factory := protocoltest.NewFactory()
	manager := connection.NewManager(cfg.Connections, factory, logger, nil, nil)
	connSvc := service.NewConnectionService(manager, cfg, logger)
	opSvc := service.NewOperationService(manager, cfg, logger)

	require.NoError(t, connSvc.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = connSvc.Stop(ctx)
	})

	router := gin.New()
	NewHealthHandler(connSvc, cfg, logger).RegisterRoutes(&router.RouterGroup)
	NewConnectionHandler(connSvc, opSvc, logger).RegisterRoutes(router.Group("/api/v1"))

	return &testServer{router: router, factory: factory, connections: connSvc}
}

func (s *testServer) waitReady(t *testing.T, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := s.connections.Get(name)
		return err == nil && info.State.Ready()
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp utils.APIResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}
