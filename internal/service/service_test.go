package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/protocol/protocoltest"
)

type testEnv struct {
	config      *config.Config
	factory     *protocoltest.Factory
	manager     *connection.Manager
	connections *ConnectionService
	operations  *OperationService
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

func newTestEnv(t *testing.T, connections ...config.ConnectionConfig) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		Server:      config.ServerConfig{RequestTimeout: time.Second},
		App:         config.AppConfig{Name: "modbus-connector", ConsumerID: "test"},
		Connections: connections,
	}
	factory := protocoltest.NewFactory()
	manager := connection.NewManager(cfg.Connections, factory, logger, nil, nil)

	env := &testEnv{
		config:      cfg,
		factory:     factory,
		manager:     manager,
		connections: NewConnectionService(manager, cfg, logger),
		operations:  NewOperationService(manager, cfg, logger),
	}
	require.NoError(t, env.connections.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.connections.Stop(ctx)
	})
	return env
}

func (e *testEnv) waitReady(t *testing.T, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := e.connections.Get(name)
		return err == nil && info.State.Ready()
	}, 2*time.Second, 5*time.Millisecond, "connection %s never became ready", name)
}
