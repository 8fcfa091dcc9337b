package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/model"
)

func TestStartRegistersEveryConnection(t *testing.T) {
	env := newTestEnv(t, tcpConnection("b"), tcpConnection("a"))
	env.waitReady(t, "a")
	env.waitReady(t, "b")

	infos := env.connections.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
	assert.Equal(t, 1, infos[0].Consumers)
}

func TestGetUnknownConnection(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.connections.Get("missing")
	assert.ErrorIs(t, err, connection.ErrUnknownConnection)
	assert.ErrorIs(t, env.connections.Reconnect("missing"), connection.ErrUnknownConnection)
}

func TestReconnectCyclesTheLink(t *testing.T) {
	env := newTestEnv(t, tcpConnection("plc"))
	env.waitReady(t, "plc")
	first := env.factory.Transport("plc")

	require.NoError(t, env.connections.Reconnect("plc"))

	require.Eventually(t, func() bool {
		return env.factory.Transport("plc") != first
	}, 2*time.Second, 5*time.Millisecond)
	env.waitReady(t, "plc")
}

func TestApplyConfigUnchangedKeepsLink(t *testing.T) {
	env := newTestEnv(t, tcpConnection("plc"))
	env.waitReady(t, "plc")
	transport := env.factory.Transport("plc")

	require.NoError(t, env.connections.ApplyConfig(&config.Config{
		Connections: []config.ConnectionConfig{tcpConnection("plc")},
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Same(t, transport, env.factory.Transport("plc"))
}

func TestApplyConfigChangesAndAdds(t *testing.T) {
	env := newTestEnv(t, tcpConnection("plc"))
	env.waitReady(t, "plc")

	changed := tcpConnection("plc")
	changed.ClientTimeout = 250 * time.Millisecond

	require.NoError(t, env.connections.ApplyConfig(&config.Config{
		Connections: []config.ConnectionConfig{changed, tcpConnection("meter")},
	}))

	require.Eventually(t, func() bool {
		conn, err := env.manager.Connection("plc")
		return err == nil && conn.Config().ClientTimeout == 250*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)
	env.waitReady(t, "plc")
	env.waitReady(t, "meter")
	assert.Len(t, env.connections.List(), 2)
}

func TestApplyConfigRejectsInvalidConnection(t *testing.T) {
	env := newTestEnv(t, tcpConnection("plc"))

	broken := tcpConnection("plc")
	broken.TCP.Type = "UDP"

	err := env.connections.ApplyConfig(&config.Config{
		Connections: []config.ConnectionConfig{broken},
	})

	var connErr *connection.Error
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, connection.KindConfiguration, connErr.Kind)
}

func TestStopClosesConnections(t *testing.T) {
	env := newTestEnv(t, tcpConnection("plc"))
	env.waitReady(t, "plc")
	conn, err := env.manager.Connection("plc")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.connections.Stop(ctx))

	assert.Equal(t, model.StateStopped, conn.State())
	assert.Empty(t, env.connections.List())
}
