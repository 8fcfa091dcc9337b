package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
connections:
  - name: plc
    tcp:
      host: 10.0.0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8085", cfg.GetServerAddr())
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "http-api", cfg.App.ConsumerID)

	require.Len(t, cfg.Connections, 1)
	conn := cfg.Connections[0]
	assert.Equal(t, ClientTypeTCP, conn.ClientType)
	assert.Equal(t, TCPTypeDefault, conn.TCP.Type)
	assert.Equal(t, DefaultTCPPort, conn.TCP.Port)
	assert.Equal(t, DefaultUnitID, conn.UnitID)
	assert.Equal(t, DefaultReconnectTimeout, conn.ReconnectTimeout)
	assert.Equal(t, DefaultStartupDelay, conn.StartupDelay)
	assert.True(t, conn.Buffered())
	assert.True(t, conn.ParallelUnitIDs())
	assert.True(t, conn.ReconnectsOnTimeout())
	assert.Equal(t, "TCP@10.0.0.5:502 default unit 1", conn.ServerInfo())
}

func TestLoadSerialConnection(t *testing.T) {
	path := writeConfig(t, `
connections:
  - name: meters
    client_type: Serial
    serial:
      port: /dev/ttyUSB0
      baud_rate: 19200
      parity: Even
      type: ascii
    buffer_commands: false
    parallel_unit_ids_allowed: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	conn, ok := cfg.Connection("meters")
	require.True(t, ok)
	assert.True(t, conn.IsSerial())
	assert.Equal(t, SerialTypeASCII, conn.Variant())
	assert.Equal(t, "even", conn.Serial.Parity)
	assert.Equal(t, DefaultDataBits, conn.Serial.DataBits)
	assert.Equal(t, DefaultSerialConnectionDelay, conn.Serial.ConnectionDelay)
	assert.False(t, conn.Buffered())
	assert.False(t, conn.ParallelUnitIDs(), "parallel unit ids require buffering")
}

func TestLoadLegacyTCPRTUSpelling(t *testing.T) {
	path := writeConfig(t, `
connections:
  - name: gateway
    tcp:
      host: gw
      type: TPC-RTU-BUFFERED
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TCPTypeRTUBuffered, cfg.Connections[0].TCP.Type)
}

func TestLoadKeepsOutOfRangeUnitID(t *testing.T) {
	path := writeConfig(t, `
connections:
  - name: plc
    unit_id: 300
    tcp:
      host: plc
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Connections[0].UnitID)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{
			name: "duplicate names",
			content: `
connections:
  - name: plc
    tcp: {host: a}
  - name: plc
    tcp: {host: b}
`,
			message: "duplicate connection name",
		},
		{
			name: "missing host",
			content: `
connections:
  - name: plc
`,
			message: "tcp.host is required",
		},
		{
			name: "unsupported tcp type",
			content: `
connections:
  - name: plc
    tcp: {host: a, type: UDP}
`,
			message: "unsupported tcp.type",
		},
		{
			name: "bad baud rate",
			content: `
connections:
  - name: line
    client_type: serial
    serial: {port: /dev/ttyS0, baud_rate: 1000}
`,
			message: "invalid serial.baud_rate",
		},
		{
			name: "bad environment",
			content: `
app:
  environment: qa
`,
			message: "app.environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
