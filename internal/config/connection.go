// internal/config/connection.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Client types
const (
	ClientTypeTCP    = "tcp"
	ClientTypeSerial = "serial"
)

// TCP transport variants
const (
	TCPTypeDefault        = "TCP"
	TCPTypeC701           = "C701"
	TCPTypeTelnet         = "TELNET"
	TCPTypeRTUBuffered    = "TCP-RTU-BUFFERED"
	tcpTypeRTUBufferedOld = "TPC-RTU-BUFFERED"
)

// Serial transport variants
const (
	SerialTypeRTUBuffered = "RTU-BUFFERED"
	SerialTypeRTU         = "RTU"
	SerialTypeASCII       = "ASCII"
)

// Connection defaults
const (
	DefaultUnitID                = 1
	DefaultTCPPort               = 502
	DefaultBaudRate              = 9600
	DefaultDataBits              = 8
	DefaultStopBits              = 1
	DefaultParity                = "none"
	DefaultCommandDelay          = time.Millisecond
	DefaultClientTimeout         = 1000 * time.Millisecond
	DefaultReconnectTimeout      = 2000 * time.Millisecond
	DefaultStartupDelay          = 500 * time.Millisecond
	DefaultSerialConnectionDelay = 500 * time.Millisecond
)

// ConnectionConfig describes one Modbus connection
type ConnectionConfig struct {
	Name       string       `mapstructure:"name" json:"name"`
	ClientType string       `mapstructure:"client_type" json:"client_type"`
	TCP        TCPConfig    `mapstructure:"tcp" json:"tcp"`
	Serial     SerialConfig `mapstructure:"serial" json:"serial"`

	UnitID           int           `mapstructure:"unit_id" json:"unit_id"`
	CommandDelay     time.Duration `mapstructure:"command_delay" json:"command_delay"`
	ClientTimeout    time.Duration `mapstructure:"client_timeout" json:"client_timeout"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout" json:"reconnect_timeout"`
	StartupDelay     time.Duration `mapstructure:"startup_delay" json:"startup_delay"`

	ReconnectOnTimeout     *bool `mapstructure:"reconnect_on_timeout" json:"reconnect_on_timeout"`
	BufferCommands         *bool `mapstructure:"buffer_commands" json:"buffer_commands"`
	ParallelUnitIDsAllowed *bool `mapstructure:"parallel_unit_ids_allowed" json:"parallel_unit_ids_allowed"`

	QueueLogEnabled bool `mapstructure:"queue_log_enabled" json:"queue_log_enabled"`
	StateLogEnabled bool `mapstructure:"state_log_enabled" json:"state_log_enabled"`
}

// TCPConfig represents Modbus TCP endpoint configuration
type TCPConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
	Type string `mapstructure:"type" json:"type"`
}

// SerialConfig represents serial line configuration
type SerialConfig struct {
	Port            string        `mapstructure:"port" json:"port"`
	BaudRate        int           `mapstructure:"baud_rate" json:"baud_rate"`
	DataBits        int           `mapstructure:"data_bits" json:"data_bits"`
	StopBits        int           `mapstructure:"stop_bits" json:"stop_bits"`
	Parity          string        `mapstructure:"parity" json:"parity"`
	Type            string        `mapstructure:"type" json:"type"`
	ConnectionDelay time.Duration `mapstructure:"connection_delay" json:"connection_delay"`
}

// ApplyDefaults fills unset options with their defaults and clamps out-of-range delays.
// A zero unit id means the default; any other out-of-range unit id and a missing serial port
// are left as they are and rejected when the link is established.
func (c *ConnectionConfig) ApplyDefaults() {
	if c.UnitID == 0 {
		c.UnitID = DefaultUnitID
	}

	c.ClientType = strings.ToLower(strings.TrimSpace(c.ClientType))
	if c.ClientType == "" {
		c.ClientType = ClientTypeTCP
	}

	c.TCP.Type = strings.ToUpper(strings.TrimSpace(c.TCP.Type))
	switch c.TCP.Type {
	case "":
		c.TCP.Type = TCPTypeDefault
	case tcpTypeRTUBufferedOld:
		c.TCP.Type = TCPTypeRTUBuffered
	}
	if c.TCP.Port == 0 {
		c.TCP.Port = DefaultTCPPort
	}

	c.Serial.Type = strings.ToUpper(strings.TrimSpace(c.Serial.Type))
	if c.Serial.Type == "" {
		c.Serial.Type = SerialTypeRTUBuffered
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = DefaultBaudRate
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = DefaultDataBits
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = DefaultStopBits
	}
	c.Serial.Parity = strings.ToLower(strings.TrimSpace(c.Serial.Parity))
	if c.Serial.Parity == "" {
		c.Serial.Parity = DefaultParity
	}
	if c.Serial.ConnectionDelay <= 0 {
		c.Serial.ConnectionDelay = DefaultSerialConnectionDelay
	}

	if c.CommandDelay < DefaultCommandDelay {
		c.CommandDelay = DefaultCommandDelay
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = DefaultClientTimeout
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = DefaultReconnectTimeout
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = DefaultStartupDelay
	}

	if c.ReconnectOnTimeout == nil {
		c.ReconnectOnTimeout = boolPtr(true)
	}
	if c.BufferCommands == nil {
		c.BufferCommands = boolPtr(true)
	}
	if c.ParallelUnitIDsAllowed == nil {
		c.ParallelUnitIDsAllowed = boolPtr(true)
	}
}

// Validate performs structural checks that make a connection impossible to build
func (c *ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}

	switch c.ClientType {
	case ClientTypeTCP:
		if c.TCP.Host == "" {
			return fmt.Errorf("tcp.host is required for connection %q", c.Name)
		}
		if c.TCP.Port < 1 || c.TCP.Port > 65535 {
			return fmt.Errorf("tcp.port %d out of range for connection %q", c.TCP.Port, c.Name)
		}
		switch c.TCP.Type {
		case TCPTypeDefault, TCPTypeC701, TCPTypeTelnet, TCPTypeRTUBuffered:
		default:
			return fmt.Errorf("unsupported tcp.type %q for connection %q", c.TCP.Type, c.Name)
		}
	case ClientTypeSerial:
		switch c.Serial.Type {
		case SerialTypeRTUBuffered, SerialTypeRTU, SerialTypeASCII:
		default:
			return fmt.Errorf("unsupported serial.type %q for connection %q", c.Serial.Type, c.Name)
		}
		switch c.Serial.Parity {
		case "none", "even", "odd":
		default:
			return fmt.Errorf("unsupported serial.parity %q for connection %q", c.Serial.Parity, c.Name)
		}
		validBaudRates := map[int]bool{
			1200: true, 2400: true, 4800: true, 9600: true, 14400: true,
			19200: true, 38400: true, 57600: true, 115200: true,
		}
		if !validBaudRates[c.Serial.BaudRate] {
			return fmt.Errorf("invalid serial.baud_rate %d for connection %q", c.Serial.BaudRate, c.Name)
		}
	default:
		return fmt.Errorf("unsupported client_type %q for connection %q", c.ClientType, c.Name)
	}

	return nil
}

// IsSerial reports whether the connection uses a serial line
func (c *ConnectionConfig) IsSerial() bool {
	return c.ClientType == ClientTypeSerial
}

// Variant returns the transport variant for the client type
func (c *ConnectionConfig) Variant() string {
	if c.IsSerial() {
		return c.Serial.Type
	}
	return c.TCP.Type
}

// Buffered reports whether commands go through the per-connection queue
func (c *ConnectionConfig) Buffered() bool {
	return c.BufferCommands == nil || *c.BufferCommands
}

// ParallelUnitIDs reports whether each unit id gets its own queue.
// It only has an effect while buffering is enabled.
func (c *ConnectionConfig) ParallelUnitIDs() bool {
	if !c.Buffered() {
		return false
	}
	return c.ParallelUnitIDsAllowed == nil || *c.ParallelUnitIDsAllowed
}

// ReconnectsOnTimeout reports whether a broken link re-enters the reconnect cycle
func (c *ConnectionConfig) ReconnectsOnTimeout() bool {
	return c.ReconnectOnTimeout == nil || *c.ReconnectOnTimeout
}

// ServerInfo returns a short human readable description of the endpoint
func (c *ConnectionConfig) ServerInfo() string {
	if c.IsSerial() {
		return fmt.Sprintf("Serial@%s:%dbit/s default unit %d", c.Serial.Port, c.Serial.BaudRate, c.UnitID)
	}
	return fmt.Sprintf("TCP@%s:%d default unit %d", c.TCP.Host, c.TCP.Port, c.UnitID)
}

func boolPtr(v bool) *bool {
	return &v
}
