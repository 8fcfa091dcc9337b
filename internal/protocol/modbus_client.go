// internal/protocol/modbus_client.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
)

// ModbusClient implements Transport for Modbus TCP, RTU over TCP/UDP and RTU serial lines
type ModbusClient struct {
	statsRecorder

	config  config.ConnectionConfig
	url     string
	logger  *zap.Logger
	mutex   sync.RWMutex
	client  *modbus.ModbusClient
	isOpen  bool
	unitID  uint8
	timeout time.Duration
}

// NewModbusClient creates a new client for the given connection; the link is not opened yet
func NewModbusClient(cfg *config.ConnectionConfig, logger *zap.Logger) (*ModbusClient, error) {
	url, err := clientURL(cfg)
	if err != nil {
		return nil, err
	}

	return &ModbusClient{
		config: *cfg,
		url:    url,
		logger: logger.With(
			zap.String("protocol", "modbus"),
			zap.String("transport", cfg.ClientType+"/"+cfg.Variant()),
			zap.String("url", url),
		),
		unitID:  uint8(cfg.UnitID),
		timeout: cfg.ClientTimeout,
	}, nil
}

// clientURL maps a connection variant onto the URL scheme understood by the client library
func clientURL(cfg *config.ConnectionConfig) (string, error) {
	if cfg.IsSerial() {
		if cfg.Serial.Port == "" {
			return "", fmt.Errorf("%w: serial port is required", ErrInvalidConfig)
		}
		switch cfg.Serial.Type {
		case config.SerialTypeRTU, config.SerialTypeRTUBuffered:
			return "rtu://" + cfg.Serial.Port, nil
		default:
			return "", fmt.Errorf("%w: serial type %s", ErrUnsupportedTransport, cfg.Serial.Type)
		}
	}

	address := fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port)
	switch cfg.TCP.Type {
	case config.TCPTypeDefault:
		return "tcp://" + address, nil
	case config.TCPTypeTelnet, config.TCPTypeRTUBuffered:
		return "rtuovertcp://" + address, nil
	case config.TCPTypeC701:
		return "rtuoverudp://" + address, nil
	default:
		return "", fmt.Errorf("%w: tcp type %s", ErrUnsupportedTransport, cfg.TCP.Type)
	}
}

func parityOf(parity string) uint {
	switch parity {
	case "even":
		return modbus.PARITY_EVEN
	case "odd":
		return modbus.PARITY_ODD
	default:
		return modbus.PARITY_NONE
	}
}

// Connect opens the link
func (mc *ModbusClient) Connect(ctx context.Context) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mc.logger.Info("Opening Modbus link", zap.Duration("timeout", mc.timeout))

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      mc.url,
		Speed:    uint(mc.config.Serial.BaudRate),
		DataBits: uint(mc.config.Serial.DataBits),
		Parity:   parityOf(mc.config.Serial.Parity),
		StopBits: uint(mc.config.Serial.StopBits),
		Timeout:  mc.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", translateModbusError(err))
	}

	if err := client.Open(); err != nil {
		mc.logger.Warn("Failed to open Modbus link", zap.Error(err))
		return fmt.Errorf("failed to open %s: %w", mc.url, translateModbusError(err))
	}

	if err := client.SetUnitId(mc.unitID); err != nil {
		client.Close()
		return fmt.Errorf("failed to set unit id %d: %w", mc.unitID, translateModbusError(err))
	}

	mc.client = client
	mc.isOpen = true
	mc.setConnected(true)

	mc.logger.Info("Modbus link opened")
	return nil
}

// Close closes the link
func (mc *ModbusClient) Close() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isOpen || mc.client == nil {
		return nil
	}

	err := mc.client.Close()
	mc.client = nil
	mc.isOpen = false
	mc.setConnected(false)

	if err != nil {
		mc.logger.Warn("Failed to close Modbus link", zap.Error(err))
		return fmt.Errorf("failed to close modbus link: %w", err)
	}

	mc.logger.Info("Modbus link closed")
	return nil
}

// IsOpen returns whether the link is open
func (mc *ModbusClient) IsOpen() bool {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return mc.isOpen && mc.client != nil
}

// SetUnitID sets the default unit id
func (mc *ModbusClient) SetUnitID(id uint8) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.unitID = id
	if mc.client != nil {
		if err := mc.client.SetUnitId(id); err != nil {
			mc.logger.Warn("Failed to set unit id", zap.Uint8("unit_id", id), zap.Error(err))
		}
	}
}

// SetTimeout stores the exchange timeout. The client library fixes the timeout when the
// link is created, so the new value applies from the next Connect.
func (mc *ModbusClient) SetTimeout(timeout time.Duration) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.timeout = timeout
}

// Kind returns the client type and variant
func (mc *ModbusClient) Kind() string {
	return mc.config.ClientType + "/" + mc.config.Variant()
}

// Read performs a read exchange
func (mc *ModbusClient) Read(ctx context.Context, unitID uint8, fc model.FunctionCode, address, quantity uint16) (*model.Response, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	client, err := mc.prepare(ctx, unitID)
	if err != nil {
		return nil, err
	}

	resp := &model.Response{UnitID: unitID, FunctionCode: fc, Address: address, Quantity: quantity}
	start := time.Now()

	switch fc {
	case model.FuncReadCoils:
		resp.Coils, err = client.ReadCoils(address, quantity)
	case model.FuncReadDiscreteInputs:
		resp.Coils, err = client.ReadDiscreteInputs(address, quantity)
	case model.FuncReadHoldingRegisters:
		resp.Registers, err = client.ReadRegisters(address, quantity, modbus.HOLDING_REGISTER)
	case model.FuncReadInputRegisters:
		resp.Registers, err = client.ReadRegisters(address, quantity, modbus.INPUT_REGISTER)
	default:
		return nil, fmt.Errorf("%w: function code %d", model.ErrInvalidRequest, fc)
	}
	mc.record(time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("failed to read fc %d at %d: %w", fc, address, translateModbusError(err))
	}
	return resp, nil
}

// Write performs a write exchange
func (mc *ModbusClient) Write(ctx context.Context, unitID uint8, fc model.FunctionCode, address uint16, values model.Values) (*model.Response, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	client, err := mc.prepare(ctx, unitID)
	if err != nil {
		return nil, err
	}

	resp := &model.Response{
		UnitID:       unitID,
		FunctionCode: fc,
		Address:      address,
		Quantity:     uint16(values.Quantity(fc)),
	}
	start := time.Now()

	switch fc {
	case model.FuncWriteSingleCoil:
		err = client.WriteCoil(address, values.Coils[0])
	case model.FuncWriteSingleRegister:
		err = client.WriteRegister(address, values.Registers[0])
	case model.FuncWriteMultipleCoils:
		err = client.WriteCoils(address, values.Coils)
	case model.FuncWriteMultipleRegisters:
		err = client.WriteRegisters(address, values.Registers)
	default:
		return nil, fmt.Errorf("%w: function code %d", model.ErrInvalidRequest, fc)
	}
	mc.record(time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("failed to write fc %d at %d: %w", fc, address, translateModbusError(err))
	}
	return resp, nil
}

// prepare must be called with the read lock held
func (mc *ModbusClient) prepare(ctx context.Context, unitID uint8) (*modbus.ModbusClient, error) {
	if !mc.isOpen || mc.client == nil {
		return nil, ErrPortNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := mc.client.SetUnitId(unitID); err != nil {
		return nil, fmt.Errorf("failed to set unit id %d: %w", unitID, translateModbusError(err))
	}
	return mc.client, nil
}

// translateModbusError tags library errors with the package sentinels
func translateModbusError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, modbus.ErrRequestTimedOut):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, modbus.ErrConfigurationError):
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	case errors.Is(err, modbus.ErrIllegalFunction),
		errors.Is(err, modbus.ErrIllegalDataAddress),
		errors.Is(err, modbus.ErrIllegalDataValue),
		errors.Is(err, modbus.ErrServerDeviceFailure),
		errors.Is(err, modbus.ErrServerDeviceBusy):
		return fmt.Errorf("%w: %w", ErrDeviceException, err)
	default:
		return err
	}
}
