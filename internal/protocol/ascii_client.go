// internal/protocol/ascii_client.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/model"
)

// ASCIIClient implements Transport for Modbus ASCII serial lines
type ASCIIClient struct {
	statsRecorder

	config  config.ConnectionConfig
	logger  *zap.Logger
	mutex   sync.RWMutex
	handler *modbus.ASCIIClientHandler
	client  modbus.Client
	isOpen  bool
	unitID  uint8
	timeout time.Duration
}

// NewASCIIClient creates a new ASCII client; the port is not opened yet
func NewASCIIClient(cfg *config.ConnectionConfig, logger *zap.Logger) (*ASCIIClient, error) {
	if cfg.Serial.Port == "" {
		return nil, fmt.Errorf("%w: serial port is required", ErrInvalidConfig)
	}

	return &ASCIIClient{
		config: *cfg,
		logger: logger.With(
			zap.String("protocol", "modbus"),
			zap.String("transport", "serial/ASCII"),
			zap.String("port", cfg.Serial.Port),
		),
		unitID:  uint8(cfg.UnitID),
		timeout: cfg.ClientTimeout,
	}, nil
}

func asciiParity(parity string) string {
	switch parity {
	case "even":
		return "E"
	case "odd":
		return "O"
	default:
		return "N"
	}
}

// Connect opens the serial port
func (ac *ASCIIClient) Connect(ctx context.Context) error {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if ac.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ac.logger.Info("Opening serial port",
		zap.Int("baud_rate", ac.config.Serial.BaudRate),
		zap.String("parity", ac.config.Serial.Parity),
	)

	handler := modbus.NewASCIIClientHandler(ac.config.Serial.Port)
	handler.BaudRate = ac.config.Serial.BaudRate
	handler.DataBits = ac.config.Serial.DataBits
	handler.StopBits = ac.config.Serial.StopBits
	handler.Parity = asciiParity(ac.config.Serial.Parity)
	handler.Timeout = ac.timeout
	handler.SlaveId = ac.unitID

	if err := handler.Connect(); err != nil {
		ac.logger.Warn("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", ac.config.Serial.Port, err)
	}

	ac.handler = handler
	ac.client = modbus.NewClient(handler)
	ac.isOpen = true
	ac.setConnected(true)

	ac.logger.Info("Serial port opened")
	return nil
}

// Close closes the serial port
func (ac *ASCIIClient) Close() error {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if !ac.isOpen || ac.handler == nil {
		return nil
	}

	err := ac.handler.Close()
	ac.handler = nil
	ac.client = nil
	ac.isOpen = false
	ac.setConnected(false)

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	ac.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the port is open
func (ac *ASCIIClient) IsOpen() bool {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()
	return ac.isOpen
}

// SetUnitID sets the default unit id
func (ac *ASCIIClient) SetUnitID(id uint8) {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()
	ac.unitID = id
	if ac.handler != nil {
		ac.handler.SlaveId = id
	}
}

// SetTimeout sets the exchange timeout
func (ac *ASCIIClient) SetTimeout(timeout time.Duration) {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()
	ac.timeout = timeout
	if ac.handler != nil {
		ac.handler.Timeout = timeout
	}
}

// Kind returns the client type and variant
func (ac *ASCIIClient) Kind() string {
	return config.ClientTypeSerial + "/" + config.SerialTypeASCII
}

// Read performs a read exchange
func (ac *ASCIIClient) Read(ctx context.Context, unitID uint8, fc model.FunctionCode, address, quantity uint16) (*model.Response, error) {
	// the handler's slave id is mutated per exchange
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if err := ac.prepare(ctx, unitID); err != nil {
		return nil, err
	}

	var (
		raw []byte
		err error
	)
	start := time.Now()

	switch fc {
	case model.FuncReadCoils:
		raw, err = ac.client.ReadCoils(address, quantity)
	case model.FuncReadDiscreteInputs:
		raw, err = ac.client.ReadDiscreteInputs(address, quantity)
	case model.FuncReadHoldingRegisters:
		raw, err = ac.client.ReadHoldingRegisters(address, quantity)
	case model.FuncReadInputRegisters:
		raw, err = ac.client.ReadInputRegisters(address, quantity)
	default:
		return nil, fmt.Errorf("%w: function code %d", model.ErrInvalidRequest, fc)
	}
	ac.record(time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("failed to read fc %d at %d: %w", fc, address, translateASCIIError(err))
	}

	resp := &model.Response{UnitID: unitID, FunctionCode: fc, Address: address, Quantity: quantity}
	if fc.IsBitAccess() {
		resp.Coils = bytesToBits(raw, int(quantity))
	} else {
		resp.Registers = bytesToRegisters(raw)
	}
	return resp, nil
}

// Write performs a write exchange
func (ac *ASCIIClient) Write(ctx context.Context, unitID uint8, fc model.FunctionCode, address uint16, values model.Values) (*model.Response, error) {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if err := ac.prepare(ctx, unitID); err != nil {
		return nil, err
	}

	quantity := uint16(values.Quantity(fc))
	var err error
	start := time.Now()

	switch fc {
	case model.FuncWriteSingleCoil:
		var v uint16
		if values.Coils[0] {
			v = 0xFF00
		}
		_, err = ac.client.WriteSingleCoil(address, v)
	case model.FuncWriteSingleRegister:
		_, err = ac.client.WriteSingleRegister(address, values.Registers[0])
	case model.FuncWriteMultipleCoils:
		_, err = ac.client.WriteMultipleCoils(address, quantity, bitsToBytes(values.Coils))
	case model.FuncWriteMultipleRegisters:
		_, err = ac.client.WriteMultipleRegisters(address, quantity, registersToBytes(values.Registers))
	default:
		return nil, fmt.Errorf("%w: function code %d", model.ErrInvalidRequest, fc)
	}
	ac.record(time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("failed to write fc %d at %d: %w", fc, address, translateASCIIError(err))
	}

	return &model.Response{UnitID: unitID, FunctionCode: fc, Address: address, Quantity: quantity}, nil
}

// prepare must be called with the lock held
func (ac *ASCIIClient) prepare(ctx context.Context, unitID uint8) error {
	if !ac.isOpen || ac.handler == nil {
		return ErrPortNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ac.handler.SlaveId = unitID
	return nil
}

func translateASCIIError(err error) error {
	var exception *modbus.ModbusError
	if errors.As(err, &exception) {
		return fmt.Errorf("%w: %w", ErrDeviceException, err)
	}
	return err
}
