// internal/model/command.go
package model

import (
	"errors"
	"fmt"
	"strings"
)

// FunctionCode is a Modbus function code
type FunctionCode uint8

const (
	FuncReadCoils              FunctionCode = 1
	FuncReadDiscreteInputs     FunctionCode = 2
	FuncReadHoldingRegisters   FunctionCode = 3
	FuncReadInputRegisters     FunctionCode = 4
	FuncWriteSingleCoil        FunctionCode = 5
	FuncWriteSingleRegister    FunctionCode = 6
	FuncWriteMultipleCoils     FunctionCode = 15
	FuncWriteMultipleRegisters FunctionCode = 16
)

// Protocol quantity limits
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)

// Unit id ranges per client type
const (
	MinTCPUnitID    = 0
	MaxTCPUnitID    = 255
	MinSerialUnitID = 1
	MaxSerialUnitID = 247
)

// ErrInvalidRequest is returned for malformed read or write requests
var ErrInvalidRequest = errors.New("invalid modbus request")

// OperationKind distinguishes reads from writes
type OperationKind string

const (
	OperationRead  OperationKind = "READ"
	OperationWrite OperationKind = "WRITE"
)

// IsRead reports whether the function code reads data
func (fc FunctionCode) IsRead() bool {
	return fc >= FuncReadCoils && fc <= FuncReadInputRegisters
}

// IsWrite reports whether the function code writes data
func (fc FunctionCode) IsWrite() bool {
	switch fc {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return true
	}
	return false
}

// IsBitAccess reports whether the function code addresses coils or discrete inputs
func (fc FunctionCode) IsBitAccess() bool {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncWriteSingleCoil, FuncWriteMultipleCoils:
		return true
	}
	return false
}

// ReadFunctionCode maps a data type name to its read function code
func ReadFunctionCode(dataType string) (FunctionCode, error) {
	switch strings.TrimSpace(dataType) {
	case "Coil":
		return FuncReadCoils, nil
	case "Input":
		return FuncReadDiscreteInputs, nil
	case "HoldingRegister":
		return FuncReadHoldingRegisters, nil
	case "InputRegister":
		return FuncReadInputRegisters, nil
	default:
		return 0, fmt.Errorf("%w: unknown read data type %q", ErrInvalidRequest, dataType)
	}
}

// WriteFunctionCode maps a data type name to its write function code
func WriteFunctionCode(dataType string) (FunctionCode, error) {
	switch strings.TrimSpace(dataType) {
	case "Coil":
		return FuncWriteSingleCoil, nil
	case "HoldingRegister":
		return FuncWriteSingleRegister, nil
	case "MCoils":
		return FuncWriteMultipleCoils, nil
	case "MHoldingRegisters":
		return FuncWriteMultipleRegisters, nil
	default:
		return 0, fmt.Errorf("%w: unknown write data type %q", ErrInvalidRequest, dataType)
	}
}

// ValidUnitID reports whether id is addressable on the given client type
func ValidUnitID(serial bool, id int) bool {
	if serial {
		return id >= MinSerialUnitID && id <= MaxSerialUnitID
	}
	return id >= MinTCPUnitID && id <= MaxTCPUnitID
}

// ReadRequest asks for a block of coils, inputs or registers
type ReadRequest struct {
	// UnitID overrides the connection default when set
	UnitID       *int         `json:"unit_id,omitempty"`
	FunctionCode FunctionCode `json:"function_code"`
	Address      uint16       `json:"address"`
	Quantity     uint16       `json:"quantity"`
}

// Validate checks the function code and quantity limits
func (r ReadRequest) Validate() error {
	if !r.FunctionCode.IsRead() {
		return fmt.Errorf("%w: function code %d is not a read", ErrInvalidRequest, r.FunctionCode)
	}
	limit := uint16(MaxReadRegisters)
	if r.FunctionCode.IsBitAccess() {
		limit = MaxReadBits
	}
	if r.Quantity == 0 || r.Quantity > limit {
		return fmt.Errorf("%w: quantity %d outside 1..%d", ErrInvalidRequest, r.Quantity, limit)
	}
	if int(r.Address)+int(r.Quantity) > 0x10000 {
		return fmt.Errorf("%w: address range overflows", ErrInvalidRequest)
	}
	return nil
}

// Values carries the payload of a write
type Values struct {
	Registers []uint16 `json:"registers,omitempty"`
	Coils     []bool   `json:"coils,omitempty"`
}

// Quantity returns the number of items carried
func (v Values) Quantity(fc FunctionCode) int {
	if fc.IsBitAccess() {
		return len(v.Coils)
	}
	return len(v.Registers)
}

// WriteRequest writes coils or registers
type WriteRequest struct {
	UnitID       *int         `json:"unit_id,omitempty"`
	FunctionCode FunctionCode `json:"function_code"`
	Address      uint16       `json:"address"`
	Values       Values       `json:"values"`
}

// Validate checks the function code against the payload
func (r WriteRequest) Validate() error {
	n := r.Values.Quantity(r.FunctionCode)
	switch r.FunctionCode {
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		if n != 1 {
			return fmt.Errorf("%w: function code %d writes exactly one value, got %d", ErrInvalidRequest, r.FunctionCode, n)
		}
	case FuncWriteMultipleCoils:
		if n == 0 || n > MaxWriteBits {
			return fmt.Errorf("%w: coil count %d outside 1..%d", ErrInvalidRequest, n, MaxWriteBits)
		}
	case FuncWriteMultipleRegisters:
		if n == 0 || n > MaxWriteRegisters {
			return fmt.Errorf("%w: register count %d outside 1..%d", ErrInvalidRequest, n, MaxWriteRegisters)
		}
	default:
		return fmt.Errorf("%w: function code %d is not a write", ErrInvalidRequest, r.FunctionCode)
	}
	if int(r.Address)+n > 0x10000 {
		return fmt.Errorf("%w: address range overflows", ErrInvalidRequest)
	}
	return nil
}

// Response is the outcome of a dispatched command
type Response struct {
	UnitID       uint8        `json:"unit_id"`
	FunctionCode FunctionCode `json:"function_code"`
	Address      uint16       `json:"address"`
	Quantity     uint16       `json:"quantity"`
	Registers    []uint16     `json:"registers,omitempty"`
	Coils        []bool       `json:"coils,omitempty"`
}
