// internal/service/operation_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/model"
	"modbus-connector/internal/utils"
)

// OperationService runs reads and writes against managed connections
type OperationService struct {
	manager *connection.Manager
	config  *config.Config
	logger  *utils.ServiceLogger
}

// NewOperationService creates a new operation service instance
func NewOperationService(manager *connection.Manager, config *config.Config, logger *zap.Logger) *OperationService {
	return &OperationService{
		manager: manager,
		config:  config,
		logger:  utils.NewServiceLogger(logger, "operation-service"),
	}
}

// Read submits a read and waits for its result
func (os *OperationService) Read(ctx context.Context, name string, req *ReadRequest) (*OperationResponse, error) {
	fc, err := req.functionCode()
	if err != nil {
		return nil, err
	}

	conn, err := os.manager.Connection(name)
	if err != nil {
		return nil, err
	}

	operationID := uuid.New()
	opLogger := utils.NewOperationLogger(os.logger.Logger, string(model.OperationRead), operationID.String())
	opLogger.Start(
		zap.String("connection", name),
		zap.Uint8("function_code", uint8(fc)),
		zap.Uint16("address", req.Address),
		zap.Uint16("quantity", req.Quantity),
	)

	future := conn.SubmitRead(model.ReadRequest{
		UnitID:       req.UnitID,
		FunctionCode: fc,
		Address:      req.Address,
		Quantity:     req.Quantity,
	})

	return os.wait(ctx, operationID, name, model.OperationRead, future, opLogger)
}

// Write submits a write and waits for its result
func (os *OperationService) Write(ctx context.Context, name string, req *WriteRequest) (*OperationResponse, error) {
	fc, err := req.functionCode()
	if err != nil {
		return nil, err
	}

	conn, err := os.manager.Connection(name)
	if err != nil {
		return nil, err
	}

	operationID := uuid.New()
	opLogger := utils.NewOperationLogger(os.logger.Logger, string(model.OperationWrite), operationID.String())
	opLogger.Start(
		zap.String("connection", name),
		zap.Uint8("function_code", uint8(fc)),
		zap.Uint16("address", req.Address),
	)

	future := conn.SubmitWrite(model.WriteRequest{
		UnitID:       req.UnitID,
		FunctionCode: fc,
		Address:      req.Address,
		Values:       model.Values{Registers: req.Registers, Coils: req.Coils},
	})

	return os.wait(ctx, operationID, name, model.OperationWrite, future, opLogger)
}

func (os *OperationService) wait(
	ctx context.Context,
	operationID uuid.UUID,
	name string,
	kind model.OperationKind,
	future *connection.Future,
	opLogger *utils.OperationLogger,
) (*OperationResponse, error) {
	startTime := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, os.getOperationTimeout())
	defer cancel()

	resp, err := future.Wait(execCtx)
	if err != nil {
		opLogger.Error(err)
		return nil, fmt.Errorf("%s on %s failed: %w", kind, name, err)
	}

	opLogger.Success(zap.Uint8("unit_id", resp.UnitID))
	return &OperationResponse{
		OperationID: operationID,
		Connection:  name,
		Operation:   kind,
		Response:    resp,
		Duration:    time.Since(startTime).String(),
		CompletedAt: time.Now(),
	}, nil
}

// getOperationTimeout returns how long a caller waits for a command result
func (os *OperationService) getOperationTimeout() time.Duration {
	if os.config != nil && os.config.Server.RequestTimeout > 0 {
		return os.config.Server.RequestTimeout
	}
	return 10 * time.Second
}

// ReadRequest is the API form of a read. DataType is used when FunctionCode is zero.
type ReadRequest struct {
	UnitID       *int   `json:"unit_id,omitempty"`
	FunctionCode int    `json:"function_code,omitempty"`
	DataType     string `json:"data_type,omitempty"`
	Address      uint16 `json:"address"`
	Quantity     uint16 `json:"quantity" binding:"required"`
}

func (r *ReadRequest) functionCode() (model.FunctionCode, error) {
	switch {
	case r.FunctionCode != 0:
		fc := model.FunctionCode(r.FunctionCode)
		if !fc.IsRead() {
			return 0, fmt.Errorf("%w: function code %d is not a read", model.ErrInvalidRequest, r.FunctionCode)
		}
		return fc, nil
	case r.DataType != "":
		return model.ReadFunctionCode(r.DataType)
	default:
		return model.FuncReadHoldingRegisters, nil
	}
}

// WriteRequest is the API form of a write. DataType is used when FunctionCode is zero.
type WriteRequest struct {
	UnitID       *int     `json:"unit_id,omitempty"`
	FunctionCode int      `json:"function_code,omitempty"`
	DataType     string   `json:"data_type,omitempty"`
	Address      uint16   `json:"address"`
	Registers    []uint16 `json:"registers,omitempty"`
	Coils        []bool   `json:"coils,omitempty"`
}

func (r *WriteRequest) functionCode() (model.FunctionCode, error) {
	switch {
	case r.FunctionCode != 0:
		fc := model.FunctionCode(r.FunctionCode)
		if !fc.IsWrite() {
			return 0, fmt.Errorf("%w: function code %d is not a write", model.ErrInvalidRequest, r.FunctionCode)
		}
		return fc, nil
	case r.DataType != "":
		return model.WriteFunctionCode(r.DataType)
	case len(r.Coils) > 0:
		return model.FuncWriteMultipleCoils, nil
	default:
		return model.FuncWriteMultipleRegisters, nil
	}
}

// OperationResponse is the result of a completed read or write
type OperationResponse struct {
	OperationID uuid.UUID           `json:"operation_id"`
	Connection  string              `json:"connection"`
	Operation   model.OperationKind `json:"operation"`
	Response    *model.Response     `json:"response"`
	Duration    string              `json:"duration"`
	CompletedAt time.Time           `json:"completed_at"`
}
