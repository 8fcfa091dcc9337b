// internal/service/connection_service.go
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/connection"
	"modbus-connector/internal/model"
	"modbus-connector/internal/utils"
)

// ConnectionService owns the process-wide consumer registration and the connection lifecycle
// operations exposed to the API
type ConnectionService struct {
	manager    *connection.Manager
	config     *config.Config
	consumerID string
	logger     *utils.ServiceLogger
}

// NewConnectionService creates a new connection service instance
func NewConnectionService(manager *connection.Manager, config *config.Config, logger *zap.Logger) *ConnectionService {
	consumerID := config.App.ConsumerID
	if consumerID == "" {
		consumerID = config.App.Name
	}
	return &ConnectionService{
		manager:    manager,
		config:     config,
		consumerID: consumerID,
		logger:     utils.NewServiceLogger(logger, "connection-service"),
	}
}

// Start registers the service as a consumer of every configured connection
func (cs *ConnectionService) Start() error {
	var errs []error
	for _, name := range cs.manager.Names() {
		if _, err := cs.manager.Register(name, cs.consumerID); err != nil {
			errs = append(errs, err)
			continue
		}
		cs.logger.Info("Connection started",
			zap.String("connection", name),
			zap.String("consumer_id", cs.consumerID),
		)
	}
	return errors.Join(errs...)
}

// Stop deregisters the service and closes every connection
func (cs *ConnectionService) Stop(ctx context.Context) error {
	var errs []error
	for _, conn := range cs.manager.List() {
		if err := cs.manager.Deregister(ctx, conn.Name(), cs.consumerID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cs.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// List returns a status snapshot of every live connection
func (cs *ConnectionService) List() []model.ConnectionInfo {
	connections := cs.manager.List()
	infos := make([]model.ConnectionInfo, 0, len(connections))
	for _, conn := range connections {
		infos = append(infos, conn.Info())
	}
	return infos
}

// Get returns the status snapshot of one connection
func (cs *ConnectionService) Get(name string) (*model.ConnectionInfo, error) {
	conn, err := cs.manager.Connection(name)
	if err != nil {
		return nil, err
	}
	info := conn.Info()
	return &info, nil
}

// Reconnect restarts the link of a connection
func (cs *ConnectionService) Reconnect(name string) error {
	conn, err := cs.manager.Connection(name)
	if err != nil {
		return err
	}
	if err := conn.Reconnect(); err != nil {
		return fmt.Errorf("failed to reconnect %s: %w", name, err)
	}
	cs.logger.Info("Reconnect requested", zap.String("connection", name))
	return nil
}

// ApplyConfig applies a reloaded configuration. Changed connections are reconnected with their
// new settings; connections added to the file are started.
func (cs *ConnectionService) ApplyConfig(cfg *config.Config) error {
	current := make(map[string]bool)
	for _, name := range cs.manager.Names() {
		current[name] = true
	}

	var errs []error
	for _, connCfg := range cfg.Connections {
		old, known := cs.config.Connection(connCfg.Name)
		connCfg.ApplyDefaults()
		if known && current[connCfg.Name] && equalConfig(old, connCfg) {
			continue
		}

		if err := cs.manager.Reconfigure(connCfg); err != nil {
			errs = append(errs, err)
			continue
		}

		if !current[connCfg.Name] {
			if _, err := cs.manager.Register(connCfg.Name, cs.consumerID); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		cs.logger.Info("Connection settings applied",
			zap.String("connection", connCfg.Name),
			zap.String("server_info", connCfg.ServerInfo()),
		)
	}

	cs.config.Connections = cfg.Connections
	return errors.Join(errs...)
}

func equalConfig(a, b config.ConnectionConfig) bool {
	a.ApplyDefaults()
	b.ApplyDefaults()
	return a.ServerInfo() == b.ServerInfo() &&
		a.UnitID == b.UnitID &&
		a.ClientType == b.ClientType &&
		a.Variant() == b.Variant() &&
		a.Serial == b.Serial &&
		a.TCP == b.TCP &&
		a.CommandDelay == b.CommandDelay &&
		a.ClientTimeout == b.ClientTimeout &&
		a.ReconnectTimeout == b.ReconnectTimeout &&
		a.StartupDelay == b.StartupDelay &&
		a.ReconnectsOnTimeout() == b.ReconnectsOnTimeout() &&
		a.Buffered() == b.Buffered() &&
		a.ParallelUnitIDs() == b.ParallelUnitIDs() &&
		a.QueueLogEnabled == b.QueueLogEnabled &&
		a.StateLogEnabled == b.StateLogEnabled
}
