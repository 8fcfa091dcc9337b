// internal/connection/manager.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"modbus-connector/internal/config"
	"modbus-connector/internal/protocol"
)

// supportChecker is implemented by factories that know their transports up front
type supportChecker interface {
	IsSupported(clientType, variant string) bool
}

// Manager owns the named connections of the process. A connection is created when its first
// consumer registers and destroyed when its last consumer deregisters.
type Manager struct {
	configs     map[string]config.ConnectionConfig
	connections map[string]*Connection
	factory     TransportFactory
	notifier    Notifier
	metrics     *Metrics
	logger      *zap.Logger
	mutex       sync.RWMutex
}

// NewManager creates a manager for the configured connections
func NewManager(configs []config.ConnectionConfig, factory TransportFactory, logger *zap.Logger, notifier Notifier, metrics *Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		configs:     make(map[string]config.ConnectionConfig, len(configs)),
		connections: make(map[string]*Connection),
		factory:     factory,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		m.configs[cfg.Name] = cfg
	}
	return m
}

// Names returns the configured connection names in sorted order
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds consumerID to the named connection, creating the connection if needed
func (m *Manager) Register(name, consumerID string) (*Connection, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	conn, exists := m.connections[name]
	if !exists {
		cfg, ok := m.configs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
		}
		if err := m.checkSupported("register", cfg); err != nil {
			return nil, err
		}
		conn = New(cfg, m.factory,
			WithLogger(m.logger),
			WithNotifier(m.notifier),
			WithMetrics(m.metrics),
		)
		m.connections[name] = conn
		m.logger.Info("Connection created", zap.String("connection", name))
	}

	count, err := conn.Register(consumerID)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer %s on %s: %w", consumerID, name, err)
	}

	m.logger.Debug("Consumer registered",
		zap.String("connection", name),
		zap.String("consumer_id", consumerID),
		zap.Int("consumers", count),
	)
	return conn, nil
}

// Deregister removes consumerID from the named connection. The connection is closed and
// forgotten once no consumer remains.
func (m *Manager) Deregister(ctx context.Context, name, consumerID string) error {
	m.mutex.Lock()
	conn, exists := m.connections[name]
	if !exists {
		m.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}

	remaining, err := conn.Deregister(consumerID)
	if err != nil || remaining > 0 {
		m.mutex.Unlock()
		return err
	}
	delete(m.connections, name)
	m.mutex.Unlock()

	m.logger.Info("Destroying connection", zap.String("connection", name))
	err = conn.Close(ctx)
	m.metrics.forget(name)
	return err
}

// Connection returns the live connection with the given name
func (m *Manager) Connection(name string) (*Connection, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	conn, exists := m.connections[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	return conn, nil
}

// List returns the live connections sorted by name
func (m *Manager) List() []*Connection {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	list := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		list = append(list, conn)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Reconfigure stores cfg and applies it to the live connection of the same name.
// Unknown names are added to the configuration set.
func (m *Manager) Reconfigure(cfg config.ConnectionConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return &Error{Kind: KindConfiguration, Op: "reconfigure", Connection: cfg.Name, Err: err}
	}
	if err := m.checkSupported("reconfigure", cfg); err != nil {
		return err
	}

	m.mutex.Lock()
	m.configs[cfg.Name] = cfg
	conn, exists := m.connections[cfg.Name]
	m.mutex.Unlock()

	if !exists {
		return nil
	}
	return conn.Reconfigure(cfg)
}

func (m *Manager) checkSupported(op string, cfg config.ConnectionConfig) error {
	checker, ok := m.factory.(supportChecker)
	if !ok || checker.IsSupported(cfg.ClientType, cfg.Variant()) {
		return nil
	}
	return &Error{
		Kind:       KindConfiguration,
		Op:         op,
		Connection: cfg.Name,
		Err:        fmt.Errorf("%w: %s/%s", protocol.ErrUnsupportedTransport, cfg.ClientType, cfg.Variant()),
	}
}

// Shutdown closes every live connection
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mutex.Lock()
	connections := m.connections
	m.connections = make(map[string]*Connection)
	m.mutex.Unlock()

	var errs []error
	for name, conn := range connections {
		if err := conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
		m.metrics.forget(name)
	}

	m.logger.Info("All connections closed", zap.Int("count", len(connections)))
	return errors.Join(errs...)
}
