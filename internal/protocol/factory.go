// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"modbus-connector/internal/config"
)

// TransportFactory creates transports for a connection configuration
type TransportFactory func(cfg *config.ConnectionConfig, logger *zap.Logger) (Transport, error)

// TransportKey uniquely identifies a transport implementation
type TransportKey struct {
	ClientType string
	Variant    string
}

// String returns "clienttype/variant"
func (k TransportKey) String() string {
	return k.ClientType + "/" + k.Variant
}

// Registry manages transport registration and creation
type Registry struct {
	factories map[TransportKey]TransportFactory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates a new transport registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[TransportKey]TransportFactory),
		logger:    logger,
	}
}

// NewDefaultRegistry creates a registry with every built-in transport registered
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	RegisterDefaultTransports(r)
	return r
}

// RegisterDefaultTransports registers the built-in TCP and serial transports
func RegisterDefaultTransports(r *Registry) {
	modbusClient := func(cfg *config.ConnectionConfig, logger *zap.Logger) (Transport, error) {
		return NewModbusClient(cfg, logger)
	}
	asciiClient := func(cfg *config.ConnectionConfig, logger *zap.Logger) (Transport, error) {
		return NewASCIIClient(cfg, logger)
	}

	for _, variant := range []string{
		config.TCPTypeDefault,
		config.TCPTypeTelnet,
		config.TCPTypeRTUBuffered,
		config.TCPTypeC701,
	} {
		r.Register(config.ClientTypeTCP, variant, modbusClient)
	}

	r.Register(config.ClientTypeSerial, config.SerialTypeRTU, modbusClient)
	r.Register(config.ClientTypeSerial, config.SerialTypeRTUBuffered, modbusClient)
	r.Register(config.ClientTypeSerial, config.SerialTypeASCII, asciiClient)
}

// Register registers a transport factory for one client type and variant
func (r *Registry) Register(clientType, variant string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := TransportKey{ClientType: clientType, Variant: variant}
	r.factories[key] = factory

	r.logger.Debug("Transport registered",
		zap.String("client_type", clientType),
		zap.String("variant", variant),
	)
}

// CreateTransport creates a transport for the connection
func (r *Registry) CreateTransport(cfg *config.ConnectionConfig) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := TransportKey{ClientType: cfg.ClientType, Variant: cfg.Variant()}
	if factory, exists := r.factories[key]; exists {
		return factory(cfg, r.logger)
	}

	return nil, fmt.Errorf("%w: client type %s variant %s", ErrUnsupportedTransport, cfg.ClientType, cfg.Variant())
}

// ListTransports returns all registered transport keys in stable order
func (r *Registry) ListTransports() []TransportKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]TransportKey, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// IsSupported checks if a transport is registered for the client type and variant
func (r *Registry) IsSupported(clientType, variant string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[TransportKey{ClientType: clientType, Variant: variant}]
	return exists
}
