// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// Port describes a serial port usable as a Modbus RTU/ASCII line
type Port struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	// Busy is set when Probe could not open the port
	Busy bool `json:"busy"`
}

// Config for serial scanner
type Config struct {
	PortPatterns []string
	Probe        bool
	BaudRate     int
}

// Scanner enumerates local serial ports
type Scanner struct {
	logger *zap.Logger
	config *Config

	// replaced in tests
	list func() ([]*enumerator.PortDetails, error)
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if len(config.PortPatterns) == 0 {
		config.PortPatterns = DefaultPortPatterns()
	}
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		config: config,
		list:   enumerator.GetDetailedPortsList,
		open:   serial.Open,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// Scan lists the serial ports matching the configured patterns
func (s *Scanner) Scan(ctx context.Context) ([]Port, error) {
	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]Port, 0, len(details))
	for _, d := range details {
		if err := ctx.Err(); err != nil {
			return ports, err
		}
		if !s.matches(d.Name) {
			continue
		}

		port := Port{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if s.config.Probe {
			port.Busy = !s.probe(d.Name)
		}
		ports = append(ports, port)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	s.logger.Info("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) probe(name string) bool {
	p, err := s.open(name, &serial.Mode{BaudRate: s.config.BaudRate})
	if err != nil {
		s.logger.Debug("Port not available", zap.String("port", name), zap.Error(err))
		return false
	}
	if err := p.Close(); err != nil {
		s.logger.Debug("Failed to close probed port", zap.String("port", name), zap.Error(err))
	}
	return true
}

func (s *Scanner) matches(name string) bool {
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// DefaultPortPatterns returns the usual serial device names for the running OS
func DefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM*"}
	case "darwin":
		return []string{"/dev/tty.*", "/dev/cu.*"}
	default:
		return []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*", "/dev/serial/by-id/*"}
	}
}
