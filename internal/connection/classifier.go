// internal/connection/classifier.go
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
)

// ErrorClass tells the connection how to react to a transport error
type ErrorClass int

const (
	// ClassProtocolLocal errors are reported to the caller only
	ClassProtocolLocal ErrorClass = iota
	// ClassRecoverable errors break the link and start the reconnect cycle
	ClassRecoverable
	// ClassFatal errors fail the connection until it is reconfigured
	ClassFatal
)

// String returns the class name
func (c ErrorClass) String() string {
	switch c {
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	default:
		return "protocol_local"
	}
}

var recoverableErrnos = []syscall.Errno{
	syscall.ETIMEDOUT,
	syscall.ECONNRESET,
	syscall.ENETRESET,
	syscall.ECONNABORTED,
	syscall.ECONNREFUSED,
	syscall.ENETUNREACH,
	syscall.ENOTCONN,
	syscall.ESHUTDOWN,
	syscall.EHOSTDOWN,
	syscall.ENETDOWN,
	syscall.EWOULDBLOCK,
	syscall.EAGAIN,
	syscall.EHOSTUNREACH,
	syscall.EPIPE,
}

// lower-cased fragments for libraries that flatten errors into strings
var recoverableMessages = []string{
	"timed out",
	"timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no route to host",
	"network is unreachable",
	"port not open",
	"use of closed network connection",
}

var fatalErrors = []error{
	ErrInvalidUnitID,
	ErrMissingSerialPort,
	protocol.ErrInvalidConfig,
	protocol.ErrUnsupportedTransport,
}

var recoverableErrors = []error{
	protocol.ErrTimeout,
	protocol.ErrPortNotOpen,
	context.DeadlineExceeded,
	os.ErrDeadlineExceeded,
	io.EOF,
	io.ErrUnexpectedEOF,
	net.ErrClosed,
}

// Classify maps an error raised by a transport onto the reaction it requires
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassProtocolLocal
	}

	var connErr *Error
	if errors.As(err, &connErr) && connErr.Kind == KindConfiguration {
		return ClassFatal
	}
	for _, target := range fatalErrors {
		if errors.Is(err, target) {
			return ClassFatal
		}
	}

	// device answered, the link is fine
	if errors.Is(err, protocol.ErrDeviceException) || errors.Is(err, model.ErrInvalidRequest) {
		return ClassProtocolLocal
	}

	for _, target := range recoverableErrors {
		if errors.Is(err, target) {
			return ClassRecoverable
		}
	}
	for _, errno := range recoverableErrnos {
		if errors.Is(err, errno) {
			return ClassRecoverable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRecoverable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassRecoverable
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range recoverableMessages {
		if strings.Contains(msg, fragment) {
			return ClassRecoverable
		}
	}

	return ClassProtocolLocal
}
