// internal/connection/metrics.go
package connection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"modbus-connector/internal/model"
)

// Metrics collects connection lifecycle and command metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	state           *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	reconnects      *prometheus.CounterVec
}

// NewMetrics registers the connection metrics on reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "state",
				Help:      "Current connection state (1 for the active state)",
			},
			[]string{"connection", "state"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "transitions_total",
				Help:      "Total number of state transitions",
			},
			[]string{"connection", "from", "to"},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "invalid_triggers_total",
				Help:      "Total number of triggers ignored because the state did not accept them",
			},
			[]string{"connection", "state", "trigger"},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "commands_total",
				Help:      "Total number of commands by outcome",
			},
			[]string{"connection", "kind", "outcome"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "command_duration_seconds",
				Help:      "Duration of dispatched commands in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"connection", "function_code"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "queue_depth",
				Help:      "Number of buffered commands waiting for dispatch",
			},
			[]string{"connection"},
		),
		reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of reconnect cycles started",
			},
			[]string{"connection"},
		),
	}
}

func (m *Metrics) observeTransition(connection string, from, to model.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(connection, string(from), string(to)).Inc()
	for _, s := range model.AllStates {
		value := 0.0
		if s == to {
			value = 1
		}
		m.state.WithLabelValues(connection, string(s)).Set(value)
	}
}

func (m *Metrics) observeInvalidTrigger(connection string, state model.State, trigger model.Trigger) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(connection, string(state), string(trigger)).Inc()
}

func (m *Metrics) observeCommand(connection string, cmd *Command, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(connection, string(cmd.Kind), outcome).Inc()
	if duration > 0 {
		m.commandDuration.WithLabelValues(connection, fcLabel(cmd.FunctionCode)).Observe(duration.Seconds())
	}
}

func (m *Metrics) setQueueDepth(connection string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(connection).Set(float64(depth))
}

func (m *Metrics) observeReconnect(connection string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(connection).Inc()
}

// forget drops the series of a destroyed connection
func (m *Metrics) forget(connection string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"connection": connection}
	m.state.DeletePartialMatch(labels)
	m.transitions.DeletePartialMatch(labels)
	m.rejected.DeletePartialMatch(labels)
	m.commands.DeletePartialMatch(labels)
	m.commandDuration.DeletePartialMatch(labels)
	m.queueDepth.DeletePartialMatch(labels)
	m.reconnects.DeletePartialMatch(labels)
}

func fcLabel(fc model.FunctionCode) string {
	switch fc {
	case model.FuncReadCoils:
		return "read_coils"
	case model.FuncReadDiscreteInputs:
		return "read_discrete_inputs"
	case model.FuncReadHoldingRegisters:
		return "read_holding_registers"
	case model.FuncReadInputRegisters:
		return "read_input_registers"
	case model.FuncWriteSingleCoil:
		return "write_single_coil"
	case model.FuncWriteSingleRegister:
		return "write_single_register"
	case model.FuncWriteMultipleCoils:
		return "write_multiple_coils"
	case model.FuncWriteMultipleRegisters:
		return "write_multiple_registers"
	default:
		return "unknown"
	}
}
