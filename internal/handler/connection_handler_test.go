package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-connector/internal/connection"
	"modbus-connector/internal/model"
	"modbus-connector/internal/protocol"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown connection", fmt.Errorf("%w: plc", connection.ErrUnknownConnection), http.StatusNotFound},
		{"invalid transition", connection.ErrInvalidTransition, http.StatusConflict},
		{"invalid request", fmt.Errorf("%w: quantity", model.ErrInvalidRequest), http.StatusBadRequest},
		{"not ready", &connection.Error{Kind: connection.KindQueueState, Err: connection.ErrNotReady}, http.StatusServiceUnavailable},
		{"configuration", &connection.Error{Kind: connection.KindConfiguration, Err: errors.New("bad unit")}, http.StatusUnprocessableEntity},
		{"transport", &connection.Error{Kind: connection.KindTransport, Err: protocol.ErrTimeout}, http.StatusBadGateway},
		{"device exception", &connection.Error{Kind: connection.KindProtocol, Err: protocol.ErrDeviceException}, http.StatusBadGateway},
		{"other protocol", &connection.Error{Kind: connection.KindProtocol, Err: errors.New("short frame")}, http.StatusBadRequest},
		{"deadline", fmt.Errorf("read on plc failed: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestListAndGetConnections(t *testing.T) {
	s := newTestServer(t, tcpConnection("plc"))
	s.waitReady(t, "plc")

	w, resp := s.do(t, http.MethodGet, "/api/v1/connections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])

	w, resp = s.do(t, http.MethodGet, "/api/v1/connections/plc", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := resp.Data.(map[string]interface{})
	assert.Equal(t, "plc", info["name"])
	assert.Equal(t, "TCP@127.0.0.1:502 default unit 1", info["server_info"])

	w, resp = s.do(t, http.MethodGet, "/api/v1/connections/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestReadEndpoint(t *testing.T) {
	s := newTestServer(t, tcpConnection("plc"))
	s.waitReady(t, "plc")

	w, resp := s.do(t, http.MethodPost, "/api/v1/connections/plc/read", `{"data_type":"HoldingRegister","address":100,"quantity":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := resp.Data.(map[string]interface{})
	response := data["response"].(map[string]interface{})
	assert.EqualValues(t, 3, response["function_code"])
	assert.Len(t, response["registers"], 2)

	require.Eventually(t, func() bool {
		_, resp := s.do(t, http.MethodGet, "/api/v1/connections/plc", "")
		info, ok := resp.Data.(map[string]interface{})
		if !ok {
			return false
		}
		stats, ok := info["transport"].(map[string]interface{})
		return ok && stats["request_count"] == float64(1) && stats["is_connected"] == true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReadEndpointValidation(t *testing.T) {
	s := newTestServer(t, tcpConnection("plc"))
	s.waitReady(t, "plc")

	w, resp := s.do(t, http.MethodPost, "/api/v1/connections/plc/read", `{"address":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/connections/plc/read", `{"quantity":1,"function_code":16}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/connections/plc/read", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteEndpointDeviceException(t *testing.T) {
	s := newTestServer(t, tcpConnection("plc"))
	s.waitReady(t, "plc")
	s.factory.Transport("plc").FailWith(fmt.Errorf("%w: illegal data value", protocol.ErrDeviceException))

	w, resp := s.do(t, http.MethodPost, "/api/v1/connections/plc/write", `{"address":1,"registers":[1]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "DEVICE_ERROR", resp.Error.Code)
}

func TestReconnectEndpoint(t *testing.T) {
	s := newTestServer(t, tcpConnection("plc"))
	s.waitReady(t, "plc")

	w, _ := s.do(t, http.MethodPost, "/api/v1/connections/plc/reconnect", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/connections/missing/reconnect", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
