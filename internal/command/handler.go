// Package command implements the control socket of a running probe.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firestige.xyz/tcpgeek/internal/pipeline"
)

// Methods served over the control socket.
const (
	MethodStatus = "engine.status"
	MethodStop   = "engine.stop"
)

// Controller is the engine as seen by the control socket.
type Controller interface {
	Status() pipeline.Status
	Stop(reason error)
}

// CommandHandler handles control commands.
type CommandHandler struct {
	engine  Controller
	version string
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(engine Controller, version string) *CommandHandler {
	return &CommandHandler{engine: engine, version: version}
}

// Command represents a control command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// StatusResult is the result of engine.status.
type StatusResult struct {
	Version string          `json:"version"`
	Engine  pipeline.Status `json:"engine"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(_ context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodStatus:
		return Response{
			ID:     cmd.ID,
			Result: StatusResult{Version: h.version, Engine: h.engine.Status()},
		}
	case MethodStop:
		slog.Info("engine.stop command received, initiating graceful shutdown")
		// the response goes out before the drain starts
		go h.engine.Stop(nil)
		return Response{
			ID:     cmd.ID,
			Result: map[string]interface{}{"status": "stopping"},
		}
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}
