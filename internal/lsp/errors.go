package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP session.
var (
	// ErrNotStarted indicates the server has not been started.
	ErrNotStarted = errors.New("lsp server not started")

	// ErrAlreadyStarted indicates the server is already running.
	ErrAlreadyStarted = errors.New("lsp server already started")

	// ErrShutdown indicates the transport or server has been shut down.
	ErrShutdown = errors.New("lsp session shut down")

	// ErrServerNotReady indicates the server is not ready to handle requests.
	ErrServerNotReady = errors.New("server not ready")

	// ErrTimeout indicates a request timed out.
	ErrTimeout = errors.New("request timed out")

	// ErrServerCrashed indicates the server process terminated unexpectedly.
	ErrServerCrashed = errors.New("server crashed")

	// ErrInvalidResponse indicates an invalid response from the server.
	ErrInvalidResponse = errors.New("invalid response from server")

	errMissingContentLength = errors.New("missing Content-Length header")
)

// IsSessionGone reports whether err means there is no live session to talk to.
func IsSessionGone(err error) bool {
	return errors.Is(err, ErrNotStarted) ||
		errors.Is(err, ErrShutdown) ||
		errors.Is(err, ErrServerNotReady) ||
		errors.Is(err, ErrServerCrashed)
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// toRPCError converts a handler error into a wire error.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RPCError{Code: CodeInternalError, Message: err.Error()}
}

// ServerError represents an error related to server lifecycle.
type ServerError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
