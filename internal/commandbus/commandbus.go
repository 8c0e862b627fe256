// Package commandbus implements the Command Bus façade of spec §4.13: a
// thin dispatch layer that maps a typed command to its registered handler
// and wraps every return in a uniform OperationResult, mirroring the
// Status-keyed branching internal/toolserr uses to collapse error variants
// into one shape.
package commandbus

import (
	"context"
	"fmt"
)

// Status enumerates the OperationResult variants named in §4.13.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusBadRequest         Status = "bad_request"
	StatusNotFound           Status = "not_found"
	StatusConflict           Status = "conflict"
	StatusForbidden          Status = "forbidden"
	StatusInternalError      Status = "internal_error"
	StatusServiceUnavailable Status = "service_unavailable"
)

// OperationResult is the only shape crossing the command bus boundary
// (§4.13): every handler outcome, success or failure, is wrapped in one of
// these before returning to the caller.
type OperationResult struct {
	Status Status
	Data   any
	Detail string
}

// Ok wraps a successful handler result.
func Ok(data any) OperationResult { return OperationResult{Status: StatusOK, Data: data} }

// BadRequest wraps a validation failure, optionally carrying a data payload
// alongside the detail message (§4.13 "errors with data payloads carry the
// payload alongside the status").
func BadRequest(detail string, data ...any) OperationResult {
	return withData(StatusBadRequest, detail, data)
}

// NotFound reports that the named resource type/id does not exist.
func NotFound(resourceType, id string) OperationResult {
	return OperationResult{Status: StatusNotFound, Detail: fmt.Sprintf("%s %q not found", resourceType, id)}
}

// Conflict reports a state conflict (e.g. duplicate registration).
func Conflict(msg string, data ...any) OperationResult {
	return withData(StatusConflict, msg, data)
}

// Forbidden reports that the caller is not permitted to perform the command.
func Forbidden(msg string) OperationResult {
	return OperationResult{Status: StatusForbidden, Detail: msg}
}

// InternalError reports an unexpected handler failure.
func InternalError(msg string, data ...any) OperationResult {
	return withData(StatusInternalError, msg, data)
}

// ServiceUnavailable reports that a downstream collaborator could not serve
// the request (e.g. an open circuit breaker, §4.9).
func ServiceUnavailable(msg string) OperationResult {
	return OperationResult{Status: StatusServiceUnavailable, Detail: msg}
}

func withData(status Status, detail string, data []any) OperationResult {
	r := OperationResult{Status: status, Detail: detail}
	if len(data) > 0 {
		r.Data = data[0]
	}
	return r
}

// IsError reports whether the result represents anything other than success.
func (r OperationResult) IsError() bool { return r.Status != StatusOK }

// Command identifies the command type dispatched through the bus; payloads
// are carried separately per handler registration (see Handler).
type Command string

// Handler executes one command type against its typed payload, returning
// the bus-level result. Each handler recovers its own payload type via a
// type assertion on payload and builds its own OperationResult; Bus.Dispatch
// only looks up the handler and passes the payload through.
type Handler func(ctx context.Context, payload any) OperationResult

// Bus dispatches typed commands to their registered handler (§4.13).
type Bus struct {
	handlers map[Command]Handler
}

// New constructs an empty Bus. Handlers are registered with Register.
func New() *Bus {
	return &Bus{handlers: make(map[Command]Handler)}
}

// Register binds a handler to a command type. Registering the same command
// type twice overwrites the previous handler.
func (b *Bus) Register(cmd Command, h Handler) {
	b.handlers[cmd] = h
}

// Dispatch looks up the handler for cmd and invokes it with payload,
// returning StatusNotFound if no handler is registered (§4.13: "a matching
// handler is registered per command type").
func (b *Bus) Dispatch(ctx context.Context, cmd Command, payload any) OperationResult {
	h, ok := b.handlers[cmd]
	if !ok {
		return NotFound("command", string(cmd))
	}
	return h(ctx, payload)
}
